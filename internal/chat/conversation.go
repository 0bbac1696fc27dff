// Package chat 定义会话模型：一条只追加的消息日志加用户标识。
// 会话消息在每轮大模型补全与工具响应后追加，永不回退。
package chat

import (
	"context"
	"time"

	"SonicOnboard/internal/errors"
	"SonicOnboard/internal/llm"

	"github.com/google/uuid"
)

// CodeConversationNotFound 表示会话不存在。
const CodeConversationNotFound errors.Code = "CONVERSATION_NOT_FOUND"

func init() {
	errors.Register(CodeConversationNotFound, errors.Attributes{
		Message:  "conversation not found",
		Severity: errors.SeverityInfo,
	})
}

// ErrConversationNotFound 供调用方用 errors.Is 判断。
var ErrConversationNotFound = errors.New(CodeConversationNotFound, "")

// Conversation 是一个用户会话。
type Conversation struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Messages  []llm.Message `json:"messages"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// NewConversation 创建带初始消息的会话。
func NewConversation(userID string, messages []llm.Message) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Messages:  append([]llm.Message(nil), messages...),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append 追加一条消息。
func (c *Conversation) Append(message llm.Message) {
	c.Messages = append(c.Messages, message)
	c.UpdatedAt = time.Now().UTC()
}

// Clone 返回深拷贝，存储层用它实现读时复制。
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Messages = make([]llm.Message, len(c.Messages))
	for i, msg := range c.Messages {
		cloned := msg
		cloned.ToolCalls = append([]llm.ToolCall(nil), msg.ToolCalls...)
		clone.Messages[i] = cloned
	}
	return &clone
}

// Store 定义会话持久化边界。
type Store interface {
	CreateConversation(ctx context.Context, conversation *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	SaveConversation(ctx context.Context, conversation *Conversation) error
}
