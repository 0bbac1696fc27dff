package llm

import (
	"context"
	"encoding/json"
)

// 消息角色。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message 是会话中的一条消息。工具响应通过 ToolCallID 关联到触发它的
// 工具调用。
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall 是大模型请求执行的一次工具调用。Arguments 为 JSON 编码的
// 参数文本。
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool 描述暴露给大模型的一个工具。Parameters 是 JSON Schema。
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Complete(ctx context.Context, messages []Message, tools []Tool) (*Message, error)
}
