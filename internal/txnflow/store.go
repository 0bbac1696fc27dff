package txnflow

import (
	"context"

	"SonicOnboard/internal/chat"
	"SonicOnboard/internal/errors"
)

// 供调用方用 errors.Is 判断的查询错误。
var (
	// ErrRequestNotFound 表示按 ID 查询的请求不存在。
	ErrRequestNotFound = errors.New(errors.CodeNotFound, "transaction request not found")
	// ErrNoPendingTransaction 表示会话当前没有 PROCESSING 请求。
	ErrNoPendingTransaction = errors.New(CodeNoPendingTransaction, "")
	// ErrMultiplePendingTransactions 表示会话存在多个 PROCESSING 请求，
	// 属于不变量被破坏，需要告警而不是当作普通未找到。
	ErrMultiplePendingTransactions = errors.New(CodeMultiplePendingTransaction, "")
)

// Store 定义请求持久化边界。
type Store interface {
	CreateRequest(ctx context.Context, request *Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	// ActiveRequest 返回会话当前唯一的 PROCESSING 请求。没有返回
	// ErrNoPendingTransaction，多于一个返回 ErrMultiplePendingTransactions。
	ActiveRequest(ctx context.Context, conversationID string) (*Request, error)
	SaveRequest(ctx context.Context, request *Request) error
	// SaveRequestWithConversation 原子地保存请求与会话，提交签名时
	// 保证消息日志与请求状态一起落盘。
	SaveRequestWithConversation(ctx context.Context, request *Request, conversation *chat.Conversation) error
}
