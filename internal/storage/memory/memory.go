// Package memory 提供进程内存储实现，开发与测试用。所有读操作返回
// 深拷贝，调用方修改返回值不会影响存储内的副本。
package memory

import (
	"context"
	"sync"

	"SonicOnboard/internal/chat"
	"SonicOnboard/internal/errors"
	"SonicOnboard/internal/txnflow"
)

// Store 同时实现 chat.Store 与 txnflow.Store。
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*chat.Conversation
	requests      map[string]*txnflow.Request
}

// New 创建空的内存存储。
func New() *Store {
	return &Store{
		conversations: make(map[string]*chat.Conversation),
		requests:      make(map[string]*txnflow.Request),
	}
}

// CreateConversation 写入新会话，ID 冲突返回 CONFLICT。
func (s *Store) CreateConversation(_ context.Context, conversation *chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conversations[conversation.ID]; exists {
		return errors.New(errors.CodeConflict, "conversation already exists")
	}
	s.conversations[conversation.ID] = conversation.Clone()
	return nil
}

// GetConversation 按 ID 取回会话。
func (s *Store) GetConversation(_ context.Context, id string) (*chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conversation, ok := s.conversations[id]
	if !ok {
		return nil, chat.ErrConversationNotFound
	}
	return conversation.Clone(), nil
}

// SaveConversation 覆盖保存会话。
func (s *Store) SaveConversation(_ context.Context, conversation *chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversation.ID]; !ok {
		return chat.ErrConversationNotFound
	}
	s.conversations[conversation.ID] = conversation.Clone()
	return nil
}

// CreateRequest 写入新请求，ID 冲突返回 CONFLICT。
func (s *Store) CreateRequest(_ context.Context, request *txnflow.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[request.ID]; exists {
		return errors.New(errors.CodeConflict, "transaction request already exists")
	}
	s.requests[request.ID] = request.Clone()
	return nil
}

// GetRequest 按 ID 取回请求。
func (s *Store) GetRequest(_ context.Context, id string) (*txnflow.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	request, ok := s.requests[id]
	if !ok {
		return nil, txnflow.ErrRequestNotFound
	}
	return request.Clone(), nil
}

// ActiveRequest 扫描会话下的 PROCESSING 请求，必须恰好一个。
func (s *Store) ActiveRequest(_ context.Context, conversationID string) (*txnflow.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active *txnflow.Request
	for _, request := range s.requests {
		if request.ConversationID != conversationID || request.State != txnflow.StateProcessing {
			continue
		}
		if active != nil {
			return nil, txnflow.ErrMultiplePendingTransactions
		}
		active = request
	}
	if active == nil {
		return nil, txnflow.ErrNoPendingTransaction
	}
	return active.Clone(), nil
}

// SaveRequest 覆盖保存请求。
func (s *Store) SaveRequest(_ context.Context, request *txnflow.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[request.ID]; !ok {
		return txnflow.ErrRequestNotFound
	}
	s.requests[request.ID] = request.Clone()
	return nil
}

// SaveRequestWithConversation 在同一把锁内保存请求与会话，两者要么都
// 落盘要么都不落盘。
func (s *Store) SaveRequestWithConversation(_ context.Context, request *txnflow.Request, conversation *chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[request.ID]; !ok {
		return txnflow.ErrRequestNotFound
	}
	if _, ok := s.conversations[conversation.ID]; !ok {
		return chat.ErrConversationNotFound
	}
	s.requests[request.ID] = request.Clone()
	s.conversations[conversation.ID] = conversation.Clone()
	return nil
}
