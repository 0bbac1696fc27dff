package memory

import (
	"context"
	"testing"

	"SonicOnboard/internal/chat"
	"SonicOnboard/internal/errors"
	"SonicOnboard/internal/llm"
	"SonicOnboard/internal/txnflow"
)

func TestActiveRequestSingleton(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.ActiveRequest(ctx, "conv-1"); !errors.Is(err, txnflow.ErrNoPendingTransaction) {
		t.Fatalf("空存储应返回 ErrNoPendingTransaction, got %v", err)
	}

	first := txnflow.NewRequest("conv-1", "0xuser", txnflow.FlowSwap, nil, "call_1")
	if err := store.CreateRequest(ctx, first); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	active, err := store.ActiveRequest(ctx, "conv-1")
	if err != nil {
		t.Fatalf("ActiveRequest: %v", err)
	}
	if active.ID != first.ID {
		t.Fatalf("active.ID = %s, 期望 %s", active.ID, first.ID)
	}

	second := txnflow.NewRequest("conv-1", "0xuser", txnflow.FlowLend, nil, "call_2")
	if err := store.CreateRequest(ctx, second); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if _, err := store.ActiveRequest(ctx, "conv-1"); !errors.Is(err, txnflow.ErrMultiplePendingTransactions) {
		t.Fatalf("两个 PROCESSING 请求应返回 ErrMultiplePendingTransactions, got %v", err)
	}

	// 完结其中一个后恢复唯一性。
	second.State = txnflow.StateCompleted
	if err := store.SaveRequest(ctx, second); err != nil {
		t.Fatalf("SaveRequest: %v", err)
	}
	if active, err = store.ActiveRequest(ctx, "conv-1"); err != nil || active.ID != first.ID {
		t.Fatalf("ActiveRequest = (%v, %v)", active, err)
	}
}

func TestReadsReturnCopies(t *testing.T) {
	store := New()
	ctx := context.Background()

	request := txnflow.NewRequest("conv-1", "0xuser", txnflow.FlowLend,
		map[string]any{"amount": 5.0}, "call_1")
	if err := store.CreateRequest(ctx, request); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	got, err := store.GetRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	got.Data["amount"] = 99.0
	got.State = txnflow.StateFailed

	again, err := store.GetRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if again.Data["amount"] != 5.0 || again.State != txnflow.StateProcessing {
		t.Fatalf("修改返回值不应影响存储副本: %+v", again)
	}
}

func TestSaveRequestWithConversation(t *testing.T) {
	store := New()
	ctx := context.Background()

	conversation := chat.NewConversation("user-1", []llm.Message{{Role: llm.RoleSystem, Content: "s"}})
	if err := store.CreateConversation(ctx, conversation); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	request := txnflow.NewRequest(conversation.ID, "0xuser", txnflow.FlowStake, nil, "call_1")
	if err := store.CreateRequest(ctx, request); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	request.State = txnflow.StateCompleted
	conversation.Append(llm.Message{Role: llm.RoleTool, ToolCallID: "call_1", Content: "done"})
	if err := store.SaveRequestWithConversation(ctx, request, conversation); err != nil {
		t.Fatalf("SaveRequestWithConversation: %v", err)
	}

	gotConv, err := store.GetConversation(ctx, conversation.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(gotConv.Messages) != 2 {
		t.Fatalf("会话消息数 = %d, 期望 2", len(gotConv.Messages))
	}
	gotReq, err := store.GetRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if gotReq.State != txnflow.StateCompleted {
		t.Fatalf("请求状态 = %s, 期望 COMPLETED", gotReq.State)
	}

	// 请求不存在时会话也不应被写入。
	missing := txnflow.NewRequest(conversation.ID, "0xuser", txnflow.FlowStake, nil, "call_2")
	conversation.Append(llm.Message{Role: llm.RoleUser, Content: "extra"})
	if err := store.SaveRequestWithConversation(ctx, missing, conversation); err == nil {
		t.Fatal("未创建的请求应返回错误")
	}
	gotConv, _ = store.GetConversation(ctx, conversation.ID)
	if len(gotConv.Messages) != 2 {
		t.Fatalf("原子性被破坏: 会话消息数 = %d", len(gotConv.Messages))
	}
}

func TestConversationNotFound(t *testing.T) {
	store := New()
	if _, err := store.GetConversation(context.Background(), "missing"); !errors.Is(err, chat.ErrConversationNotFound) {
		t.Fatalf("期望 ErrConversationNotFound, got %v", err)
	}
}
