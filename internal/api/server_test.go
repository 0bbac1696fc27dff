package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"SonicOnboard/internal/agent"
	"SonicOnboard/internal/chat"
	"SonicOnboard/internal/identity"
	"SonicOnboard/internal/llm"
	"SonicOnboard/internal/storage/memory"
	"SonicOnboard/internal/tokens"
	"SonicOnboard/internal/txnflow"
	"SonicOnboard/internal/web3"
)

type stubLLM struct {
	reply string
}

func (s *stubLLM) Complete(context.Context, []llm.Message, []llm.Tool) (*llm.Message, error) {
	return &llm.Message{Role: llm.RoleAssistant, Content: s.reply}, nil
}

type stubOrchestrator struct{}

func (stubOrchestrator) SwapTokens(context.Context, string, string, string, string, float64, string) (*txnflow.Result, error) {
	return &txnflow.Result{Outcome: txnflow.OutcomeComplete}, nil
}

func (stubOrchestrator) LendTokens(context.Context, string, string, string, string, float64) (*txnflow.Result, error) {
	return &txnflow.Result{Outcome: txnflow.OutcomeComplete}, nil
}

func (stubOrchestrator) WithdrawTokens(context.Context, string, string, string, string, *float64) (*txnflow.Result, error) {
	return &txnflow.Result{Outcome: txnflow.OutcomeComplete}, nil
}

func (stubOrchestrator) StakeSonic(context.Context, string, string, string, float64) (*txnflow.Result, error) {
	return &txnflow.Result{Outcome: txnflow.OutcomeComplete}, nil
}

func (stubOrchestrator) Submit(context.Context, string, string) (*txnflow.Result, error) {
	return &txnflow.Result{Outcome: txnflow.OutcomeComplete, Request: &txnflow.Request{}}, nil
}

type stubResolver struct{}

func (stubResolver) UserProfile(_ context.Context, privyUserID string) (*identity.UserProfile, error) {
	return &identity.UserProfile{ID: privyUserID, EVMWalletAddress: "0x1111111111111111111111111111111111111111"}, nil
}

type stubRegistry struct{}

func (stubRegistry) Chains() []string { return nil }

func (stubRegistry) Client(string) (web3.Client, bool) { return nil, false }

type stubPending struct {
	request *txnflow.Request
	err     error
}

func (s *stubPending) PendingTransaction(context.Context, string) (*txnflow.Request, error) {
	return s.request, s.err
}

type stubHoldings struct{}

func (stubHoldings) SonicHoldings(context.Context, string) (*tokens.Holdings, error) {
	return &tokens.Holdings{Holdings: []tokens.Holding{{Symbol: "S", Balance: 5}}, TotalUSDValue: 2.5}, nil
}

func newTestServer(t *testing.T, pending PendingSource) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	ag := agent.New(&stubLLM{reply: "hello"}, store, stubOrchestrator{}, stubResolver{}, stubRegistry{})
	return NewServer(":0", ag, pending, stubHoldings{}, stubResolver{}, nil), store
}

func createThread(t *testing.T, handler http.Handler) chat.Conversation {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/threads?privy_user_id=did:privy:u1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("创建会话返回 %d: %s", rec.Code, rec.Body.String())
	}
	var conversation chat.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &conversation); err != nil {
		t.Fatalf("解析会话失败: %v", err)
	}
	return conversation
}

func TestCreateThread(t *testing.T) {
	server, _ := newTestServer(t, &stubPending{err: txnflow.ErrNoPendingTransaction})
	conversation := createThread(t, server.Routes())

	if conversation.ID == "" || len(conversation.Messages) != 2 {
		t.Fatalf("conversation = %+v", conversation)
	}
	if conversation.Messages[1].Role != llm.RoleAssistant {
		t.Fatalf("第二条消息应为欢迎语: %+v", conversation.Messages[1])
	}
}

func TestCreateThreadRequiresUser(t *testing.T) {
	server, _ := newTestServer(t, &stubPending{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/threads", nil)
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("缺少用户参数应返回 400, got %d", rec.Code)
	}
}

func TestPostMessage(t *testing.T) {
	server, _ := newTestServer(t, &stubPending{})
	handler := server.Routes()
	conversation := createThread(t, handler)

	body := strings.NewReader(`{"message":"hi"}`)
	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/conversations/"+conversation.ID+"/messages?privy_user_id=did:privy:u1", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var reply agent.Reply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("解析回复失败: %v", err)
	}
	if reply.Message != "hello" {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestPostMessageUnknownConversation(t *testing.T) {
	server, _ := newTestServer(t, &stubPending{})
	body := strings.NewReader(`{"message":"hi"}`)
	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/conversations/missing/messages?privy_user_id=did:privy:u1", body)
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("未知会话应返回 404, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload map[string]string
	json.Unmarshal(rec.Body.Bytes(), &payload)
	if payload["code"] != string(chat.CodeConversationNotFound) {
		t.Fatalf("错误码 = %q", payload["code"])
	}
}

func TestPendingTransaction(t *testing.T) {
	request := txnflow.NewRequest("conv-1", "0xuser", txnflow.FlowSwap, nil, "call_1")
	request.Transaction = &txnflow.TransactionDetails{
		Transaction: &web3.UnsignedTransaction{To: "0xrouter"},
		Description: "Swap 1 S to USDC",
	}
	server, _ := newTestServer(t, &stubPending{request: request})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/conv-1/pending_transaction", nil)
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got txnflow.Request
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("解析请求失败: %v", err)
	}
	if got.Transaction == nil || got.Transaction.Description != "Swap 1 S to USDC" {
		t.Fatalf("request = %+v", got)
	}
}

func TestPendingTransactionNotFound(t *testing.T) {
	server, _ := newTestServer(t, &stubPending{err: txnflow.ErrNoPendingTransaction})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/conv-1/pending_transaction", nil)
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("无待签交易应返回 404, got %d", rec.Code)
	}
}

func TestHoldings(t *testing.T) {
	server, _ := newTestServer(t, &stubPending{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/holdings?privy_user_id=did:privy:u1", nil)
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var holdings tokens.Holdings
	if err := json.Unmarshal(rec.Body.Bytes(), &holdings); err != nil {
		t.Fatalf("解析持仓失败: %v", err)
	}
	if len(holdings.Holdings) != 1 || holdings.Holdings[0].Symbol != "S" {
		t.Fatalf("holdings = %+v", holdings)
	}
}
