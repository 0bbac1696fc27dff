package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"SonicOnboard/internal/agent"
	"SonicOnboard/internal/chat"
	xerrors "SonicOnboard/internal/errors"
	"SonicOnboard/internal/observability/alerting"
	"SonicOnboard/internal/observability/metrics"
	"SonicOnboard/internal/tokens"
	"SonicOnboard/internal/txnflow"
	"SonicOnboard/pkg/logger"
)

// PendingSource 查询会话当前的待签交易请求。
type PendingSource interface {
	PendingTransaction(ctx context.Context, conversationID string) (*txnflow.Request, error)
}

// HoldingsSource 查询用户的 Sonic 链持仓。
type HoldingsSource interface {
	SonicHoldings(ctx context.Context, userAddress string) (*tokens.Holdings, error)
}

// Server 暴露会话与交易流程的 REST 接口。
type Server struct {
	addr     string
	agent    *agent.Agent
	pending  PendingSource
	holdings HoldingsSource
	resolver agent.WalletResolver
	alerts   alerting.Dispatcher
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, ag *agent.Agent, pending PendingSource, holdings HoldingsSource, resolver agent.WalletResolver, alerts alerting.Dispatcher) *Server {
	return &Server{
		addr:     addr,
		agent:    ag,
		pending:  pending,
		holdings: holdings,
		resolver: resolver,
		alerts:   alerts,
	}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Routes 注册全部接口，测试也从这里拿到完整的路由表。
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/threads", s.instrument("threads", s.handleCreateThread))
	mux.HandleFunc("POST /api/v1/conversations/{id}/messages", s.instrument("messages", s.handlePostMessage))
	mux.HandleFunc("GET /api/v1/conversations/{id}/pending_transaction", s.instrument("pending_transaction", s.handlePendingTransaction))
	mux.HandleFunc("POST /api/v1/conversations/{id}/submit_transaction", s.instrument("submit_transaction", s.handleSubmitTransaction))
	mux.HandleFunc("GET /api/v1/holdings", s.instrument("holdings", s.handleHoldings))
	return mux
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	privyUserID := r.URL.Query().Get("privy_user_id")
	if privyUserID == "" {
		http.Error(w, "缺少 privy_user_id 参数", http.StatusBadRequest)
		return
	}

	conversation, err := s.agent.StartConversation(r.Context(), privyUserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conversation)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	privyUserID := r.URL.Query().Get("privy_user_id")
	if privyUserID == "" {
		http.Error(w, "缺少 privy_user_id 参数", http.StatusBadRequest)
		return
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	reply, err := s.agent.HandleMessage(r.Context(), conversationID, privyUserID, req.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handlePendingTransaction(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")

	request, err := s.pending.PendingTransaction(r.Context(), conversationID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	privyUserID := r.URL.Query().Get("privy_user_id")
	if privyUserID == "" {
		http.Error(w, "缺少 privy_user_id 参数", http.StatusBadRequest)
		return
	}

	var req struct {
		SignedTxHash string `json:"signed_tx_hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	reply, err := s.agent.SubmitSignedTransaction(r.Context(), conversationID, privyUserID, req.SignedTxHash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	privyUserID := r.URL.Query().Get("privy_user_id")
	if privyUserID == "" {
		http.Error(w, "缺少 privy_user_id 参数", http.StatusBadRequest)
		return
	}

	profile, err := s.resolver.UserProfile(r.Context(), privyUserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	holdings, err := s.holdings.SonicHoldings(r.Context(), profile.EVMWalletAddress)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, holdings)
}

// writeError 把领域错误映射为 HTTP 状态码，需要告警的错误顺带派发。
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	alerting.NotifyIfNeeded(r.Context(), s.alerts, err, r.PathValue("id"), "", "")

	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound, chat.CodeConversationNotFound, txnflow.CodeNoPendingTransaction:
		status = http.StatusNotFound
	case xerrors.CodeRateLimited:
		status = http.StatusTooManyRequests
	}

	if status == http.StatusInternalServerError {
		logger.Named("api").Error("request failed",
			"path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(xerrors.CodeOf(err)),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// instrument 记录请求量、错误量与时延。
func (s *Server) instrument(handler string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		metrics.ObserveHTTPRequest(handler, r.Method, recorder.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
