package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"AgentVault/internal/agent"
	"AgentVault/internal/auth"
	xerrors "AgentVault/internal/errors"
	"AgentVault/internal/observability/metrics"
	"AgentVault/internal/wallet"
)

const maxBodyBytes = 1 << 20

// WalletService is the set of operations the API exposes.
type WalletService interface {
	CreateAgent(ctx context.Context, req wallet.CreateAgentRequest) (agent.View, error)
	IssueWallet(ctx context.Context, agentID string, opts wallet.IssueOptions) (*wallet.WalletInfo, error)
	Transfer(ctx context.Context, req wallet.TransferRequest) (*wallet.TransferResult, error)
	Balance(ctx context.Context, agentID string) (*wallet.BalanceResult, error)
	Address(ctx context.Context, agentID string) (string, error)
	Agent(ctx context.Context, agentID string) (agent.View, error)
	ListAgents(ctx context.Context, limit int) ([]agent.View, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr     string
	wallet   WalletService
	auth     *auth.Service
	limiter  *limiterSet
	exposeMx bool
}

// Option 定制 Server。
type Option func(*Server)

// WithAuth 为业务路由启用 Bearer Token 认证。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// WithRateLimit 启用按调用方的令牌桶限流。
func WithRateLimit(cfg RateLimit) Option {
	return func(s *Server) { s.limiter = newLimiterSet(cfg) }
}

// WithMetricsEndpoint 在同一端口上暴露 /metrics。
func WithMetricsEndpoint() Option {
	return func(s *Server) { s.exposeMx = true }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc WalletService, opts ...Option) *Server {
	s := &Server{addr: addr, wallet: svc}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/agents", auth.PermissionAgentsWrite, s.handleCreateAgent)
	s.route(mux, "GET /api/v1/agents", auth.PermissionAgentsRead, s.handleListAgents)
	s.route(mux, "GET /api/v1/agents/{id}", auth.PermissionAgentsRead, s.handleGetAgent)
	s.route(mux, "POST /api/v1/agents/{id}/wallet", auth.PermissionWalletsIssue, s.handleIssueWallet)
	s.route(mux, "GET /api/v1/agents/{id}/address", auth.PermissionAgentsRead, s.handleAddress)
	s.route(mux, "GET /api/v1/agents/{id}/balance", auth.PermissionAgentsRead, s.handleBalance)
	s.route(mux, "POST /api/v1/agents/{id}/transfers", auth.PermissionTransfersWrite, s.handleTransfer)
	mux.Handle("GET /healthz", instrument("GET /healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})))
	if s.exposeMx {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern, permission string, handler http.HandlerFunc) {
	var h http.Handler = handler
	h = s.auth.Protect(permission, h)
	h = s.limiter.middleware(h)
	mux.Handle(pattern, instrument(pattern, h))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req wallet.CreateAgentRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.wallet.CreateAgent(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	limit := agent.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	views, err := s.wallet.ListAgents(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": views})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	view, err := s.wallet.Agent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleIssueWallet(w http.ResponseWriter, r *http.Request) {
	var opts wallet.IssueOptions
	if err := decodeBody(r, &opts, true); err != nil {
		writeError(w, r, err)
		return
	}
	info, err := s.wallet.IssueWallet(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleAddress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	address, err := s.wallet.Address(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"agent_id": id, "address": address})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.wallet.Balance(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

type transferBody struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var body transferBody
	if err := decodeBody(r, &body, false); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.wallet.Transfer(r.Context(), wallet.TransferRequest{
		AgentID:   r.PathValue("id"),
		Recipient: body.Recipient,
		Amount:    body.Amount,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// decodeBody 严格解析 JSON 请求体，allowEmpty 为真时空请求体视为零值。
func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

// instrument records request metrics under the route pattern.
func instrument(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.ObserveHTTPRequest(pattern, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
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
