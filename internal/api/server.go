package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"Alfred-Curator/internal/briefing"
	"Alfred-Curator/internal/curator"
	apperrors "Alfred-Curator/internal/errors"
	"Alfred-Curator/internal/gate"
	"Alfred-Curator/internal/payment"
	"Alfred-Curator/internal/scorer"
	"Alfred-Curator/pkg/logger"
)

// ArchiveReader 读取长期归档中的信号。
type ArchiveReader interface {
	ListLatest(ctx context.Context, limit int) ([]curator.SignalRecord, error)
}

// Server 负责暴露 REST 与 JSON-RPC 接口。
type Server struct {
	addr      string
	curator   *curator.Curator
	briefings *briefing.Service
	payments  *payment.Service
	scoring   *scorer.Engine
	gate      *gate.Gate
	archive   ArchiveReader
	feedCount int
	interval  time.Duration
	startedAt time.Time
}

// Config 描述 API 服务的依赖与参数。
type Config struct {
	Addr      string
	Curator   *curator.Curator
	Briefings *briefing.Service
	Payments  *payment.Service
	Scoring   *scorer.Engine
	Gate      *gate.Gate
	// Archive 为 nil 时归档查询接口返回未启用。
	Archive   ArchiveReader
	FeedCount int
	Interval  time.Duration
}

// NewServer 构造 API 服务实例。
func NewServer(cfg Config) *Server {
	return &Server{
		addr:      cfg.Addr,
		curator:   cfg.Curator,
		briefings: cfg.Briefings,
		payments:  cfg.Payments,
		scoring:   cfg.Scoring,
		gate:      cfg.Gate,
		archive:   cfg.Archive,
		feedCount: cfg.FeedCount,
		interval:  cfg.Interval,
		startedAt: time.Now(),
	}
}

// Handler 返回完整路由，便于测试直接挂载。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// 开放接口。
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/.well-known/agent.json", s.handleAgentCard)

	// 认证与支付。
	mux.HandleFunc("/auth/nonce", s.handleAuthNonce)
	mux.HandleFunc("/auth/verify", s.handleAuthVerify)
	mux.HandleFunc("/auth/status", s.handleAuthStatus)
	mux.HandleFunc("/telegram/redeem", s.handleChatRedeem)
	mux.HandleFunc("/telegram/status", s.handleChatStatus)
	mux.HandleFunc("/telegram/verify", s.handleChatVerify)

	// 受准入策略保护的接口。
	mux.HandleFunc("/api/signals", s.gated(s.handleSignals))
	mux.HandleFunc("/api/archive", s.gated(s.handleArchive))
	mux.HandleFunc("/api/briefing", s.gated(s.handleBriefing))
	mux.HandleFunc("/api/stats", s.gated(s.handleStats))
	mux.HandleFunc("/api/curate", s.gated(s.handleCurate))
	mux.HandleFunc("/api/reset", s.gated(s.handleReset))
	mux.HandleFunc("/api/test-score", s.gated(s.handleTestScore))

	// 智能体任务入口。
	mux.HandleFunc("/a2a", s.handleA2A)

	return mux
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
		logger.Named("api").Info("API 服务启动", "addr", s.addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务正在关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

// gated 在处理器外套准入判定，拒绝时返回 402 与支付指引。
func (s *Server) gated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decision := s.gate.Check(r)
		if !decision.Allowed {
			writeJSON(w, http.StatusPaymentRequired, map[string]any{
				"error":        decision.Reason,
				"instructions": decision.Instructions,
			})
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 把统一错误类型映射为 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.CodeOf(err) {
	case apperrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case apperrors.CodeAuthFailure:
		status = http.StatusUnauthorized
	case apperrors.CodePaymentRequired, apperrors.CodePaymentRejected:
		status = http.StatusPaymentRequired
	case apperrors.CodeCycleInFlight:
		status = http.StatusConflict
	case apperrors.CodeNotFound:
		status = http.StatusNotFound
	}
	message := err.Error()
	if e, ok := apperrors.From(err); ok {
		message = e.Message()
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	seen, signals := s.curator.Memory().Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "running",
		"uptime":    time.Since(s.startedAt).Seconds(),
		"seenItems": seen,
		"signals":   signals,
	})
}

func (s *Server) handleAuthNonce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	address := r.URL.Query().Get("address")
	if address == "" {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "缺少 address 参数"))
		return
	}
	challenge, err := s.payments.NonceChallenge(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, challenge)
}

func (s *Server) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Address   string `json:"address"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	grant, err := s.payments.VerifySignature(r.Context(), req.Address, req.Signature)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	token := r.Header.Get("X-Session-Token")
	if token == "" {
		writeError(w, apperrors.New(apperrors.CodeAuthFailure, "缺少会话令牌"))
		return
	}
	status, err := s.payments.CheckPayment(r.Context(), token, r.URL.Query().Get("txHash"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleChatRedeem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ChatID string `json:"chatId"`
		Code   string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == "" {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	status, err := s.payments.RedeemBeta(r.Context(), req.ChatID, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleChatStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	chatID := r.URL.Query().Get("chatId")
	if chatID == "" {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "缺少 chatId 参数"))
		return
	}
	status, err := s.payments.ChatStatus(r.Context(), chatID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleChatVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ChatID string `json:"chatId"`
		TxHash string `json:"txHash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == "" {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	status, err := s.payments.VerifyChatPayment(r.Context(), req.ChatID, req.TxHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	minScore := 0
	if raw := r.URL.Query().Get("minScore"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			minScore = parsed
		}
	}

	signals := s.curator.Memory().Signals(limit, minScore)
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(signals),
		"signals": signals,
	})
}

// handleArchive 返回长期归档中最近的信号，滚动记忆修剪掉的历史
// 也能在这里查到。
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "未启用信号归档"))
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	records, err := s.archive.ListLatest(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(records),
		"signals": records,
	})
}

func (s *Server) handleBriefing(w http.ResponseWriter, r *http.Request) {
	result, err := s.briefings.Generate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.statsPayload())
}

func (s *Server) statsPayload() map[string]any {
	seen, signals := s.curator.Memory().Counts()
	return map[string]any{
		"feeds":       s.feedCount,
		"seenItems":   seen,
		"highSignals": signals,
		"interval":    s.interval.String(),
		"details": fmt.Sprintf(
			"Autonomous news curation agent monitoring %d sources. %d items seen, %d signals curated, cycle every %s.",
			s.feedCount, seen, signals, s.interval),
	}
}

func (s *Server) handleCurate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.curator.RunCycle(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "stats": stats})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	keepSignals := r.URL.Query().Get("keepSignals") != "false"
	seenCleared, signalsCleared := s.curator.Memory().Reset(keepSignals)
	if err := s.curator.Memory().Save(); err != nil {
		logger.Named("api").Error("重置后持久化失败", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"cleared": map[string]int{
			"seenHashes": seenCleared,
			"signals":    signalsCleared,
		},
		"message": "记忆已重置，下个周期将重新评分所有条目",
	})
}

func (s *Server) handleTestScore(w http.ResponseWriter, r *http.Request) {
	headline := r.URL.Query().Get("headline")
	if headline == "" {
		headline = "Bitcoin falls to $68,000 as crypto market drowns in red"
	}
	result := s.scoring.Score(r.Context(), headline)
	writeJSON(w, http.StatusOK, map[string]any{
		"headline": headline,
		"score":    result.Score,
		"fallback": result.Fallback,
		"raw":      result.Raw,
	})
}
