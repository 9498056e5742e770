package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"plays-ai/internal/config"
	"plays-ai/internal/ledger"
	"plays-ai/internal/order"
	"plays-ai/internal/replay"
)

// Server 暴露生命周期操作的 HTTP 接口，只服务内部运维与审批场景。
type Server struct {
	cfg    config.ServerConfig
	engine *PlayEngine
	ledger *ledger.Ledger
	replay *replay.Engine
	logger *zap.Logger
}

// NewServer 创建 HTTP 服务。
func NewServer(cfg config.ServerConfig, engine *PlayEngine, led *ledger.Ledger, replayer *replay.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		engine: engine,
		ledger: led,
		replay: replayer,
		logger: logger,
	}
}

// Run 启动服务并在上下文取消时优雅关闭。
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /plays", s.handleCreatePlay)
	mux.HandleFunc("GET /orders/{id}", s.handleGetOrder)
	mux.HandleFunc("GET /orders/{id}/summary", s.handleOrderSummary)
	mux.HandleFunc("GET /orders/{id}/history", s.handleOrderHistory)
	mux.HandleFunc("GET /orders/{id}/audit", s.handleOrderAudit)
	mux.HandleFunc("POST /orders/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /orders/{id}/reject", s.handleReject)
	mux.HandleFunc("POST /orders/{id}/submit", s.handleSubmit)
	mux.HandleFunc("POST /orders/{id}/intervene", s.handleIntervene)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP 服务启动", zap.Int("port", s.cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP 服务关闭失败", zap.Error(err))
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type createPlayRequest struct {
	Description string  `json:"description"`
	Symbol      string  `json:"symbol"`
	Quantity    float64 `json:"quantity"`
	Confidence  float64 `json:"confidence"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type interveneRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCreatePlay(w http.ResponseWriter, r *http.Request) {
	var req createPlayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("解析请求失败: %w", err))
		return
	}

	o, err := s.engine.CreatePlay(r.Context(), req.Description, req.Symbol, req.Quantity, req.Confidence)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeOrderError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleOrderSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.OrderSummary(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeOrderError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.engine.OrderHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeOrderError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleOrderAudit(w http.ResponseWriter, r *http.Request) {
	report, err := s.replay.Verify(r.Context(), s.ledger, r.PathValue("id"))
	if err != nil {
		s.writeOrderError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.Approve(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeOrderError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("解析请求失败: %w", err))
		return
	}
	if req.Reason == "" {
		req.Reason = "人工拒绝"
	}

	o, err := s.engine.Reject(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		s.writeOrderError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.Submit(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeOrderError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleIntervene(w http.ResponseWriter, r *http.Request) {
	var req interveneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("解析请求失败: %w", err))
		return
	}

	o, err := s.engine.ManualIntervene(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		s.writeOrderError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Statistics(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrOrderNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case isInvalidTransition(err), errors.Is(err, order.ErrOrderNotFilled):
		s.writeError(w, http.StatusConflict, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func isInvalidTransition(err error) bool {
	var invalid *order.InvalidTransitionError
	return errors.As(err, &invalid)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("写入响应失败", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
