package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tokenScope/internal/indexer"
	"tokenScope/internal/storage"
)

// CycleSource exposes scanner progress.
type CycleSource interface {
	LastCycle() (indexer.CycleResult, bool)
	Running() bool
}

// Server serves health, metrics and indexer status.
type Server struct {
	addr    string
	router  *mux.Router
	cursor  storage.CursorStore
	tokens  storage.TokenStore
	scanner CycleSource
	logger  *zap.Logger
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Cursor    *uint64              `json:"cursor"`
	Scanning  bool                 `json:"scanning"`
	LastCycle *indexer.CycleResult `json:"last_cycle,omitempty"`
}

func New(addr string, cursor storage.CursorStore, tokens storage.TokenStore, scanner CycleSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		addr:    addr,
		cursor:  cursor,
		tokens:  tokens,
		scanner: scanner,
		logger:  logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	s.router = mux.NewRouter()
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/tokens/{address}", s.tokenHandler).Methods(http.MethodGet)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", zap.String("addr", s.addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("status server stopped")
	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var resp StatusResponse
	if s.cursor != nil {
		block, ok, err := s.cursor.Load(r.Context())
		if err != nil {
			s.writeError(w, http.StatusServiceUnavailable, "cursor unavailable", err)
			return
		}
		if ok {
			resp.Cursor = &block
		}
	}
	if s.scanner != nil {
		resp.Scanning = s.scanner.Running()
		if last, ok := s.scanner.LastCycle(); ok {
			resp.LastCycle = &last
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) tokenHandler(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		s.writeError(w, http.StatusNotFound, "token store not configured", nil)
		return
	}
	address := mux.Vars(r)["address"]
	token, err := s.tokens.GetToken(r.Context(), address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "token not found", nil)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "load token", err)
		return
	}
	s.writeJSON(w, http.StatusOK, token)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encode json response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]interface{}{
		"error":  message,
		"status": status,
	}
	if err != nil {
		body["details"] = err.Error()
		s.logger.Warn("http error", zap.Int("status", status), zap.String("message", message), zap.Error(err))
	}
	s.writeJSON(w, status, body)
}
