package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"chargeline/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

const baseWriteTimeout = 10 * time.Second

// NewServer serves the charge API of every configured backend. delay is the
// longest pre-commit pause a debit may take; it is added to the write timeout
// so a delayed debit can still answer.
func NewServer(addr string, services map[string]service.ChargeService, gatherer prometheus.Gatherer, delay time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	h := NewHandler(services, gatherer, logger)
	h.Register(mux)

	return &Server{
		logger: logger,
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: baseWriteTimeout + max(delay, 0),
			IdleTimeout:  120 * time.Second,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("http server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
