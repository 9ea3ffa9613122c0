package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"chargeline/internal/charge"
	"chargeline/internal/model"
	"chargeline/internal/repository"
	"chargeline/internal/service"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Server exposes ChargeService for every configured backend and, when a
// recorder is set, the EventService that receives charge events from a
// remote gRPC bus.
type Server struct {
	services map[string]service.ChargeService
	recorder service.ChargeRecorder
	srv      *grpc.Server
	health   *health.Server
	addr     string
	logger   *zap.Logger
}

func NewServer(addr string, services map[string]service.ChargeService, recorder service.ChargeRecorder, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		services: services,
		recorder: recorder,
		srv:      grpc.NewServer(),
		health:   health.NewServer(),
		addr:     addr,
		logger:   logger,
	}
	s.srv.RegisterService(&chargeServiceDesc, s)
	s.srv.RegisterService(&eventServiceDesc, s)
	healthpb.RegisterHealthServer(s.srv, s.health)
	s.health.SetServingStatus(chargeServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
	return s.srv.Serve(lis)
}

func (s *Server) Stop(ctx context.Context) error {
	s.health.Shutdown()
	s.srv.GracefulStop()
	return nil
}

func (s *Server) Debit(ctx context.Context, req *DebitRequest) (*model.ChargeResult, error) {
	svc, err := s.lookup(req.Backend)
	if err != nil {
		return nil, err
	}
	res, err := svc.Debit(ctx, req.chargeRequest())
	if err != nil {
		return nil, toStatus(err)
	}
	return res, nil
}

func (s *Server) ResetBalance(ctx context.Context, req *ResetRequest) (*model.ResetResult, error) {
	svc, err := s.lookup(req.Backend)
	if err != nil {
		return nil, err
	}
	balance, err := svc.ResetBalance(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &model.ResetResult{Balance: balance}, nil
}

// Publish receives events from a remote GrpcBus and records charge events.
func (s *Server) Publish(ctx context.Context, req *EventRequest) (*EventResponse, error) {
	if req.Topic != repository.TopicChargeAuthorized {
		return &EventResponse{Success: false, ErrorMessage: "unknown topic " + req.Topic}, nil
	}

	var event model.ChargeEvent
	if err := json.Unmarshal(req.Payload, &event); err != nil {
		return &EventResponse{Success: false, ErrorMessage: "invalid payload"}, nil
	}

	if s.recorder == nil {
		s.logger.Debug("no charge recorder configured, dropping event", zap.String("event_id", event.ID))
		return &EventResponse{Success: true}, nil
	}
	if err := s.recorder.RecordCharge(ctx, event); err != nil {
		s.logger.Error("failed to record charge event", zap.String("event_id", event.ID), zap.Error(err))
		return &EventResponse{Success: false, ErrorMessage: err.Error()}, nil
	}
	return &EventResponse{Success: true}, nil
}

func (s *Server) lookup(backend string) (service.ChargeService, error) {
	svc, ok := s.services[backend]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown backend %q", backend)
	}
	return svc, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, charge.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, charge.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
