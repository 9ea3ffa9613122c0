package nats

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"chargeline/internal/charge"
	"chargeline/internal/model"
	"chargeline/internal/service"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CommandGroup is the queue group shared by every instance serving commands.
const CommandGroup = "chargeline_commands"

// maxInFlight bounds the commands one instance executes at the same time.
const maxInFlight = 64

const (
	codeInvalidJSON     = "invalid_json"
	codeInvalidArgument = "invalid_argument"
	codeUnavailable     = "unavailable"
	codeInternal        = "internal"
)

// Reply is the body sent back to a request/reply command.
type Reply struct {
	Result  *model.ChargeResult `json:"result,omitempty"`
	Balance *int64              `json:"balance,omitempty"`
	Error   string              `json:"error,omitempty"`
	Code    string              `json:"code,omitempty"`
}

func ChargeSubject(backend string) string { return fmt.Sprintf("commands.%s.charge", backend) }

func ResetSubject(backend string) string { return fmt.Sprintf("commands.%s.reset", backend) }

// Handler subscribes to the command subjects of every backend and replies
// with the outcome.
type Handler struct {
	services map[string]service.ChargeService
	nc       *nats.Conn
	logger   *zap.Logger

	mu   sync.Mutex
	subs []*nats.Subscription

	inflight errgroup.Group
	respond  func(m *nats.Msg, data []byte) error
}

func NewHandler(services map[string]service.ChargeService, nc *nats.Conn, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		services: services,
		nc:       nc,
		logger:   logger,
		respond:  func(m *nats.Msg, data []byte) error { return m.Respond(data) },
	}
	h.inflight.SetLimit(maxInFlight)
	return h
}

// Start subscribes to command topics and blocks until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	for backend, svc := range h.services {
		if err := h.subscribe(ctx, ChargeSubject(backend), func(ctx context.Context, data []byte) Reply {
			return handleCharge(ctx, svc, data)
		}); err != nil {
			return err
		}
		if err := h.subscribe(ctx, ResetSubject(backend), func(ctx context.Context, _ []byte) Reply {
			return handleReset(ctx, svc)
		}); err != nil {
			return err
		}
	}

	h.logger.Info("nats command handler is running", zap.Int("backends", len(h.services)))

	<-ctx.Done()
	h.logger.Info("nats command handler shutting down, draining subscriptions")

	h.mu.Lock()
	for _, s := range h.subs {
		_ = s.Drain()
	}
	h.mu.Unlock()

	return h.inflight.Wait()
}

func (h *Handler) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}

func (h *Handler) subscribe(ctx context.Context, subject string, fn func(context.Context, []byte) Reply) error {
	sub, err := h.nc.QueueSubscribe(subject, CommandGroup, h.dispatch(ctx, fn))
	if err != nil {
		return fmt.Errorf("nats: subscribe %s: %w", subject, err)
	}

	h.mu.Lock()
	h.subs = append(h.subs, sub)
	h.mu.Unlock()
	return nil
}

// dispatch runs every command on its own goroutine. nats.go delivers the
// messages of a subscription one at a time, so executing inline would
// serialize debits. Once maxInFlight commands are running the callback
// blocks, which holds further messages in the subscription's pending queue.
func (h *Handler) dispatch(ctx context.Context, fn func(context.Context, []byte) Reply) nats.MsgHandler {
	return func(m *nats.Msg) {
		h.inflight.Go(func() error {
			h.execute(ctx, m, fn)
			return nil
		})
	}
}

func (h *Handler) execute(ctx context.Context, m *nats.Msg, fn func(context.Context, []byte) Reply) {
	reply := fn(ctx, m.Data)
	if reply.Code == codeInternal || reply.Code == codeUnavailable {
		h.logger.Error("nats command failed", zap.String("subject", m.Subject), zap.String("error", reply.Error))
	}
	if m.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		h.logger.Error("failed to encode nats reply", zap.Error(err))
		return
	}
	if err := h.respond(m, data); err != nil {
		h.logger.Warn("failed to send nats reply", zap.String("subject", m.Subject), zap.Error(err))
	}
}

func handleCharge(ctx context.Context, svc service.ChargeService, data []byte) Reply {
	var req model.ChargeRequest
	if len(bytes.TrimSpace(data)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			return Reply{Error: err.Error(), Code: codeInvalidJSON}
		}
	}

	res, err := svc.Debit(ctx, req)
	if err != nil {
		return errorReply(err)
	}
	return Reply{Result: res}
}

func handleReset(ctx context.Context, svc service.ChargeService) Reply {
	balance, err := svc.ResetBalance(ctx)
	if err != nil {
		return errorReply(err)
	}
	return Reply{Balance: &balance}
}

func errorReply(err error) Reply {
	code := codeInternal
	switch {
	case errors.Is(err, charge.ErrInvalidArgument):
		code = codeInvalidArgument
	case errors.Is(err, charge.ErrStoreUnavailable):
		code = codeUnavailable
	}
	return Reply{Error: err.Error(), Code: code}
}
