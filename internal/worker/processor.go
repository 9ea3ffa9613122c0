package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"chargeline/internal/model"
	"chargeline/internal/repository"
	"chargeline/internal/service"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ErrMalformedEvent marks a payload that can never be recorded.
var ErrMalformedEvent = errors.New("malformed charge event")

// ChargeWorker listens on the charge topic and stores every authorized
// debit through the recorder.
type ChargeWorker struct {
	recorder service.ChargeRecorder
	natsConn *nats.Conn
	logger   *zap.Logger
}

func NewChargeWorker(recorder service.ChargeRecorder, nc *nats.Conn, logger *zap.Logger) *ChargeWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChargeWorker{
		recorder: recorder,
		natsConn: nc,
		logger:   logger,
	}
}

// Run subscribes to the charge topic and blocks until ctx is cancelled.
func (w *ChargeWorker) Run(ctx context.Context) error {
	// each event goes to one member of the queue group
	sub, err := w.natsConn.QueueSubscribe(repository.TopicChargeAuthorized, repository.ChargeWorkerGroup, func(m *nats.Msg) {
		if err := w.process(ctx, m.Data); err != nil {
			w.logger.Error("worker: failed to record charge", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("worker: failed to subscribe to NATS: %w", err)
	}

	w.logger.Info("charge worker is running", zap.String("topic", repository.TopicChargeAuthorized))

	<-ctx.Done()

	w.logger.Info("worker received shutdown signal, draining subscription")
	return sub.Drain()
}

func (w *ChargeWorker) process(ctx context.Context, data []byte) error {
	return recordEvent(ctx, w.recorder, w.logger, data)
}

func recordEvent(ctx context.Context, recorder service.ChargeRecorder, logger *zap.Logger, data []byte) error {
	var event model.ChargeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	if err := recorder.RecordCharge(ctx, event); err != nil {
		return fmt.Errorf("record charge %s: %w", event.ID, err)
	}

	logger.Debug("worker: charge recorded",
		zap.String("event_id", event.ID),
		zap.String("backend", event.Backend),
		zap.Int64("charges", event.Charges),
	)
	return nil
}

// Start implements the infrastructure.Server interface.
func (w *ChargeWorker) Start(ctx context.Context) error {
	return w.Run(ctx)
}

// Stop is a no-op; shutdown happens through ctx.
func (w *ChargeWorker) Stop(ctx context.Context) error {
	return nil
}
