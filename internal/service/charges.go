package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"chargeline/internal/charge"
	"chargeline/internal/model"
	"chargeline/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine is the debit engine as seen by the service.
type Engine interface {
	Debit(ctx context.Context, req model.ChargeRequest) (*model.ChargeResult, error)
	ResetBalance(ctx context.Context) (int64, error)
	Key() string
}

// Charges is the ChargeService of one store backend. Committed debits are
// published as model.ChargeEvent; a failed publish is logged and never
// turns a committed debit into an error.
type Charges struct {
	backend string
	engine  Engine
	bus     repository.MessageBus
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewCharges(backend string, engine Engine, bus repository.MessageBus, metrics *Metrics, logger *zap.Logger) *Charges {
	if bus == nil {
		bus = repository.NopBus{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Charges{
		backend: backend,
		engine:  engine,
		bus:     bus,
		metrics: metrics,
		logger:  logger.With(zap.String("backend", backend)),
		now:     time.Now,
	}
}

func (c *Charges) Debit(ctx context.Context, req model.ChargeRequest) (*model.ChargeResult, error) {
	start := c.now()
	res, err := c.engine.Debit(ctx, req)
	c.metrics.observeDuration(c.backend, c.now().Sub(start))

	if err != nil {
		if errors.Is(err, charge.ErrInvalidArgument) {
			c.logger.Debug("rejected charge request", zap.Error(err))
		} else {
			c.logger.Error("debit failed", zap.Error(err))
		}
		return nil, err
	}

	c.logger.Debug("debit finished",
		zap.String("service_type", req.ServiceType),
		zap.Bool("authorized", res.IsAuthorized),
		zap.Int64("charges", res.Charges),
		zap.Int64("remaining_balance", res.RemainingBalance),
	)

	if res.IsAuthorized {
		c.publish(req, res)
	}
	return res, nil
}

func (c *Charges) ResetBalance(ctx context.Context) (int64, error) {
	balance, err := c.engine.ResetBalance(ctx)
	if err != nil {
		c.logger.Error("balance reset failed", zap.Error(err))
		return 0, err
	}
	c.metrics.countReset(c.backend)
	c.logger.Info("balance reset", zap.String("key", c.engine.Key()), zap.Int64("balance", balance))
	return balance, nil
}

func (c *Charges) publish(req model.ChargeRequest, res *model.ChargeResult) {
	event := model.ChargeEvent{
		ID:               uuid.NewString(),
		Backend:          c.backend,
		AccountKey:       c.engine.Key(),
		ServiceType:      req.ServiceType,
		Charges:          res.Charges,
		RemainingBalance: res.RemainingBalance,
		CreatedAt:        c.now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("failed to encode charge event", zap.Error(err))
		return
	}
	if err := c.bus.Publish(repository.TopicChargeAuthorized, data); err != nil {
		c.logger.Warn("failed to publish charge event", zap.String("event_id", event.ID), zap.Error(err))
	}
}
