package service

import (
	"context"

	"chargeline/internal/model"
)

// ChargeService defines the operations exposed for one account balance.
// All transport layers (HTTP, gRPC, NATS) depend on this interface, not on the engine.
type ChargeService interface {
	Debit(ctx context.Context, req model.ChargeRequest) (*model.ChargeResult, error)
	ResetBalance(ctx context.Context) (int64, error)
}

// ChargeRecorder persists charge events published on the bus.
type ChargeRecorder interface {
	RecordCharge(ctx context.Context, event model.ChargeEvent) error
}
