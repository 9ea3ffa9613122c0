package repository

import (
	"context"
	"errors"
	"fmt"

	"chargeline/internal/model"

	"github.com/jackc/pgx/v5/pgconn"
)

var ErrInvalidEvent = errors.New("charge event has no id")

// DB is the subset of *pgxpool.Pool the charge log writes through.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ChargeLog appends committed debits to the charges table. Recording is
// idempotent on the event id, so a redelivered event is a no-op.
type ChargeLog struct {
	db DB
}

func NewChargeLog(db DB) *ChargeLog {
	return &ChargeLog{db: db}
}

func (l *ChargeLog) RecordCharge(ctx context.Context, event model.ChargeEvent) error {
	if event.ID == "" {
		return ErrInvalidEvent
	}

	query := `
		INSERT INTO charges (id, backend, account_key, service_type, charges, remaining_balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	_, err := l.db.Exec(ctx, query,
		event.ID,
		event.Backend,
		event.AccountKey,
		event.ServiceType,
		event.Charges,
		event.RemainingBalance,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record charge %s: %w", event.ID, err)
	}
	return nil
}
