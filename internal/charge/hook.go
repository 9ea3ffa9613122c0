package charge

import (
	"context"
	"time"

	"chargeline/internal/model"

	"go.uber.org/zap"
)

const (
	DefaultDelaySentinel = "foobar"
	DefaultDelay         = 3 * time.Second
)

// PreCommitHook runs after a debit has been authorized and before its
// conditional write. A non-nil error aborts the debit without writing.
type PreCommitHook func(ctx context.Context, req model.ChargeRequest) error

// NoDelay is the production hook.
func NoDelay(context.Context, model.ChargeRequest) error { return nil }

// SentinelDelay suspends a debit for d when the request's delay field equals
// sentinel. It widens the window between read and write so that two callers
// can observe the same balance.
func SentinelDelay(sentinel string, d time.Duration, logger *zap.Logger) PreCommitHook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req model.ChargeRequest) error {
		if sentinel == "" || req.Delay != sentinel {
			return nil
		}

		logger.Info("intentionally delaying execution", zap.Duration("delay", d))

		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		logger.Info("resuming execution")
		return nil
	}
}
