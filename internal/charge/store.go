package charge

import (
	"context"
	"time"
)

// TxStore is a store whose writes can be fenced by watching a key
// (Redis WATCH/MULTI/EXEC).
type TxStore interface {
	// BeginWatch opens a session with key under watch. Any write to key by
	// another client before the session commits invalidates the commit.
	BeginWatch(ctx context.Context, key string) (TxSession, error)
	SetBalance(ctx context.Context, key string, value int64) error
}

type TxSession interface {
	// ReadBalance returns the watched value, or 0 if the key is absent.
	ReadBalance(ctx context.Context) (int64, error)
	// CommitDecrement decrements the watched key by amount and returns the
	// new value. committed is false, with no mutation and a nil error, when
	// the key changed since BeginWatch.
	CommitDecrement(ctx context.Context, amount int64) (remaining int64, committed bool, err error)
	Close() error
}

// Token is the opaque version marker returned by CASStore.ReadWithToken.
// A nil token means the key was absent when read.
type Token any

// CASStore is a store with versioned reads and compare-and-swap writes
// (memcached gets/cas).
type CASStore interface {
	ReadWithToken(ctx context.Context, key string) (int64, Token, error)
	// CompareAndSwap stores value only if the stored version still matches
	// token. It reports false, without mutating, on a mismatch.
	CompareAndSwap(ctx context.Context, key string, value int64, token Token, ttl time.Duration) (bool, error)
	SetBalance(ctx context.Context, key string, value int64, ttl time.Duration) error
}
