package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"chargeline/internal/charge"
	"chargeline/internal/lazy"

	"github.com/redis/go-redis/v9"
)

// Store implements charge.TxStore on top of WATCH / MULTI / EXEC.
// Every session runs on its own pooled connection because a watch belongs to
// the connection that issued it.
type Store struct {
	handle *lazy.Handle[*redis.Client]
}

func New(handle *lazy.Handle[*redis.Client]) *Store {
	return &Store{handle: handle}
}

func (s *Store) BeginWatch(ctx context.Context, key string) (charge.TxSession, error) {
	client, err := s.handle.Acquire(ctx)
	if err != nil {
		return nil, unavailable(err)
	}

	conn := client.Conn()
	if err := conn.Process(ctx, redis.NewStatusCmd(ctx, "watch", key)); err != nil {
		_ = conn.Close()
		return nil, unavailable(err)
	}

	return &session{conn: conn, key: key}, nil
}

// SetBalance overwrites the balance without an expiry.
func (s *Store) SetBalance(ctx context.Context, key string, value int64) error {
	client, err := s.handle.Acquire(ctx)
	if err != nil {
		return unavailable(err)
	}
	if err := client.Set(ctx, key, value, 0).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	client, err := s.handle.Acquire(ctx)
	if err != nil {
		return unavailable(err)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

type session struct {
	conn *redis.Conn
	key  string
	// executed is set once EXEC has been sent; EXEC always clears the watch.
	executed bool
}

func (s *session) ReadBalance(ctx context.Context) (int64, error) {
	raw, err := s.conn.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable(err)
	}

	balance, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", charge.ErrCorruptBalance, s.key, raw)
	}
	return balance, nil
}

func (s *session) CommitDecrement(ctx context.Context, amount int64) (int64, bool, error) {
	var decr *redis.IntCmd
	_, err := s.conn.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		decr = pipe.DecrBy(ctx, s.key, amount)
		return nil
	})
	s.executed = true

	if errors.Is(err, redis.TxFailedErr) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable(err)
	}
	return decr.Val(), true, nil
}

// Close drops the watch if the session never reached EXEC and hands the
// connection back to the pool.
func (s *session) Close() error {
	var unwatchErr error
	if !s.executed {
		ctx := context.Background()
		unwatchErr = s.conn.Process(ctx, redis.NewStatusCmd(ctx, "unwatch"))
	}
	return errors.Join(unwatchErr, s.conn.Close())
}

func unavailable(err error) error {
	return fmt.Errorf("%w: redis: %w", charge.ErrStoreUnavailable, err)
}
