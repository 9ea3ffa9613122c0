package memcachestore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"chargeline/internal/charge"
	"chargeline/internal/lazy"

	"github.com/bradfitz/gomemcache/memcache"
)

// maxRelativeExpiration is the longest expiration memcached reads as
// "seconds from now"; larger values are taken as a unix timestamp.
const maxRelativeExpiration = 30 * 24 * time.Hour

// Client is the part of *memcache.Client the store needs.
type Client interface {
	Get(key string) (*memcache.Item, error)
	CompareAndSwap(item *memcache.Item) error
	Add(item *memcache.Item) error
	Set(item *memcache.Item) error
	Ping() error
}

// Store implements charge.CASStore with memcached gets/cas. The token handed
// out by ReadWithToken is the *memcache.Item that carries the cas unique.
type Store struct {
	handle *lazy.Handle[Client]
}

func New(handle *lazy.Handle[Client]) *Store {
	return &Store{handle: handle}
}

func (s *Store) ReadWithToken(ctx context.Context, key string) (int64, charge.Token, error) {
	client, err := s.acquire(ctx)
	if err != nil {
		return 0, nil, err
	}

	item, err := client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, unavailable(err)
	}

	balance, err := strconv.ParseInt(string(item.Value), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s=%q", charge.ErrCorruptBalance, key, item.Value)
	}
	return balance, item, nil
}

// CompareAndSwap writes value only if the item is unchanged since it was read.
// A nil token means the key was absent, so the write is an add.
func (s *Store) CompareAndSwap(ctx context.Context, key string, value int64, token charge.Token, ttl time.Duration) (bool, error) {
	client, err := s.acquire(ctx)
	if err != nil {
		return false, err
	}

	if token == nil {
		err = client.Add(newItem(key, value, ttl))
	} else {
		item, ok := token.(*memcache.Item)
		if !ok || item.Key != key {
			return false, fmt.Errorf("memcached: token %T does not belong to %s", token, key)
		}
		item.Value = encode(value)
		item.Expiration = expiration(ttl)
		err = client.CompareAndSwap(item)
	}

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, memcache.ErrCASConflict),
		errors.Is(err, memcache.ErrNotStored),
		errors.Is(err, memcache.ErrCacheMiss):
		return false, nil
	default:
		return false, unavailable(err)
	}
}

func (s *Store) SetBalance(ctx context.Context, key string, value int64, ttl time.Duration) error {
	client, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	if err := client.Set(newItem(key, value, ttl)); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	client, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	if err := client.Ping(); err != nil {
		return unavailable(err)
	}
	return nil
}

// acquire fails fast on a finished context since the memcache client
// itself takes none.
func (s *Store) acquire(ctx context.Context) (Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, err := s.handle.Acquire(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	return client, nil
}

func newItem(key string, value int64, ttl time.Duration) *memcache.Item {
	return &memcache.Item{Key: key, Value: encode(value), Expiration: expiration(ttl)}
}

func encode(value int64) []byte {
	return []byte(strconv.FormatInt(value, 10))
}

func expiration(ttl time.Duration) int32 {
	if ttl <= 0 {
		return 0
	}
	if ttl > maxRelativeExpiration {
		return int32(time.Now().Add(ttl).Unix())
	}
	return int32(ttl / time.Second)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: memcached: %w", charge.ErrStoreUnavailable, err)
}
