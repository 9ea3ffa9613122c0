package charge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"chargeline/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

type engineFixture struct {
	engine  *Engine
	balance func() int64
	// overwrite writes the balance the way a competing client would.
	overwrite func(int64)
}

type engineFactory struct {
	name string
	new  func(t *testing.T, opts ...Option) engineFixture
}

var engineFactories = []engineFactory{
	{
		name: "watch",
		new: func(t *testing.T, opts ...Option) engineFixture {
			store := &memTxStore{}
			opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
			return engineFixture{
				engine:  NewTxEngine(store, opts...),
				balance: store.balance,
				overwrite: func(v int64) {
					require.NoError(t, store.SetBalance(context.Background(), DefaultKey, v))
				},
			}
		},
	},
	{
		name: "cas",
		new: func(t *testing.T, opts ...Option) engineFixture {
			store := &memCASStore{}
			opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
			return engineFixture{
				engine:  NewCASEngine(store, opts...),
				balance: store.balance,
				overwrite: func(v int64) {
					require.NoError(t, store.SetBalance(context.Background(), DefaultKey, v, 0))
				},
			}
		},
	},
}

func debit(t *testing.T, e *Engine, unit any) model.ChargeResult {
	t.Helper()
	res, err := e.Debit(context.Background(), model.ChargeRequest{Unit: unit})
	require.NoError(t, err)
	require.NotNil(t, res)
	return *res
}

func TestEngine_DebitSequence(t *testing.T) {
	for _, f := range engineFactories {
		t.Run(f.name, func(t *testing.T) {
			fx := f.new(t)

			bal, err := fx.engine.ResetBalance(context.Background())
			require.NoError(t, err)
			require.Equal(t, int64(100), bal)

			assert.Equal(t, model.ChargeResult{RemainingBalance: 90, IsAuthorized: true, Charges: 10}, debit(t, fx.engine, 10))
			assert.Equal(t, model.ChargeResult{RemainingBalance: 40, IsAuthorized: true, Charges: 50}, debit(t, fx.engine, 50))
			assert.Equal(t, model.ChargeResult{RemainingBalance: 40}, debit(t, fx.engine, 45))
			assert.Equal(t, int64(40), fx.balance())
			assert.Equal(t, model.ChargeResult{RemainingBalance: 0, IsAuthorized: true, Charges: 40}, debit(t, fx.engine, 40))
			assert.Equal(t, int64(0), fx.balance())
		})
	}
}

func TestEngine_ZeroUnitIsAuthorized(t *testing.T) {
	for _, f := range engineFactories {
		t.Run(f.name, func(t *testing.T) {
			fx := f.new(t)
			_, err := fx.engine.ResetBalance(context.Background())
			require.NoError(t, err)

			assert.Equal(t, model.ChargeResult{RemainingBalance: 100, IsAuthorized: true}, debit(t, fx.engine, 0))
		})
	}
}

func TestEngine_AbsentBalanceIsZero(t *testing.T) {
	for _, f := range engineFactories {
		t.Run(f.name, func(t *testing.T) {
			fx := f.new(t)

			assert.Equal(t, model.ChargeResult{RemainingBalance: 0}, debit(t, fx.engine, 1))
		})
	}
}

func TestEngine_InvalidUnitNeverTouchesStore(t *testing.T) {
	tx := &memTxStore{}
	cas := &memCASStore{}
	engines := []*Engine{NewTxEngine(tx), NewCASEngine(cas)}

	for _, unit := range []any{nil, -1, 0.1, "foobar", true} {
		for _, e := range engines {
			res, err := e.Debit(context.Background(), model.ChargeRequest{Unit: unit})
			require.ErrorIs(t, err, ErrInvalidArgument, "unit %v", unit)
			assert.Nil(t, res)
		}
	}

	assert.Zero(t, tx.begins)
	assert.Zero(t, cas.reads)
}

func TestEngine_ConcurrentDebitsCannotBothCommit(t *testing.T) {
	for _, f := range engineFactories {
		t.Run(f.name, func(t *testing.T) {
			// Both debits wait in the hook until the other has read the
			// balance, so their read and write phases always overlap.
			var arrived sync.WaitGroup
			arrived.Add(2)
			barrier := func(ctx context.Context, req model.ChargeRequest) error {
				arrived.Done()
				arrived.Wait()
				return nil
			}

			fx := f.new(t, WithPreCommitHook(barrier))
			_, err := fx.engine.ResetBalance(context.Background())
			require.NoError(t, err)

			results := make([]model.ChargeResult, 2)
			g, ctx := errgroup.WithContext(context.Background())
			for i := range results {
				g.Go(func() error {
					res, err := fx.engine.Debit(ctx, model.ChargeRequest{Unit: 100})
					if err != nil {
						return err
					}
					results[i] = *res
					return nil
				})
			}
			require.NoError(t, g.Wait())

			assert.ElementsMatch(t, []model.ChargeResult{
				{RemainingBalance: 0, IsAuthorized: true, Charges: 100},
				{RemainingBalance: 100, IsAuthorized: false, Charges: 0},
			}, results)
			assert.Equal(t, int64(0), fx.balance())
		})
	}
}

func TestEngine_ConflictIsNotRetried(t *testing.T) {
	for _, f := range engineFactories {
		t.Run(f.name, func(t *testing.T) {
			var fx engineFixture
			hookCalls := 0
			interfere := func(ctx context.Context, req model.ChargeRequest) error {
				hookCalls++
				fx.overwrite(70)
				return nil
			}
			var outcomes []Outcome
			fx = f.new(t, WithPreCommitHook(interfere), WithObserver(func(o Outcome) {
				outcomes = append(outcomes, o)
			}))
			fx.overwrite(100)

			res := debit(t, fx.engine, 20)

			assert.Equal(t, model.ChargeResult{RemainingBalance: 100}, res)
			assert.Equal(t, int64(70), fx.balance())
			assert.Equal(t, 1, hookCalls)
			assert.Equal(t, []Outcome{OutcomeConflict}, outcomes)
		})
	}
}

func TestEngine_Outcomes(t *testing.T) {
	var outcomes []Outcome
	store := &memTxStore{}
	e := NewTxEngine(store, WithObserver(func(o Outcome) { outcomes = append(outcomes, o) }))
	_, err := e.ResetBalance(context.Background())
	require.NoError(t, err)

	debit(t, e, 60)
	debit(t, e, 60)
	_, err = e.Debit(context.Background(), model.ChargeRequest{Unit: "x"})
	require.Error(t, err)

	store.err = fmt.Errorf("%w: dial tcp: connection refused", ErrStoreUnavailable)
	_, err = e.Debit(context.Background(), model.ChargeRequest{Unit: 1})
	require.Error(t, err)

	assert.Equal(t, []Outcome{OutcomeAuthorized, OutcomeDeclined, OutcomeInvalid, OutcomeFailed}, outcomes)
}

func TestEngine_StoreErrorsPropagateUnchanged(t *testing.T) {
	storeErr := fmt.Errorf("%w: i/o timeout", ErrStoreUnavailable)

	tx := &memTxStore{err: storeErr}
	_, err := NewTxEngine(tx).Debit(context.Background(), model.ChargeRequest{Unit: 1})
	assert.Same(t, storeErr, err)

	cas := &memCASStore{err: storeErr}
	_, err = NewCASEngine(cas).Debit(context.Background(), model.ChargeRequest{Unit: 1})
	assert.Same(t, storeErr, err)

	_, err = NewCASEngine(cas).ResetBalance(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestEngine_HookErrorAbortsWithoutWrite(t *testing.T) {
	for _, f := range engineFactories {
		t.Run(f.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			fx := f.new(t, WithPreCommitHook(SentinelDelay("foobar", DefaultDelay, nil)))
			fx.overwrite(100)

			res, err := fx.engine.Debit(ctx, model.ChargeRequest{Unit: 10, Delay: "foobar"})
			require.True(t, errors.Is(err, context.Canceled))
			assert.Nil(t, res)
			assert.Equal(t, int64(100), fx.balance())
		})
	}
}

func TestEngine_SessionAlwaysReleased(t *testing.T) {
	store := &memTxStore{}
	e := NewTxEngine(store)
	_, err := e.ResetBalance(context.Background())
	require.NoError(t, err)

	debit(t, e, 10)  // committed
	debit(t, e, 500) // declined

	assert.Equal(t, 2, store.begins)
	assert.Equal(t, 2, store.closes)
}

func TestEngine_ResetIsIdempotent(t *testing.T) {
	cas := &memCASStore{}
	e := NewCASEngine(cas, WithKey("tenant/balance"), WithDefaultBalance(250))
	assert.Equal(t, "tenant/balance", e.Key())

	for i := 0; i < 3; i++ {
		debit(t, e, 7)
		bal, err := e.ResetBalance(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(250), bal)
		assert.Equal(t, int64(250), cas.balance())
	}

	for _, ttl := range cas.ttls {
		assert.Equal(t, DefaultCASTTL, ttl)
	}
}
