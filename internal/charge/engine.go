package charge

import (
	"context"
	"time"

	"chargeline/internal/model"

	"go.uber.org/zap"
)

const (
	DefaultKey           = "account1/balance"
	DefaultBalance int64 = 100
	DefaultCASTTL        = 30 * 24 * time.Hour
)

type Outcome string

const (
	OutcomeAuthorized Outcome = "authorized"
	OutcomeDeclined   Outcome = "declined"
	OutcomeConflict   Outcome = "conflict"
	OutcomeInvalid    Outcome = "invalid"
	OutcomeFailed     Outcome = "failed"
)

// Observer is told how every debit ended.
type Observer func(Outcome)

type Option func(*Engine)

func WithKey(key string) Option {
	return func(e *Engine) { e.key = key }
}

func WithDefaultBalance(balance int64) Option {
	return func(e *Engine) { e.defaultBalance = balance }
}

// WithCASTTL sets the entry lifetime used for writes to a CASStore.
func WithCASTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.ttl = ttl }
}

func WithPreCommitHook(hook PreCommitHook) Option {
	return func(e *Engine) {
		if hook != nil {
			e.hook = hook
		}
	}
}

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observe = o
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// readPhase is what a debit holds between reading the balance and its single
// conditional write.
type readPhase interface {
	balance() int64
	commit(ctx context.Context, charges int64) (remaining int64, committed bool, err error)
	release() error
}

type backend interface {
	begin(ctx context.Context, key string) (readPhase, error)
	reset(ctx context.Context, key string, value int64) error
}

// Engine debits one account balance with optimistic concurrency control. It
// takes no locks: the store's conditional write decides which of two racing
// debits wins, and the loser is reported as unauthorized.
type Engine struct {
	store          backend
	key            string
	defaultBalance int64
	ttl            time.Duration
	hook           PreCommitHook
	observe        Observer
	logger         *zap.Logger
}

func newEngine(opts []Option) *Engine {
	e := &Engine{
		key:            DefaultKey,
		defaultBalance: DefaultBalance,
		ttl:            DefaultCASTTL,
		hook:           NoDelay,
		observe:        func(Outcome) {},
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewTxEngine returns an engine backed by a watch/transaction store.
func NewTxEngine(store TxStore, opts ...Option) *Engine {
	e := newEngine(opts)
	e.store = txBackend{store: store}
	return e
}

// NewCASEngine returns an engine backed by a compare-and-swap store.
func NewCASEngine(store CASStore, opts ...Option) *Engine {
	e := newEngine(opts)
	e.store = casBackend{store: store, ttl: e.ttl}
	return e
}

func (e *Engine) Key() string { return e.key }

// Debit validates req, reads the balance and, if it covers the charge,
// attempts exactly one conditional write. A write rejected because the
// balance changed since the read is not retried; the debit is reported as
// unauthorized with the balance that was read.
func (e *Engine) Debit(ctx context.Context, req model.ChargeRequest) (*model.ChargeResult, error) {
	charges, err := ParseUnit(req.Unit)
	if err != nil {
		e.observe(OutcomeInvalid)
		return nil, err
	}

	phase, err := e.store.begin(ctx, e.key)
	if err != nil {
		e.observe(OutcomeFailed)
		return nil, err
	}
	defer func() {
		if err := phase.release(); err != nil {
			e.logger.Warn("failed to release read phase", zap.String("key", e.key), zap.Error(err))
		}
	}()

	balance := phase.balance()
	if balance < charges {
		e.observe(OutcomeDeclined)
		return &model.ChargeResult{RemainingBalance: balance}, nil
	}

	if err := e.hook(ctx, req); err != nil {
		e.observe(OutcomeFailed)
		return nil, err
	}

	remaining, committed, err := phase.commit(ctx, charges)
	if err != nil {
		e.observe(OutcomeFailed)
		return nil, err
	}
	if !committed {
		e.logger.Info("balance changed since read, debit aborted",
			zap.String("key", e.key),
			zap.Int64("balance", balance),
			zap.Int64("charges", charges),
		)
		e.observe(OutcomeConflict)
		return &model.ChargeResult{RemainingBalance: balance}, nil
	}

	e.observe(OutcomeAuthorized)
	return &model.ChargeResult{
		RemainingBalance: remaining,
		IsAuthorized:     true,
		Charges:          charges,
	}, nil
}

// ResetBalance overwrites the balance with the default amount.
func (e *Engine) ResetBalance(ctx context.Context) (int64, error) {
	if err := e.store.reset(ctx, e.key, e.defaultBalance); err != nil {
		return 0, err
	}
	return e.defaultBalance, nil
}

type txBackend struct {
	store TxStore
}

func (b txBackend) begin(ctx context.Context, key string) (readPhase, error) {
	sess, err := b.store.BeginWatch(ctx, key)
	if err != nil {
		return nil, err
	}
	bal, err := sess.ReadBalance(ctx)
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	return &txPhase{sess: sess, bal: bal}, nil
}

func (b txBackend) reset(ctx context.Context, key string, value int64) error {
	return b.store.SetBalance(ctx, key, value)
}

type txPhase struct {
	sess TxSession
	bal  int64
}

func (p *txPhase) balance() int64 { return p.bal }

func (p *txPhase) commit(ctx context.Context, charges int64) (int64, bool, error) {
	return p.sess.CommitDecrement(ctx, charges)
}

func (p *txPhase) release() error { return p.sess.Close() }

type casBackend struct {
	store CASStore
	ttl   time.Duration
}

func (b casBackend) begin(ctx context.Context, key string) (readPhase, error) {
	bal, token, err := b.store.ReadWithToken(ctx, key)
	if err != nil {
		return nil, err
	}
	return &casPhase{backend: b, key: key, bal: bal, token: token}, nil
}

func (b casBackend) reset(ctx context.Context, key string, value int64) error {
	return b.store.SetBalance(ctx, key, value, b.ttl)
}

type casPhase struct {
	backend casBackend
	key     string
	bal     int64
	token   Token
}

func (p *casPhase) balance() int64 { return p.bal }

func (p *casPhase) commit(ctx context.Context, charges int64) (int64, bool, error) {
	remaining := p.bal - charges
	ok, err := p.backend.store.CompareAndSwap(ctx, p.key, remaining, p.token, p.backend.ttl)
	if err != nil || !ok {
		return 0, false, err
	}
	return remaining, true, nil
}

func (p *casPhase) release() error { return nil }
