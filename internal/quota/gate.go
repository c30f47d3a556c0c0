// Package quota implements the local daily run allowance. The gate is
// advisory and client-side only: it has no server-side enforcement and a
// determined caller can bypass it by clearing local state. Its job is to
// keep honest installations within the free allowance, not to secure
// anything.
package quota

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/harborview/tradescope/internal/model"
)

// DefaultDailyLimit is the free daily run allowance.
const DefaultDailyLimit = 3

// ErrQuotaExceeded denies a run before any external call is made. It is a
// pre-flight condition, not a pipeline failure, and maps to an upgrade
// prompt in user-facing surfaces.
var ErrQuotaExceeded = eris.New("quota: daily analysis limit reached")

// Store persists quota state. Injected so tests can use an in-memory fake
// and production can share the run store's database.
type Store interface {
	GetQuotaState(ctx context.Context) (model.QuotaState, error)
	SetQuotaState(ctx context.Context, state model.QuotaState) error
}

// Gate enforces the daily allowance. Read-decide-write is serialized by a
// mutex; cross-process races are accepted as best-effort since the gate is
// advisory.
type Gate struct {
	mu    sync.Mutex
	store Store
	limit int
	now   func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// NewGate creates a Gate with the given daily limit (0 or negative selects
// DefaultDailyLimit).
func NewGate(store Store, limit int, opts ...Option) *Gate {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	g := &Gate{
		store: store,
		limit: limit,
		now:   time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// TryConsume checks and, on success, consumes one unit of the daily
// allowance. A stored date differing from today resets the count before the
// check. An unlimited state always passes without mutating the counter.
func (g *Gate) TryConsume(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, err := g.store.GetQuotaState(ctx)
	if err != nil {
		return false, eris.Wrap(err, "quota: load state")
	}

	if state.Unlimited {
		return true, nil
	}

	today := g.now().Format("2006-01-02")
	if state.Date != today {
		state.Date = today
		state.Count = 0
	}

	if state.Count >= g.limit {
		return false, nil
	}

	state.Count++
	if err := g.store.SetQuotaState(ctx, state); err != nil {
		return false, eris.Wrap(err, "quota: save state")
	}
	return true, nil
}

// Remaining reports how many runs are left today without consuming one.
// Unlimited states report the full limit.
func (g *Gate) Remaining(ctx context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, err := g.store.GetQuotaState(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "quota: load state")
	}
	if state.Unlimited {
		return g.limit, nil
	}
	if state.Date != g.now().Format("2006-01-02") {
		return g.limit, nil
	}
	left := g.limit - state.Count
	if left < 0 {
		left = 0
	}
	return left, nil
}

// Reset clears the counter for today. Used by the quota CLI command.
func (g *Gate) Reset(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, err := g.store.GetQuotaState(ctx)
	if err != nil {
		return eris.Wrap(err, "quota: load state")
	}
	state.Date = g.now().Format("2006-01-02")
	state.Count = 0
	return eris.Wrap(g.store.SetQuotaState(ctx, state), "quota: save state")
}

// MemoryStore is an in-memory Store for tests and single-shot CLI use.
type MemoryStore struct {
	mu    sync.Mutex
	state model.QuotaState
}

// NewMemoryStore creates a MemoryStore seeded with the given state.
func NewMemoryStore(state model.QuotaState) *MemoryStore {
	return &MemoryStore{state: state}
}

func (m *MemoryStore) GetQuotaState(_ context.Context) (model.QuotaState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *MemoryStore) SetQuotaState(_ context.Context, state model.QuotaState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	return nil
}
