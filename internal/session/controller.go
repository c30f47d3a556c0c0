// Package session tracks the single in-flight analysis per user session and
// suppresses stale results. A run's outcome is applied to visible state only
// if its handle still matches the controller's current handle at completion
// time: out-of-order completions and post-cancellation completions are
// discarded silently, so exactly one outcome is ever applied per session.
package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/harborview/tradescope/internal/model"
)

// Handle identifies one run. Handles are strictly increasing; HandleNone is
// the sentinel meaning no run is current.
type Handle uint64

// HandleNone marks the absence of a current run.
const HandleNone Handle = 0

// Phase is the observable state of the session.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseRunning Phase = "running"
	PhaseSuccess Phase = "success"
	PhaseError   Phase = "error"
)

// Snapshot is a point-in-time view of the session state.
type Snapshot struct {
	Phase  Phase
	Handle Handle
	Data   *model.DashboardData
	Err    error
}

// RunFunc executes one full analysis for a request.
type RunFunc func(ctx context.Context, req model.AnalysisRequest) (*model.DashboardData, error)

// Controller is the request lifecycle state machine. All methods are safe
// for concurrent use.
type Controller struct {
	mu      sync.Mutex
	run     RunFunc
	minted  Handle // last handle handed out
	current Handle // HandleNone when no run is current
	phase   Phase
	data    *model.DashboardData
	err     error
}

// NewController creates a Controller in the Idle phase.
func NewController(run RunFunc) *Controller {
	return &Controller{run: run, phase: PhaseIdle}
}

// Start begins a new run, superseding any run in flight: the new handle
// becomes current and the old run's eventual result will no longer match.
// Prior displayed data is cleared before the new result is known. The run
// executes on its own goroutine; ctx governs the external calls but is not
// cancelled by Cancel (cancellation is cooperative — results are discarded,
// calls run to completion).
func (c *Controller) Start(ctx context.Context, req model.AnalysisRequest) Handle {
	c.mu.Lock()
	c.minted++
	h := c.minted
	c.current = h
	c.phase = PhaseRunning
	c.data = nil
	c.err = nil
	c.mu.Unlock()

	go func() {
		data, err := c.run(ctx, req)
		if err != nil {
			c.Fail(h, err)
			return
		}
		c.Complete(h, data)
	}()

	return h
}

// Cancel invalidates the current handle and returns the session to Idle.
// In-flight external calls are left to finish; their results are discarded
// when the completing handle no longer matches.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseRunning {
		return
	}
	c.current = HandleNone
	c.phase = PhaseIdle
	c.data = nil
	c.err = nil
}

// Snapshot returns the current observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Phase:  c.phase,
		Handle: c.current,
		Data:   c.data,
		Err:    c.err,
	}
}

// Complete applies a successful result if and only if h is still the
// current handle. Stale completions are dropped without any state
// transition or user-visible effect.
func (c *Controller) Complete(h Handle, data *model.DashboardData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h != c.current {
		// Stale result: superseded or cancelled. Dropping it is the designed
		// outcome, not a failure — debug level only.
		zap.L().Debug("discarding stale run result", zap.Uint64("handle", uint64(h)))
		return
	}
	c.phase = PhaseSuccess
	c.data = data
	c.err = nil
}

// Fail applies a failure if and only if h is still the current handle.
func (c *Controller) Fail(h Handle, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h != c.current {
		zap.L().Debug("discarding stale run error", zap.Uint64("handle", uint64(h)))
		return
	}
	c.phase = PhaseError
	c.data = nil
	c.err = err
}
