// Package store persists analysis runs and quota state. Two drivers are
// provided: SQLite (default, zero-ops local file) and Postgres (shared
// deployments).
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/harborview/tradescope/internal/model"
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = eris.New("store: run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status      model.RunStatus `json:"status,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Limit       int             `json:"limit,omitempty"`
	Offset      int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the analysis pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, req model.AnalysisRequest) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Quota state (implements quota.Store)
	GetQuotaState(ctx context.Context) (model.QuotaState, error)
	SetQuotaState(ctx context.Context, state model.QuotaState) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
