package stores

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/moddeps/pkg/engine"
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded install run.
type Run struct {
	ID            string           `json:"id"`
	PlanID        string           `json:"plan_id"`
	Requested     []string         `json:"requested"`
	Status        engine.RunStatus `json:"status"`
	PuppetVersion string           `json:"puppet_version,omitempty"`
	Error         *string          `json:"error,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// Outcome is the recorded result of one plan entry.
type Outcome struct {
	ID         int64                `json:"id"`
	RunID      string               `json:"run_id"`
	Position   int                  `json:"position"`
	Module     string               `json:"module"`
	Version    string               `json:"version,omitempty"`
	Operation  engine.Operation     `json:"operation"`
	Status     engine.OutcomeStatus `json:"status"`
	Error      *string              `json:"error,omitempty"`
	DurationMS int64                `json:"duration_ms"`
	RecordedAt time.Time            `json:"recorded_at"`
}

// Store defines the interface for the run history.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status engine.RunStatus, errMsg *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Outcome operations
	AppendOutcome(ctx context.Context, outcome *Outcome) error
	ListOutcomesByRun(ctx context.Context, runID string) ([]*Outcome, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
