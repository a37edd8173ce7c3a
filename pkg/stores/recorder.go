package stores

import (
	"context"
	"time"

	"github.com/openfroyo/moddeps/pkg/engine"
)

// HistoryRecorder writes install runs to a Store. It implements
// engine.Recorder.
type HistoryRecorder struct {
	store         Store
	puppetVersion string
}

// NewHistoryRecorder creates a recorder that tags runs with puppetVersion.
func NewHistoryRecorder(store Store, puppetVersion string) *HistoryRecorder {
	return &HistoryRecorder{store: store, puppetVersion: puppetVersion}
}

// RunStarted inserts the run as running.
func (r *HistoryRecorder) RunStarted(ctx context.Context, report *engine.InstallReport, plan *engine.ResolutionPlan) error {
	return r.store.CreateRun(ctx, &Run{
		ID:            report.RunID,
		PlanID:        report.PlanID,
		Requested:     plan.Requested,
		Status:        engine.RunStatusRunning,
		PuppetVersion: r.puppetVersion,
		StartedAt:     report.StartedAt,
	})
}

// OutcomeRecorded appends one outcome. Its position is its index in the
// report.
func (r *HistoryRecorder) OutcomeRecorded(ctx context.Context, report *engine.InstallReport, outcome engine.Outcome) error {
	var errMsg *string
	if outcome.Err != nil {
		msg := outcome.Err.Error()
		errMsg = &msg
	}

	return r.store.AppendOutcome(ctx, &Outcome{
		RunID:      report.RunID,
		Position:   len(report.Outcomes) - 1,
		Module:     outcome.Name,
		Version:    outcome.Version,
		Operation:  outcome.Operation,
		Status:     outcome.Status,
		Error:      errMsg,
		DurationMS: outcome.Duration.Milliseconds(),
		RecordedAt: time.Now(),
	})
}

// RunFinished stores the final run status.
func (r *HistoryRecorder) RunFinished(ctx context.Context, report *engine.InstallReport) error {
	var errMsg *string
	if failures := report.Failures(); len(failures) > 0 {
		msg := (&engine.InstallFailureError{Failures: toFailures(failures)}).Error()
		errMsg = &msg
	}
	return r.store.UpdateRunStatus(ctx, report.RunID, report.Status(), errMsg)
}

func toFailures(outcomes []engine.Outcome) []*engine.InstallFailure {
	out := make([]*engine.InstallFailure, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, &engine.InstallFailure{Module: o.Name, Version: o.Version, Operation: o.Operation, Err: o.Err})
	}
	return out
}
