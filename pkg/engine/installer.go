package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/moddeps/pkg/constraint"
)

// Installer applies a ResolutionPlan through a PackageInstaller.
// Entries are processed sequentially in plan order because an install may
// change what later entries find on disk.
type Installer struct {
	pkg            PackageInstaller
	logger         zerolog.Logger
	installTimeout time.Duration
	recorders      []Recorder
}

// NewInstaller creates an installer backed by pkg.
func NewInstaller(pkg PackageInstaller, opts ...Option) *Installer {
	o := buildOptions(opts)
	return &Installer{
		pkg:            pkg,
		logger:         o.logger,
		installTimeout: o.installTimeout,
		recorders:      o.recorders,
	}
}

// PlanOperation decides what Apply would do with entry given the installed
// modules.
func PlanOperation(entry ModuleRecord, installed InstalledState) Operation {
	current, ok := installed.Version(entry.Name)
	if !ok {
		return OperationInstall
	}
	if entry.Source.IsOpaque() {
		return OperationSkip
	}

	if entry.Version != "" {
		if sameVersion(entry.Version, current) {
			return OperationSkip
		}
		return OperationUpgrade
	}

	// An unreadable requirement cannot prove the installed copy is good.
	c, err := constraint.Parse(entry.Constraint)
	if err != nil || !satisfies(c, current) {
		return OperationUpgrade
	}
	return OperationSkip
}

func sameVersion(a, b string) bool {
	if a == b {
		return true
	}
	exact, err := constraint.Exact(a)
	if err != nil {
		return false
	}
	return b != "" && exact.Allows(b)
}

// Apply installs or upgrades every plan entry that is not already satisfied.
//
// A failing entry does not stop the run: the failure is recorded and the
// remaining entries are still processed. When at least one entry failed the
// full report is returned together with an *InstallFailureError. Successful
// installs are recorded in installed, so applying the same plan again against
// the same state is a no-op.
func (i *Installer) Apply(ctx context.Context, plan *ResolutionPlan, installed InstalledState) (*InstallReport, error) {
	if plan == nil {
		return nil, &InputError{Message: "no plan to apply"}
	}
	if installed == nil {
		installed = InstalledState{}
	}

	ctx, span := tracer.Start(ctx, "installer.apply", trace.WithAttributes(
		attribute.String("moddeps.plan_id", plan.ID),
		attribute.Int("moddeps.plan_size", plan.Len()),
	))
	defer span.End()

	report := &InstallReport{
		RunID:     uuid.New().String(),
		PlanID:    plan.ID,
		Outcomes:  make([]Outcome, 0, plan.Len()),
		StartedAt: time.Now(),
	}

	log := i.logger.With().Str("run_id", report.RunID).Str("plan_id", plan.ID).Logger()
	log.Info().Int("modules", plan.Len()).Msg("Applying plan")

	i.notify(log, func(r Recorder) error { return r.RunStarted(ctx, report, plan) })

	var failures []*InstallFailure
	for _, entry := range plan.Entries {
		outcome := i.process(ctx, log, entry, installed)
		report.Outcomes = append(report.Outcomes, outcome)
		if outcome.Status == OutcomeFailed {
			failures = append(failures, &InstallFailure{
				Module:    outcome.Name,
				Version:   outcome.Version,
				Operation: outcome.Operation,
				Err:       outcome.Err,
			})
		}
		i.notify(log, func(r Recorder) error { return r.OutcomeRecorded(ctx, report, outcome) })
	}

	report.FinishedAt = time.Now()
	i.notify(log, func(r Recorder) error { return r.RunFinished(ctx, report) })

	log.Info().
		Int("installed", len(report.Installed())).
		Int("skipped", len(report.Skipped())).
		Int("failed", len(failures)).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Plan applied")

	if len(failures) > 0 {
		err := &InstallFailureError{Failures: failures}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	return report, nil
}

func (i *Installer) process(ctx context.Context, log zerolog.Logger, entry ModuleRecord, installed InstalledState) Outcome {
	op := PlanOperation(entry, installed)
	outcome := Outcome{Name: entry.Name, Version: entry.Version, Operation: op}

	elog := log.With().
		Str("module", entry.Name).
		Str("version", entry.Version).
		Str("operation", string(op)).
		Logger()

	if op == OperationSkip {
		elog.Debug().Msg("Module already satisfied")
		outcome.Status = OutcomeSkipped
		return outcome
	}

	if err := ctx.Err(); err != nil {
		outcome.Status = OutcomeFailed
		outcome.Err = err
		return outcome
	}

	req := InstallRequest{
		Name:       entry.Name,
		Owner:      entry.Owner,
		Version:    entry.Version,
		Constraint: entry.Constraint,
		Operation:  op,
		Source:     entry.Source,
		Location:   entry.Location,
		Ref:        entry.Ref,
	}

	start := time.Now()
	err := i.install(ctx, req)
	outcome.Duration = time.Since(start)

	if err != nil {
		elog.Error().Err(err).Msg("Module install failed")
		outcome.Status = OutcomeFailed
		outcome.Err = err
		return outcome
	}

	elog.Info().Dur("duration", outcome.Duration).Msg("Module installed")
	installed.Record(entry.Name, entry.Version)
	outcome.Status = OutcomeSucceeded
	return outcome
}

func (i *Installer) install(ctx context.Context, req InstallRequest) error {
	ctx, span := tracer.Start(ctx, "installer.install", trace.WithAttributes(
		attribute.String("moddeps.module", req.Slug()),
		attribute.String("moddeps.version", req.Version),
		attribute.String("moddeps.operation", string(req.Operation)),
	))
	defer span.End()

	if i.installTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.installTimeout)
		defer cancel()
	}

	if err := i.pkg.Install(ctx, req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (i *Installer) notify(log zerolog.Logger, fn func(Recorder) error) {
	for _, r := range i.recorders {
		if err := fn(r); err != nil {
			log.Warn().Err(err).Msg("Install recorder failed")
		}
	}
}
