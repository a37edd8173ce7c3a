package engine

import (
	"context"

	"github.com/openfroyo/moddeps/pkg/constraint"
)

// Inventory is the set of modules present on disk.
type Inventory interface {
	// Lookup returns the installed module named name.
	Lookup(name string) (InventoryEntry, bool)

	// Paths returns the module path that was scanned, in priority order.
	Paths() []string
}

// ManifestSource is a parsed manifest of desired modules.
type ManifestSource interface {
	// Lookup returns the manifest entry for name.
	Lookup(name string) (ModuleRecord, bool)
}

// Registry fetches module metadata from a remote source.
type Registry interface {
	// FetchModule returns the highest release of ref satisfying c, with its
	// declared dependencies. Unknown modules yield an error wrapping ErrNotFound.
	FetchModule(ctx context.Context, ref ModuleRef, c constraint.Constraint) (*ModuleRecord, error)
}

// PackageInstaller performs the actual install or upgrade of one module.
type PackageInstaller interface {
	// Install installs or upgrades the module described by req.
	Install(ctx context.Context, req InstallRequest) error
}

// ModulePathResolver discovers the host's module search path.
type ModulePathResolver interface {
	// ModulePath returns the directories searched for modules, in priority order.
	ModulePath(ctx context.Context) ([]string, error)
}

// Recorder observes install runs. Errors are logged and never abort a run.
type Recorder interface {
	// RunStarted is called before the first plan entry is processed.
	RunStarted(ctx context.Context, report *InstallReport, plan *ResolutionPlan) error

	// OutcomeRecorded is called after each plan entry.
	OutcomeRecorded(ctx context.Context, report *InstallReport, outcome Outcome) error

	// RunFinished is called once every entry has been processed.
	RunFinished(ctx context.Context, report *InstallReport) error
}
