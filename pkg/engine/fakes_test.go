package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openfroyo/moddeps/pkg/constraint"
)

type fakeInventory struct {
	entries map[string]InventoryEntry
	paths   []string
}

func newFakeInventory(entries ...InventoryEntry) *fakeInventory {
	inv := &fakeInventory{
		entries: make(map[string]InventoryEntry),
		paths:   []string{"/etc/puppetlabs/code/modules"},
	}
	for _, e := range entries {
		inv.entries[e.Name] = e
	}
	return inv
}

func (f *fakeInventory) Lookup(name string) (InventoryEntry, bool) {
	e, ok := f.entries[name]
	return e, ok
}

func (f *fakeInventory) Paths() []string {
	return f.paths
}

func (f *fakeInventory) Installed() InstalledState {
	state := InstalledState{}
	for name, e := range f.entries {
		state[name] = e.Version
	}
	return state
}

type fakeManifest map[string]ModuleRecord

func (m fakeManifest) Lookup(name string) (ModuleRecord, bool) {
	rec, ok := m[name]
	return rec, ok
}

// fakeRegistry serves releases by name and picks the highest one matching
// the requested constraint.
type fakeRegistry struct {
	releases map[string][]ModuleRecord
	calls    []string
	err      error
}

func newFakeRegistry(releases ...ModuleRecord) *fakeRegistry {
	reg := &fakeRegistry{releases: make(map[string][]ModuleRecord)}
	for _, rel := range releases {
		if rel.Source == "" {
			rel.Source = SourceRegistry
		}
		reg.releases[rel.Name] = append(reg.releases[rel.Name], rel)
	}
	return reg
}

func (f *fakeRegistry) FetchModule(ctx context.Context, ref ModuleRef, c constraint.Constraint) (*ModuleRecord, error) {
	f.calls = append(f.calls, ref.Name)
	if f.err != nil {
		return nil, f.err
	}

	releases, ok := f.releases[ref.Name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref.Name, ErrNotFound)
	}

	versions := make([]string, len(releases))
	for i, rel := range releases {
		versions[i] = rel.Version
	}
	selected, ok := c.Select(versions)
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", ref.Name, c, ErrNotFound)
	}
	for _, rel := range releases {
		if rel.Version == selected {
			out := rel.WithDependencies(rel.Dependencies)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

type fakePackageInstaller struct {
	mu       sync.Mutex
	requests []InstallRequest
	failures map[string]error
	deadline bool
}

func (f *fakePackageInstaller) Install(ctx context.Context, req InstallRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if _, ok := ctx.Deadline(); ok {
		f.deadline = true
	}
	if err, ok := f.failures[req.Name]; ok {
		return err
	}
	return nil
}

func (f *fakePackageInstaller) names() []string {
	names := make([]string, len(f.requests))
	for i, r := range f.requests {
		names[i] = r.Name
	}
	return names
}

type fakeRecorder struct {
	started  int
	outcomes []Outcome
	finished int
	err      error
}

func (f *fakeRecorder) RunStarted(ctx context.Context, report *InstallReport, plan *ResolutionPlan) error {
	f.started++
	return f.err
}

func (f *fakeRecorder) OutcomeRecorded(ctx context.Context, report *InstallReport, outcome Outcome) error {
	f.outcomes = append(f.outcomes, outcome)
	return f.err
}

func (f *fakeRecorder) RunFinished(ctx context.Context, report *InstallReport) error {
	f.finished++
	return f.err
}

func dep(name, c string) Requirement {
	return Requirement{Name: name, Constraint: c}
}

func installed(name, version string, deps ...Requirement) InventoryEntry {
	return InventoryEntry{
		Name:         name,
		Owner:        "puppetlabs",
		Version:      version,
		Path:         "/etc/puppetlabs/code/modules/" + name,
		Dependencies: deps,
	}
}

func release(name, version string, deps ...Requirement) ModuleRecord {
	return ModuleRecord{Owner: "puppetlabs", Name: name, Version: version, Dependencies: deps}
}

func testContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
