package engine

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Source identifies where a module comes from.
type Source string

const (
	// SourceLocal modules are resolved purely from the local inventory.
	SourceLocal Source = "local"

	// SourceRegistry modules are resolved through the external registry.
	SourceRegistry Source = "registry"

	// SourceGit modules are checked out from source control. Their
	// dependencies are not introspected and their version is opaque.
	SourceGit Source = "git"
)

// IsOpaque reports whether the resolver must treat the module as a black box.
func (s Source) IsOpaque() bool {
	return s == SourceGit
}

var moduleNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidModuleName reports whether name is acceptable to the host package manager.
func ValidModuleName(name string) bool {
	return moduleNameRe.MatchString(name)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("modulename", func(fl validator.FieldLevel) bool {
		return ValidModuleName(fl.Field().String())
	})
	return v
}

// Requirement is one declared dependency: a module name plus a version constraint.
type Requirement struct {
	// Name is the bare module name.
	Name string `json:"name" validate:"required,modulename"`

	// Owner is the namespace, informational only.
	Owner string `json:"owner,omitempty"`

	// Constraint is the raw version requirement. Empty means any version.
	Constraint string `json:"version_requirement,omitempty"`
}

// String renders the requirement as name@constraint.
func (r Requirement) String() string {
	if r.Constraint == "" {
		return r.Name
	}
	return r.Name + "@" + r.Constraint
}

// ModuleRecord describes one module. Records are values: the With* helpers
// return modified copies and never share dependency slices.
type ModuleRecord struct {
	// Owner is the namespace, may be empty.
	Owner string `json:"owner,omitempty"`

	// Name identifies the module. Two records describe the same module iff
	// their names match.
	Name string `json:"name" validate:"required,modulename"`

	// Version is the selected version. Empty means unconstrained or latest.
	Version string `json:"version,omitempty" validate:"omitempty,semver"`

	// Dependencies are the module's declared requirements, in declaration order.
	Dependencies []Requirement `json:"dependencies,omitempty" validate:"dive"`

	// Source is the module's origin.
	Source Source `json:"source" validate:"omitempty,oneof=local registry git"`

	// Constraint is the requirement the selected version must satisfy.
	Constraint string `json:"constraint,omitempty"`

	// Location is the source-control URL for git modules.
	Location string `json:"location,omitempty"`

	// Ref is the branch, tag or commit for git modules.
	Ref string `json:"ref,omitempty"`
}

// MissingModule builds the placeholder record used when reporting a module
// that could not be found.
func MissingModule(name string) ModuleRecord {
	return ModuleRecord{Name: name}
}

// SameModule reports whether both records describe the same module.
func (m ModuleRecord) SameModule(o ModuleRecord) bool {
	return m.Name == o.Name
}

// Slug returns owner-name, or the bare name when no owner is known.
func (m ModuleRecord) Slug() string {
	if m.Owner == "" {
		return m.Name
	}
	return m.Owner + "-" + m.Name
}

// String renders the record as slug@version.
func (m ModuleRecord) String() string {
	if m.Version == "" {
		return m.Slug()
	}
	return m.Slug() + "@" + m.Version
}

// Validate checks the record against the naming and version rules.
func (m ModuleRecord) Validate() error {
	if err := validate.Struct(m); err != nil {
		return &InputError{Message: fmt.Sprintf("invalid module %q", m.Name), Err: err}
	}
	return nil
}

// WithVersion returns a copy with Version replaced.
func (m ModuleRecord) WithVersion(version string) ModuleRecord {
	m.Dependencies = copyRequirements(m.Dependencies)
	m.Version = version
	return m
}

// WithConstraint returns a copy with Constraint replaced.
func (m ModuleRecord) WithConstraint(c string) ModuleRecord {
	m.Dependencies = copyRequirements(m.Dependencies)
	m.Constraint = c
	return m
}

// WithDependencies returns a copy with Dependencies replaced.
func (m ModuleRecord) WithDependencies(deps []Requirement) ModuleRecord {
	m.Dependencies = copyRequirements(deps)
	return m
}

func copyRequirements(reqs []Requirement) []Requirement {
	if reqs == nil {
		return nil
	}
	out := make([]Requirement, len(reqs))
	copy(out, reqs)
	return out
}

// ModuleRef is a parsed module reference as typed by a user.
type ModuleRef struct {
	Owner string
	Name  string
}

// ParseModuleRef accepts name, owner-name and owner/name.
func ParseModuleRef(s string) (ModuleRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ModuleRef{}, &InputError{Message: "empty module name"}
	}

	ref := ModuleRef{Name: s}
	if i := strings.IndexAny(s, "/-"); i >= 0 {
		ref.Owner, ref.Name = s[:i], s[i+1:]
		if ref.Owner == "" {
			return ModuleRef{}, &InputError{Message: fmt.Sprintf("invalid module name %q", s)}
		}
	}
	ref.Name = strings.ToLower(ref.Name)
	if !ValidModuleName(ref.Name) {
		return ModuleRef{}, &InputError{Message: fmt.Sprintf("invalid module name %q", s)}
	}
	return ref, nil
}

// Slug returns owner-name, or the bare name.
func (r ModuleRef) Slug() string {
	if r.Owner == "" {
		return r.Name
	}
	return r.Owner + "-" + r.Name
}

// InventoryEntry is one module found on disk.
type InventoryEntry struct {
	Name         string        `json:"name"`
	Owner        string        `json:"owner,omitempty"`
	Version      string        `json:"version,omitempty"`
	Path         string        `json:"path"`
	Dependencies []Requirement `json:"dependencies,omitempty"`

	// MetadataErr is set when the module's metadata could not be parsed and
	// zero dependencies were assumed.
	MetadataErr error `json:"-"`
}

// Record converts the entry into a local ModuleRecord.
func (e InventoryEntry) Record() ModuleRecord {
	return ModuleRecord{
		Owner:        e.Owner,
		Name:         e.Name,
		Version:      e.Version,
		Dependencies: copyRequirements(e.Dependencies),
		Source:       SourceLocal,
	}
}

// InstalledState maps module names to installed versions. An installed module
// with unknown version maps to "".
type InstalledState map[string]string

// Version returns the installed version of name.
func (s InstalledState) Version(name string) (string, bool) {
	v, ok := s[name]
	return v, ok
}

// Record marks name as installed at version.
func (s InstalledState) Record(name, version string) {
	s[name] = version
}

// PlanEdge records that From must be installed before To.
type PlanEdge struct {
	From string `json:"from"`
	To   string `json:"to"`

	// Constraint is the requirement To declared on From.
	Constraint string `json:"constraint,omitempty"`
}

// ResolutionPlan is the ordered, deduplicated list of modules to install.
type ResolutionPlan struct {
	ID        string         `json:"id"`
	Requested []string       `json:"requested"`
	Entries   []ModuleRecord `json:"entries"`
	Edges     []PlanEdge     `json:"edges,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	index     map[string]int
}

// Len returns the number of entries.
func (p *ResolutionPlan) Len() int {
	return len(p.Entries)
}

// Names returns entry names in plan order.
func (p *ResolutionPlan) Names() []string {
	names := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		names[i] = e.Name
	}
	return names
}

// Get returns the entry named name.
func (p *ResolutionPlan) Get(name string) (ModuleRecord, bool) {
	if p.index == nil {
		p.index = make(map[string]int, len(p.Entries))
		for i, e := range p.Entries {
			p.index[e.Name] = i
		}
	}
	i, ok := p.index[name]
	if !ok {
		return ModuleRecord{}, false
	}
	return p.Entries[i], true
}

// InstallRequest is handed to the PackageInstaller for one module.
type InstallRequest struct {
	Name       string
	Owner      string
	Version    string
	Constraint string
	Operation  Operation
	Source     Source
	Location   string
	Ref        string
}

// Slug returns owner-name, or the bare name.
func (r InstallRequest) Slug() string {
	if r.Owner == "" {
		return r.Name
	}
	return r.Owner + "-" + r.Name
}

// Outcome is the result of processing one plan entry.
type Outcome struct {
	Name      string        `json:"name"`
	Version   string        `json:"version,omitempty"`
	Operation Operation     `json:"operation"`
	Status    OutcomeStatus `json:"status"`
	Err       error         `json:"-"`
	Duration  time.Duration `json:"duration"`
}

// InstallReport summarises one Apply call.
type InstallReport struct {
	RunID      string    `json:"run_id"`
	PlanID     string    `json:"plan_id"`
	Outcomes   []Outcome `json:"outcomes"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Installed returns the outcomes that installed or upgraded a module.
func (r *InstallReport) Installed() []Outcome {
	return r.filter(OutcomeSucceeded)
}

// Skipped returns the outcomes that required no action.
func (r *InstallReport) Skipped() []Outcome {
	return r.filter(OutcomeSkipped)
}

// Failures returns the failed outcomes.
func (r *InstallReport) Failures() []Outcome {
	return r.filter(OutcomeFailed)
}

// Failed reports whether any entry failed.
func (r *InstallReport) Failed() bool {
	return len(r.Failures()) > 0
}

// Status returns the overall run status.
func (r *InstallReport) Status() RunStatus {
	failed := len(r.Failures())
	switch {
	case failed == 0:
		return RunStatusSucceeded
	case failed == len(r.Outcomes):
		return RunStatusFailed
	default:
		return RunStatusPartial
	}
}

func (r *InstallReport) filter(status OutcomeStatus) []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out
}
