package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// ErrorKind classifies errors for reporting and exit codes.
type ErrorKind string

const (
	// KindInput is a malformed request, rejected before any work is done.
	KindInput ErrorKind = "input"

	// KindNotFound means a module exists in no source.
	KindNotFound ErrorKind = "not_found"

	// KindConflict means two requirements on one module cannot both hold.
	KindConflict ErrorKind = "conflict"

	// KindCycle means the dependency graph contains an unresolvable cycle.
	KindCycle ErrorKind = "cycle"

	// KindMalformedConstraint means a version requirement could not be parsed.
	KindMalformedConstraint ErrorKind = "malformed_constraint"

	// KindMetadata means a module's metadata could not be parsed.
	KindMetadata ErrorKind = "metadata"

	// KindInstall means the package installer failed for at least one module.
	KindInstall ErrorKind = "install"

	// KindInternal covers everything else.
	KindInternal ErrorKind = "internal"
)

// ErrNotFound is returned, wrapped, by registries that do not know a module.
var ErrNotFound = errors.New("module not found")

// InputError is a malformed request.
type InputError struct {
	Message string
	Err     error
}

func (e *InputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *InputError) Unwrap() error   { return e.Err }
func (e *InputError) Kind() ErrorKind { return KindInput }

// ModuleNotFoundError reports a module that no source could provide.
type ModuleNotFoundError struct {
	Module     ModuleRecord
	RequiredBy string
	Paths      []string
}

func (e *ModuleNotFoundError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "can't find %s in %s", e.Module.Name, e.searched())
	if e.RequiredBy != "" {
		fmt.Fprintf(&sb, " (required by %s)", e.RequiredBy)
	}
	return sb.String()
}

func (e *ModuleNotFoundError) searched() string {
	if len(e.Paths) == 0 {
		return "the manifest, module path or registry"
	}
	return strings.Join(e.Paths, ", ")
}

// Is makes errors.Is(err, ErrNotFound) hold.
func (e *ModuleNotFoundError) Is(target error) bool { return target == ErrNotFound }
func (e *ModuleNotFoundError) Kind() ErrorKind      { return KindNotFound }

// VersionConflictError reports two incompatible requirements on one module.
type VersionConflictError struct {
	Name         string
	Existing     string
	Incoming     string
	ExistingFrom string
	IncomingFrom string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict for %s: %q (required by %s) is incompatible with %q (required by %s)",
		e.Name, e.Existing, e.ExistingFrom, e.Incoming, e.IncomingFrom)
}

func (e *VersionConflictError) Kind() ErrorKind { return KindConflict }

// CycleError reports a dependency cycle that cannot be broken.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return "circular dependency detected: " + formatCycle(e.Cycle)
}

func (e *CycleError) Kind() ErrorKind { return KindCycle }

// MalformedConstraintError reports an unparseable version requirement.
type MalformedConstraintError struct {
	Module     string
	RequiredBy string
	Constraint string
	Err        error
}

func (e *MalformedConstraintError) Error() string {
	return fmt.Sprintf("malformed version requirement %q on %s (required by %s): %v",
		e.Constraint, e.Module, e.RequiredBy, e.Err)
}

func (e *MalformedConstraintError) Unwrap() error   { return e.Err }
func (e *MalformedConstraintError) Kind() ErrorKind { return KindMalformedConstraint }

// MetadataParseError reports a module whose metadata could not be read.
// Scans degrade to zero dependencies instead of failing.
type MetadataParseError struct {
	Module string
	Path   string
	Err    error
}

func (e *MetadataParseError) Error() string {
	return fmt.Sprintf("invalid metadata for %s at %s: %v", e.Module, e.Path, e.Err)
}

func (e *MetadataParseError) Unwrap() error   { return e.Err }
func (e *MetadataParseError) Kind() ErrorKind { return KindMetadata }

// InstallFailure is one module the package installer could not handle.
type InstallFailure struct {
	Module    string
	Version   string
	Operation Operation
	Err       error
}

func (e *InstallFailure) Error() string {
	target := e.Module
	if e.Version != "" {
		target += "@" + e.Version
	}
	return fmt.Sprintf("%s %s: %v", e.Operation, target, e.Err)
}

func (e *InstallFailure) Unwrap() error { return e.Err }

// InstallFailureError aggregates the per-module failures of one run.
type InstallFailureError struct {
	Failures []*InstallFailure
}

func (e *InstallFailureError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%d module(s) failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

func (e *InstallFailureError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

func (e *InstallFailureError) Kind() ErrorKind { return KindInstall }

// ResolutionError aggregates every problem found in one resolution pass.
type ResolutionError struct {
	errs *multierror.Error
}

func newResolutionError(merr *multierror.Error) *ResolutionError {
	merr.ErrorFormat = func(errs []error) string {
		if len(errs) == 1 {
			return errs[0].Error()
		}
		lines := make([]string, len(errs))
		for i, err := range errs {
			lines[i] = "  * " + err.Error()
		}
		return fmt.Sprintf("%d resolution errors:\n%s", len(errs), strings.Join(lines, "\n"))
	}
	return &ResolutionError{errs: merr}
}

func (e *ResolutionError) Error() string { return e.errs.Error() }

// Errors returns the individual errors in discovery order.
func (e *ResolutionError) Errors() []error { return e.errs.WrappedErrors() }

func (e *ResolutionError) Unwrap() []error { return e.errs.WrappedErrors() }

// Kind reports the most severe kind contained in the aggregate.
func (e *ResolutionError) Kind() ErrorKind {
	order := []ErrorKind{KindNotFound, KindConflict, KindCycle, KindMalformedConstraint, KindInput}
	for _, k := range order {
		for _, err := range e.errs.WrappedErrors() {
			if KindOf(err) == k {
				return k
			}
		}
	}
	return KindInternal
}

type kinded interface {
	Kind() ErrorKind
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

// ExitCode maps an error to the process exit status used by the CLI.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindInput:
		return 2
	case KindNotFound:
		return 3
	case KindConflict:
		return 4
	case KindCycle:
		return 5
	case KindMalformedConstraint:
		return 6
	default:
		return 1
	}
}

func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}
