package engine

import "fmt"

// RunStatus represents the overall status of an install run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every entry was installed or skipped.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates every entry failed.
	RunStatusFailed RunStatus = "failed"

	// RunStatusPartial indicates some entries failed.
	RunStatusPartial RunStatus = "partial"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusPartial
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusPartial:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// Operation is what the installer does with one plan entry.
type Operation string

const (
	// OperationInstall installs a module that is not present.
	OperationInstall Operation = "install"

	// OperationUpgrade replaces an installed module with another version.
	OperationUpgrade Operation = "upgrade"

	// OperationSkip leaves an already satisfied module untouched.
	OperationSkip Operation = "skip"
)

// Mutates returns true if the operation changes the module tree.
func (o Operation) Mutates() bool {
	return o == OperationInstall || o == OperationUpgrade
}

// Validate checks if the operation is valid.
func (o Operation) Validate() error {
	switch o {
	case OperationInstall, OperationUpgrade, OperationSkip:
		return nil
	default:
		return fmt.Errorf("invalid operation: %s", o)
	}
}

// OutcomeStatus is the result of processing one plan entry.
type OutcomeStatus string

const (
	// OutcomeSucceeded indicates the module was installed or upgraded.
	OutcomeSucceeded OutcomeStatus = "succeeded"

	// OutcomeFailed indicates the package installer reported an error.
	OutcomeFailed OutcomeStatus = "failed"

	// OutcomeSkipped indicates the module was already satisfied.
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Validate checks if the outcome status is valid.
func (s OutcomeStatus) Validate() error {
	switch s {
	case OutcomeSucceeded, OutcomeFailed, OutcomeSkipped:
		return nil
	default:
		return fmt.Errorf("invalid outcome status: %s", s)
	}
}
