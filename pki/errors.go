package pki

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidIdentifier rejects a client name before any toolkit
	// invocation.
	ErrInvalidIdentifier = errors.New("invalid client identifier")

	// ErrIdentifierUsed rejects issuance under a name whose certificate
	// was revoked. The toolkit's certificate database keeps the revoked
	// record and a workaround would shadow it.
	ErrIdentifierUsed = errors.New("identifier already used by a revoked certificate")

	// ErrNotIssued reports an operation on a name with no issued
	// certificate.
	ErrNotIssued = errors.New("no issued certificate for identifier")

	// ErrBusy reports that another mutating operation held the store gate
	// for the whole bounded wait.
	ErrBusy = errors.New("another pki operation is in progress")

	// ErrStepFailed is the class wrapped by StepError.
	ErrStepFailed = errors.New("toolkit step failed")

	// ErrPartialMaterialize is the class wrapped by MaterializeError.
	ErrPartialMaterialize = errors.New("one or more artifacts failed to materialize")

	// ErrCARepairNeeded refuses the destructive self-heal while the
	// damaged store still holds a CA certificate. Wiping would discard
	// the authority key.
	ErrCARepairNeeded = errors.New("store configuration missing but CA material present; manual repair required")
)

// StepError reports a toolkit subcommand that exited non-zero.
type StepError struct {
	Step     string
	ExitCode int
	Stderr   string
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("step %s exited %d", e.Step, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *StepError) Unwrap() error { return ErrStepFailed }

// ArtifactFailure names one artifact that could not be copied out.
type ArtifactFailure struct {
	Name string
	Err  error
}

// MaterializeError collects per-artifact copy failures. Artifacts that did
// copy are in place; the caller decides whether the partial set is usable.
type MaterializeError struct {
	Failed []ArtifactFailure
}

func (e *MaterializeError) Error() string {
	names := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		names[i] = f.Name
	}
	return "materializing failed for " + strings.Join(names, ", ")
}

func (e *MaterializeError) Unwrap() error { return ErrPartialMaterialize }
