package build

import (
	"errors"
	"fmt"
)

var (
	ErrFetch        = errors.New("fetch failed")
	ErrVerification = errors.New("verification failed")
	ErrPatch        = errors.New("patch failed")
	ErrInstall      = errors.New("install failed")

	// ErrTimeout is wrapped by the cause of a phase that ran out of its
	// own time budget.
	ErrTimeout = errors.New("phase timed out")
)

// Phase is a step of the per-node build lifecycle.
type Phase int

const (
	Fetching Phase = iota + 1
	Verifying
	Unpacking
	Patching
	Installing
)

var phaseNames = [...]string{
	Fetching:   "fetching",
	Verifying:  "verifying",
	Unpacking:  "unpacking",
	Patching:   "patching",
	Installing: "installing",
}

func (p Phase) String() string {
	if p > 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// sentinel returns the error class of failures in phase p.
func (p Phase) sentinel() error {
	switch p {
	case Fetching:
		return ErrFetch
	case Verifying:
		return ErrVerification
	case Patching:
		return ErrPatch
	}
	return ErrInstall
}

// PhaseError is returned by Execute when a phase fails. It matches the
// sentinel of its phase with errors.Is, as well as anything in Err.
type PhaseError struct {
	Node  string
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Node, e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() []error {
	return []error{e.Phase.sentinel(), e.Err}
}
