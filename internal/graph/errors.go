package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goplus/lpm/recipe"
)

var (
	// ErrUnresolvedDependency is returned when a dependency reference
	// matches no spec.
	ErrUnresolvedDependency = errors.New("unresolved dependency")

	// ErrDuplicateSpec is returned when two specs share name and version.
	ErrDuplicateSpec = errors.New("duplicate spec")

	// ErrCycleDetected is returned when the dependency relation has a cycle.
	ErrCycleDetected = errors.New("dependency cycle detected")

	// ErrUnsupportedPlatform is returned under PlatformError when a spec
	// does not apply to the target platform.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// UnresolvedError reports a dependency reference that matches no spec.
type UnresolvedError struct {
	Spec string // ID of the referring spec; empty for lookups
	Ref  recipe.Dependency

	// Platform is set when a spec matching Ref exists but was dropped
	// because it does not apply to this platform.
	Platform string
}

func (e *UnresolvedError) Error() string {
	var b strings.Builder
	if e.Spec != "" {
		fmt.Fprintf(&b, "%s: ", e.Spec)
	}
	fmt.Fprintf(&b, "%s: %s", ErrUnresolvedDependency, e.Ref)
	if e.Platform != "" {
		fmt.Fprintf(&b, " (matching specs do not support %s)", e.Platform)
	}
	return b.String()
}

func (e *UnresolvedError) Is(target error) bool {
	return target == ErrUnresolvedDependency
}

// CycleError reports a dependency cycle. Chain lists the node IDs along
// the cycle; its first element is repeated at the end.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCycleDetected, strings.Join(e.Chain, " -> "))
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}
