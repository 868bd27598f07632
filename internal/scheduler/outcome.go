package scheduler

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/goplus/lpm/internal/build"
)

var (
	// ErrUpstreamFailed is wrapped by the error of a node skipped because
	// one of its dependencies failed.
	ErrUpstreamFailed = errors.New("dependency failed")

	// ErrCancelled is wrapped by the error of a node skipped because the
	// run was cancelled before it was dispatched.
	ErrCancelled = errors.New("build cancelled")
)

// Status is the state of a node within one run.
type Status int

const (
	Pending Status = iota
	Ready
	Building
	Installed
	Failed
	Skipped
)

var statusNames = [...]string{
	Pending:   "pending",
	Ready:     "ready",
	Building:  "building",
	Installed: "installed",
	Failed:    "failed",
	Skipped:   "skipped",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Terminal reports whether s is a final outcome.
func (s Status) Terminal() bool {
	return s == Installed || s == Failed || s == Skipped
}

// Reason qualifies a Skipped outcome.
type Reason string

const (
	ReasonUpstream  Reason = "upstream"
	ReasonCancelled Reason = "cancelled"
)

// Outcome is the result of one node.
type Outcome struct {
	ID       string
	Status   Status
	Err      error  // set for Failed and Skipped
	Reason   Reason // set for Skipped
	Artifact *build.Artifact

	Started  time.Time // zero unless the node was dispatched
	Finished time.Time
}

// Result maps every node of a run to its outcome.
type Result struct {
	RunID    string
	Outcomes map[string]*Outcome
}

// OK reports whether every node was installed.
func (r *Result) OK() bool {
	for _, o := range r.Outcomes {
		if o.Status != Installed {
			return false
		}
	}
	return true
}

// Sorted returns the outcomes sorted by node ID.
func (r *Result) Sorted() []*Outcome {
	ids := slices.Sorted(maps.Keys(r.Outcomes))
	out := make([]*Outcome, len(ids))
	for i, id := range ids {
		out[i] = r.Outcomes[id]
	}
	return out
}

// Failed returns the Failed outcomes sorted by node ID. Skipped nodes are
// not included.
func (r *Result) Failed() []*Outcome {
	var out []*Outcome
	for _, o := range r.Sorted() {
		if o.Status == Failed {
			out = append(out, o)
		}
	}
	return out
}

// Count returns the number of outcomes with status s.
func (r *Result) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

func (r *Result) String() string {
	var b strings.Builder
	for _, o := range r.Sorted() {
		fmt.Fprintf(&b, "%s: %s\n", o.ID, o.Status)
	}
	return b.String()
}
