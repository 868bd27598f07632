// Package scheduler runs a dependency DAG through a build executor with a
// bounded pool of workers.
//
// A single coordinator owns the per-run state table. Workers take nodes
// from an unbuffered channel, execute them and report back; only the
// coordinator changes node state, so readiness is computed without locks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/goplus/lpm/internal/build"
	"github.com/goplus/lpm/internal/env"
	"github.com/goplus/lpm/internal/graph"
)

// Executor builds one node. *build.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, node *graph.Node, envCtx env.Context, deps []*build.Artifact) (*build.Artifact, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, node *graph.Node, envCtx env.Context, deps []*build.Artifact) (*build.Artifact, error)

func (f ExecutorFunc) Execute(ctx context.Context, node *graph.Node, envCtx env.Context, deps []*build.Artifact) (*build.Artifact, error) {
	return f(ctx, node, envCtx, deps)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConcurrency sets the number of workers. The default is 1.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		s.concurrency = n
	}
}

// WithDefaults sets the process-wide default environment every node's
// environment starts from.
func WithDefaults(vars map[string]string) Option {
	return func(s *Scheduler) {
		s.defaults = vars
	}
}

// WithObserver sets the observer notified of node transitions.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		s.observer = o
	}
}

// WithRunID sets the run ID instead of a random one.
func WithRunID(id string) Option {
	return func(s *Scheduler) {
		s.runID = id
	}
}

// WithClock sets the clock used for outcome timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// Scheduler runs DAGs. A Scheduler may run any number of DAGs, one after
// another or concurrently.
type Scheduler struct {
	exec        Executor
	concurrency int
	defaults    map[string]string
	observer    Observer
	runID       string
	now         func() time.Time
}

// New returns a Scheduler that builds nodes with exec.
func New(exec Executor, opts ...Option) *Scheduler {
	s := &Scheduler{
		exec:        exec,
		concurrency: 1,
		observer:    Observers(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// job is a node handed to a worker together with its inputs.
type job struct {
	node *graph.Node
	env  env.Context
	deps []*build.Artifact
}

// report is what a worker sends back.
type report struct {
	node     *graph.Node
	artifact *build.Artifact
	err      error
	started  time.Time
	finished time.Time
}

// entry is a row of the state table.
type entry struct {
	outcome *Outcome
	pending int // dependencies not yet Installed
}

// Run builds every node of dag and returns one terminal outcome per node.
// Node failures are reported in the Result; the error is non-nil only for
// an invalid configuration.
//
// Cancelling ctx stops dispatching: nodes already building run to
// completion with a context that is not cancelled, and every node not yet
// dispatched is Skipped with ReasonCancelled.
func (s *Scheduler) Run(ctx context.Context, dag *graph.DAG) (*Result, error) {
	switch {
	case s.exec == nil:
		return nil, errors.New("scheduler: no executor")
	case dag == nil:
		return nil, errors.New("scheduler: nil DAG")
	case s.concurrency < 1:
		return nil, fmt.Errorf("scheduler: concurrency must be at least 1, got %d", s.concurrency)
	}
	runID := s.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	r := &run{
		Scheduler: s,
		ctx:       ctx,
		id:        runID,
		dag:       dag,
		state:     make(map[*graph.Node]*entry, dag.Len()),
		result:    &Result{RunID: runID, Outcomes: make(map[string]*Outcome, dag.Len())},
	}
	r.loop()
	return r.result, nil
}

// run is the coordinator state of one Run call.
type run struct {
	*Scheduler
	ctx    context.Context
	id     string
	dag    *graph.DAG
	state  map[*graph.Node]*entry
	ready  []*graph.Node // sorted by ID
	result *Result

	running   int
	cancelled bool
}

func (r *run) loop() {
	nodes := r.dag.Nodes()
	for _, n := range nodes {
		o := &Outcome{ID: n.ID, Status: Pending}
		r.state[n] = &entry{outcome: o, pending: len(n.Deps())}
		r.result.Outcomes[n.ID] = o
	}
	for _, n := range nodes {
		if r.state[n].pending == 0 {
			r.markReady(n)
		}
	}

	workers := min(r.concurrency, len(nodes))
	jobs := make(chan job)
	reports := make(chan report)
	bctx := context.WithoutCancel(r.ctx)
	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			for j := range jobs {
				reports <- r.execute(bctx, j)
			}
			return nil
		})
	}

	for {
		if !r.cancelled && r.ctx.Err() != nil {
			r.cancel()
		}
		done := r.ctx.Done()
		if r.cancelled {
			done = nil
		}

		if len(r.ready) > 0 {
			// An observed cancellation wins over a free worker.
			select {
			case <-done:
				continue
			default:
			}
			n := r.ready[0]
			select {
			case jobs <- r.inputs(n):
				r.ready = r.ready[1:]
				r.running++
				r.state[n].outcome.Status = Building
				r.observer.NodeStarted(r.ctx, r.id, n)
			case rep := <-reports:
				r.finish(rep)
			case <-done:
			}
			continue
		}
		if r.running == 0 {
			break
		}
		select {
		case rep := <-reports:
			r.finish(rep)
		case <-done:
		}
	}
	close(jobs)
	g.Wait()
}

// inputs assembles the job for n from its dependencies' artifacts. The
// environment is the defaults, then n's own variables, then each
// dependency's exports in declaration order.
func (r *run) inputs(n *graph.Node) job {
	deps := n.Deps()
	arts := make([]*build.Artifact, len(deps))
	exports := make([]map[string]string, 0, len(deps)+1)
	exports = append(exports, n.Spec.Env)
	for i, e := range deps {
		arts[i] = r.state[e.To].outcome.Artifact
		exports = append(exports, arts[i].Exports)
	}
	return job{
		node: n,
		env:  env.New(env.Merge(r.defaults, exports...)),
		deps: arts,
	}
}

// execute runs on a worker goroutine.
func (r *run) execute(ctx context.Context, j job) (rep report) {
	rep.node = j.node
	rep.started = r.now()
	defer func() {
		if p := recover(); p != nil {
			rep.artifact = nil
			rep.err = fmt.Errorf("%s: executor panic: %v", j.node.ID, p)
		}
		rep.finished = r.now()
	}()
	rep.artifact, rep.err = r.exec.Execute(ctx, j.node, j.env, j.deps)
	if rep.err == nil && rep.artifact == nil {
		rep.err = fmt.Errorf("%s: executor returned no artifact", j.node.ID)
	}
	return rep
}

func (r *run) finish(rep report) {
	r.running--
	n := rep.node
	o := r.state[n].outcome
	o.Started, o.Finished = rep.started, rep.finished
	if rep.err != nil {
		o.Status, o.Err = Failed, rep.err
		r.observer.NodeFinished(r.ctx, r.id, n, o)
		r.skipDependents(n, rep.err)
		return
	}
	o.Status, o.Artifact = Installed, rep.artifact
	r.observer.NodeFinished(r.ctx, r.id, n, o)
	for _, d := range n.Dependents() {
		e := r.state[d]
		if e.pending--; e.pending == 0 && e.outcome.Status == Pending {
			r.markReady(d)
		}
	}
}

func (r *run) markReady(n *graph.Node) {
	r.state[n].outcome.Status = Ready
	i, _ := slices.BinarySearchFunc(r.ready, n, func(a, b *graph.Node) int {
		return strings.Compare(a.ID, b.ID)
	})
	r.ready = slices.Insert(r.ready, i, n)
	r.observer.NodeReady(r.ctx, r.id, n)
}

// skipDependents marks every transitive dependent of failed as Skipped.
func (r *run) skipDependents(failed *graph.Node, cause error) {
	err := fmt.Errorf("%w: %s: %w", ErrUpstreamFailed, failed.ID, cause)
	for _, d := range r.dag.Descendants(failed.ID) {
		r.skip(d, ReasonUpstream, err)
	}
}

// cancel marks every node not yet dispatched as Skipped.
func (r *run) cancel() {
	r.cancelled = true
	err := fmt.Errorf("%w: %w", ErrCancelled, context.Cause(r.ctx))
	for _, n := range r.dag.Nodes() {
		r.skip(n, ReasonCancelled, err)
	}
}

func (r *run) skip(n *graph.Node, reason Reason, err error) {
	o := r.state[n].outcome
	if o.Status != Pending && o.Status != Ready {
		return
	}
	if o.Status == Ready {
		r.ready = slices.DeleteFunc(r.ready, func(m *graph.Node) bool { return m == n })
	}
	o.Status, o.Reason, o.Err = Skipped, reason, err
	r.observer.NodeFinished(r.ctx, r.id, n, o)
}
