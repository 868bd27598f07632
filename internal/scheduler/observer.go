package scheduler

import (
	"context"

	"github.com/goplus/lpm/internal/graph"
)

// Observer is notified of node transitions. Calls come from the
// coordinating goroutine only, one at a time, and must not block for long.
type Observer interface {
	NodeReady(ctx context.Context, runID string, node *graph.Node)
	NodeStarted(ctx context.Context, runID string, node *graph.Node)
	NodeFinished(ctx context.Context, runID string, node *graph.Node, o *Outcome)
}

// Observers returns an Observer that notifies each of obs in order.
func Observers(obs ...Observer) Observer {
	return multiObserver(obs)
}

type multiObserver []Observer

func (m multiObserver) NodeReady(ctx context.Context, runID string, node *graph.Node) {
	for _, o := range m {
		o.NodeReady(ctx, runID, node)
	}
}

func (m multiObserver) NodeStarted(ctx context.Context, runID string, node *graph.Node) {
	for _, o := range m {
		o.NodeStarted(ctx, runID, node)
	}
}

func (m multiObserver) NodeFinished(ctx context.Context, runID string, node *graph.Node, out *Outcome) {
	for _, o := range m {
		o.NodeFinished(ctx, runID, node, out)
	}
}
