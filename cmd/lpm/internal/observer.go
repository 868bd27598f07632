package internal

import (
	"context"
	"log/slog"

	"github.com/goplus/lpm/internal/graph"
	"github.com/goplus/lpm/internal/installdb"
	"github.com/goplus/lpm/internal/scheduler"
)

// recorder logs node transitions and records installed nodes.
type recorder struct {
	db     *installdb.DB
	logger *slog.Logger
}

func (r *recorder) NodeReady(ctx context.Context, runID string, node *graph.Node) {
	r.logger.Debug("ready", "node", node.ID)
}

func (r *recorder) NodeStarted(ctx context.Context, runID string, node *graph.Node) {
	r.logger.Info("building", "node", node.ID)
}

func (r *recorder) NodeFinished(ctx context.Context, runID string, node *graph.Node, o *scheduler.Outcome) {
	switch o.Status {
	case scheduler.Installed:
		r.logger.Info("installed", "node", node.ID, "root", o.Artifact.Root, "took", o.Finished.Sub(o.Started))
		// Recorded even when the run is being cancelled: the install root exists.
		if err := r.db.Put(context.WithoutCancel(ctx), runID, o.Artifact); err != nil {
			r.logger.Error("record install", "node", node.ID, "err", err)
		}
	case scheduler.Failed:
		r.logger.Error("failed", "node", node.ID, "err", o.Err)
	case scheduler.Skipped:
		r.logger.Warn("skipped", "node", node.ID, "reason", string(o.Reason))
	}
}
