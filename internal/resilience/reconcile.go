package resilience

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/kalambet/lecturelens/internal/docstore"
	"github.com/kalambet/lecturelens/internal/metrics"
)

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Examined   int `json:"examined"`
	Pushed     int `json:"pushed"`
	KeptRemote int `json:"kept_remote"`
	Conflicts  int `json:"conflicts"`
	Missing    int `json:"missing"`
	Remaining  int `json:"remaining"`
}

// Reconcile pushes pending local copies to the remote store. Each pending
// document is resolved against its remote copy with the configured Resolver.
// The breaker is re-armed first, so a degraded coordinator returns to remote
// routing once this pass succeeds. The pass stops at the first remote outage.
func (c *Coordinator) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	if c.remote == nil {
		return report, ErrRemoteNotConfigured
	}
	c.resetBreaker()

	receipts, err := c.ledger.PendingReceipts(ctx, "")
	if err != nil {
		return report, fmt.Errorf("listing pending receipts: %w", err)
	}

	for i, r := range receipts {
		if err := ctx.Err(); err != nil {
			report.Remaining = len(receipts) - i
			return report, err
		}
		report.Examined++

		local, lerr := c.localGet(ctx, r.Collection, r.DocID)
		if errors.Is(lerr, docstore.ErrNotFound) {
			c.logger.Warn("pending document missing from local store", "collection", r.Collection, "id", r.DocID)
			if err := c.ledger.ResolvePending(ctx, r.Collection, r.DocID); err != nil {
				report.Remaining = len(receipts) - i
				return report, fmt.Errorf("resolving receipt for %s/%s: %w", r.Collection, r.DocID, err)
			}
			report.Missing++
			metrics.ReconciledDocuments.WithLabelValues("missing").Inc()
			continue
		}
		if lerr != nil {
			report.Remaining = len(receipts) - i
			return report, fmt.Errorf("reading local %s/%s: %w", r.Collection, r.DocID, lerr)
		}

		remote, rerr := c.remoteGet(ctx, r.Collection, r.DocID)
		if rerr != nil && !errors.Is(rerr, docstore.ErrNotFound) {
			report.Remaining = len(receipts) - i
			return report, fmt.Errorf("reading remote %s/%s: %w", r.Collection, r.DocID, rerr)
		}

		winner := local
		if rerr == nil {
			report.Conflicts++
			winner = c.resolve(local, remote)
		}

		result := "pushed"
		if rerr == nil && reflect.DeepEqual(winner.Clone(), remote.Clone()) {
			result = "kept_remote"
			report.KeptRemote++
		} else {
			_, err := c.callRemote(ctx, r.Collection, "reconcile", func(ctx context.Context) (any, error) {
				return c.remote.Create(ctx, r.Collection, r.DocID, winner.Clone())
			})
			if err != nil {
				report.Remaining = len(receipts) - i
				return report, fmt.Errorf("pushing %s/%s: %w", r.Collection, r.DocID, err)
			}
			report.Pushed++
		}

		if err := c.ledger.ResolvePending(ctx, r.Collection, r.DocID); err != nil {
			report.Remaining = len(receipts) - i - 1
			return report, fmt.Errorf("resolving receipt for %s/%s: %w", r.Collection, r.DocID, err)
		}
		metrics.ReconciledDocuments.WithLabelValues(result).Inc()
		c.logger.Info("reconciled document", "collection", r.Collection, "id", r.DocID, "result", result)
	}

	c.refreshPending(ctx)
	c.logger.Info("reconciliation finished",
		"examined", report.Examined, "pushed", report.Pushed, "kept_remote", report.KeptRemote,
		"conflicts", report.Conflicts, "missing", report.Missing)
	return report, nil
}
