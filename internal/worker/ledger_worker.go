// Package worker keeps plan snapshots current. It reacts to ledger.changed
// messages and also sweeps every group on an interval as a backup for lost
// messages.
package worker

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"payup/internal/amqp"
	"payup/internal/core"
	"payup/internal/log"
	"payup/internal/metrics"
	"payup/internal/sheets"
	"payup/internal/store"
)

// Recomputer computes a verified plan for one group.
type Recomputer interface {
	Recompute(ctx context.Context, key string, source string) (core.Summary, error)
}

type LedgerWorker struct {
	store    store.GroupStore
	planner  Recomputer
	exporter sheets.PlanExporter
	logger   *log.Logger

	// keyLocks serialises refreshes of one group between the consumer and
	// the sweep.
	keyLocks sync.Map
}

// NewLedgerWorker wires a worker. exporter may be nil.
func NewLedgerWorker(st store.GroupStore, planner Recomputer, exporter sheets.PlanExporter, logger *log.Logger) *LedgerWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &LedgerWorker{
		store:    st,
		planner:  planner,
		exporter: exporter,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// HandleLedgerChanged processes a single ledger.changed message from AMQP
func (w *LedgerWorker) HandleLedgerChanged(ctx context.Context, msg *amqp.LedgerChangedMessage) error {
	w.logger.InfoContext(ctx, "Processing ledger changed message",
		log.FieldGroupKey, msg.GroupKey,
		"reason", msg.Reason,
		log.FieldExpenseID, msg.ExpenseID)

	_, err := w.refresh(ctx, msg.GroupKey)
	if errors.Is(err, store.ErrNotFound) {
		// Nothing to do for a group that no longer exists; retrying won't help.
		w.logger.WarnContext(ctx, "Group not found, dropping message", log.FieldGroupKey, msg.GroupKey)
		return nil
	}
	return err
}

// RecomputeAll refreshes every group and returns how many snapshots
// changed. Per-group failures are logged and the sweep continues.
func (w *LedgerWorker) RecomputeAll(ctx context.Context) (int, error) {
	keys, err := w.store.ListGroupKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list groups: %w", err)
	}

	changed, failed := 0, 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		updated, err := w.refresh(ctx, key)
		if err != nil {
			failed++
			w.logger.ErrorContext(ctx, "Failed to recompute group",
				log.FieldGroupKey, key,
				log.FieldError, err)
			continue
		}
		if updated {
			changed++
		}
	}

	w.logger.InfoContext(ctx, "Recompute sweep completed",
		"groups", len(keys),
		"changed", changed,
		"errors", failed)
	return changed, nil
}

// Run sweeps immediately and then every interval until ctx is done.
func (w *LedgerWorker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.RecomputeAll(ctx); err != nil && ctx.Err() == nil {
			w.logger.ErrorContext(ctx, "Recompute sweep failed", log.FieldError, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// refresh recomputes one group's plan and, when it differs from the saved
// snapshot, exports and saves it.
func (w *LedgerWorker) refresh(ctx context.Context, key string) (bool, error) {
	mu, _ := w.keyLocks.LoadOrStore(key, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	sum, err := w.planner.Recompute(ctx, key, "worker")
	if err != nil {
		return false, fmt.Errorf("recompute %s: %w", key, err)
	}

	prev, err := w.store.LatestPlan(ctx, key)
	switch {
	case err == nil && samePlan(prev, sum):
		w.logger.DebugContext(ctx, "Plan unchanged", log.FieldGroupKey, key)
		return false, nil
	case err == nil && prev.Records > sum.Records:
		// Records are append-only, so this plan predates the snapshot.
		w.logger.WarnContext(ctx, "Skipping older plan",
			log.FieldGroupKey, key,
			log.FieldRecords, sum.Records,
			"snapshot_records", prev.Records)
		return false, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return false, fmt.Errorf("load snapshot %s: %w", key, err)
	}

	// Export before saving so a failed export is retried by the next
	// message or sweep instead of being masked by an up-to-date snapshot.
	if w.exporter != nil {
		if err := w.export(ctx, key, sum); err != nil {
			return false, err
		}
	}

	if err := w.store.SavePlan(ctx, sum); err != nil {
		return false, fmt.Errorf("save snapshot %s: %w", key, err)
	}
	w.logger.InfoContext(ctx, "Plan snapshot saved",
		log.FieldGroupKey, key,
		log.FieldRecords, sum.Records,
		log.FieldTransfers, len(sum.Transfers))
	return true, nil
}

func (w *LedgerWorker) export(ctx context.Context, key string, sum core.Summary) error {
	g, err := w.store.GetGroup(ctx, key)
	if err != nil {
		return fmt.Errorf("get group %s: %w", key, err)
	}
	ref, err := w.exporter.ExportPlan(ctx, g, sum)
	if err != nil {
		metrics.SheetExports.WithLabelValues("error").Inc()
		return fmt.Errorf("export plan %s: %w", key, err)
	}
	metrics.SheetExports.WithLabelValues("ok").Inc()
	w.logger.InfoContext(ctx, "Plan exported",
		log.FieldGroupKey, key,
		log.FieldSheetsRef, ref)
	return nil
}

func samePlan(a, b core.Summary) bool {
	return a.Records == b.Records &&
		a.TotalSpent == b.TotalSpent &&
		maps.Equal(a.Balances, b.Balances) &&
		slices.Equal(a.Transfers, b.Transfers)
}
