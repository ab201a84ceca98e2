package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"bankfeed/internal/amqp"
	"bankfeed/internal/ledger"
	"bankfeed/internal/sheets"
)

// SnapshotSource reads the archived ledger snapshot.
type SnapshotSource interface {
	LatestSnapshot(ctx context.Context) (*ledger.Snapshot, error)
}

// BudgetSource reads the current budget targets.
type BudgetSource interface {
	All() map[string]decimal.Decimal
}

// ExportWorker pushes finished refreshes from the archive to the summary
// sheet. It reacts to AMQP export messages and re-exports at startup to
// recover from messages missed while the worker was down.
type ExportWorker struct {
	snapshots SnapshotSource
	budget    BudgetSource
	writer    sheets.SummaryWriter
}

func NewExportWorker(snapshots SnapshotSource, budget BudgetSource, writer sheets.SummaryWriter) *ExportWorker {
	return &ExportWorker{
		snapshots: snapshots,
		budget:    budget,
		writer:    writer,
	}
}

// HandleExportMessage processes a single ledger export message. The message
// only announces that a refresh happened; the snapshot itself comes from the
// archive, so a message outrun by a newer refresh simply exports the newer
// data.
func (w *ExportWorker) HandleExportMessage(ctx context.Context, msg *amqp.LedgerExportMessage) error {
	slog.InfoContext(ctx, "Processing export message",
		"refreshed_at", msg.RefreshedAt,
		"transactions", msg.TransactionCount)

	snap, err := w.snapshots.LatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot from archive: %w", err)
	}
	if snap == nil {
		slog.WarnContext(ctx, "Export message received but archive is empty, dropping",
			"refreshed_at", msg.RefreshedAt)
		return nil
	}
	if snap.RefreshedAt.Before(msg.RefreshedAt) {
		slog.WarnContext(ctx, "Archived snapshot is older than the export message",
			"archived", snap.RefreshedAt,
			"message", msg.RefreshedAt)
	}

	return w.export(ctx, snap)
}

// StartupExportCheck exports the archived snapshot once at worker startup.
// An empty archive is not an error.
func (w *ExportWorker) StartupExportCheck(ctx context.Context) error {
	snap, err := w.snapshots.LatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot for startup check: %w", err)
	}
	if snap == nil {
		slog.InfoContext(ctx, "No archived snapshot found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found archived snapshot on startup, exporting",
		"refreshed_at", snap.RefreshedAt,
		"transactions", len(snap.Transactions))
	return w.export(ctx, snap)
}

func (w *ExportWorker) export(ctx context.Context, snap *ledger.Snapshot) error {
	var targets map[string]decimal.Decimal
	if w.budget != nil {
		targets = w.budget.All()
	}

	summary := sheets.BuildSummary(snap, targets)
	if err := w.writer.WriteSummary(ctx, summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	slog.InfoContext(ctx, "Snapshot exported",
		"refreshed_at", snap.RefreshedAt,
		"rows", len(summary.Rows),
		"net_worth", snap.NetWorth.String())
	return nil
}
