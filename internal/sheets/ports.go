package sheets

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"bankfeed/internal/ledger"
)

// Ports for outbound adapters.
type (
	// SummaryWriter replaces the exported summary with the given refresh.
	SummaryWriter interface {
		WriteSummary(ctx context.Context, s Summary) error
	}
)

// Summary is the spreadsheet-friendly rendering of a refresh: one row per
// category with money in, money out, and the budget target.
type Summary struct {
	RefreshedAt time.Time
	NetWorth    decimal.Decimal
	Rows        []SummaryRow
}

type SummaryRow struct {
	Category string
	In       decimal.Decimal
	Out      decimal.Decimal
	Budget   decimal.Decimal
}

// BuildSummary flattens a snapshot into summary rows. Categories with no
// activity and no budget target are dropped.
func BuildSummary(snap *ledger.Snapshot, targets map[string]decimal.Decimal) Summary {
	in := make(map[string]decimal.Decimal)
	for _, row := range ledger.TransactionsIn(snap.Transactions, snap.Categories, ledger.DisplayCategory) {
		in[row.Category] = row.Total
	}
	out := make(map[string]decimal.Decimal)
	for _, row := range ledger.TransactionsOut(snap.Transactions, snap.Categories, ledger.DisplayCategory) {
		out[row.Category] = row.Total
	}

	s := Summary{RefreshedAt: snap.RefreshedAt, NetWorth: snap.NetWorth}
	for _, c := range snap.Categories {
		row := SummaryRow{
			Category: c,
			In:       in[c],
			Out:      out[c],
			Budget:   targets[c],
		}
		if row.In.IsZero() && row.Out.IsZero() && row.Budget.IsZero() {
			continue
		}
		s.Rows = append(s.Rows, row)
	}
	return s
}
