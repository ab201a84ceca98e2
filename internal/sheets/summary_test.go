package sheets

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bankfeed/internal/core"
	"bankfeed/internal/ledger"
)

func summaryTx(id, category, amount string) core.Transaction {
	return core.Transaction{
		ID:              id,
		AccountID:       "acct-1",
		Amount:          decimal.RequireFromString(amount),
		Date:            core.NewDate(2020, 6, 1),
		DerivedPrimary:  category,
		DisplayCategory: category,
	}
}

func TestBuildSummary(t *testing.T) {
	snap := ledger.EmptySnapshot()
	snap.RefreshedAt = time.Date(2020, 7, 1, 0, 0, 0, 0, time.UTC)
	snap.NetWorth = decimal.RequireFromString("1250.50")
	snap.Transactions = []core.Transaction{
		summaryTx("t1", "FOOD_AND_DRINK", "-100"),
		summaryTx("t2", "FOOD_AND_DRINK", "50"),
		summaryTx("t3", "TRAVEL", "75"),
	}
	snap.Categories = core.CategorySet(snap.Transactions)

	targets := map[string]decimal.Decimal{
		"TRAVEL":  decimal.NewFromInt(200),
		"MEDICAL": decimal.NewFromInt(30),
	}

	s := BuildSummary(snap, targets)
	if !s.NetWorth.Equal(snap.NetWorth) {
		t.Errorf("NetWorth = %s, want %s", s.NetWorth, snap.NetWorth)
	}

	rows := make(map[string]SummaryRow, len(s.Rows))
	for _, r := range s.Rows {
		rows[r.Category] = r
	}

	fd, ok := rows["FOOD_AND_DRINK"]
	if !ok {
		t.Fatal("FOOD_AND_DRINK row missing")
	}
	if !fd.In.Equal(decimal.NewFromInt(100)) || !fd.Out.Equal(decimal.NewFromInt(50)) {
		t.Errorf("FOOD_AND_DRINK row = %+v, want in 100 out 50", fd)
	}

	tr, ok := rows["TRAVEL"]
	if !ok {
		t.Fatal("TRAVEL row missing")
	}
	if !tr.Out.Equal(decimal.NewFromInt(75)) || !tr.Budget.Equal(decimal.NewFromInt(200)) {
		t.Errorf("TRAVEL row = %+v", tr)
	}

	// Budgeted but inactive categories still show up.
	if _, ok := rows["MEDICAL"]; !ok {
		t.Error("MEDICAL row missing despite a budget target")
	}
	// Categories with neither activity nor budget are dropped.
	if _, ok := rows["ENTERTAINMENT"]; ok {
		t.Error("ENTERTAINMENT row present with no activity and no budget")
	}
}

func TestBuildSummary_EmptySnapshot(t *testing.T) {
	s := BuildSummary(ledger.EmptySnapshot(), nil)
	if len(s.Rows) != 0 {
		t.Errorf("rows = %+v, want none", s.Rows)
	}
}
