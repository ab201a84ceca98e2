package ledger

import (
	"bankfeed/internal/core"
)

// ByMonth selects transactions dated in the given year and month. The
// result is a fresh zero-based slice; the source is never mutated.
func ByMonth(txs []core.Transaction, year, month int) []core.Transaction {
	out := make([]core.Transaction, 0)
	for _, t := range txs {
		if t.Date.Year() == year && t.Date.Month() == month {
			out = append(out, t)
		}
	}
	return out
}

// ByYear selects transactions dated in the given year.
func ByYear(txs []core.Transaction, year int) []core.Transaction {
	out := make([]core.Transaction, 0)
	for _, t := range txs {
		if t.Date.Year() == year {
			out = append(out, t)
		}
	}
	return out
}
