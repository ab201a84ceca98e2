package ledger

import (
	"sort"

	"github.com/shopspring/decimal"

	"bankfeed/internal/core"
)

// Budget comparisons exclude the non-spending categories.
var budgetExcluded = map[string]bool{
	"INCOME":      true,
	"TRANSFER_IN": true,
}

type (
	// CategoryTotal is one row of a category-aggregated view.
	CategoryTotal struct {
		Category string          `json:"category"`
		Total    decimal.Decimal `json:"total"`
		Label    string          `json:"label"`
	}

	// BudgetRow compares a category's target against its actual activity.
	BudgetRow struct {
		Category string          `json:"category"`
		Budget   decimal.Decimal `json:"budget"`
		Actual   decimal.Decimal `json:"actual"`
	}

	// BalanceSlice is one wedge of the balances pie.
	BalanceSlice struct {
		Legend  string          `json:"legend"`
		Balance decimal.Decimal `json:"balance"`
		Label   string          `json:"label"`
	}
)

// CategoryKey selects which category field a view groups by.
type CategoryKey func(core.Transaction) string

// DisplayCategory groups by the rule-overridden, user-facing category.
func DisplayCategory(t core.Transaction) string { return t.DisplayCategory }

// DerivedCategory groups by the provider-derived primary category.
func DerivedCategory(t core.Transaction) string { return t.DerivedPrimary }

// sumWhere totals the signed amounts of transactions in a category that
// satisfy keep.
func sumWhere(txs []core.Transaction, category string, key CategoryKey, keep func(decimal.Decimal) bool) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txs {
		if key(t) != category {
			continue
		}
		if keep != nil && !keep(t.Amount) {
			continue
		}
		total = total.Add(t.Amount)
	}
	return total
}

// TransactionsIn sums inflows per category. Provider sign convention is
// negative = money in, so inflow totals are negated sums of the negative
// amounts. Categories with no inflow are omitted (pie views drop empty
// wedges).
func TransactionsIn(txs []core.Transaction, categories []string, key CategoryKey) []CategoryTotal {
	out := make([]CategoryTotal, 0)
	for _, c := range categories {
		total := sumWhere(txs, c, key, decimal.Decimal.IsNegative)
		if total.IsNegative() {
			in := total.Neg()
			out = append(out, CategoryTotal{Category: c, Total: in, Label: core.FormatBalance(in)})
		}
	}
	return out
}

// TransactionsOut sums outflows per category, omitting categories with no
// outflow.
func TransactionsOut(txs []core.Transaction, categories []string, key CategoryKey) []CategoryTotal {
	out := make([]CategoryTotal, 0)
	for _, c := range categories {
		total := sumWhere(txs, c, key, decimal.Decimal.IsPositive)
		if total.IsPositive() {
			out = append(out, CategoryTotal{Category: c, Total: total, Label: core.FormatBalance(total)})
		}
	}
	return out
}

// BudgetVsActual compares each budgeted category's target against the
// absolute net activity in that category. INCOME and TRANSFER_IN are not
// spending categories and never appear. A budgeted-but-unspent category is
// kept; rows where both sides are zero are dropped.
func BudgetVsActual(txs []core.Transaction, targets map[string]decimal.Decimal, key CategoryKey) []BudgetRow {
	categories := make([]string, 0, len(targets))
	for c := range targets {
		if !budgetExcluded[c] {
			categories = append(categories, c)
		}
	}
	sort.Strings(categories)

	out := make([]BudgetRow, 0, len(categories))
	for _, c := range categories {
		actual := sumWhere(txs, c, key, nil).Abs()
		target := targets[c]
		if target.IsZero() && actual.IsZero() {
			continue
		}
		out = append(out, BudgetRow{Category: c, Budget: target, Actual: actual})
	}
	return out
}

// BalancesPie renders the account-balance wedges.
func BalancesPie(accounts []core.Account) []BalanceSlice {
	out := make([]BalanceSlice, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, BalanceSlice{Legend: a.Legend, Balance: a.Balance, Label: a.BalanceDisplay})
	}
	return out
}
