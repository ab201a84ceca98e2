// Package categorize computes the user and display categories for a
// normalized ledger from the current rule set.
package categorize

import (
	"bankfeed/internal/core"
)

// Apply evaluates the rule set against every transaction and returns a new
// slice with UserCategory and DisplayCategory populated. The input is not
// mutated.
//
// Rules are scanned in store order and the first matching rule wins. When no
// rule matches, UserCategory stays empty and DisplayCategory falls back to
// the derived primary category, so DisplayCategory is always non-empty.
// Rules are pure functions of transaction fields, which makes a second pass
// over the same inputs produce identical results.
func Apply(txs []core.Transaction, ruleSet []core.Rule) []core.Transaction {
	out := make([]core.Transaction, len(txs))
	for i, tx := range txs {
		tx.UserCategory = ""
		for _, r := range ruleSet {
			if r.Matches(tx) {
				tx.UserCategory = r.Category
				break
			}
		}
		if tx.UserCategory != "" {
			tx.DisplayCategory = tx.UserCategory
		} else {
			tx.DisplayCategory = tx.DerivedPrimary
		}
		out[i] = tx
	}
	return out
}
