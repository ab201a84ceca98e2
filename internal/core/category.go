package core

// BaseCategories is the provider's fixed top-level personal-finance
// taxonomy. The effective category set is this list plus whatever display
// categories appear in the ledger that are not already listed.
var BaseCategories = []string{
	"INCOME",
	"TRANSFER_IN",
	"TRANSFER_OUT",
	"LOAN_PAYMENTS",
	"BANK_FEES",
	"ENTERTAINMENT",
	"FOOD_AND_DRINK",
	"GENERAL_MERCHANDISE",
	"HOME_IMPROVEMENT",
	"MEDICAL",
	"PERSONAL_CARE",
	"GENERAL_SERVICES",
	"GOVERNMENT_AND_NON_PROFIT",
	"TRANSPORTATION",
	"TRAVEL",
	"RENT_AND_UTILITIES",
}

// CategorySet returns the base taxonomy unioned with every display category
// observed in txs that is not already a base category. Base categories come
// first; observed extras follow in ledger order.
func CategorySet(txs []Transaction) []string {
	out := make([]string, len(BaseCategories), len(BaseCategories)+8)
	copy(out, BaseCategories)

	seen := make(map[string]bool, len(out))
	for _, c := range out {
		seen[c] = true
	}
	for _, t := range txs {
		if t.DisplayCategory == "" || seen[t.DisplayCategory] {
			continue
		}
		seen[t.DisplayCategory] = true
		out = append(out, t.DisplayCategory)
	}
	return out
}
