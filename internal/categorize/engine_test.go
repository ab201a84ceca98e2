package categorize

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"bankfeed/internal/core"
)

func tx(id, name, derived string) core.Transaction {
	return core.Transaction{
		ID:             id,
		AccountID:      "acct-1",
		Name:           name,
		Amount:         decimal.NewFromInt(10),
		Date:           core.NewDate(2020, 6, 1),
		DerivedPrimary: derived,
	}
}

func TestApply_FirstMatchWins(t *testing.T) {
	ledger := []core.Transaction{tx("t1", "HOME TELE PAYMENT", "GENERAL_SERVICES")}
	ruleSet := []core.Rule{
		{Field: "name", Op: core.OpContains, Value: "HOME", Category: "A"},
		{Field: "name", Op: core.OpContains, Value: "TELE", Category: "B"},
	}

	got := Apply(ledger, ruleSet)
	if got[0].UserCategory != "A" {
		t.Errorf("UserCategory = %q, want A (first matching rule)", got[0].UserCategory)
	}
	if got[0].DisplayCategory != "A" {
		t.Errorf("DisplayCategory = %q, want A", got[0].DisplayCategory)
	}
}

func TestApply_FallbackToDerived(t *testing.T) {
	ledger := []core.Transaction{tx("t1", "SOMETHING ELSE", "FOOD_AND_DRINK")}
	ruleSet := []core.Rule{
		{Field: "name", Op: core.OpContains, Value: "HOME", Category: "Utilities"},
	}

	got := Apply(ledger, ruleSet)
	if got[0].UserCategory != "" {
		t.Errorf("UserCategory = %q, want empty", got[0].UserCategory)
	}
	if got[0].DisplayCategory != "FOOD_AND_DRINK" {
		t.Errorf("DisplayCategory = %q, want derived primary", got[0].DisplayCategory)
	}
}

func TestApply_DisplayCategoryAlwaysSet(t *testing.T) {
	ledger := []core.Transaction{tx("t1", "X", core.CategoryNotAvailable)}
	got := Apply(ledger, nil)
	if got[0].DisplayCategory == "" {
		t.Error("DisplayCategory must never be empty after categorization")
	}
}

func TestApply_Idempotent(t *testing.T) {
	ledger := []core.Transaction{
		tx("t1", "HOME TELE", "GENERAL_SERVICES"),
		tx("t2", "COFFEE SHOP", "FOOD_AND_DRINK"),
		tx("t3", "UNKNOWN", core.CategoryNotAvailable),
	}
	ruleSet := []core.Rule{
		{Field: "name", Op: core.OpContains, Value: "HOME", Category: "Utilities"},
		{Field: "derived_primary_category", Op: core.OpEquals, Value: "FOOD_AND_DRINK", Category: "Eating Out"},
	}

	once := Apply(ledger, ruleSet)
	twice := Apply(once, ruleSet)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("categorization is not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	ledger := []core.Transaction{tx("t1", "HOME", "GENERAL_SERVICES")}
	ruleSet := []core.Rule{{Field: "name", Op: core.OpContains, Value: "HOME", Category: "Utilities"}}

	_ = Apply(ledger, ruleSet)
	if ledger[0].UserCategory != "" || ledger[0].DisplayCategory != "" {
		t.Errorf("input mutated: %+v", ledger[0])
	}
}

func TestApply_RecategorizationDropsStaleUserCategory(t *testing.T) {
	ledger := []core.Transaction{tx("t1", "HOME", "GENERAL_SERVICES")}
	withRule := Apply(ledger, []core.Rule{{Field: "name", Op: core.OpContains, Value: "HOME", Category: "Utilities"}})
	if withRule[0].UserCategory != "Utilities" {
		t.Fatalf("UserCategory = %q", withRule[0].UserCategory)
	}

	// Re-running with the rule removed must clear the override.
	withoutRule := Apply(withRule, nil)
	if withoutRule[0].UserCategory != "" {
		t.Errorf("UserCategory = %q after rule removal, want empty", withoutRule[0].UserCategory)
	}
	if withoutRule[0].DisplayCategory != "GENERAL_SERVICES" {
		t.Errorf("DisplayCategory = %q, want derived primary", withoutRule[0].DisplayCategory)
	}
}
