package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Op is a predicate operator in the rule grammar.
type Op string

const (
	OpContains    Op = "contains"
	OpEquals      Op = "equals"
	OpGreaterThan Op = "gt"
	OpLessThan    Op = "lt"
)

var (
	ErrUnknownField  = errors.New("unknown transaction field")
	ErrUnknownOp     = errors.New("unknown rule operator")
	ErrEmptyValue    = errors.New("empty rule value")
	ErrEmptyCategory = errors.New("empty rule category")
)

// ruleFields are the transaction fields a rule predicate may address.
var ruleFields = map[string]bool{
	"transaction_id":           true,
	"account_id":               true,
	"name":                     true,
	"merchant_name":            true,
	"derived_primary_category": true,
	"amount":                   true,
	"date":                     true,
}

// Rule assigns Category to every transaction whose Field satisfies Op
// against Value. Rules are evaluated in store order and the first match
// wins.
type Rule struct {
	Field    string `json:"transaction_field"`
	Op       Op     `json:"op"`
	Value    string `json:"search_str"`
	Category string `json:"categorize"`
}

func (r Rule) Validate() error {
	if !ruleFields[r.Field] {
		return fmt.Errorf("%w: %q", ErrUnknownField, r.Field)
	}
	switch r.Op {
	case OpContains, OpEquals, OpGreaterThan, OpLessThan:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, r.Op)
	}
	if strings.TrimSpace(r.Value) == "" {
		return ErrEmptyValue
	}
	if strings.TrimSpace(r.Category) == "" {
		return ErrEmptyCategory
	}
	return nil
}

// Equal reports whether two rules are identical in (field, op, value,
// category). Identical rules are rejected on add.
func (r Rule) Equal(other Rule) bool {
	return r.Field == other.Field && r.Op == other.Op &&
		r.Value == other.Value && r.Category == other.Category
}

// Matches evaluates the predicate against a transaction. The predicate is a
// pure function of transaction fields, so re-evaluation is idempotent.
// Ordering comparisons on string fields use lexicographic order; on the
// amount field they are numeric.
func (r Rule) Matches(t Transaction) bool {
	if r.Field == "amount" {
		want, err := decimal.NewFromString(strings.TrimSpace(r.Value))
		if err != nil {
			return false
		}
		switch r.Op {
		case OpEquals, OpContains:
			return t.Amount.Equal(want)
		case OpGreaterThan:
			return t.Amount.GreaterThan(want)
		case OpLessThan:
			return t.Amount.LessThan(want)
		}
		return false
	}

	got, ok := t.stringField(r.Field)
	if !ok {
		return false
	}
	switch r.Op {
	case OpContains:
		return strings.Contains(got, r.Value)
	case OpEquals:
		return got == r.Value
	case OpGreaterThan:
		return got > r.Value
	case OpLessThan:
		return got < r.Value
	}
	return false
}

// stringField resolves a named field to its canonical string encoding.
func (t Transaction) stringField(field string) (string, bool) {
	switch field {
	case "transaction_id":
		return t.ID, true
	case "account_id":
		return t.AccountID, true
	case "name":
		return t.Name, true
	case "merchant_name":
		return t.MerchantName, true
	case "derived_primary_category":
		return t.DerivedPrimary, true
	case "date":
		return t.Date.String(), true
	}
	return "", false
}
