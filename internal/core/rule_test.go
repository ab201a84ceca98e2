package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func tx(name, merchant, derived string, amount string) Transaction {
	return Transaction{
		ID:             "tx-1",
		AccountID:      "acct-1",
		Name:           name,
		MerchantName:   merchant,
		Amount:         decimal.RequireFromString(amount),
		Date:           NewDate(2020, 6, 15),
		DerivedPrimary: derived,
	}
}

func TestRule_Matches(t *testing.T) {
	sample := tx("HOME TELE PAYMENT", "Home Telecom", "GENERAL_SERVICES", "42.50")

	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{
			name: "contains on name matches",
			rule: Rule{Field: "name", Op: OpContains, Value: "HOME TELE", Category: "Utilities"},
			want: true,
		},
		{
			name: "contains on name misses",
			rule: Rule{Field: "name", Op: OpContains, Value: "GROCER", Category: "Utilities"},
			want: false,
		},
		{
			name: "equals on merchant",
			rule: Rule{Field: "merchant_name", Op: OpEquals, Value: "Home Telecom", Category: "Utilities"},
			want: true,
		},
		{
			name: "equals is exact",
			rule: Rule{Field: "merchant_name", Op: OpEquals, Value: "Home", Category: "Utilities"},
			want: false,
		},
		{
			name: "equals on derived category",
			rule: Rule{Field: "derived_primary_category", Op: OpEquals, Value: "GENERAL_SERVICES", Category: "Utilities"},
			want: true,
		},
		{
			name: "numeric gt on amount",
			rule: Rule{Field: "amount", Op: OpGreaterThan, Value: "40", Category: "Big"},
			want: true,
		},
		{
			name: "numeric lt on amount",
			rule: Rule{Field: "amount", Op: OpLessThan, Value: "40", Category: "Small"},
			want: false,
		},
		{
			name: "numeric equals on amount",
			rule: Rule{Field: "amount", Op: OpEquals, Value: "42.5", Category: "Exact"},
			want: true,
		},
		{
			name: "unparsable amount literal never matches",
			rule: Rule{Field: "amount", Op: OpGreaterThan, Value: "lots", Category: "Big"},
			want: false,
		},
		{
			name: "date ordering uses ISO-8601 lexicographic order",
			rule: Rule{Field: "date", Op: OpGreaterThan, Value: "2020-01-01", Category: "ThisYear"},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.Matches(sample); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRule_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr error
	}{
		{
			name: "valid rule",
			rule: Rule{Field: "name", Op: OpContains, Value: "COFFEE", Category: "FOOD_AND_DRINK"},
		},
		{
			name:    "unknown field",
			rule:    Rule{Field: "location", Op: OpContains, Value: "x", Category: "y"},
			wantErr: ErrUnknownField,
		},
		{
			name:    "unknown op",
			rule:    Rule{Field: "name", Op: "matches", Value: "x", Category: "y"},
			wantErr: ErrUnknownOp,
		},
		{
			name:    "empty value",
			rule:    Rule{Field: "name", Op: OpContains, Value: "  ", Category: "y"},
			wantErr: ErrEmptyValue,
		},
		{
			name:    "empty category",
			rule:    Rule{Field: "name", Op: OpContains, Value: "x", Category: ""},
			wantErr: ErrEmptyCategory,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRule_Equal(t *testing.T) {
	a := Rule{Field: "name", Op: OpContains, Value: "COFFEE", Category: "FOOD_AND_DRINK"}
	b := a
	if !a.Equal(b) {
		t.Error("identical rules should be equal")
	}
	b.Category = "ENTERTAINMENT"
	if a.Equal(b) {
		t.Error("rules with different categories should not be equal")
	}
}
