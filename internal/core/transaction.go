package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CategoryNotAvailable is substituted when the provider supplies no
// personal-finance category for a transaction.
const CategoryNotAvailable = "NOT_AVAILABLE"

var (
	ErrMissingTransactionID = errors.New("missing transaction id")
	ErrMissingAccountID     = errors.New("missing account id")
	ErrMissingBalance       = errors.New("missing balance field")
)

type (
	// Date is a calendar day in UTC. Transactions carry no time component.
	Date struct {
		time.Time
	}

	// Transaction is one normalized ledger entry. Provider convention for
	// Amount: positive = money out, negative = money in.
	//
	// DerivedPrimary, UserCategory and DisplayCategory are recomputed on
	// every categorization pass; everything else is immutable after
	// ingestion.
	Transaction struct {
		ID           string          `json:"transaction_id"`
		AccountID    string          `json:"account_id"`
		Name         string          `json:"name"`
		MerchantName string          `json:"merchant_name"`
		Amount       decimal.Decimal `json:"amount"`
		Date         Date            `json:"date"`

		// Raw provider category labels as received.
		RawPrimary  string `json:"raw_primary"`
		RawDetailed string `json:"raw_detailed"`

		// Derived fields.
		DerivedPrimary  string `json:"derived_primary_category"`
		UserCategory    string `json:"user_category"`
		DisplayCategory string `json:"display_category"`
	}

	// Account is one normalized balance record. The whole account set is
	// replaced on every balance refresh.
	Account struct {
		ID             string          `json:"account_id"`
		Name           string          `json:"name"`
		Balance        decimal.Decimal `json:"balance"`
		BalanceDisplay string          `json:"balance_display"`
		Legend         string          `json:"legend"`
	}
)

// NewDate creates a Date from year, month and day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses an ISO-8601 calendar date (2006-01-02).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

// String renders the ISO-8601 form used everywhere the date is serialized.
func (d Date) String() string {
	return d.Format("2006-01-02")
}

// Year returns the calendar year.
func (d Date) Year() int { return d.Time.Year() }

// Month returns the calendar month as 1-12.
func (d Date) Month() int { return int(d.Time.Month()) }

// Day returns the day of the month.
func (d Date) Day() int { return d.Time.Day() }

// MarshalJSON encodes the date as an ISO-8601 string.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON decodes an ISO-8601 date string.
func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrMissingTransactionID
	}
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrMissingAccountID
	}
	if t.Date.IsZero() {
		return errors.New("transaction date cannot be zero")
	}
	return nil
}

// FormatBalance renders an amount as a display string ($1234.56).
func FormatBalance(amount decimal.Decimal) string {
	if amount.IsNegative() {
		return "-$" + amount.Neg().StringFixed(2)
	}
	return "$" + amount.StringFixed(2)
}

// AccountLegend builds the per-account legend label: the account name
// followed by the first four characters of the account id.
func AccountLegend(accountID, name string) string {
	prefix := accountID
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	return fmt.Sprintf("%s (%s)", name, prefix)
}
