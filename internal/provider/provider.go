// Package provider defines the boundary to the external banking-data API.
//
// The core only depends on the Client interface; the HTTP implementation
// lives in plaid.go. Errors carry the provider's error code so callers can
// distinguish the transient "not ready yet" class from everything else.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"bankfeed/internal/core"
)

// CodeProductNotReady is the provider error code for the transient state
// where transaction history is still being prepared for a credential.
const CodeProductNotReady = "PRODUCT_NOT_READY"

type (
	// DateRange bounds a transaction fetch, inclusive on both ends.
	DateRange struct {
		Start core.Date
		End   core.Date
	}

	// PersonalFinanceCategory is the provider's derived category pair.
	PersonalFinanceCategory struct {
		Primary  string `json:"primary"`
		Detailed string `json:"detailed"`
	}

	// RawTransaction is one transaction record as returned by the provider.
	RawTransaction struct {
		TransactionID           string                   `json:"transaction_id"`
		AccountID               string                   `json:"account_id"`
		Name                    string                   `json:"name"`
		MerchantName            string                   `json:"merchant_name"`
		Amount                  decimal.Decimal          `json:"amount"`
		Date                    string                   `json:"date"`
		PersonalFinanceCategory *PersonalFinanceCategory `json:"personal_finance_category"`
	}

	// RawBalances is the provider's balance sub-object. Both fields are
	// optional on the wire; which one is canonical is a configuration
	// choice resolved during normalization.
	RawBalances struct {
		Available *decimal.Decimal `json:"available"`
		Current   *decimal.Decimal `json:"current"`
	}

	// RawAccount is one account record as returned by the provider.
	RawAccount struct {
		AccountID string      `json:"account_id"`
		Name      string      `json:"name"`
		Balances  RawBalances `json:"balances"`
	}

	// TransactionsPage is a single page of the paginated feed. Total is the
	// provider-reported size of the full result set.
	TransactionsPage struct {
		Transactions []RawTransaction
		Total        int
	}
)

// Client is the banking-data provider.
type Client interface {
	// FetchTransactions returns the page of transactions starting at
	// offset for the given credential and range.
	FetchTransactions(ctx context.Context, token string, r DateRange, offset int) (TransactionsPage, error)

	// FetchBalances returns every account linked to the credential.
	FetchBalances(ctx context.Context, token string) ([]RawAccount, error)

	// ExchangePublicToken swaps a temporary link token for a long-lived
	// access credential.
	ExchangePublicToken(ctx context.Context, publicToken string) (string, error)
}

// APIError is a structured provider failure.
type APIError struct {
	Code       string `json:"error_code"`
	Type       string `json:"error_type"`
	Message    string `json:"error_message"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider error %s (%s): %s", e.Code, e.Type, e.Message)
}

// IsTransient reports whether err is the retryable "not ready yet" class.
// All other provider errors abort the credential's fetch immediately.
func IsTransient(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeProductNotReady
}
