// Package ingest retrieves raw transaction and balance pages from the
// banking-data provider and normalizes them into the uniform ledger shape.
//
// Each credential is fetched independently: a credential that keeps failing
// is abandoned for the cycle and reported, without affecting the others.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bankfeed/internal/core"
	"bankfeed/internal/log"
	"bankfeed/internal/provider"
)

// Balance field choices. Which sub-field of the provider's balance object is
// canonical is configurable; versions of the upstream API disagree.
const (
	BalanceFieldAvailable = "available"
	BalanceFieldCurrent   = "current"
)

// Config tunes one ingester.
type Config struct {
	// Range bounds every transaction fetch.
	Range provider.DateRange

	// MaxAttempts is the total number of calls allowed per page when the
	// provider reports the transient "not ready" state.
	MaxAttempts int

	// RetryDelay is the fixed backoff between transient-failure attempts.
	RetryDelay time.Duration

	// BalanceField selects the canonical balance sub-field.
	BalanceField string
}

// DefaultConfig matches the historical behavior: 3 attempts, 5 second
// backoff, available balances.
func DefaultConfig(r provider.DateRange) Config {
	return Config{
		Range:        r,
		MaxAttempts:  3,
		RetryDelay:   5 * time.Second,
		BalanceField: BalanceFieldAvailable,
	}
}

type Ingester struct {
	client provider.Client
	cfg    Config
	logger *log.Logger

	// sleep is replaceable so retry tests do not wait out real backoffs.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(client provider.Client, cfg Config, logger *log.Logger) *Ingester {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BalanceField == "" {
		cfg.BalanceField = BalanceFieldAvailable
	}
	return &Ingester{
		client: client,
		cfg:    cfg,
		logger: logger.WithComponent(log.ComponentIngest),
		sleep:  sleepContext,
	}
}

// FetchTransactions retrieves and normalizes the full transaction feed for
// every credential. The returned failed list names credentials abandoned
// this cycle; the transaction slice is always well formed, even when empty.
func (i *Ingester) FetchTransactions(ctx context.Context, tokens []string) ([]core.Transaction, []string, error) {
	transactions := make([]core.Transaction, 0)
	var failed []string

	seen := make(map[string]bool)
	for _, token := range tokens {
		raw, err := i.fetchTokenTransactions(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			i.logger.ErrorContext(ctx, "abandoning credential for this refresh",
				"error", err)
			failed = append(failed, token)
			continue
		}
		for _, rt := range raw {
			if seen[rt.TransactionID] {
				continue
			}
			seen[rt.TransactionID] = true
			tx, err := normalizeTransaction(rt)
			if err != nil {
				return nil, nil, fmt.Errorf("normalize transaction %s: %w", rt.TransactionID, err)
			}
			transactions = append(transactions, tx)
		}
	}
	return transactions, failed, nil
}

// fetchTokenTransactions walks the paginated feed for one credential,
// requesting further pages at offset = records retrieved until the
// provider-reported total is reached.
func (i *Ingester) fetchTokenTransactions(ctx context.Context, token string) ([]provider.RawTransaction, error) {
	page, err := i.fetchPageWithRetry(ctx, token, 0)
	if err != nil {
		return nil, err
	}

	records := page.Transactions
	total := page.Total
	for len(records) < total {
		page, err = i.fetchPageWithRetry(ctx, token, len(records))
		if err != nil {
			return nil, err
		}
		if len(page.Transactions) == 0 {
			// A short total would loop forever otherwise.
			return nil, fmt.Errorf("provider returned empty page at offset %d of %d", len(records), total)
		}
		records = append(records, page.Transactions...)
	}
	return records, nil
}

// fetchPageWithRetry retries only the transient "not ready" class, up to
// MaxAttempts calls with a fixed delay between them. Every other error
// aborts immediately.
func (i *Ingester) fetchPageWithRetry(ctx context.Context, token string, offset int) (provider.TransactionsPage, error) {
	var lastErr error
	for attempt := 1; attempt <= i.cfg.MaxAttempts; attempt++ {
		page, err := i.client.FetchTransactions(ctx, token, i.cfg.Range, offset)
		if err == nil {
			return page, nil
		}
		if !provider.IsTransient(err) {
			return provider.TransactionsPage{}, fmt.Errorf("fetch transactions: %w", err)
		}
		lastErr = err
		if attempt < i.cfg.MaxAttempts {
			i.logger.WarnContext(ctx, "transactions not ready, retrying",
				"attempt", attempt, "delay", i.cfg.RetryDelay.String())
			if err := i.sleep(ctx, i.cfg.RetryDelay); err != nil {
				return provider.TransactionsPage{}, err
			}
		}
	}
	return provider.TransactionsPage{}, fmt.Errorf("fetch transactions after %d attempts: %w", i.cfg.MaxAttempts, lastErr)
}

// FetchBalances retrieves and normalizes every account balance. A credential
// whose balances cannot be normalized (including a missing canonical balance
// field) is abandoned and reported, not silently zeroed.
func (i *Ingester) FetchBalances(ctx context.Context, tokens []string) ([]core.Account, []string, error) {
	accounts := make([]core.Account, 0)
	var failed []string

	for _, token := range tokens {
		raw, err := i.client.FetchBalances(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			i.logger.ErrorContext(ctx, "abandoning credential balances for this refresh",
				"error", err)
			failed = append(failed, token)
			continue
		}

		normalized := make([]core.Account, 0, len(raw))
		badToken := false
		for _, acct := range raw {
			a, err := i.normalizeAccount(acct)
			if err != nil {
				i.logger.ErrorContext(ctx, "abandoning credential balances for this refresh",
					"account_id", acct.AccountID, "error", err)
				badToken = true
				break
			}
			normalized = append(normalized, a)
		}
		if badToken {
			failed = append(failed, token)
			continue
		}
		accounts = append(accounts, normalized...)
	}
	return accounts, failed, nil
}

func (i *Ingester) normalizeAccount(raw provider.RawAccount) (core.Account, error) {
	var value *decimal.Decimal
	switch i.cfg.BalanceField {
	case BalanceFieldCurrent:
		value = raw.Balances.Current
	default:
		value = raw.Balances.Available
	}
	if value == nil {
		return core.Account{}, fmt.Errorf("%w: account %s has no %q balance",
			core.ErrMissingBalance, raw.AccountID, i.cfg.BalanceField)
	}
	return core.Account{
		ID:             raw.AccountID,
		Name:           raw.Name,
		Balance:        *value,
		BalanceDisplay: core.FormatBalance(*value),
		Legend:         core.AccountLegend(raw.AccountID, raw.Name),
	}, nil
}

// NetWorth is the sum of all normalized account balances.
func NetWorth(accounts []core.Account) decimal.Decimal {
	total := decimal.Zero
	for _, a := range accounts {
		total = total.Add(a.Balance)
	}
	return total
}

func normalizeTransaction(raw provider.RawTransaction) (core.Transaction, error) {
	date, err := core.ParseDate(raw.Date)
	if err != nil {
		return core.Transaction{}, err
	}

	derived := core.CategoryNotAvailable
	var rawPrimary, rawDetailed string
	if pfc := raw.PersonalFinanceCategory; pfc != nil {
		rawPrimary, rawDetailed = pfc.Primary, pfc.Detailed
		if pfc.Primary != "" {
			derived = pfc.Primary
		}
	}

	tx := core.Transaction{
		ID:             raw.TransactionID,
		AccountID:      raw.AccountID,
		Name:           raw.Name,
		MerchantName:   raw.MerchantName,
		Amount:         raw.Amount,
		Date:           date,
		RawPrimary:     rawPrimary,
		RawDetailed:    rawDetailed,
		DerivedPrimary: derived,
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
