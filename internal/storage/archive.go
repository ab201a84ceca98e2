package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bankfeed/internal/core"
	"bankfeed/internal/ledger"

	_ "modernc.org/sqlite"
)

// Archive persists the most recent ledger snapshot so the in-memory state
// can be rebuilt after a restart without hitting the provider.
type Archive struct {
	db *sql.DB
}

func NewArchive(dbPath string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// SaveSnapshot replaces the archived ledger with the given snapshot. The
// archive only ever holds one refresh worth of data; each save is a
// wholesale swap inside a single transaction.
func (a *Archive) SaveSnapshot(ctx context.Context, snap *ledger.Snapshot) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM transactions",
		"DELETE FROM accounts",
		"DELETE FROM refreshes",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear archive: %w", err)
		}
	}

	const insertTx = `INSERT INTO transactions (
		transaction_id, account_id, name, merchant_name, amount, date,
		raw_primary_category, raw_detailed_category, derived_primary_category,
		user_category, display_category
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, t := range snap.Transactions {
		if _, err := tx.ExecContext(ctx, insertTx,
			t.ID, t.AccountID, t.Name, t.MerchantName, t.Amount.String(), t.Date.String(),
			t.RawPrimary, t.RawDetailed, t.DerivedPrimary,
			t.UserCategory, t.DisplayCategory,
		); err != nil {
			return fmt.Errorf("archive transaction %s: %w", t.ID, err)
		}
	}

	const insertAccount = `INSERT INTO accounts (
		account_id, name, balance, balance_display, legend
	) VALUES (?, ?, ?, ?, ?)`
	for _, acct := range snap.Accounts {
		if _, err := tx.ExecContext(ctx, insertAccount,
			acct.ID, acct.Name, acct.Balance.String(), acct.BalanceDisplay, acct.Legend,
		); err != nil {
			return fmt.Errorf("archive account %s: %w", acct.ID, err)
		}
	}

	const insertRefresh = `INSERT INTO refreshes (
		refreshed_at, transaction_count, account_count, net_worth, failed_tokens
	) VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insertRefresh,
		snap.RefreshedAt.UTC().Format(time.RFC3339),
		len(snap.Transactions), len(snap.Accounts),
		snap.NetWorth.String(), strings.Join(snap.FailedTokens, ","),
	); err != nil {
		return fmt.Errorf("archive refresh: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}

	slog.InfoContext(ctx, "Snapshot archived",
		"transactions", len(snap.Transactions),
		"accounts", len(snap.Accounts),
		"net_worth", snap.NetWorth.String())
	return nil
}

// LatestSnapshot rebuilds the archived snapshot, or returns nil when the
// archive has never been written.
func (a *Archive) LatestSnapshot(ctx context.Context) (*ledger.Snapshot, error) {
	var (
		refreshedAt  string
		netWorth     string
		failedTokens string
	)
	err := a.db.QueryRowContext(ctx,
		"SELECT refreshed_at, net_worth, failed_tokens FROM refreshes ORDER BY id DESC LIMIT 1",
	).Scan(&refreshedAt, &netWorth, &failedTokens)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read latest refresh: %w", err)
	}

	snap := ledger.EmptySnapshot()
	if snap.RefreshedAt, err = time.Parse(time.RFC3339, refreshedAt); err != nil {
		return nil, fmt.Errorf("parse refresh time %q: %w", refreshedAt, err)
	}
	if snap.NetWorth, err = decimal.NewFromString(netWorth); err != nil {
		return nil, fmt.Errorf("parse archived net worth %q: %w", netWorth, err)
	}
	if failedTokens != "" {
		snap.FailedTokens = strings.Split(failedTokens, ",")
	}

	if snap.Transactions, err = a.readTransactions(ctx); err != nil {
		return nil, err
	}
	if snap.Accounts, err = a.readAccounts(ctx); err != nil {
		return nil, err
	}
	snap.Categories = core.CategorySet(snap.Transactions)

	return snap, nil
}

func (a *Archive) readTransactions(ctx context.Context) ([]core.Transaction, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT
		transaction_id, account_id, name, merchant_name, amount, date,
		raw_primary_category, raw_detailed_category, derived_primary_category,
		user_category, display_category
	FROM transactions ORDER BY date, transaction_id`)
	if err != nil {
		return nil, fmt.Errorf("read archived transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]core.Transaction, 0)
	for rows.Next() {
		var (
			t            core.Transaction
			amount, date string
		)
		if err := rows.Scan(
			&t.ID, &t.AccountID, &t.Name, &t.MerchantName, &amount, &date,
			&t.RawPrimary, &t.RawDetailed, &t.DerivedPrimary,
			&t.UserCategory, &t.DisplayCategory,
		); err != nil {
			return nil, fmt.Errorf("scan archived transaction: %w", err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse archived amount %q: %w", amount, err)
		}
		if t.Date, err = core.ParseDate(date); err != nil {
			return nil, fmt.Errorf("parse archived date %q: %w", date, err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (a *Archive) readAccounts(ctx context.Context) ([]core.Account, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT account_id, name, balance, balance_display, legend FROM accounts ORDER BY account_id")
	if err != nil {
		return nil, fmt.Errorf("read archived accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]core.Account, 0)
	for rows.Next() {
		var (
			acct    core.Account
			balance string
		)
		if err := rows.Scan(&acct.ID, &acct.Name, &balance, &acct.BalanceDisplay, &acct.Legend); err != nil {
			return nil, fmt.Errorf("scan archived account: %w", err)
		}
		if acct.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("parse archived balance %q: %w", balance, err)
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}
