package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"bankfeed/internal/amqp"
	"bankfeed/internal/budget"
	"bankfeed/internal/categorize"
	"bankfeed/internal/core"
	"bankfeed/internal/ingest"
	"bankfeed/internal/ledger"
	"bankfeed/internal/log"
	"bankfeed/internal/provider"
	"bankfeed/internal/rules"
	"bankfeed/internal/tokens"
)

// ErrAllCredentialsFailed is returned when a refresh could not fetch
// anything for any credential. Partial failures publish a snapshot and
// report the failed credentials instead.
var ErrAllCredentialsFailed = errors.New("all credentials failed")

// Fetcher retrieves and normalizes provider data for a set of credentials.
type Fetcher interface {
	FetchTransactions(ctx context.Context, tokens []string) ([]core.Transaction, []string, error)
	FetchBalances(ctx context.Context, tokens []string) ([]core.Account, []string, error)
}

// Archiver persists finished snapshots.
type Archiver interface {
	SaveSnapshot(ctx context.Context, snap *ledger.Snapshot) error
	LatestSnapshot(ctx context.Context) (*ledger.Snapshot, error)
}

// ExportPublisher announces finished refreshes to the export worker.
type ExportPublisher interface {
	PublishLedgerExport(ctx context.Context, msg *amqp.LedgerExportMessage) error
}

// RefreshService orchestrates a full ledger refresh: fetch, categorize,
// aggregate, publish, archive, announce. It owns the single published
// snapshot that every read path sees.
type RefreshService struct {
	fetcher   Fetcher
	client    provider.Client
	ruleStore *rules.Store
	budget    *budget.Budget
	tokens    *tokens.Store
	holder    *ledger.Holder
	archive   Archiver
	publisher ExportPublisher
	timeout   time.Duration
	logger    *log.Logger
}

type RefreshServiceOptions struct {
	Fetcher   Fetcher
	Client    provider.Client
	Rules     *rules.Store
	Budget    *budget.Budget
	Tokens    *tokens.Store
	Holder    *ledger.Holder
	Archive   Archiver
	Publisher ExportPublisher
	Timeout   time.Duration
	Logger    *log.Logger
}

func NewRefreshService(opts RefreshServiceOptions) *RefreshService {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Config{})
	}
	return &RefreshService{
		fetcher:   opts.Fetcher,
		client:    opts.Client,
		ruleStore: opts.Rules,
		budget:    opts.Budget,
		tokens:    opts.Tokens,
		holder:    opts.Holder,
		archive:   opts.Archive,
		publisher: opts.Publisher,
		timeout:   opts.Timeout,
		logger:    opts.Logger.WithComponent(log.ComponentRefresh),
	}
}

// Refresh pulls the full feed for every credential, rebuilds the snapshot,
// and atomically publishes it. Credentials that failed are reported in the
// snapshot; the refresh errors only when no credential produced anything.
func (s *RefreshService) Refresh(ctx context.Context) (*ledger.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	creds := s.tokens.Tokens()
	s.logger.InfoContext(ctx, "refresh started",
		log.FieldOperation, log.OpRefresh,
		"credentials", len(creds))

	var (
		txs         []core.Transaction
		accounts    []core.Account
		failedTx    []string
		failedAccts []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		txs, failedTx, err = s.fetcher.FetchTransactions(gctx, creds)
		return err
	})
	g.Go(func() error {
		var err error
		accounts, failedAccts, err = s.fetcher.FetchBalances(gctx, creds)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("refresh fetch: %w", err)
	}

	failed := unionTokens(failedTx, failedAccts)
	if len(creds) > 0 && len(failed) == len(creds) {
		return nil, fmt.Errorf("%w: %d credentials", ErrAllCredentialsFailed, len(creds))
	}

	categorized := categorize.Apply(txs, s.ruleStore.Rules())
	categories := core.CategorySet(categorized)
	if err := s.budget.Reconcile(categories); err != nil {
		return nil, fmt.Errorf("reconcile budget: %w", err)
	}

	snap := &ledger.Snapshot{
		RefreshedAt:  time.Now().UTC(),
		Transactions: categorized,
		Accounts:     accounts,
		NetWorth:     ingest.NetWorth(accounts),
		Categories:   categories,
		FailedTokens: failed,
	}
	s.holder.Publish(snap)

	if err := s.archive.SaveSnapshot(ctx, snap); err != nil {
		// The published snapshot is already serving; losing the archive
		// copy only affects warm starts and exports.
		s.logger.ErrorContext(ctx, "failed to archive snapshot", log.FieldError, err)
	} else {
		s.announceExport(ctx, snap)
	}

	s.logger.InfoContext(ctx, "refresh finished",
		log.FieldOperation, log.OpRefresh,
		"transactions", len(snap.Transactions),
		"accounts", len(snap.Accounts),
		"failed_credentials", len(failed))
	return snap, nil
}

// RestoreFromArchive publishes the archived snapshot, if any, so reads work
// before the first refresh after a restart.
func (s *RefreshService) RestoreFromArchive(ctx context.Context) error {
	snap, err := s.archive.LatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("restore from archive: %w", err)
	}
	if snap == nil {
		s.logger.InfoContext(ctx, "no archived snapshot to restore")
		return nil
	}
	if err := s.budget.Reconcile(snap.Categories); err != nil {
		return fmt.Errorf("reconcile budget: %w", err)
	}
	s.holder.Publish(snap)
	s.logger.InfoContext(ctx, "restored archived snapshot",
		"refreshed_at", snap.RefreshedAt,
		"transactions", len(snap.Transactions))
	return nil
}

// AddRule appends a categorization rule and immediately re-categorizes the
// published snapshot. A duplicate rule is a silent no-op either way.
func (s *RefreshService) AddRule(ctx context.Context, r core.Rule) error {
	if err := s.ruleStore.Add(r); err != nil {
		return err
	}
	return s.recategorize(ctx)
}

// RemoveRule deletes the rule at the given position and re-categorizes.
func (s *RefreshService) RemoveRule(ctx context.Context, index int) error {
	if err := s.ruleStore.Remove(index); err != nil {
		return err
	}
	return s.recategorize(ctx)
}

// Rules returns the ordered rule list.
func (s *RefreshService) Rules() []core.Rule {
	return s.ruleStore.Rules()
}

// Budget exposes the budget targets for the reporting layer.
func (s *RefreshService) Budget() *budget.Budget {
	return s.budget
}

// recategorize re-applies the rule set to the already-fetched ledger without
// another provider round trip, and republishes atomically.
func (s *RefreshService) recategorize(ctx context.Context) error {
	current := s.holder.Load()

	categorized := categorize.Apply(current.Transactions, s.ruleStore.Rules())
	categories := core.CategorySet(categorized)
	if err := s.budget.Reconcile(categories); err != nil {
		return fmt.Errorf("reconcile budget: %w", err)
	}

	snap := *current
	snap.Transactions = categorized
	snap.Categories = categories
	s.holder.Publish(&snap)

	if err := s.archive.SaveSnapshot(ctx, &snap); err != nil {
		s.logger.ErrorContext(ctx, "failed to archive snapshot", log.FieldError, err)
		return nil
	}
	s.announceExport(ctx, &snap)
	return nil
}

// CheckTokens probes every stored credential against the provider and
// returns the ones that no longer work.
func (s *RefreshService) CheckTokens(ctx context.Context) []string {
	var invalid []string
	for _, token := range s.tokens.Tokens() {
		if _, err := s.client.FetchBalances(ctx, token); err != nil {
			s.logger.WarnContext(ctx, "credential failed validity probe", log.FieldError, err)
			invalid = append(invalid, token)
		}
	}
	return invalid
}

// ExchangePublicToken trades a provider public token for an access token and
// persists it to the credential store.
func (s *RefreshService) ExchangePublicToken(ctx context.Context, publicToken, env string) (string, error) {
	accessToken, err := s.client.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return "", fmt.Errorf("exchange public token: %w", err)
	}
	if err := s.tokens.Add(accessToken, env); err != nil {
		return "", fmt.Errorf("store access token: %w", err)
	}
	return accessToken, nil
}

func (s *RefreshService) announceExport(ctx context.Context, snap *ledger.Snapshot) {
	if s.publisher == nil {
		return
	}
	msg := amqp.NewLedgerExportMessage(snap.RefreshedAt,
		len(snap.Transactions), len(snap.Accounts), snap.NetWorth.String())
	if err := s.publisher.PublishLedgerExport(ctx, msg); err != nil {
		// The export worker re-reads the archive at startup, so a lost
		// announcement is recoverable.
		s.logger.ErrorContext(ctx, "failed to publish export message", log.FieldError, err)
	}
}

func unionTokens(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range a {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range b {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
