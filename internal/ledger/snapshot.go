// Package ledger holds the published ledger snapshot and derives filtered
// and aggregated views from it.
//
// A snapshot is immutable once published. Refresh and rule mutations build a
// complete replacement off to the side and publish it in a single atomic
// store, so concurrent readers observe either the old or the new snapshot,
// never a partially written one.
package ledger

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"bankfeed/internal/core"
)

// Snapshot is one fully built view of the ledger state.
type Snapshot struct {
	RefreshedAt  time.Time
	Transactions []core.Transaction
	Accounts     []core.Account
	NetWorth     decimal.Decimal
	Categories   []string

	// FailedTokens lists credentials abandoned during the refresh that
	// produced this snapshot.
	FailedTokens []string
}

// EmptySnapshot is the pre-first-refresh state: well formed, zero records.
func EmptySnapshot() *Snapshot {
	return &Snapshot{
		Transactions: make([]core.Transaction, 0),
		Accounts:     make([]core.Account, 0),
		NetWorth:     decimal.Zero,
		Categories:   core.CategorySet(nil),
	}
}

// Holder owns the published snapshot pointer.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

func NewHolder() *Holder {
	h := &Holder{}
	h.current.Store(EmptySnapshot())
	return h
}

// Load returns the currently published snapshot.
func (h *Holder) Load() *Snapshot {
	return h.current.Load()
}

// Publish replaces the snapshot in one step.
func (h *Holder) Publish(s *Snapshot) {
	h.current.Store(s)
}
