// Package budget persists per-category spending targets.
//
// The on-disk format is a single-row CSV: the header holds category labels
// and the row holds the numeric targets, matching the historical layout.
package budget

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

var ErrUnknownCategory = errors.New("unknown budget category")

type Budget struct {
	mu      sync.Mutex
	path    string
	targets map[string]decimal.Decimal
}

// Load reads the budget file if present, otherwise starts with a zero target
// per category. Either way the result is reconciled against categories:
// unset categories default to zero and stale columns are dropped. The
// reconciled state is written back immediately.
func Load(path string, categories []string) (*Budget, error) {
	b := &Budget{path: path, targets: make(map[string]decimal.Decimal)}

	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// start empty
	case err != nil:
		return nil, fmt.Errorf("open budget: %w", err)
	default:
		defer f.Close()
		cr := csv.NewReader(f)
		records, err := cr.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("read budget %s: %w", path, err)
		}
		if len(records) >= 2 {
			header, row := records[0], records[1]
			if len(header) != len(row) {
				return nil, fmt.Errorf("budget %s: header has %d columns, row has %d", path, len(header), len(row))
			}
			for i, category := range header {
				v, err := decimal.NewFromString(row[i])
				if err != nil {
					return nil, fmt.Errorf("budget %s: column %q: %w", path, category, err)
				}
				b.targets[category] = v
			}
		}
	}

	b.reconcile(categories)
	if err := b.persist(); err != nil {
		return nil, err
	}
	return b, nil
}

// Reconcile aligns the budget with the current category set and persists the
// result. Called after every re-categorization.
func (b *Budget) Reconcile(categories []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reconcile(categories)
	return b.persist()
}

func (b *Budget) reconcile(categories []string) {
	known := make(map[string]bool, len(categories))
	for _, c := range categories {
		known[c] = true
		if _, ok := b.targets[c]; !ok {
			b.targets[c] = decimal.Zero
		}
	}
	for c := range b.targets {
		if !known[c] {
			delete(b.targets, c)
		}
	}
}

// Set stores the target for a category and persists. Setting a category that
// is not currently known adds it.
func (b *Budget) Set(category string, value decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.targets[category] = value
	return b.persist()
}

// Get returns the target for a category. Unknown categories are a lookup
// failure, never auto-created.
func (b *Budget) Get(category string) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.targets[category]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return v, nil
}

// All returns a copy of every category target.
func (b *Budget) All() map[string]decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(b.targets))
	for c, v := range b.targets {
		out[c] = v
	}
	return out
}

// persist writes the single-row CSV. Callers must hold the lock. Columns are
// sorted so the file is stable across writes.
func (b *Budget) persist() error {
	if dir := filepath.Dir(b.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create budget directory: %w", err)
		}
	}

	header := make([]string, 0, len(b.targets))
	for c := range b.targets {
		header = append(header, c)
	}
	sort.Strings(header)

	row := make([]string, len(header))
	for i, c := range header {
		row[i] = b.targets[c].String()
	}

	tmp := b.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create budget: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("write budget header: %w", err)
	}
	if err := w.Write(row); err != nil {
		f.Close()
		return fmt.Errorf("write budget row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush budget: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close budget: %w", err)
	}
	return os.Rename(tmp, b.path)
}
