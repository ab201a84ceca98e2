// Package rules holds the ordered, persisted set of categorization rules.
//
// The store is the only owner of rule state: every mutation is validated,
// applied in memory and written back to disk before it returns. Evaluation
// order is store order, so position matters and removals re-index densely.
package rules

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"bankfeed/internal/core"
)

var ErrIndexOutOfRange = errors.New("rule index out of range")

// csvHeader keeps the historical column order; op was appended later and
// legacy three-column rows load as contains.
var csvHeader = []string{"search_str", "transaction_field", "categorize", "op"}

type Store struct {
	mu    sync.Mutex
	path  string
	rules []core.Rule
}

// NewStore loads rules from path if the file exists, otherwise starts empty
// and creates the file.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := s.persist(); err != nil {
			return nil, fmt.Errorf("initialize rule store: %w", err)
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open rule store: %w", err)
	}
	defer f.Close()

	loaded, err := readRules(f)
	if err != nil {
		return nil, fmt.Errorf("load rule store %s: %w", path, err)
	}
	s.rules = loaded
	return s, nil
}

// Add appends a rule at the lowest priority position. Adding a rule
// identical to an existing one is a silent no-op.
func (s *Store) Add(r core.Rule) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.rules {
		if existing.Equal(r) {
			return nil
		}
	}
	s.rules = append(s.rules, r)
	return s.persist()
}

// Remove deletes the rule at index and re-indexes the remainder to a dense
// 0..n-1 order.
func (s *Store) Remove(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.rules) {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(s.rules))
	}
	s.rules = append(s.rules[:index], s.rules[index+1:]...)
	return s.persist()
}

// Rules returns a copy of the rule set in evaluation order.
func (s *Store) Rules() []core.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Len returns the number of stored rules.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rules)
}

// persist writes the full rule set. Callers must hold the lock.
func (s *Store) persist() error {
	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create rule store directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create rule store: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return fmt.Errorf("write rule header: %w", err)
	}
	for _, r := range s.rules {
		if err := w.Write([]string{r.Value, r.Field, r.Category, string(r.Op)}); err != nil {
			f.Close()
			return fmt.Errorf("write rule row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush rule store: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close rule store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func readRules(r io.Reader) ([]core.Rule, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	var rules []core.Rule
	for i, rec := range records[1:] { // skip header
		if len(rec) < 3 {
			return nil, fmt.Errorf("row %d: expected at least 3 columns, got %d", i+1, len(rec))
		}
		rule := core.Rule{
			Value:    rec[0],
			Field:    rec[1],
			Category: rec[2],
			Op:       core.OpContains,
		}
		if len(rec) >= 4 && rec[3] != "" {
			rule.Op = core.Op(rec[3])
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
