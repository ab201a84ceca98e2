// Package tokens persists provider access credentials.
//
// The file is a two-column CSV (token, env). Adding a credential appends and
// deduplicates, so re-linking the same account is harmless.
package tokens

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var csvHeader = []string{"token", "env"}

// Credential is one stored provider access token and the environment it was
// issued for.
type Credential struct {
	Token string `json:"token"`
	Env   string `json:"env"`
}

type Store struct {
	mu    sync.Mutex
	path  string
	creds []Credential
}

// NewStore loads credentials from path if present, otherwise starts empty.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read credential store %s: %w", path, err)
	}
	for i, rec := range records {
		if i == 0 {
			continue // header
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("credential row %d: expected 2 columns, got %d", i, len(rec))
		}
		s.creds = append(s.creds, Credential{Token: rec[0], Env: rec[1]})
	}
	return s, nil
}

// Add appends a credential and persists. Adding an already-stored credential
// is a no-op.
func (s *Store) Add(token, env string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("empty access token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.creds {
		if c.Token == token && c.Env == env {
			return nil
		}
	}
	s.creds = append(s.creds, Credential{Token: token, Env: env})
	return s.persist()
}

// Tokens returns the stored access tokens in insertion order.
func (s *Store) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.creds))
	for i, c := range s.creds {
		out[i] = c.Token
	}
	return out
}

// Credentials returns a copy of every stored credential.
func (s *Store) Credentials() []Credential {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Credential, len(s.creds))
	copy(out, s.creds)
	return out
}

func (s *Store) persist() error {
	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create credential store directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create credential store: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return fmt.Errorf("write credential header: %w", err)
	}
	for _, c := range s.creds {
		if err := w.Write([]string{c.Token, c.Env}); err != nil {
			f.Close()
			return fmt.Errorf("write credential row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush credential store: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close credential store: %w", err)
	}
	return os.Rename(tmp, s.path)
}
