package memory

import (
	"context"
	"sync"

	ports "bankfeed/internal/sheets"
)

// Writer is an in-memory SummaryWriter for tests and local development. It
// keeps only the latest summary, mirroring the replace-on-write behavior of
// the Google adapter.
type Writer struct {
	mu     sync.Mutex
	latest *ports.Summary
	writes int
}

var _ ports.SummaryWriter = (*Writer)(nil)

func New() *Writer {
	return &Writer{}
}

func (w *Writer) WriteSummary(_ context.Context, s ports.Summary) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	copied := s
	copied.Rows = append([]ports.SummaryRow(nil), s.Rows...)
	w.latest = &copied
	w.writes++
	return nil
}

// Latest returns the most recently written summary, or nil.
func (w *Writer) Latest() *ports.Summary {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latest
}

// Writes reports how many summaries have been written.
func (w *Writer) Writes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}
