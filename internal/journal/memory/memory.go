// Package memory keeps journal entries in process, for tests and for runs
// without a spreadsheet.
package memory

import (
	"context"
	"fmt"
	"sync"

	"dompet/internal/journal"
)

type Writer struct {
	mu      sync.Mutex
	entries []journal.Entry
}

var _ journal.Writer = (*Writer)(nil)

func New() *Writer {
	return &Writer{}
}

// Append stores the entry and returns a synthetic row reference.
func (w *Writer) Append(ctx context.Context, e journal.Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, e)
	return fmt.Sprintf("mem:%d", len(w.entries)), nil
}

// Entries returns a copy of everything appended so far.
func (w *Writer) Entries() []journal.Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]journal.Entry, len(w.entries))
	copy(out, w.entries)
	return out
}
