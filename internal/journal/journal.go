// Package journal mirrors committed ledger changes to an append-only log
// that humans read, such as a spreadsheet.
package journal

import (
	"context"
	"strings"
	"time"

	"dompet/internal/core"
)

// Writer appends one entry and returns a reference to where it landed.
type Writer interface {
	Append(ctx context.Context, e Entry) (ref string, err error)
}

// Entry is one journal line.
type Entry struct {
	At      time.Time
	UserID  core.UserID
	Entity  string
	Op      string
	ID      string
	Methods []string
	// Amount and Description are filled when the changed record still
	// exists and carries them.
	Amount      string
	Description string
}

// Columns is the header of the journal sheet, matching Row.
var Columns = []string{"timestamp", "user_id", "entity", "op", "id", "payment_methods", "amount", "description"}

func FromChange(c core.Change) Entry {
	return Entry{
		At:      c.At,
		UserID:  c.UserID,
		Entity:  c.Entity,
		Op:      c.Op,
		ID:      c.ID,
		Methods: c.Methods,
	}
}

// Row renders e in Columns order.
func (e Entry) Row() []any {
	return []any{
		e.At.UTC().Format(time.RFC3339),
		string(e.UserID),
		e.Entity,
		e.Op,
		e.ID,
		strings.Join(e.Methods, ","),
		e.Amount,
		e.Description,
	}
}
