// Package storage defines the entity store used by the ledger engine.
//
// Every read is scoped by the owning user. Writes go through Commit with a
// Batch, which is applied all-or-nothing so that readers never observe one
// side of a transfer without the other. Reads that must agree with each other
// go through View; writes computed from reads go through Update.
package storage

import (
	"context"

	"dompet/internal/core"
)

// Reader is the read side of the entity store. Entities owned by another
// user are reported as core.ErrNotFound.
type Reader interface {
	GetPaymentMethod(ctx context.Context, user core.UserID, id string) (core.PaymentMethod, error)
	// ListPaymentMethods returns the user's methods sorted by name.
	ListPaymentMethods(ctx context.Context, user core.UserID) ([]core.PaymentMethod, error)

	GetCategory(ctx context.Context, user core.UserID, id string) (core.Category, error)
	ListCategories(ctx context.Context, user core.UserID, f CategoryFilter) ([]core.Category, error)

	GetSubcategory(ctx context.Context, user core.UserID, id string) (core.Subcategory, error)
	ListSubcategories(ctx context.Context, user core.UserID, f SubcategoryFilter) ([]core.Subcategory, error)

	ListBudgets(ctx context.Context, user core.UserID, f BudgetFilter) ([]core.Budget, error)

	GetTransaction(ctx context.Context, user core.UserID, id string) (core.Transaction, error)
	// ListTransactions returns matches ordered by date, then created_at.
	ListTransactions(ctx context.Context, user core.UserID, f TransactionFilter) ([]core.Transaction, error)

	GetTransfer(ctx context.Context, user core.UserID, id string) (core.Transfer, error)
	// ListTransfers returns matches ordered by date, then created_at.
	ListTransfers(ctx context.Context, user core.UserID, f TransferFilter) ([]core.Transfer, error)

	// ListUsers returns every user owning at least one payment method.
	ListUsers(ctx context.Context) ([]core.UserID, error)
}

// Store is a Reader that accepts atomic write batches.
type Store interface {
	Reader
	Commit(ctx context.Context, b *Batch) error

	// View runs fn against one consistent snapshot. Commits that land while
	// fn runs are invisible to it.
	View(ctx context.Context, fn func(r Reader) error) error

	// Update runs fn and commits the batch it returns in one write
	// transaction. No other commit, from this process or another one sharing
	// the same database, lands between fn's reads and the batch. A nil or
	// empty batch commits nothing. fn must read through r only.
	Update(ctx context.Context, fn func(r Reader) (*Batch, error)) error

	Close() error
}

type (
	CategoryFilter struct {
		Kind core.Kind
	}

	SubcategoryFilter struct {
		Kind       core.Kind
		CategoryID string
	}

	// BudgetFilter matches budgets of one month when Year is set.
	BudgetFilter struct {
		Year          int
		Month         int
		SubcategoryID string
	}

	// TransactionFilter matches on every non-zero field. The date range is
	// half open: From <= date < To.
	TransactionFilter struct {
		Type            core.Kind
		From            core.Date
		To              core.Date
		PaymentMethodID string
		CategoryID      string
		SubcategoryID   string
	}

	// TransferFilter matches transfers touching PaymentMethodID on either side.
	TransferFilter struct {
		From            core.Date
		To              core.Date
		PaymentMethodID string
	}
)

// Batch is one atomic unit of writes for a single user.
//
// Commit applies upserts first, then balance deltas, then deletes. Deleting a
// missing id or applying a delta to a missing payment method fails the whole
// batch with core.ErrNotFound.
type Batch struct {
	User core.UserID

	PaymentMethods []core.PaymentMethod
	Categories     []core.Category
	Subcategories  []core.Subcategory
	// Budgets are upserted by (user, year, month, subcategory); ID is kept
	// from the existing row when one exists.
	Budgets      []core.Budget
	Transactions []core.Transaction
	Transfers    []core.Transfer

	Deltas []core.Delta

	DeleteTransactions   []string
	DeleteTransfers      []string
	DeleteBudgets        []string
	DeleteSubcategories  []string
	DeleteCategories     []string
	DeletePaymentMethods []string
}

// Empty reports whether the batch carries no writes.
func (b *Batch) Empty() bool {
	return len(b.PaymentMethods) == 0 && len(b.Categories) == 0 &&
		len(b.Subcategories) == 0 && len(b.Budgets) == 0 &&
		len(b.Transactions) == 0 && len(b.Transfers) == 0 &&
		len(b.Deltas) == 0 && len(b.DeleteTransactions) == 0 &&
		len(b.DeleteTransfers) == 0 && len(b.DeleteBudgets) == 0 &&
		len(b.DeleteSubcategories) == 0 && len(b.DeleteCategories) == 0 &&
		len(b.DeletePaymentMethods) == 0
}

// MatchTransaction reports whether tx satisfies f.
func (f TransactionFilter) MatchTransaction(tx core.Transaction) bool {
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if !f.From.IsZero() && tx.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !tx.Date.Before(f.To) {
		return false
	}
	if f.PaymentMethodID != "" && tx.PaymentMethodID != f.PaymentMethodID {
		return false
	}
	if f.CategoryID != "" && tx.CategoryID != f.CategoryID {
		return false
	}
	if f.SubcategoryID != "" && tx.SubcategoryID != f.SubcategoryID {
		return false
	}
	return true
}

// MatchTransfer reports whether tr satisfies f.
func (f TransferFilter) MatchTransfer(tr core.Transfer) bool {
	if !f.From.IsZero() && tr.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !tr.Date.Before(f.To) {
		return false
	}
	if f.PaymentMethodID != "" && tr.FromPaymentMethodID != f.PaymentMethodID && tr.ToPaymentMethodID != f.PaymentMethodID {
		return false
	}
	return true
}

// MatchBudget reports whether b satisfies f.
func (f BudgetFilter) MatchBudget(b core.Budget) bool {
	if f.Year != 0 && (b.Year != f.Year || b.Month != f.Month) {
		return false
	}
	if f.SubcategoryID != "" && b.SubcategoryID != f.SubcategoryID {
		return false
	}
	return true
}

// ForMonth returns a filter matching the half-open date range of m.
func ForMonth(m core.Month) TransactionFilter {
	return TransactionFilter{From: m.Start(), To: m.End()}
}
