// Package memory is an in-process storage.Store for tests and ephemeral runs.
package memory

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"

	"dompet/internal/core"
	"dompet/internal/storage"
)

type state struct {
	methods       map[string]core.PaymentMethod
	categories    map[string]core.Category
	subcategories map[string]core.Subcategory
	budgets       map[string]core.Budget
	transactions  map[string]core.Transaction
	transfers     map[string]core.Transfer
}

func (s *state) clone() *state {
	return &state{
		methods:       maps.Clone(s.methods),
		categories:    maps.Clone(s.categories),
		subcategories: maps.Clone(s.subcategories),
		budgets:       maps.Clone(s.budgets),
		transactions:  maps.Clone(s.transactions),
		transfers:     maps.Clone(s.transfers),
	}
}

// Store keeps every entity in maps. A batch is applied to a copy of the state
// and swapped in under the lock only when every step succeeded.
type Store struct {
	mu sync.RWMutex
	st *state
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: &state{
		methods:       make(map[string]core.PaymentMethod),
		categories:    make(map[string]core.Category),
		subcategories: make(map[string]core.Subcategory),
		budgets:       make(map[string]core.Budget),
		transactions:  make(map[string]core.Transaction),
		transfers:     make(map[string]core.Transfer),
	}}
}

func (s *Store) Close() error { return nil }

// view reads one state. States are never modified once installed, so a view
// is a consistent snapshot without holding the lock.
type view struct {
	st *state
}

var _ storage.Reader = view{}

func (s *Store) snapshot() view {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{st: s.st}
}

func (s *Store) GetPaymentMethod(ctx context.Context, user core.UserID, id string) (core.PaymentMethod, error) {
	return s.snapshot().GetPaymentMethod(ctx, user, id)
}

func (s *Store) ListPaymentMethods(ctx context.Context, user core.UserID) ([]core.PaymentMethod, error) {
	return s.snapshot().ListPaymentMethods(ctx, user)
}

func (s *Store) GetCategory(ctx context.Context, user core.UserID, id string) (core.Category, error) {
	return s.snapshot().GetCategory(ctx, user, id)
}

func (s *Store) ListCategories(ctx context.Context, user core.UserID, f storage.CategoryFilter) ([]core.Category, error) {
	return s.snapshot().ListCategories(ctx, user, f)
}

func (s *Store) GetSubcategory(ctx context.Context, user core.UserID, id string) (core.Subcategory, error) {
	return s.snapshot().GetSubcategory(ctx, user, id)
}

func (s *Store) ListSubcategories(ctx context.Context, user core.UserID, f storage.SubcategoryFilter) ([]core.Subcategory, error) {
	return s.snapshot().ListSubcategories(ctx, user, f)
}

func (s *Store) ListBudgets(ctx context.Context, user core.UserID, f storage.BudgetFilter) ([]core.Budget, error) {
	return s.snapshot().ListBudgets(ctx, user, f)
}

func (s *Store) GetTransaction(ctx context.Context, user core.UserID, id string) (core.Transaction, error) {
	return s.snapshot().GetTransaction(ctx, user, id)
}

func (s *Store) ListTransactions(ctx context.Context, user core.UserID, f storage.TransactionFilter) ([]core.Transaction, error) {
	return s.snapshot().ListTransactions(ctx, user, f)
}

func (s *Store) GetTransfer(ctx context.Context, user core.UserID, id string) (core.Transfer, error) {
	return s.snapshot().GetTransfer(ctx, user, id)
}

func (s *Store) ListTransfers(ctx context.Context, user core.UserID, f storage.TransferFilter) ([]core.Transfer, error) {
	return s.snapshot().ListTransfers(ctx, user, f)
}

func (s *Store) ListUsers(ctx context.Context) ([]core.UserID, error) {
	return s.snapshot().ListUsers(ctx)
}

func (v view) GetPaymentMethod(_ context.Context, user core.UserID, id string) (core.PaymentMethod, error) {
	m, ok := v.st.methods[id]
	if !ok || m.UserID != user {
		return core.PaymentMethod{}, core.NotFound("payment method", id)
	}
	return m, nil
}

func (v view) ListPaymentMethods(_ context.Context, user core.UserID) ([]core.PaymentMethod, error) {
	out := []core.PaymentMethod{}
	for _, m := range v.st.methods {
		if m.UserID == user {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessName(out[i].Name, out[j].Name, out[i].ID, out[j].ID) })
	return out, nil
}

func (v view) GetCategory(_ context.Context, user core.UserID, id string) (core.Category, error) {
	c, ok := v.st.categories[id]
	if !ok || c.UserID != user {
		return core.Category{}, core.NotFound("category", id)
	}
	return c, nil
}

func (v view) ListCategories(_ context.Context, user core.UserID, f storage.CategoryFilter) ([]core.Category, error) {
	out := []core.Category{}
	for _, c := range v.st.categories {
		if c.UserID == user && (f.Kind == "" || c.Kind == f.Kind) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessName(out[i].Name, out[j].Name, out[i].ID, out[j].ID) })
	return out, nil
}

func (v view) GetSubcategory(_ context.Context, user core.UserID, id string) (core.Subcategory, error) {
	sc, ok := v.st.subcategories[id]
	if !ok || sc.UserID != user {
		return core.Subcategory{}, core.NotFound("subcategory", id)
	}
	return sc, nil
}

func (v view) ListSubcategories(_ context.Context, user core.UserID, f storage.SubcategoryFilter) ([]core.Subcategory, error) {
	out := []core.Subcategory{}
	for _, sc := range v.st.subcategories {
		if sc.UserID != user {
			continue
		}
		if f.Kind != "" && sc.Kind != f.Kind {
			continue
		}
		if f.CategoryID != "" && sc.CategoryID != f.CategoryID {
			continue
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return lessName(out[i].Name, out[j].Name, out[i].ID, out[j].ID) })
	return out, nil
}

func (v view) ListBudgets(_ context.Context, user core.UserID, f storage.BudgetFilter) ([]core.Budget, error) {
	out := []core.Budget{}
	for _, b := range v.st.budgets {
		if b.UserID == user && f.MatchBudget(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		if out[i].Month != out[j].Month {
			return out[i].Month < out[j].Month
		}
		return out[i].SubcategoryID < out[j].SubcategoryID
	})
	return out, nil
}

func (v view) GetTransaction(_ context.Context, user core.UserID, id string) (core.Transaction, error) {
	tx, ok := v.st.transactions[id]
	if !ok || tx.UserID != user {
		return core.Transaction{}, core.NotFound("transaction", id)
	}
	return tx, nil
}

func (v view) ListTransactions(_ context.Context, user core.UserID, f storage.TransactionFilter) ([]core.Transaction, error) {
	out := []core.Transaction{}
	for _, tx := range v.st.transactions {
		if tx.UserID == user && f.MatchTransaction(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return lessEvent(out[i].Date, out[j].Date, out[i].CreatedAt.UnixNano(), out[j].CreatedAt.UnixNano(), out[i].ID, out[j].ID)
	})
	return out, nil
}

func (v view) GetTransfer(_ context.Context, user core.UserID, id string) (core.Transfer, error) {
	tr, ok := v.st.transfers[id]
	if !ok || tr.UserID != user {
		return core.Transfer{}, core.NotFound("transfer", id)
	}
	return tr, nil
}

func (v view) ListTransfers(_ context.Context, user core.UserID, f storage.TransferFilter) ([]core.Transfer, error) {
	out := []core.Transfer{}
	for _, tr := range v.st.transfers {
		if tr.UserID == user && f.MatchTransfer(tr) {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return lessEvent(out[i].Date, out[j].Date, out[i].CreatedAt.UnixNano(), out[j].CreatedAt.UnixNano(), out[i].ID, out[j].ID)
	})
	return out, nil
}

func (v view) ListUsers(_ context.Context) ([]core.UserID, error) {
	seen := make(map[core.UserID]struct{})
	for _, m := range v.st.methods {
		seen[m.UserID] = struct{}{}
	}
	out := make([]core.UserID, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func lessName(a, b, idA, idB string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la != lb {
		return la < lb
	}
	return idA < idB
}

func lessEvent(da, db core.Date, ca, cb int64, idA, idB string) bool {
	if !da.Equal(db.Time) {
		return da.Before(db)
	}
	if ca != cb {
		return ca < cb
	}
	return idA < idB
}
