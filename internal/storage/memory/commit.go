package memory

import (
	"context"
	"strings"

	"dompet/internal/core"
	"dompet/internal/storage"
)

// Commit applies b atomically. Readers see either the state before the batch
// or the state after it.
func (s *Store) Commit(ctx context.Context, b *storage.Batch) error {
	if err := ctx.Err(); err != nil {
		return core.Storage("commit batch", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.st.clone()
	if err := apply(next, b); err != nil {
		return err
	}
	s.st = next
	return nil
}

// View runs fn against the state installed when it starts.
func (s *Store) View(ctx context.Context, fn func(r storage.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return core.Storage("begin view", err)
	}
	return fn(s.snapshot())
}

// Update holds the write lock while fn reads and its batch is applied.
func (s *Store) Update(ctx context.Context, fn func(r storage.Reader) (*storage.Batch, error)) error {
	if err := ctx.Err(); err != nil {
		return core.Storage("begin update", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := fn(view{st: s.st})
	if err != nil {
		return err
	}
	if b == nil || b.Empty() {
		return nil
	}
	next := s.st.clone()
	if err := apply(next, b); err != nil {
		return err
	}
	s.st = next
	return nil
}

func apply(st *state, b *storage.Batch) error {
	user := b.User

	for _, m := range b.PaymentMethods {
		if prev, ok := st.methods[m.ID]; ok && prev.UserID != user {
			return core.NotFound("payment method", m.ID)
		}
		key := strings.ToLower(m.Name)
		for id, other := range st.methods {
			if id != m.ID && other.UserID == user && strings.ToLower(other.Name) == key {
				return core.Invalid("name", core.ErrDuplicateName)
			}
		}
		m.UserID = user
		st.methods[m.ID] = m
	}

	for _, c := range b.Categories {
		if prev, ok := st.categories[c.ID]; ok && prev.UserID != user {
			return core.NotFound("category", c.ID)
		}
		c.UserID = user
		st.categories[c.ID] = c
	}

	for _, sc := range b.Subcategories {
		if prev, ok := st.subcategories[sc.ID]; ok && prev.UserID != user {
			return core.NotFound("subcategory", sc.ID)
		}
		if c, ok := st.categories[sc.CategoryID]; !ok || c.UserID != user {
			return core.Invalid("category_id", core.ErrInvalidReference)
		}
		sc.UserID = user
		st.subcategories[sc.ID] = sc
	}

	for _, bud := range b.Budgets {
		if sc, ok := st.subcategories[bud.SubcategoryID]; !ok || sc.UserID != user {
			return core.Invalid("subcategory_id", core.ErrInvalidReference)
		}
		bud.UserID = user
		for id, existing := range st.budgets {
			if existing.UserID == user && existing.Year == bud.Year && existing.Month == bud.Month && existing.SubcategoryID == bud.SubcategoryID {
				bud.ID = existing.ID
				delete(st.budgets, id)
				break
			}
		}
		st.budgets[bud.ID] = bud
	}

	for _, tx := range b.Transactions {
		if prev, ok := st.transactions[tx.ID]; ok && prev.UserID != user {
			return core.NotFound("transaction", tx.ID)
		}
		if m, ok := st.methods[tx.PaymentMethodID]; !ok || m.UserID != user {
			return core.Invalid("payment_method_id", core.ErrInvalidReference)
		}
		if c, ok := st.categories[tx.CategoryID]; !ok || c.UserID != user {
			return core.Invalid("category_id", core.ErrInvalidReference)
		}
		if sc, ok := st.subcategories[tx.SubcategoryID]; !ok || sc.UserID != user {
			return core.Invalid("subcategory_id", core.ErrInvalidReference)
		}
		tx.UserID = user
		st.transactions[tx.ID] = tx
	}

	for _, tr := range b.Transfers {
		if prev, ok := st.transfers[tr.ID]; ok && prev.UserID != user {
			return core.NotFound("transfer", tr.ID)
		}
		if m, ok := st.methods[tr.FromPaymentMethodID]; !ok || m.UserID != user {
			return core.Invalid("from_payment_method_id", core.ErrInvalidReference)
		}
		if m, ok := st.methods[tr.ToPaymentMethodID]; !ok || m.UserID != user {
			return core.Invalid("to_payment_method_id", core.ErrInvalidReference)
		}
		tr.UserID = user
		st.transfers[tr.ID] = tr
	}

	for _, d := range b.Deltas {
		m, ok := st.methods[d.PaymentMethodID]
		if !ok || m.UserID != user {
			return core.NotFound("payment method", d.PaymentMethodID)
		}
		m.Balance = m.Balance.Add(d.Amount)
		st.methods[m.ID] = m
	}

	for _, id := range b.DeleteTransactions {
		if tx, ok := st.transactions[id]; !ok || tx.UserID != user {
			return core.NotFound("transaction", id)
		}
		delete(st.transactions, id)
	}

	for _, id := range b.DeleteTransfers {
		if tr, ok := st.transfers[id]; !ok || tr.UserID != user {
			return core.NotFound("transfer", id)
		}
		delete(st.transfers, id)
	}

	for _, id := range b.DeleteBudgets {
		if bud, ok := st.budgets[id]; !ok || bud.UserID != user {
			return core.NotFound("budget", id)
		}
		delete(st.budgets, id)
	}

	for _, id := range b.DeleteSubcategories {
		if sc, ok := st.subcategories[id]; !ok || sc.UserID != user {
			return core.NotFound("subcategory", id)
		}
		for _, tx := range st.transactions {
			if tx.SubcategoryID == id {
				return core.Referential("subcategory %q is referenced by transactions", id)
			}
		}
		for _, bud := range st.budgets {
			if bud.SubcategoryID == id {
				return core.Referential("subcategory %q is referenced by budgets", id)
			}
		}
		delete(st.subcategories, id)
	}

	for _, id := range b.DeleteCategories {
		if c, ok := st.categories[id]; !ok || c.UserID != user {
			return core.NotFound("category", id)
		}
		for _, sc := range st.subcategories {
			if sc.CategoryID == id {
				return core.Referential("category %q has subcategories", id)
			}
		}
		for _, tx := range st.transactions {
			if tx.CategoryID == id {
				return core.Referential("category %q is referenced by transactions", id)
			}
		}
		delete(st.categories, id)
	}

	for _, id := range b.DeletePaymentMethods {
		if m, ok := st.methods[id]; !ok || m.UserID != user {
			return core.NotFound("payment method", id)
		}
		for _, tx := range st.transactions {
			if tx.PaymentMethodID == id {
				return core.Referential("payment method %q is referenced by transactions", id)
			}
		}
		for _, tr := range st.transfers {
			if tr.FromPaymentMethodID == id || tr.ToPaymentMethodID == id {
				return core.Referential("payment method %q is referenced by transfers", id)
			}
		}
		delete(st.methods, id)
	}

	return nil
}
