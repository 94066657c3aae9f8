package ledger

import (
	"context"

	"dompet/internal/core"
	"dompet/internal/storage"
)

func (s *Service) CreateCategory(ctx context.Context, user core.UserID, kind core.Kind, name string) (core.Category, error) {
	c := core.Category{
		ID:        core.NewID(),
		UserID:    user,
		Kind:      kind,
		Name:      core.NormalizeName(name),
		CreatedAt: s.now().UTC(),
	}
	if err := c.Validate(); err != nil {
		return core.Category{}, s.failed(ctx, user, core.EntityCategory, core.OpCreate, err)
	}

	release, err := s.guard.Acquire(ctx, TaxonomyKey(user))
	if err != nil {
		return core.Category{}, s.failed(ctx, user, core.EntityCategory, core.OpCreate, err)
	}
	defer release()

	if err := s.store.Commit(ctx, &storage.Batch{User: user, Categories: []core.Category{c}}); err != nil {
		return core.Category{}, s.failed(ctx, user, core.EntityCategory, core.OpCreate, err)
	}
	release()

	s.committed(ctx, user, core.EntityCategory, core.OpCreate, c.ID, nil)
	return c, nil
}

// DeleteCategory removes a category without subcategories or transactions.
func (s *Service) DeleteCategory(ctx context.Context, user core.UserID, id string) error {
	release, err := s.guard.Acquire(ctx, TaxonomyKey(user))
	if err != nil {
		return s.failed(ctx, user, core.EntityCategory, core.OpDelete, err)
	}
	defer release()

	c, err := s.store.GetCategory(ctx, user, id)
	if err != nil {
		return s.failed(ctx, user, core.EntityCategory, core.OpDelete, err)
	}
	subs, err := s.store.ListSubcategories(ctx, user, storage.SubcategoryFilter{CategoryID: id})
	if err != nil {
		return s.failed(ctx, user, core.EntityCategory, core.OpDelete, err)
	}
	if len(subs) > 0 {
		return s.failed(ctx, user, core.EntityCategory, core.OpDelete,
			core.Referential("category %q still has %d subcategories", c.Name, len(subs)))
	}
	txs, err := s.store.ListTransactions(ctx, user, storage.TransactionFilter{CategoryID: id})
	if err != nil {
		return s.failed(ctx, user, core.EntityCategory, core.OpDelete, err)
	}
	if len(txs) > 0 {
		return s.failed(ctx, user, core.EntityCategory, core.OpDelete,
			core.Referential("category %q is used by %d transactions", c.Name, len(txs)))
	}

	if err := s.store.Commit(ctx, &storage.Batch{User: user, DeleteCategories: []string{id}}); err != nil {
		return s.failed(ctx, user, core.EntityCategory, core.OpDelete, err)
	}
	release()

	s.committed(ctx, user, core.EntityCategory, core.OpDelete, id, nil)
	return nil
}

// ListCategories returns the user's categories of kind, or all when kind is
// empty.
func (s *Service) ListCategories(ctx context.Context, user core.UserID, kind core.Kind) ([]core.Category, error) {
	if kind != "" {
		if err := kind.Validate(); err != nil {
			return nil, err
		}
	}
	return s.store.ListCategories(ctx, user, storage.CategoryFilter{Kind: kind})
}

// CreateSubcategory adds a subcategory under categoryID, inheriting its kind.
// Expense subcategories get a zero budget for the current month.
func (s *Service) CreateSubcategory(ctx context.Context, user core.UserID, categoryID, name string) (core.Subcategory, error) {
	sc := core.Subcategory{
		ID:         core.NewID(),
		UserID:     user,
		CategoryID: categoryID,
		Name:       core.NormalizeName(name),
		CreatedAt:  s.now().UTC(),
	}
	if sc.CategoryID == "" {
		return core.Subcategory{}, s.failed(ctx, user, core.EntitySubcategory, core.OpCreate,
			core.Invalid("category_id", core.ErrMissingReference))
	}

	release, err := s.guard.Acquire(ctx, TaxonomyKey(user))
	if err != nil {
		return core.Subcategory{}, s.failed(ctx, user, core.EntitySubcategory, core.OpCreate, err)
	}
	defer release()

	parent, err := s.store.GetCategory(ctx, user, categoryID)
	if err != nil {
		return core.Subcategory{}, s.failed(ctx, user, core.EntitySubcategory, core.OpCreate, asReference(err, "category_id"))
	}
	sc.Kind = parent.Kind
	if err := sc.Validate(); err != nil {
		return core.Subcategory{}, s.failed(ctx, user, core.EntitySubcategory, core.OpCreate, err)
	}

	b := &storage.Batch{User: user, Subcategories: []core.Subcategory{sc}}
	if sc.Kind == core.Expense {
		month := core.MonthOf(s.now())
		b.Budgets = []core.Budget{{
			ID: core.NewID(), UserID: user, Year: month.Year, Month: int(month.Month), SubcategoryID: sc.ID,
		}}
	}
	if err := s.store.Commit(ctx, b); err != nil {
		return core.Subcategory{}, s.failed(ctx, user, core.EntitySubcategory, core.OpCreate, err)
	}
	release()

	s.committed(ctx, user, core.EntitySubcategory, core.OpCreate, sc.ID, nil)
	return sc, nil
}

// DeleteSubcategory removes a subcategory no transaction references. Its
// zero budget rows go with it; any non-zero budget blocks the delete.
func (s *Service) DeleteSubcategory(ctx context.Context, user core.UserID, id string) error {
	release, err := s.guard.Acquire(ctx, TaxonomyKey(user))
	if err != nil {
		return s.failed(ctx, user, core.EntitySubcategory, core.OpDelete, err)
	}
	defer release()

	sc, err := s.store.GetSubcategory(ctx, user, id)
	if err != nil {
		return s.failed(ctx, user, core.EntitySubcategory, core.OpDelete, err)
	}
	txs, err := s.store.ListTransactions(ctx, user, storage.TransactionFilter{SubcategoryID: id})
	if err != nil {
		return s.failed(ctx, user, core.EntitySubcategory, core.OpDelete, err)
	}
	if len(txs) > 0 {
		return s.failed(ctx, user, core.EntitySubcategory, core.OpDelete,
			core.Referential("subcategory %q is used by %d transactions", sc.Name, len(txs)))
	}
	budgets, err := s.store.ListBudgets(ctx, user, storage.BudgetFilter{SubcategoryID: id})
	if err != nil {
		return s.failed(ctx, user, core.EntitySubcategory, core.OpDelete, err)
	}
	b := &storage.Batch{User: user, DeleteSubcategories: []string{id}}
	for _, bud := range budgets {
		if !bud.Amount.IsZero() {
			return s.failed(ctx, user, core.EntitySubcategory, core.OpDelete,
				core.Referential("subcategory %q has a budget for %04d-%02d", sc.Name, bud.Year, bud.Month))
		}
		b.DeleteBudgets = append(b.DeleteBudgets, bud.ID)
	}

	if err := s.store.Commit(ctx, b); err != nil {
		return s.failed(ctx, user, core.EntitySubcategory, core.OpDelete, err)
	}
	release()

	s.committed(ctx, user, core.EntitySubcategory, core.OpDelete, id, nil)
	return nil
}

func (s *Service) ListSubcategories(ctx context.Context, user core.UserID, kind core.Kind, categoryID string) ([]core.Subcategory, error) {
	if kind != "" {
		if err := kind.Validate(); err != nil {
			return nil, err
		}
	}
	return s.store.ListSubcategories(ctx, user, storage.SubcategoryFilter{Kind: kind, CategoryID: categoryID})
}
