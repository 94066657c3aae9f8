package ledger

import (
	"context"

	"dompet/internal/budget"
	"dompet/internal/core"
	"dompet/internal/overview"
)

func (s *Service) DashboardOverview(ctx context.Context, user core.UserID, month core.Month, days int) (overview.Payload, error) {
	return s.composer.Compose(ctx, user, month, days)
}

func (s *Service) BudgetOverview(ctx context.Context, user core.UserID, month core.Month) ([]budget.Row, error) {
	if err := month.Validate(); err != nil {
		return nil, err
	}
	return s.budgets.Overview(ctx, user, month)
}

// UpsertBudgets sets the budgets of month for the listed subcategories. It
// holds the taxonomy key so a concurrent subcategory delete cannot drop a
// budget written here.
func (s *Service) UpsertBudgets(ctx context.Context, user core.UserID, month core.Month, items []budget.Item) error {
	release, err := s.guard.Acquire(ctx, TaxonomyKey(user))
	if err != nil {
		return s.failed(ctx, user, core.EntityBudget, core.OpUpsert, err)
	}
	defer release()

	if err := s.budgets.Upsert(ctx, user, month, items); err != nil {
		return s.failed(ctx, user, core.EntityBudget, core.OpUpsert, err)
	}
	release()

	s.committed(ctx, user, core.EntityBudget, core.OpUpsert, month.String(), nil)
	return nil
}
