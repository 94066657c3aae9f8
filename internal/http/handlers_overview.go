package http

import (
	"net/http"

	"dompet/internal/budget"
	"dompet/internal/core"
)

type budgetItemRequest struct {
	SubcategoryID string      `json:"subcategory_id"`
	Amount        core.Amount `json:"amount"`
}

type budgetsRequest struct {
	Month string              `json:"month"`
	Items []budgetItemRequest `json:"items"`
}

func (req budgetsRequest) items() []budget.Item {
	out := make([]budget.Item, len(req.Items))
	for i, it := range req.Items {
		out[i] = budget.Item{SubcategoryID: it.SubcategoryID, Amount: it.Amount.Decimal()}
	}
	return out
}

// dashboardOverview serves GET /api/dashboard/overview?month=&days=. Results
// are cached per user until that user's next write; a result composed while
// a write finished is served but not cached.
func (s *Server) dashboardOverview(r *http.Request, user core.UserID) (int, any, error) {
	now := s.now()
	month, err := monthParam(r, now)
	if err != nil {
		return 0, nil, err
	}
	days, err := daysParam(r)
	if err != nil {
		return 0, nil, err
	}

	if s.overviewCache == nil {
		p, err := s.svc.DashboardOverview(r.Context(), user, month, days)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, p, nil
	}

	key := overviewKey(user, month, days, core.DateOf(now))
	if p, ok := s.overviewCache.Get(key); ok {
		return http.StatusOK, p, nil
	}
	gen := s.overviewGeneration(user)
	p, err := s.svc.DashboardOverview(r.Context(), user, month, days)
	if err != nil {
		return 0, nil, err
	}
	s.cacheOverview(user, gen, key, p)
	return http.StatusOK, p, nil
}

func (s *Server) budgetOverview(r *http.Request, user core.UserID) (int, any, error) {
	month, err := monthParam(r, s.now())
	if err != nil {
		return 0, nil, err
	}
	rows, err := s.svc.BudgetOverview(r.Context(), user, month)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, orEmpty(rows), nil
}

// upsertBudgets serves PUT /api/budgets and answers with the month's budget
// overview after the write.
func (s *Server) upsertBudgets(r *http.Request, user core.UserID) (int, any, error) {
	var req budgetsRequest
	if err := decodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	month, err := core.ParseMonth(req.Month)
	if err != nil {
		return 0, nil, err
	}
	if err := s.svc.UpsertBudgets(r.Context(), user, month, req.items()); err != nil {
		return 0, nil, err
	}
	rows, err := s.svc.BudgetOverview(r.Context(), user, month)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, orEmpty(rows), nil
}

func (s *Server) seed(r *http.Request, user core.UserID) (int, any, error) {
	seeded, err := s.svc.SeedDefaults(r.Context(), user)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]bool{"seeded": seeded}, nil
}

func (s *Server) reconcile(r *http.Request, user core.UserID) (int, any, error) {
	report, err := s.svc.Reconcile(r.Context(), user)
	if err != nil {
		return 0, nil, err
	}
	report.Methods = orEmpty(report.Methods)
	return http.StatusOK, report, nil
}
