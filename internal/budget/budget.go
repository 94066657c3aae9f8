// Package budget computes monthly budget usage per expense subcategory.
package budget

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"dompet/internal/core"
	"dompet/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// percentPrecision is the number of decimal places ComputePercent keeps.
const percentPrecision = 16

// Row is the budget usage of one expense subcategory in one month.
type Row struct {
	SubcategoryID   string          `json:"subcategory_id"`
	SubcategoryName string          `json:"subcategory_name"`
	CategoryID      string          `json:"category_id"`
	CategoryName    string          `json:"category_name"`
	Budget          decimal.Decimal `json:"budget"`
	Spent           decimal.Decimal `json:"spent"`
	Remaining       decimal.Decimal `json:"remaining"`
	// Percent is ExactPercent rounded to two places.
	Percent      decimal.Decimal `json:"percent"`
	ExactPercent decimal.Decimal `json:"-"`
	// Unbounded marks money spent against a zero budget.
	Unbounded bool `json:"unbounded"`
}

// Item sets the budget of one subcategory.
type Item struct {
	SubcategoryID string          `json:"subcategory_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// ComputePercent returns spent as a percentage of budget, not capped and not
// rounded for display. A zero budget yields 0 when nothing was spent and 100 with
// unbounded set otherwise.
func ComputePercent(budget, spent decimal.Decimal) (percent decimal.Decimal, unbounded bool) {
	if budget.IsPositive() {
		return spent.Mul(hundred).DivRound(budget, percentPrecision), false
	}
	if spent.IsPositive() {
		return hundred, true
	}
	return decimal.Zero, false
}

type Aggregator struct {
	store storage.Store
}

func NewAggregator(store storage.Store) *Aggregator {
	return &Aggregator{store: store}
}

// Overview returns one row per expense subcategory of user, including those
// without a budget for month, sorted by percent descending then name.
func (a *Aggregator) Overview(ctx context.Context, user core.UserID, month core.Month) ([]Row, error) {
	var rows []Row
	err := a.store.View(ctx, func(r storage.Reader) error {
		subs, err := r.ListSubcategories(ctx, user, storage.SubcategoryFilter{Kind: core.Expense})
		if err != nil {
			return err
		}
		cats, err := r.ListCategories(ctx, user, storage.CategoryFilter{Kind: core.Expense})
		if err != nil {
			return err
		}
		budgets, err := r.ListBudgets(ctx, user, storage.BudgetFilter{Year: month.Year, Month: int(month.Month)})
		if err != nil {
			return err
		}
		f := storage.ForMonth(month)
		f.Type = core.Expense
		txs, err := r.ListTransactions(ctx, user, f)
		if err != nil {
			return err
		}
		rows = Rows(subs, cats, budgets, txs)
		return nil
	})
	return rows, err
}

// Rows builds the budget rows from already loaded data. txs must be the
// expense transactions of the month.
func Rows(subs []core.Subcategory, cats []core.Category, budgets []core.Budget, txs []core.Transaction) []Row {
	catNames := make(map[string]string, len(cats))
	for _, c := range cats {
		catNames[c.ID] = c.Name
	}
	amounts := make(map[string]decimal.Decimal, len(budgets))
	for _, b := range budgets {
		amounts[b.SubcategoryID] = b.Amount
	}
	spent := make(map[string]decimal.Decimal)
	for _, tx := range txs {
		if tx.Type == core.Expense {
			spent[tx.SubcategoryID] = spent[tx.SubcategoryID].Add(tx.Amount)
		}
	}

	rows := make([]Row, 0, len(subs))
	for _, sc := range subs {
		if sc.Kind != core.Expense {
			continue
		}
		name, ok := catNames[sc.CategoryID]
		if !ok {
			name = "-"
		}
		budget := amounts[sc.ID]
		used := spent[sc.ID]
		pct, unbounded := ComputePercent(budget, used)
		rows = append(rows, Row{
			SubcategoryID:   sc.ID,
			SubcategoryName: sc.Name,
			CategoryID:      sc.CategoryID,
			CategoryName:    name,
			Budget:          budget,
			Spent:           used,
			Remaining:       budget.Sub(used),
			Percent:         pct.Round(2),
			ExactPercent:    pct,
			Unbounded:       unbounded,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if c := rows[i].ExactPercent.Cmp(rows[j].ExactPercent); c != 0 {
			return c > 0
		}
		return strings.ToLower(rows[i].SubcategoryName) < strings.ToLower(rows[j].SubcategoryName)
	})
	return rows
}

// Prepare validates items for month and returns the budgets to write. No item
// is written unless every item is valid. Later items for the same
// subcategory replace earlier ones.
func (a *Aggregator) Prepare(ctx context.Context, user core.UserID, month core.Month, items []Item) ([]core.Budget, error) {
	if err := month.Validate(); err != nil {
		return nil, err
	}
	order := make([]string, 0, len(items))
	byID := make(map[string]core.Budget, len(items))
	for _, it := range items {
		b := core.Budget{
			ID:            core.NewID(),
			UserID:        user,
			Year:          month.Year,
			Month:         int(month.Month),
			SubcategoryID: it.SubcategoryID,
			Amount:        core.RoundAmount(it.Amount),
		}
		if err := b.Validate(); err != nil {
			return nil, err
		}
		sc, err := a.store.GetSubcategory(ctx, user, it.SubcategoryID)
		if err != nil {
			if core.KindOf(err) == core.KindNotFound {
				return nil, core.Invalid("subcategory_id", core.ErrInvalidReference)
			}
			return nil, err
		}
		if sc.Kind != core.Expense {
			return nil, core.Invalidf("subcategory_id", "subcategory %q is not an expense subcategory", sc.Name)
		}
		if _, seen := byID[b.SubcategoryID]; !seen {
			order = append(order, b.SubcategoryID)
		}
		byID[b.SubcategoryID] = b
	}
	out := make([]core.Budget, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

// Upsert validates items and writes them in one batch. Subcategories not in
// items keep their budgets.
func (a *Aggregator) Upsert(ctx context.Context, user core.UserID, month core.Month, items []Item) error {
	budgets, err := a.Prepare(ctx, user, month, items)
	if err != nil {
		return err
	}
	if len(budgets) == 0 {
		return nil
	}
	return a.store.Commit(ctx, &storage.Batch{User: user, Budgets: budgets})
}
