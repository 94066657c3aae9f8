// Package overview assembles the read-only dashboard payload.
package overview

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"dompet/internal/budget"
	"dompet/internal/core"
	"dompet/internal/storage"
)

const (
	MinDays     = 7
	MaxDays     = 90
	DefaultDays = 30

	// RecentTransferLimit caps recent_transfers.
	RecentTransferLimit = 20
)

// Indicator is the three-tier budget usage signal.
type Indicator string

const (
	Safe      Indicator = "safe"
	Caution   Indicator = "caution"
	NearLimit Indicator = "near_limit"
)

var (
	cautionFrom   = decimal.NewFromInt(70)
	nearLimitFrom = decimal.NewFromInt(90)
)

// IndicatorFor maps a usage percentage to its tier: above 90 is near_limit,
// 70 through 90 is caution, below 70 is safe. Unbounded usage is near_limit.
func IndicatorFor(percent decimal.Decimal, unbounded bool) Indicator {
	switch {
	case unbounded || percent.GreaterThan(nearLimitFrom):
		return NearLimit
	case percent.GreaterThanOrEqual(cautionFrom):
		return Caution
	default:
		return Safe
	}
}

type BudgetRow struct {
	budget.Row
	Indicator Indicator `json:"indicator"`
}

type DailyPoint struct {
	Date   core.Date       `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

type Payload struct {
	Month             string               `json:"month"`
	IncomeTotal       decimal.Decimal      `json:"income_total"`
	ExpenseTotal      decimal.Decimal      `json:"expense_total"`
	NetTotal          decimal.Decimal      `json:"net_total"`
	TodayExpenseTotal decimal.Decimal      `json:"today_expense_total"`
	PaymentMethods    []core.PaymentMethod `json:"payment_methods"`
	DailyExpense      []DailyPoint         `json:"daily_expense"`
	Budgets           []BudgetRow          `json:"budgets"`
	RecentTransfers   []core.Transfer      `json:"recent_transfers"`
}

type Composer struct {
	store storage.Store
	now   func() time.Time
}

// NewComposer returns a composer reading from store. now supplies "today";
// nil means time.Now.
func NewComposer(store storage.Store, now func() time.Time) *Composer {
	if now == nil {
		now = time.Now
	}
	return &Composer{store: store, now: now}
}

// ValidateDays rejects a day window outside [MinDays, MaxDays].
func ValidateDays(days int) error {
	if days < MinDays || days > MaxDays {
		return core.Invalidf("days", "days must be between %d and %d", MinDays, MaxDays)
	}
	return nil
}

// Compose builds the dashboard for month with a trailing window of days.
func (c *Composer) Compose(ctx context.Context, user core.UserID, month core.Month, days int) (Payload, error) {
	if err := month.Validate(); err != nil {
		return Payload{}, err
	}
	if err := ValidateDays(days); err != nil {
		return Payload{}, err
	}
	today := core.DateOf(c.now())

	var (
		methods   []core.PaymentMethod
		monthTxs  []core.Transaction
		todayTxs  []core.Transaction
		subs      []core.Subcategory
		cats      []core.Category
		budgets   []core.Budget
		transfers []core.Transfer
	)
	// Every list comes from one snapshot so the totals, the balances and the
	// budget rows describe the same state.
	err := c.store.View(ctx, func(r storage.Reader) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			methods, err = r.ListPaymentMethods(gctx, user)
			return err
		})
		g.Go(func() (err error) {
			monthTxs, err = r.ListTransactions(gctx, user, storage.ForMonth(month))
			return err
		})
		g.Go(func() (err error) {
			todayTxs, err = r.ListTransactions(gctx, user, storage.TransactionFilter{
				Type: core.Expense, From: today, To: today.AddDays(1),
			})
			return err
		})
		g.Go(func() (err error) {
			subs, err = r.ListSubcategories(gctx, user, storage.SubcategoryFilter{Kind: core.Expense})
			return err
		})
		g.Go(func() (err error) {
			cats, err = r.ListCategories(gctx, user, storage.CategoryFilter{Kind: core.Expense})
			return err
		})
		g.Go(func() (err error) {
			budgets, err = r.ListBudgets(gctx, user, storage.BudgetFilter{Year: month.Year, Month: int(month.Month)})
			return err
		})
		g.Go(func() (err error) {
			transfers, err = r.ListTransfers(gctx, user, storage.TransferFilter{From: month.Start(), To: month.End()})
			return err
		})
		return g.Wait()
	})
	if err != nil {
		return Payload{}, err
	}

	p := Payload{
		Month:             month.String(),
		IncomeTotal:       decimal.Zero,
		ExpenseTotal:      decimal.Zero,
		TodayExpenseTotal: decimal.Zero,
		PaymentMethods:    methods,
	}
	var expenses []core.Transaction
	for _, tx := range monthTxs {
		switch tx.Type {
		case core.Income:
			p.IncomeTotal = p.IncomeTotal.Add(tx.Amount)
		case core.Expense:
			p.ExpenseTotal = p.ExpenseTotal.Add(tx.Amount)
			expenses = append(expenses, tx)
		}
	}
	p.NetTotal = p.IncomeTotal.Sub(p.ExpenseTotal)
	for _, tx := range todayTxs {
		p.TodayExpenseTotal = p.TodayExpenseTotal.Add(tx.Amount)
	}

	p.DailyExpense = DailySeries(month, today, days, expenses)

	rows := budget.Rows(subs, cats, budgets, expenses)
	p.Budgets = make([]BudgetRow, 0, len(rows))
	for _, r := range rows {
		p.Budgets = append(p.Budgets, BudgetRow{Row: r, Indicator: IndicatorFor(r.ExactPercent, r.Unbounded)})
	}

	p.RecentTransfers = RecentTransfers(transfers, RecentTransferLimit)
	if p.PaymentMethods == nil {
		p.PaymentMethods = []core.PaymentMethod{}
	}
	return p, nil
}

// DailySeries returns one zero-filled point per day of [start, end), where
// end is the earlier of the month's end and tomorrow, and start is the later
// of the month's start and end minus days.
func DailySeries(month core.Month, today core.Date, days int, expenses []core.Transaction) []DailyPoint {
	end := month.End()
	if tomorrow := today.AddDays(1); tomorrow.Before(end) {
		end = tomorrow
	}
	start := end.AddDays(-days)
	if start.Before(month.Start()) {
		start = month.Start()
	}

	points := []DailyPoint{}
	if !start.Before(end) {
		return points
	}
	byDay := make(map[string]decimal.Decimal)
	for _, tx := range expenses {
		byDay[tx.Date.String()] = byDay[tx.Date.String()].Add(tx.Amount)
	}
	for d := start; d.Before(end); d = d.AddDays(1) {
		points = append(points, DailyPoint{Date: d, Amount: byDay[d.String()]})
	}
	return points
}

// RecentTransfers sorts by date then created_at, newest first, and keeps at
// most limit entries.
func RecentTransfers(transfers []core.Transfer, limit int) []core.Transfer {
	out := append([]core.Transfer(nil), transfers...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[j].Date.Before(out[i].Date)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []core.Transfer{}
	}
	return out
}
