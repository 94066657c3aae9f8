package overview

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dompet/internal/core"
	"dompet/internal/storage"
	"dompet/internal/storage/memory"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestIndicatorFor(t *testing.T) {
	cases := []struct {
		percent   string
		unbounded bool
		want      Indicator
	}{
		{"0", false, Safe},
		{"69.99", false, Safe},
		{"70", false, Caution},
		{"90", false, Caution},
		{"90.01", false, NearLimit},
		{"150", false, NearLimit},
		{"100", true, NearLimit},
	}
	for _, tc := range cases {
		if got := IndicatorFor(d(tc.percent), tc.unbounded); got != tc.want {
			t.Fatalf("percent %s unbounded %v: got %s, want %s", tc.percent, tc.unbounded, got, tc.want)
		}
	}
}

func TestDailySeries(t *testing.T) {
	march := core.Month{Year: 2025, Month: time.March}
	expenses := []core.Transaction{
		{Type: core.Expense, Date: core.NewDate(2025, 3, 14), Amount: d("10")},
		{Type: core.Expense, Date: core.NewDate(2025, 3, 14), Amount: d("5")},
		{Type: core.Expense, Date: core.NewDate(2025, 3, 1), Amount: d("7")},
	}

	cases := []struct {
		name        string
		month       core.Month
		today       core.Date
		days        int
		first, last string
		count       int
	}{
		{"current month clipped to today", march, core.NewDate(2025, 3, 15), 30, "2025-03-01", "2025-03-15", 15},
		{"trailing window inside month", march, core.NewDate(2025, 3, 31), 7, "2025-03-25", "2025-03-31", 7},
		{"past month ends at month end", march, core.NewDate(2025, 5, 10), 90, "2025-03-01", "2025-03-31", 31},
		{"future month is empty", core.Month{Year: 2025, Month: time.June}, core.NewDate(2025, 3, 15), 30, "", "", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pts := DailySeries(tc.month, tc.today, tc.days, expenses)
			if len(pts) != tc.count {
				t.Fatalf("expected %d points, got %d", tc.count, len(pts))
			}
			if tc.count == 0 {
				return
			}
			if pts[0].Date.String() != tc.first || pts[len(pts)-1].Date.String() != tc.last {
				t.Fatalf("range %s..%s, want %s..%s", pts[0].Date, pts[len(pts)-1].Date, tc.first, tc.last)
			}
			for i := 1; i < len(pts); i++ {
				if pts[i].Date.Sub(pts[i-1].Date.Time) != 24*time.Hour {
					t.Fatalf("gap between %s and %s", pts[i-1].Date, pts[i].Date)
				}
			}
		})
	}

	pts := DailySeries(march, core.NewDate(2025, 3, 15), 30, expenses)
	if !pts[13].Amount.Equal(d("15")) || !pts[0].Amount.Equal(d("7")) || !pts[1].Amount.IsZero() {
		t.Fatalf("unexpected amounts: %v %v %v", pts[0].Amount, pts[1].Amount, pts[13].Amount)
	}
}

func TestRecentTransfers(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	var trs []core.Transfer
	for i := 0; i < 25; i++ {
		trs = append(trs, core.Transfer{
			ID:        string(rune('a' + i)),
			Date:      core.NewDate(2025, 3, 1+i%5),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	got := RecentTransfers(trs, RecentTransferLimit)
	if len(got) != 20 {
		t.Fatalf("expected 20, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		if cur.Date.After(prev.Date.Time) || (cur.Date.Equal(prev.Date.Time) && cur.CreatedAt.After(prev.CreatedAt)) {
			t.Fatalf("not newest first at %d", i)
		}
	}
	if got := RecentTransfers(nil, 5); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice")
	}
}

func TestComposeEmptyUser(t *testing.T) {
	now := func() time.Time { return time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC) }
	c := NewComposer(memory.New(), now)
	p, err := c.Compose(context.Background(), "nobody", core.Month{Year: 2025, Month: time.March}, DefaultDays)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if !p.NetTotal.IsZero() || len(p.Budgets) != 0 || len(p.PaymentMethods) != 0 || len(p.RecentTransfers) != 0 {
		t.Fatalf("expected zero payload, got %+v", p)
	}
	if len(p.DailyExpense) != 15 {
		t.Fatalf("expected zero-filled series of 15 days, got %d", len(p.DailyExpense))
	}

	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"payment_methods":[]`, `"budgets":[]`, `"recent_transfers":[]`} {
		if !strings.Contains(string(b), key) {
			t.Fatalf("expected %s in %s", key, b)
		}
	}
}

func TestComposeTotals(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	epoch := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	err := store.Commit(ctx, &storage.Batch{
		User:           "u",
		PaymentMethods: []core.PaymentMethod{{ID: "pm", Name: "Cash", CreatedAt: epoch}, {ID: "pm2", Name: "Bank", CreatedAt: epoch}},
		Categories:     []core.Category{{ID: "ce", Kind: core.Expense, Name: "Kebutuhan", CreatedAt: epoch}, {ID: "ci", Kind: core.Income, Name: "Pemasukan", CreatedAt: epoch}},
		Subcategories: []core.Subcategory{
			{ID: "se", Kind: core.Expense, CategoryID: "ce", Name: "Makan", CreatedAt: epoch},
			{ID: "si", Kind: core.Income, CategoryID: "ci", Name: "Gaji", CreatedAt: epoch},
		},
		Budgets: []core.Budget{{ID: "b", Year: 2025, Month: 3, SubcategoryID: "se", Amount: d("100")}},
		Transactions: []core.Transaction{
			{ID: "t1", Type: core.Income, Date: core.NewDate(2025, 3, 1), CategoryID: "ci", SubcategoryID: "si", PaymentMethodID: "pm", Amount: d("1000"), CreatedAt: epoch, UpdatedAt: epoch},
			{ID: "t2", Type: core.Expense, Date: core.NewDate(2025, 3, 15), CategoryID: "ce", SubcategoryID: "se", PaymentMethodID: "pm", Amount: d("75"), CreatedAt: epoch, UpdatedAt: epoch},
			{ID: "t3", Type: core.Expense, Date: core.NewDate(2025, 2, 28), CategoryID: "ce", SubcategoryID: "se", PaymentMethodID: "pm", Amount: d("500"), CreatedAt: epoch, UpdatedAt: epoch},
		},
		Transfers: []core.Transfer{
			{ID: "tr", Date: core.NewDate(2025, 3, 2), FromPaymentMethodID: "pm", ToPaymentMethodID: "pm2", Amount: d("5"), CreatedAt: epoch, UpdatedAt: epoch},
		},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	now := func() time.Time { return time.Date(2025, 3, 15, 20, 0, 0, 0, time.UTC) }
	p, err := NewComposer(store, now).Compose(ctx, "u", core.Month{Year: 2025, Month: time.March}, 7)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if !p.IncomeTotal.Equal(d("1000")) || !p.ExpenseTotal.Equal(d("75")) || !p.NetTotal.Equal(d("925")) {
		t.Fatalf("unexpected totals %s %s %s", p.IncomeTotal, p.ExpenseTotal, p.NetTotal)
	}
	if !p.TodayExpenseTotal.Equal(d("75")) {
		t.Fatalf("unexpected today total %s", p.TodayExpenseTotal)
	}
	if len(p.DailyExpense) != 7 || p.DailyExpense[6].Date.String() != "2025-03-15" {
		t.Fatalf("unexpected series %+v", p.DailyExpense)
	}
	if len(p.Budgets) != 1 || p.Budgets[0].Indicator != Caution {
		t.Fatalf("expected one caution row, got %+v", p.Budgets)
	}
	if len(p.RecentTransfers) != 1 || p.PaymentMethods[0].Name != "Bank" {
		t.Fatalf("unexpected transfers or method order")
	}
}

func TestComposeRejectsBadWindow(t *testing.T) {
	c := NewComposer(memory.New(), nil)
	for _, days := range []int{0, 6, 91} {
		_, err := c.Compose(context.Background(), "u", core.Month{Year: 2025, Month: time.March}, days)
		if !errors.Is(err, core.ErrValidation) {
			t.Fatalf("days=%d: expected validation error, got %v", days, err)
		}
	}
}

// seedMarch gives user "u" Cash 100000, one expense subcategory with a budget
// of 100000 and one expense of spent on 2025-03-10.
func seedMarch(t *testing.T, store storage.Store, spent string) {
	t.Helper()
	epoch := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	err := store.Commit(context.Background(), &storage.Batch{
		User:           "u",
		PaymentMethods: []core.PaymentMethod{{ID: "pm", Name: "Cash", Balance: d("100000"), BaseBalance: d("100000"), CreatedAt: epoch}},
		Categories:     []core.Category{{ID: "ce", Kind: core.Expense, Name: "Kebutuhan", CreatedAt: epoch}},
		Subcategories:  []core.Subcategory{{ID: "se", Kind: core.Expense, CategoryID: "ce", Name: "Makan", CreatedAt: epoch}},
		Budgets:        []core.Budget{{ID: "b", Year: 2025, Month: 3, SubcategoryID: "se", Amount: d("100000")}},
		Transactions: []core.Transaction{
			{ID: "t1", Type: core.Expense, Date: core.NewDate(2025, 3, 10), CategoryID: "ce", SubcategoryID: "se", PaymentMethodID: "pm", Amount: d(spent), CreatedAt: epoch, UpdatedAt: epoch},
		},
		Deltas: []core.Delta{{PaymentMethodID: "pm", Amount: d(spent).Neg()}},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestComposeIndicatorUsesExactPercent(t *testing.T) {
	store := memory.New()
	seedMarch(t, store, "90004")
	now := func() time.Time { return time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC) }

	p, err := NewComposer(store, now).Compose(context.Background(), "u", core.Month{Year: 2025, Month: time.March}, 7)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(p.Budgets) != 1 {
		t.Fatalf("expected one budget row, got %+v", p.Budgets)
	}
	if row := p.Budgets[0]; !row.Percent.Equal(d("90")) || row.Indicator != NearLimit {
		t.Fatalf("90.004%% must be near_limit while showing 90, got %s/%s", row.Percent, row.Indicator)
	}
}

// writeDuringView commits batch after the view started and before any of its
// reads ran.
type writeDuringView struct {
	*memory.Store
	batch *storage.Batch
	once  sync.Once
	err   error
}

func (w *writeDuringView) View(ctx context.Context, fn func(r storage.Reader) error) error {
	return w.Store.View(ctx, func(r storage.Reader) error {
		w.once.Do(func() { w.err = w.Store.Commit(ctx, w.batch) })
		return fn(r)
	})
}

func TestComposeReadsOneSnapshot(t *testing.T) {
	store := memory.New()
	seedMarch(t, store, "25000")
	epoch := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	w := &writeDuringView{Store: store, batch: &storage.Batch{
		User: "u",
		Transactions: []core.Transaction{
			{ID: "t2", Type: core.Expense, Date: core.NewDate(2025, 3, 11), CategoryID: "ce", SubcategoryID: "se", PaymentMethodID: "pm", Amount: d("30000"), CreatedAt: epoch, UpdatedAt: epoch},
		},
		Deltas: []core.Delta{{PaymentMethodID: "pm", Amount: d("-30000")}},
	}}
	now := func() time.Time { return time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC) }
	c := NewComposer(w, now)
	march := core.Month{Year: 2025, Month: time.March}

	p, err := c.Compose(context.Background(), "u", march, 7)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if w.err != nil {
		t.Fatalf("concurrent commit: %v", w.err)
	}
	if !p.ExpenseTotal.Equal(d("25000")) || !p.PaymentMethods[0].Balance.Equal(d("75000")) || !p.Budgets[0].Spent.Equal(d("25000")) {
		t.Fatalf("payload mixes states: expense=%s balance=%s spent=%s",
			p.ExpenseTotal, p.PaymentMethods[0].Balance, p.Budgets[0].Spent)
	}

	p, err = c.Compose(context.Background(), "u", march, 7)
	if err != nil {
		t.Fatalf("second compose: %v", err)
	}
	if !p.ExpenseTotal.Equal(d("55000")) || !p.PaymentMethods[0].Balance.Equal(d("45000")) {
		t.Fatalf("second compose must see the write: expense=%s balance=%s", p.ExpenseTotal, p.PaymentMethods[0].Balance)
	}
}
