package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"dompet/internal/budget"
	"dompet/internal/core"
	"dompet/internal/overview"
	"dompet/internal/storage"
	"dompet/internal/storage/memory"
)

func TestExpenseLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newService(t, memory.New(), nil)
	b := setup(t, s, alice)

	tx, err := s.CreateTransaction(ctx, alice, b.expense(b.cash.ID, "30000"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	wantBalance(t, s, alice, b.cash.ID, "70000")

	got, err := s.GetTransaction(ctx, alice, tx.ID)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !got.Amount.Equal(d("30000")) || got.Description != "makan siang" {
		t.Fatalf("unexpected transaction %+v", got)
	}

	if _, err := s.UpdateTransaction(ctx, alice, tx.ID, b.expense(b.cash.ID, "50000")); err != nil {
		t.Fatalf("update: %v", err)
	}
	wantBalance(t, s, alice, b.cash.ID, "50000")

	if err := s.DeleteTransaction(ctx, alice, tx.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	wantBalance(t, s, alice, b.cash.ID, "100000")
	assertNoDrift(t, s, alice)
}

func TestTransferLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newService(t, memory.New(), nil)
	b := setup(t, s, alice)

	tr, err := s.CreateTransfer(ctx, alice, b.transfer(b.cash.ID, b.bank.ID, "20000"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	wantBalance(t, s, alice, b.cash.ID, "80000")
	wantBalance(t, s, alice, b.bank.ID, "70000")

	if err := s.DeleteTransfer(ctx, alice, tr.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	wantBalance(t, s, alice, b.cash.ID, "100000")
	wantBalance(t, s, alice, b.bank.ID, "50000")
}

func TestEditMovesBetweenMethods(t *testing.T) {
	ctx := context.Background()
	s := newService(t, memory.New(), nil)
	b := setup(t, s, alice)

	tx, err := s.CreateTransaction(ctx, alice, b.expense(b.cash.ID, "30000"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Switch method, amount and type at once.
	in := b.income(b.bank.ID, "1000")
	if _, err := s.UpdateTransaction(ctx, alice, tx.ID, in); err != nil {
		t.Fatalf("update: %v", err)
	}
	wantBalance(t, s, alice, b.cash.ID, "100000")
	wantBalance(t, s, alice, b.bank.ID, "51000")
	assertNoDrift(t, s, alice)
}

func TestTransferEditOneSide(t *testing.T) {
	ctx := context.Background()
	s := newService(t, memory.New(), nil)
	b := setup(t, s, alice)
	wallet, err := s.CreatePaymentMethod(ctx, alice, PaymentMethodInput{Name: "GoPay"})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	tr, err := s.CreateTransfer(ctx, alice, b.transfer(b.cash.ID, b.bank.ID, "20000"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Destination changes, source and amount stay.
	if _, err := s.UpdateTransfer(ctx, alice, tr.ID, b.transfer(b.cash.ID, wallet.ID, "20000")); err != nil {
		t.Fatalf("update destination: %v", err)
	}
	wantBalance(t, s, alice, b.cash.ID, "80000")
	wantBalance(t, s, alice, b.bank.ID, "50000")
	wantBalance(t, s, alice, wallet.ID, "20000")

	// Reverse direction and change the amount.
	if _, err := s.UpdateTransfer(ctx, alice, tr.ID, b.transfer(wallet.ID, b.cash.ID, "5000")); err != nil {
		t.Fatalf("update direction: %v", err)
	}
	wantBalance(t, s, alice, b.cash.ID, "105000")
	wantBalance(t, s, alice, wallet.ID, "-5000")
	assertNoDrift(t, s, alice)
}

func TestEditEqualsDeleteThenCreate(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name        string
		first, next func(b book) TransactionInput
	}{
		{"amount", func(b book) TransactionInput { return b.expense(b.cash.ID, "30000") },
			func(b book) TransactionInput { return b.expense(b.cash.ID, "45000.55") }},
		{"method", func(b book) TransactionInput { return b.expense(b.cash.ID, "30000") },
			func(b book) TransactionInput { return b.expense(b.bank.ID, "30000") }},
		{"type", func(b book) TransactionInput { return b.expense(b.cash.ID, "30000") },
			func(b book) TransactionInput { return b.income(b.cash.ID, "30000") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			edited := newService(t, memory.New(), nil)
			eb := setup(t, edited, alice)
			tx, err := edited.CreateTransaction(ctx, alice, tc.first(eb))
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if _, err := edited.UpdateTransaction(ctx, alice, tx.ID, tc.next(eb)); err != nil {
				t.Fatalf("update: %v", err)
			}

			replaced := newService(t, memory.New(), nil)
			rb := setup(t, replaced, alice)
			tx2, err := replaced.CreateTransaction(ctx, alice, tc.first(rb))
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if err := replaced.DeleteTransaction(ctx, alice, tx2.ID); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := replaced.CreateTransaction(ctx, alice, tc.next(rb)); err != nil {
				t.Fatalf("recreate: %v", err)
			}

			for _, pair := range [][2]string{{eb.cash.ID, rb.cash.ID}, {eb.bank.ID, rb.bank.ID}} {
				a := balance(t, edited, alice, pair[0])
				c := balance(t, replaced, alice, pair[1])
				if !a.Equal(c) {
					t.Fatalf("edit gave %s, delete+create gave %s", a, c)
				}
			}
		})
	}
}

func TestValidationRejectsBeforeMutation(t *testing.T) {
	ctx := context.Background()
	s := newService(t, memory.New(), nil)
	b := setup(t, s, alice)
	other := setup(t, s, bob)

	cases := []struct {
		name string
		in   TransactionInput
	}{
		{"zero amount", b.expense(b.cash.ID, "0")},
		{"negative amount", b.expense(b.cash.ID, "-10")},
		{"kind mismatch", func() TransactionInput { in := b.expense(b.cash.ID, "10"); in.Type = core.Income; return in }()},
		{"subcategory of other category", func() TransactionInput {
			in := b.income(b.cash.ID, "10")
			in.SubcategoryID = b.food.ID
			return in
		}()},
		{"foreign method", b.expense(other.cash.ID, "10")},
		{"foreign category", func() TransactionInput { in := b.expense(b.cash.ID, "10"); in.CategoryID = other.need.ID; return in }()},
		{"missing date", func() TransactionInput { in := b.expense(b.cash.ID, "10"); in.Date = core.Date{}; return in }()},
	}
	for _, tc := range cases {
		if _, err := s.CreateTransaction(ctx, alice, tc.in); !errors.Is(err, core.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}

	if _, err := s.CreateTransfer(ctx, alice, b.transfer(b.cash.ID, b.cash.ID, "10")); !errors.Is(err, core.ErrSameMethod) {
		t.Fatalf("expected same method error, got %v", err)
	}
	if _, err := s.CreateTransfer(ctx, alice, b.transfer(b.cash.ID, other.bank.ID, "10")); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error for foreign destination, got %v", err)
	}

	wantBalance(t, s, alice, b.cash.ID, "100000")
	wantBalance(t, s, bob, other.cash.ID, "100000")
}

func TestCrossUserAccessIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newService(t, memory.New(), nil)
	b := setup(t, s, alice)
	setup(t, s, bob)

	tx, err := s.CreateTransaction(ctx, alice, b.expense(b.cash.ID, "10"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.GetTransaction(ctx, bob, tx.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get: expected not found, got %v", err)
	}
	if err := s.DeleteTransaction(ctx, bob, tx.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("delete: expected not found, got %v", err)
	}
	if _, err := s.UpdateTransaction(ctx, bob, tx.ID, b.expense(b.cash.ID, "20")); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("update: expected not found, got %v", err)
	}
	wantBalance(t, s, alice, b.cash.ID, "99990")
}

func TestStorageFailureLeavesBalances(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	setupSvc := newService(t, mem, nil)
	b := setup(t, setupSvc, alice)

	s := newService(t, &failingStore{Store: mem}, nil)
	_, err := s.CreateTransfer(ctx, alice, b.transfer(b.cash.ID, b.bank.ID, "20000"))
	if !errors.Is(err, core.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	wantBalance(t, s, alice, b.cash.ID, "100000")
	wantBalance(t, s, alice, b.bank.ID, "50000")
	trs, _ := s.ListTransfers(ctx, alice, core.Month{Year: 2025, Month: time.March})
	if len(trs) != 0 {
		t.Fatalf("expected no transfers, got %d", len(trs))
	}
}

func TestLockTimeoutLeavesBalances(t *testing.T) {
	ctx := context.Background()
	s := newService(t, memory.New(), nil)
	b := setup(t, s, alice)
	s.guard = NewGuard(20 * time.Millisecond)

	hold, err := s.guard.Acquire(ctx, MethodKey(alice, b.bank.ID))
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	_, err = s.CreateTransfer(ctx, alice, b.transfer(b.cash.ID, b.bank.ID, "20000"))
	if !errors.Is(err, core.ErrConcurrencyTimeout) {
		t.Fatalf("expected concurrency timeout, got %v", err)
	}
	hold()

	wantBalance(t, s, alice, b.cash.ID, "100000")
	wantBalance(t, s, alice, b.bank.ID, "50000")

	// Other methods of the user stay writable while one is held.
	hold, _ = s.guard.Acquire(ctx, MethodKey(alice, b.bank.ID))
	defer hold()
	if _, err := s.CreateTransaction(ctx, alice, b.expense(b.cash.ID, "1")); err != nil {
		t.Fatalf("cash must stay writable: %v", err)
	}
}

func TestBalanceOverrideAnchorsReplay(t *testing.T) {
	ctx := context.Background()
	s := newService(t, memory.New(), nil)
	b := setup(t, s, alice)

	tx, err := s.CreateTransaction(ctx, alice, b.expense(b.cash.ID, "30000"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m, err := s.UpdatePaymentMethod(ctx, alice, b.cash.ID, PaymentMethodInput{Name: "Dompet", Balance: ptr(d("5000"))})
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if m.Name != "Dompet" || !m.Balance.Equal(d("5000")) || !m.BaseBalance.Equal(d("35000")) {
		t.Fatalf("unexpected method after override %+v", m)
	}
	assertNoDrift(t, s, alice)

	if err := s.DeleteTransaction(ctx, alice, tx.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	wantBalance(t, s, alice, b.cash.ID, "35000")
	assertNoDrift(t, s, alice)
}

func TestReconcileCorrectsDrift(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	s := newService(t, mem, nil)
	b := setup(t, s, alice)
	if _, err := s.CreateTransaction(ctx, alice, b.expense(b.cash.ID, "30000")); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Corrupt the stored balance behind the engine's back.
	cash, _ := mem.GetPaymentMethod(ctx, alice, b.cash.ID)
	cash.Balance = d("1")
	if err := mem.Commit(ctx, &storage.Batch{User: alice, PaymentMethods: []core.PaymentMethod{cash}}); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	report, err := s.Verify(ctx, alice)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(report.Drifted()) != 1 || report.Applied {
		t.Fatalf("expected one drifted method, got %+v", report)
	}

	report, err = s.Reconcile(ctx, alice)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.Applied {
		t.Fatalf("expected reconcile to write")
	}
	wantBalance(t, s, alice, b.cash.ID, "70000")
	assertNoDrift(t, s, alice)

	report, err = s.Reconcile(ctx, alice)
	if err != nil || report.Applied {
		t.Fatalf("second reconcile must be a no-op, got %+v (err=%v)", report, err)
	}
}

func TestPaymentMethodRules(t *testing.T) {
	ctx := context.Background()
	s := newService(t, memory.New(), nil)
	b := setup(t, s, alice)

	if _, err := s.CreatePaymentMethod(ctx, alice, PaymentMethodInput{Name: "  cash "}); !errors.Is(err, core.ErrDuplicateName) {
		t.Fatalf("expected duplicate name, got %v", err)
	}
	if _, err := s.CreatePaymentMethod(ctx, alice, PaymentMethodInput{Name: " "}); !errors.Is(err, core.ErrEmptyName) {
		t.Fatalf("expected empty name, got %v", err)
	}

	tx, err := s.CreateTransaction(ctx, alice, b.expense(b.cash.ID, "10"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.DeletePaymentMethod(ctx, alice, b.cash.ID); !errors.Is(err, core.ErrReferentialIntegrity) {
		t.Fatalf("expected referential integrity, got %v", err)
	}
	if err := s.DeleteTransaction(ctx, alice, tx.ID); err != nil {
		t.Fatalf("delete tx: %v", err)
	}
	if err := s.DeletePaymentMethod(ctx, alice, b.cash.ID); err != nil {
		t.Fatalf("delete method: %v", err)
	}
	if err := s.DeletePaymentMethod(ctx, alice, b.cash.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTaxonomyRules(t *testing.T) {
	ctx := context.Background()
	s := newService(t, memory.New(), nil)
	b := setup(t, s, alice)
	march := core.Month{Year: 2025, Month: time.March}

	budgets, err := s.Store().ListBudgets(ctx, alice, storage.BudgetFilter{Year: 2025, Month: 3, SubcategoryID: b.food.ID})
	if err != nil || len(budgets) != 1 || !budgets[0].Amount.IsZero() {
		t.Fatalf("expected a zero budget for the new subcategory, got %+v (err=%v)", budgets, err)
	}

	if err := s.DeleteCategory(ctx, alice, b.need.ID); !errors.Is(err, core.ErrReferentialIntegrity) {
		t.Fatalf("expected referential integrity, got %v", err)
	}

	if err := s.UpsertBudgets(ctx, alice, march, []budget.Item{{SubcategoryID: b.food.ID, Amount: d("1000")}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.DeleteSubcategory(ctx, alice, b.food.ID); !errors.Is(err, core.ErrReferentialIntegrity) {
		t.Fatalf("non-zero budget must block delete, got %v", err)
	}
	if err := s.UpsertBudgets(ctx, alice, march, []budget.Item{{SubcategoryID: b.food.ID, Amount: d("0")}}); err != nil {
		t.Fatalf("reset budget: %v", err)
	}
	if err := s.DeleteSubcategory(ctx, alice, b.food.ID); err != nil {
		t.Fatalf("delete subcategory: %v", err)
	}
	if err := s.DeleteCategory(ctx, alice, b.need.ID); err != nil {
		t.Fatalf("delete category: %v", err)
	}

	if _, err := s.CreateSubcategory(ctx, alice, "missing", "x"); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error for missing parent, got %v", err)
	}
	wage, err := s.ListSubcategories(ctx, alice, core.Income, "")
	if err != nil || len(wage) != 1 || wage[0].Kind != core.Income {
		t.Fatalf("expected one income subcategory, got %+v (err=%v)", wage, err)
	}
}

func TestBudgetScenario(t *testing.T) {
	ctx := context.Background()
	s := newService(t, memory.New(), nil)
	b := setup(t, s, alice)
	march := core.Month{Year: 2025, Month: time.March}

	if err := s.UpsertBudgets(ctx, alice, march, []budget.Item{{SubcategoryID: b.food.ID, Amount: d("200000")}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := s.CreateTransaction(ctx, alice, b.expense(b.cash.ID, "60000")); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	p, err := s.DashboardOverview(ctx, alice, march, overview.DefaultDays)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	row := p.Budgets[0]
	if !row.Spent.Equal(d("120000")) || !row.Remaining.Equal(d("80000")) || !row.Percent.Equal(d("60")) {
		t.Fatalf("unexpected row %+v", row)
	}
	if row.Indicator != overview.Safe {
		t.Fatalf("expected safe, got %s", row.Indicator)
	}

	if _, err := s.CreateTransaction(ctx, alice, b.expense(b.cash.ID, "80000")); err != nil {
		t.Fatalf("create: %v", err)
	}
	p, err = s.DashboardOverview(ctx, alice, march, overview.DefaultDays)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	row = p.Budgets[0]
	if !row.Percent.Equal(d("100")) || row.Indicator != overview.NearLimit {
		t.Fatalf("expected 100%% near_limit, got %s %s", row.Percent, row.Indicator)
	}
}

func TestSeedDefaults(t *testing.T) {
	ctx := context.Background()
	s := newService(t, memory.New(), nil)

	seeded, err := s.SeedDefaults(ctx, alice)
	if err != nil || !seeded {
		t.Fatalf("seed: seeded=%v err=%v", seeded, err)
	}
	methods, _ := s.ListPaymentMethods(ctx, alice)
	if len(methods) != 4 {
		t.Fatalf("expected 4 methods, got %d", len(methods))
	}
	cats, _ := s.ListCategories(ctx, alice, "")
	if len(cats) != 5 {
		t.Fatalf("expected 5 categories, got %d", len(cats))
	}
	expenseSubs, _ := s.ListSubcategories(ctx, alice, core.Expense, "")
	incomeSubs, _ := s.ListSubcategories(ctx, alice, core.Income, "")
	if len(expenseSubs) != 14 || len(incomeSubs) != 11 {
		t.Fatalf("expected 14 expense and 11 income subcategories, got %d and %d", len(expenseSubs), len(incomeSubs))
	}
	rows, err := s.BudgetOverview(ctx, alice, core.MonthOf(testNow))
	if err != nil || len(rows) != 14 {
		t.Fatalf("expected 14 budget rows, got %d (err=%v)", len(rows), err)
	}

	seeded, err = s.SeedDefaults(ctx, alice)
	if err != nil || seeded {
		t.Fatalf("second seed must be a no-op: seeded=%v err=%v", seeded, err)
	}
}

func TestPublishesChanges(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	s := newService(t, memory.New(), pub)
	b := setup(t, s, alice)
	before := pub.count()

	tr, err := s.CreateTransfer(ctx, alice, b.transfer(b.cash.ID, b.bank.ID, "10"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if pub.count() != before+1 {
		t.Fatalf("expected one more change, got %d", pub.count()-before)
	}
	last := pub.changes[len(pub.changes)-1]
	if last.Entity != core.EntityTransfer || last.Op != core.OpCreate || last.ID != tr.ID || len(last.Methods) != 2 {
		t.Fatalf("unexpected change %+v", last)
	}

	// Failed writes publish nothing; failing publishers never fail writes.
	if _, err := s.CreateTransfer(ctx, alice, b.transfer(b.cash.ID, b.cash.ID, "10")); err == nil {
		t.Fatalf("expected error")
	}
	if pub.count() != before+1 {
		t.Fatalf("rejected write must not publish")
	}
	pub.err = errors.New("broker down")
	if _, err := s.CreateTransaction(ctx, alice, b.expense(b.cash.ID, "10")); err != nil {
		t.Fatalf("publish failure must not fail the write: %v", err)
	}
}
