// Package storagetest holds the behaviour every storage.Store must share.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dompet/internal/core"
	"dompet/internal/storage"
)

// Opener returns a fresh, empty store for one test.
type Opener func(t *testing.T) storage.Store

const (
	alice core.UserID = "alice"
	bob   core.UserID = "bob"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fixture seeds one method, one expense category and subcategory for alice.
type fixture struct {
	method core.PaymentMethod
	bank   core.PaymentMethod
	cat    core.Category
	sub    core.Subcategory
}

func seed(t *testing.T, s storage.Store) fixture {
	t.Helper()
	f := fixture{
		method: core.PaymentMethod{ID: "pm-cash", Name: "Cash", Balance: d("100000"), BaseBalance: d("100000"), CreatedAt: epoch},
		bank:   core.PaymentMethod{ID: "pm-bank", Name: "Bank", Balance: d("50000"), BaseBalance: d("50000"), CreatedAt: epoch},
		cat:    core.Category{ID: "cat-need", Kind: core.Expense, Name: "Kebutuhan", CreatedAt: epoch},
		sub:    core.Subcategory{ID: "sub-food", Kind: core.Expense, CategoryID: "cat-need", Name: "Makan", CreatedAt: epoch},
	}
	err := s.Commit(context.Background(), &storage.Batch{
		User:           alice,
		PaymentMethods: []core.PaymentMethod{f.method, f.bank},
		Categories:     []core.Category{f.cat},
		Subcategories:  []core.Subcategory{f.sub},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return f
}

func expense(id string, f fixture, day int, amount string) core.Transaction {
	return core.Transaction{
		ID: id, Type: core.Expense, Date: core.NewDate(2025, 3, day),
		CategoryID: f.cat.ID, SubcategoryID: f.sub.ID, PaymentMethodID: f.method.ID,
		Amount: d(amount), CreatedAt: epoch, UpdatedAt: epoch,
	}
}

// Run exercises open against the shared store contract.
func Run(t *testing.T, open Opener) {
	t.Run("PaymentMethodsScopedAndSorted", func(t *testing.T) { testMethods(t, open(t)) })
	t.Run("DuplicateMethodName", func(t *testing.T) { testDuplicateName(t, open(t)) })
	t.Run("BatchIsAtomic", func(t *testing.T) { testAtomic(t, open(t)) })
	t.Run("TransferDeltasTogether", func(t *testing.T) { testTransfer(t, open(t)) })
	t.Run("BudgetUpsert", func(t *testing.T) { testBudgets(t, open(t)) })
	t.Run("DeleteGuards", func(t *testing.T) { testDeleteGuards(t, open(t)) })
	t.Run("TransactionFilters", func(t *testing.T) { testFilters(t, open(t)) })
	t.Run("CrossUserReference", func(t *testing.T) { testCrossUser(t, open(t)) })
	t.Run("ViewIsSnapshot", func(t *testing.T) { testViewSnapshot(t, open(t)) })
	t.Run("UpdateReadsAndWritesTogether", func(t *testing.T) { testUpdate(t, open(t)) })
}

func testMethods(t *testing.T, s storage.Store) {
	ctx := context.Background()
	f := seed(t, s)

	got, err := s.GetPaymentMethod(ctx, alice, f.method.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Cash" || !got.Balance.Equal(d("100000")) || !got.BaseBalance.Equal(d("100000")) {
		t.Fatalf("unexpected method %+v", got)
	}

	if _, err := s.GetPaymentMethod(ctx, bob, f.method.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found for other user, got %v", err)
	}

	list, err := s.ListPaymentMethods(ctx, alice)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Name != "Bank" || list[1].Name != "Cash" {
		t.Fatalf("expected Bank, Cash; got %+v", list)
	}

	empty, err := s.ListPaymentMethods(ctx, bob)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected no methods for bob, got %v (err=%v)", empty, err)
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || users[0] != alice {
		t.Fatalf("unexpected users %v", users)
	}
}

func testDuplicateName(t *testing.T, s storage.Store) {
	seed(t, s)
	err := s.Commit(context.Background(), &storage.Batch{
		User:           alice,
		PaymentMethods: []core.PaymentMethod{{ID: "pm-2", Name: "cash", CreatedAt: epoch}},
	})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	// Same name for another user is fine.
	err = s.Commit(context.Background(), &storage.Batch{
		User:           bob,
		PaymentMethods: []core.PaymentMethod{{ID: "pm-3", Name: "Cash", CreatedAt: epoch}},
	})
	if err != nil {
		t.Fatalf("other user: %v", err)
	}
}

func testAtomic(t *testing.T, s storage.Store) {
	ctx := context.Background()
	f := seed(t, s)

	tx := expense("tx-1", f, 5, "30000")
	err := s.Commit(ctx, &storage.Batch{
		User:         alice,
		Transactions: []core.Transaction{tx},
		Deltas: []core.Delta{
			{PaymentMethodID: f.method.ID, Amount: d("-30000")},
			{PaymentMethodID: "missing", Amount: d("1")},
		},
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := s.GetTransaction(ctx, alice, tx.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("transaction must not be written, got %v", err)
	}
	m, _ := s.GetPaymentMethod(ctx, alice, f.method.ID)
	if !m.Balance.Equal(d("100000")) {
		t.Fatalf("balance changed by failed batch: %s", m.Balance)
	}
}

func testTransfer(t *testing.T, s storage.Store) {
	ctx := context.Background()
	f := seed(t, s)

	tr := core.Transfer{
		ID: "tr-1", Date: core.NewDate(2025, 3, 2), FromPaymentMethodID: f.method.ID,
		ToPaymentMethodID: f.bank.ID, Amount: d("20000"), CreatedAt: epoch, UpdatedAt: epoch,
	}
	err := s.Commit(ctx, &storage.Batch{User: alice, Transfers: []core.Transfer{tr}, Deltas: tr.Deltas()})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	cash, _ := s.GetPaymentMethod(ctx, alice, f.method.ID)
	bank, _ := s.GetPaymentMethod(ctx, alice, f.bank.ID)
	if !cash.Balance.Equal(d("80000")) || !bank.Balance.Equal(d("70000")) {
		t.Fatalf("cash=%s bank=%s", cash.Balance, bank.Balance)
	}

	got, err := s.GetTransfer(ctx, alice, tr.ID)
	if err != nil {
		t.Fatalf("get transfer: %v", err)
	}
	if !got.Amount.Equal(tr.Amount) || got.Date.String() != "2025-03-02" {
		t.Fatalf("unexpected transfer %+v", got)
	}

	byBank, err := s.ListTransfers(ctx, alice, storage.TransferFilter{PaymentMethodID: f.bank.ID})
	if err != nil || len(byBank) != 1 {
		t.Fatalf("expected transfer by destination, got %v (err=%v)", byBank, err)
	}

	err = s.Commit(ctx, &storage.Batch{User: alice, DeleteTransfers: []string{tr.ID}, Deltas: core.Inverse(tr.Deltas())})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	cash, _ = s.GetPaymentMethod(ctx, alice, f.method.ID)
	bank, _ = s.GetPaymentMethod(ctx, alice, f.bank.ID)
	if !cash.Balance.Equal(d("100000")) || !bank.Balance.Equal(d("50000")) {
		t.Fatalf("after delete cash=%s bank=%s", cash.Balance, bank.Balance)
	}
}

func testBudgets(t *testing.T, s storage.Store) {
	ctx := context.Background()
	f := seed(t, s)

	for i, amount := range []string{"0", "200000"} {
		err := s.Commit(ctx, &storage.Batch{
			User:    alice,
			Budgets: []core.Budget{{ID: core.NewID(), Year: 2025, Month: 3, SubcategoryID: f.sub.ID, Amount: d(amount)}},
		})
		if err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	list, err := s.ListBudgets(ctx, alice, storage.BudgetFilter{Year: 2025, Month: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || !list[0].Amount.Equal(d("200000")) {
		t.Fatalf("expected one budget of 200000, got %+v", list)
	}

	other, err := s.ListBudgets(ctx, alice, storage.BudgetFilter{Year: 2025, Month: 4})
	if err != nil || len(other) != 0 {
		t.Fatalf("expected no april budgets, got %v (err=%v)", other, err)
	}
}

func testDeleteGuards(t *testing.T, s storage.Store) {
	ctx := context.Background()
	f := seed(t, s)

	tx := expense("tx-1", f, 5, "100")
	if err := s.Commit(ctx, &storage.Batch{User: alice, Transactions: []core.Transaction{tx}, Deltas: tx.Deltas()}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	cases := []struct {
		name  string
		batch storage.Batch
	}{
		{"method", storage.Batch{User: alice, DeletePaymentMethods: []string{f.method.ID}}},
		{"subcategory", storage.Batch{User: alice, DeleteSubcategories: []string{f.sub.ID}}},
		{"category", storage.Batch{User: alice, DeleteCategories: []string{f.cat.ID}}},
	}
	for _, tc := range cases {
		b := tc.batch
		if err := s.Commit(ctx, &b); !errors.Is(err, core.ErrReferentialIntegrity) {
			t.Fatalf("%s: expected referential integrity error, got %v", tc.name, err)
		}
	}

	if err := s.Commit(ctx, &storage.Batch{User: alice, DeleteTransactions: []string{"nope"}}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.Commit(ctx, &storage.Batch{User: bob, DeleteTransactions: []string{tx.ID}}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found for other user, got %v", err)
	}

	err := s.Commit(ctx, &storage.Batch{
		User:                 alice,
		DeleteTransactions:   []string{tx.ID},
		DeleteSubcategories:  []string{f.sub.ID},
		DeleteCategories:     []string{f.cat.ID},
		DeletePaymentMethods: []string{f.bank.ID},
	})
	if err != nil {
		t.Fatalf("delete after clearing references: %v", err)
	}
}

func testFilters(t *testing.T, s storage.Store) {
	ctx := context.Background()
	f := seed(t, s)

	txs := []core.Transaction{
		expense("tx-a", f, 1, "10"),
		expense("tx-b", f, 15, "20"),
		expense("tx-c", f, 31, "30"),
	}
	income := expense("tx-d", f, 15, "40")
	income.Type = core.Income
	txs = append(txs, income)
	outside := expense("tx-e", f, 1, "50")
	outside.Date = core.NewDate(2025, 4, 1)
	txs = append(txs, outside)

	if err := s.Commit(ctx, &storage.Batch{User: alice, Transactions: txs}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	march := storage.ForMonth(core.Month{Year: 2025, Month: time.March})
	all, err := s.ListTransactions(ctx, alice, march)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 march transactions, got %d", len(all))
	}
	if all[0].ID != "tx-a" || all[len(all)-1].ID != "tx-c" {
		t.Fatalf("expected date order, got %s..%s", all[0].ID, all[len(all)-1].ID)
	}

	march.Type = core.Expense
	exp, err := s.ListTransactions(ctx, alice, march)
	if err != nil || len(exp) != 3 {
		t.Fatalf("expected 3 march expenses, got %d (err=%v)", len(exp), err)
	}

	bySub, err := s.ListTransactions(ctx, alice, storage.TransactionFilter{SubcategoryID: f.sub.ID})
	if err != nil || len(bySub) != 5 {
		t.Fatalf("expected 5 by subcategory, got %d (err=%v)", len(bySub), err)
	}

	none, err := s.ListTransactions(ctx, bob, storage.TransactionFilter{})
	if err != nil || len(none) != 0 {
		t.Fatalf("bob must see nothing, got %d (err=%v)", len(none), err)
	}
}

func testCrossUser(t *testing.T, s storage.Store) {
	ctx := context.Background()
	f := seed(t, s)

	err := s.Commit(ctx, &storage.Batch{
		User:           bob,
		PaymentMethods: []core.PaymentMethod{{ID: "pm-bob", Name: "Wallet", CreatedAt: epoch}},
	})
	if err != nil {
		t.Fatalf("bob method: %v", err)
	}

	tx := expense("tx-x", f, 2, "10")
	tx.PaymentMethodID = "pm-bob"
	err = s.Commit(ctx, &storage.Batch{User: alice, Transactions: []core.Transaction{tx}})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error for foreign method, got %v", err)
	}

	err = s.Commit(ctx, &storage.Batch{User: bob, Deltas: []core.Delta{{PaymentMethodID: f.method.ID, Amount: d("5")}}})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found for foreign delta, got %v", err)
	}
}

func testViewSnapshot(t *testing.T, s storage.Store) {
	ctx := context.Background()
	f := seed(t, s)

	err := s.View(ctx, func(r storage.Reader) error {
		before, err := r.GetPaymentMethod(ctx, alice, f.method.ID)
		if err != nil {
			return err
		}
		err = s.Commit(ctx, &storage.Batch{
			User:         alice,
			Transactions: []core.Transaction{expense("tx-1", f, 5, "30000")},
			Deltas:       []core.Delta{{PaymentMethodID: f.method.ID, Amount: d("-30000")}},
		})
		if err != nil {
			return fmt.Errorf("commit during view: %w", err)
		}
		after, err := r.GetPaymentMethod(ctx, alice, f.method.ID)
		if err != nil {
			return err
		}
		txs, err := r.ListTransactions(ctx, alice, storage.TransactionFilter{})
		if err != nil {
			return err
		}
		if !after.Balance.Equal(before.Balance) || len(txs) != 0 {
			return fmt.Errorf("view saw a later commit: balance %s -> %s, %d transactions", before.Balance, after.Balance, len(txs))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	m, err := s.GetPaymentMethod(ctx, alice, f.method.ID)
	if err != nil || !m.Balance.Equal(d("70000")) {
		t.Fatalf("commit after the view must be visible, got %s (err=%v)", m.Balance, err)
	}
}

// incrementBalance adds one to the stored balance of id by reading it and
// writing the absolute result.
func incrementBalance(ctx context.Context, s storage.Store, id string) error {
	return s.Update(ctx, func(r storage.Reader) (*storage.Batch, error) {
		m, err := r.GetPaymentMethod(ctx, alice, id)
		if err != nil {
			return nil, err
		}
		m.Balance = m.Balance.Add(d("1"))
		return &storage.Batch{User: alice, PaymentMethods: []core.PaymentMethod{m}}, nil
	})
}

func testUpdate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	f := seed(t, s)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- incrementBalance(ctx, s, f.method.ID)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	m, _ := s.GetPaymentMethod(ctx, alice, f.method.ID)
	if !m.Balance.Equal(d("100020")) {
		t.Fatalf("interleaved updates lost increments: balance %s, want 100020", m.Balance)
	}

	boom := errors.New("boom")
	err := s.Update(ctx, func(r storage.Reader) (*storage.Batch, error) {
		return &storage.Batch{User: alice, Deltas: []core.Delta{{PaymentMethodID: f.method.ID, Amount: d("5")}}}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	err = s.Update(ctx, func(r storage.Reader) (*storage.Batch, error) {
		return &storage.Batch{User: alice, Deltas: []core.Delta{
			{PaymentMethodID: f.method.ID, Amount: d("5")},
			{PaymentMethodID: "missing", Amount: d("5")},
		}}, nil
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := s.Update(ctx, func(r storage.Reader) (*storage.Batch, error) { return nil, nil }); err != nil {
		t.Fatalf("nil batch: %v", err)
	}

	m, _ = s.GetPaymentMethod(ctx, alice, f.method.ID)
	if !m.Balance.Equal(d("100020")) {
		t.Fatalf("failed updates must write nothing, balance %s", m.Balance)
	}
}
