package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dompet/internal/core"
	"dompet/internal/log"
	"dompet/internal/storage"
)

const (
	alice core.UserID = "alice"
	bob   core.UserID = "bob"
)

var testNow = time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr(v decimal.Decimal) *decimal.Decimal { return &v }

type recordingPublisher struct {
	mu      sync.Mutex
	changes []core.Change
	err     error
}

func (p *recordingPublisher) PublishLedgerChange(_ context.Context, c core.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.changes)
}

// failingStore fails every Commit after the first `ok` ones.
type failingStore struct {
	storage.Store
	mu sync.Mutex
	ok int
}

func (f *failingStore) Commit(ctx context.Context, b *storage.Batch) error {
	f.mu.Lock()
	allow := f.ok > 0
	f.ok--
	f.mu.Unlock()
	if !allow {
		return core.Storage("commit batch", errors.New("disk I/O error"))
	}
	return f.Store.Commit(ctx, b)
}

func newService(t *testing.T, store storage.Store, pub Publisher) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.LockTimeout = time.Second
	cfg.Clock = func() time.Time { return testNow }
	cfg.Logger = log.Discard()
	if pub != nil {
		cfg.Publisher = pub
	}
	return NewService(store, cfg)
}

// book is the fixture of one user: Cash 100000, Bank 50000 and one expense
// and one income subcategory.
type book struct {
	cash, bank   core.PaymentMethod
	need, salary core.Category
	food, wage   core.Subcategory
}

func setup(t *testing.T, s *Service, user core.UserID) book {
	t.Helper()
	ctx := context.Background()
	var (
		b   book
		err error
	)
	if b.cash, err = s.CreatePaymentMethod(ctx, user, PaymentMethodInput{Name: "Cash", Balance: ptr(d("100000"))}); err != nil {
		t.Fatalf("create cash: %v", err)
	}
	if b.bank, err = s.CreatePaymentMethod(ctx, user, PaymentMethodInput{Name: "Bank", Balance: ptr(d("50000"))}); err != nil {
		t.Fatalf("create bank: %v", err)
	}
	if b.need, err = s.CreateCategory(ctx, user, core.Expense, "Kebutuhan"); err != nil {
		t.Fatalf("create category: %v", err)
	}
	if b.food, err = s.CreateSubcategory(ctx, user, b.need.ID, "Makan"); err != nil {
		t.Fatalf("create subcategory: %v", err)
	}
	if b.salary, err = s.CreateCategory(ctx, user, core.Income, "Pemasukan"); err != nil {
		t.Fatalf("create income category: %v", err)
	}
	if b.wage, err = s.CreateSubcategory(ctx, user, b.salary.ID, "Gaji Bulanan"); err != nil {
		t.Fatalf("create income subcategory: %v", err)
	}
	return b
}

func (b book) expense(method string, amount string) TransactionInput {
	return TransactionInput{
		Type: core.Expense, Date: core.NewDate(2025, 3, 10),
		CategoryID: b.need.ID, SubcategoryID: b.food.ID, PaymentMethodID: method,
		Amount: d(amount), Description: "makan siang",
	}
}

func (b book) income(method string, amount string) TransactionInput {
	return TransactionInput{
		Type: core.Income, Date: core.NewDate(2025, 3, 1),
		CategoryID: b.salary.ID, SubcategoryID: b.wage.ID, PaymentMethodID: method,
		Amount: d(amount),
	}
}

func (b book) transfer(from, to string, amount string) TransferInput {
	return TransferInput{
		Date: core.NewDate(2025, 3, 12), FromPaymentMethodID: from, ToPaymentMethodID: to, Amount: d(amount),
	}
}

func balance(t *testing.T, s *Service, user core.UserID, id string) decimal.Decimal {
	t.Helper()
	m, err := s.GetPaymentMethod(context.Background(), user, id)
	if err != nil {
		t.Fatalf("get method %s: %v", id, err)
	}
	return m.Balance
}

func wantBalance(t *testing.T, s *Service, user core.UserID, id, want string) {
	t.Helper()
	if got := balance(t, s, user, id); !got.Equal(d(want)) {
		t.Fatalf("balance of %s = %s, want %s", id, got, want)
	}
}

// assertNoDrift cross-checks the incremental balances against a full replay.
func assertNoDrift(t *testing.T, s *Service, user core.UserID) {
	t.Helper()
	report, err := s.Verify(context.Background(), user)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if drifted := report.Drifted(); len(drifted) > 0 {
		t.Fatalf("drift detected: %+v", drifted)
	}
}

