package ledger

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dompet/internal/core"
	"dompet/internal/storage"
	"dompet/internal/storage/memory"
	"dompet/internal/storage/sqlite"
)

func openSQLite(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// stores lists every backend the write path must behave the same on.
func stores() []struct {
	name string
	open func(t *testing.T) storage.Store
} {
	return []struct {
		name string
		open func(t *testing.T) storage.Store
	}{
		{"memory", func(t *testing.T) storage.Store { return memory.New() }},
		{"sqlite", func(t *testing.T) storage.Store {
			return openSQLite(t, filepath.Join(t.TempDir(), "dompet.db"))
		}},
	}
}

func TestConcurrentWritersNeverLoseUpdates(t *testing.T) {
	for _, tc := range stores() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			s := newService(t, tc.open(t), nil)
			b := setup(t, s, alice)
			s.guard = NewGuard(30 * time.Second)

			var wg sync.WaitGroup
			errs := make(chan error, 200)
			for i := 0; i < 50; i++ {
				wg.Add(4)
				go func() {
					defer wg.Done()
					_, err := s.CreateTransaction(ctx, alice, b.expense(b.cash.ID, "100"))
					errs <- err
				}()
				go func() {
					defer wg.Done()
					_, err := s.CreateTransaction(ctx, alice, b.income(b.bank.ID, "10"))
					errs <- err
				}()
				go func() {
					defer wg.Done()
					_, err := s.CreateTransfer(ctx, alice, b.transfer(b.cash.ID, b.bank.ID, "1"))
					errs <- err
				}()
				go func() {
					defer wg.Done()
					_, err := s.CreateTransfer(ctx, alice, b.transfer(b.bank.ID, b.cash.ID, "2"))
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Fatalf("concurrent write: %v", err)
				}
			}

			// cash: 100000 - 50*100 - 50*1 + 50*2 ; bank: 50000 + 50*10 + 50*1 - 50*2
			wantBalance(t, s, alice, b.cash.ID, "95050")
			wantBalance(t, s, alice, b.bank.ID, "50450")
			assertNoDrift(t, s, alice)
		})
	}
}

func TestReadersNeverSeeHalfATransfer(t *testing.T) {
	for _, tc := range stores() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			s := newService(t, tc.open(t), nil)
			b := setup(t, s, alice)
			s.guard = NewGuard(30 * time.Second)
			total := d("150000")

			stop := make(chan struct{})
			bad := make(chan string, 1)
			var reads int
			var readers sync.WaitGroup
			readers.Add(1)
			go func() {
				defer readers.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					methods, err := s.ListPaymentMethods(ctx, alice)
					if err != nil {
						bad <- err.Error()
						return
					}
					sum := d("0")
					for _, m := range methods {
						sum = sum.Add(m.Balance)
					}
					if !sum.Equal(total) {
						bad <- fmt.Sprintf("cash+bank = %s, want %s", sum, total)
						return
					}
					reads++
				}
			}()

			var writers sync.WaitGroup
			for i := 0; i < 40; i++ {
				writers.Add(1)
				from, to := b.cash.ID, b.bank.ID
				if i%2 == 1 {
					from, to = to, from
				}
				go func() {
					defer writers.Done()
					if _, err := s.CreateTransfer(ctx, alice, b.transfer(from, to, "1234.56")); err != nil {
						t.Errorf("transfer: %v", err)
					}
				}()
			}
			writers.Wait()
			close(stop)
			readers.Wait()

			select {
			case msg := <-bad:
				t.Fatalf("reader saw a partial transfer after %d reads: %s", reads, msg)
			default:
			}
			assertNoDrift(t, s, alice)
		})
	}
}

func TestRandomHistoryMatchesReplay(t *testing.T) {
	for _, tc := range stores() {
		t.Run(tc.name, func(t *testing.T) {
			randomHistory(t, newService(t, tc.open(t), nil))
		})
	}
}

func randomHistory(t *testing.T, s *Service) {
	ctx := context.Background()
	b := setup(t, s, alice)
	methods := []string{b.cash.ID, b.bank.ID}
	rng := rand.New(rand.NewSource(42))

	var txIDs, trIDs []string
	for i := 0; i < 300; i++ {
		amount := fmt.Sprintf("%d.%02d", rng.Intn(50000)+1, rng.Intn(100))
		m := methods[rng.Intn(2)]
		switch op := rng.Intn(6); {
		case op == 0:
			tx, err := s.CreateTransaction(ctx, alice, b.expense(m, amount))
			if err != nil {
				t.Fatalf("create expense: %v", err)
			}
			txIDs = append(txIDs, tx.ID)
		case op == 1:
			tx, err := s.CreateTransaction(ctx, alice, b.income(m, amount))
			if err != nil {
				t.Fatalf("create income: %v", err)
			}
			txIDs = append(txIDs, tx.ID)
		case op == 2:
			tr, err := s.CreateTransfer(ctx, alice, b.transfer(m, methods[1-indexOf(methods, m)], amount))
			if err != nil {
				t.Fatalf("create transfer: %v", err)
			}
			trIDs = append(trIDs, tr.ID)
		case op == 3 && len(txIDs) > 0:
			id := txIDs[rng.Intn(len(txIDs))]
			if _, err := s.UpdateTransaction(ctx, alice, id, b.expense(m, amount)); err != nil {
				t.Fatalf("update transaction: %v", err)
			}
		case op == 4 && len(txIDs) > 0:
			k := rng.Intn(len(txIDs))
			if err := s.DeleteTransaction(ctx, alice, txIDs[k]); err != nil {
				t.Fatalf("delete transaction: %v", err)
			}
			txIDs = append(txIDs[:k], txIDs[k+1:]...)
		case op == 5 && len(trIDs) > 0:
			k := rng.Intn(len(trIDs))
			if err := s.DeleteTransfer(ctx, alice, trIDs[k]); err != nil {
				t.Fatalf("delete transfer: %v", err)
			}
			trIDs = append(trIDs[:k], trIDs[k+1:]...)
		}
	}
	assertNoDrift(t, s, alice)
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

// pausingStore stops the first Update inside its read phase, right after the
// transactions were listed, until resume is closed.
type pausingStore struct {
	storage.Store
	once    sync.Once
	reached chan struct{}
	resume  chan struct{}
}

func newPausingStore(s storage.Store) *pausingStore {
	return &pausingStore{Store: s, reached: make(chan struct{}), resume: make(chan struct{})}
}

func (p *pausingStore) Update(ctx context.Context, fn func(r storage.Reader) (*storage.Batch, error)) error {
	return p.Store.Update(ctx, func(r storage.Reader) (*storage.Batch, error) {
		return fn(pausingReader{Reader: r, p: p})
	})
}

type pausingReader struct {
	storage.Reader
	p *pausingStore
}

func (r pausingReader) ListTransactions(ctx context.Context, user core.UserID, f storage.TransactionFilter) ([]core.Transaction, error) {
	txs, err := r.Reader.ListTransactions(ctx, user, f)
	r.p.once.Do(func() {
		close(r.p.reached)
		<-r.p.resume
	})
	return txs, err
}

// Two services on one database file stand in for the API and the worker
// processes: their guards do not see each other.
func TestReconcileAcrossProcessesKeepsConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dompet.db")
	apiStore := openSQLite(t, path)
	api := newService(t, apiStore, nil)
	b := setup(t, api, alice)

	cash, err := apiStore.GetPaymentMethod(ctx, alice, b.cash.ID)
	if err != nil {
		t.Fatalf("get cash: %v", err)
	}
	cash.Balance = d("99999")
	if err := apiStore.Commit(ctx, &storage.Batch{User: alice, PaymentMethods: []core.PaymentMethod{cash}}); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	paused := newPausingStore(openSQLite(t, path))
	worker := newService(t, paused, nil)

	type result struct {
		report Report
		err    error
	}
	reconciled := make(chan result, 1)
	go func() {
		report, err := worker.Reconcile(ctx, alice)
		reconciled <- result{report, err}
	}()
	<-paused.reached

	created := make(chan error, 1)
	go func() {
		_, err := api.CreateTransaction(ctx, alice, b.expense(b.cash.ID, "30000"))
		created <- err
	}()

	select {
	case err := <-created:
		close(paused.resume)
		t.Fatalf("write committed inside the reconcile transaction (err=%v)", err)
	case <-time.After(150 * time.Millisecond):
	}
	close(paused.resume)

	res := <-reconciled
	if res.err != nil {
		t.Fatalf("reconcile: %v", res.err)
	}
	if len(res.report.Drifted()) != 1 || !res.report.Drifted()[0].Replayed.Equal(d("100000")) {
		t.Fatalf("unexpected reconcile report %+v", res.report)
	}
	if err := <-created; err != nil {
		t.Fatalf("create expense: %v", err)
	}

	wantBalance(t, api, alice, b.cash.ID, "70000")
	assertNoDrift(t, api, alice)
	assertNoDrift(t, worker, alice)
}
