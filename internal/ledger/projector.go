package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"dompet/internal/core"
	"dompet/internal/storage"
)

// Projector turns transaction and transfer lifecycle events into balance
// deltas and commits each event together with its deltas in one batch.
//
// Callers must hold the guard for every payment method the event touches.
type Projector struct {
	store storage.Store
}

func NewProjector(store storage.Store) *Projector {
	return &Projector{store: store}
}

// ApplyCreate stores ev and adds its deltas.
func (p *Projector) ApplyCreate(ctx context.Context, user core.UserID, ev core.Event) error {
	if err := p.check(ctx, user, ev); err != nil {
		return err
	}
	b := &storage.Batch{User: user, Deltas: core.MergeDeltas(ev.Deltas())}
	if err := putRecord(b, ev); err != nil {
		return err
	}
	return p.store.Commit(ctx, b)
}

// ApplyEdit replaces old with next. The batch carries the inverse of old's
// deltas and next's deltas, summed per payment method.
func (p *Projector) ApplyEdit(ctx context.Context, user core.UserID, old, next core.Event) error {
	if err := p.check(ctx, user, next); err != nil {
		return err
	}
	b := &storage.Batch{User: user, Deltas: core.MergeDeltas(core.Inverse(old.Deltas()), next.Deltas())}
	if err := putRecord(b, next); err != nil {
		return err
	}
	return p.store.Commit(ctx, b)
}

// ApplyDelete removes ev and subtracts its deltas.
func (p *Projector) ApplyDelete(ctx context.Context, user core.UserID, ev core.Event) error {
	b := &storage.Batch{User: user, Deltas: core.MergeDeltas(core.Inverse(ev.Deltas()))}
	switch e := ev.(type) {
	case core.Transaction:
		b.DeleteTransactions = []string{e.ID}
	case core.Transfer:
		b.DeleteTransfers = []string{e.ID}
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
	return p.store.Commit(ctx, b)
}

// check validates the amount, the transfer sides and that every payment
// method exists for user.
func (p *Projector) check(ctx context.Context, user core.UserID, ev core.Event) error {
	switch e := ev.(type) {
	case core.Transaction:
		if err := core.ValidateAmount(e.Amount); err != nil {
			return err
		}
		return methodExists(ctx, p.store, user, "payment_method_id", e.PaymentMethodID)
	case core.Transfer:
		if err := core.ValidateAmount(e.Amount); err != nil {
			return err
		}
		if e.FromPaymentMethodID == e.ToPaymentMethodID {
			return core.Invalid("to_payment_method_id", core.ErrSameMethod)
		}
		if err := methodExists(ctx, p.store, user, "from_payment_method_id", e.FromPaymentMethodID); err != nil {
			return err
		}
		return methodExists(ctx, p.store, user, "to_payment_method_id", e.ToPaymentMethodID)
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
}

func putRecord(b *storage.Batch, ev core.Event) error {
	switch e := ev.(type) {
	case core.Transaction:
		b.Transactions = []core.Transaction{e}
	case core.Transfer:
		b.Transfers = []core.Transfer{e}
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
	return nil
}

// MethodReport compares a stored balance with its replayed value.
type MethodReport struct {
	PaymentMethodID string          `json:"payment_method_id"`
	Name            string          `json:"name"`
	Previous        decimal.Decimal `json:"previous"`
	Replayed        decimal.Decimal `json:"replayed"`
	Drift           decimal.Decimal `json:"drift"`
}

// Report is the outcome of a reconcile or verify run.
type Report struct {
	UserID  core.UserID    `json:"user_id"`
	Methods []MethodReport `json:"methods"`
	// Applied is true when replayed balances were written back.
	Applied bool `json:"applied"`
}

// Drifted returns the methods whose stored balance differs from the replay.
func (r Report) Drifted() []MethodReport {
	var out []MethodReport
	for _, m := range r.Methods {
		if !m.Drift.IsZero() {
			out = append(out, m)
		}
	}
	return out
}

// Replay computes every method's balance from its base balance and the given
// events. Events referencing unknown methods are ignored.
func Replay(methods []core.PaymentMethod, txs []core.Transaction, trs []core.Transfer) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(methods))
	for _, m := range methods {
		out[m.ID] = m.BaseBalance
	}
	add := func(ds []core.Delta) {
		for _, d := range ds {
			if cur, ok := out[d.PaymentMethodID]; ok {
				out[d.PaymentMethodID] = cur.Add(d.Amount)
			}
		}
	}
	for _, tx := range txs {
		add(tx.Deltas())
	}
	for _, tr := range trs {
		add(tr.Deltas())
	}
	return out
}

// Verify replays user's history from one snapshot without writing.
func (p *Projector) Verify(ctx context.Context, user core.UserID) (Report, error) {
	var report Report
	err := p.store.View(ctx, func(r storage.Reader) error {
		var err error
		report, _, err = replay(ctx, r, user)
		return err
	})
	return report, err
}

// Reconcile replays user's history and writes back every drifted balance.
// The replay reads and the write share one store transaction, so a commit
// from another process cannot land in between and be overwritten.
func (p *Projector) Reconcile(ctx context.Context, user core.UserID) (Report, error) {
	var report Report
	err := p.store.Update(ctx, func(r storage.Reader) (*storage.Batch, error) {
		var (
			methods map[string]core.PaymentMethod
			err     error
		)
		report, methods, err = replay(ctx, r, user)
		if err != nil {
			return nil, err
		}
		b := &storage.Batch{User: user}
		for _, mr := range report.Drifted() {
			m := methods[mr.PaymentMethodID]
			m.Balance = mr.Replayed
			b.PaymentMethods = append(b.PaymentMethods, m)
		}
		return b, nil
	})
	if err != nil {
		return report, err
	}
	report.Applied = len(report.Drifted()) > 0
	return report, nil
}

func replay(ctx context.Context, r storage.Reader, user core.UserID) (Report, map[string]core.PaymentMethod, error) {
	report := Report{UserID: user, Methods: []MethodReport{}}

	methods, err := r.ListPaymentMethods(ctx, user)
	if err != nil {
		return report, nil, err
	}
	txs, err := r.ListTransactions(ctx, user, storage.TransactionFilter{})
	if err != nil {
		return report, nil, err
	}
	trs, err := r.ListTransfers(ctx, user, storage.TransferFilter{})
	if err != nil {
		return report, nil, err
	}

	replayed := Replay(methods, txs, trs)
	byID := make(map[string]core.PaymentMethod, len(methods))
	for _, m := range methods {
		byID[m.ID] = m
		report.Methods = append(report.Methods, MethodReport{
			PaymentMethodID: m.ID,
			Name:            m.Name,
			Previous:        m.Balance,
			Replayed:        replayed[m.ID],
			Drift:           m.Balance.Sub(replayed[m.ID]),
		})
	}
	sort.SliceStable(report.Methods, func(i, j int) bool {
		return report.Methods[i].Name < report.Methods[j].Name
	})
	return report, byID, nil
}

// methodExists maps a missing or foreign payment method to a validation error
// on field.
func methodExists(ctx context.Context, r storage.Reader, user core.UserID, field, id string) error {
	_, err := r.GetPaymentMethod(ctx, user, id)
	return asReference(err, field)
}

func asReference(err error, field string) error {
	if errors.Is(err, core.ErrNotFound) {
		return core.Invalid(field, core.ErrInvalidReference)
	}
	return err
}
