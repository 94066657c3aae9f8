package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"dompet/internal/core"
	"dompet/internal/storage"
)

// PaymentMethodInput creates or edits a payment method. A nil Balance on
// update keeps the current balance; a set Balance is an absolute override.
type PaymentMethodInput struct {
	Name    string           `json:"name"`
	Balance *decimal.Decimal `json:"balance,omitempty"`
}

func (s *Service) CreatePaymentMethod(ctx context.Context, user core.UserID, in PaymentMethodInput) (core.PaymentMethod, error) {
	m := core.PaymentMethod{
		ID:        core.NewID(),
		UserID:    user,
		Name:      core.NormalizeName(in.Name),
		Balance:   decimal.Zero,
		CreatedAt: s.now().UTC(),
	}
	if in.Balance != nil {
		m.Balance = core.RoundAmount(*in.Balance)
	}
	m.BaseBalance = m.Balance
	if err := m.Validate(); err != nil {
		return core.PaymentMethod{}, s.failed(ctx, user, core.EntityPaymentMethod, core.OpCreate, err)
	}

	release, err := s.guard.Acquire(ctx, NamesKey(user))
	if err != nil {
		return core.PaymentMethod{}, s.failed(ctx, user, core.EntityPaymentMethod, core.OpCreate, err)
	}
	defer release()

	if err := checkMethodName(ctx, s.store, user, m.ID, m.Name); err != nil {
		return core.PaymentMethod{}, s.failed(ctx, user, core.EntityPaymentMethod, core.OpCreate, err)
	}
	if err := s.store.Commit(ctx, &storage.Batch{User: user, PaymentMethods: []core.PaymentMethod{m}}); err != nil {
		return core.PaymentMethod{}, s.failed(ctx, user, core.EntityPaymentMethod, core.OpCreate, err)
	}
	release()

	s.committed(ctx, user, core.EntityPaymentMethod, core.OpCreate, m.ID, []string{m.ID})
	return m, nil
}

// UpdatePaymentMethod renames a method and optionally overrides its balance.
// The override re-anchors the base balance so that replaying the current
// history still yields the new balance.
func (s *Service) UpdatePaymentMethod(ctx context.Context, user core.UserID, id string, in PaymentMethodInput) (core.PaymentMethod, error) {
	name := core.NormalizeName(in.Name)
	if err := (core.PaymentMethod{Name: name}).Validate(); err != nil {
		return core.PaymentMethod{}, s.failed(ctx, user, core.EntityPaymentMethod, core.OpUpdate, err)
	}

	release, err := s.guard.Acquire(ctx, NamesKey(user), MethodKey(user, id))
	if err != nil {
		return core.PaymentMethod{}, s.failed(ctx, user, core.EntityPaymentMethod, core.OpUpdate, err)
	}
	defer release()

	// The override reads the method's history and writes an absolute balance,
	// so both happen in one store transaction.
	var m core.PaymentMethod
	err = s.store.Update(ctx, func(r storage.Reader) (*storage.Batch, error) {
		var err error
		if m, err = r.GetPaymentMethod(ctx, user, id); err != nil {
			return nil, err
		}
		if err := checkMethodName(ctx, r, user, id, name); err != nil {
			return nil, err
		}
		m.Name = name
		if in.Balance != nil {
			effects, err := methodEffects(ctx, r, user, id)
			if err != nil {
				return nil, err
			}
			m.Balance = core.RoundAmount(*in.Balance)
			m.BaseBalance = m.Balance.Sub(effects)
		}
		return &storage.Batch{User: user, PaymentMethods: []core.PaymentMethod{m}}, nil
	})
	if err != nil {
		return core.PaymentMethod{}, s.failed(ctx, user, core.EntityPaymentMethod, core.OpUpdate, err)
	}
	release()

	s.committed(ctx, user, core.EntityPaymentMethod, core.OpUpdate, id, []string{id})
	return m, nil
}

// DeletePaymentMethod removes a method no transaction or transfer references.
func (s *Service) DeletePaymentMethod(ctx context.Context, user core.UserID, id string) error {
	release, err := s.guard.Acquire(ctx, MethodKey(user, id))
	if err != nil {
		return s.failed(ctx, user, core.EntityPaymentMethod, core.OpDelete, err)
	}
	defer release()

	m, err := s.store.GetPaymentMethod(ctx, user, id)
	if err != nil {
		return s.failed(ctx, user, core.EntityPaymentMethod, core.OpDelete, err)
	}
	txs, err := s.store.ListTransactions(ctx, user, storage.TransactionFilter{PaymentMethodID: id})
	if err != nil {
		return s.failed(ctx, user, core.EntityPaymentMethod, core.OpDelete, err)
	}
	trs, err := s.store.ListTransfers(ctx, user, storage.TransferFilter{PaymentMethodID: id})
	if err != nil {
		return s.failed(ctx, user, core.EntityPaymentMethod, core.OpDelete, err)
	}
	if len(txs) > 0 || len(trs) > 0 {
		err := core.Referential("payment method %q is used by %d transactions and %d transfers", m.Name, len(txs), len(trs))
		return s.failed(ctx, user, core.EntityPaymentMethod, core.OpDelete, err)
	}

	if err := s.store.Commit(ctx, &storage.Batch{User: user, DeletePaymentMethods: []string{id}}); err != nil {
		return s.failed(ctx, user, core.EntityPaymentMethod, core.OpDelete, err)
	}
	release()

	s.committed(ctx, user, core.EntityPaymentMethod, core.OpDelete, id, []string{id})
	return nil
}

func (s *Service) GetPaymentMethod(ctx context.Context, user core.UserID, id string) (core.PaymentMethod, error) {
	return s.store.GetPaymentMethod(ctx, user, id)
}

// ListPaymentMethods returns the user's methods sorted by name.
func (s *Service) ListPaymentMethods(ctx context.Context, user core.UserID) ([]core.PaymentMethod, error) {
	return s.store.ListPaymentMethods(ctx, user)
}

func checkMethodName(ctx context.Context, r storage.Reader, user core.UserID, id, name string) error {
	methods, err := r.ListPaymentMethods(ctx, user)
	if err != nil {
		return err
	}
	for _, m := range methods {
		if m.ID != id && strings.EqualFold(m.Name, name) {
			return core.Invalid("name", core.ErrDuplicateName)
		}
	}
	return nil
}

// methodEffects sums the deltas every existing event applies to method id.
func methodEffects(ctx context.Context, r storage.Reader, user core.UserID, id string) (decimal.Decimal, error) {
	txs, err := r.ListTransactions(ctx, user, storage.TransactionFilter{PaymentMethodID: id})
	if err != nil {
		return decimal.Zero, err
	}
	trs, err := r.ListTransfers(ctx, user, storage.TransferFilter{PaymentMethodID: id})
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	add := func(ds []core.Delta) {
		for _, d := range ds {
			if d.PaymentMethodID == id {
				sum = sum.Add(d.Amount)
			}
		}
	}
	for _, tx := range txs {
		add(tx.Deltas())
	}
	for _, tr := range trs {
		add(tr.Deltas())
	}
	return sum, nil
}
