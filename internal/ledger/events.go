package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dompet/internal/core"
	"dompet/internal/storage"
)

var errMethodsMoving = errors.New("payment methods of the record kept changing")

// TransactionInput carries the caller-editable fields of a transaction.
type TransactionInput struct {
	Type            core.Kind       `json:"type"`
	Date            core.Date       `json:"date"`
	CategoryID      string          `json:"category_id"`
	SubcategoryID   string          `json:"subcategory_id"`
	PaymentMethodID string          `json:"payment_method_id"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
}

func (in TransactionInput) build(id string, user core.UserID, created, now time.Time) core.Transaction {
	return core.Transaction{
		ID:              id,
		UserID:          user,
		Type:            in.Type,
		Date:            in.Date,
		CategoryID:      in.CategoryID,
		SubcategoryID:   in.SubcategoryID,
		PaymentMethodID: in.PaymentMethodID,
		Amount:          core.RoundAmount(in.Amount),
		Description:     strings.TrimSpace(in.Description),
		CreatedAt:       created,
		UpdatedAt:       now,
	}
}

// TransferInput carries the caller-editable fields of a transfer.
type TransferInput struct {
	Date                core.Date       `json:"date"`
	FromPaymentMethodID string          `json:"from_payment_method_id"`
	ToPaymentMethodID   string          `json:"to_payment_method_id"`
	Amount              decimal.Decimal `json:"amount"`
	Description         string          `json:"description"`
}

func (in TransferInput) build(id string, user core.UserID, created, now time.Time) core.Transfer {
	return core.Transfer{
		ID:                  id,
		UserID:              user,
		Date:                in.Date,
		FromPaymentMethodID: in.FromPaymentMethodID,
		ToPaymentMethodID:   in.ToPaymentMethodID,
		Amount:              core.RoundAmount(in.Amount),
		Description:         strings.TrimSpace(in.Description),
		CreatedAt:           created,
		UpdatedAt:           now,
	}
}

// lockEvent loads a stored event, locks its payment methods plus extra and
// loads it again under the lock. It retries when the stored methods moved
// in between.
func (s *Service) lockEvent(ctx context.Context, user core.UserID, load func(context.Context) (core.Event, error), extra []string) (core.Event, func(), error) {
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		ev, err := load(ctx)
		if err != nil {
			return nil, nil, err
		}
		methods := union(core.Methods(ev), extra)
		release, err := s.guard.Acquire(ctx, s.methodKeys(user, methods)...)
		if err != nil {
			return nil, nil, err
		}
		cur, err := load(ctx)
		if err != nil {
			release()
			return nil, nil, err
		}
		if subset(core.Methods(cur), methods) {
			return cur, release, nil
		}
		release()
	}
	return nil, nil, core.Timeout(errMethodsMoving)
}

func (s *Service) CreateTransaction(ctx context.Context, user core.UserID, in TransactionInput) (core.Transaction, error) {
	now := s.now().UTC()
	tx := in.build(core.NewID(), user, now, now)
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, s.failed(ctx, user, core.EntityTransaction, core.OpCreate, err)
	}

	release, err := s.guard.Acquire(ctx, MethodKey(user, tx.PaymentMethodID))
	if err != nil {
		return core.Transaction{}, s.failed(ctx, user, core.EntityTransaction, core.OpCreate, err)
	}
	defer release()

	if err := validateTransactionRefs(ctx, s.store, user, tx); err != nil {
		return core.Transaction{}, s.failed(ctx, user, core.EntityTransaction, core.OpCreate, err)
	}
	if err := s.projector.ApplyCreate(ctx, user, tx); err != nil {
		return core.Transaction{}, s.failed(ctx, user, core.EntityTransaction, core.OpCreate, err)
	}
	release()

	s.committed(ctx, user, core.EntityTransaction, core.OpCreate, tx.ID, core.Methods(tx))
	return tx, nil
}

func (s *Service) loadTransaction(user core.UserID, id string) func(context.Context) (core.Event, error) {
	return func(ctx context.Context) (core.Event, error) {
		tx, err := s.store.GetTransaction(ctx, user, id)
		return tx, err
	}
}

// UpdateTransaction replaces every editable field of transaction id.
func (s *Service) UpdateTransaction(ctx context.Context, user core.UserID, id string, in TransactionInput) (core.Transaction, error) {
	next := in.build(id, user, time.Time{}, s.now().UTC())
	if err := next.Validate(); err != nil {
		return core.Transaction{}, s.failed(ctx, user, core.EntityTransaction, core.OpUpdate, err)
	}

	cur, release, err := s.lockEvent(ctx, user, s.loadTransaction(user, id), core.Methods(next))
	if err != nil {
		return core.Transaction{}, s.failed(ctx, user, core.EntityTransaction, core.OpUpdate, err)
	}
	defer release()

	old := cur.(core.Transaction)
	next.CreatedAt = old.CreatedAt
	if err := validateTransactionRefs(ctx, s.store, user, next); err != nil {
		return core.Transaction{}, s.failed(ctx, user, core.EntityTransaction, core.OpUpdate, err)
	}
	if err := s.projector.ApplyEdit(ctx, user, old, next); err != nil {
		return core.Transaction{}, s.failed(ctx, user, core.EntityTransaction, core.OpUpdate, err)
	}
	release()

	s.committed(ctx, user, core.EntityTransaction, core.OpUpdate, id, core.Methods(old, next))
	return next, nil
}

func (s *Service) DeleteTransaction(ctx context.Context, user core.UserID, id string) error {
	cur, release, err := s.lockEvent(ctx, user, s.loadTransaction(user, id), nil)
	if err != nil {
		return s.failed(ctx, user, core.EntityTransaction, core.OpDelete, err)
	}
	defer release()

	if err := s.projector.ApplyDelete(ctx, user, cur); err != nil {
		return s.failed(ctx, user, core.EntityTransaction, core.OpDelete, err)
	}
	release()

	s.committed(ctx, user, core.EntityTransaction, core.OpDelete, id, core.Methods(cur))
	return nil
}

func (s *Service) GetTransaction(ctx context.Context, user core.UserID, id string) (core.Transaction, error) {
	return s.store.GetTransaction(ctx, user, id)
}

// ListTransactions returns the month's transactions, newest first. An empty
// kind matches both kinds.
func (s *Service) ListTransactions(ctx context.Context, user core.UserID, kind core.Kind, month core.Month) ([]core.Transaction, error) {
	if kind != "" {
		if err := kind.Validate(); err != nil {
			return nil, err
		}
	}
	if err := month.Validate(); err != nil {
		return nil, err
	}
	f := storage.ForMonth(month)
	f.Type = kind
	txs, err := s.store.ListTransactions(ctx, user, f)
	if err != nil {
		return nil, err
	}
	reverse(txs)
	return txs, nil
}

func (s *Service) CreateTransfer(ctx context.Context, user core.UserID, in TransferInput) (core.Transfer, error) {
	now := s.now().UTC()
	tr := in.build(core.NewID(), user, now, now)
	if err := tr.Validate(); err != nil {
		return core.Transfer{}, s.failed(ctx, user, core.EntityTransfer, core.OpCreate, err)
	}

	release, err := s.guard.Acquire(ctx, s.methodKeys(user, core.Methods(tr))...)
	if err != nil {
		return core.Transfer{}, s.failed(ctx, user, core.EntityTransfer, core.OpCreate, err)
	}
	defer release()

	if err := validateTransferRefs(ctx, s.store, user, tr); err != nil {
		return core.Transfer{}, s.failed(ctx, user, core.EntityTransfer, core.OpCreate, err)
	}
	if err := s.projector.ApplyCreate(ctx, user, tr); err != nil {
		return core.Transfer{}, s.failed(ctx, user, core.EntityTransfer, core.OpCreate, err)
	}
	release()

	s.committed(ctx, user, core.EntityTransfer, core.OpCreate, tr.ID, core.Methods(tr))
	return tr, nil
}

func (s *Service) loadTransfer(user core.UserID, id string) func(context.Context) (core.Event, error) {
	return func(ctx context.Context) (core.Event, error) {
		tr, err := s.store.GetTransfer(ctx, user, id)
		return tr, err
	}
}

func (s *Service) UpdateTransfer(ctx context.Context, user core.UserID, id string, in TransferInput) (core.Transfer, error) {
	next := in.build(id, user, time.Time{}, s.now().UTC())
	if err := next.Validate(); err != nil {
		return core.Transfer{}, s.failed(ctx, user, core.EntityTransfer, core.OpUpdate, err)
	}

	cur, release, err := s.lockEvent(ctx, user, s.loadTransfer(user, id), core.Methods(next))
	if err != nil {
		return core.Transfer{}, s.failed(ctx, user, core.EntityTransfer, core.OpUpdate, err)
	}
	defer release()

	old := cur.(core.Transfer)
	next.CreatedAt = old.CreatedAt
	if err := validateTransferRefs(ctx, s.store, user, next); err != nil {
		return core.Transfer{}, s.failed(ctx, user, core.EntityTransfer, core.OpUpdate, err)
	}
	if err := s.projector.ApplyEdit(ctx, user, old, next); err != nil {
		return core.Transfer{}, s.failed(ctx, user, core.EntityTransfer, core.OpUpdate, err)
	}
	release()

	s.committed(ctx, user, core.EntityTransfer, core.OpUpdate, id, core.Methods(old, next))
	return next, nil
}

func (s *Service) DeleteTransfer(ctx context.Context, user core.UserID, id string) error {
	cur, release, err := s.lockEvent(ctx, user, s.loadTransfer(user, id), nil)
	if err != nil {
		return s.failed(ctx, user, core.EntityTransfer, core.OpDelete, err)
	}
	defer release()

	if err := s.projector.ApplyDelete(ctx, user, cur); err != nil {
		return s.failed(ctx, user, core.EntityTransfer, core.OpDelete, err)
	}
	release()

	s.committed(ctx, user, core.EntityTransfer, core.OpDelete, id, core.Methods(cur))
	return nil
}

func (s *Service) GetTransfer(ctx context.Context, user core.UserID, id string) (core.Transfer, error) {
	return s.store.GetTransfer(ctx, user, id)
}

// ListTransfers returns the month's transfers, newest first.
func (s *Service) ListTransfers(ctx context.Context, user core.UserID, month core.Month) ([]core.Transfer, error) {
	if err := month.Validate(); err != nil {
		return nil, err
	}
	trs, err := s.store.ListTransfers(ctx, user, storage.TransferFilter{From: month.Start(), To: month.End()})
	if err != nil {
		return nil, err
	}
	reverse(trs)
	return trs, nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
