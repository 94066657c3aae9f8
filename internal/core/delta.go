package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Delta is a signed amount applied to one payment method balance.
type Delta struct {
	PaymentMethodID string
	Amount          decimal.Decimal
}

// Event is a ledger record that moves money between payment methods.
type Event interface {
	Deltas() []Delta
}

// Deltas returns +amount for income and -amount for expense.
func (t Transaction) Deltas() []Delta {
	amt := t.Amount
	if t.Type == Expense {
		amt = amt.Neg()
	}
	return []Delta{{PaymentMethodID: t.PaymentMethodID, Amount: amt}}
}

// Deltas debits the source and credits the destination.
func (t Transfer) Deltas() []Delta {
	return []Delta{
		{PaymentMethodID: t.FromPaymentMethodID, Amount: t.Amount.Neg()},
		{PaymentMethodID: t.ToPaymentMethodID, Amount: t.Amount},
	}
}

// Inverse negates every delta.
func Inverse(ds []Delta) []Delta {
	out := make([]Delta, len(ds))
	for i, d := range ds {
		out[i] = Delta{PaymentMethodID: d.PaymentMethodID, Amount: d.Amount.Neg()}
	}
	return out
}

// MergeDeltas sums deltas per payment method and drops those that cancel out.
// The result is sorted by payment method id.
func MergeDeltas(ds ...[]Delta) []Delta {
	sums := make(map[string]decimal.Decimal)
	for _, set := range ds {
		for _, d := range set {
			sums[d.PaymentMethodID] = sums[d.PaymentMethodID].Add(d.Amount)
		}
	}
	out := make([]Delta, 0, len(sums))
	for id, amt := range sums {
		if amt.IsZero() {
			continue
		}
		out = append(out, Delta{PaymentMethodID: id, Amount: amt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentMethodID < out[j].PaymentMethodID })
	return out
}

// Methods returns the distinct payment method ids touched by the given events,
// sorted.
func Methods(events ...Event) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, e := range events {
		if e == nil {
			continue
		}
		for _, d := range e.Deltas() {
			if _, ok := seen[d.PaymentMethodID]; ok {
				continue
			}
			seen[d.PaymentMethodID] = struct{}{}
			ids = append(ids, d.PaymentMethodID)
		}
	}
	sort.Strings(ids)
	return ids
}
