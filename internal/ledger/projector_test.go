package ledger

import (
	"context"
	"errors"
	"testing"

	"dompet/internal/core"
	"dompet/internal/storage/memory"
)

func TestReplay(t *testing.T) {
	methods := []core.PaymentMethod{
		{ID: "cash", BaseBalance: d("100000")},
		{ID: "bank", BaseBalance: d("50000")},
	}
	txs := []core.Transaction{
		{Type: core.Expense, PaymentMethodID: "cash", Amount: d("30000")},
		{Type: core.Income, PaymentMethodID: "bank", Amount: d("0.10")},
		{Type: core.Income, PaymentMethodID: "gone", Amount: d("1")},
	}
	trs := []core.Transfer{
		{FromPaymentMethodID: "cash", ToPaymentMethodID: "bank", Amount: d("20000")},
	}

	got := Replay(methods, txs, trs)
	if !got["cash"].Equal(d("50000")) || !got["bank"].Equal(d("70000.10")) {
		t.Fatalf("unexpected replay %v", got)
	}
	if _, ok := got["gone"]; ok {
		t.Fatalf("unknown methods must be ignored")
	}

	empty := Replay(methods, nil, nil)
	if !empty["cash"].Equal(d("100000")) {
		t.Fatalf("empty history must equal base balance, got %s", empty["cash"])
	}
}

func TestProjectorRejectsMissingMethod(t *testing.T) {
	ctx := context.Background()
	p := NewProjector(memory.New())
	tr := core.Transfer{ID: "t", FromPaymentMethodID: "a", ToPaymentMethodID: "b", Amount: d("1")}
	if err := p.ApplyCreate(ctx, alice, tr); !errors.Is(err, core.ErrInvalidReference) {
		t.Fatalf("expected invalid reference, got %v", err)
	}
	tr.Amount = d("0")
	if err := p.ApplyCreate(ctx, alice, tr); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}
