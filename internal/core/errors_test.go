package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		want error
		kind ErrorKind
	}{
		{Invalid("amount", ErrInvalidAmount), ErrValidation, KindValidation},
		{NotFound("transaction", "x"), ErrNotFound, KindNotFound},
		{Referential("payment method %q is in use", "Cash"), ErrReferentialIntegrity, KindReferentialIntegrity},
		{Timeout(errors.New("deadline")), ErrConcurrencyTimeout, KindConcurrencyTimeout},
		{Storage("commit batch", errors.New("disk full")), ErrStorage, KindStorage},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("create transaction: %w", tc.err)
		if !errors.Is(wrapped, tc.want) {
			t.Fatalf("%v does not match %v", tc.err, tc.want)
		}
		if KindOf(wrapped) != tc.kind {
			t.Fatalf("KindOf(%v) = %s, want %s", tc.err, KindOf(wrapped), tc.kind)
		}
	}
	if errors.Is(NotFound("x", "y"), ErrValidation) {
		t.Fatalf("kinds must not cross-match")
	}
}

func TestStoragePassesTaggedErrors(t *testing.T) {
	nf := NotFound("payment method", "pm")
	if got := Storage("commit", nf); got != nf {
		t.Fatalf("expected tagged error to pass through, got %v", got)
	}
	if Storage("commit", nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestErrorMessage(t *testing.T) {
	err := Invalid("amount", ErrInvalidAmount)
	if err.Error() != "amount: amount must be greater than zero" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("cause lost")
	}
	s := Storage("commit batch", errors.New("disk full"))
	if s.Error() != "commit batch: disk full" {
		t.Fatalf("unexpected message %q", s.Error())
	}
}
