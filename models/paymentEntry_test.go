package models

import (
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/fees_backend/money"
)

func TestNewPaymentEntry_Validates(t *testing.T) {
	acc := newTestAccount(t, money.FromMajor(1000))
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	for _, amount := range []money.Money{0, -100} {
		_, err := NewPaymentEntry(*acc, NewPayment{Amount: amount, PaymentMode: PaymentModeCash}, "clerk", now)
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	if _, err := NewPaymentEntry(*acc, NewPayment{Amount: 100, PaymentMode: "barter"}, "clerk", now); !errors.Is(err, ErrInvalidPaymentMode) {
		t.Fatalf("expected ErrInvalidPaymentMode, got %v", err)
	}
	blank := "  "
	e, err := NewPaymentEntry(*acc, NewPayment{Amount: 100, PaymentMode: PaymentModeUpi, InstallmentId: &blank}, "clerk", now)
	if err != nil {
		t.Fatalf("NewPaymentEntry: %v", err)
	}
	if !e.IsOrphan() || !e.PaymentDate.Equal(now) || e.RecordedBy != "clerk" || e.FeeAccountId != acc.ID {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestSortOrdersAreIndependent(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	entries := []PaymentEntry{
		{ID: "a", PaymentDate: base.AddDate(0, 0, 5), CreatedAt: base.Add(1 * time.Hour)},
		{ID: "b", PaymentDate: base.AddDate(0, 0, 1), CreatedAt: base.Add(2 * time.Hour)},
		{ID: "c", PaymentDate: base.AddDate(0, 0, 3), CreatedAt: base.Add(3 * time.Hour)},
	}
	display := append([]PaymentEntry(nil), entries...)
	SortForDisplay(display)
	if ids(display) != "acb" {
		t.Fatalf("display order expected acb, got %s", ids(display))
	}
	ledger := append([]PaymentEntry(nil), display...)
	SortForLedger(ledger)
	if ids(ledger) != "abc" {
		t.Fatalf("ledger order expected abc, got %s", ids(ledger))
	}
	if SumAmounts(entries) != 0 {
		t.Fatalf("expected zero sum")
	}
}

func ids(entries []PaymentEntry) string {
	s := ""
	for _, e := range entries {
		s += e.ID
	}
	return s
}

func TestDiscountReview(t *testing.T) {
	acc := newTestAccount(t, money.FromMajor(1000))
	if _, err := NewDiscountRequest(*acc, NewDiscount{Amount: acc.TotalFee}, "clerk"); !errors.Is(err, ErrDiscountExceedsTotal) {
		t.Fatalf("expected ErrDiscountExceedsTotal, got %v", err)
	}
	d, err := NewDiscountRequest(*acc, NewDiscount{Amount: money.FromMajor(100), Reason: " sibling "}, "clerk")
	if err != nil {
		t.Fatalf("NewDiscountRequest: %v", err)
	}
	if d.Status != DiscountStatusPending || d.Reason != "sibling" {
		t.Fatalf("unexpected request: %+v", d)
	}
	now := time.Now()
	if err := d.Approve("principal", now); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := d.Reject("principal", now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if d.Status != DiscountStatusApproved || *d.ReviewedBy != "principal" {
		t.Fatalf("unexpected review state: %+v", d)
	}
}
