package models

import (
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/fees_backend/money"
)

func day(n int) time.Time {
	return time.Date(2025, time.April, n, 0, 0, 0, 0, time.UTC)
}

func TestGenerateSchedule_RejectsMismatch(t *testing.T) {
	acc := newTestAccount(t, money.FromMajor(30000))
	cases := [][]ScheduleSplit{
		nil,
		{{DueDate: day(1), Amount: money.FromMajor(20000)}},
		{{DueDate: day(1), Amount: money.FromMajor(20000)}, {DueDate: day(2), Amount: money.FromMajor(10000) + 1}},
	}
	for i, splits := range cases {
		if _, err := GenerateSchedule(*acc, splits, day(1)); !errors.Is(err, ErrScheduleAmountMismatch) {
			t.Fatalf("case %d: expected ErrScheduleAmountMismatch, got %v", i, err)
		}
	}
}

func TestGenerateSchedule_NumbersByDueDate(t *testing.T) {
	acc := newTestAccount(t, money.FromMajor(30000))
	splits := []ScheduleSplit{
		{DueDate: day(20), Amount: money.FromMajor(10000)},
		{DueDate: day(5), Amount: money.FromMajor(15000)},
		{DueDate: day(10), Amount: money.FromMajor(5000)},
	}
	got, err := GenerateSchedule(*acc, splits, day(1))
	if err != nil {
		t.Fatalf("GenerateSchedule: %v", err)
	}
	if len(got) != len(splits) {
		t.Fatalf("expected %d installments, got %d", len(splits), len(got))
	}
	expectedDays := []int{5, 10, 20}
	for i, inst := range got {
		if inst.SequenceNumber != i+1 {
			t.Fatalf("expected sequence %d, got %d", i+1, inst.SequenceNumber)
		}
		if inst.DueDate.Day() != expectedDays[i] {
			t.Fatalf("installment %d due on day %d, expected %d", i+1, inst.DueDate.Day(), expectedDays[i])
		}
		if inst.Status != InstallmentStatusPending || inst.PendingAmount != inst.Amount {
			t.Fatalf("new installment should be pending with full balance: %+v", inst)
		}
		if !inst.BelongsTo(*acc) {
			t.Fatalf("installment outside account scope")
		}
	}
}

func TestGenerateSchedule_ZeroAmountIsPaid(t *testing.T) {
	acc := newTestAccount(t, money.FromMajor(100))
	got, err := GenerateSchedule(*acc, []ScheduleSplit{
		{DueDate: day(1), Amount: 0},
		{DueDate: day(2), Amount: money.FromMajor(100)},
	}, day(1))
	if err != nil {
		t.Fatalf("GenerateSchedule: %v", err)
	}
	if got[0].Status != InstallmentStatusPaid {
		t.Fatalf("zero amount installment should be paid, got %s", got[0].Status)
	}
}

func TestDeriveInstallmentStatus_Order(t *testing.T) {
	amount := money.FromMajor(1000)
	cases := []struct {
		name     string
		paid     money.Money
		due      time.Time
		today    time.Time
		expected InstallmentStatus
	}{
		{"paid beats overdue", amount, day(1), day(10), InstallmentStatusPaid},
		{"overdue beats partial", money.FromMajor(10), day(1), day(10), InstallmentStatusOverdue},
		{"overdue with nothing paid", 0, day(1), day(2), InstallmentStatusOverdue},
		{"due today is not overdue", money.FromMajor(10), day(10), day(10).Add(23 * time.Hour), InstallmentStatusPartiallyPaid},
		{"pending", 0, day(10), day(1), InstallmentStatusPending},
	}
	for _, tc := range cases {
		if got := DeriveInstallmentStatus(amount, tc.paid, tc.due, tc.today); got != tc.expected {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.expected, got)
		}
	}
}

func TestRecomputeInstallment_OnlyLinkedEntries(t *testing.T) {
	acc := newTestAccount(t, money.FromMajor(30000))
	schedule, err := GenerateSchedule(*acc, []ScheduleSplit{
		{DueDate: day(1), Amount: money.FromMajor(20000)},
		{DueDate: day(2), Amount: money.FromMajor(10000)},
	}, day(1))
	if err != nil {
		t.Fatalf("GenerateSchedule: %v", err)
	}
	first, second := schedule[0], schedule[1]
	entries := []PaymentEntry{
		entry(acc.ID, money.FromMajor(20000), &first.ID),
		entry(acc.ID, money.FromMajor(4000), &second.ID),
		entry(acc.ID, money.FromMajor(1000), nil),
	}
	first = RecomputeInstallment(first, entries, day(1))
	second = RecomputeInstallment(second, entries, day(1))
	if first.Status != InstallmentStatusPaid || first.PendingAmount != 0 {
		t.Fatalf("first installment should be paid: %+v", first)
	}
	if second.Status != InstallmentStatusPartiallyPaid || second.PendingAmount != money.FromMajor(6000) {
		t.Fatalf("second installment should be partially paid: %+v", second)
	}
	again := RecomputeInstallment(second, entries, day(1))
	if again != second {
		t.Fatalf("recompute is not idempotent")
	}
}
