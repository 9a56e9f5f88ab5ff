package reconcile

import (
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/fees_backend/models"
	"github.com/mmdatafocus/fees_backend/money"
)

func testAccount() models.FeeAccount {
	return models.FeeAccount{
		ID: "acc-1", SchoolId: "school-1", StudentId: "stu-1", AcademicYear: "2025-26",
		TotalFee: money.FromMajor(30000), NetFee: money.FromMajor(30000),
	}
}

func testInstallment(id string, seq int, due time.Time, amount, paid money.Money) models.Installment {
	return models.Installment{
		ID: id, SchoolId: "school-1", FeeAccountId: "acc-1", StudentId: "stu-1", AcademicYear: "2025-26",
		SequenceNumber: seq, DueDate: due, Amount: amount, PaidAmount: paid, PendingAmount: amount.SubFloor(paid),
	}
}

func orphan(id string, amount money.Money, paidOn time.Time) models.PaymentEntry {
	return models.PaymentEntry{
		ID: id, SchoolId: "school-1", FeeAccountId: "acc-1", Amount: amount,
		PaymentDate: paidOn, PaymentMode: models.PaymentModeCash, CreatedAt: paidOn,
	}
}

func date(month time.Month, d int) time.Time {
	return time.Date(2025, month, d, 0, 0, 0, 0, time.UTC)
}

func TestReconcileOrphans_SkipsPaidInstallment(t *testing.T) {
	installments := []models.Installment{
		testInstallment("inst-1", 1, date(time.April, 1), money.FromMajor(15000), money.FromMajor(15000)),
		testInstallment("inst-2", 2, date(time.July, 1), money.FromMajor(15000), 0),
	}
	plan := ReconcileOrphans(installments, []models.PaymentEntry{orphan("pay-1", money.FromMajor(15000), date(time.July, 3))})

	if len(plan.Links) != 1 || plan.Links[0].InstallmentId != "inst-2" {
		t.Fatalf("expected link to inst-2, got %+v", plan.Links)
	}
	if len(plan.Unresolved) != 0 {
		t.Fatalf("expected nothing unresolved, got %d", len(plan.Unresolved))
	}
	if !plan.Installments[1].PendingAmount.IsZero() {
		t.Fatalf("expected inst-2 pending to reach zero, got %s", plan.Installments[1].PendingAmount)
	}
}

func TestReconcileOrphans_FirstFitByDueDate(t *testing.T) {
	// Listed out of due-date order on purpose.
	installments := []models.Installment{
		testInstallment("late", 2, date(time.August, 1), money.FromMajor(3000), 0),
		testInstallment("early", 1, date(time.May, 1), money.FromMajor(10000), 0),
	}
	plan := ReconcileOrphans(installments, []models.PaymentEntry{orphan("pay-1", money.FromMajor(3000), date(time.May, 2))})
	if len(plan.Links) != 1 || plan.Links[0].InstallmentId != "early" {
		t.Fatalf("expected first fit on the earliest installment, got %+v", plan.Links)
	}
}

func TestReconcileOrphans_OldestPaymentFirst(t *testing.T) {
	installments := []models.Installment{
		testInstallment("inst-1", 1, date(time.May, 1), money.FromMajor(10000), 0),
		testInstallment("inst-2", 2, date(time.June, 1), money.FromMajor(6000), 0),
	}
	orphans := []models.PaymentEntry{
		orphan("later", money.FromMajor(6000), date(time.June, 5)),
		orphan("earlier", money.FromMajor(5000), date(time.May, 5)),
	}
	plan := ReconcileOrphans(installments, orphans)

	got := map[string]string{}
	for _, l := range plan.Links {
		got[l.EntryId] = l.InstallmentId
	}
	if got["earlier"] != "inst-1" || got["later"] != "inst-2" {
		t.Fatalf("unexpected links %v", got)
	}
	if plan.Links[0].EntryId != "earlier" {
		t.Fatalf("expected the earlier payment to be placed first, got %s", plan.Links[0].EntryId)
	}
}

func TestReconcileOrphans_LeavesUnfittableUnresolved(t *testing.T) {
	installments := []models.Installment{
		testInstallment("inst-1", 1, date(time.May, 1), money.FromMajor(1000), 0),
		testInstallment("inst-2", 2, date(time.June, 1), money.FromMajor(1000), money.FromMajor(1000)),
	}
	orphans := []models.PaymentEntry{
		orphan("big", money.FromMajor(1500), date(time.May, 2)),
		orphan("fits", money.FromMajor(1000), date(time.May, 3)),
	}
	plan := ReconcileOrphans(installments, orphans)
	if len(plan.Unresolved) != 1 || plan.Unresolved[0].ID != "big" {
		t.Fatalf("expected big payment unresolved, got %+v", plan.Unresolved)
	}
	if len(plan.Links) != 1 || plan.Links[0].EntryId != "fits" {
		t.Fatalf("expected the fitting payment to link, got %+v", plan.Links)
	}
}

func TestReconcileOrphans_DoesNotMutateInput(t *testing.T) {
	installments := []models.Installment{testInstallment("inst-1", 1, date(time.May, 1), money.FromMajor(1000), 0)}
	linked := orphan("linked", money.FromMajor(500), date(time.May, 2))
	instId := "inst-1"
	linked.InstallmentId = &instId

	plan := ReconcileOrphans(installments, []models.PaymentEntry{linked, orphan("pay-1", money.FromMajor(400), date(time.May, 3))})
	if installments[0].PaidAmount != 0 {
		t.Fatalf("input installment changed: %+v", installments[0])
	}
	if len(plan.Links) != 1 || plan.Links[0].EntryId != "pay-1" {
		t.Fatalf("expected only the orphan to be considered, got %+v", plan.Links)
	}
}

func TestDetectDrift(t *testing.T) {
	acc := testAccount()
	acc.PaidAmount = money.FromMajor(20000)
	entries := []models.PaymentEntry{
		orphan("a", money.FromMajor(15000), date(time.May, 1)),
		orphan("b", money.MustParse("4999.99"), date(time.May, 2)),
		{ID: "other", FeeAccountId: "acc-2", Amount: money.FromMajor(1)},
	}
	if got := DetectDrift(acc, entries); got != 1 {
		t.Fatalf("expected drift of one paisa, got %d", got.Minor())
	}
	acc.PaidAmount = money.MustParse("19999.99")
	if got := DetectDrift(acc, entries); !got.IsZero() {
		t.Fatalf("expected no drift, got %s", got)
	}

	inst := testInstallment("inst-1", 1, date(time.May, 1), money.FromMajor(1000), money.FromMajor(1000))
	if got := DetectInstallmentDrift(inst, nil); got != money.FromMajor(1000) {
		t.Fatalf("expected installment drift of 1000, got %s", got)
	}
}

func TestSynthesizeMissingEntries(t *testing.T) {
	acc := testAccount()
	updated := time.Date(2025, time.May, 4, 11, 30, 0, 0, time.UTC)
	legacy := testInstallment("legacy", 1, date(time.May, 1), money.FromMajor(10000), money.FromMajor(10000))
	legacy.UpdatedAt = updated
	partly := testInstallment("partly", 2, date(time.June, 1), money.FromMajor(10000), money.FromMajor(2000))
	partly.UpdatedAt = updated
	backed := testInstallment("backed", 3, date(time.July, 1), money.FromMajor(10000), money.FromMajor(500))
	unpaid := testInstallment("unpaid", 4, date(time.August, 1), money.FromMajor(10000), 0)
	foreign := testInstallment("foreign", 1, date(time.May, 1), money.FromMajor(10000), money.FromMajor(10000))
	foreign.StudentId = "stu-2"

	backedId := "backed"
	existing := orphan("existing", money.FromMajor(500), date(time.July, 2))
	existing.InstallmentId = &backedId

	now := time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)
	got := SynthesizeMissingEntries(acc, []models.Installment{unpaid, backed, partly, legacy, foreign}, []models.PaymentEntry{existing}, now)
	if len(got) != 2 {
		t.Fatalf("expected 2 synthesized entries, got %d", len(got))
	}
	if *got[0].InstallmentId != "legacy" || *got[1].InstallmentId != "partly" {
		t.Fatalf("unexpected installments %s, %s", *got[0].InstallmentId, *got[1].InstallmentId)
	}
	for _, e := range got {
		if e.Remarks != models.RemarksSystemBackfill || e.PaymentMode != models.PaymentModeCash {
			t.Fatalf("unexpected tagging %+v", e)
		}
		if !e.PaymentDate.Equal(updated) || !e.CreatedAt.Equal(now) {
			t.Fatalf("unexpected dates payment=%s created=%s", e.PaymentDate, e.CreatedAt)
		}
		if !strings.HasPrefix(e.TransactionRef, "BACKFILL-") {
			t.Fatalf("unexpected ref %q", e.TransactionRef)
		}
	}
	if got[1].Amount != money.FromMajor(2000) {
		t.Fatalf("expected synthesized amount to equal stored paid, got %s", got[1].Amount)
	}
	if got[0].TransactionRef == got[1].TransactionRef {
		t.Fatal("expected unique transaction refs")
	}
}
