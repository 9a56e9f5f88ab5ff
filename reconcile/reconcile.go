// Package reconcile rebuilds fee account figures from the payment ledger and
// repairs rows imported from the legacy system: stored totals that disagree
// with the ledger, payments never linked to an installment and installments
// marked paid without any payment behind them.
package reconcile

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/fees_backend/models"
	"github.com/mmdatafocus/fees_backend/money"
)

const systemActor = "system"

// DetectDrift returns the stored paid amount of acc minus the sum of its
// ledger entries. Zero means the account agrees with its ledger.
func DetectDrift(acc models.FeeAccount, entries []models.PaymentEntry) money.Money {
	var ledger money.Money
	for _, e := range entries {
		if e.FeeAccountId == acc.ID {
			ledger = ledger.Add(e.Amount)
		}
	}
	return acc.PaidAmount.Diff(ledger)
}

// DetectInstallmentDrift is DetectDrift for one installment and the entries
// linked to it.
func DetectInstallmentDrift(inst models.Installment, entries []models.PaymentEntry) money.Money {
	linked := models.SumAmounts(models.EntriesForInstallment(entries, inst.ID))
	return inst.PaidAmount.Diff(linked)
}

type Link struct {
	EntryId       string      `json:"entry_id"`
	InstallmentId string      `json:"installment_id"`
	Amount        money.Money `json:"amount"`
}

// OrphanPlan is the outcome of ReconcileOrphans. Installments carries the
// input schedule with the linked amounts applied to paid and pending.
type OrphanPlan struct {
	Links        []Link                `json:"links"`
	Unresolved   []models.PaymentEntry `json:"unresolved"`
	Installments []models.Installment  `json:"installments"`
}

// ReconcileOrphans assigns unlinked payments to installments. Orphans are
// taken oldest payment first; each goes to the earliest due installment whose
// pending amount is positive and covers the whole payment. Payments that fit
// nowhere stay unlinked and are returned in Unresolved.
//
// The assignment is a best-effort guess: without a reference on the payment
// there is no way to know which installment it was meant for. Callers must
// treat the result as a suggestion that can be wrong.
func ReconcileOrphans(installments []models.Installment, orphans []models.PaymentEntry) OrphanPlan {
	items := make([]models.Installment, len(installments))
	copy(items, installments)
	models.SortInstallments(items)

	var queue []models.PaymentEntry
	for _, e := range orphans {
		if e.IsOrphan() {
			queue = append(queue, e)
		}
	}
	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i], queue[j]
		if !a.PaymentDate.Equal(b.PaymentDate) {
			return a.PaymentDate.Before(b.PaymentDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	plan := OrphanPlan{}
	for _, e := range queue {
		idx := firstFit(items, e.Amount)
		if idx < 0 {
			plan.Unresolved = append(plan.Unresolved, e)
			continue
		}
		items[idx].PaidAmount = items[idx].PaidAmount.Add(e.Amount)
		items[idx].PendingAmount = items[idx].Amount.SubFloor(items[idx].PaidAmount)
		plan.Links = append(plan.Links, Link{EntryId: e.ID, InstallmentId: items[idx].ID, Amount: e.Amount})
	}
	plan.Installments = items
	return plan
}

func firstFit(items []models.Installment, amount money.Money) int {
	for i, inst := range items {
		if inst.PendingAmount.IsPositive() && inst.PendingAmount.Cmp(amount) >= 0 {
			return i
		}
	}
	return -1
}

// SynthesizeMissingEntries creates one compensating entry for every
// installment of acc that records a paid amount but has no ledger entry
// linked to it. The entries are dated at the installment's last update, which
// is the best available record of when the money arrived.
func SynthesizeMissingEntries(acc models.FeeAccount, installments []models.Installment, entries []models.PaymentEntry, now time.Time) []models.PaymentEntry {
	items := make([]models.Installment, len(installments))
	copy(items, installments)
	models.SortInstallments(items)

	var out []models.PaymentEntry
	for _, inst := range items {
		if !inst.BelongsTo(acc) || !inst.PaidAmount.IsPositive() {
			continue
		}
		if len(models.EntriesForInstallment(entries, inst.ID)) > 0 {
			continue
		}
		paidAt := inst.UpdatedAt
		if paidAt.IsZero() {
			paidAt = now
		}
		installmentId := inst.ID
		out = append(out, models.PaymentEntry{
			ID:             uuid.NewString(),
			SchoolId:       acc.SchoolId,
			FeeAccountId:   acc.ID,
			InstallmentId:  &installmentId,
			Amount:         inst.PaidAmount,
			PaymentDate:    paidAt,
			PaymentMode:    models.PaymentModeCash,
			TransactionRef: "BACKFILL-" + uuid.NewString(),
			Remarks:        models.RemarksSystemBackfill,
			RecordedBy:     systemActor,
			CreatedAt:      now,
		})
	}
	return out
}
