package ledger

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/fees_backend/models"
	"github.com/mmdatafocus/fees_backend/store"
	"github.com/mmdatafocus/fees_backend/utils"
)

const handlerRecordPayment = "RecordPayment"

// PaymentReceipt is the outcome of RecordPayment. Replayed is set when an
// earlier request with the same idempotency key already recorded the entry.
type PaymentReceipt struct {
	Entry       *models.PaymentEntry `json:"entry"`
	Account     *models.FeeAccount   `json:"account"`
	Installment *models.Installment  `json:"installment,omitempty"`
	Replayed    bool                 `json:"replayed"`
}

type paymentRecorded struct {
	Entry   *models.PaymentEntry `json:"entry"`
	Account *models.FeeAccount   `json:"account"`
}

// RecordPayment appends a payment and recomputes the account and, when the
// payment names one, the installment, all in the same transaction. Payments
// that would take the account's paid amount past its net fee are rejected.
func (l *FeeLedger) RecordPayment(ctx context.Context, schoolId string, input models.NewPayment) (result *PaymentReceipt, err error) {
	ctx, span := l.startSpan(ctx, "RecordPayment", schoolId)
	defer func() { l.endSpan(span, err) }()

	if err := input.Validate(); err != nil {
		return nil, err
	}
	actor := utils.ActorFromContext(ctx)
	today := l.Today()

	err = l.withAccount(ctx, handlerRecordPayment, schoolId, input.FeeAccountId, func(tx store.Tx, acc *models.FeeAccount) error {
		if input.IdempotencyKey != "" {
			entryId, replay, err := tx.BeginIdempotency(handlerRecordPayment, input.IdempotencyKey)
			if err != nil {
				return err
			}
			if replay {
				entry, err := tx.GetPaymentEntry(entryId)
				if err != nil {
					return err
				}
				if entry.FeeAccountId != acc.ID {
					return fmt.Errorf("%w: %s", models.ErrIdempotencyKeyReused, input.IdempotencyKey)
				}
				result = &PaymentReceipt{Entry: entry, Account: acc, Replayed: true}
				return nil
			}
		}

		entry, err := models.NewPaymentEntry(*acc, input, actor, l.now().UTC())
		if err != nil {
			return err
		}

		var inst *models.Installment
		if entry.InstallmentId != nil {
			inst, err = tx.GetInstallment(*entry.InstallmentId)
			if err != nil {
				return err
			}
			if !inst.BelongsTo(*acc) {
				return fmt.Errorf("%w: installment %s", models.ErrInstallmentMismatch, inst.ID)
			}
		}

		entries, err := tx.ListPaymentEntries(store.PaymentFilter{FeeAccountId: acc.ID})
		if err != nil {
			return err
		}
		current := models.RecomputeFromLedger(*acc, entries)
		if current.PaidAmount.Add(entry.Amount).Cmp(current.NetFee) > 0 {
			return fmt.Errorf("%w: pending amount is %s, payment is %s",
				models.ErrOverpaymentRejected, current.PendingAmount, entry.Amount)
		}

		if err := tx.CreatePaymentEntry(entry); err != nil {
			return err
		}
		entries = append(entries, *entry)

		updated, err := persistBalance(tx, acc, entries)
		if err != nil {
			return err
		}
		if inst != nil {
			recomputed := models.RecomputeInstallment(*inst, entries, today)
			if err := tx.UpdateInstallment(&recomputed); err != nil {
				return err
			}
			inst = &recomputed
		}

		if input.IdempotencyKey != "" {
			if err := tx.CompleteIdempotency(handlerRecordPayment, input.IdempotencyKey, entry.ID); err != nil {
				return err
			}
		}
		result = &PaymentReceipt{Entry: entry, Account: updated, Installment: inst}
		return l.appendEvent(ctx, tx, schoolId, acc.ID, models.EventPaymentRecorded, paymentRecorded{Entry: entry, Account: updated})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListPaymentsForAccount returns every entry of the account in the given order.
func (l *FeeLedger) ListPaymentsForAccount(ctx context.Context, schoolId, accountId string, order models.LedgerOrder) ([]models.PaymentEntry, error) {
	var entries []models.PaymentEntry
	err := l.store.WithinTx(ctx, schoolId, func(tx store.Tx) error {
		if _, err := tx.GetFeeAccount(accountId, false); err != nil {
			return err
		}
		var err error
		entries, err = tx.ListPaymentEntries(store.PaymentFilter{FeeAccountId: accountId})
		return err
	})
	if err != nil {
		return nil, err
	}
	sortEntries(entries, order)
	return entries, nil
}

// ListPaymentsForInstallment returns the entries linked to one installment.
func (l *FeeLedger) ListPaymentsForInstallment(ctx context.Context, schoolId, installmentId string, order models.LedgerOrder) ([]models.PaymentEntry, error) {
	var entries []models.PaymentEntry
	err := l.store.WithinTx(ctx, schoolId, func(tx store.Tx) error {
		if _, err := tx.GetInstallment(installmentId); err != nil {
			return err
		}
		var err error
		entries, err = tx.ListPaymentEntries(store.PaymentFilter{InstallmentId: installmentId})
		return err
	})
	if err != nil {
		return nil, err
	}
	sortEntries(entries, order)
	return entries, nil
}

func sortEntries(entries []models.PaymentEntry, order models.LedgerOrder) {
	if order == models.LedgerOrderLedger {
		models.SortForLedger(entries)
		return
	}
	models.SortForDisplay(entries)
}
