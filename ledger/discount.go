package ledger

import (
	"context"

	"github.com/mmdatafocus/fees_backend/models"
	"github.com/mmdatafocus/fees_backend/store"
	"github.com/mmdatafocus/fees_backend/utils"
)

// DiscountDecision is the outcome of approving or applying a discount.
type DiscountDecision struct {
	Discount *models.DiscountRecord `json:"discount"`
	Account  *models.FeeAccount     `json:"account"`
}

// RequestDiscount files a pending discount. The account is not touched
// until the request is approved.
func (l *FeeLedger) RequestDiscount(ctx context.Context, schoolId, accountId string, input models.NewDiscount) (result *models.DiscountRecord, err error) {
	ctx, span := l.startSpan(ctx, "RequestDiscount", schoolId)
	defer func() { l.endSpan(span, err) }()

	actor := utils.ActorFromContext(ctx)
	err = l.store.WithinTx(ctx, schoolId, func(tx store.Tx) error {
		acc, err := tx.GetFeeAccount(accountId, false)
		if err != nil {
			return err
		}
		d, err := models.NewDiscountRequest(*acc, input, actor)
		if err != nil {
			return err
		}
		if err := tx.CreateDiscountRecord(d); err != nil {
			return err
		}
		result = d
		return l.appendEvent(ctx, tx, schoolId, acc.ID, models.EventDiscountRequested, d)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApproveDiscount marks the request approved and makes its amount the
// account's discount, replacing any earlier one.
func (l *FeeLedger) ApproveDiscount(ctx context.Context, schoolId, discountId string) (result *DiscountDecision, err error) {
	ctx, span := l.startSpan(ctx, "ApproveDiscount", schoolId)
	defer func() { l.endSpan(span, err) }()

	accountId, err := l.discountAccount(ctx, schoolId, discountId)
	if err != nil {
		return nil, err
	}
	actor := utils.ActorFromContext(ctx)
	err = l.withAccount(ctx, "ApproveDiscount", schoolId, accountId, func(tx store.Tx, acc *models.FeeAccount) error {
		d, err := tx.GetDiscountRecord(discountId, true)
		if err != nil {
			return err
		}
		if err := d.Approve(actor, l.now().UTC()); err != nil {
			return err
		}
		updated, err := l.applyDiscount(tx, acc, d)
		if err != nil {
			return err
		}
		if err := tx.UpdateDiscountRecord(d); err != nil {
			return err
		}
		result = &DiscountDecision{Discount: d, Account: updated}
		return l.appendEvent(ctx, tx, schoolId, acc.ID, models.EventDiscountApproved, result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (l *FeeLedger) RejectDiscount(ctx context.Context, schoolId, discountId string) (result *models.DiscountRecord, err error) {
	ctx, span := l.startSpan(ctx, "RejectDiscount", schoolId)
	defer func() { l.endSpan(span, err) }()

	actor := utils.ActorFromContext(ctx)
	err = l.store.WithinTx(ctx, schoolId, func(tx store.Tx) error {
		d, err := tx.GetDiscountRecord(discountId, true)
		if err != nil {
			return err
		}
		if err := d.Reject(actor, l.now().UTC()); err != nil {
			return err
		}
		if err := tx.UpdateDiscountRecord(d); err != nil {
			return err
		}
		result = d
		return l.appendEvent(ctx, tx, schoolId, d.FeeAccountId, models.EventDiscountRejected, d)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyDiscount records an approved discount in one step, for actors that
// are allowed to grant discounts without review.
func (l *FeeLedger) ApplyDiscount(ctx context.Context, schoolId, accountId string, input models.NewDiscount) (result *DiscountDecision, err error) {
	ctx, span := l.startSpan(ctx, "ApplyDiscount", schoolId)
	defer func() { l.endSpan(span, err) }()

	actor := utils.ActorFromContext(ctx)
	err = l.withAccount(ctx, "ApplyDiscount", schoolId, accountId, func(tx store.Tx, acc *models.FeeAccount) error {
		d, err := models.NewDiscountRequest(*acc, input, actor)
		if err != nil {
			return err
		}
		if err := d.Approve(actor, l.now().UTC()); err != nil {
			return err
		}
		updated, err := l.applyDiscount(tx, acc, d)
		if err != nil {
			return err
		}
		if err := tx.CreateDiscountRecord(d); err != nil {
			return err
		}
		result = &DiscountDecision{Discount: d, Account: updated}
		return l.appendEvent(ctx, tx, schoolId, acc.ID, models.EventDiscountApproved, result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (l *FeeLedger) ListDiscounts(ctx context.Context, schoolId, accountId string) ([]models.DiscountRecord, error) {
	var items []models.DiscountRecord
	err := l.store.WithinTx(ctx, schoolId, func(tx store.Tx) error {
		if _, err := tx.GetFeeAccount(accountId, false); err != nil {
			return err
		}
		var err error
		items, err = tx.ListDiscountRecords(accountId)
		return err
	})
	return items, err
}

func (l *FeeLedger) discountAccount(ctx context.Context, schoolId, discountId string) (string, error) {
	var accountId string
	err := l.store.WithinTx(ctx, schoolId, func(tx store.Tx) error {
		d, err := tx.GetDiscountRecord(discountId, false)
		if err != nil {
			return err
		}
		accountId = d.FeeAccountId
		return nil
	})
	return accountId, err
}

// applyDiscount sets the discount and re-derives the balance from the
// ledger. Installments keep their amounts. A discount that takes the net fee
// below what was already paid leaves the account flagged overpaid.
func (l *FeeLedger) applyDiscount(tx store.Tx, acc *models.FeeAccount, d *models.DiscountRecord) (*models.FeeAccount, error) {
	discounted := *acc
	if err := discounted.ApplyDiscount(d.RequestedAmount); err != nil {
		return nil, err
	}
	entries, err := tx.ListPaymentEntries(store.PaymentFilter{FeeAccountId: acc.ID})
	if err != nil {
		return nil, err
	}
	return persistBalance(tx, &discounted, entries)
}
