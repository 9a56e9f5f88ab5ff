package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/fees_backend/money"
)

// DiscountRecord tracks a discount request. Approving one overwrites the
// account's discount; it does not add to it.
type DiscountRecord struct {
	ID              string         `gorm:"size:36;primary_key" json:"id"`
	SchoolId        string         `gorm:"size:64;not null;index" json:"school_id"`
	FeeAccountId    string         `gorm:"size:36;not null;index" json:"fee_account_id"`
	RequestedAmount money.Money    `gorm:"type:bigint;not null" json:"requested_amount"`
	Reason          string         `gorm:"size:255" json:"reason"`
	Status          DiscountStatus `gorm:"size:20;not null;index" json:"status"`
	RequestedBy     string         `gorm:"size:64" json:"requested_by"`
	ReviewedBy      *string        `gorm:"size:64" json:"reviewed_by"`
	ReviewedAt      *time.Time     `json:"reviewed_at"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewDiscount struct {
	Amount money.Money `json:"amount"`
	Reason string      `json:"reason" validate:"max=255"`
}

func NewDiscountRequest(acc FeeAccount, input NewDiscount, actor string) (*DiscountRecord, error) {
	if !input.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: discount must be greater than zero", ErrInvalidAmount)
	}
	if input.Amount.Cmp(acc.TotalFee) >= 0 {
		return nil, fmt.Errorf("%w: discount %s, total fee %s", ErrDiscountExceedsTotal, input.Amount, acc.TotalFee)
	}
	return &DiscountRecord{
		ID:              uuid.NewString(),
		SchoolId:        acc.SchoolId,
		FeeAccountId:    acc.ID,
		RequestedAmount: input.Amount,
		Reason:          strings.TrimSpace(input.Reason),
		Status:          DiscountStatusPending,
		RequestedBy:     actor,
	}, nil
}

func (d *DiscountRecord) Approve(actor string, now time.Time) error {
	return d.review(DiscountStatusApproved, actor, now)
}

func (d *DiscountRecord) Reject(actor string, now time.Time) error {
	return d.review(DiscountStatusRejected, actor, now)
}

func (d *DiscountRecord) review(to DiscountStatus, actor string, now time.Time) error {
	if d.Status != DiscountStatusPending {
		return fmt.Errorf("%w: discount is %s", ErrInvalidTransition, d.Status)
	}
	d.Status = to
	d.ReviewedBy = &actor
	d.ReviewedAt = &now
	return nil
}
