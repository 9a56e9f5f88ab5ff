package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/fees_backend/money"
)

// FeeAccount is one student's fee obligation for one academic year.
// PaidAmount, PendingAmount, Status and IsOverpaid are derived from the
// payment ledger and only ever written through RecomputeFromLedger.
type FeeAccount struct {
	ID             string           `gorm:"size:36;primary_key" json:"id"`
	SchoolId       string           `gorm:"size:64;not null;index:uniq_fee_account,unique,priority:1" json:"school_id"`
	StudentId      string           `gorm:"size:64;not null;index:uniq_fee_account,unique,priority:2" json:"student_id"`
	AcademicYear   string           `gorm:"size:20;not null;index:uniq_fee_account,unique,priority:3" json:"academic_year"`
	TotalFee       money.Money      `gorm:"type:bigint;not null" json:"total_fee"`
	DiscountAmount money.Money      `gorm:"type:bigint;not null;default:0" json:"discount_amount"`
	NetFee         money.Money      `gorm:"type:bigint;not null" json:"net_fee"`
	PaidAmount     money.Money      `gorm:"type:bigint;not null;default:0" json:"paid_amount"`
	PendingAmount  money.Money      `gorm:"type:bigint;not null" json:"pending_amount"`
	Status         FeeAccountStatus `gorm:"size:20;not null;index" json:"status"`
	IsOverpaid     bool             `gorm:"not null;default:false" json:"is_overpaid"`
	Version        int64            `gorm:"not null;default:1" json:"version"`
	CreatedBy      string           `gorm:"size:64" json:"created_by"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewFeeAccount struct {
	SchoolId     string      `json:"school_id"`
	StudentId    string      `json:"student_id" validate:"required,max=64"`
	AcademicYear string      `json:"academic_year" validate:"required,max=20"`
	TotalFee     money.Money `json:"total_fee"`
}

// OpenFeeAccount builds a fresh, unpaid account with no discount.
func OpenFeeAccount(input NewFeeAccount, actor string) (*FeeAccount, error) {
	if strings.TrimSpace(input.SchoolId) == "" || strings.TrimSpace(input.StudentId) == "" ||
		strings.TrimSpace(input.AcademicYear) == "" {
		return nil, fmt.Errorf("%w: school, student and academic year are required", ErrMissingField)
	}
	if !input.TotalFee.IsPositive() {
		return nil, fmt.Errorf("%w: total fee must be greater than zero", ErrInvalidAmount)
	}
	acc := &FeeAccount{
		ID:           uuid.NewString(),
		SchoolId:     input.SchoolId,
		StudentId:    strings.TrimSpace(input.StudentId),
		AcademicYear: strings.TrimSpace(input.AcademicYear),
		TotalFee:     input.TotalFee,
		NetFee:       input.TotalFee,
		Version:      1,
		CreatedBy:    actor,
	}
	acc.deriveBalance()
	return acc, nil
}

// ApplyDiscount replaces the account's discount. Existing installments keep
// their amounts.
func (a *FeeAccount) ApplyDiscount(amount money.Money) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: discount cannot be negative", ErrInvalidAmount)
	}
	if amount.Cmp(a.TotalFee) >= 0 {
		return fmt.Errorf("%w: discount %s, total fee %s", ErrDiscountExceedsTotal, amount, a.TotalFee)
	}
	a.DiscountAmount = amount
	a.NetFee = a.TotalFee.Diff(amount)
	a.deriveBalance()
	return nil
}

// RecomputeFromLedger returns acc with its paid figures rebuilt from every
// ledger entry of the account, linked or not. It does not mutate its inputs
// and returns the same result for the same ledger.
func RecomputeFromLedger(acc FeeAccount, entries []PaymentEntry) FeeAccount {
	var paid money.Money
	for _, e := range entries {
		if e.FeeAccountId != acc.ID {
			continue
		}
		paid = paid.Add(e.Amount)
	}
	acc.NetFee = acc.TotalFee.Diff(acc.DiscountAmount)
	acc.PaidAmount = paid
	acc.deriveBalance()
	return acc
}

// SameBalance reports whether the derived fields of a and b agree.
func (a FeeAccount) SameBalance(b FeeAccount) bool {
	return a.NetFee == b.NetFee && a.PaidAmount == b.PaidAmount && a.PendingAmount == b.PendingAmount &&
		a.Status == b.Status && a.IsOverpaid == b.IsOverpaid
}

func (a *FeeAccount) deriveBalance() {
	a.PendingAmount = a.NetFee.SubFloor(a.PaidAmount)
	a.IsOverpaid = a.PaidAmount.Cmp(a.NetFee) > 0
	a.Status = DeriveFeeAccountStatus(a.NetFee, a.PaidAmount)
}

func DeriveFeeAccountStatus(net, paid money.Money) FeeAccountStatus {
	switch {
	case paid.IsPositive() && paid.Cmp(net) >= 0:
		return FeeAccountStatusPaid
	case paid.IsPositive():
		return FeeAccountStatusPartial
	default:
		return FeeAccountStatusUnpaid
	}
}
