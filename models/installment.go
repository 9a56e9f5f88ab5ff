package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/fees_backend/money"
)

// Installment belongs to a fee account through the student and academic
// year. FeeAccountId is kept for reporting only.
type Installment struct {
	ID             string            `gorm:"size:36;primary_key" json:"id"`
	SchoolId       string            `gorm:"size:64;not null;index" json:"school_id"`
	FeeAccountId   string            `gorm:"size:36;index" json:"fee_account_id"`
	StudentId      string            `gorm:"size:64;not null;index:idx_installment_scope,priority:1" json:"student_id"`
	AcademicYear   string            `gorm:"size:20;not null;index:idx_installment_scope,priority:2" json:"academic_year"`
	SequenceNumber int               `gorm:"not null" json:"sequence_number"`
	DueDate        time.Time         `gorm:"type:date;not null" json:"due_date"`
	Amount         money.Money       `gorm:"type:bigint;not null" json:"amount"`
	PaidAmount     money.Money       `gorm:"type:bigint;not null;default:0" json:"paid_amount"`
	PendingAmount  money.Money       `gorm:"type:bigint;not null" json:"pending_amount"`
	Status         InstallmentStatus `gorm:"size:20;not null;index" json:"status"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

type ScheduleSplit struct {
	DueDate time.Time   `json:"due_date"`
	Amount  money.Money `json:"amount"`
}

// BelongsTo reports whether the installment is in the account's student/year scope.
func (i Installment) BelongsTo(acc FeeAccount) bool {
	return i.SchoolId == acc.SchoolId && i.StudentId == acc.StudentId && i.AcademicYear == acc.AcademicYear
}

// GenerateSchedule splits the account's net fee into installments numbered
// 1..N by ascending due date. The split amounts must add up to the net fee
// exactly.
func GenerateSchedule(acc FeeAccount, splits []ScheduleSplit, today time.Time) ([]Installment, error) {
	var sum money.Money
	for _, s := range splits {
		if s.Amount.IsNegative() {
			return nil, fmt.Errorf("%w: installment amount cannot be negative", ErrInvalidAmount)
		}
		if s.DueDate.IsZero() {
			return nil, fmt.Errorf("%w: installment due date is required", ErrMissingField)
		}
		sum = sum.Add(s.Amount)
	}
	if len(splits) == 0 || sum != acc.NetFee {
		return nil, fmt.Errorf("%w: installments add up to %s, net fee is %s", ErrScheduleAmountMismatch, sum, acc.NetFee)
	}

	ordered := make([]ScheduleSplit, len(splits))
	copy(ordered, splits)
	sort.SliceStable(ordered, func(i, j int) bool {
		return DateOnly(ordered[i].DueDate).Before(DateOnly(ordered[j].DueDate))
	})

	installments := make([]Installment, 0, len(ordered))
	for n, s := range ordered {
		inst := Installment{
			ID:             uuid.NewString(),
			SchoolId:       acc.SchoolId,
			FeeAccountId:   acc.ID,
			StudentId:      acc.StudentId,
			AcademicYear:   acc.AcademicYear,
			SequenceNumber: n + 1,
			DueDate:        DateOnly(s.DueDate),
			Amount:         s.Amount,
		}
		inst.deriveBalance(today)
		installments = append(installments, inst)
	}
	return installments, nil
}

// RecomputeInstallment rebuilds the paid figures of inst from the entries
// linked to it. Entries linked elsewhere are ignored.
func RecomputeInstallment(inst Installment, entries []PaymentEntry, today time.Time) Installment {
	var paid money.Money
	for _, e := range entries {
		if e.InstallmentId == nil || *e.InstallmentId != inst.ID {
			continue
		}
		paid = paid.Add(e.Amount)
	}
	inst.PaidAmount = paid
	inst.deriveBalance(today)
	return inst
}

// Refresh re-derives the status against today, e.g. to surface overdue
// installments on read.
func (i *Installment) Refresh(today time.Time) {
	i.deriveBalance(today)
}

func (i *Installment) deriveBalance(today time.Time) {
	i.PendingAmount = i.Amount.SubFloor(i.PaidAmount)
	i.Status = DeriveInstallmentStatus(i.Amount, i.PaidAmount, i.DueDate, today)
}

// DeriveInstallmentStatus applies, first match wins: paid, overdue,
// partially_paid, pending. A zero amount installment is paid.
func DeriveInstallmentStatus(amount, paid money.Money, dueDate, today time.Time) InstallmentStatus {
	switch {
	case paid.Cmp(amount) >= 0:
		return InstallmentStatusPaid
	case DateOnly(dueDate).Before(DateOnly(today)):
		return InstallmentStatusOverdue
	case paid.IsPositive():
		return InstallmentStatusPartiallyPaid
	default:
		return InstallmentStatusPending
	}
}

// DateOnly drops the clock part, keeping the calendar date of t in its own location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SortInstallments orders by due date, then sequence number.
func SortInstallments(items []Installment) {
	sort.SliceStable(items, func(i, j int) bool {
		di, dj := DateOnly(items[i].DueDate), DateOnly(items[j].DueDate)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return items[i].SequenceNumber < items[j].SequenceNumber
	})
}
