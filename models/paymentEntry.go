package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/fees_backend/money"
)

const RemarksSystemBackfill = "system-backfill"

// PaymentEntry is an append-only ledger row. The only permitted change after
// insert is linking an orphan (InstallmentId nil) to an installment once.
type PaymentEntry struct {
	ID             string      `gorm:"size:36;primary_key" json:"id"`
	SchoolId       string      `gorm:"size:64;not null;index" json:"school_id"`
	FeeAccountId   string      `gorm:"size:36;not null;index" json:"fee_account_id"`
	InstallmentId  *string     `gorm:"size:36;index" json:"installment_id"`
	Amount         money.Money `gorm:"type:bigint;not null" json:"amount"`
	PaymentDate    time.Time   `gorm:"not null;index" json:"payment_date"`
	PaymentMode    PaymentMode `gorm:"size:20;not null" json:"payment_mode"`
	TransactionRef string      `gorm:"size:100;index" json:"transaction_ref"`
	Remarks        string      `gorm:"size:255" json:"remarks"`
	RecordedBy     string      `gorm:"size:64" json:"recorded_by"`
	CreatedAt      time.Time   `gorm:"type:datetime(6);not null;index" json:"created_at"`
}

type NewPayment struct {
	FeeAccountId   string      `json:"fee_account_id"`
	InstallmentId  *string     `json:"installment_id"`
	Amount         money.Money `json:"amount"`
	PaymentDate    time.Time   `json:"payment_date"`
	PaymentMode    PaymentMode `json:"payment_mode"`
	TransactionRef string      `json:"transaction_ref" validate:"max=100"`
	Remarks        string      `json:"remarks" validate:"max=255"`
	// IdempotencyKey makes a retried request replay the first result.
	IdempotencyKey string `json:"-"`
}

func (input NewPayment) Validate() error {
	if !input.Amount.IsPositive() {
		return fmt.Errorf("%w: payment amount must be greater than zero", ErrInvalidAmount)
	}
	if !input.PaymentMode.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidPaymentMode, input.PaymentMode)
	}
	return nil
}

// NewPaymentEntry builds the ledger row for input against acc. It checks the
// input only; overpayment and installment scope are checked by the caller
// against locked state.
func NewPaymentEntry(acc FeeAccount, input NewPayment, actor string, now time.Time) (*PaymentEntry, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	paymentDate := input.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = now
	}
	var installmentId *string
	if input.InstallmentId != nil && strings.TrimSpace(*input.InstallmentId) != "" {
		id := strings.TrimSpace(*input.InstallmentId)
		installmentId = &id
	}
	return &PaymentEntry{
		ID:             uuid.NewString(),
		SchoolId:       acc.SchoolId,
		FeeAccountId:   acc.ID,
		InstallmentId:  installmentId,
		Amount:         input.Amount,
		PaymentDate:    paymentDate,
		PaymentMode:    input.PaymentMode,
		TransactionRef: strings.TrimSpace(input.TransactionRef),
		Remarks:        strings.TrimSpace(input.Remarks),
		RecordedBy:     actor,
		CreatedAt:      now,
	}, nil
}

func (e PaymentEntry) IsOrphan() bool {
	return e.InstallmentId == nil
}

// SortForDisplay orders newest payment first.
func SortForDisplay(entries []PaymentEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].PaymentDate.Equal(entries[j].PaymentDate) {
			return entries[i].PaymentDate.After(entries[j].PaymentDate)
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}

// SortForLedger orders by insertion time, oldest first. All balance math
// walks entries in this order.
func SortForLedger(entries []PaymentEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
}

func SumAmounts(entries []PaymentEntry) money.Money {
	var total money.Money
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}

// EntriesForInstallment filters entries linked to installmentId.
func EntriesForInstallment(entries []PaymentEntry, installmentId string) []PaymentEntry {
	var out []PaymentEntry
	for _, e := range entries {
		if e.InstallmentId != nil && *e.InstallmentId == installmentId {
			out = append(out, e)
		}
	}
	return out
}
