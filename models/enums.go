package models

import (
	"encoding/json"
	"errors"
	"strings"
)

type FeeAccountStatus string

const (
	FeeAccountStatusUnpaid  FeeAccountStatus = "unpaid"
	FeeAccountStatusPartial FeeAccountStatus = "partial"
	FeeAccountStatusPaid    FeeAccountStatus = "paid"
)

type InstallmentStatus string

const (
	InstallmentStatusPending       InstallmentStatus = "pending"
	InstallmentStatusPartiallyPaid InstallmentStatus = "partially_paid"
	InstallmentStatusPaid          InstallmentStatus = "paid"
	InstallmentStatusOverdue       InstallmentStatus = "overdue"
)

type PaymentMode string

const (
	PaymentModeCash   PaymentMode = "cash"
	PaymentModeCheque PaymentMode = "cheque"
	PaymentModeOnline PaymentMode = "online"
	PaymentModeCard   PaymentMode = "card"
	PaymentModeUpi    PaymentMode = "upi"
)

func (m PaymentMode) IsValid() bool {
	switch m {
	case PaymentModeCash, PaymentModeCheque, PaymentModeOnline, PaymentModeCard, PaymentModeUpi:
		return true
	}
	return false
}

// convert input to enum type
func (m *PaymentMode) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("payment mode must be string")
	}
	mode := PaymentMode(strings.ToLower(strings.TrimSpace(str)))
	if !mode.IsValid() {
		return ErrInvalidPaymentMode
	}
	*m = mode
	return nil
}

type DiscountStatus string

const (
	DiscountStatusPending  DiscountStatus = "pending"
	DiscountStatusApproved DiscountStatus = "approved"
	DiscountStatusRejected DiscountStatus = "rejected"
)

// LedgerOrder selects how ledger entries are listed. Display order and
// computation order are never mixed.
type LedgerOrder string

const (
	// LedgerOrderDisplay sorts by payment_date, newest first.
	LedgerOrderDisplay LedgerOrder = "display"
	// LedgerOrderLedger sorts by created_at, oldest first (reconciliation math).
	LedgerOrderLedger LedgerOrder = "ledger"
)

type ReconciliationCheckType string

const (
	CheckTypePaidDrift        ReconciliationCheckType = "PAID_DRIFT"
	CheckTypeInstallmentDrift ReconciliationCheckType = "INSTALLMENT_DRIFT"
	CheckTypeUnlinkedPayment  ReconciliationCheckType = "UNLINKED_PAYMENT"
	CheckTypeSynthesizedEntry ReconciliationCheckType = "SYNTHESIZED_ENTRY"
	CheckTypeScheduleMismatch ReconciliationCheckType = "SCHEDULE_MISMATCH"
	CheckTypeLinkedPayment    ReconciliationCheckType = "LINKED_PAYMENT"
)
