package models

import "errors"

// Validation errors are terminal: retrying with the same input reproduces them.
var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrDiscountExceedsTotal   = errors.New("discount must be less than the total fee")
	ErrScheduleAmountMismatch = errors.New("installment amounts must add up to the net fee")
	ErrOverpaymentRejected    = errors.New("payment exceeds the pending amount")
	ErrInstallmentMismatch    = errors.New("installment does not belong to this fee account")
	ErrInvalidPaymentMode     = errors.New("invalid payment mode")
	ErrInvalidTransition      = errors.New("discount has already been reviewed")
	ErrScheduleExists         = errors.New("an installment schedule already exists for this fee account")
	ErrDuplicateAccount       = errors.New("a fee account already exists for this student and academic year")
	ErrMissingField           = errors.New("required field is missing")
	ErrIdempotencyKeyReused   = errors.New("idempotency key was already used for another fee account")
)

var (
	ErrNotFound = errors.New("record not found")

	// ErrConcurrencyConflict reports lock or version contention. It is the
	// only error the ledger retries on its own.
	ErrConcurrencyConflict = errors.New("fee account was modified concurrently")
)

func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsValidationError reports whether err is caused by caller input.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount, ErrDiscountExceedsTotal, ErrScheduleAmountMismatch,
		ErrOverpaymentRejected, ErrInstallmentMismatch, ErrInvalidPaymentMode,
		ErrInvalidTransition, ErrScheduleExists, ErrMissingField, ErrIdempotencyKeyReused,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
