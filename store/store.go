// Package store is the transactional query/command interface the fee ledger
// runs against. Every call inside WithinTx sees one consistent snapshot and
// commits or rolls back as a unit.
package store

import (
	"context"

	"github.com/mmdatafocus/fees_backend/models"
)

type Store interface {
	// WithinTx runs fn in one transaction scoped to schoolID. Any error
	// returned by fn rolls back every write made through the Tx.
	WithinTx(ctx context.Context, schoolID string, fn func(Tx) error) error

	// ListSchoolIDs returns every school that owns at least one fee account.
	ListSchoolIDs(ctx context.Context) ([]string, error)
}

// PaymentFilter narrows ListPaymentEntries. Zero values match everything
// in the school.
type PaymentFilter struct {
	FeeAccountId  string
	InstallmentId string
	OnlyOrphans   bool
}

// Tx is bound to one school. Lookups of rows that belong to another school
// return models.ErrNotFound.
type Tx interface {
	GetFeeAccount(id string, forUpdate bool) (*models.FeeAccount, error)
	FindFeeAccount(studentId, academicYear string) (*models.FeeAccount, error)
	ListFeeAccountIDs() ([]string, error)
	CreateFeeAccount(acc *models.FeeAccount) error
	// UpdateFeeAccount writes the discount and balance fields when the stored
	// version still equals expectedVersion, then bumps acc.Version. A stale
	// version fails with models.ErrConcurrencyConflict.
	UpdateFeeAccount(acc *models.FeeAccount, expectedVersion int64) error

	// ListInstallments returns the student/year schedule ordered by due date.
	ListInstallments(studentId, academicYear string) ([]models.Installment, error)
	GetInstallment(id string) (*models.Installment, error)
	CreateInstallments(items []models.Installment) error
	UpdateInstallment(inst *models.Installment) error

	CreatePaymentEntry(entry *models.PaymentEntry) error
	GetPaymentEntry(id string) (*models.PaymentEntry, error)
	// ListPaymentEntries returns entries in ledger order (created_at ascending).
	ListPaymentEntries(filter PaymentFilter) ([]models.PaymentEntry, error)
	// LinkPaymentEntry sets the installment of an orphan entry. Entries that
	// are already linked are never touched and yield models.ErrConcurrencyConflict.
	LinkPaymentEntry(entryId, installmentId string) error

	CreateDiscountRecord(d *models.DiscountRecord) error
	GetDiscountRecord(id string, forUpdate bool) (*models.DiscountRecord, error)
	UpdateDiscountRecord(d *models.DiscountRecord) error
	ListDiscountRecords(feeAccountId string) ([]models.DiscountRecord, error)

	CreateReconciliationReports(items []models.ReconciliationReport) error
	AppendEvent(event *models.FeeEventRecord) error

	// BeginIdempotency claims (handler, key). When a previous call with the
	// same key succeeded it returns that call's result id and replay=true.
	BeginIdempotency(handler, key string) (resultId string, replay bool, err error)
	CompleteIdempotency(handler, key, resultId string) error
}
