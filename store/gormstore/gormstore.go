// Package gormstore implements store.Store on MySQL through gorm.
package gormstore

import (
	"context"
	stdErrors "errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/fees_backend/models"
	"github.com/mmdatafocus/fees_backend/store"
	"github.com/mmdatafocus/fees_backend/utils"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) WithinTx(ctx context.Context, schoolID string, fn func(store.Tx) error) error {
	if schoolID == "" {
		return errors.Wrap(models.ErrMissingField, "school id")
	}
	ctx = utils.SetSchoolIdInContext(ctx, schoolID)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx, schoolId: schoolID})
	})
}

func (s *Store) ListSchoolIDs(ctx context.Context) ([]string, error) {
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.FeeAccount{}).Distinct().Order("school_id").Pluck("school_id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "list schools")
	}
	return ids, nil
}

type gormTx struct {
	db       *gorm.DB
	schoolId string
}

func (t *gormTx) scoped() *gorm.DB {
	return t.db.Where("school_id = ?", t.schoolId)
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if stdErrors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func notFound(err error, what, id string) error {
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrapf(models.ErrNotFound, "%s %s", what, id)
	}
	return errors.Wrapf(err, "get %s %s", what, id)
}

func (t *gormTx) GetFeeAccount(id string, forUpdate bool) (*models.FeeAccount, error) {
	q := t.scoped()
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var acc models.FeeAccount
	if err := q.Where("id = ?", id).First(&acc).Error; err != nil {
		return nil, notFound(err, "fee account", id)
	}
	return &acc, nil
}

func (t *gormTx) FindFeeAccount(studentId, academicYear string) (*models.FeeAccount, error) {
	var acc models.FeeAccount
	err := t.scoped().Where("student_id = ? AND academic_year = ?", studentId, academicYear).First(&acc).Error
	if err != nil {
		return nil, notFound(err, "fee account for student", studentId+"/"+academicYear)
	}
	return &acc, nil
}

func (t *gormTx) ListFeeAccountIDs() ([]string, error) {
	var ids []string
	if err := t.scoped().Model(&models.FeeAccount{}).Order("created_at, id").Pluck("id", &ids).Error; err != nil {
		return nil, errors.Wrap(err, "list fee accounts")
	}
	return ids, nil
}

func (t *gormTx) CreateFeeAccount(acc *models.FeeAccount) error {
	acc.SchoolId = t.schoolId
	if err := t.db.Create(acc).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return errors.Wrapf(models.ErrDuplicateAccount, "student %s, %s", acc.StudentId, acc.AcademicYear)
		}
		return errors.Wrap(err, "create fee account")
	}
	return nil
}

func (t *gormTx) UpdateFeeAccount(acc *models.FeeAccount, expectedVersion int64) error {
	res := t.scoped().Model(&models.FeeAccount{}).
		Where("id = ? AND version = ?", acc.ID, expectedVersion).
		Updates(map[string]interface{}{
			"discount_amount": acc.DiscountAmount,
			"net_fee":         acc.NetFee,
			"paid_amount":     acc.PaidAmount,
			"pending_amount":  acc.PendingAmount,
			"status":          acc.Status,
			"is_overpaid":     acc.IsOverpaid,
			"version":         expectedVersion + 1,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "update fee account")
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(models.ErrConcurrencyConflict, "fee account %s at version %d", acc.ID, expectedVersion)
	}
	acc.Version = expectedVersion + 1
	return nil
}

func (t *gormTx) ListInstallments(studentId, academicYear string) ([]models.Installment, error) {
	var items []models.Installment
	err := t.scoped().Where("student_id = ? AND academic_year = ?", studentId, academicYear).
		Order("due_date, sequence_number").Find(&items).Error
	if err != nil {
		return nil, errors.Wrap(err, "list installments")
	}
	return items, nil
}

func (t *gormTx) GetInstallment(id string) (*models.Installment, error) {
	var inst models.Installment
	if err := t.scoped().Where("id = ?", id).First(&inst).Error; err != nil {
		return nil, notFound(err, "installment", id)
	}
	return &inst, nil
}

func (t *gormTx) CreateInstallments(items []models.Installment) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].SchoolId = t.schoolId
	}
	if err := t.db.Create(&items).Error; err != nil {
		return errors.Wrap(err, "create installments")
	}
	return nil
}

func (t *gormTx) UpdateInstallment(inst *models.Installment) error {
	res := t.scoped().Model(&models.Installment{}).Where("id = ?", inst.ID).
		Updates(map[string]interface{}{
			"paid_amount":    inst.PaidAmount,
			"pending_amount": inst.PendingAmount,
			"status":         inst.Status,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "update installment")
	}
	if res.RowsAffected == 0 {
		// MySQL reports 0 when the values did not change; only a missing row is an error.
		var count int64
		if err := t.scoped().Model(&models.Installment{}).Where("id = ?", inst.ID).Count(&count).Error; err != nil {
			return errors.Wrap(err, "update installment")
		}
		if count == 0 {
			return errors.Wrapf(models.ErrNotFound, "installment %s", inst.ID)
		}
	}
	return nil
}

func (t *gormTx) CreatePaymentEntry(entry *models.PaymentEntry) error {
	entry.SchoolId = t.schoolId
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := t.db.Create(entry).Error; err != nil {
		return errors.Wrap(err, "create payment entry")
	}
	return nil
}

func (t *gormTx) GetPaymentEntry(id string) (*models.PaymentEntry, error) {
	var entry models.PaymentEntry
	if err := t.scoped().Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, notFound(err, "payment entry", id)
	}
	return &entry, nil
}

func (t *gormTx) ListPaymentEntries(filter store.PaymentFilter) ([]models.PaymentEntry, error) {
	q := t.scoped()
	if filter.FeeAccountId != "" {
		q = q.Where("fee_account_id = ?", filter.FeeAccountId)
	}
	if filter.InstallmentId != "" {
		q = q.Where("installment_id = ?", filter.InstallmentId)
	}
	if filter.OnlyOrphans {
		q = q.Where("installment_id IS NULL")
	}
	var entries []models.PaymentEntry
	if err := q.Order("created_at, id").Find(&entries).Error; err != nil {
		return nil, errors.Wrap(err, "list payment entries")
	}
	return entries, nil
}

func (t *gormTx) LinkPaymentEntry(entryId, installmentId string) error {
	res := t.scoped().Model(&models.PaymentEntry{}).
		Where("id = ? AND installment_id IS NULL", entryId).
		Update("installment_id", installmentId)
	if res.Error != nil {
		return errors.Wrap(res.Error, "link payment entry")
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(models.ErrConcurrencyConflict, "payment entry %s is no longer unlinked", entryId)
	}
	return nil
}

func (t *gormTx) CreateDiscountRecord(d *models.DiscountRecord) error {
	d.SchoolId = t.schoolId
	if err := t.db.Create(d).Error; err != nil {
		return errors.Wrap(err, "create discount record")
	}
	return nil
}

func (t *gormTx) GetDiscountRecord(id string, forUpdate bool) (*models.DiscountRecord, error) {
	q := t.scoped()
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var d models.DiscountRecord
	if err := q.Where("id = ?", id).First(&d).Error; err != nil {
		return nil, notFound(err, "discount", id)
	}
	return &d, nil
}

func (t *gormTx) UpdateDiscountRecord(d *models.DiscountRecord) error {
	err := t.scoped().Model(&models.DiscountRecord{}).Where("id = ?", d.ID).
		Updates(map[string]interface{}{
			"status":      d.Status,
			"reviewed_by": d.ReviewedBy,
			"reviewed_at": d.ReviewedAt,
		}).Error
	return errors.Wrap(err, "update discount record")
}

func (t *gormTx) ListDiscountRecords(feeAccountId string) ([]models.DiscountRecord, error) {
	var items []models.DiscountRecord
	if err := t.scoped().Where("fee_account_id = ?", feeAccountId).Order("created_at DESC").Find(&items).Error; err != nil {
		return nil, errors.Wrap(err, "list discount records")
	}
	return items, nil
}

func (t *gormTx) CreateReconciliationReports(items []models.ReconciliationReport) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].SchoolId = t.schoolId
	}
	// Findings already on record are kept as they are.
	err := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&items).Error
	return errors.Wrap(err, "create reconciliation reports")
}

func (t *gormTx) AppendEvent(event *models.FeeEventRecord) error {
	event.SchoolId = t.schoolId
	if event.PublishStatus == "" {
		event.PublishStatus = models.OutboxPublishStatusPending
	}
	return errors.Wrap(t.db.Create(event).Error, "append fee event")
}

// BeginIdempotency inserts STARTED. If SUCCEEDED exists, the stored result is replayed.
func (t *gormTx) BeginIdempotency(handler, key string) (string, bool, error) {
	row := models.IdempotencyKey{
		SchoolId:    t.schoolId,
		HandlerName: handler,
		RequestKey:  key,
		Status:      models.IdempotencyStatusStarted,
	}
	if err := t.db.Create(&row).Error; err == nil {
		return "", false, nil
	} else if !isDuplicateKeyErr(err) {
		return "", false, errors.Wrap(err, "begin idempotency")
	}

	var existing models.IdempotencyKey
	if err := t.scoped().Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("handler_name = ? AND request_key = ?", handler, key).
		First(&existing).Error; err != nil {
		return "", false, errors.Wrap(err, "load idempotency key")
	}
	if existing.Status == models.IdempotencyStatusSucceeded && existing.ResultId != nil {
		return *existing.ResultId, true, nil
	}
	// A STARTED or FAILED row left behind by a rolled back attempt is reclaimed.
	err := t.scoped().Model(&models.IdempotencyKey{}).Where("id = ?", existing.ID).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusStarted, "last_error": nil}).Error
	return "", false, errors.Wrap(err, "reclaim idempotency key")
}

func (t *gormTx) CompleteIdempotency(handler, key, resultId string) error {
	err := t.scoped().Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND request_key = ?", handler, key).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusSucceeded, "result_id": resultId, "last_error": nil}).Error
	return errors.Wrap(err, "complete idempotency")
}
