// Package memstore is an in-memory store.Store. Transactions are serialized
// and work on a copy of the data that replaces the committed state only
// when the callback succeeds.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mmdatafocus/fees_backend/models"
	"github.com/mmdatafocus/fees_backend/store"
	"github.com/pkg/errors"
)

type data struct {
	accounts     map[string]models.FeeAccount
	installments map[string]models.Installment
	entries      map[string]models.PaymentEntry
	discounts    map[string]models.DiscountRecord
	reports      []models.ReconciliationReport
	events       []models.FeeEventRecord
	idempotency  map[string]models.IdempotencyKey
	nextId       int
}

func newData() *data {
	return &data{
		accounts:     map[string]models.FeeAccount{},
		installments: map[string]models.Installment{},
		entries:      map[string]models.PaymentEntry{},
		discounts:    map[string]models.DiscountRecord{},
		idempotency:  map[string]models.IdempotencyKey{},
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.installments {
		c.installments[k] = v
	}
	for k, v := range d.entries {
		c.entries[k] = v
	}
	for k, v := range d.discounts {
		c.discounts[k] = v
	}
	for k, v := range d.idempotency {
		c.idempotency[k] = v
	}
	c.reports = append([]models.ReconciliationReport(nil), d.reports...)
	c.events = append([]models.FeeEventRecord(nil), d.events...)
	c.nextId = d.nextId
	return c
}

type Store struct {
	mu        sync.Mutex
	committed *data
	conflicts int
	now       func() time.Time
}

func New() *Store {
	return &Store{committed: newData(), now: func() time.Time { return time.Now().UTC() }}
}

// InjectConflicts makes the next n UpdateFeeAccount calls fail as if another
// writer had bumped the version first.
func (s *Store) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

func (s *Store) WithinTx(ctx context.Context, schoolID string, fn func(store.Tx) error) error {
	if schoolID == "" {
		return errors.Wrap(models.ErrMissingField, "school id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.committed.clone()
	tx := &memTx{store: s, data: work, schoolId: schoolID}
	if err := fn(tx); err != nil {
		return err
	}
	s.committed = work
	return nil
}

func (s *Store) ListSchoolIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var ids []string
	for _, acc := range s.committed.accounts {
		if !seen[acc.SchoolId] {
			seen[acc.SchoolId] = true
			ids = append(ids, acc.SchoolId)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Events returns the committed outbox rows.
func (s *Store) Events() []models.FeeEventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.FeeEventRecord(nil), s.committed.events...)
}

// Reports returns the committed reconciliation findings.
func (s *Store) Reports() []models.ReconciliationReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ReconciliationReport(nil), s.committed.reports...)
}

// PutInstallment and PutPaymentEntry seed rows as they would exist after a
// legacy data import. They bypass every ledger rule.
func (s *Store) PutInstallment(inst models.Installment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.installments[inst.ID] = inst
}

func (s *Store) PutPaymentEntry(e models.PaymentEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.entries[e.ID] = e
}

func (s *Store) PutFeeAccount(acc models.FeeAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.accounts[acc.ID] = acc
}

type memTx struct {
	store    *Store
	data     *data
	schoolId string
}

func (t *memTx) GetFeeAccount(id string, forUpdate bool) (*models.FeeAccount, error) {
	acc, ok := t.data.accounts[id]
	if !ok || acc.SchoolId != t.schoolId {
		return nil, errors.Wrapf(models.ErrNotFound, "fee account %s", id)
	}
	return &acc, nil
}

func (t *memTx) FindFeeAccount(studentId, academicYear string) (*models.FeeAccount, error) {
	for _, acc := range t.data.accounts {
		if acc.SchoolId == t.schoolId && acc.StudentId == studentId && acc.AcademicYear == academicYear {
			return &acc, nil
		}
	}
	return nil, errors.Wrapf(models.ErrNotFound, "fee account for student %s/%s", studentId, academicYear)
}

func (t *memTx) ListFeeAccountIDs() ([]string, error) {
	var accounts []models.FeeAccount
	for _, acc := range t.data.accounts {
		if acc.SchoolId == t.schoolId {
			accounts = append(accounts, acc)
		}
	}
	sort.Slice(accounts, func(i, j int) bool {
		if !accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
		}
		return accounts[i].ID < accounts[j].ID
	})
	ids := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		ids = append(ids, acc.ID)
	}
	return ids, nil
}

func (t *memTx) CreateFeeAccount(acc *models.FeeAccount) error {
	acc.SchoolId = t.schoolId
	if _, err := t.FindFeeAccount(acc.StudentId, acc.AcademicYear); err == nil {
		return errors.Wrapf(models.ErrDuplicateAccount, "student %s, %s", acc.StudentId, acc.AcademicYear)
	}
	now := t.store.now()
	acc.CreatedAt, acc.UpdatedAt = now, now
	t.data.accounts[acc.ID] = *acc
	return nil
}

func (t *memTx) UpdateFeeAccount(acc *models.FeeAccount, expectedVersion int64) error {
	stored, ok := t.data.accounts[acc.ID]
	if !ok || stored.SchoolId != t.schoolId {
		return errors.Wrapf(models.ErrNotFound, "fee account %s", acc.ID)
	}
	if t.store.conflicts > 0 {
		t.store.conflicts--
		return errors.Wrapf(models.ErrConcurrencyConflict, "fee account %s at version %d", acc.ID, expectedVersion)
	}
	if stored.Version != expectedVersion {
		return errors.Wrapf(models.ErrConcurrencyConflict, "fee account %s at version %d", acc.ID, expectedVersion)
	}
	stored.DiscountAmount = acc.DiscountAmount
	stored.NetFee = acc.NetFee
	stored.PaidAmount = acc.PaidAmount
	stored.PendingAmount = acc.PendingAmount
	stored.Status = acc.Status
	stored.IsOverpaid = acc.IsOverpaid
	stored.Version = expectedVersion + 1
	stored.UpdatedAt = t.store.now()
	t.data.accounts[acc.ID] = stored
	acc.Version = stored.Version
	return nil
}

func (t *memTx) ListInstallments(studentId, academicYear string) ([]models.Installment, error) {
	var items []models.Installment
	for _, inst := range t.data.installments {
		if inst.SchoolId == t.schoolId && inst.StudentId == studentId && inst.AcademicYear == academicYear {
			items = append(items, inst)
		}
	}
	models.SortInstallments(items)
	return items, nil
}

func (t *memTx) GetInstallment(id string) (*models.Installment, error) {
	inst, ok := t.data.installments[id]
	if !ok || inst.SchoolId != t.schoolId {
		return nil, errors.Wrapf(models.ErrNotFound, "installment %s", id)
	}
	return &inst, nil
}

func (t *memTx) CreateInstallments(items []models.Installment) error {
	now := t.store.now()
	for i := range items {
		items[i].SchoolId = t.schoolId
		items[i].CreatedAt, items[i].UpdatedAt = now, now
		t.data.installments[items[i].ID] = items[i]
	}
	return nil
}

func (t *memTx) UpdateInstallment(inst *models.Installment) error {
	stored, ok := t.data.installments[inst.ID]
	if !ok || stored.SchoolId != t.schoolId {
		return errors.Wrapf(models.ErrNotFound, "installment %s", inst.ID)
	}
	stored.PaidAmount = inst.PaidAmount
	stored.PendingAmount = inst.PendingAmount
	stored.Status = inst.Status
	stored.UpdatedAt = t.store.now()
	t.data.installments[inst.ID] = stored
	return nil
}

func (t *memTx) CreatePaymentEntry(entry *models.PaymentEntry) error {
	entry.SchoolId = t.schoolId
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = t.store.now()
	}
	t.data.entries[entry.ID] = *entry
	return nil
}

func (t *memTx) GetPaymentEntry(id string) (*models.PaymentEntry, error) {
	e, ok := t.data.entries[id]
	if !ok || e.SchoolId != t.schoolId {
		return nil, errors.Wrapf(models.ErrNotFound, "payment entry %s", id)
	}
	return &e, nil
}

func (t *memTx) ListPaymentEntries(filter store.PaymentFilter) ([]models.PaymentEntry, error) {
	var out []models.PaymentEntry
	for _, e := range t.data.entries {
		if e.SchoolId != t.schoolId {
			continue
		}
		if filter.FeeAccountId != "" && e.FeeAccountId != filter.FeeAccountId {
			continue
		}
		if filter.InstallmentId != "" && (e.InstallmentId == nil || *e.InstallmentId != filter.InstallmentId) {
			continue
		}
		if filter.OnlyOrphans && e.InstallmentId != nil {
			continue
		}
		out = append(out, e)
	}
	models.SortForLedger(out)
	return out, nil
}

func (t *memTx) LinkPaymentEntry(entryId, installmentId string) error {
	e, ok := t.data.entries[entryId]
	if !ok || e.SchoolId != t.schoolId {
		return errors.Wrapf(models.ErrNotFound, "payment entry %s", entryId)
	}
	if e.InstallmentId != nil {
		return errors.Wrapf(models.ErrConcurrencyConflict, "payment entry %s is no longer unlinked", entryId)
	}
	id := installmentId
	e.InstallmentId = &id
	t.data.entries[entryId] = e
	return nil
}

func (t *memTx) CreateDiscountRecord(d *models.DiscountRecord) error {
	d.SchoolId = t.schoolId
	now := t.store.now()
	d.CreatedAt, d.UpdatedAt = now, now
	t.data.discounts[d.ID] = *d
	return nil
}

func (t *memTx) GetDiscountRecord(id string, forUpdate bool) (*models.DiscountRecord, error) {
	d, ok := t.data.discounts[id]
	if !ok || d.SchoolId != t.schoolId {
		return nil, errors.Wrapf(models.ErrNotFound, "discount %s", id)
	}
	return &d, nil
}

func (t *memTx) UpdateDiscountRecord(d *models.DiscountRecord) error {
	stored, ok := t.data.discounts[d.ID]
	if !ok || stored.SchoolId != t.schoolId {
		return errors.Wrapf(models.ErrNotFound, "discount %s", d.ID)
	}
	stored.Status = d.Status
	stored.ReviewedBy = d.ReviewedBy
	stored.ReviewedAt = d.ReviewedAt
	stored.UpdatedAt = t.store.now()
	t.data.discounts[d.ID] = stored
	return nil
}

func (t *memTx) ListDiscountRecords(feeAccountId string) ([]models.DiscountRecord, error) {
	var out []models.DiscountRecord
	for _, d := range t.data.discounts {
		if d.SchoolId == t.schoolId && d.FeeAccountId == feeAccountId {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) CreateReconciliationReports(items []models.ReconciliationReport) error {
	now := t.store.now()
	for i := range items {
		items[i].SchoolId = t.schoolId
		if t.hasReport(items[i]) {
			continue
		}
		t.data.nextId++
		items[i].ID = t.data.nextId
		items[i].CreatedAt = now
		t.data.reports = append(t.data.reports, items[i])
	}
	return nil
}

func (t *memTx) hasReport(r models.ReconciliationReport) bool {
	for _, existing := range t.data.reports {
		if existing.SchoolId == r.SchoolId && existing.CheckType == r.CheckType && existing.EntityId == r.EntityId {
			return true
		}
	}
	return false
}

func (t *memTx) AppendEvent(event *models.FeeEventRecord) error {
	t.data.nextId++
	event.ID = t.data.nextId
	event.SchoolId = t.schoolId
	if event.PublishStatus == "" {
		event.PublishStatus = models.OutboxPublishStatusPending
	}
	now := t.store.now()
	event.CreatedAt, event.UpdatedAt = now, now
	t.data.events = append(t.data.events, *event)
	return nil
}

func idemKey(schoolId, handler, key string) string {
	return schoolId + "\x00" + handler + "\x00" + key
}

func (t *memTx) BeginIdempotency(handler, key string) (string, bool, error) {
	k := idemKey(t.schoolId, handler, key)
	if existing, ok := t.data.idempotency[k]; ok && existing.Status == models.IdempotencyStatusSucceeded && existing.ResultId != nil {
		return *existing.ResultId, true, nil
	}
	t.data.idempotency[k] = models.IdempotencyKey{
		SchoolId:    t.schoolId,
		HandlerName: handler,
		RequestKey:  key,
		Status:      models.IdempotencyStatusStarted,
	}
	return "", false, nil
}

func (t *memTx) CompleteIdempotency(handler, key, resultId string) error {
	k := idemKey(t.schoolId, handler, key)
	row := t.data.idempotency[k]
	row.Status = models.IdempotencyStatusSucceeded
	row.ResultId = &resultId
	t.data.idempotency[k] = row
	return nil
}
