package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/fees_backend/config"
	"github.com/mmdatafocus/fees_backend/lock"
	"github.com/mmdatafocus/fees_backend/models"
	"github.com/mmdatafocus/fees_backend/money"
	"github.com/mmdatafocus/fees_backend/store"
	"github.com/mmdatafocus/fees_backend/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const moduleName = "reconcile/sweeper.go"

// errDryRun rolls back a dry run after the full computation.
var errDryRun = errors.New("dry run")

type Options struct {
	DryRun bool
	// SynthesizeLegacy backfills entries for installments marked paid
	// without ledger entries before orphans are linked.
	SynthesizeLegacy bool
}

// AccountResult describes what one reconciliation found and, unless it was
// a dry run, repaired.
type AccountResult struct {
	SchoolId            string                        `json:"school_id"`
	FeeAccountId        string                        `json:"fee_account_id"`
	PaidDrift           money.Money                   `json:"paid_drift"`
	Synthesized         []models.PaymentEntry         `json:"synthesized,omitempty"`
	Linked              []Link                        `json:"linked,omitempty"`
	Unresolved          []string                      `json:"unresolved,omitempty"`
	Findings            []models.ReconciliationReport `json:"findings,omitempty"`
	AccountUpdated      bool                          `json:"account_updated"`
	InstallmentsUpdated int                           `json:"installments_updated"`
	DryRun              bool                          `json:"dry_run"`
}

// Changed reports whether the run wrote (or in a dry run, would write)
// anything besides findings.
func (r AccountResult) Changed() bool {
	return len(r.Synthesized) > 0 || len(r.Linked) > 0 || r.AccountUpdated || r.InstallmentsUpdated > 0
}

type AccountFailure struct {
	FeeAccountId string `json:"fee_account_id"`
	Error        string `json:"error"`
}

type SweepReport struct {
	SchoolId   string           `json:"school_id"`
	DryRun     bool             `json:"dry_run"`
	Accounts   int              `json:"accounts"`
	Changed    int              `json:"changed"`
	Unresolved int              `json:"unresolved"`
	Results    []AccountResult  `json:"results"`
	Failures   []AccountFailure `json:"failures,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

type SweeperOptions struct {
	Concurrency int
	MaxRetries  int
	Location    *time.Location
	Now         func() time.Time
}

// Sweeper reconciles accounts under the same per-account lock the ledger
// takes, so a sweep never interleaves with a live payment.
type Sweeper struct {
	store       store.Store
	locker      lock.AccountLocker
	logger      *logrus.Logger
	concurrency int
	maxRetries  int
	location    *time.Location
	now         func() time.Time
}

func NewSweeper(s store.Store, locker lock.AccountLocker, logger *logrus.Logger, opts SweeperOptions) *Sweeper {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sweeper{
		store:       s,
		locker:      locker,
		logger:      logger,
		concurrency: opts.Concurrency,
		maxRetries:  opts.MaxRetries,
		location:    opts.Location,
		now:         opts.Now,
	}
}

// ReconcileAccount checks one account against its ledger and repairs it in a
// single transaction. Running it again on a reconciled account writes
// nothing.
func (s *Sweeper) ReconcileAccount(ctx context.Context, schoolId, accountId string, opts Options) (*AccountResult, error) {
	if _, ok := utils.GetCorrelationIdFromContext(ctx); !ok {
		ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())
	}
	var (
		result *AccountResult
		err    error
	)
	for attempt := 1; ; attempt++ {
		result, err = s.attempt(ctx, schoolId, accountId, opts)
		if err == nil || !models.IsRetryable(err) || attempt >= s.maxRetries || ctx.Err() != nil {
			break
		}
		time.Sleep(time.Duration(attempt*25) * time.Millisecond)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Sweeper) attempt(ctx context.Context, schoolId, accountId string, opts Options) (*AccountResult, error) {
	release, err := s.locker.Lock(ctx, schoolId, accountId)
	if err != nil {
		return nil, err
	}
	defer release()

	var result *AccountResult
	err = s.store.WithinTx(ctx, schoolId, func(tx store.Tx) error {
		r, err := s.reconcile(ctx, tx, schoolId, accountId, opts)
		if err != nil {
			return err
		}
		result = r
		if opts.DryRun {
			return errDryRun
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDryRun) {
		return nil, err
	}
	return result, nil
}

func (s *Sweeper) reconcile(ctx context.Context, tx store.Tx, schoolId, accountId string, opts Options) (*AccountResult, error) {
	acc, err := tx.GetFeeAccount(accountId, true)
	if err != nil {
		return nil, err
	}
	entries, err := tx.ListPaymentEntries(store.PaymentFilter{FeeAccountId: acc.ID})
	if err != nil {
		return nil, err
	}
	installments, err := tx.ListInstallments(acc.StudentId, acc.AcademicYear)
	if err != nil {
		return nil, err
	}
	models.SortInstallments(installments)

	now := s.now().UTC()
	today := s.now().In(s.location)
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	result := &AccountResult{SchoolId: schoolId, FeeAccountId: acc.ID, DryRun: opts.DryRun}
	finding := func(check models.ReconciliationCheckType, entityType, entityId, details string) {
		result.Findings = append(result.Findings, models.ReconciliationReport{
			SchoolId:      schoolId,
			FeeAccountId:  acc.ID,
			CheckType:     check,
			EntityType:    entityType,
			EntityId:      entityId,
			Details:       details,
			CorrelationId: correlationId,
		})
	}

	if drift := DetectDrift(*acc, entries); !drift.IsZero() {
		result.PaidDrift = drift
		finding(models.CheckTypePaidDrift, models.EntityTypeFeeAccount, acc.ID,
			fmt.Sprintf("stored paid %s, ledger sum %s", acc.PaidAmount, acc.PaidAmount.Diff(drift)))
	}
	// Without synthesis, an installment whose stored paid amount has no
	// entries behind it keeps its stored figures until a backfill run.
	held := map[string]bool{}
	for _, inst := range installments {
		drift := DetectInstallmentDrift(inst, entries)
		if drift.IsZero() {
			continue
		}
		details := fmt.Sprintf("installment %d stored paid %s, linked entries %s", inst.SequenceNumber, inst.PaidAmount, inst.PaidAmount.Diff(drift))
		if !opts.SynthesizeLegacy && isLegacyPaid(inst, entries) {
			held[inst.ID] = true
			details += "; kept as stored, needs manual review or a legacy backfill"
		}
		finding(models.CheckTypeInstallmentDrift, models.EntityTypeInstallment, inst.ID, details)
	}

	if opts.SynthesizeLegacy {
		for _, e := range SynthesizeMissingEntries(*acc, installments, entries, now) {
			if err := tx.CreatePaymentEntry(&e); err != nil {
				return nil, err
			}
			entries = append(entries, e)
			result.Synthesized = append(result.Synthesized, e)
			finding(models.CheckTypeSynthesizedEntry, models.EntityTypePaymentEntry, e.ID,
				fmt.Sprintf("backfilled %s for installment %s", e.Amount, *e.InstallmentId))
		}
	}

	// Orphans are placed against the schedule as the linked entries leave it.
	current := make([]models.Installment, 0, len(installments))
	var orphans []models.PaymentEntry
	for _, inst := range installments {
		if held[inst.ID] {
			inst.PendingAmount = inst.Amount.SubFloor(inst.PaidAmount)
			current = append(current, inst)
			continue
		}
		current = append(current, models.RecomputeInstallment(inst, entries, today))
	}
	for _, e := range entries {
		if e.IsOrphan() {
			orphans = append(orphans, e)
		}
	}
	plan := ReconcileOrphans(current, orphans)
	for _, link := range plan.Links {
		if err := tx.LinkPaymentEntry(link.EntryId, link.InstallmentId); err != nil {
			return nil, err
		}
		for i := range entries {
			if entries[i].ID == link.EntryId {
				installmentId := link.InstallmentId
				entries[i].InstallmentId = &installmentId
			}
		}
		result.Linked = append(result.Linked, link)
		finding(models.CheckTypeLinkedPayment, models.EntityTypePaymentEntry, link.EntryId,
			fmt.Sprintf("linked %s to installment %s", link.Amount, link.InstallmentId))
		if err := s.appendEvent(tx, schoolId, acc.ID, models.EventOrphanPaymentLinked, correlationId, link); err != nil {
			return nil, err
		}
	}
	for _, e := range plan.Unresolved {
		result.Unresolved = append(result.Unresolved, e.ID)
		finding(models.CheckTypeUnlinkedPayment, models.EntityTypePaymentEntry, e.ID,
			fmt.Sprintf("no installment has %s pending; needs manual review", e.Amount))
	}

	updated := models.RecomputeFromLedger(*acc, entries)
	if !updated.SameBalance(*acc) {
		if err := tx.UpdateFeeAccount(&updated, acc.Version); err != nil {
			return nil, err
		}
		result.AccountUpdated = true
	}
	var scheduled money.Money
	for _, inst := range installments {
		scheduled = scheduled.Add(inst.Amount)
		if held[inst.ID] {
			continue
		}
		recomputed := models.RecomputeInstallment(inst, entries, today)
		if recomputed.PaidAmount == inst.PaidAmount && recomputed.PendingAmount == inst.PendingAmount && recomputed.Status == inst.Status {
			continue
		}
		if err := tx.UpdateInstallment(&recomputed); err != nil {
			return nil, err
		}
		result.InstallmentsUpdated++
	}
	if len(installments) > 0 && scheduled != updated.NetFee {
		finding(models.CheckTypeScheduleMismatch, models.EntityTypeFeeAccount, acc.ID,
			fmt.Sprintf("installments add up to %s, net fee is %s", scheduled, updated.NetFee))
	}

	if len(result.Findings) > 0 {
		reports := make([]models.ReconciliationReport, len(result.Findings))
		copy(reports, result.Findings)
		if err := tx.CreateReconciliationReports(reports); err != nil {
			return nil, err
		}
	}
	if result.Changed() {
		if err := s.appendEvent(tx, schoolId, acc.ID, models.EventAccountReconciled, correlationId, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// isLegacyPaid reports an installment that records a paid amount with no
// entry linked to it.
func isLegacyPaid(inst models.Installment, entries []models.PaymentEntry) bool {
	return inst.PaidAmount.IsPositive() && len(models.EntriesForInstallment(entries, inst.ID)) == 0
}

func (s *Sweeper) appendEvent(tx store.Tx, schoolId, aggregateId, eventType, correlationId string, payload interface{}) error {
	record, err := models.NewFeeEventRecord(schoolId, aggregateId, eventType, correlationId, payload)
	if err != nil {
		return err
	}
	return tx.AppendEvent(record)
}

// SweepSchool reconciles every account of the school, several at a time. A
// failing account is recorded in the report and does not stop the others.
func (s *Sweeper) SweepSchool(ctx context.Context, schoolId string, opts Options) (*SweepReport, error) {
	if _, ok := utils.GetCorrelationIdFromContext(ctx); !ok {
		ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())
	}
	report := &SweepReport{SchoolId: schoolId, DryRun: opts.DryRun, StartedAt: s.now().UTC()}

	var ids []string
	err := s.store.WithinTx(ctx, schoolId, func(tx store.Tx) error {
		var err error
		ids, err = tx.ListFeeAccountIDs()
		return err
	})
	if err != nil {
		return nil, err
	}
	report.Accounts = len(ids)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		id := id
		g.Go(func() error {
			res, err := s.ReconcileAccount(gctx, schoolId, id, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				config.LogError(s.logger, moduleName, "SweepSchool", "account "+id, schoolId, err)
				report.Failures = append(report.Failures, AccountFailure{FeeAccountId: id, Error: err.Error()})
				return nil
			}
			if res.Changed() {
				report.Changed++
			}
			report.Unresolved += len(res.Unresolved)
			if res.Changed() || len(res.Findings) > 0 {
				report.Results = append(report.Results, *res)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Results, func(i, j int) bool { return report.Results[i].FeeAccountId < report.Results[j].FeeAccountId })
	sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].FeeAccountId < report.Failures[j].FeeAccountId })
	report.FinishedAt = s.now().UTC()

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	s.logger.WithFields(logrus.Fields{
		"field":          "Sweeper",
		"school_id":      schoolId,
		"accounts":       report.Accounts,
		"changed":        report.Changed,
		"unresolved":     report.Unresolved,
		"failed":         len(report.Failures),
		"dry_run":        opts.DryRun,
		"correlation_id": correlationId,
	}).Info("reconciliation sweep completed")

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// SweepAll sweeps the given schools, or every school with an account when
// none are given.
func (s *Sweeper) SweepAll(ctx context.Context, schoolIds []string, opts Options) ([]*SweepReport, error) {
	if len(schoolIds) == 0 {
		var err error
		schoolIds, err = s.store.ListSchoolIDs(ctx)
		if err != nil {
			return nil, err
		}
	}
	reports := make([]*SweepReport, 0, len(schoolIds))
	for _, schoolId := range schoolIds {
		report, err := s.SweepSchool(ctx, schoolId, opts)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}
