// Package ledger is the fee ledger service: fee accounts, installment
// schedules, the payment ledger and discounts. Every mutation runs as one
// transaction under the account lock and keeps the stored aggregates equal
// to what the ledger entries add up to.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/fees_backend/config"
	"github.com/mmdatafocus/fees_backend/lock"
	"github.com/mmdatafocus/fees_backend/models"
	"github.com/mmdatafocus/fees_backend/store"
	"github.com/mmdatafocus/fees_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const moduleName = "ledger"

type Options struct {
	// MaxRetries bounds attempts on models.ErrConcurrencyConflict. Defaults to 3.
	MaxRetries int
	// Location is the school timezone used to decide which installments are overdue.
	Location *time.Location
	Now      func() time.Time
}

type FeeLedger struct {
	store      store.Store
	locker     lock.AccountLocker
	logger     *logrus.Logger
	tracer     trace.Tracer
	maxRetries int
	location   *time.Location
	now        func() time.Time
}

func New(s store.Store, locker lock.AccountLocker, logger *logrus.Logger, opts Options) *FeeLedger {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	return &FeeLedger{
		store:      s,
		locker:     locker,
		logger:     logger,
		tracer:     otel.Tracer("github.com/mmdatafocus/fees_backend/ledger"),
		maxRetries: opts.MaxRetries,
		location:   opts.Location,
		now:        opts.Now,
	}
}

// Today is the current calendar date in the school timezone.
func (l *FeeLedger) Today() time.Time {
	return models.DateOnly(l.now().In(l.location))
}

func (l *FeeLedger) startSpan(ctx context.Context, name, schoolId string) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, "ledger."+name, trace.WithAttributes(attribute.String("school_id", schoolId)))
}

func (l *FeeLedger) endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// withAccount locks the account, loads it FOR UPDATE inside a transaction
// and runs fn. Lost updates are retried from fresh state.
func (l *FeeLedger) withAccount(ctx context.Context, op, schoolId, accountId string, fn func(tx store.Tx, acc *models.FeeAccount) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = l.attemptWithAccount(ctx, schoolId, accountId, fn)
		if err == nil || !models.IsRetryable(err) || attempt >= l.maxRetries || ctx.Err() != nil {
			break
		}
		l.logger.WithFields(logrus.Fields{
			"field":          moduleName,
			"op":             op,
			"school_id":      schoolId,
			"fee_account_id": accountId,
			"attempt":        attempt,
			"correlation_id": correlationId(ctx),
		}).Warn("retrying after concurrent update: " + err.Error())
		time.Sleep(time.Duration(attempt*25) * time.Millisecond)
	}
	if err != nil && !models.IsValidationError(err) && !isExpected(err) {
		config.LogError(l.logger, moduleName, op, "account "+accountId, schoolId, err)
	}
	return err
}

func (l *FeeLedger) attemptWithAccount(ctx context.Context, schoolId, accountId string, fn func(tx store.Tx, acc *models.FeeAccount) error) error {
	release, err := l.locker.Lock(ctx, schoolId, accountId)
	if err != nil {
		return err
	}
	defer release()
	return l.store.WithinTx(ctx, schoolId, func(tx store.Tx) error {
		acc, err := tx.GetFeeAccount(accountId, true)
		if err != nil {
			return err
		}
		return fn(tx, acc)
	})
}

func isExpected(err error) bool {
	for _, target := range []error{models.ErrNotFound, models.ErrConcurrencyConflict, models.ErrDuplicateAccount} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func correlationId(ctx context.Context) string {
	id, _ := utils.GetCorrelationIdFromContext(ctx)
	return id
}

func (l *FeeLedger) appendEvent(ctx context.Context, tx store.Tx, schoolId, aggregateId, eventType string, payload interface{}) error {
	record, err := models.NewFeeEventRecord(schoolId, aggregateId, eventType, correlationId(ctx), payload)
	if err != nil {
		return err
	}
	return tx.AppendEvent(record)
}

// persistBalance recomputes acc from the full ledger and writes it with a
// version check. It returns the written account.
func persistBalance(tx store.Tx, acc *models.FeeAccount, entries []models.PaymentEntry) (*models.FeeAccount, error) {
	updated := models.RecomputeFromLedger(*acc, entries)
	if err := tx.UpdateFeeAccount(&updated, acc.Version); err != nil {
		return nil, err
	}
	return &updated, nil
}
