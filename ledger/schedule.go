package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/fees_backend/models"
	"github.com/mmdatafocus/fees_backend/store"
)

// GenerateSchedule splits the account's net fee into installments. An
// account gets one schedule; re-planning is not supported.
func (l *FeeLedger) GenerateSchedule(ctx context.Context, schoolId, accountId string, splits []models.ScheduleSplit) (result []models.Installment, err error) {
	ctx, span := l.startSpan(ctx, "GenerateSchedule", schoolId)
	defer func() { l.endSpan(span, err) }()

	today := l.Today()
	err = l.withAccount(ctx, "GenerateSchedule", schoolId, accountId, func(tx store.Tx, acc *models.FeeAccount) error {
		existing, err := tx.ListInstallments(acc.StudentId, acc.AcademicYear)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: %d installments", models.ErrScheduleExists, len(existing))
		}
		items, err := models.GenerateSchedule(*acc, splits, today)
		if err != nil {
			return err
		}
		if err := tx.CreateInstallments(items); err != nil {
			return err
		}
		result = items
		return l.appendEvent(ctx, tx, schoolId, acc.ID, models.EventScheduleGenerated, items)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListInstallments returns the schedule with statuses derived against today,
// so an installment that fell due since its last write reads as overdue.
func (l *FeeLedger) ListInstallments(ctx context.Context, schoolId, accountId string) ([]models.Installment, error) {
	today := l.Today()
	var items []models.Installment
	err := l.store.WithinTx(ctx, schoolId, func(tx store.Tx) error {
		acc, err := tx.GetFeeAccount(accountId, false)
		if err != nil {
			return err
		}
		items, err = tx.ListInstallments(acc.StudentId, acc.AcademicYear)
		return err
	})
	if err != nil {
		return nil, err
	}
	return refreshInstallments(items, today), nil
}

func refreshInstallments(items []models.Installment, today time.Time) []models.Installment {
	for i := range items {
		items[i].Refresh(today)
	}
	return items
}
