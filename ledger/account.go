package ledger

import (
	"context"

	"github.com/mmdatafocus/fees_backend/models"
	"github.com/mmdatafocus/fees_backend/money"
	"github.com/mmdatafocus/fees_backend/store"
	"github.com/mmdatafocus/fees_backend/utils"
)

// CreateFeeAccount opens the single account of a student for an academic year.
func (l *FeeLedger) CreateFeeAccount(ctx context.Context, input models.NewFeeAccount) (result *models.FeeAccount, err error) {
	ctx, span := l.startSpan(ctx, "CreateFeeAccount", input.SchoolId)
	defer func() { l.endSpan(span, err) }()

	acc, err := models.OpenFeeAccount(input, utils.ActorFromContext(ctx))
	if err != nil {
		return nil, err
	}
	err = l.store.WithinTx(ctx, input.SchoolId, func(tx store.Tx) error {
		if err := tx.CreateFeeAccount(acc); err != nil {
			return err
		}
		return l.appendEvent(ctx, tx, acc.SchoolId, acc.ID, models.EventFeeAccountCreated, acc)
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (l *FeeLedger) GetFeeAccount(ctx context.Context, schoolId, accountId string) (*models.FeeAccount, error) {
	var acc *models.FeeAccount
	err := l.store.WithinTx(ctx, schoolId, func(tx store.Tx) error {
		var err error
		acc, err = tx.GetFeeAccount(accountId, false)
		return err
	})
	return acc, err
}

func (l *FeeLedger) FindFeeAccount(ctx context.Context, schoolId, studentId, academicYear string) (*models.FeeAccount, error) {
	var acc *models.FeeAccount
	err := l.store.WithinTx(ctx, schoolId, func(tx store.Tx) error {
		var err error
		acc, err = tx.FindFeeAccount(studentId, academicYear)
		return err
	})
	return acc, err
}

// AccountSummary is the read model behind the fee screen.
type AccountSummary struct {
	Account      *models.FeeAccount   `json:"account"`
	Installments []models.Installment `json:"installments"`
	OverdueCount int                  `json:"overdue_count"`
	OverdueTotal money.Money          `json:"overdue_total"`
	// ScheduleMismatch is set when the installments no longer add up to the
	// net fee, e.g. after a discount approved once the schedule existed.
	ScheduleMismatch bool `json:"schedule_mismatch"`
}

func (l *FeeLedger) AccountSummary(ctx context.Context, schoolId, accountId string) (*AccountSummary, error) {
	today := l.Today()
	summary := &AccountSummary{}
	err := l.store.WithinTx(ctx, schoolId, func(tx store.Tx) error {
		acc, err := tx.GetFeeAccount(accountId, false)
		if err != nil {
			return err
		}
		items, err := tx.ListInstallments(acc.StudentId, acc.AcademicYear)
		if err != nil {
			return err
		}
		summary.Account = acc
		summary.Installments = refreshInstallments(items, today)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var scheduled, overdue money.Money
	for _, inst := range summary.Installments {
		scheduled = scheduled.Add(inst.Amount)
		if inst.Status == models.InstallmentStatusOverdue {
			summary.OverdueCount++
			overdue = overdue.Add(inst.PendingAmount)
		}
	}
	summary.OverdueTotal = overdue
	summary.ScheduleMismatch = len(summary.Installments) > 0 && scheduled != summary.Account.NetFee
	return summary, nil
}
