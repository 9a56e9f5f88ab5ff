package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// OutboxStatus is the ops view of one outbox row.
type OutboxStatus struct {
	RecordId         int        `json:"record_id"`
	AggregateId      string     `json:"aggregate_id"`
	EventType        string     `json:"event_type"`
	PublishStatus    string     `json:"publish_status"`
	PublishAttempts  int        `json:"publish_attempts"`
	NextAttemptAt    *time.Time `json:"next_attempt_at"`
	LastPublishError *string    `json:"last_publish_error"`
	CorrelationId    string     `json:"correlation_id"`
	CreatedAt        time.Time  `json:"created_at"`
	PublishedAt      *time.Time `json:"published_at"`
}

func outboxStatusOf(rec FeeEventRecord) OutboxStatus {
	return OutboxStatus{
		RecordId:         rec.ID,
		AggregateId:      rec.AggregateId,
		EventType:        rec.EventType,
		PublishStatus:    rec.PublishStatus,
		PublishAttempts:  rec.PublishAttempts,
		NextAttemptAt:    rec.NextAttemptAt,
		LastPublishError: rec.LastPublishError,
		CorrelationId:    rec.CorrelationId,
		CreatedAt:        rec.CreatedAt,
		PublishedAt:      rec.PublishedAt,
	}
}

// ListOutboxStatus returns the events written for one aggregate (a fee
// account, installment or discount), newest first.
func ListOutboxStatus(ctx context.Context, db *gorm.DB, schoolId, aggregateId string) ([]OutboxStatus, error) {
	var records []FeeEventRecord
	if err := db.WithContext(ctx).
		Where("school_id = ? AND aggregate_id = ?", schoolId, aggregateId).
		Order("id DESC").
		Limit(100).
		Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]OutboxStatus, 0, len(records))
	for _, rec := range records {
		out = append(out, outboxStatusOf(rec))
	}
	return out, nil
}

// ReplayFeeEvent puts a DEAD or FAILED row back in the dispatcher's queue.
// Rows in any other state are left alone and reported as ErrNotFound.
func ReplayFeeEvent(ctx context.Context, db *gorm.DB, schoolId string, recordId int) (*OutboxStatus, error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&FeeEventRecord{}).
		Where("id = ? AND school_id = ? AND publish_status IN ?", recordId, schoolId,
			[]string{OutboxPublishStatusDead, OutboxPublishStatusFailed}).
		Updates(map[string]interface{}{
			"publish_status":     OutboxPublishStatusFailed,
			"next_attempt_at":    &now,
			"locked_at":          nil,
			"locked_by":          nil,
			"last_publish_error": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	var rec FeeEventRecord
	if err := db.WithContext(ctx).Where("id = ? AND school_id = ?", recordId, schoolId).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	status := outboxStatusOf(rec)
	return &status, nil
}
