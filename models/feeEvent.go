package models

import (
	"encoding/json"
	"time"
)

// Outbox publish statuses for FeeEventRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

const (
	EventFeeAccountCreated   = "fee_account.created"
	EventScheduleGenerated   = "schedule.generated"
	EventPaymentRecorded     = "payment.recorded"
	EventDiscountRequested   = "discount.requested"
	EventDiscountApproved    = "discount.approved"
	EventDiscountRejected    = "discount.rejected"
	EventAccountReconciled   = "account.reconciled"
	EventOrphanPaymentLinked = "payment.linked"
)

// FeeEventRecord is a transactional outbox row, written in the same
// transaction as the change it describes and published after commit.
type FeeEventRecord struct {
	ID               int        `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	SchoolId         string     `gorm:"size:64;not null;index" json:"school_id"`
	AggregateId      string     `gorm:"size:36;not null;index" json:"aggregate_id"`
	EventType        string     `gorm:"size:50;not null;index" json:"event_type"`
	Payload          []byte     `gorm:"type:blob" json:"payload"`
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	BrokerMessageId  *string    `gorm:"size:255" json:"broker_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// FeeEvent is the message body published for a FeeEventRecord.
type FeeEvent struct {
	ID            int             `json:"id"`
	SchoolId      string          `json:"school_id"`
	AggregateId   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationId string          `json:"correlation_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func NewFeeEventRecord(schoolId, aggregateId, eventType, correlationId string, payload interface{}) (*FeeEventRecord, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &FeeEventRecord{
		SchoolId:      schoolId,
		AggregateId:   aggregateId,
		EventType:     eventType,
		Payload:       data,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationId,
	}, nil
}

func ConvertToFeeEvent(record FeeEventRecord) FeeEvent {
	return FeeEvent{
		ID:            record.ID,
		SchoolId:      record.SchoolId,
		AggregateId:   record.AggregateId,
		EventType:     record.EventType,
		Payload:       json.RawMessage(record.Payload),
		CorrelationId: record.CorrelationId,
		OccurredAt:    record.CreatedAt,
	}
}
