package models

import "time"

// ReconciliationReport is one finding of a reconciliation run. A finding is
// stored once per school, check type and entity; re-running a sweep does not
// add rows for findings already on record.
type ReconciliationReport struct {
	ID            int                     `gorm:"primary_key" json:"id"`
	SchoolId      string                  `gorm:"size:64;index;uniqueIndex:uniq_recon_finding,priority:1;not null" json:"school_id"`
	FeeAccountId  string                  `gorm:"size:36;index;not null" json:"fee_account_id"`
	CheckType     ReconciliationCheckType `gorm:"size:50;index;uniqueIndex:uniq_recon_finding,priority:2;not null" json:"check_type"`
	EntityType    string                  `gorm:"size:50;index;not null" json:"entity_type"` // FeeAccount, Installment, PaymentEntry
	EntityId      string                  `gorm:"size:36;index;uniqueIndex:uniq_recon_finding,priority:3;not null" json:"entity_id"`
	Details       string                  `gorm:"type:text" json:"details"`
	CorrelationId string                  `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time               `gorm:"autoCreateTime" json:"created_at"`
}

const (
	EntityTypeFeeAccount   = "FeeAccount"
	EntityTypeInstallment  = "Installment"
	EntityTypePaymentEntry = "PaymentEntry"
)
