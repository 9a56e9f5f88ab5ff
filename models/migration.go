package models

import "gorm.io/gorm"

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&FeeAccount{}, &Installment{}, &PaymentEntry{}, &DiscountRecord{},
		&ReconciliationReport{}, &FeeEventRecord{}, &IdempotencyKey{},
	)
}
