package models

import (
	"log"

	"github.com/MJMV25/veterinar-backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Invoice{}, &InvoiceItem{},
		&Payment{},
		&BillingEventRecord{}, &IdempotencyKey{},
	)
	if err != nil {
		log.Fatalf("migration failed: %v", err)
	}
}
