package models

import (
	"log"

	"bitbucket.org/mmdatafocus/receivables_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Customer{},
		&Sale{}, &CustomerPayment{}, &CustomerReturn{}, &CustomerCreditDebitNote{},
		&CustomerBalanceMonthly{}, &CustomerBalanceYearly{},
		&LedgerEventRecord{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
