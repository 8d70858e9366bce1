package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CustomerBalanceYearly is the per-year rollup of the monthly checkpoints.
// It is always re-derived from the monthlies of its year, never incremented
// independently, so the two levels cannot drift apart.
type CustomerBalanceYearly struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"uniqueIndex:idx_cust_bal_year;size:64;not null" json:"business_id"`
	CustomerId int    `gorm:"uniqueIndex:idx_cust_bal_year;not null" json:"customer_id"`
	Year       int    `gorm:"uniqueIndex:idx_cust_bal_year;not null" json:"year"`

	TotalSale             int             `gorm:"default:0" json:"total_sale"`
	TotalSaleAmount       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_sale_amount"`
	TotalReturn           int             `gorm:"default:0" json:"total_return"`
	TotalReturnAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_return_amount"`
	TotalPayment          int             `gorm:"default:0" json:"total_payment"`
	TotalPaymentAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_payment_amount"`
	TotalCreditNote       int             `gorm:"default:0" json:"total_credit_note"`
	TotalCreditNoteAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_credit_note_amount"`
	TotalDebitNote        int             `gorm:"default:0" json:"total_debit_note"`
	TotalDebitNoteAmount  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_debit_note_amount"`

	TransactionTotal decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"transaction_total"`
	ClosingBalance   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"closing_balance"`

	LastVerifiedAt *time.Time `json:"last_verified_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetBalanceYear fetches one yearly checkpoint, nil when none exists.
func GetBalanceYear(tx *gorm.DB, businessId string, customerId, year int) (*CustomerBalanceYearly, error) {
	var row CustomerBalanceYearly
	err := tx.Where("business_id = ? AND customer_id = ? AND year = ?",
		businessId, customerId, year).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

type yearlyAgg struct {
	TotalSale             int
	TotalSaleAmount       decimal.Decimal
	TotalReturn           int
	TotalReturnAmount     decimal.Decimal
	TotalPayment          int
	TotalPaymentAmount    decimal.Decimal
	TotalCreditNote       int
	TotalCreditNoteAmount decimal.Decimal
	TotalDebitNote        int
	TotalDebitNoteAmount  decimal.Decimal
	TransactionTotal      decimal.Decimal
}

// RollupBalanceYear re-derives the yearly checkpoint for one year from its
// monthly rows and upserts it. The year's closing balance is the closing of
// its last materialized month. Re-deriving clears the row's verified stamp;
// the rebuild re-stamps afterwards.
func RollupBalanceYear(tx *gorm.DB, businessId string, customerId, year int) error {
	var agg yearlyAgg
	err := tx.Model(&CustomerBalanceMonthly{}).
		Select(`COALESCE(SUM(total_sale),0) AS total_sale,
			COALESCE(SUM(total_sale_amount),0) AS total_sale_amount,
			COALESCE(SUM(total_return),0) AS total_return,
			COALESCE(SUM(total_return_amount),0) AS total_return_amount,
			COALESCE(SUM(total_payment),0) AS total_payment,
			COALESCE(SUM(total_payment_amount),0) AS total_payment_amount,
			COALESCE(SUM(total_credit_note),0) AS total_credit_note,
			COALESCE(SUM(total_credit_note_amount),0) AS total_credit_note_amount,
			COALESCE(SUM(total_debit_note),0) AS total_debit_note,
			COALESCE(SUM(total_debit_note_amount),0) AS total_debit_note_amount,
			COALESCE(SUM(transaction_total),0) AS transaction_total`).
		Where("business_id = ? AND customer_id = ? AND year = ?", businessId, customerId, year).
		Scan(&agg).Error
	if err != nil {
		return err
	}

	var lastMonth CustomerBalanceMonthly
	err = tx.Where("business_id = ? AND customer_id = ? AND year = ?", businessId, customerId, year).
		Order("month DESC").Take(&lastMonth).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// No monthlies left for this year; nothing to roll up.
		return nil
	}
	if err != nil {
		return err
	}

	row := CustomerBalanceYearly{
		BusinessId:            businessId,
		CustomerId:            customerId,
		Year:                  year,
		TotalSale:             agg.TotalSale,
		TotalSaleAmount:       agg.TotalSaleAmount,
		TotalReturn:           agg.TotalReturn,
		TotalReturnAmount:     agg.TotalReturnAmount,
		TotalPayment:          agg.TotalPayment,
		TotalPaymentAmount:    agg.TotalPaymentAmount,
		TotalCreditNote:       agg.TotalCreditNote,
		TotalCreditNoteAmount: agg.TotalCreditNoteAmount,
		TotalDebitNote:        agg.TotalDebitNote,
		TotalDebitNoteAmount:  agg.TotalDebitNoteAmount,
		TransactionTotal:      agg.TransactionTotal,
		ClosingBalance:        lastMonth.ClosingBalance,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "business_id"}, {Name: "customer_id"}, {Name: "year"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_sale", "total_sale_amount",
			"total_return", "total_return_amount",
			"total_payment", "total_payment_amount",
			"total_credit_note", "total_credit_note_amount",
			"total_debit_note", "total_debit_note_amount",
			"transaction_total", "closing_balance", "last_verified_at", "updated_at",
		}),
	}).Create(&row).Error
}

// ListBalanceYears returns a customer's yearly checkpoints in order.
func ListBalanceYears(tx *gorm.DB, businessId string, customerId int) ([]CustomerBalanceYearly, error) {
	var rows []CustomerBalanceYearly
	err := tx.Where("business_id = ? AND customer_id = ?", businessId, customerId).
		Order("year ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
