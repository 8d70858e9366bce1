package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CustomerBalanceMonthly is the per-month ledger checkpoint. Counters and
// totals cover activity inside the month; ClosingBalance is cumulative and
// carries forward through months with no activity.
type CustomerBalanceMonthly struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"uniqueIndex:idx_cust_bal_month;size:64;not null" json:"business_id"`
	CustomerId int    `gorm:"uniqueIndex:idx_cust_bal_month;not null" json:"customer_id"`
	Year       int    `gorm:"uniqueIndex:idx_cust_bal_month;not null" json:"year"`
	Month      int    `gorm:"uniqueIndex:idx_cust_bal_month;not null" json:"month"`

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

	// TransactionTotal is the signed net movement of this month alone.
	TransactionTotal decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"transaction_total"`
	// ClosingBalance is the running balance as of month end.
	ClosingBalance decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"closing_balance"`

	LastUpdatedBy    CustomerTxnType `gorm:"size:20" json:"last_updated_by"`
	UpdatedByEntryId int             `gorm:"default:0" json:"updated_by_entry_id"`
	LastVerifiedAt   *time.Time      `json:"last_verified_at"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// counterColumns maps a transaction type to its count and amount columns.
func counterColumns(t CustomerTxnType) (countCol, amountCol string) {
	switch t {
	case TxnTypeSale:
		return "total_sale", "total_sale_amount"
	case TxnTypeReturn:
		return "total_return", "total_return_amount"
	case TxnTypePayment:
		return "total_payment", "total_payment_amount"
	case TxnTypeCreditNote:
		return "total_credit_note", "total_credit_note_amount"
	case TxnTypeDebitNote:
		return "total_debit_note", "total_debit_note_amount"
	}
	return "", ""
}

// GetBalanceMonth fetches one monthly checkpoint, nil when none exists.
func GetBalanceMonth(tx *gorm.DB, businessId string, customerId, year, month int) (*CustomerBalanceMonthly, error) {
	var row CustomerBalanceMonthly
	err := tx.Where("business_id = ? AND customer_id = ? AND year = ? AND month = ?",
		businessId, customerId, year, month).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// latestBalanceMonthBefore returns the most recent checkpoint strictly
// before (year, month), nil when the customer has no earlier months.
func latestBalanceMonthBefore(tx *gorm.DB, businessId string, customerId, year, month int) (*CustomerBalanceMonthly, error) {
	var row CustomerBalanceMonthly
	err := tx.Where("business_id = ? AND customer_id = ? AND (year < ? OR (year = ? AND month < ?))",
		businessId, customerId, year, year, month).
		Order("year DESC, month DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetOrCreateBalanceMonth returns the checkpoint for (year, month),
// materializing it and any gap months since the latest earlier checkpoint.
// Gap months carry the predecessor's closing balance with zero activity, so
// the chain of closings stays contiguous.
func GetOrCreateBalanceMonth(tx *gorm.DB, businessId string, customerId, year, month int) (*CustomerBalanceMonthly, error) {
	row, err := GetBalanceMonth(tx, businessId, customerId, year, month)
	if err != nil {
		return nil, err
	}
	if row != nil {
		return row, nil
	}

	prev, err := latestBalanceMonthBefore(tx, businessId, customerId, year, month)
	if err != nil {
		return nil, err
	}

	opening := decimal.Zero
	cursorYear, cursorMonth := year, month
	if prev != nil {
		opening = prev.ClosingBalance
		cursorYear, cursorMonth = nextMonth(prev.Year, prev.Month)
	}

	// Walk forward from the predecessor, creating every missing month up to
	// and including the requested one.
	var created *CustomerBalanceMonthly
	for {
		gap := CustomerBalanceMonthly{
			BusinessId:     businessId,
			CustomerId:     customerId,
			Year:           cursorYear,
			Month:          cursorMonth,
			ClosingBalance: opening,
		}
		if err := tx.Create(&gap).Error; err != nil {
			return nil, err
		}
		if cursorYear == year && cursorMonth == month {
			created = &gap
			break
		}
		cursorYear, cursorMonth = nextMonth(cursorYear, cursorMonth)
	}
	return created, nil
}

func nextMonth(year, month int) (int, int) {
	if month == 12 {
		return year + 1, 1
	}
	return year, month + 1
}

// ListBalanceMonths returns a customer's monthly checkpoints in
// chronological order, optionally restricted to one year.
func ListBalanceMonths(tx *gorm.DB, businessId string, customerId int, year int) ([]CustomerBalanceMonthly, error) {
	var rows []CustomerBalanceMonthly
	query := tx.Where("business_id = ? AND customer_id = ?", businessId, customerId)
	if year > 0 {
		query = query.Where("year = ?", year)
	}
	if err := query.Order("year ASC, month ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
