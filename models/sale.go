package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/receivables_backend/config"
	"bitbucket.org/mmdatafocus/receivables_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const CurrencyUSD = "USD"

// Sale is a debit-side source record. Immutable once approved; only
// approved sales are counted in the ledger.
type Sale struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"index;size:64;not null" json:"business_id"`
	CustomerId      int             `gorm:"index;not null" json:"customer_id"`
	SaleNumber      string          `gorm:"size:100;not null" json:"sale_number"`
	ReferenceNumber string          `gorm:"size:100" json:"reference_number"`
	SaleDate        time.Time       `gorm:"index;not null" json:"sale_date"`
	Currency        string          `gorm:"size:3;default:'USD'" json:"currency"`
	ExchangeRate    decimal.Decimal `gorm:"type:decimal(20,4);default:1" json:"exchange_rate"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	AmountUsd       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount_usd"`
	Notes           string          `gorm:"type:text" json:"notes"`
	CurrentStatus   SaleStatus      `gorm:"size:20;default:'Draft'" json:"current_status"`
	ApprovedAt      *time.Time      `json:"approved_at"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSale struct {
	CustomerId      int             `json:"customer_id" binding:"required"`
	SaleNumber      string          `json:"sale_number" binding:"required"`
	ReferenceNumber string          `json:"reference_number"`
	SaleDate        time.Time       `json:"sale_date" binding:"required"`
	Currency        string          `json:"currency"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate"`
	Amount          decimal.Decimal `json:"amount"`
	AmountUsd       decimal.Decimal `json:"amount_usd" binding:"required"`
	Notes           string          `json:"notes"`
}

func CreateSale(ctx context.Context, input *NewSale) (*Sale, error) {
	db := config.GetDB()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := utils.ValidateResourceId[Customer](ctx, businessId, input.CustomerId); err != nil {
		return nil, errors.New("customer not found")
	}
	if input.AmountUsd.IsNegative() {
		return nil, errors.New("amount_usd must not be negative")
	}

	currency := input.Currency
	if currency == "" {
		currency = CurrencyUSD
	}
	exchangeRate := input.ExchangeRate
	if exchangeRate.IsZero() {
		exchangeRate = decimal.NewFromInt(1)
	}
	amount := input.Amount
	if amount.IsZero() {
		amount = input.AmountUsd
	}

	sale := Sale{
		BusinessId:      businessId,
		CustomerId:      input.CustomerId,
		SaleNumber:      input.SaleNumber,
		ReferenceNumber: input.ReferenceNumber,
		SaleDate:        input.SaleDate,
		Currency:        currency,
		ExchangeRate:    exchangeRate,
		Amount:          amount,
		AmountUsd:       input.AmountUsd,
		Notes:           input.Notes,
		CurrentStatus:   SaleStatusDraft,
	}
	if err := db.WithContext(ctx).Create(&sale).Error; err != nil {
		return nil, err
	}
	return &sale, nil
}

// ApproveSale moves a draft sale to Approved and posts it to the ledger in
// the same transaction. The credit-limit check happens here, before any
// ledger arithmetic.
func ApproveSale(ctx context.Context, id int) (*Sale, error) {
	db := config.GetDB()
	logger := config.GetLogger()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var sale Sale
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("business_id = ? AND id = ?", businessId, id).Take(&sale).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if sale.CurrentStatus != SaleStatusDraft {
			return errors.New("only draft sales can be approved")
		}

		customer, err := GetCustomer2(tx, businessId, sale.CustomerId)
		if err != nil {
			return err
		}
		if customer.ExceedsCreditLimit(sale.AmountUsd) {
			return errors.New("credit limit exceeded")
		}

		now := time.Now().UTC()
		if err := tx.Model(&Sale{}).Where("id = ?", sale.ID).
			Updates(map[string]interface{}{"current_status": SaleStatusApproved, "approved_at": &now}).Error; err != nil {
			return err
		}
		sale.CurrentStatus = SaleStatusApproved
		sale.ApprovedAt = &now

		return ApplyCustomerTransaction(tx, logger, CustomerTxnEvent{
			BusinessId:    businessId,
			CustomerId:    sale.CustomerId,
			Type:          TxnTypeSale,
			AmountUsd:     sale.AmountUsd,
			Date:          sale.SaleDate,
			SourceId:      sale.ID,
			CorrelationId: correlationIdFromContextOrNew(ctx),
		})
	})
	if err != nil {
		config.LogError(logger, "sale.go", "ApproveSale", "Transaction", id, err)
		return nil, err
	}
	return &sale, nil
}
