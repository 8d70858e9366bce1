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

// CustomerPayment is a credit-side source record; counted once approved.
type CustomerPayment struct {
	ID              int                   `gorm:"primary_key" json:"id"`
	BusinessId      string                `gorm:"index;size:64;not null" json:"business_id"`
	CustomerId      int                   `gorm:"index;not null" json:"customer_id"`
	PaymentNumber   string                `gorm:"size:100;not null" json:"payment_number"`
	ReferenceNumber string                `gorm:"size:100" json:"reference_number"`
	PaymentDate     time.Time             `gorm:"index;not null" json:"payment_date"`
	Currency        string                `gorm:"size:3;default:'USD'" json:"currency"`
	ExchangeRate    decimal.Decimal       `gorm:"type:decimal(20,4);default:1" json:"exchange_rate"`
	Amount          decimal.Decimal       `gorm:"type:decimal(20,4);default:0" json:"amount"`
	AmountUsd       decimal.Decimal       `gorm:"type:decimal(20,4);default:0" json:"amount_usd"`
	Notes           string                `gorm:"type:text" json:"notes"`
	CurrentStatus   CustomerPaymentStatus `gorm:"size:20;default:'Draft'" json:"current_status"`
	ApprovedAt      *time.Time            `json:"approved_at"`
	CreatedAt       time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCustomerPayment struct {
	CustomerId      int             `json:"customer_id" binding:"required"`
	PaymentNumber   string          `json:"payment_number" binding:"required"`
	ReferenceNumber string          `json:"reference_number"`
	PaymentDate     time.Time       `json:"payment_date" binding:"required"`
	Currency        string          `json:"currency"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate"`
	Amount          decimal.Decimal `json:"amount"`
	AmountUsd       decimal.Decimal `json:"amount_usd" binding:"required"`
	Notes           string          `json:"notes"`
}

func CreateCustomerPayment(ctx context.Context, input *NewCustomerPayment) (*CustomerPayment, error) {
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

	payment := CustomerPayment{
		BusinessId:      businessId,
		CustomerId:      input.CustomerId,
		PaymentNumber:   input.PaymentNumber,
		ReferenceNumber: input.ReferenceNumber,
		PaymentDate:     input.PaymentDate,
		Currency:        currency,
		ExchangeRate:    exchangeRate,
		Amount:          amount,
		AmountUsd:       input.AmountUsd,
		Notes:           input.Notes,
		CurrentStatus:   CustomerPaymentStatusDraft,
	}
	if err := db.WithContext(ctx).Create(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// ApproveCustomerPayment posts the payment to the ledger in the same
// transaction that flips its status.
func ApproveCustomerPayment(ctx context.Context, id int) (*CustomerPayment, error) {
	db := config.GetDB()
	logger := config.GetLogger()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var payment CustomerPayment
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("business_id = ? AND id = ?", businessId, id).Take(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if payment.CurrentStatus != CustomerPaymentStatusDraft {
			return errors.New("only draft payments can be approved")
		}

		now := time.Now().UTC()
		if err := tx.Model(&CustomerPayment{}).Where("id = ?", payment.ID).
			Updates(map[string]interface{}{"current_status": CustomerPaymentStatusApproved, "approved_at": &now}).Error; err != nil {
			return err
		}
		payment.CurrentStatus = CustomerPaymentStatusApproved
		payment.ApprovedAt = &now

		return ApplyCustomerTransaction(tx, logger, CustomerTxnEvent{
			BusinessId:    businessId,
			CustomerId:    payment.CustomerId,
			Type:          TxnTypePayment,
			AmountUsd:     payment.AmountUsd,
			Date:          payment.PaymentDate,
			SourceId:      payment.ID,
			CorrelationId: correlationIdFromContextOrNew(ctx),
		})
	})
	if err != nil {
		config.LogError(logger, "customerPayment.go", "ApproveCustomerPayment", "Transaction", id, err)
		return nil, err
	}
	return &payment, nil
}
