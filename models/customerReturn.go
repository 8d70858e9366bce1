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

// CustomerReturn is a credit-side source record. Approval alone does not
// post it; the return only counts once the goods are received back and
// ReceivedAt is set.
type CustomerReturn struct {
	ID              int                  `gorm:"primary_key" json:"id"`
	BusinessId      string               `gorm:"index;size:64;not null" json:"business_id"`
	CustomerId      int                  `gorm:"index;not null" json:"customer_id"`
	ReturnNumber    string               `gorm:"size:100;not null" json:"return_number"`
	ReferenceNumber string               `gorm:"size:100" json:"reference_number"`
	ReturnDate      time.Time            `gorm:"index;not null" json:"return_date"`
	Currency        string               `gorm:"size:3;default:'USD'" json:"currency"`
	ExchangeRate    decimal.Decimal      `gorm:"type:decimal(20,4);default:1" json:"exchange_rate"`
	Amount          decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"amount"`
	AmountUsd       decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"amount_usd"`
	Notes           string               `gorm:"type:text" json:"notes"`
	CurrentStatus   CustomerReturnStatus `gorm:"size:20;default:'Draft'" json:"current_status"`
	ApprovedAt      *time.Time           `json:"approved_at"`
	ReceivedAt      *time.Time           `json:"received_at"`
	CreatedAt       time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCustomerReturn struct {
	CustomerId      int             `json:"customer_id" binding:"required"`
	ReturnNumber    string          `json:"return_number" binding:"required"`
	ReferenceNumber string          `json:"reference_number"`
	ReturnDate      time.Time       `json:"return_date" binding:"required"`
	Currency        string          `json:"currency"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate"`
	Amount          decimal.Decimal `json:"amount"`
	AmountUsd       decimal.Decimal `json:"amount_usd" binding:"required"`
	Notes           string          `json:"notes"`
}

func CreateCustomerReturn(ctx context.Context, input *NewCustomerReturn) (*CustomerReturn, error) {
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

	customerReturn := CustomerReturn{
		BusinessId:      businessId,
		CustomerId:      input.CustomerId,
		ReturnNumber:    input.ReturnNumber,
		ReferenceNumber: input.ReferenceNumber,
		ReturnDate:      input.ReturnDate,
		Currency:        currency,
		ExchangeRate:    exchangeRate,
		Amount:          amount,
		AmountUsd:       input.AmountUsd,
		Notes:           input.Notes,
		CurrentStatus:   CustomerReturnStatusDraft,
	}
	if err := db.WithContext(ctx).Create(&customerReturn).Error; err != nil {
		return nil, err
	}
	return &customerReturn, nil
}

// ApproveCustomerReturn flips a draft return to Approved. No ledger write
// happens here; that waits for the goods receipt.
func ApproveCustomerReturn(ctx context.Context, id int) (*CustomerReturn, error) {
	db := config.GetDB()
	logger := config.GetLogger()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var customerReturn CustomerReturn
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("business_id = ? AND id = ?", businessId, id).Take(&customerReturn).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if customerReturn.CurrentStatus != CustomerReturnStatusDraft {
			return errors.New("only draft returns can be approved")
		}

		now := time.Now().UTC()
		if err := tx.Model(&CustomerReturn{}).Where("id = ?", customerReturn.ID).
			Updates(map[string]interface{}{"current_status": CustomerReturnStatusApproved, "approved_at": &now}).Error; err != nil {
			return err
		}
		customerReturn.CurrentStatus = CustomerReturnStatusApproved
		customerReturn.ApprovedAt = &now
		return nil
	})
	if err != nil {
		config.LogError(logger, "customerReturn.go", "ApproveCustomerReturn", "Transaction", id, err)
		return nil, err
	}
	return &customerReturn, nil
}

// ReceiveCustomerReturn records the goods receipt and posts the return to
// the ledger in the same transaction. This is the point where the return
// starts counting toward balances and statements.
func ReceiveCustomerReturn(ctx context.Context, id int) (*CustomerReturn, error) {
	db := config.GetDB()
	logger := config.GetLogger()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var customerReturn CustomerReturn
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("business_id = ? AND id = ?", businessId, id).Take(&customerReturn).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if customerReturn.CurrentStatus != CustomerReturnStatusApproved {
			return errors.New("only approved returns can be received")
		}
		if customerReturn.ReceivedAt != nil {
			return errors.New("return already received")
		}

		now := time.Now().UTC()
		if err := tx.Model(&CustomerReturn{}).Where("id = ?", customerReturn.ID).
			Update("received_at", &now).Error; err != nil {
			return err
		}
		customerReturn.ReceivedAt = &now

		return ApplyCustomerTransaction(tx, logger, CustomerTxnEvent{
			BusinessId:    businessId,
			CustomerId:    customerReturn.CustomerId,
			Type:          TxnTypeReturn,
			AmountUsd:     customerReturn.AmountUsd,
			Date:          customerReturn.ReturnDate,
			SourceId:      customerReturn.ID,
			CorrelationId: correlationIdFromContextOrNew(ctx),
		})
	})
	if err != nil {
		config.LogError(logger, "customerReturn.go", "ReceiveCustomerReturn", "Transaction", id, err)
		return nil, err
	}
	return &customerReturn, nil
}
