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

// CustomerCreditDebitNote carries manual adjustments. Notes have no draft
// stage; they count from the moment they exist, so creation posts to the
// ledger immediately.
type CustomerCreditDebitNote struct {
	ID              int                 `gorm:"primary_key" json:"id"`
	BusinessId      string              `gorm:"index;size:64;not null" json:"business_id"`
	CustomerId      int                 `gorm:"index;not null" json:"customer_id"`
	NoteNumber      string              `gorm:"size:100;not null" json:"note_number"`
	ReferenceNumber string              `gorm:"size:100" json:"reference_number"`
	NoteDate        time.Time           `gorm:"index;not null" json:"note_date"`
	NoteType        CreditDebitNoteType `gorm:"size:10;not null" json:"note_type"`
	Currency        string              `gorm:"size:3;default:'USD'" json:"currency"`
	ExchangeRate    decimal.Decimal     `gorm:"type:decimal(20,4);default:1" json:"exchange_rate"`
	Amount          decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"amount"`
	AmountUsd       decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"amount_usd"`
	Notes           string              `gorm:"type:text" json:"notes"`
	CreatedAt       time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCustomerCreditDebitNote struct {
	CustomerId      int                 `json:"customer_id" binding:"required"`
	NoteNumber      string              `json:"note_number" binding:"required"`
	ReferenceNumber string              `json:"reference_number"`
	NoteDate        time.Time           `json:"note_date" binding:"required"`
	NoteType        CreditDebitNoteType `json:"note_type" binding:"required"`
	Currency        string              `json:"currency"`
	ExchangeRate    decimal.Decimal     `json:"exchange_rate"`
	Amount          decimal.Decimal     `json:"amount"`
	AmountUsd       decimal.Decimal     `json:"amount_usd" binding:"required"`
	Notes           string              `json:"notes"`
}

func CreateCustomerCreditDebitNote(ctx context.Context, input *NewCustomerCreditDebitNote) (*CustomerCreditDebitNote, error) {
	db := config.GetDB()
	logger := config.GetLogger()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if input.NoteType != NoteTypeCredit && input.NoteType != NoteTypeDebit {
		return nil, errors.New("note_type must be Credit or Debit")
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

	note := CustomerCreditDebitNote{
		BusinessId:      businessId,
		CustomerId:      input.CustomerId,
		NoteNumber:      input.NoteNumber,
		ReferenceNumber: input.ReferenceNumber,
		NoteDate:        input.NoteDate,
		NoteType:        input.NoteType,
		Currency:        currency,
		ExchangeRate:    exchangeRate,
		Amount:          amount,
		AmountUsd:       input.AmountUsd,
		Notes:           input.Notes,
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&note).Error; err != nil {
			return err
		}
		return ApplyCustomerTransaction(tx, logger, CustomerTxnEvent{
			BusinessId:    businessId,
			CustomerId:    note.CustomerId,
			Type:          note.NoteType.TxnType(),
			AmountUsd:     note.AmountUsd,
			Date:          note.NoteDate,
			SourceId:      note.ID,
			CorrelationId: correlationIdFromContextOrNew(ctx),
		})
	})
	if err != nil {
		config.LogError(logger, "customerCreditDebitNote.go", "CreateCustomerCreditDebitNote", "Transaction", input.NoteNumber, err)
		return nil, err
	}
	return &note, nil
}

func GetCustomerCreditDebitNote(ctx context.Context, id int) (*CustomerCreditDebitNote, error) {
	db := config.GetDB()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var note CustomerCreditDebitNote
	err := db.WithContext(ctx).
		Where("business_id = ? AND id = ?", businessId, id).
		Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &note, nil
}
