package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/receivables_backend/config"
	"bitbucket.org/mmdatafocus/receivables_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LedgerEventRecord is the transactional outbox row for balance-change
// events. It is written inside the same DB transaction as the ledger
// mutation; the dispatcher publishes it to Pub/Sub after commit.
type LedgerEventRecord struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"index;size:64;not null" json:"business_id"`
	CustomerId      int             `gorm:"index;not null" json:"customer_id"`
	ReferenceId     int             `gorm:"not null" json:"reference_id"`
	ReferenceType   CustomerTxnType `gorm:"size:20;not null" json:"reference_type"`
	Action          LedgerEventAction `gorm:"size:20;not null" json:"action"`
	AmountUsd       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount_usd"`
	TransactionDate time.Time       `json:"transaction_date"`
	CorrelationId   string          `gorm:"size:64" json:"correlation_id"`

	IsProcessed      bool       `gorm:"index;default:false" json:"is_processed"`
	PublishStatus    string     `gorm:"index;size:20;default:'PENDING'" json:"publish_status"`
	PublishAttempts  int        `gorm:"default:0" json:"publish_attempts"`
	LastPublishError *string    `gorm:"size:500" json:"last_publish_error"`
	NextAttemptAt    *time.Time `json:"next_attempt_at"`
	LockedAt         *time.Time `json:"locked_at"`
	LockedBy         *string    `gorm:"size:64" json:"locked_by"`
	PublishedAt      *time.Time `json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:64" json:"pub_sub_message_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// PublishLedgerEvent records a balance-change event in the outbox within the
// caller's transaction. Nothing is sent here; the dispatcher owns delivery.
func PublishLedgerEvent(tx *gorm.DB, ev CustomerTxnEvent, action LedgerEventAction) error {
	record := LedgerEventRecord{
		BusinessId:      ev.BusinessId,
		CustomerId:      ev.CustomerId,
		ReferenceId:     ev.SourceId,
		ReferenceType:   ev.Type,
		Action:          action,
		AmountUsd:       ev.AmountUsd,
		TransactionDate: ev.Date,
		CorrelationId:   ev.CorrelationId,
		IsProcessed:     false,
		PublishStatus:   OutboxPublishStatusPending,
	}
	return tx.Create(&record).Error
}

// ConvertToLedgerEvent maps an outbox row to the wire message shape.
func ConvertToLedgerEvent(rec LedgerEventRecord) config.LedgerEvent {
	return config.LedgerEvent{
		ID:              rec.ID,
		BusinessId:      rec.BusinessId,
		CustomerId:      rec.CustomerId,
		ReferenceId:     rec.ReferenceId,
		ReferenceType:   string(rec.ReferenceType),
		Action:          string(rec.Action),
		TransactionDate: rec.TransactionDate,
		CorrelationId:   rec.CorrelationId,
	}
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
