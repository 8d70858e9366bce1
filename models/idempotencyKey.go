package models

import (
	"fmt"
	"time"
)

// LedgerApplyHandler is the idempotency scope shared by the pubsub intake
// and the inline posting paths. Both write under it, so a delivery for a
// document that was already posted inline is a no-op.
const LedgerApplyHandler = "ledger.apply"

// LedgerApplyMessageId is the dedupe key for one source document.
func LedgerApplyMessageId(t CustomerTxnType, sourceId int) string {
	return fmt.Sprintf("%s:%d", t, sourceId)
}

// IdempotencyKey deduplicates inbound event handling. One row per
// (business, handler, message); the unique index is the guard.
type IdempotencyKey struct {
	ID          int       `gorm:"primary_key" json:"id"`
	BusinessId  string    `gorm:"uniqueIndex:idx_idem_key;size:64;not null" json:"business_id"`
	HandlerName string    `gorm:"uniqueIndex:idx_idem_key;size:100;not null" json:"handler_name"`
	MessageId   string    `gorm:"uniqueIndex:idx_idem_key;size:100;not null" json:"message_id"`
	Status      string    `gorm:"size:20;not null" json:"status"`
	LastError   *string   `gorm:"size:500" json:"last_error"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
