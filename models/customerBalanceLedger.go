package models

import (
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/receivables_backend/config"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CustomerTxnEvent is the normalized form every source record reduces to
// before touching the ledger.
type CustomerTxnEvent struct {
	BusinessId    string
	CustomerId    int
	Type          CustomerTxnType
	AmountUsd     decimal.Decimal
	Date          time.Time
	SourceId      int
	CorrelationId string
}

func customerBalanceCacheKey(businessId string, customerId int) string {
	return fmt.Sprintf("CustomerBalance:%s:%d", businessId, customerId)
}

// ApplyCustomerTransaction folds one transaction into the ledger inside the
// caller's transaction. All mutations are relative SQL increments, so
// concurrent applies against the same customer compose instead of clobbering
// each other.
//
// A backdated event updates its own month's counters and then pushes the
// delta through every later month's closing balance, the yearly rollups and
// the customer's cached balance. Months it touches lose their verified stamp.
func ApplyCustomerTransaction(tx *gorm.DB, logger *logrus.Logger, ev CustomerTxnEvent) error {
	if !ev.Type.IsValid() {
		return fmt.Errorf("invalid transaction type %q", ev.Type)
	}
	if ev.AmountUsd.IsNegative() {
		return errors.New("amount must not be negative")
	}

	delta := BalanceDelta(ev.Type, ev.AmountUsd)
	year, month := ev.Date.UTC().Year(), int(ev.Date.UTC().Month())

	if _, err := GetOrCreateBalanceMonth(tx, ev.BusinessId, ev.CustomerId, year, month); err != nil {
		return err
	}

	countCol, amountCol := counterColumns(ev.Type)
	err := tx.Model(&CustomerBalanceMonthly{}).
		Where("business_id = ? AND customer_id = ? AND year = ? AND month = ?",
			ev.BusinessId, ev.CustomerId, year, month).
		Updates(map[string]interface{}{
			countCol:             gorm.Expr(countCol+" + 1"),
			amountCol:            gorm.Expr(amountCol+" + ?", ev.AmountUsd),
			"transaction_total":  gorm.Expr("transaction_total + ?", delta),
			"closing_balance":    gorm.Expr("closing_balance + ?", delta),
			"last_updated_by":    ev.Type,
			"updated_by_entry_id": ev.SourceId,
			"last_verified_at":   nil,
		}).Error
	if err != nil {
		return err
	}

	// Ripple the delta through every later materialized month.
	err = tx.Model(&CustomerBalanceMonthly{}).
		Where("business_id = ? AND customer_id = ? AND (year > ? OR (year = ? AND month > ?))",
			ev.BusinessId, ev.CustomerId, year, year, month).
		Updates(map[string]interface{}{
			"closing_balance":  gorm.Expr("closing_balance + ?", delta),
			"last_verified_at": nil,
		}).Error
	if err != nil {
		return err
	}

	if err := RollupBalanceYear(tx, ev.BusinessId, ev.CustomerId, year); err != nil {
		return err
	}
	err = tx.Model(&CustomerBalanceYearly{}).
		Where("business_id = ? AND customer_id = ? AND year > ?", ev.BusinessId, ev.CustomerId, year).
		Updates(map[string]interface{}{
			"closing_balance":  gorm.Expr("closing_balance + ?", delta),
			"last_verified_at": nil,
		}).Error
	if err != nil {
		return err
	}

	err = tx.Model(&Customer{}).
		Where("business_id = ? AND id = ?", ev.BusinessId, ev.CustomerId).
		Update("current_balance", gorm.Expr("current_balance + ?", delta)).Error
	if err != nil {
		return err
	}

	// Mark the document applied under the shared dedupe scope. A pubsub
	// delivery referencing it afterwards sees SUCCEEDED and skips; a message
	// that arrived first holds a STARTED row, which this upsert finalizes.
	key := IdempotencyKey{
		BusinessId:  ev.BusinessId,
		HandlerName: LedgerApplyHandler,
		MessageId:   LedgerApplyMessageId(ev.Type, ev.SourceId),
		Status:      IdempotencyStatusSucceeded,
	}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "business_id"}, {Name: "handler_name"}, {Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "last_error", "updated_at"}),
	}).Create(&key).Error
	if err != nil {
		return err
	}

	// Cached reads must not survive the write. Best effort; a miss just
	// costs the next reader a DB round trip.
	if err := config.RemoveRedisKey(customerBalanceCacheKey(ev.BusinessId, ev.CustomerId)); err != nil {
		logger.WithField("customerId", ev.CustomerId).Warn("balance cache invalidation failed: ", err)
	}

	return PublishLedgerEvent(tx, ev, LedgerEventActionPosted)
}

// GetCurrentBalance reads the cached running balance, falling back to the
// customers row and repopulating the cache.
func GetCurrentBalance(tx *gorm.DB, businessId string, customerId int) (decimal.Decimal, error) {
	key := customerBalanceCacheKey(businessId, customerId)
	var cached string
	if found, err := config.GetRedisObject(key, &cached); err == nil && found {
		if balance, err := decimal.NewFromString(cached); err == nil {
			return balance, nil
		}
	}

	customer, err := GetCustomer2(tx, businessId, customerId)
	if err != nil {
		return decimal.Zero, err
	}
	_ = config.SetRedisObject(key, customer.CurrentBalance.String(), 10*time.Minute)
	return customer.CurrentBalance, nil
}
