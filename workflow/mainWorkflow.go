package workflow

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/receivables_backend/config"
	"bitbucket.org/mmdatafocus/receivables_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ProcessMessage folds one externally recorded transaction into the ledger.
// The source row must already exist; the message only tells us which row to
// pick up. Deduplication runs through the idempotency table, keyed by
// reference type and id. The inline approve paths write the same key, so
// both Pub/Sub redelivery and a delivery echoing an inline post are
// harmless.
func ProcessMessage(ctx context.Context, logger *logrus.Logger, m config.LedgerEvent) error {
	db := config.GetDB()
	messageId := models.LedgerApplyMessageId(models.CustomerTxnType(m.ReferenceType), m.ReferenceId)

	// Only posting events carry work; rebuild/reconcile notifications are
	// informational and get acked as-is.
	if m.Action != "" && m.Action != string(models.LedgerEventActionPosted) {
		return nil
	}

	// Claim the message first, in its own transaction, so a concurrent
	// delivery sees the STARTED row even while we are still processing.
	var skip bool
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		skip, err = BeginIdempotency(tx, m.BusinessId, models.LedgerApplyHandler, messageId)
		return err
	})
	if err != nil {
		return err
	}
	if skip {
		logger.WithFields(logrus.Fields{
			"business_id": m.BusinessId,
			"message_id":  messageId,
		}).Info("duplicate ledger event skipped")
		return nil
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, err := resolveSourceEvent(tx, m)
		if err != nil {
			return err
		}
		if err := models.ApplyCustomerTransaction(tx, logger, *ev); err != nil {
			return err
		}
		return MarkIdempotencySucceeded(tx, m.BusinessId, models.LedgerApplyHandler, messageId)
	})
	if err != nil {
		if markErr := MarkIdempotencyFailed(db.WithContext(ctx), m.BusinessId, models.LedgerApplyHandler, messageId, err); markErr != nil {
			config.LogError(logger, "mainWorkflow.go", "ProcessMessage", "MarkIdempotencyFailed", messageId, markErr)
		}
		return err
	}
	return nil
}

// resolveSourceEvent loads the referenced source row and checks it is in a
// counted state before converting it to a ledger event.
func resolveSourceEvent(tx *gorm.DB, m config.LedgerEvent) (*models.CustomerTxnEvent, error) {
	switch models.CustomerTxnType(m.ReferenceType) {
	case models.TxnTypeSale:
		var sale models.Sale
		if err := tx.Where("business_id = ? AND id = ?", m.BusinessId, m.ReferenceId).Take(&sale).Error; err != nil {
			return nil, fmt.Errorf("sale %d: %w", m.ReferenceId, err)
		}
		if sale.CurrentStatus != models.SaleStatusApproved {
			return nil, errors.New("sale is not approved")
		}
		return &models.CustomerTxnEvent{
			BusinessId:    m.BusinessId,
			CustomerId:    sale.CustomerId,
			Type:          models.TxnTypeSale,
			AmountUsd:     sale.AmountUsd,
			Date:          sale.SaleDate,
			SourceId:      sale.ID,
			CorrelationId: m.CorrelationId,
		}, nil

	case models.TxnTypePayment:
		var payment models.CustomerPayment
		if err := tx.Where("business_id = ? AND id = ?", m.BusinessId, m.ReferenceId).Take(&payment).Error; err != nil {
			return nil, fmt.Errorf("payment %d: %w", m.ReferenceId, err)
		}
		if payment.CurrentStatus != models.CustomerPaymentStatusApproved {
			return nil, errors.New("payment is not approved")
		}
		return &models.CustomerTxnEvent{
			BusinessId:    m.BusinessId,
			CustomerId:    payment.CustomerId,
			Type:          models.TxnTypePayment,
			AmountUsd:     payment.AmountUsd,
			Date:          payment.PaymentDate,
			SourceId:      payment.ID,
			CorrelationId: m.CorrelationId,
		}, nil

	case models.TxnTypeReturn:
		var customerReturn models.CustomerReturn
		if err := tx.Where("business_id = ? AND id = ?", m.BusinessId, m.ReferenceId).Take(&customerReturn).Error; err != nil {
			return nil, fmt.Errorf("return %d: %w", m.ReferenceId, err)
		}
		if customerReturn.CurrentStatus != models.CustomerReturnStatusApproved || customerReturn.ReceivedAt == nil {
			return nil, errors.New("return is not approved and received")
		}
		return &models.CustomerTxnEvent{
			BusinessId:    m.BusinessId,
			CustomerId:    customerReturn.CustomerId,
			Type:          models.TxnTypeReturn,
			AmountUsd:     customerReturn.AmountUsd,
			Date:          customerReturn.ReturnDate,
			SourceId:      customerReturn.ID,
			CorrelationId: m.CorrelationId,
		}, nil

	case models.TxnTypeCreditNote, models.TxnTypeDebitNote:
		var note models.CustomerCreditDebitNote
		if err := tx.Where("business_id = ? AND id = ?", m.BusinessId, m.ReferenceId).Take(&note).Error; err != nil {
			return nil, fmt.Errorf("note %d: %w", m.ReferenceId, err)
		}
		txnType := note.NoteType.TxnType()
		if string(txnType) != m.ReferenceType {
			return nil, fmt.Errorf("note %d is a %s, message says %s", note.ID, txnType, m.ReferenceType)
		}
		return &models.CustomerTxnEvent{
			BusinessId:    m.BusinessId,
			CustomerId:    note.CustomerId,
			Type:          txnType,
			AmountUsd:     note.AmountUsd,
			Date:          note.NoteDate,
			SourceId:      note.ID,
			CorrelationId: m.CorrelationId,
		}, nil
	}
	return nil, fmt.Errorf("unknown reference type %q", m.ReferenceType)
}
