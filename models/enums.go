package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CustomerTxnType enumerates the transaction sources counted in the
// customer ledger.
type CustomerTxnType string

const (
	TxnTypeSale       CustomerTxnType = "Sale"
	TxnTypePayment    CustomerTxnType = "Payment"
	TxnTypeReturn     CustomerTxnType = "Return"
	TxnTypeCreditNote CustomerTxnType = "CreditNote"
	TxnTypeDebitNote  CustomerTxnType = "DebitNote"
)

func (t CustomerTxnType) IsValid() bool {
	switch t {
	case TxnTypeSale, TxnTypePayment, TxnTypeReturn, TxnTypeCreditNote, TxnTypeDebitNote:
		return true
	}
	return false
}

var (
	plusOne  = decimal.NewFromInt(1)
	minusOne = decimal.NewFromInt(-1)
)

// SignedEffect is the single place the debit/credit convention lives.
//
// Debit-side types (Sale, DebitNote) return +1: they increase what the
// customer owes and fill the statement's debit column. Credit-side types
// (Payment, Return, CreditNote) return -1 and fill the credit column.
func SignedEffect(t CustomerTxnType) decimal.Decimal {
	switch t {
	case TxnTypeSale, TxnTypeDebitNote:
		return plusOne
	case TxnTypePayment, TxnTypeReturn, TxnTypeCreditNote:
		return minusOne
	}
	panic(fmt.Sprintf("unknown customer transaction type %q", t))
}

// BalanceDelta converts an absolute USD amount into the signed movement
// stored in the ledger. Ledger balances follow the statement's running
// balance column (balance += credit - debit), so a debit-side transaction
// moves the balance down. Every ledger write and the statement walk must
// agree on this, which is why both route through here.
func BalanceDelta(t CustomerTxnType, amountUsd decimal.Decimal) decimal.Decimal {
	return amountUsd.Mul(SignedEffect(t)).Neg()
}

// statementSourceRank is the tie-break order for statement lines sharing a
// timestamp: sales, then returns, then payments, then notes, then source id.
// Intermediate running balances depend on it; the final balance does not.
func statementSourceRank(t CustomerTxnType) int {
	switch t {
	case TxnTypeSale:
		return 0
	case TxnTypeReturn:
		return 1
	case TxnTypePayment:
		return 2
	case TxnTypeCreditNote:
		return 3
	case TxnTypeDebitNote:
		return 4
	}
	return 5
}

type SaleStatus string

const (
	SaleStatusDraft    SaleStatus = "Draft"
	SaleStatusApproved SaleStatus = "Approved"
	SaleStatusVoid     SaleStatus = "Void"
)

type CustomerPaymentStatus string

const (
	CustomerPaymentStatusDraft    CustomerPaymentStatus = "Draft"
	CustomerPaymentStatusApproved CustomerPaymentStatus = "Approved"
	CustomerPaymentStatusVoid     CustomerPaymentStatus = "Void"
)

type CustomerReturnStatus string

const (
	CustomerReturnStatusDraft    CustomerReturnStatus = "Draft"
	CustomerReturnStatusApproved CustomerReturnStatus = "Approved"
	CustomerReturnStatusVoid     CustomerReturnStatus = "Void"
)

// CreditDebitNoteType distinguishes the two note directions sharing one table.
type CreditDebitNoteType string

const (
	NoteTypeCredit CreditDebitNoteType = "Credit"
	NoteTypeDebit  CreditDebitNoteType = "Debit"
)

func (n CreditDebitNoteType) TxnType() CustomerTxnType {
	if n == NoteTypeDebit {
		return TxnTypeDebitNote
	}
	return TxnTypeCreditNote
}

// Ledger event actions carried on outbox / pubsub messages.
type LedgerEventAction string

const (
	LedgerEventActionPosted    LedgerEventAction = "Posted"
	LedgerEventActionRebuilt   LedgerEventAction = "Rebuilt"
	LedgerEventActionReconcile LedgerEventAction = "Reconciled"
)

// Outbox publish lifecycle.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// Idempotency key lifecycle for inbound event handlers.
const (
	IdempotencyStatusStarted   = "STARTED"
	IdempotencyStatusSucceeded = "SUCCEEDED"
	IdempotencyStatusFailed    = "FAILED"
)
