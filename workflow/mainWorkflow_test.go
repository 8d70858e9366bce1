package workflow_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/receivables_backend/config"
	"bitbucket.org/mmdatafocus/receivables_backend/models"
	"bitbucket.org/mmdatafocus/receivables_backend/workflow"
	"github.com/shopspring/decimal"
)

// Source rows recorded by an external system arrive without the inline
// ledger apply; the pubsub message is what folds them in.
func TestProcessMessageAppliesExternallyRecordedSale(t *testing.T) {
	db := newTestDB(t)
	ctx := newTestContext()
	logger := config.GetLogger()

	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: "External Co"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}

	approvedAt := date(2026, 7, 1)
	sale := models.Sale{
		BusinessId:    testBusinessId,
		CustomerId:    customer.ID,
		SaleNumber:    "EXT-SL-01",
		SaleDate:      date(2026, 7, 1),
		Currency:      models.CurrencyUSD,
		ExchangeRate:  decimal.NewFromInt(1),
		Amount:        decimal.NewFromInt(90),
		AmountUsd:     decimal.NewFromInt(90),
		CurrentStatus: models.SaleStatusApproved,
		ApprovedAt:    &approvedAt,
	}
	if err := db.Create(&sale).Error; err != nil {
		t.Fatalf("insert sale: %v", err)
	}

	msg := config.LedgerEvent{
		BusinessId:    testBusinessId,
		CustomerId:    customer.ID,
		ReferenceId:   sale.ID,
		ReferenceType: string(models.TxnTypeSale),
		Action:        string(models.LedgerEventActionPosted),
		CorrelationId: "corr-ext-01",
	}
	if err := workflow.ProcessMessage(ctx, logger, msg); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	var reloaded models.Customer
	if err := db.Take(&reloaded, customer.ID).Error; err != nil {
		t.Fatalf("reload customer: %v", err)
	}
	if !reloaded.CurrentBalance.Equal(decimal.NewFromInt(-90)) {
		t.Fatalf("balance = %s, want -90", reloaded.CurrentBalance)
	}

	// Redelivery is a no-op.
	if err := workflow.ProcessMessage(ctx, logger, msg); err != nil {
		t.Fatalf("redelivered ProcessMessage: %v", err)
	}
	if err := db.Take(&reloaded, customer.ID).Error; err != nil {
		t.Fatalf("reload customer: %v", err)
	}
	if !reloaded.CurrentBalance.Equal(decimal.NewFromInt(-90)) {
		t.Fatalf("balance after redelivery = %s, want -90", reloaded.CurrentBalance)
	}

	var keyCount int64
	if err := db.Model(&models.IdempotencyKey{}).
		Where("business_id = ?", testBusinessId).Count(&keyCount).Error; err != nil {
		t.Fatalf("count idempotency keys: %v", err)
	}
	if keyCount != 1 {
		t.Fatalf("idempotency keys = %d, want 1", keyCount)
	}
}

// Documents approved through the REST surface already hit the ledger
// inline; a Posted message echoing one of them must not apply it again.
func TestProcessMessageSkipsInlinePostedSale(t *testing.T) {
	db := newTestDB(t)
	ctx := newTestContext()
	logger := config.GetLogger()

	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: "Inline Co"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	sale, err := models.CreateSale(ctx, &models.NewSale{
		CustomerId: customer.ID,
		SaleNumber: "SL-INL-01",
		SaleDate:   date(2026, 9, 1),
		AmountUsd:  decimal.NewFromInt(50),
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if _, err := models.ApproveSale(ctx, sale.ID); err != nil {
		t.Fatalf("ApproveSale: %v", err)
	}

	var key models.IdempotencyKey
	if err := db.Where("business_id = ? AND handler_name = ? AND message_id = ?",
		testBusinessId, models.LedgerApplyHandler,
		models.LedgerApplyMessageId(models.TxnTypeSale, sale.ID)).Take(&key).Error; err != nil {
		t.Fatalf("load idempotency key: %v", err)
	}
	if key.Status != models.IdempotencyStatusSucceeded {
		t.Fatalf("key status = %s, want SUCCEEDED", key.Status)
	}

	msg := config.LedgerEvent{
		BusinessId:    testBusinessId,
		CustomerId:    customer.ID,
		ReferenceId:   sale.ID,
		ReferenceType: string(models.TxnTypeSale),
		Action:        string(models.LedgerEventActionPosted),
	}
	if err := workflow.ProcessMessage(ctx, logger, msg); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	var reloaded models.Customer
	if err := db.Take(&reloaded, customer.ID).Error; err != nil {
		t.Fatalf("reload customer: %v", err)
	}
	if !reloaded.CurrentBalance.Equal(decimal.NewFromInt(-50)) {
		t.Fatalf("balance = %s, want -50", reloaded.CurrentBalance)
	}

	month, err := models.GetBalanceMonth(db, testBusinessId, customer.ID, 2026, 9)
	if err != nil || month == nil {
		t.Fatalf("GetBalanceMonth: %v", err)
	}
	if month.TotalSale != 1 {
		t.Fatalf("total sale = %d, want 1", month.TotalSale)
	}
}

func TestProcessMessageRejectsDraftSale(t *testing.T) {
	db := newTestDB(t)
	ctx := newTestContext()
	logger := config.GetLogger()

	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: "Draft Co"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	sale, err := models.CreateSale(ctx, &models.NewSale{
		CustomerId: customer.ID,
		SaleNumber: "SL-DRAFT",
		SaleDate:   date(2026, 8, 1),
		AmountUsd:  decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	msg := config.LedgerEvent{
		BusinessId:    testBusinessId,
		CustomerId:    customer.ID,
		ReferenceId:   sale.ID,
		ReferenceType: string(models.TxnTypeSale),
	}
	if err := workflow.ProcessMessage(ctx, logger, msg); err == nil {
		t.Fatal("expected error for draft sale")
	}

	var reloaded models.Customer
	if err := db.Take(&reloaded, customer.ID).Error; err != nil {
		t.Fatalf("reload customer: %v", err)
	}
	if !reloaded.CurrentBalance.IsZero() {
		t.Fatalf("balance = %s, want 0", reloaded.CurrentBalance)
	}

	var key models.IdempotencyKey
	if err := db.Where("business_id = ?", testBusinessId).Take(&key).Error; err != nil {
		t.Fatalf("load idempotency key: %v", err)
	}
	if key.Status != models.IdempotencyStatusFailed {
		t.Fatalf("key status = %s, want FAILED", key.Status)
	}
}

func TestProcessMessageIgnoresNonPostedActions(t *testing.T) {
	newTestDB(t)
	ctx := newTestContext()

	msg := config.LedgerEvent{
		BusinessId:    testBusinessId,
		CustomerId:    1,
		ReferenceId:   1,
		ReferenceType: string(models.TxnTypeSale),
		Action:        string(models.LedgerEventActionRebuilt),
	}
	if err := workflow.ProcessMessage(ctx, config.GetLogger(), msg); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
}
