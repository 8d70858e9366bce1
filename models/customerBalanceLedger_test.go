package models_test

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/receivables_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 10, 0, 0, 0, time.UTC)
}

func createCustomer(t *testing.T, ctx context.Context, name string) *models.Customer {
	t.Helper()
	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: name})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	return customer
}

func approvedSale(t *testing.T, ctx context.Context, customerId int, number string, saleDate time.Time, amount int64) *models.Sale {
	t.Helper()
	sale, err := models.CreateSale(ctx, &models.NewSale{
		CustomerId: customerId,
		SaleNumber: number,
		SaleDate:   saleDate,
		AmountUsd:  decimal.NewFromInt(amount),
	})
	if err != nil {
		t.Fatalf("CreateSale %s: %v", number, err)
	}
	sale, err = models.ApproveSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("ApproveSale %s: %v", number, err)
	}
	return sale
}

func approvedPayment(t *testing.T, ctx context.Context, customerId int, number string, paymentDate time.Time, amount int64) *models.CustomerPayment {
	t.Helper()
	payment, err := models.CreateCustomerPayment(ctx, &models.NewCustomerPayment{
		CustomerId:    customerId,
		PaymentNumber: number,
		PaymentDate:   paymentDate,
		AmountUsd:     decimal.NewFromInt(amount),
	})
	if err != nil {
		t.Fatalf("CreateCustomerPayment %s: %v", number, err)
	}
	payment, err = models.ApproveCustomerPayment(ctx, payment.ID)
	if err != nil {
		t.Fatalf("ApproveCustomerPayment %s: %v", number, err)
	}
	return payment
}

func receivedReturn(t *testing.T, ctx context.Context, customerId int, number string, returnDate time.Time, amount int64) *models.CustomerReturn {
	t.Helper()
	customerReturn, err := models.CreateCustomerReturn(ctx, &models.NewCustomerReturn{
		CustomerId:   customerId,
		ReturnNumber: number,
		ReturnDate:   returnDate,
		AmountUsd:    decimal.NewFromInt(amount),
	})
	if err != nil {
		t.Fatalf("CreateCustomerReturn %s: %v", number, err)
	}
	if _, err := models.ApproveCustomerReturn(ctx, customerReturn.ID); err != nil {
		t.Fatalf("ApproveCustomerReturn %s: %v", number, err)
	}
	customerReturn, err = models.ReceiveCustomerReturn(ctx, customerReturn.ID)
	if err != nil {
		t.Fatalf("ReceiveCustomerReturn %s: %v", number, err)
	}
	return customerReturn
}

func createNote(t *testing.T, ctx context.Context, customerId int, number string, noteType models.CreditDebitNoteType, noteDate time.Time, amount int64) *models.CustomerCreditDebitNote {
	t.Helper()
	note, err := models.CreateCustomerCreditDebitNote(ctx, &models.NewCustomerCreditDebitNote{
		CustomerId: customerId,
		NoteNumber: number,
		NoteDate:   noteDate,
		NoteType:   noteType,
		AmountUsd:  decimal.NewFromInt(amount),
	})
	if err != nil {
		t.Fatalf("CreateCustomerCreditDebitNote %s: %v", number, err)
	}
	return note
}

func mustBalanceMonth(t *testing.T, db *gorm.DB, customerId, year, month int) *models.CustomerBalanceMonthly {
	t.Helper()
	row, err := models.GetBalanceMonth(db, testBusinessId, customerId, year, month)
	if err != nil {
		t.Fatalf("GetBalanceMonth %d-%02d: %v", year, month, err)
	}
	if row == nil {
		t.Fatalf("GetBalanceMonth %d-%02d: no row", year, month)
	}
	return row
}

func reloadCustomer(t *testing.T, ctx context.Context, id int) *models.Customer {
	t.Helper()
	customer, err := models.GetCustomer(ctx, id)
	if err != nil {
		t.Fatalf("GetCustomer: %v", err)
	}
	return customer
}

func wantDecimal(t *testing.T, got decimal.Decimal, want int64, label string) {
	t.Helper()
	if !got.Equal(decimal.NewFromInt(want)) {
		t.Fatalf("%s = %s, want %d", label, got, want)
	}
}

func TestLedgerScenarioWithBackdatedCreditNote(t *testing.T) {
	db := newTestDB(t)
	ctx := newTestContext()

	customer := createCustomer(t, ctx, "Acme Traders")

	approvedSale(t, ctx, customer.ID, "SL-0001", date(2026, 1, 15), 100)
	wantDecimal(t, reloadCustomer(t, ctx, customer.ID).CurrentBalance, -100, "balance after sale")

	approvedPayment(t, ctx, customer.ID, "CP-0001", date(2026, 1, 20), 60)
	wantDecimal(t, reloadCustomer(t, ctx, customer.ID).CurrentBalance, -40, "balance after payment")

	jan := mustBalanceMonth(t, db, customer.ID, 2026, 1)
	if jan.TotalSale != 1 || jan.TotalPayment != 1 {
		t.Fatalf("jan counters: sale=%d payment=%d, want 1/1", jan.TotalSale, jan.TotalPayment)
	}
	wantDecimal(t, jan.TotalSaleAmount, 100, "jan sale amount")
	wantDecimal(t, jan.TotalPaymentAmount, 60, "jan payment amount")
	wantDecimal(t, jan.TransactionTotal, -40, "jan transaction total")
	wantDecimal(t, jan.ClosingBalance, -40, "jan closing")

	// Approval alone must not post a return; only the receipt counts.
	customerReturn, err := models.CreateCustomerReturn(ctx, &models.NewCustomerReturn{
		CustomerId:   customer.ID,
		ReturnNumber: "RT-0001",
		ReturnDate:   date(2026, 2, 10),
		AmountUsd:    decimal.NewFromInt(20),
	})
	if err != nil {
		t.Fatalf("CreateCustomerReturn: %v", err)
	}
	if _, err := models.ApproveCustomerReturn(ctx, customerReturn.ID); err != nil {
		t.Fatalf("ApproveCustomerReturn: %v", err)
	}
	wantDecimal(t, reloadCustomer(t, ctx, customer.ID).CurrentBalance, -40, "balance after approve-only return")
	if feb, _ := models.GetBalanceMonth(db, testBusinessId, customer.ID, 2026, 2); feb != nil {
		t.Fatal("february checkpoint should not exist before the return is received")
	}

	if _, err := models.ReceiveCustomerReturn(ctx, customerReturn.ID); err != nil {
		t.Fatalf("ReceiveCustomerReturn: %v", err)
	}
	wantDecimal(t, reloadCustomer(t, ctx, customer.ID).CurrentBalance, -20, "balance after return received")

	feb := mustBalanceMonth(t, db, customer.ID, 2026, 2)
	if feb.TotalReturn != 1 {
		t.Fatalf("feb TotalReturn = %d, want 1", feb.TotalReturn)
	}
	wantDecimal(t, feb.TransactionTotal, 20, "feb transaction total")
	wantDecimal(t, feb.ClosingBalance, -20, "feb closing")

	// Backdated credit note lands in January and ripples through February.
	createNote(t, ctx, customer.ID, "CN-0001", models.NoteTypeCredit, date(2026, 1, 25), 5)

	jan = mustBalanceMonth(t, db, customer.ID, 2026, 1)
	if jan.TotalCreditNote != 1 {
		t.Fatalf("jan TotalCreditNote = %d, want 1", jan.TotalCreditNote)
	}
	wantDecimal(t, jan.TransactionTotal, -35, "jan transaction total after backdate")
	wantDecimal(t, jan.ClosingBalance, -35, "jan closing after backdate")

	feb = mustBalanceMonth(t, db, customer.ID, 2026, 2)
	if feb.TotalReturn != 1 || feb.TotalCreditNote != 0 {
		t.Fatalf("feb counters changed by backdated note: return=%d creditNote=%d", feb.TotalReturn, feb.TotalCreditNote)
	}
	wantDecimal(t, feb.TransactionTotal, 20, "feb transaction total after backdate")
	wantDecimal(t, feb.ClosingBalance, -15, "feb closing after backdate")

	wantDecimal(t, reloadCustomer(t, ctx, customer.ID).CurrentBalance, -15, "final balance")

	// Yearly rollup covers every monthly row of the year.
	year, err := models.GetBalanceYear(db, testBusinessId, customer.ID, 2026)
	if err != nil {
		t.Fatalf("GetBalanceYear: %v", err)
	}
	if year == nil {
		t.Fatal("yearly checkpoint missing")
	}
	if year.TotalSale != 1 || year.TotalPayment != 1 || year.TotalReturn != 1 || year.TotalCreditNote != 1 {
		t.Fatalf("yearly counters: %+v", year)
	}
	wantDecimal(t, year.TransactionTotal, -15, "yearly transaction total")
	wantDecimal(t, year.ClosingBalance, -15, "yearly closing")

	// Ledger and statement must land on the same number.
	statement, err := models.BuildCustomerStatement(db, testBusinessId, customer.ID, models.StatementFilters{}, 0, 0)
	if err != nil {
		t.Fatalf("BuildCustomerStatement: %v", err)
	}
	if !statement.Stats.Balance.Equal(decimal.NewFromInt(-15)) {
		t.Fatalf("statement balance = %s, want -15", statement.Stats.Balance)
	}
}

func TestLedgerGapMonthsMaterialized(t *testing.T) {
	db := newTestDB(t)
	ctx := newTestContext()

	customer := createCustomer(t, ctx, "Gap Co")
	approvedSale(t, ctx, customer.ID, "SL-1001", date(2026, 1, 10), 50)
	createNote(t, ctx, customer.ID, "DN-1001", models.NoteTypeDebit, date(2026, 4, 5), 10)

	for _, month := range []int{2, 3} {
		row := mustBalanceMonth(t, db, customer.ID, 2026, month)
		if row.TotalSale != 0 || row.TotalDebitNote != 0 {
			t.Fatalf("gap month %d has activity: %+v", month, row)
		}
		wantDecimal(t, row.TransactionTotal, 0, "gap month transaction total")
		wantDecimal(t, row.ClosingBalance, -50, "gap month carried closing")
	}

	apr := mustBalanceMonth(t, db, customer.ID, 2026, 4)
	wantDecimal(t, apr.ClosingBalance, -60, "april closing")
}

func TestLedgerBackdatedBeforeFirstMonth(t *testing.T) {
	db := newTestDB(t)
	ctx := newTestContext()

	customer := createCustomer(t, ctx, "Backdate Co")
	approvedSale(t, ctx, customer.ID, "SL-2001", date(2026, 3, 10), 30)
	approvedPayment(t, ctx, customer.ID, "CP-2001", date(2026, 1, 5), 30)

	jan := mustBalanceMonth(t, db, customer.ID, 2026, 1)
	wantDecimal(t, jan.TransactionTotal, 30, "jan transaction total")
	wantDecimal(t, jan.ClosingBalance, 30, "jan closing")

	mar := mustBalanceMonth(t, db, customer.ID, 2026, 3)
	wantDecimal(t, mar.ClosingBalance, 0, "mar closing after backdated payment")
	if mar.TotalPayment != 0 {
		t.Fatalf("mar TotalPayment = %d, want 0", mar.TotalPayment)
	}
	if mar.LastVerifiedAt != nil {
		t.Fatal("backdated write should clear the later month's verified stamp")
	}

	wantDecimal(t, reloadCustomer(t, ctx, customer.ID).CurrentBalance, 0, "final balance")
}

func TestLedgerYearBoundaryPropagation(t *testing.T) {
	db := newTestDB(t)
	ctx := newTestContext()

	customer := createCustomer(t, ctx, "Year Co")
	approvedSale(t, ctx, customer.ID, "SL-3001", date(2025, 12, 20), 40)
	approvedSale(t, ctx, customer.ID, "SL-3002", date(2026, 1, 8), 10)

	// Backdated payment into December must ripple into the next year.
	approvedPayment(t, ctx, customer.ID, "CP-3001", date(2025, 12, 28), 25)

	dec := mustBalanceMonth(t, db, customer.ID, 2025, 12)
	wantDecimal(t, dec.ClosingBalance, -15, "dec closing")

	jan := mustBalanceMonth(t, db, customer.ID, 2026, 1)
	wantDecimal(t, jan.ClosingBalance, -25, "jan closing")

	y2025, err := models.GetBalanceYear(db, testBusinessId, customer.ID, 2025)
	if err != nil || y2025 == nil {
		t.Fatalf("GetBalanceYear 2025: %v %v", y2025, err)
	}
	wantDecimal(t, y2025.ClosingBalance, -15, "2025 closing")

	y2026, err := models.GetBalanceYear(db, testBusinessId, customer.ID, 2026)
	if err != nil || y2026 == nil {
		t.Fatalf("GetBalanceYear 2026: %v %v", y2026, err)
	}
	wantDecimal(t, y2026.ClosingBalance, -25, "2026 closing")
}

func TestCustomerOpeningBalancePostsApprovedSale(t *testing.T) {
	db := newTestDB(t)
	ctx := newTestContext()

	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{
		Name:           "Opening Co",
		OpeningBalance: decimal.NewFromInt(200),
	})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	wantDecimal(t, customer.CurrentBalance, -200, "balance after opening")

	var sale models.Sale
	if err := db.Where("business_id = ? AND customer_id = ? AND sale_number = ?",
		testBusinessId, customer.ID, models.OpeningBalanceSaleCode).Take(&sale).Error; err != nil {
		t.Fatalf("opening sale not found: %v", err)
	}
	if sale.CurrentStatus != models.SaleStatusApproved {
		t.Fatalf("opening sale status = %s, want Approved", sale.CurrentStatus)
	}

	statement, err := models.BuildCustomerStatement(db, testBusinessId, customer.ID, models.StatementFilters{}, 0, 0)
	if err != nil {
		t.Fatalf("BuildCustomerStatement: %v", err)
	}
	if !statement.Stats.Balance.Equal(customer.CurrentBalance) {
		t.Fatalf("statement balance %s != cached %s", statement.Stats.Balance, customer.CurrentBalance)
	}
}

func TestSaleCreditLimitEnforced(t *testing.T) {
	newTestDB(t)
	ctx := newTestContext()

	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{
		Name:        "Limited Co",
		CreditLimit: decimal.NewFromInt(150),
	})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}

	approvedSale(t, ctx, customer.ID, "SL-4001", date(2026, 5, 1), 100)

	sale, err := models.CreateSale(ctx, &models.NewSale{
		CustomerId: customer.ID,
		SaleNumber: "SL-4002",
		SaleDate:   date(2026, 5, 2),
		AmountUsd:  decimal.NewFromInt(60),
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if _, err := models.ApproveSale(ctx, sale.ID); err == nil {
		t.Fatal("expected credit limit rejection")
	}

	// A payment frees headroom and the same sale approves.
	approvedPayment(t, ctx, customer.ID, "CP-4001", date(2026, 5, 3), 50)
	if _, err := models.ApproveSale(ctx, sale.ID); err != nil {
		t.Fatalf("ApproveSale after payment: %v", err)
	}
	wantDecimal(t, reloadCustomer(t, ctx, customer.ID).CurrentBalance, -110, "final balance")
}

func TestLedgerOutboxRecordWritten(t *testing.T) {
	db := newTestDB(t)
	ctx := newTestContext()

	customer := createCustomer(t, ctx, "Outbox Co")
	sale := approvedSale(t, ctx, customer.ID, "SL-5001", date(2026, 6, 1), 75)

	var records []models.LedgerEventRecord
	if err := db.Where("business_id = ? AND customer_id = ?", testBusinessId, customer.ID).
		Find(&records).Error; err != nil {
		t.Fatalf("load outbox: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("outbox records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.ReferenceId != sale.ID || rec.ReferenceType != models.TxnTypeSale {
		t.Fatalf("outbox reference = %s:%d, want Sale:%d", rec.ReferenceType, rec.ReferenceId, sale.ID)
	}
	if rec.PublishStatus != models.OutboxPublishStatusPending {
		t.Fatalf("outbox status = %s, want PENDING", rec.PublishStatus)
	}
	if rec.CorrelationId == "" {
		t.Fatal("outbox record missing correlation id")
	}
}
