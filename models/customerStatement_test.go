package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/receivables_backend/config"
	"bitbucket.org/mmdatafocus/receivables_backend/models"
	"github.com/shopspring/decimal"
)

func TestStatementTieBreakOrdering(t *testing.T) {
	db := newTestDB(t)
	ctx := newTestContext()

	customer := createCustomer(t, ctx, "Tie Co")
	when := date(2026, 3, 15)

	// Insert in reverse of the expected order; the sort must not depend on
	// creation order.
	createNote(t, ctx, customer.ID, "DN-01", models.NoteTypeDebit, when, 1)
	createNote(t, ctx, customer.ID, "CN-01", models.NoteTypeCredit, when, 2)
	approvedPayment(t, ctx, customer.ID, "CP-01", when, 3)
	receivedReturn(t, ctx, customer.ID, "RT-01", when, 4)
	approvedSale(t, ctx, customer.ID, "SL-01", when, 10)

	statement, err := models.BuildCustomerStatement(db, testBusinessId, customer.ID, models.StatementFilters{}, 0, 0)
	if err != nil {
		t.Fatalf("BuildCustomerStatement: %v", err)
	}
	if len(statement.Lines) != 5 {
		t.Fatalf("lines = %d, want 5", len(statement.Lines))
	}
	wantOrder := []models.CustomerTxnType{
		models.TxnTypeSale, models.TxnTypeReturn, models.TxnTypePayment,
		models.TxnTypeCreditNote, models.TxnTypeDebitNote,
	}
	for i, want := range wantOrder {
		if statement.Lines[i].SourceType != want {
			t.Fatalf("line %d = %s, want %s", i, statement.Lines[i].SourceType, want)
		}
	}

	// Running balance: -10, -6, -3, -1, -2.
	wantBalances := []int64{-10, -6, -3, -1, -2}
	for i, want := range wantBalances {
		if !statement.Lines[i].Balance.Equal(decimal.NewFromInt(want)) {
			t.Fatalf("line %d balance = %s, want %d", i, statement.Lines[i].Balance, want)
		}
	}
	wantDecimal(t, statement.Stats.TotalDebit, 11, "total debit")
	wantDecimal(t, statement.Stats.TotalCredit, 9, "total credit")
	wantDecimal(t, statement.Stats.Balance, -2, "statement balance")
}

func TestStatementDateWindowCarriesOpeningBalance(t *testing.T) {
	db := newTestDB(t)
	ctx := newTestContext()

	customer := createCustomer(t, ctx, "Window Co")
	approvedSale(t, ctx, customer.ID, "SL-11", date(2026, 1, 10), 100)
	approvedPayment(t, ctx, customer.ID, "CP-11", date(2026, 2, 5), 40)
	approvedSale(t, ctx, customer.ID, "SL-12", date(2026, 2, 20), 25)

	from := date(2026, 2, 1)
	to := date(2026, 2, 28)
	statement, err := models.BuildCustomerStatement(db, testBusinessId, customer.ID, models.StatementFilters{
		FromDate: &from,
		ToDate:   &to,
	}, 0, 0)
	if err != nil {
		t.Fatalf("BuildCustomerStatement: %v", err)
	}
	if len(statement.Lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(statement.Lines))
	}
	wantDecimal(t, statement.OpeningBalance, -100, "opening balance")
	wantDecimal(t, statement.Lines[0].Balance, -60, "balance after payment")
	wantDecimal(t, statement.Lines[1].Balance, -85, "balance after second sale")
}

func TestStatementTypeAndSearchFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := newTestContext()

	customer := createCustomer(t, ctx, "Filter Co")
	approvedSale(t, ctx, customer.ID, "SL-21", date(2026, 4, 1), 10)
	approvedSale(t, ctx, customer.ID, "SL-22", date(2026, 4, 2), 20)
	approvedPayment(t, ctx, customer.ID, "CP-21", date(2026, 4, 3), 5)

	byType, err := models.BuildCustomerStatement(db, testBusinessId, customer.ID, models.StatementFilters{
		TxnTypes: []models.CustomerTxnType{models.TxnTypePayment},
	}, 0, 0)
	if err != nil {
		t.Fatalf("type filter: %v", err)
	}
	if len(byType.Lines) != 1 || byType.Lines[0].SourceType != models.TxnTypePayment {
		t.Fatalf("type filter lines: %+v", byType.Lines)
	}

	bySearch, err := models.BuildCustomerStatement(db, testBusinessId, customer.ID, models.StatementFilters{
		Search: "SL-22",
	}, 0, 0)
	if err != nil {
		t.Fatalf("search filter: %v", err)
	}
	if len(bySearch.Lines) != 1 || bySearch.Lines[0].Code != "SL-22" {
		t.Fatalf("search filter lines: %+v", bySearch.Lines)
	}
}

func TestStatementPagination(t *testing.T) {
	db := newTestDB(t)
	ctx := newTestContext()

	customer := createCustomer(t, ctx, "Page Co")
	for day := 1; day <= 5; day++ {
		approvedSale(t, ctx, customer.ID, "SL-3"+string(rune('0'+day)), date(2026, 5, day), int64(day))
	}

	page2, err := models.BuildCustomerStatement(db, testBusinessId, customer.ID, models.StatementFilters{}, 2, 2)
	if err != nil {
		t.Fatalf("BuildCustomerStatement: %v", err)
	}
	if page2.TotalCount != 5 {
		t.Fatalf("total count = %d, want 5", page2.TotalCount)
	}
	if len(page2.Lines) != 2 {
		t.Fatalf("page lines = %d, want 2", len(page2.Lines))
	}
	// Third and fourth lines chronologically.
	wantDecimal(t, page2.Lines[0].Debit, 3, "first line on page 2")
	wantDecimal(t, page2.Lines[1].Debit, 4, "second line on page 2")

	// Balances keep their position in the full walk even when paginated.
	wantDecimal(t, page2.Lines[0].Balance, -6, "running balance on page 2")
}

func TestReconcileHealsDriftedBalance(t *testing.T) {
	db := newTestDB(t)
	ctx := newTestContext()

	customer := createCustomer(t, ctx, "Drift Co")
	approvedSale(t, ctx, customer.ID, "SL-41", date(2026, 6, 1), 80)
	approvedPayment(t, ctx, customer.ID, "CP-41", date(2026, 6, 10), 30)

	// Corrupt the cached balance behind the ledger's back.
	if err := db.Model(&models.Customer{}).Where("id = ?", customer.ID).
		Update("current_balance", decimal.NewFromInt(999)).Error; err != nil {
		t.Fatalf("corrupt balance: %v", err)
	}

	logger := config.GetLogger()
	drifted, balance, err := models.ReconcileCustomerBalance(db, logger, testBusinessId, customer.ID)
	if err != nil {
		t.Fatalf("ReconcileCustomerBalance: %v", err)
	}
	if !drifted {
		t.Fatal("expected drift to be detected")
	}
	wantDecimal(t, balance, -50, "statement balance")
	wantDecimal(t, reloadCustomer(t, ctx, customer.ID).CurrentBalance, -50, "healed balance")

	// Second pass is a no-op.
	drifted, _, err = models.ReconcileCustomerBalance(db, logger, testBusinessId, customer.ID)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if drifted {
		t.Fatal("no drift expected after healing")
	}
}

func TestUnfilteredStatementBuildHealsDrift(t *testing.T) {
	db := newTestDB(t)
	ctx := newTestContext()

	customer := createCustomer(t, ctx, "Heal Co")
	approvedSale(t, ctx, customer.ID, "SL-51", date(2026, 7, 1), 80)

	if err := db.Model(&models.Customer{}).Where("id = ?", customer.ID).
		Update("current_balance", decimal.NewFromInt(999)).Error; err != nil {
		t.Fatalf("corrupt balance: %v", err)
	}

	// A windowed build covers a slice only, so it must not touch the cache.
	from := date(2026, 7, 1)
	if _, err := models.BuildCustomerStatement(db, testBusinessId, customer.ID, models.StatementFilters{
		FromDate: &from,
	}, 0, 0); err != nil {
		t.Fatalf("windowed build: %v", err)
	}
	wantDecimal(t, reloadCustomer(t, ctx, customer.ID).CurrentBalance, 999, "balance after windowed build")

	// The unfiltered build covers everything and corrects the drift.
	statement, err := models.BuildCustomerStatement(db, testBusinessId, customer.ID, models.StatementFilters{}, 0, 0)
	if err != nil {
		t.Fatalf("unfiltered build: %v", err)
	}
	wantDecimal(t, statement.Stats.Balance, -80, "statement balance")
	wantDecimal(t, reloadCustomer(t, ctx, customer.ID).CurrentBalance, -80, "healed balance")
}
