package reports

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/receivables_backend/config"
	"bitbucket.org/mmdatafocus/receivables_backend/utils"
	"github.com/shopspring/decimal"
)

type CustomerBalance struct {
	CustomerID      int             `json:"customerId"`
	CustomerName    string          `json:"customerName"`
	TotalDebit      decimal.Decimal `json:"totalDebit"`
	TotalCredit     decimal.Decimal `json:"totalCredit"`
	CurrentBalance  decimal.Decimal `json:"currentBalance"`
	CreditLimit     decimal.Decimal `json:"creditLimit"`
	OwedAmount      decimal.Decimal `json:"owedAmount"`
	MonthsOnLedger  int             `json:"monthsOnLedger"`
	LastActivityKey string          `json:"lastActivityKey"`
}

// GetCustomerBalanceReport summarizes every customer of the business from
// the monthly checkpoints. Debit is sales plus debit notes; credit is
// payments, returns and credit notes. Owed amount is the negated running
// balance, clamped at zero.
func GetCustomerBalanceReport(ctx context.Context) ([]*CustomerBalance, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	sql := `
SELECT
    c.id AS customer_id,
    c.name AS customer_name,
    c.current_balance AS current_balance,
    c.credit_limit AS credit_limit,
    COALESCE(SUM(m.total_sale_amount + m.total_debit_note_amount), 0) AS total_debit,
    COALESCE(SUM(m.total_payment_amount + m.total_return_amount + m.total_credit_note_amount), 0) AS total_credit,
    COUNT(m.id) AS months_on_ledger,
    COALESCE(MAX(m.year * 100 + m.month), 0) AS last_activity
FROM
    customers c
    LEFT JOIN customer_balance_monthlies m
        ON m.business_id = c.business_id AND m.customer_id = c.id
WHERE
    c.business_id = @businessId
GROUP BY
    c.id, c.name, c.current_balance, c.credit_limit
ORDER BY
    c.id
`

	type row struct {
		CustomerID     int
		CustomerName   string
		CurrentBalance decimal.Decimal
		CreditLimit    decimal.Decimal
		TotalDebit     decimal.Decimal
		TotalCredit    decimal.Decimal
		MonthsOnLedger int
		LastActivity   int
	}

	var rows []row
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"businessId": businessId,
	}).Scan(&rows).Error; err != nil {
		return nil, err
	}

	records := make([]*CustomerBalance, 0, len(rows))
	for _, r := range rows {
		owed := r.CurrentBalance.Neg()
		if owed.IsNegative() {
			owed = decimal.Zero
		}
		lastActivityKey := ""
		if r.LastActivity > 0 {
			lastActivityKey = formatYearMonth(r.LastActivity/100, r.LastActivity%100)
		}
		records = append(records, &CustomerBalance{
			CustomerID:      r.CustomerID,
			CustomerName:    r.CustomerName,
			TotalDebit:      r.TotalDebit,
			TotalCredit:     r.TotalCredit,
			CurrentBalance:  r.CurrentBalance,
			CreditLimit:     r.CreditLimit,
			OwedAmount:      owed,
			MonthsOnLedger:  r.MonthsOnLedger,
			LastActivityKey: lastActivityKey,
		})
	}
	return records, nil
}
