package models

import (
	"sort"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/receivables_backend/config"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StatementLine is one row of a customer statement, reconstructed from the
// source tables rather than from the ledger checkpoints.
type StatementLine struct {
	ID          string          `json:"id"`
	SourceType  CustomerTxnType `json:"source_type"`
	SourceId    int             `json:"source_id"`
	Code        string          `json:"code"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Balance     decimal.Decimal `json:"balance"`
}

type StatementStats struct {
	TotalDebit  decimal.Decimal `json:"total_debit"`
	TotalCredit decimal.Decimal `json:"total_credit"`
	Balance     decimal.Decimal `json:"balance"`
}

type StatementFilters struct {
	FromDate *time.Time        `json:"from_date"`
	ToDate   *time.Time        `json:"to_date"`
	Search   string            `json:"search"`
	TxnTypes []CustomerTxnType `json:"txn_types"`
}

// hasNarrowing reports whether the filters exclude counted transactions in
// a way that makes the running balance column partial.
func (f StatementFilters) hasNarrowing() bool {
	return f.Search != "" || len(f.TxnTypes) > 0
}

func (f StatementFilters) wantsType(t CustomerTxnType) bool {
	if len(f.TxnTypes) == 0 {
		return true
	}
	for _, want := range f.TxnTypes {
		if want == t {
			return true
		}
	}
	return false
}

type StatementResponse struct {
	Lines          []StatementLine `json:"lines"`
	Stats          StatementStats  `json:"stats"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	TotalCount     int             `json:"total_count"`
}

// FetchStatementLines pulls every counted transaction from the four source
// tables, filter conditions pushed into the queries. Lines come back
// unsorted and without running balances.
func FetchStatementLines(tx *gorm.DB, businessId string, customerId int, filters StatementFilters) ([]StatementLine, error) {
	var lines []StatementLine

	if filters.wantsType(TxnTypeSale) {
		var sales []Sale
		query := tx.Where("business_id = ? AND customer_id = ? AND current_status = ?",
			businessId, customerId, SaleStatusApproved)
		query = applyDateRange(query, "sale_date", filters)
		if filters.Search != "" {
			query = query.Where("(sale_number LIKE ? OR reference_number LIKE ?)",
				"%"+filters.Search+"%", "%"+filters.Search+"%")
		}
		if err := query.Find(&sales).Error; err != nil {
			return nil, err
		}
		for _, s := range sales {
			lines = append(lines, StatementLine{
				ID:          "SL:" + strconv.Itoa(s.ID),
				SourceType:  TxnTypeSale,
				SourceId:    s.ID,
				Code:        s.SaleNumber,
				Date:        s.SaleDate,
				Description: s.Notes,
				Debit:       s.AmountUsd,
			})
		}
	}

	if filters.wantsType(TxnTypeReturn) {
		var returns []CustomerReturn
		query := tx.Where("business_id = ? AND customer_id = ? AND current_status = ? AND received_at IS NOT NULL",
			businessId, customerId, CustomerReturnStatusApproved)
		query = applyDateRange(query, "return_date", filters)
		if filters.Search != "" {
			query = query.Where("(return_number LIKE ? OR reference_number LIKE ?)",
				"%"+filters.Search+"%", "%"+filters.Search+"%")
		}
		if err := query.Find(&returns).Error; err != nil {
			return nil, err
		}
		for _, r := range returns {
			lines = append(lines, StatementLine{
				ID:          "RT:" + strconv.Itoa(r.ID),
				SourceType:  TxnTypeReturn,
				SourceId:    r.ID,
				Code:        r.ReturnNumber,
				Date:        r.ReturnDate,
				Description: r.Notes,
				Credit:      r.AmountUsd,
			})
		}
	}

	if filters.wantsType(TxnTypePayment) {
		var payments []CustomerPayment
		query := tx.Where("business_id = ? AND customer_id = ? AND current_status = ?",
			businessId, customerId, CustomerPaymentStatusApproved)
		query = applyDateRange(query, "payment_date", filters)
		if filters.Search != "" {
			query = query.Where("(payment_number LIKE ? OR reference_number LIKE ?)",
				"%"+filters.Search+"%", "%"+filters.Search+"%")
		}
		if err := query.Find(&payments).Error; err != nil {
			return nil, err
		}
		for _, p := range payments {
			lines = append(lines, StatementLine{
				ID:          "CP:" + strconv.Itoa(p.ID),
				SourceType:  TxnTypePayment,
				SourceId:    p.ID,
				Code:        p.PaymentNumber,
				Date:        p.PaymentDate,
				Description: p.Notes,
				Credit:      p.AmountUsd,
			})
		}
	}

	if filters.wantsType(TxnTypeCreditNote) || filters.wantsType(TxnTypeDebitNote) {
		var notes []CustomerCreditDebitNote
		query := tx.Where("business_id = ? AND customer_id = ?", businessId, customerId)
		query = applyDateRange(query, "note_date", filters)
		if filters.Search != "" {
			query = query.Where("(note_number LIKE ? OR reference_number LIKE ?)",
				"%"+filters.Search+"%", "%"+filters.Search+"%")
		}
		if err := query.Find(&notes).Error; err != nil {
			return nil, err
		}
		for _, n := range notes {
			txnType := n.NoteType.TxnType()
			if !filters.wantsType(txnType) {
				continue
			}
			line := StatementLine{
				SourceType:  txnType,
				SourceId:    n.ID,
				Code:        n.NoteNumber,
				Date:        n.NoteDate,
				Description: n.Notes,
			}
			if txnType == TxnTypeDebitNote {
				line.ID = "DN:" + strconv.Itoa(n.ID)
				line.Debit = n.AmountUsd
			} else {
				line.ID = "CN:" + strconv.Itoa(n.ID)
				line.Credit = n.AmountUsd
			}
			lines = append(lines, line)
		}
	}

	return lines, nil
}

func applyDateRange(query *gorm.DB, column string, filters StatementFilters) *gorm.DB {
	if filters.FromDate != nil {
		query = query.Where(column+" >= ?", filters.FromDate)
	}
	if filters.ToDate != nil {
		query = query.Where(column+" <= ?", filters.ToDate)
	}
	return query
}

// statementOpeningBalance sums every counted transaction strictly before
// fromDate, giving the balance the windowed statement starts from.
func statementOpeningBalance(tx *gorm.DB, businessId string, customerId int, fromDate time.Time) (decimal.Decimal, error) {
	before := fromDate
	earlier, err := FetchStatementLines(tx, businessId, customerId, StatementFilters{ToDate: &before})
	if err != nil {
		return decimal.Zero, err
	}
	opening := decimal.Zero
	for _, line := range earlier {
		if !line.Date.Before(fromDate) {
			continue
		}
		opening = opening.Add(line.Credit).Sub(line.Debit)
	}
	return opening, nil
}

// BuildCustomerStatement reconstructs the statement for one customer:
// fetch, deterministic sort, running balance walk, stats, then in-memory
// pagination (page is 1-based; limit <= 0 disables paging).
//
// A build with no date window and no narrowing filter covers every counted
// transaction, so its final balance is the ground truth; such builds also
// verify the cached customer balance and correct it on drift. With a search
// or type filter active the running balance is computed over the filtered
// lines only and starts at zero; it is indicative, not the ledger balance.
func BuildCustomerStatement(tx *gorm.DB, businessId string, customerId int, filters StatementFilters, page, limit int) (*StatementResponse, error) {
	statement, err := buildCustomerStatement(tx, businessId, customerId, filters, page, limit)
	if err != nil {
		return nil, err
	}
	if filters.FromDate == nil && filters.ToDate == nil && !filters.hasNarrowing() {
		if _, err := healDriftedBalance(tx, config.GetLogger(), businessId, customerId, statement.Stats.Balance); err != nil {
			return nil, err
		}
	}
	return statement, nil
}

func buildCustomerStatement(tx *gorm.DB, businessId string, customerId int, filters StatementFilters, page, limit int) (*StatementResponse, error) {
	lines, err := FetchStatementLines(tx, businessId, customerId, filters)
	if err != nil {
		return nil, err
	}

	SortStatementLines(lines)

	opening := decimal.Zero
	if filters.FromDate != nil && !filters.hasNarrowing() {
		opening, err = statementOpeningBalance(tx, businessId, customerId, *filters.FromDate)
		if err != nil {
			return nil, err
		}
	}

	stats := StatementStats{TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	balance := opening
	for i := range lines {
		balance = balance.Add(lines[i].Credit).Sub(lines[i].Debit)
		lines[i].Balance = balance
		stats.TotalDebit = stats.TotalDebit.Add(lines[i].Debit)
		stats.TotalCredit = stats.TotalCredit.Add(lines[i].Credit)
	}
	stats.Balance = balance

	totalCount := len(lines)
	if limit > 0 {
		start := (page - 1) * limit
		if start < 0 {
			start = 0
		}
		if start > totalCount {
			start = totalCount
		}
		end := start + limit
		if end > totalCount {
			end = totalCount
		}
		lines = lines[start:end]
	}

	return &StatementResponse{
		Lines:          lines,
		Stats:          stats,
		OpeningBalance: opening,
		TotalCount:     totalCount,
	}, nil
}

// SortStatementLines orders lines by date, then source rank, then source id.
// The rank keeps intermediate balances deterministic when several documents
// share a timestamp. The statement walk and the rebuild fold both use this
// order, so their audit pointers agree.
func SortStatementLines(lines []StatementLine) {
	sort.SliceStable(lines, func(i, j int) bool {
		if !lines[i].Date.Equal(lines[j].Date) {
			return lines[i].Date.Before(lines[j].Date)
		}
		ri, rj := statementSourceRank(lines[i].SourceType), statementSourceRank(lines[j].SourceType)
		if ri != rj {
			return ri < rj
		}
		return lines[i].SourceId < lines[j].SourceId
	})
}

// ReconcileCustomerBalance rebuilds the full unfiltered statement and
// compares its final balance against the cached customer balance. On drift
// the cached value is corrected from the statement, which is the source of
// truth.
func ReconcileCustomerBalance(tx *gorm.DB, logger *logrus.Logger, businessId string, customerId int) (drifted bool, statementBalance decimal.Decimal, err error) {
	statement, err := buildCustomerStatement(tx, businessId, customerId, StatementFilters{}, 0, 0)
	if err != nil {
		return false, decimal.Zero, err
	}
	statementBalance = statement.Stats.Balance
	drifted, err = healDriftedBalance(tx, logger, businessId, customerId, statementBalance)
	return drifted, statementBalance, err
}

// healDriftedBalance corrects the cached customer balance when it disagrees
// with the statement balance.
func healDriftedBalance(tx *gorm.DB, logger *logrus.Logger, businessId string, customerId int, statementBalance decimal.Decimal) (bool, error) {
	customer, err := GetCustomer2(tx, businessId, customerId)
	if err != nil {
		return false, err
	}
	if customer.CurrentBalance.Equal(statementBalance) {
		return false, nil
	}

	logger.WithFields(logrus.Fields{
		"businessId":       businessId,
		"customerId":       customerId,
		"cachedBalance":    customer.CurrentBalance.String(),
		"statementBalance": statementBalance.String(),
	}).Warn("customer balance drift detected; correcting from statement")

	err = tx.Model(&Customer{}).
		Where("business_id = ? AND id = ?", businessId, customerId).
		Update("current_balance", statementBalance).Error
	if err != nil {
		return true, err
	}
	if err := config.RemoveRedisKey(customerBalanceCacheKey(businessId, customerId)); err != nil {
		logger.WithField("customerId", customerId).Warn("balance cache invalidation failed: ", err)
	}
	return true, nil
}
