package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/receivables_backend/config"
	"bitbucket.org/mmdatafocus/receivables_backend/models"
	"bitbucket.org/mmdatafocus/receivables_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type RebuildResult struct {
	CustomerId     int             `json:"customer_id"`
	MonthsRebuilt  int             `json:"months_rebuilt"`
	YearsRebuilt   int             `json:"years_rebuilt"`
	FinalBalance   decimal.Decimal `json:"final_balance"`
	SourceLines    int             `json:"source_lines"`
	PreviousDrift  bool            `json:"previous_drift"`
	PreviousCached decimal.Decimal `json:"previous_cached"`
}

// RebuildCustomerBalances throws away every checkpoint for one customer and
// re-derives the whole chain from the source tables. Incremental updates
// and rebuild must land on identical numbers; the rebuild is the recovery
// path when they do not.
func RebuildCustomerBalances(ctx context.Context, logger *logrus.Logger, customerId int) (*RebuildResult, error) {
	db := config.GetDB()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var result *RebuildResult
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = rebuildCustomerBalances2(tx, logger, businessId, customerId, correlationIdFromContext(ctx))
		return err
	})
	if err != nil {
		config.LogError(logger, "rebuildWorkflow.go", "RebuildCustomerBalances", "Transaction", customerId, err)
		return nil, err
	}
	return result, nil
}

// RebuildAllCustomerBalances runs the rebuild for every customer of the
// business, each in its own transaction so one bad customer does not roll
// back the rest.
func RebuildAllCustomerBalances(ctx context.Context, logger *logrus.Logger) ([]*RebuildResult, error) {
	db := config.GetDB()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var customerIds []int
	if err := db.WithContext(ctx).Model(&models.Customer{}).
		Where("business_id = ?", businessId).
		Order("id ASC").Pluck("id", &customerIds).Error; err != nil {
		return nil, err
	}

	results := make([]*RebuildResult, 0, len(customerIds))
	for _, id := range customerIds {
		result, err := RebuildCustomerBalances(ctx, logger, id)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func rebuildCustomerBalances2(tx *gorm.DB, logger *logrus.Logger, businessId string, customerId int, correlationId string) (*RebuildResult, error) {
	customer, err := models.GetCustomer2(tx, businessId, customerId)
	if err != nil {
		return nil, err
	}

	lines, err := models.FetchStatementLines(tx, businessId, customerId, models.StatementFilters{})
	if err != nil {
		return nil, err
	}
	models.SortStatementLines(lines)

	// Start from a clean slate; stale checkpoint rows must not survive.
	if err := tx.Where("business_id = ? AND customer_id = ?", businessId, customerId).
		Delete(&models.CustomerBalanceMonthly{}).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("business_id = ? AND customer_id = ?", businessId, customerId).
		Delete(&models.CustomerBalanceYearly{}).Error; err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	months := buildMonthlyCheckpoints(businessId, customerId, lines, now)
	for i := range months {
		if err := tx.Create(&months[i]).Error; err != nil {
			return nil, err
		}
	}

	years := map[int]bool{}
	for _, m := range months {
		years[m.Year] = true
	}
	for year := range years {
		if err := models.RollupBalanceYear(tx, businessId, customerId, year); err != nil {
			return nil, err
		}
	}
	if err := tx.Model(&models.CustomerBalanceYearly{}).
		Where("business_id = ? AND customer_id = ?", businessId, customerId).
		Update("last_verified_at", &now).Error; err != nil {
		return nil, err
	}

	finalBalance := decimal.Zero
	if len(months) > 0 {
		finalBalance = months[len(months)-1].ClosingBalance
	}
	drifted := !customer.CurrentBalance.Equal(finalBalance)
	if drifted {
		logger.WithFields(logrus.Fields{
			"businessId":    businessId,
			"customerId":    customerId,
			"cachedBalance": customer.CurrentBalance.String(),
			"rebuilt":       finalBalance.String(),
		}).Warn("rebuild corrected a drifted customer balance")
	}
	if err := tx.Model(&models.Customer{}).
		Where("business_id = ? AND id = ?", businessId, customerId).
		Update("current_balance", finalBalance).Error; err != nil {
		return nil, err
	}

	if err := config.RemoveRedisKey(customerBalanceCacheKey(businessId, customerId)); err != nil {
		logger.WithField("customerId", customerId).Warn("balance cache invalidation failed: ", err)
	}

	if err := models.PublishLedgerEvent(tx, models.CustomerTxnEvent{
		BusinessId:    businessId,
		CustomerId:    customerId,
		Date:          now,
		AmountUsd:     finalBalance,
		CorrelationId: correlationId,
	}, models.LedgerEventActionRebuilt); err != nil {
		return nil, err
	}

	return &RebuildResult{
		CustomerId:     customerId,
		MonthsRebuilt:  len(months),
		YearsRebuilt:   len(years),
		FinalBalance:   finalBalance,
		SourceLines:    len(lines),
		PreviousDrift:  drifted,
		PreviousCached: customer.CurrentBalance,
	}, nil
}

// buildMonthlyCheckpoints folds sorted statement lines into contiguous
// monthly rows. Months between the first and last activity with no lines
// still get a row carrying the closing balance forward.
func buildMonthlyCheckpoints(businessId string, customerId int, lines []models.StatementLine, verifiedAt time.Time) []models.CustomerBalanceMonthly {
	if len(lines) == 0 {
		return nil
	}

	type monthKey struct{ year, month int }
	byMonth := map[monthKey][]models.StatementLine{}
	for _, line := range lines {
		d := line.Date.UTC()
		key := monthKey{d.Year(), int(d.Month())}
		byMonth[key] = append(byMonth[key], line)
	}

	first := lines[0].Date.UTC()
	last := lines[len(lines)-1].Date.UTC()

	var months []models.CustomerBalanceMonthly
	closing := decimal.Zero
	year, month := first.Year(), int(first.Month())
	lastYear, lastMonth := last.Year(), int(last.Month())
	for {
		row := models.CustomerBalanceMonthly{
			BusinessId:     businessId,
			CustomerId:     customerId,
			Year:           year,
			Month:          month,
			LastVerifiedAt: &verifiedAt,
		}
		for _, line := range byMonth[monthKey{year, month}] {
			amount := line.Debit.Add(line.Credit)
			switch line.SourceType {
			case models.TxnTypeSale:
				row.TotalSale++
				row.TotalSaleAmount = row.TotalSaleAmount.Add(amount)
			case models.TxnTypeReturn:
				row.TotalReturn++
				row.TotalReturnAmount = row.TotalReturnAmount.Add(amount)
			case models.TxnTypePayment:
				row.TotalPayment++
				row.TotalPaymentAmount = row.TotalPaymentAmount.Add(amount)
			case models.TxnTypeCreditNote:
				row.TotalCreditNote++
				row.TotalCreditNoteAmount = row.TotalCreditNoteAmount.Add(amount)
			case models.TxnTypeDebitNote:
				row.TotalDebitNote++
				row.TotalDebitNoteAmount = row.TotalDebitNoteAmount.Add(amount)
			}
			row.TransactionTotal = row.TransactionTotal.Add(line.Credit).Sub(line.Debit)
			row.LastUpdatedBy = line.SourceType
			row.UpdatedByEntryId = line.SourceId
		}
		closing = closing.Add(row.TransactionTotal)
		row.ClosingBalance = closing
		months = append(months, row)

		if year == lastYear && month == lastMonth {
			break
		}
		if month == 12 {
			year, month = year+1, 1
		} else {
			month++
		}
	}
	return months
}

func customerBalanceCacheKey(businessId string, customerId int) string {
	return fmt.Sprintf("CustomerBalance:%s:%d", businessId, customerId)
}

func correlationIdFromContext(ctx context.Context) string {
	if v, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		return v
	}
	return ""
}
