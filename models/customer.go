package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/receivables_backend/config"
	"bitbucket.org/mmdatafocus/receivables_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Customer carries the cached running balance. CurrentBalance follows the
// statement convention (credit - debit): it is mutated only by
// ApplyCustomerTransaction, RebuildCustomerBalances and the guarded
// reconciliation path in ReconcileCustomerBalance.
type Customer struct {
	ID             int             `gorm:"primary_key" json:"id"`
	BusinessId     string          `gorm:"index;size:64;not null" json:"business_id" binding:"required"`
	Name           string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Email          string          `gorm:"size:100" json:"email"`
	Phone          string          `gorm:"size:20" json:"phone"`
	Notes          string          `gorm:"type:text" json:"notes"`
	CreditLimit    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"credit_limit"`
	OpeningBalance decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"opening_balance"`
	CurrentBalance decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_balance"`
	IsActive       *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCustomer struct {
	Name           string          `json:"name" binding:"required"`
	Email          string          `json:"email"`
	Phone          string          `json:"phone"`
	Notes          string          `json:"notes"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// OpeningBalanceSaleCode marks the synthetic sale that carries a customer's
// opening balance, so statements and the ledger agree without a special case.
const OpeningBalanceSaleCode = "Customer Opening Balance"

func (input *NewCustomer) validate(ctx context.Context, businessId string, id int) error {
	if id > 0 {
		if err := utils.ValidateResourceId[Customer](ctx, businessId, id); err != nil {
			return err
		}
	}
	if err := utils.ValidateUnique[Customer](ctx, businessId, "name", input.Name, id); err != nil {
		return err
	}
	if input.Email != "" {
		if !utils.IsValidEmail(input.Email) {
			return errors.New("invalid email")
		}
		if err := utils.ValidateUnique[Customer](ctx, businessId, "email", input.Email, id); err != nil {
			return err
		}
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone); err != nil {
			return err
		}
	}
	if input.OpeningBalance.IsNegative() {
		return errors.New("opening balance must not be negative")
	}
	return nil
}

// CreateCustomer creates the customer and, for a nonzero opening balance,
// posts an approved opening-balance sale through the ledger in the same
// transaction.
func CreateCustomer(ctx context.Context, input *NewCustomer) (*Customer, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	customer := Customer{
		BusinessId:     businessId,
		Name:           input.Name,
		Email:          input.Email,
		Phone:          input.Phone,
		Notes:          input.Notes,
		CreditLimit:    input.CreditLimit,
		OpeningBalance: input.OpeningBalance,
		IsActive:       utils.NewTrue(),
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&customer).Error; err != nil {
			return err
		}
		if customer.OpeningBalance.IsZero() {
			return nil
		}

		now := time.Now().UTC()
		sale := Sale{
			BusinessId:    businessId,
			CustomerId:    customer.ID,
			SaleNumber:    OpeningBalanceSaleCode,
			SaleDate:      now,
			Currency:      CurrencyUSD,
			ExchangeRate:  decimal.NewFromInt(1),
			Amount:        customer.OpeningBalance,
			AmountUsd:     customer.OpeningBalance,
			CurrentStatus: SaleStatusApproved,
			ApprovedAt:    &now,
		}
		if err := tx.Create(&sale).Error; err != nil {
			return err
		}
		return ApplyCustomerTransaction(tx, logger, CustomerTxnEvent{
			BusinessId:    businessId,
			CustomerId:    customer.ID,
			Type:          TxnTypeSale,
			AmountUsd:     sale.AmountUsd,
			Date:          sale.SaleDate,
			SourceId:      sale.ID,
			CorrelationId: correlationIdFromContextOrNew(ctx),
		})
	})
	if err != nil {
		config.LogError(logger, "customer.go", "CreateCustomer", "Transaction", input.Name, err)
		return nil, err
	}

	// Reload: the ledger apply adjusted CurrentBalance.
	if err := db.WithContext(ctx).First(&customer, customer.ID).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func GetCustomer(ctx context.Context, id int) (*Customer, error) {
	db := config.GetDB()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var customer Customer
	err := db.WithContext(ctx).
		Where("business_id = ? AND id = ?", businessId, id).
		Take(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func ListCustomers(ctx context.Context, name string) ([]*Customer, error) {
	db := config.GetDB()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var customers []*Customer
	query := db.WithContext(ctx).Where("business_id = ?", businessId)
	if name != "" {
		query = query.Where("name LIKE ?", "%"+name+"%")
	}
	if err := query.Order("id ASC").Find(&customers).Error; err != nil {
		return nil, err
	}
	return customers, nil
}

// GetCustomer2 is the tx-scoped variant used inside ledger transactions.
func GetCustomer2(tx *gorm.DB, businessId string, id int) (*Customer, error) {
	var customer Customer
	err := tx.Where("business_id = ? AND id = ?", businessId, id).Take(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// ExceedsCreditLimit reports whether adding amountUsd of new debt would push
// the customer past their credit limit. Used by the sale approval flow.
// Owed amount is the negated statement balance.
func (c *Customer) ExceedsCreditLimit(amountUsd decimal.Decimal) bool {
	if c.CreditLimit.IsZero() {
		return false
	}
	owed := c.CurrentBalance.Neg()
	return owed.Add(amountUsd).GreaterThan(c.CreditLimit)
}
