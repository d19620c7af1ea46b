package store

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements the repository interfaces on a relational database.
type GormStore struct {
	db   *gorm.DB
	node *snowflake.Node
}

// NewGormStore creates a store over an opened gorm connection.
func NewGormStore(db *gorm.DB, node *snowflake.Node) *GormStore {
	return &GormStore{db: db, node: node}
}

// AutoMigrate creates or updates the proxy tables.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&Project{}, &Endpoint{}, &CreditBalance{}, &RequestAudit{})
}

// FindBySlug returns the active endpoint with its active project.
func (s *GormStore) FindBySlug(ctx context.Context, slug string) (*Endpoint, *Project, error) {
	var endpoint Endpoint
	err := s.db.WithContext(ctx).
		Where("slug = ? AND active = ?", slug, true).
		First(&endpoint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	var project Project
	err = s.db.WithContext(ctx).
		Where("id = ? AND active = ?", endpoint.ProjectID, true).
		First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	return &endpoint, &project, nil
}

// Get returns the credit balance for an (endpoint, payer) pair.
func (s *GormStore) Get(ctx context.Context, endpointID snowflake.ID, payerAddress string) (*CreditBalance, error) {
	var balance CreditBalance
	err := s.db.WithContext(ctx).
		Where("endpoint_id = ? AND payer_address = ?", endpointID, NormalizeAddress(payerAddress)).
		First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// Deposit adds amount to balance and total_deposited in a single upsert,
// creating the row lazily on first deposit. Deposits commute, so row-level
// atomicity is all the serialization this needs.
func (s *GormStore) Deposit(ctx context.Context, projectID, endpointID snowflake.ID, payerAddress string, amount decimal.Decimal, txRef string) (*CreditBalance, error) {
	if amount.IsNegative() {
		return nil, errors.New("deposit amount must be non-negative")
	}
	addr := NormalizeAddress(payerAddress)
	now := time.Now()

	row := &CreditBalance{
		ID:              s.node.Generate(),
		ProjectID:       projectID,
		EndpointID:      endpointID,
		PayerAddress:    addr,
		Balance:         amount,
		TotalDeposited:  amount,
		TotalSpent:      decimal.Zero,
		LastTopupAmount: amount,
		LastTopupTxHash: txRef,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "endpoint_id"}, {Name: "payer_address"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"balance":            gorm.Expr("credit_balances.balance + ?", amount),
			"total_deposited":    gorm.Expr("credit_balances.total_deposited + ?", amount),
			"last_topup_amount":  amount,
			"last_topup_tx_hash": txRef,
			"updated_at":         now,
		}),
	}).Create(row).Error
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, endpointID, addr)
}

// Withdraw deducts amount in a single conditional update. The balance guard
// lives in the WHERE clause so two concurrent withdrawals cannot both pass an
// application-level balance check and drive the row negative.
func (s *GormStore) Withdraw(ctx context.Context, endpointID snowflake.ID, payerAddress string, amount decimal.Decimal) (*CreditBalance, error) {
	if amount.IsNegative() {
		return nil, errors.New("withdraw amount must be non-negative")
	}
	addr := NormalizeAddress(payerAddress)

	res := s.db.WithContext(ctx).Model(&CreditBalance{}).
		Where("endpoint_id = ? AND payer_address = ? AND balance >= ?", endpointID, addr, amount).
		Updates(map[string]interface{}{
			"balance":     gorm.Expr("balance - ?", amount),
			"total_spent": gorm.Expr("total_spent + ?", amount),
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrInsufficientCredits
	}

	return s.Get(ctx, endpointID, addr)
}

// Insert writes a new audit record.
func (s *GormStore) Insert(ctx context.Context, audit *RequestAudit) error {
	if audit.ID == 0 {
		audit.ID = s.node.Generate()
	}
	return s.db.WithContext(ctx).Create(audit).Error
}

// Update persists the post-response fields of an audit record.
func (s *GormStore) Update(ctx context.Context, audit *RequestAudit) error {
	audit.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Save(audit).Error
}
