// Package store holds the relational models and repository contracts for
// endpoints, credit balances, and the request audit trail.
package store

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PaymentStatus tracks how far payment processing got for a request.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusVerified PaymentStatus = "verified"
	PaymentStatusFailed   PaymentStatus = "failed"
)

// SettlementStatus tracks the on-chain outcome for a request.
type SettlementStatus string

const (
	SettlementStatusPending        SettlementStatus = "pending"
	SettlementStatusSettled        SettlementStatus = "settled"
	SettlementStatusFailed         SettlementStatus = "failed"
	SettlementStatusDisabled       SettlementStatus = "disabled"
	SettlementStatusSkippedCredits SettlementStatus = "skipped_credits"
)

// Project groups endpoints under one owner with shared payment defaults.
type Project struct {
	ID           snowflake.ID    `gorm:"primaryKey"`
	Name         string          `gorm:"type:text;not null"`
	Network      string          `gorm:"type:text;not null"`
	PayTo        string          `gorm:"type:text;not null"`
	DefaultPrice decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	Active       bool            `gorm:"not null;default:true"`
	CreatedAt    time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Project) TableName() string { return "projects" }

// Endpoint is a priced backend route. The proxy only reads endpoints; they
// are created and mutated through external configuration APIs.
type Endpoint struct {
	ID             snowflake.ID     `gorm:"primaryKey"`
	ProjectID      snowflake.ID     `gorm:"not null;index"`
	Slug           string           `gorm:"type:text;not null;uniqueIndex"`
	TargetURL      string           `gorm:"type:text;not null"`
	TargetPath     string           `gorm:"type:text;not null;default:''"`
	Method         string           `gorm:"type:text;not null;default:''"`
	Price          *decimal.Decimal `gorm:"type:numeric(20,6)"`
	CreditsEnabled bool             `gorm:"not null;default:false"`
	MinTopupAmount decimal.Decimal  `gorm:"type:numeric(20,6);not null;default:0"`
	Description    string           `gorm:"type:text;not null;default:''"`
	Active         bool             `gorm:"not null;default:true"`
	CreatedAt      time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Endpoint) TableName() string { return "endpoints" }

// EffectivePrice returns the endpoint price, falling back to the project
// default when no per-endpoint price is set.
func (e *Endpoint) EffectivePrice(p *Project) decimal.Decimal {
	if e.Price != nil {
		return *e.Price
	}
	return p.DefaultPrice
}

// CreditBalance is the prepaid balance for one (endpoint, payer) pair.
// PayerAddress is always stored lowercase. Invariant:
// balance == total_deposited - total_spent, and balance never goes negative.
type CreditBalance struct {
	ID              snowflake.ID    `gorm:"primaryKey"`
	ProjectID       snowflake.ID    `gorm:"not null;index"`
	EndpointID      snowflake.ID    `gorm:"not null;uniqueIndex:ux_credit_endpoint_payer,priority:1"`
	PayerAddress    string          `gorm:"type:text;not null;uniqueIndex:ux_credit_endpoint_payer,priority:2"`
	Balance         decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0"`
	TotalDeposited  decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0"`
	TotalSpent      decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0"`
	LastTopupAmount decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0"`
	LastTopupTxHash string          `gorm:"type:text;not null;default:''"`
	CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditBalance) TableName() string { return "credit_balances" }

// RequestAudit records one proxied request attempt. Inserted at request start
// and updated best-effort after the response is sent.
type RequestAudit struct {
	ID               snowflake.ID     `gorm:"primaryKey"`
	RequestID        string           `gorm:"type:text;not null;index"`
	EndpointID       snowflake.ID     `gorm:"not null;index"`
	Method           string           `gorm:"type:text;not null"`
	Path             string           `gorm:"type:text;not null"`
	RequestHeaders   datatypes.JSON   `gorm:"type:jsonb"`
	RequestBody      string           `gorm:"type:text"`
	ClientIP         string           `gorm:"type:text"`
	UserAgent        string           `gorm:"type:text"`
	PayerAddress     string           `gorm:"type:text;index"`
	PaymentStatus    PaymentStatus    `gorm:"type:text;not null;default:'pending'"`
	PaymentAmount    decimal.Decimal  `gorm:"type:numeric(20,6);not null;default:0"`
	SettlementStatus SettlementStatus `gorm:"type:text;not null;default:'pending'"`
	SettlementTxRef  string           `gorm:"type:text;not null;default:''"`
	SettlementError  string           `gorm:"type:text;not null;default:''"`
	ResponseStatus   int              `gorm:"not null;default:0"`
	ResponseBody     string           `gorm:"type:text"`
	DurationMS       int64            `gorm:"not null;default:0"`
	CreatedAt        time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (RequestAudit) TableName() string { return "request_audits" }
