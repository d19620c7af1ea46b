package store

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	x402proxy "github.com/mark3labs/x402-proxy"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientCredits mirrors the package-level sentinel so callers can
	// match either.
	ErrInsufficientCredits = x402proxy.ErrInsufficientCredits
)

// EndpointStore resolves proxied endpoints by slug.
type EndpointStore interface {
	// FindBySlug returns the endpoint and its owning project. Inactive
	// endpoints and projects are treated as missing.
	FindBySlug(ctx context.Context, slug string) (*Endpoint, *Project, error)
}

// CreditStore is the per-(endpoint, payer) balance repository. Deposit and
// Withdraw must each be a single atomic read-modify-write per row; Withdraw
// must reject wholesale when the balance cannot cover the amount.
type CreditStore interface {
	Get(ctx context.Context, endpointID snowflake.ID, payerAddress string) (*CreditBalance, error)
	Deposit(ctx context.Context, projectID, endpointID snowflake.ID, payerAddress string, amount decimal.Decimal, txRef string) (*CreditBalance, error)
	Withdraw(ctx context.Context, endpointID snowflake.ID, payerAddress string, amount decimal.Decimal) (*CreditBalance, error)
}

// AuditStore persists request audit records.
type AuditStore interface {
	Insert(ctx context.Context, audit *RequestAudit) error
	Update(ctx context.Context, audit *RequestAudit) error
}

// NormalizeAddress lowercases an EVM address for storage and lookups.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
