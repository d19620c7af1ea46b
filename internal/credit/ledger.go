// Package credit implements the prepaid credit ledger: overpayments become
// spendable balance, and zero-value authenticated requests draw that balance
// down instead of moving funds on-chain.
package credit

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mark3labs/x402-proxy/internal/store"
)

// Ledger exposes balance operations over a CreditStore. All amounts are
// decimal currency values; atomic-unit conversion happens at the protocol
// boundary, never here.
type Ledger struct {
	credits store.CreditStore
	logger  *zap.Logger
}

// NewLedger creates a ledger over the given credit repository.
func NewLedger(credits store.CreditStore, logger *zap.Logger) *Ledger {
	return &Ledger{credits: credits, logger: logger}
}

// Balance returns the current credit balance, or store.ErrNotFound when the
// payer has never deposited on this endpoint. Address matching is
// case-insensitive.
func (l *Ledger) Balance(ctx context.Context, endpointID snowflake.ID, payerAddress string) (*store.CreditBalance, error) {
	return l.credits.Get(ctx, endpointID, payerAddress)
}

// Deposit converts an overpayment into credit. The row is created lazily on
// first deposit; existing rows gain amount on both balance and totalDeposited
// in one atomic storage-level operation.
func (l *Ledger) Deposit(ctx context.Context, projectID, endpointID snowflake.ID, payerAddress string, amount decimal.Decimal, txRef string) (*store.CreditBalance, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("deposit amount must be non-negative, got %s", amount)
	}

	balance, err := l.credits.Deposit(ctx, projectID, endpointID, payerAddress, amount, txRef)
	if err != nil {
		return nil, err
	}

	l.logger.Info("credit deposited",
		zap.String("payer", store.NormalizeAddress(payerAddress)),
		zap.Int64("endpoint", int64(endpointID)),
		zap.String("amount", amount.String()),
		zap.String("balance", balance.Balance.String()),
		zap.String("txRef", txRef))
	return balance, nil
}

// Withdraw spends amount from the payer's balance. Returns
// store.ErrInsufficientCredits without mutating anything when the balance
// cannot cover the amount; callers must treat that as a hard rejection.
func (l *Ledger) Withdraw(ctx context.Context, endpointID snowflake.ID, payerAddress string, amount decimal.Decimal) (*store.CreditBalance, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("withdraw amount must be non-negative, got %s", amount)
	}

	balance, err := l.credits.Withdraw(ctx, endpointID, payerAddress, amount)
	if err != nil {
		return nil, err
	}

	l.logger.Info("credit spent",
		zap.String("payer", store.NormalizeAddress(payerAddress)),
		zap.Int64("endpoint", int64(endpointID)),
		zap.String("amount", amount.String()),
		zap.String("balance", balance.Balance.String()))
	return balance, nil
}

// Overpayment returns the excess of paid over price, floored at zero. Exact
// payments create no credit.
func Overpayment(paid, price decimal.Decimal) decimal.Decimal {
	excess := paid.Sub(price)
	if excess.IsNegative() {
		return decimal.Zero
	}
	return excess
}
