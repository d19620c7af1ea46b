// Package settle coordinates on-chain settlement of verified payments
// through the external facilitator. Settlement failure is deliberately
// non-fatal: the payment was already verified, so the request proceeds and
// the failure is only surfaced through the audit trail and response headers.
package settle

import (
	"context"

	"go.uber.org/zap"

	x402proxy "github.com/mark3labs/x402-proxy"
	"github.com/mark3labs/x402-proxy/facilitator"
)

// Result captures a settlement attempt.
type Result struct {
	// Success indicates the facilitator settled the payment on-chain.
	Success bool

	// Receipt is the facilitator's settlement receipt when available.
	Receipt *x402proxy.SettlementResponse

	// ErrorReason describes the failure when Success is false.
	ErrorReason string
}

// Coordinator invokes on-chain settlement for verified non-zero payments.
type Coordinator struct {
	facilitator facilitator.Interface
	logger      *zap.Logger
}

// NewCoordinator creates a Coordinator over the given facilitator.
func NewCoordinator(f facilitator.Interface, logger *zap.Logger) *Coordinator {
	return &Coordinator{facilitator: f, logger: logger}
}

// Settle broadcasts the payment through the facilitator. It never returns an
// error: every failure mode collapses into a Result the caller records and
// moves past.
func (c *Coordinator) Settle(ctx context.Context, payload x402proxy.PaymentPayload, requirement x402proxy.PaymentRequirement) Result {
	receipt, err := c.facilitator.Settle(ctx, payload, requirement)
	if err != nil {
		c.logger.Error("settlement errored", zap.Error(err), zap.String("network", payload.Network))
		return Result{ErrorReason: err.Error()}
	}

	if !receipt.Success {
		c.logger.Warn("settlement unsuccessful",
			zap.String("reason", receipt.ErrorReason),
			zap.String("network", receipt.Network))
		return Result{Receipt: receipt, ErrorReason: receipt.ErrorReason}
	}

	c.logger.Info("payment settled",
		zap.String("transaction", receipt.Transaction),
		zap.String("network", receipt.Network),
		zap.String("payer", receipt.Payer))
	return Result{Success: true, Receipt: receipt}
}
