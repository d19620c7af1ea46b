// Package facilitator defines the contract with the external facilitator
// service that owns signature cryptography, on-chain settlement, and name
// resolution, plus an HTTP client implementing it.
package facilitator

import (
	"context"

	x402proxy "github.com/mark3labs/x402-proxy"
)

// Interface is the facilitator contract for payment verification, settlement,
// and recipient name resolution. The HTTP client and test fakes satisfy it.
type Interface interface {
	// Verify checks a payment authorization without executing the transaction.
	Verify(ctx context.Context, payment x402proxy.PaymentPayload, requirement x402proxy.PaymentRequirement) (*VerifyResponse, error)

	// Settle executes a verified payment on the blockchain.
	Settle(ctx context.Context, payment x402proxy.PaymentPayload, requirement x402proxy.PaymentRequirement) (*x402proxy.SettlementResponse, error)

	// Supported queries the facilitator for supported payment types.
	Supported(ctx context.Context) (*SupportedResponse, error)

	// Resolve resolves a name-service name (e.g., ENS) to a canonical address.
	Resolve(ctx context.Context, name string) (string, error)
}

// VerifyResponse contains the payment verification result from the facilitator.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer"`
}

// SupportedKind describes a supported payment type with its configuration.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse lists all payment types supported by the facilitator.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}
