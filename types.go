// Package x402proxy defines the wire vocabulary for the x402 micropayment
// protocol as used by the pay-per-request proxy: payment requirements offered
// in 402 responses, signed payment payloads submitted by clients, and the
// settlement receipts returned after on-chain execution.
package x402proxy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// X402Version is the protocol version this server speaks.
const X402Version = 1

// SchemeExact is the only payment scheme the proxy accepts.
const SchemeExact = "exact"

// PaymentRequirement represents a single payment option offered in a 402 response.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier (always "exact").
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier (e.g., "base").
	Network string `json:"network"`

	// MaxAmountRequired is the payment amount in atomic units of the asset.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Asset is the token contract address on the given network.
	Asset string `json:"asset"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// Resource is the URL of the protected resource.
	Resource string `json:"resource"`

	// Description is an optional human-readable payment description.
	Description string `json:"description"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType"`

	// MaxTimeoutSeconds is the validity period for the payment authorization.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Extra carries the EIP-3009 domain parameters (name, version) the client
	// needs to reconstruct the signature domain.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequirementsResponse is the complete 402 response body.
type PaymentRequirementsResponse struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Error is a human-readable error message.
	Error string `json:"error"`

	// Accepts is an array of payment options the server will accept.
	Accepts []PaymentRequirement `json:"accepts"`

	// Payer is the recovered payer address, populated when a payment was
	// submitted but rejected, for client-side diagnostics.
	Payer string `json:"payer,omitempty"`
}

// PaymentPayload is the decoded X-Payment header value.
type PaymentPayload struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier.
	Network string `json:"network"`

	// Payload contains the network-specific signed payment data.
	Payload json.RawMessage `json:"payload"`
}

// EVMPayload is an EVM payment: an EIP-3009 authorization plus its signature.
type EVMPayload struct {
	// Signature is the hex-encoded 65-byte ECDSA signature.
	Signature string `json:"signature"`

	// Authorization contains the EIP-3009 transferWithAuthorization parameters.
	Authorization EVMAuthorization `json:"authorization"`
}

// EVMAuthorization represents EIP-3009 transferWithAuthorization parameters.
type EVMAuthorization struct {
	// From is the payer's address.
	From string `json:"from"`

	// To is the recipient's address.
	To string `json:"to"`

	// Value is the transfer amount in atomic units. "0" denotes an
	// authentication-only submission with no funds movement.
	Value string `json:"value"`

	// ValidAfter is the unix timestamp after which the authorization is valid.
	ValidAfter string `json:"validAfter"`

	// ValidBefore is the unix timestamp before which the authorization is valid.
	ValidBefore string `json:"validBefore"`

	// Nonce is a unique 32-byte hex string to prevent replay attacks.
	Nonce string `json:"nonce"`
}

// SettlementResponse is the facilitator's receipt after settling a payment.
type SettlementResponse struct {
	// Success indicates whether the payment was successfully settled.
	Success bool `json:"success"`

	// ErrorReason provides details if settlement failed.
	ErrorReason string `json:"errorReason,omitempty"`

	// Transaction is the blockchain transaction hash.
	Transaction string `json:"transaction,omitempty"`

	// Network is the blockchain network where the payment was settled.
	Network string `json:"network"`

	// Payer is the address that made the payment.
	Payer string `json:"payer"`
}

// EVM decodes the network-specific payload as an EVMPayload.
func (p PaymentPayload) EVM() (*EVMPayload, error) {
	if len(p.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedHeader)
	}
	var evm EVMPayload
	if err := json.Unmarshal(p.Payload, &evm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if evm.Authorization.From == "" || evm.Authorization.To == "" || evm.Authorization.Value == "" {
		return nil, fmt.Errorf("%w: authorization missing required fields", ErrInvalidAuthorization)
	}
	return &evm, nil
}

// IsZeroValue reports whether the authorization moves no funds. The protocol
// requires the literal string "0" for authentication-only submissions.
func (a EVMAuthorization) IsZeroValue() bool {
	return a.Value == "0"
}

// Amount parses the authorization value into an exact decimal of atomic units.
func (a EVMAuthorization) Amount() (decimal.Decimal, error) {
	if strings.ContainsAny(a.Value, ".eE+-") {
		return decimal.Zero, fmt.Errorf("%w: value %q", ErrInvalidAmount, a.Value)
	}
	v, err := decimal.NewFromString(a.Value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: value %q", ErrInvalidAmount, a.Value)
	}
	return v, nil
}

// AtomicFromDecimal converts a decimal currency amount to atomic units of a
// token with the given number of decimals. For example, "1.5" with 6 decimals
// becomes "1500000". Fails if the amount carries more precision than the token.
func AtomicFromDecimal(amount decimal.Decimal, decimals int32) (string, error) {
	if amount.IsNegative() {
		return "", fmt.Errorf("%w: negative amount %s", ErrInvalidAmount, amount)
	}
	shifted := amount.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return "", fmt.Errorf("%w: %s exceeds %d decimal places", ErrInvalidAmount, amount, decimals)
	}
	return shifted.Truncate(0).String(), nil
}

// DecimalFromAtomic converts an atomic-unit string back to a decimal currency
// amount. For example, "1500000" with 6 decimals becomes "1.5".
func DecimalFromAtomic(atomic string, decimals int32) (decimal.Decimal, error) {
	if strings.ContainsAny(atomic, ".eE+-") {
		return decimal.Zero, fmt.Errorf("%w: atomic value %q", ErrInvalidAmount, atomic)
	}
	v, err := decimal.NewFromString(atomic)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: atomic value %q", ErrInvalidAmount, atomic)
	}
	return v.Shift(-decimals), nil
}
