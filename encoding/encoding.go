// Package encoding provides utilities for encoding and decoding x402 payment
// data. It handles the base64 + JSON framing used by the X-Payment and
// X-Payment-Response headers.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	x402proxy "github.com/mark3labs/x402-proxy"
)

// DecodePayment converts a base64-encoded JSON header value to a PaymentPayload.
//
// Returns an error if base64 decoding or JSON unmarshaling fails.
func DecodePayment(encoded string) (x402proxy.PaymentPayload, error) {
	var payment x402proxy.PaymentPayload

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return payment, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &payment); err != nil {
		return payment, fmt.Errorf("failed to unmarshal payment: %w", err)
	}

	return payment, nil
}

// EncodePayment converts a PaymentPayload to a base64-encoded JSON string
// suitable for an X-Payment header.
func EncodePayment(payment x402proxy.PaymentPayload) (string, error) {
	paymentJSON, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(paymentJSON), nil
}

// EncodeSettlement converts a SettlementResponse to a base64-encoded JSON
// string for the X-Payment-Response header.
func EncodeSettlement(settlement x402proxy.SettlementResponse) (string, error) {
	settlementJSON, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(settlementJSON), nil
}

// DecodeSettlement converts a base64-encoded JSON string back to a
// SettlementResponse.
func DecodeSettlement(encoded string) (x402proxy.SettlementResponse, error) {
	var settlement x402proxy.SettlementResponse

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return settlement, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &settlement); err != nil {
		return settlement, fmt.Errorf("failed to unmarshal settlement: %w", err)
	}

	return settlement, nil
}
