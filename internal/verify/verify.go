// Package verify decodes inbound payment headers and delegates authenticity
// and sufficiency checks to the external facilitator.
package verify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	x402proxy "github.com/mark3labs/x402-proxy"
	"github.com/mark3labs/x402-proxy/encoding"
	"github.com/mark3labs/x402-proxy/facilitator"
)

// ReasonUnexpectedError is reported when the facilitator call itself fails;
// the client should retry.
const ReasonUnexpectedError = "unexpected_verify_error"

// Result is the outcome of verifying one payment header.
type Result struct {
	// IsValid reports whether the payment may proceed.
	IsValid bool

	// InvalidReason describes the failure when IsValid is false.
	InvalidReason string

	// Payer is the recovered payer address when known (set on success, and on
	// facilitator rejection when the facilitator recovered it).
	Payer string

	// Payload is the decoded payment, needed downstream for settlement and
	// for extracting the transfer value. Nil until decoding succeeds.
	Payload *x402proxy.PaymentPayload

	// Requirement is the payment option the payload was checked against.
	Requirement x402proxy.PaymentRequirement
}

// Verifier checks payment headers against offered requirements.
type Verifier struct {
	facilitator facilitator.Interface
	logger      *zap.Logger
}

// NewVerifier creates a Verifier delegating to the given facilitator.
func NewVerifier(f facilitator.Interface, logger *zap.Logger) *Verifier {
	return &Verifier{facilitator: f, logger: logger}
}

// Verify runs the ordered failure branches of payment verification. Exactly
// one facilitator call is made per request; transient facilitator errors are
// reported as ReasonUnexpectedError rather than retried.
func (v *Verifier) Verify(ctx context.Context, rawHeader string, requirements []x402proxy.PaymentRequirement) Result {
	if rawHeader == "" {
		return Result{InvalidReason: "payment header required"}
	}

	payload, err := encoding.DecodePayment(rawHeader)
	if err != nil {
		return Result{InvalidReason: fmt.Sprintf("malformed payment header: %v", err)}
	}
	if payload.X402Version != x402proxy.X402Version {
		return Result{InvalidReason: fmt.Sprintf("unsupported x402 version %d", payload.X402Version)}
	}
	if payload.Scheme != x402proxy.SchemeExact {
		return Result{InvalidReason: fmt.Sprintf("unsupported scheme %q", payload.Scheme)}
	}

	// Structural check before any facilitator round trip.
	evm, err := payload.EVM()
	if err != nil {
		return Result{InvalidReason: err.Error()}
	}

	requirement := selectRequirement(payload, requirements)

	// Zero-value submissions move no funds, so there is nothing for the
	// facilitator to check or settle. Signature authentication happens locally
	// in the credits path.
	if evm.Authorization.IsZeroValue() {
		return Result{
			IsValid:     true,
			Payer:       evm.Authorization.From,
			Payload:     &payload,
			Requirement: requirement,
		}
	}

	resp, err := v.facilitator.Verify(ctx, payload, requirement)
	if err != nil {
		v.logger.Error("facilitator verification errored", zap.Error(err))
		return Result{
			InvalidReason: ReasonUnexpectedError,
			Payload:       &payload,
			Requirement:   requirement,
		}
	}

	if !resp.IsValid {
		return Result{
			InvalidReason: resp.InvalidReason,
			Payer:         resp.Payer,
			Payload:       &payload,
			Requirement:   requirement,
		}
	}

	return Result{
		IsValid:     true,
		Payer:       resp.Payer,
		Payload:     &payload,
		Requirement: requirement,
	}
}

// selectRequirement picks the requirement whose network matches the decoded
// payment, falling back to the first offered requirement. This is the
// tie-break policy when multiple requirements are offered.
func selectRequirement(payload x402proxy.PaymentPayload, requirements []x402proxy.PaymentRequirement) x402proxy.PaymentRequirement {
	for _, req := range requirements {
		if req.Network == payload.Network && req.Scheme == payload.Scheme {
			return req
		}
	}
	if len(requirements) > 0 {
		return requirements[0]
	}
	return x402proxy.PaymentRequirement{}
}
