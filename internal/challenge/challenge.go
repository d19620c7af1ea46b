// Package challenge builds the 402 Payment Required responses: resolving the
// recipient, converting prices to atomic units, and emitting the payment
// requirements a conforming client needs to retry with payment attached.
package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	x402proxy "github.com/mark3labs/x402-proxy"
)

// MaxTimeoutSeconds is the fixed validity ceiling offered to clients.
const MaxTimeoutSeconds = 60

// evmAddressRegex matches Ethereum-style addresses (0x followed by 40 hex chars)
var evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// NameResolver resolves a name-service name (e.g., "pay.example.eth") to a
// canonical address. The facilitator client satisfies this.
type NameResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// Builder constructs payment requirements for priced endpoints.
type Builder struct {
	resolver NameResolver
}

// NewBuilder creates a Builder with the given name resolver.
func NewBuilder(resolver NameResolver) *Builder {
	return &Builder{resolver: resolver}
}

// Build converts a decimal price into a PaymentRequirement for the given
// network. payTo may be a plain address (validated and passed through) or a
// name-service name (resolved through the injected resolver).
//
// Errors: x402proxy.ErrUnsupportedNetwork for unknown network/asset pairings,
// x402proxy.ErrUnresolvableName when a name lookup fails, and
// x402proxy.ErrInvalidAddress when payTo is neither.
func (b *Builder) Build(ctx context.Context, price decimal.Decimal, network, payTo, resource, description string) (x402proxy.PaymentRequirement, error) {
	chain, err := x402proxy.ChainByNetwork(network)
	if err != nil {
		return x402proxy.PaymentRequirement{}, fmt.Errorf("%w: %q", x402proxy.ErrUnsupportedNetwork, network)
	}

	recipient, err := b.resolveRecipient(ctx, payTo)
	if err != nil {
		return x402proxy.PaymentRequirement{}, err
	}

	atomic, err := x402proxy.AtomicFromDecimal(price, chain.Decimals)
	if err != nil {
		return x402proxy.PaymentRequirement{}, err
	}

	return x402proxy.PaymentRequirement{
		Scheme:            x402proxy.SchemeExact,
		Network:           chain.NetworkID,
		MaxAmountRequired: atomic,
		Asset:             chain.USDCAddress,
		PayTo:             recipient,
		Resource:          resource,
		Description:       description,
		MimeType:          "application/json",
		MaxTimeoutSeconds: MaxTimeoutSeconds,
		Extra: map[string]interface{}{
			"name":    chain.EIP3009Name,
			"version": chain.EIP3009Version,
		},
	}, nil
}

func (b *Builder) resolveRecipient(ctx context.Context, payTo string) (string, error) {
	payTo = strings.TrimSpace(payTo)
	if evmAddressRegex.MatchString(payTo) {
		return payTo, nil
	}
	if strings.Contains(payTo, ".") {
		addr, err := b.resolver.Resolve(ctx, payTo)
		if err != nil {
			return "", err
		}
		if !evmAddressRegex.MatchString(addr) {
			return "", fmt.Errorf("%w: resolver returned %q for %q", x402proxy.ErrInvalidAddress, addr, payTo)
		}
		return addr, nil
	}
	return "", fmt.Errorf("%w: %q is neither an address nor a resolvable name", x402proxy.ErrInvalidAddress, payTo)
}

// Respond402 writes the protocol 402 body: error message, the accepted
// payment requirements, and (when known) the rejected payer address.
func Respond402(w http.ResponseWriter, errorMessage string, requirements []x402proxy.PaymentRequirement, payer string) {
	response := x402proxy.PaymentRequirementsResponse{
		X402Version: x402proxy.X402Version,
		Error:       errorMessage,
		Accepts:     requirements,
		Payer:       payer,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	// Ignore encoding errors - headers are already sent with 402 status.
	_ = json.NewEncoder(w).Encode(response)
}
