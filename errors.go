package x402proxy

import "errors"

// Standard x402 proxy error definitions

var (
	// ErrPaymentRequired indicates that payment is required to access the resource.
	ErrPaymentRequired = errors.New("payment required")

	// ErrMalformedHeader indicates that the X-Payment header is malformed.
	ErrMalformedHeader = errors.New("malformed payment header")

	// ErrUnsupportedVersion indicates an unsupported x402 protocol version.
	ErrUnsupportedVersion = errors.New("unsupported x402 version")

	// ErrUnsupportedScheme indicates an unsupported payment scheme.
	ErrUnsupportedScheme = errors.New("unsupported payment scheme")

	// ErrUnsupportedNetwork indicates an unsupported blockchain network.
	ErrUnsupportedNetwork = errors.New("unsupported network")

	// ErrInvalidSignature indicates an invalid cryptographic signature.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidAuthorization indicates invalid payment authorization data.
	ErrInvalidAuthorization = errors.New("invalid authorization")

	// ErrExpiredAuthorization indicates the payment authorization has expired.
	ErrExpiredAuthorization = errors.New("expired authorization")

	// ErrAuthorizationNotYetValid indicates the validAfter bound is in the future.
	ErrAuthorizationNotYetValid = errors.New("authorization not yet valid")

	// ErrInvalidAmount indicates a malformed or negative monetary amount.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidAddress indicates a recipient that is neither a valid address
	// nor a resolvable name.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrUnresolvableName indicates a name-service name that could not be resolved.
	ErrUnresolvableName = errors.New("unresolvable name")

	// ErrInsufficientCredits indicates the payer's credit balance cannot cover
	// the endpoint price.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrNonceUsed indicates an authorization nonce that was already accepted.
	ErrNonceUsed = errors.New("nonce already used")

	// ErrFacilitatorUnavailable indicates the facilitator service is unavailable.
	ErrFacilitatorUnavailable = errors.New("facilitator unavailable")

	// ErrSettlementFailed indicates on-chain settlement failed.
	ErrSettlementFailed = errors.New("settlement failed")

	// ErrVerificationFailed indicates payment verification failed.
	ErrVerificationFailed = errors.New("verification failed")
)
