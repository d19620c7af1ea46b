package credit

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	x402proxy "github.com/mark3labs/x402-proxy"
	"github.com/mark3labs/x402-proxy/eip3009"
)

// VerifyZeroValueAuth authenticates a zero-value authorization locally. A
// zero-value payload is never submitted to the facilitator (there is nothing
// to settle), yet it must still prove control of the payer address before it
// may spend credits. The EIP-712 domain is rebuilt from the chain registry
// and the signature must recover to authorization.from.
//
// Any structural or cryptographic failure returns a non-nil error; callers
// treat every failure identically to "no valid payment".
func VerifyZeroValueAuth(payload x402proxy.PaymentPayload, logger *zap.Logger) error {
	evm, err := payload.EVM()
	if err != nil {
		return logged(logger, err)
	}
	auth := evm.Authorization

	if !auth.IsZeroValue() {
		return logged(logger, fmt.Errorf("%w: value must be exactly \"0\", got %q",
			x402proxy.ErrInvalidAuthorization, auth.Value))
	}

	if err := checkValidityWindow(auth, time.Now()); err != nil {
		return logged(logger, err)
	}

	chain, err := x402proxy.ChainByNetwork(payload.Network)
	if err != nil {
		return logged(logger, fmt.Errorf("%w: %q", x402proxy.ErrUnsupportedNetwork, payload.Network))
	}

	signer, err := eip3009.RecoverSigner(evm.Signature, auth, eip3009.Domain{
		Name:              chain.EIP3009Name,
		Version:           chain.EIP3009Version,
		ChainID:           chain.ChainID,
		VerifyingContract: chain.USDCAddress,
	})
	if err != nil {
		return logged(logger, err)
	}

	if !strings.EqualFold(signer.Hex(), auth.From) {
		return logged(logger, fmt.Errorf("%w: signer %s does not match from address %s",
			x402proxy.ErrInvalidSignature, signer.Hex(), auth.From))
	}

	return nil
}

func checkValidityWindow(auth x402proxy.EVMAuthorization, now time.Time) error {
	validAfter, err := strconv.ParseInt(auth.ValidAfter, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid validAfter %q", x402proxy.ErrInvalidAuthorization, auth.ValidAfter)
	}
	validBefore, err := strconv.ParseInt(auth.ValidBefore, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid validBefore %q", x402proxy.ErrInvalidAuthorization, auth.ValidBefore)
	}

	unix := now.Unix()
	if unix < validAfter {
		return x402proxy.ErrAuthorizationNotYetValid
	}
	if unix > validBefore {
		return x402proxy.ErrExpiredAuthorization
	}
	return nil
}

// logged records the rejection reason before returning it; zero-value auth
// failures must never be swallowed silently.
func logged(logger *zap.Logger, err error) error {
	logger.Warn("zero-value authorization rejected", zap.Error(err))
	return err
}
