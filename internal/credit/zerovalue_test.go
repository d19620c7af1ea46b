package credit

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	x402proxy "github.com/mark3labs/x402-proxy"
	"github.com/mark3labs/x402-proxy/eip3009"
)

const testRecipient = "0x2222222222222222222222222222222222222222"

func sepoliaDomain(t *testing.T) eip3009.Domain {
	t.Helper()
	chain, err := x402proxy.ChainByNetwork("base-sepolia")
	require.NoError(t, err)
	return eip3009.Domain{
		Name:              chain.EIP3009Name,
		Version:           chain.EIP3009Version,
		ChainID:           chain.ChainID,
		VerifyingContract: chain.USDCAddress,
	}
}

// signedPayload builds a complete zero-value payment payload signed by key.
// mutate, when non-nil, tampers with the authorization after signing.
func signedPayload(t *testing.T, key *ecdsa.PrivateKey, mutate func(*x402proxy.EVMAuthorization)) x402proxy.PaymentPayload {
	t.Helper()

	from := crypto.PubkeyToAddress(key.PublicKey)
	auth, err := eip3009.NewAuthorization(from, crypto.PubkeyToAddress(key.PublicKey), "0", time.Minute)
	require.NoError(t, err)
	auth.To = testRecipient

	sig, err := eip3009.Sign(key, auth, sepoliaDomain(t))
	require.NoError(t, err)

	if mutate != nil {
		mutate(&auth)
	}

	raw, err := json.Marshal(x402proxy.EVMPayload{Signature: sig, Authorization: auth})
	require.NoError(t, err)

	return x402proxy.PaymentPayload{
		X402Version: x402proxy.X402Version,
		Scheme:      x402proxy.SchemeExact,
		Network:     "base-sepolia",
		Payload:     raw,
	}
}

func TestVerifyZeroValueAuth(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)

	payload := signedPayload(t, key, nil)
	require.NoError(t, VerifyZeroValueAuth(payload, logger))
}

func TestVerifyZeroValueAuthRejections(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name    string
		payload x402proxy.PaymentPayload
		wantErr error
	}{
		{
			name: "tampered recipient",
			payload: signedPayload(t, key, func(a *x402proxy.EVMAuthorization) {
				a.To = "0x3333333333333333333333333333333333333333"
			}),
			wantErr: x402proxy.ErrInvalidSignature,
		},
		{
			name: "claimed payer differs from signer",
			payload: signedPayload(t, key, func(a *x402proxy.EVMAuthorization) {
				a.From = crypto.PubkeyToAddress(otherKey.PublicKey).Hex()
			}),
			wantErr: x402proxy.ErrInvalidSignature,
		},
		{
			name: "expired authorization",
			payload: signedPayload(t, key, func(a *x402proxy.EVMAuthorization) {
				a.ValidBefore = fmt.Sprintf("%d", time.Now().Add(-time.Hour).Unix())
			}),
			wantErr: x402proxy.ErrExpiredAuthorization,
		},
		{
			name: "not yet valid",
			payload: signedPayload(t, key, func(a *x402proxy.EVMAuthorization) {
				a.ValidAfter = fmt.Sprintf("%d", time.Now().Add(time.Hour).Unix())
			}),
			wantErr: x402proxy.ErrAuthorizationNotYetValid,
		},
		{
			name: "non-zero value",
			payload: signedPayload(t, key, func(a *x402proxy.EVMAuthorization) {
				a.Value = "100"
			}),
			wantErr: x402proxy.ErrInvalidAuthorization,
		},
		{
			name: "garbled validity window",
			payload: signedPayload(t, key, func(a *x402proxy.EVMAuthorization) {
				a.ValidBefore = "soon"
			}),
			wantErr: x402proxy.ErrInvalidAuthorization,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyZeroValueAuth(tt.payload, logger)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerifyZeroValueAuthUnknownNetwork(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	payload := signedPayload(t, key, nil)
	payload.Network = "dogecoin"
	err = VerifyZeroValueAuth(payload, zaptest.NewLogger(t))
	require.ErrorIs(t, err, x402proxy.ErrUnsupportedNetwork)
}
