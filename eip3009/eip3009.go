// Package eip3009 builds and verifies EIP-712 typed data for EIP-3009
// transferWithAuthorization signatures. The proxy uses it to authenticate
// zero-value authorizations locally; real-value signatures are checked by the
// facilitator. Tests use the signing half to produce valid payloads.
package eip3009

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402proxy "github.com/mark3labs/x402-proxy"
)

// Domain identifies the EIP-712 signing domain of the token contract.
type Domain struct {
	// Name is the token's EIP-712 domain name (e.g., "USD Coin").
	Name string

	// Version is the token's EIP-712 domain version (e.g., "2").
	Version string

	// ChainID is the EVM chain id.
	ChainID int64

	// VerifyingContract is the token contract address.
	VerifyingContract string
}

// TypedData builds the EIP-712 typed data for a transferWithAuthorization.
func TypedData(auth x402proxy.EVMAuthorization, domain Domain) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           math.NewHexOrDecimal256(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From,
			"to":          auth.To,
			"value":       auth.Value,
			"validAfter":  auth.ValidAfter,
			"validBefore": auth.ValidBefore,
			"nonce":       auth.Nonce,
		},
	}
}

// Digest computes keccak256("\x19\x01" || domainSeparator || structHash) for
// the typed data, the exact bytes the wallet signed.
func Digest(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData), nil
}

// Sign signs a transferWithAuthorization under the given domain and returns
// the 0x-prefixed 65-byte signature with an Ethereum-style v of 27/28.
func Sign(privateKey *ecdsa.PrivateKey, auth x402proxy.EVMAuthorization, domain Domain) (string, error) {
	digest, err := Digest(TypedData(auth, domain))
	if err != nil {
		return "", err
	}

	signature, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign authorization: %w", err)
	}

	// Adjust v value for Ethereum (27 or 28)
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

// RecoverSigner recovers the address that produced the signature over the
// authorization under the given domain. Accepts v values of 0/1 or 27/28.
func RecoverSigner(sigHex string, auth x402proxy.EVMAuthorization, domain Domain) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: invalid signature hex: %v", x402proxy.ErrInvalidSignature, err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("%w: signature must be 65 bytes, got %d", x402proxy.ErrInvalidSignature, len(sig))
	}

	// crypto.SigToPub expects a recovery id of 0 or 1 in the final byte.
	recovered := make([]byte, 65)
	copy(recovered, sig)
	if recovered[64] >= 27 {
		recovered[64] -= 27
	}
	if recovered[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: invalid recovery id %d", x402proxy.ErrInvalidSignature, sig[64])
	}

	digest, err := Digest(TypedData(auth, domain))
	if err != nil {
		return common.Address{}, err
	}

	pub, err := crypto.SigToPub(digest, recovered)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", x402proxy.ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// NewAuthorization creates an EIP-3009 authorization with a fresh random
// nonce and a validity window starting slightly in the past to absorb clock
// drift between client and server.
func NewAuthorization(from, to common.Address, value string, timeout time.Duration) (x402proxy.EVMAuthorization, error) {
	nonce, err := generateNonce()
	if err != nil {
		return x402proxy.EVMAuthorization{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := time.Now().Unix()
	return x402proxy.EVMAuthorization{
		From:        from.Hex(),
		To:          to.Hex(),
		Value:       value,
		ValidAfter:  fmt.Sprintf("%d", now-10),
		ValidBefore: fmt.Sprintf("%d", now+int64(timeout.Seconds())),
		Nonce:       nonce,
	}, nil
}

// generateNonce generates a cryptographically secure 32-byte random nonce.
func generateNonce() (string, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	return common.BytesToHash(nonce[:]).Hex(), nil
}
