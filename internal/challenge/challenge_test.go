package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402proxy "github.com/mark3labs/x402-proxy"
)

type fakeResolver struct {
	addr string
	err  error
}

func (f *fakeResolver) Resolve(ctx context.Context, name string) (string, error) {
	return f.addr, f.err
}

func TestBuildWithAddress(t *testing.T) {
	b := NewBuilder(&fakeResolver{err: errors.New("resolver must not be called")})

	req, err := b.Build(context.Background(),
		decimal.RequireFromString("0.01"), "base",
		"0x2222222222222222222222222222222222222222",
		"https://proxy.example.com/proxy/weather", "weather data")
	require.NoError(t, err)

	assert.Equal(t, x402proxy.SchemeExact, req.Scheme)
	assert.Equal(t, "base", req.Network)
	assert.Equal(t, "10000", req.MaxAmountRequired)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", req.PayTo)
	assert.Equal(t, x402proxy.BaseMainnet.USDCAddress, req.Asset)
	assert.Equal(t, MaxTimeoutSeconds, req.MaxTimeoutSeconds)
	assert.Equal(t, "USD Coin", req.Extra["name"])
	assert.Equal(t, "2", req.Extra["version"])
}

func TestBuildResolvesNames(t *testing.T) {
	resolved := "0x3333333333333333333333333333333333333333"
	b := NewBuilder(&fakeResolver{addr: resolved})

	req, err := b.Build(context.Background(),
		decimal.RequireFromString("1"), "base", "pay.example.eth", "https://proxy.example.com/r", "")
	require.NoError(t, err)
	assert.Equal(t, resolved, req.PayTo)
}

func TestBuildFailures(t *testing.T) {
	tests := []struct {
		name     string
		price    string
		network  string
		payTo    string
		resolver NameResolver
		wantErr  error
	}{
		{
			name: "unsupported network", price: "0.01", network: "dogecoin",
			payTo:   "0x2222222222222222222222222222222222222222",
			wantErr: x402proxy.ErrUnsupportedNetwork,
		},
		{
			name: "unresolvable name", price: "0.01", network: "base", payTo: "missing.eth",
			resolver: &fakeResolver{err: x402proxy.ErrUnresolvableName},
			wantErr:  x402proxy.ErrUnresolvableName,
		},
		{
			name: "resolver returns garbage", price: "0.01", network: "base", payTo: "bad.eth",
			resolver: &fakeResolver{addr: "not-an-address"},
			wantErr:  x402proxy.ErrInvalidAddress,
		},
		{
			name: "neither address nor name", price: "0.01", network: "base", payTo: "bob",
			wantErr: x402proxy.ErrInvalidAddress,
		},
		{
			name: "price below asset precision", price: "0.0000001", network: "base",
			payTo:   "0x2222222222222222222222222222222222222222",
			wantErr: x402proxy.ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := tt.resolver
			if resolver == nil {
				resolver = &fakeResolver{}
			}
			_, err := NewBuilder(resolver).Build(context.Background(),
				decimal.RequireFromString(tt.price), tt.network, tt.payTo, "https://proxy.example.com/r", "")
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRespond402(t *testing.T) {
	requirements := []x402proxy.PaymentRequirement{{
		Scheme:            x402proxy.SchemeExact,
		Network:           "base",
		MaxAmountRequired: "10000",
	}}

	rec := httptest.NewRecorder()
	Respond402(rec, "Payment required", requirements, "0x1111111111111111111111111111111111111111")

	assert.Equal(t, 402, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body x402proxy.PaymentRequirementsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, x402proxy.X402Version, body.X402Version)
	assert.Equal(t, "Payment required", body.Error)
	require.Len(t, body.Accepts, 1)
	assert.Equal(t, "10000", body.Accepts[0].MaxAmountRequired)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", body.Payer)
}
