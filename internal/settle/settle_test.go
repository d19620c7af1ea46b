package settle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	x402proxy "github.com/mark3labs/x402-proxy"
	"github.com/mark3labs/x402-proxy/facilitator"
)

type fakeFacilitator struct {
	receipt *x402proxy.SettlementResponse
	err     error
}

func (f *fakeFacilitator) Verify(ctx context.Context, payload x402proxy.PaymentPayload, requirement x402proxy.PaymentRequirement) (*facilitator.VerifyResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeFacilitator) Settle(ctx context.Context, payload x402proxy.PaymentPayload, requirement x402proxy.PaymentRequirement) (*x402proxy.SettlementResponse, error) {
	return f.receipt, f.err
}

func (f *fakeFacilitator) Supported(ctx context.Context) (*facilitator.SupportedResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeFacilitator) Resolve(ctx context.Context, name string) (string, error) {
	return "", errors.New("not implemented")
}

func TestSettleSuccess(t *testing.T) {
	receipt := &x402proxy.SettlementResponse{Success: true, Transaction: "0xdeadbeef", Network: "base", Payer: "0x1"}
	c := NewCoordinator(&fakeFacilitator{receipt: receipt}, zaptest.NewLogger(t))

	result := c.Settle(context.Background(), x402proxy.PaymentPayload{Network: "base"}, x402proxy.PaymentRequirement{})
	assert.True(t, result.Success)
	assert.Equal(t, receipt, result.Receipt)
	assert.Empty(t, result.ErrorReason)
}

func TestSettleRejected(t *testing.T) {
	receipt := &x402proxy.SettlementResponse{Success: false, ErrorReason: "nonce_already_used", Network: "base"}
	c := NewCoordinator(&fakeFacilitator{receipt: receipt}, zaptest.NewLogger(t))

	result := c.Settle(context.Background(), x402proxy.PaymentPayload{Network: "base"}, x402proxy.PaymentRequirement{})
	assert.False(t, result.Success)
	assert.Equal(t, "nonce_already_used", result.ErrorReason)
	assert.Equal(t, receipt, result.Receipt, "failed settlements still carry the receipt for auditing")
}

func TestSettleTransportError(t *testing.T) {
	c := NewCoordinator(&fakeFacilitator{err: errors.New("connection refused")}, zaptest.NewLogger(t))

	result := c.Settle(context.Background(), x402proxy.PaymentPayload{Network: "base"}, x402proxy.PaymentRequirement{})
	assert.False(t, result.Success)
	assert.Nil(t, result.Receipt)
	assert.Contains(t, result.ErrorReason, "connection refused")
}
