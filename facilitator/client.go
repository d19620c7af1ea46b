package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	x402proxy "github.com/mark3labs/x402-proxy"
)

// Default operation timeouts. Settlement waits on a blockchain transaction,
// so it gets a much longer bound than verification.
const (
	DefaultVerifyTimeout  = 10 * time.Second
	DefaultSettleTimeout  = 60 * time.Second
	DefaultResolveTimeout = 10 * time.Second
)

// Client is an HTTP client for x402 facilitator services.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	authorization string
	verifyTimeout time.Duration
	settleTimeout time.Duration
	logger        *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAuthorization sets a static Authorization header value, for example
// "Bearer your-api-key".
func WithAuthorization(value string) Option {
	return func(c *Client) { c.authorization = value }
}

// WithTimeouts overrides the per-operation timeouts.
func WithTimeouts(verify, settle time.Duration) Option {
	return func(c *Client) {
		c.verifyTimeout = verify
		c.settleTimeout = settle
	}
}

// NewClient creates a facilitator client for the given base URL.
func NewClient(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:       baseURL,
		httpClient:    &http.Client{},
		verifyTimeout: DefaultVerifyTimeout,
		settleTimeout: DefaultSettleTimeout,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// request is the payload sent to the facilitator /verify and /settle endpoints.
type request struct {
	X402Version         int                          `json:"x402Version"`
	PaymentPayload      x402proxy.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements x402proxy.PaymentRequirement `json:"paymentRequirements"`
}

// Verify verifies a payment authorization without executing the transaction.
func (c *Client) Verify(ctx context.Context, payment x402proxy.PaymentPayload, requirement x402proxy.PaymentRequirement) (*VerifyResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
	defer cancel()

	var verifyResp VerifyResponse
	if err := c.post(ctx, "/verify", request{
		X402Version:         x402proxy.X402Version,
		PaymentPayload:      payment,
		PaymentRequirements: requirement,
	}, &verifyResp); err != nil {
		return nil, fmt.Errorf("%w: %v", x402proxy.ErrVerificationFailed, err)
	}

	c.logger.Debug("facilitator verify",
		zap.Bool("isValid", verifyResp.IsValid),
		zap.String("payer", verifyResp.Payer),
		zap.String("invalidReason", verifyResp.InvalidReason))
	return &verifyResp, nil
}

// Settle executes a verified payment on the blockchain.
func (c *Client) Settle(ctx context.Context, payment x402proxy.PaymentPayload, requirement x402proxy.PaymentRequirement) (*x402proxy.SettlementResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.settleTimeout)
	defer cancel()

	var settlementResp x402proxy.SettlementResponse
	if err := c.post(ctx, "/settle", request{
		X402Version:         x402proxy.X402Version,
		PaymentPayload:      payment,
		PaymentRequirements: requirement,
	}, &settlementResp); err != nil {
		return nil, fmt.Errorf("%w: %v", x402proxy.ErrSettlementFailed, err)
	}

	c.logger.Debug("facilitator settle",
		zap.Bool("success", settlementResp.Success),
		zap.String("transaction", settlementResp.Transaction),
		zap.String("errorReason", settlementResp.ErrorReason))
	return &settlementResp, nil
}

// Supported queries the facilitator for supported payment types.
func (c *Client) Supported(ctx context.Context) (*SupportedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/supported", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402proxy.ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("supported endpoint failed: status %d", resp.StatusCode)
	}

	var supportedResp SupportedResponse
	if err := json.NewDecoder(resp.Body).Decode(&supportedResp); err != nil {
		return nil, fmt.Errorf("failed to decode supported response: %w", err)
	}
	return &supportedResp, nil
}

// resolveRequest is the payload for the facilitator /resolve endpoint.
type resolveRequest struct {
	Name string `json:"name"`
}

// resolveResponse is the facilitator's answer to a name lookup.
type resolveResponse struct {
	Address string `json:"address"`
	Error   string `json:"error,omitempty"`
}

// Resolve resolves a name-service name to a canonical address via the
// facilitator, which owns chain access.
func (c *Client) Resolve(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultResolveTimeout)
	defer cancel()

	var resolved resolveResponse
	if err := c.post(ctx, "/resolve", resolveRequest{Name: name}, &resolved); err != nil {
		return "", fmt.Errorf("%w: %s: %v", x402proxy.ErrUnresolvableName, name, err)
	}
	if resolved.Address == "" {
		reason := resolved.Error
		if reason == "" {
			reason = "no address record"
		}
		return "", fmt.Errorf("%w: %s: %s", x402proxy.ErrUnresolvableName, name, reason)
	}
	return resolved.Address, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", x402proxy.ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.authorization != "" {
		req.Header.Set("Authorization", c.authorization)
	}
}
