// Package forward sends verified requests to the backend target and reports
// the backend's response. It also validates that a configured target is an
// acceptable proxy destination.
package forward

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a single backend call when the request does not
// specify one.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of a backend response is buffered.
const maxResponseBytes = 10 << 20

// Request describes one backend call.
type Request struct {
	URL     string
	Path    string
	Method  string
	Headers http.Header
	Body    []byte
	Timeout time.Duration
}

// Response is the backend's answer.
type Response struct {
	Status   int
	Headers  http.Header
	Body     []byte
	Duration time.Duration
}

// Forwarder is the collaborator contract the proxy handler depends on.
type Forwarder interface {
	Forward(ctx context.Context, req Request) (*Response, error)
}

// HTTPForwarder implements Forwarder over net/http.
type HTTPForwarder struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPForwarder creates a forwarder with its own HTTP client. Redirects
// are not followed; the backend's redirect is passed through to the caller.
func NewHTTPForwarder(logger *zap.Logger) *HTTPForwarder {
	return &HTTPForwarder{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// Forward performs the backend call. Network and timeout failures return an
// error; the caller maps them to a synthetic 502. No retries.
func (f *HTTPForwarder) Forward(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := strings.TrimSuffix(req.URL, "/") + req.Path

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to build backend request: %w", err)
	}
	copyForwardableHeaders(httpReq.Header, req.Headers)

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read backend response: %w", err)
	}
	duration := time.Since(start)

	f.logger.Debug("forwarded request",
		zap.String("target", target),
		zap.String("method", req.Method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration))

	return &Response{
		Status:   resp.StatusCode,
		Headers:  resp.Header.Clone(),
		Body:     body,
		Duration: duration,
	}, nil
}

// hopByHopHeaders are stripped per RFC 9110; payment headers never reach the
// backend either.
var strippedHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Proxy-Connection":    {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Host":                {},
	"X-Payment":           {},
}

func copyForwardableHeaders(dst, src http.Header) {
	for name, values := range src {
		if _, strip := strippedHeaders[http.CanonicalHeaderKey(name)]; strip {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// ValidateTarget checks that a configured backend URL is an allowed proxy
// destination: http or https only, and outside dev mode no loopback,
// private-network, or link-local hosts. Fails closed on anything unparseable.
func ValidateTarget(rawURL string, allowPrivate bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid proxy target: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid proxy target: scheme %q not allowed", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("invalid proxy target: missing host")
	}
	if allowPrivate {
		return nil
	}

	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("invalid proxy target: loopback host %q", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("invalid proxy target: non-public address %q", host)
		}
	}
	return nil
}
