package forward

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestForward(t *testing.T) {
	var seen *http.Request
	var seenBody []byte
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Clone(context.Background())
		seenBody, _ = io.ReadAll(r.Body)
		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer backend.Close()

	headers := http.Header{}
	headers.Set("X-Payment", "secret-payment-blob")
	headers.Set("Authorization", "Bearer client-token")
	headers.Set("Connection", "keep-alive")

	f := NewHTTPForwarder(zaptest.NewLogger(t))
	resp, err := f.Forward(context.Background(), Request{
		URL:     backend.URL,
		Path:    "/v1/data?q=1",
		Method:  http.MethodPost,
		Headers: headers,
		Body:    []byte(`{"input":42}`),
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, "yes", resp.Headers.Get("X-Backend"))
	assert.Positive(t, resp.Duration)

	require.NotNil(t, seen)
	assert.Equal(t, "/v1/data", seen.URL.Path)
	assert.Equal(t, "q=1", seen.URL.RawQuery)
	assert.Equal(t, `{"input":42}`, string(seenBody))
	assert.Equal(t, "Bearer client-token", seen.Header.Get("Authorization"))
	assert.Empty(t, seen.Header.Get("X-Payment"), "payment header must never reach the backend")
	assert.Empty(t, seen.Header.Get("Connection"), "hop-by-hop headers must be stripped")
}

func TestForwardDoesNotFollowRedirects(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://elsewhere.example.com/", http.StatusFound)
	}))
	defer backend.Close()

	f := NewHTTPForwarder(zaptest.NewLogger(t))
	resp, err := f.Forward(context.Background(), Request{URL: backend.URL, Path: "/", Method: http.MethodGet})
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.Status)
	assert.Equal(t, "https://elsewhere.example.com/", resp.Headers.Get("Location"))
}

func TestForwardTimeout(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer backend.Close()

	f := NewHTTPForwarder(zaptest.NewLogger(t))
	_, err := f.Forward(context.Background(), Request{
		URL:     backend.URL,
		Path:    "/slow",
		Method:  http.MethodGet,
		Timeout: 50 * time.Millisecond,
	})
	require.Error(t, err)
}

func TestForwardConnectionRefused(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backend.Close()

	f := NewHTTPForwarder(zaptest.NewLogger(t))
	_, err := f.Forward(context.Background(), Request{URL: backend.URL, Path: "/", Method: http.MethodGet})
	require.Error(t, err)
}

func TestValidateTarget(t *testing.T) {
	tests := []struct {
		name         string
		url          string
		allowPrivate bool
		wantErr      bool
	}{
		{name: "public https", url: "https://api.example.com", wantErr: false},
		{name: "public http", url: "http://api.example.com:8080", wantErr: false},
		{name: "ftp scheme", url: "ftp://api.example.com", wantErr: true},
		{name: "file scheme", url: "file:///etc/passwd", wantErr: true},
		{name: "missing host", url: "https://", wantErr: true},
		{name: "localhost", url: "http://localhost:3000", wantErr: true},
		{name: "localhost subdomain", url: "http://api.localhost", wantErr: true},
		{name: "loopback ip", url: "http://127.0.0.1:3000", wantErr: true},
		{name: "private ip", url: "http://10.0.0.5", wantErr: true},
		{name: "link local", url: "http://169.254.169.254", wantErr: true},
		{name: "unspecified", url: "http://0.0.0.0", wantErr: true},
		{name: "localhost allowed in dev", url: "http://localhost:3000", allowPrivate: true, wantErr: false},
		{name: "private ip allowed in dev", url: "http://10.0.0.5", allowPrivate: true, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTarget(tt.url, tt.allowPrivate)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
