// Package httpclient provides the HTTP transport used to reach the job backend's REST API.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

const (
	// DefaultTimeout is used when NewDefaultClient is given a zero timeout
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize bounds the body size accepted from the backend
	MaxResponseSize = 10 * 1024 * 1024

	// UserAgent is sent with every request
	UserAgent = "toolhive-jobwatch/1.0"

	// RequestIDHeader carries a per-request correlation ID
	RequestIDHeader = "X-Request-ID"

	maxErrorBodySize = 1024
)

// Client fetches raw response bodies
type Client interface {
	// Get performs a GET request and returns the body of a 2xx response
	Get(ctx context.Context, url string) ([]byte, error)
}

// DefaultClient is the net/http backed Client
type DefaultClient struct {
	client *http.Client
}

// NewDefaultClient creates a client with the given request timeout.
// A zero timeout selects DefaultTimeout.
func NewDefaultClient(timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &DefaultClient{
		client: &http.Client{Timeout: timeout},
	}
}

// Get performs a GET request against url
func (c *DefaultClient) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		message := strings.TrimSpace(string(body))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, NewHTTPError(resp.StatusCode, url, message)
	}

	if resp.ContentLength > MaxResponseSize {
		return nil, sizeError(resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(data) > MaxResponseSize {
		return nil, sizeError(int64(len(data)))
	}

	return data, nil
}

func sizeError(size int64) error {
	return fmt.Errorf("response size %d bytes exceeds maximum allowed size of %.2f MB",
		size, float64(MaxResponseSize)/(1024*1024))
}
