// Package websocket implements connection.Dialer over WebSocket push channels.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stacklok/toolhive-jobwatch/internal/connection"
)

// DefaultHandshakeTimeout bounds the opening handshake
const DefaultHandshakeTimeout = 10 * time.Second

// ChannelPath is the path under which job status channels are served
const ChannelPath = "/ws/jobs"

// Dialer opens one WebSocket per channel key at <base>/<key>
type Dialer struct {
	base   string
	dialer *websocket.Dialer
	header http.Header
}

var _ connection.Dialer = (*Dialer)(nil)

// Option configures a Dialer
type Option func(*Dialer)

// WithHeader adds a header sent with every handshake
func WithHeader(key, value string) Option {
	return func(d *Dialer) {
		d.header.Add(key, value)
	}
}

// WithHandshakeTimeout overrides DefaultHandshakeTimeout
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(d *Dialer) {
		d.dialer.HandshakeTimeout = timeout
	}
}

// NewDialer creates a dialer for channels rooted at baseURL. http and https
// URLs are converted to ws and wss.
func NewDialer(baseURL string, opts ...Option) (*Dialer, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL %q: %w", baseURL, err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported websocket URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("websocket URL %q has no host", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""

	d := &Dialer{
		base: u.String(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultHandshakeTimeout,
		},
		header: http.Header{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// ChannelURL derives the channel root from a REST base URL: same host, with
// the scheme switched to ws/wss and the path replaced by ChannelPath.
func ChannelURL(restBaseURL string) (string, error) {
	u, err := url.Parse(restBaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", restBaseURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = ChannelPath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// URL returns the endpoint used for key
func (d *Dialer) URL(key string) string {
	return d.base + "/" + url.PathEscape(key)
}

// Dial implements connection.Dialer
func (d *Dialer) Dial(ctx context.Context, key string) (connection.Transport, error) {
	endpoint := d.URL(key)
	conn, resp, err := d.dialer.DialContext(ctx, endpoint, d.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake with %s failed with status %d: %w", endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}

	zap.L().Debug("WebSocket opened", zap.String("url", endpoint))
	return &transport{conn: conn}, nil
}

// transport adapts a websocket connection to connection.Transport
type transport struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// Receive returns the next data frame. Control frames are handled by the
// underlying connection.
func (t *transport) Receive(ctx context.Context) ([]byte, error) {
	// unblock the read if ctx ends first
	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close sends a close frame when possible and closes the connection
func (t *transport) Close() error {
	t.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
