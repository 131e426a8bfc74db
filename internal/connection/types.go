package connection

import (
	"context"
	"errors"
)

// ErrNoTransport is reported when a Dialer returns neither a transport nor an error
var ErrNoTransport = errors.New("dialer returned no transport")

// Status is the observable state of a channel
type Status string

const (
	// StatusConnecting is reported while the first connection attempt is in flight
	StatusConnecting Status = "connecting"
	// StatusConnected is reported while a transport is open
	StatusConnected Status = "connected"
	// StatusReconnecting is reported between a drop and the next successful open
	StatusReconnecting Status = "reconnecting"
	// StatusDisconnected is reported when there is no transport and none is pending
	StatusDisconnected Status = "disconnected"
)

// Transport is one open push connection
type Transport interface {
	// Receive blocks until the next message arrives. Any error ends the connection.
	Receive(ctx context.Context) ([]byte, error)

	// Close releases the connection. It must be safe to call more than once.
	Close() error
}

//go:generate mockgen -destination=mocks/mock_dialer.go -package=mocks -source=types.go Dialer,Transport

// Dialer opens transports for channel keys. It is the registry's only way to
// reach the network; a registry without one never attempts a connection.
type Dialer interface {
	Dial(ctx context.Context, key string) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface
type DialerFunc func(ctx context.Context, key string) (Transport, error)

// Dial implements Dialer
func (f DialerFunc) Dial(ctx context.Context, key string) (Transport, error) {
	return f(ctx, key)
}
