// Package connectiontest provides an in-memory Dialer for exercising code
// built on the connection registry without a network.
package connectiontest

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/stacklok/toolhive-jobwatch/internal/connection"
)

// ErrClosed is returned by Receive after the transport was closed locally
var ErrClosed = errors.New("transport closed")

// Dialer records every Dial and hands out in-memory transports.
// The zero value is ready to use.
type Dialer struct {
	mu         sync.Mutex
	transports []*Transport
	keys       []string
	failNext   int
	dialErr    error
}

var _ connection.Dialer = (*Dialer)(nil)

// Dial implements connection.Dialer
func (d *Dialer) Dial(ctx context.Context, key string) (connection.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys = append(d.keys, key)
	if d.failNext > 0 {
		d.failNext--
		return nil, d.dialErr
	}
	t := &Transport{
		messages: make(chan []byte, 64),
		dropped:  make(chan struct{}),
		closed:   make(chan struct{}),
	}
	d.transports = append(d.transports, t)
	return t, nil
}

// FailNext makes the next n Dial calls return err
func (d *Dialer) FailNext(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = n
	d.dialErr = err
}

// Dials returns the number of Dial calls so far, failed ones included
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.keys)
}

// Keys returns the keys passed to Dial, in call order
func (d *Dialer) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.keys...)
}

// Last returns the most recently opened transport, or nil
func (d *Dialer) Last() *Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// Transport is an in-memory connection.Transport
type Transport struct {
	messages chan []byte

	dropOnce  sync.Once
	dropped   chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

// Send queues a message for the reader
func (t *Transport) Send(msg []byte) {
	t.messages <- msg
}

// Drop simulates the remote end going away. Queued messages are still delivered first.
func (t *Transport) Drop() {
	t.dropOnce.Do(func() { close(t.dropped) })
}

// Closed reports whether Close was called
func (t *Transport) Closed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Receive implements connection.Transport
func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-t.messages:
		return msg, nil
	default:
	}

	select {
	case msg := <-t.messages:
		return msg, nil
	case <-t.dropped:
		select {
		case msg := <-t.messages:
			return msg, nil
		default:
			return nil, io.EOF
		}
	case <-t.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements connection.Transport
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}
