// ABOUTME: Bounded outbound buffer that lets the registry push to a peer without blocking.
// ABOUTME: A single writer goroutine per connection drains it onto the transport.

package gateway

import (
	"errors"
	"sync"

	"github.com/2389/relay-hub/internal/session"
	"github.com/2389/relay-hub/internal/wire"
)

var (
	errOutboxClosed = errors.New("connection closed")
	errOutboxFull   = errors.New("connection send buffer full")
)

// outbox is the session.Sink of a push connection.
type outbox struct {
	ch   chan *wire.Message
	done chan struct{}
	once sync.Once
}

func newOutbox(size int) *outbox {
	if size <= 0 {
		size = 1
	}
	return &outbox{
		ch:   make(chan *wire.Message, size),
		done: make(chan struct{}),
	}
}

// Send implements session.Sink. It never blocks.
func (o *outbox) Send(f session.Frame) error {
	return o.enqueue(wire.FromFrame(f))
}

func (o *outbox) enqueue(msg *wire.Message) error {
	select {
	case <-o.done:
		return errOutboxClosed
	default:
	}
	select {
	case o.ch <- msg:
		return nil
	case <-o.done:
		return errOutboxClosed
	default:
		return errOutboxFull
	}
}

// Close implements session.Sink. The registry calls it when the session is
// removed or replaced; the connection's loops then shut down.
func (o *outbox) Close() {
	o.once.Do(func() { close(o.done) })
}

// Done is closed once the outbox is closed.
func (o *outbox) Done() <-chan struct{} {
	return o.done
}
