// ABOUTME: Transport binding: a session is reached either by push (live sink) or pull (queue).
// ABOUTME: Send is the one place that switches on the transport kind.

package session

import (
	"errors"
	"fmt"
	"sync"
)

// ErrStaleTransport indicates a write through a push handle that was invalidated,
// either because the session was replaced or removed.
var ErrStaleTransport = errors.New("transport is stale")

// ErrNotDeliverable indicates a frame the transport cannot carry, such as an
// event for a pull session.
var ErrNotDeliverable = errors.New("frame not deliverable over transport")

// Sink is the writable end of a push connection.
// Send must not block: implementations buffer and report an error when full or closed.
type Sink interface {
	Send(frame Frame) error
	Close()
}

// Transport is either *PushTransport or *PullTransport.
type Transport interface {
	Mode() Mode
	isTransport()
}

// PushTransport holds a live connection the hub writes to directly.
type PushTransport struct {
	mu      sync.Mutex
	sink    Sink
	invalid bool
}

// NewPushTransport binds a sink.
func NewPushTransport(sink Sink) *PushTransport {
	return &PushTransport{sink: sink}
}

func (*PushTransport) Mode() Mode  { return ModePush }
func (*PushTransport) isTransport() {}

func (p *PushTransport) write(frame Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.invalid {
		return ErrStaleTransport
	}
	return p.sink.Send(frame)
}

// Invalidate marks the handle stale and closes the sink. Once it returns no
// further frame reaches the peer through this transport.
func (p *PushTransport) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.invalid {
		return
	}
	p.invalid = true
	p.sink.Close()
}

// Stale reports whether Invalidate has been called.
func (p *PushTransport) Stale() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.invalid
}

// PullTransport holds commands until the peer polls for them.
type PullTransport struct {
	queue *Queue
}

// NewPullTransport binds a queue.
func NewPullTransport(queue *Queue) *PullTransport {
	return &PullTransport{queue: queue}
}

func (*PullTransport) Mode() Mode  { return ModePull }
func (*PullTransport) isTransport() {}

// Send delivers a frame over whichever transport the session has.
// Push transports write immediately; pull transports queue commands and refuse
// everything else.
func Send(t Transport, frame Frame) error {
	switch t := t.(type) {
	case *PushTransport:
		return t.write(frame)
	case *PullTransport:
		if frame.Type != FrameCommand || frame.Command == nil {
			return fmt.Errorf("%w: %s over pull", ErrNotDeliverable, frame.Type)
		}
		t.queue.Push(*frame.Command)
		return nil
	default:
		return fmt.Errorf("%w: unknown transport %T", ErrNotDeliverable, t)
	}
}
