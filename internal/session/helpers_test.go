// ABOUTME: Test doubles shared by the session package tests.
// ABOUTME: Provides a recording sink and a manually advanced clock.

package session

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

var errSinkBroken = errors.New("sink broken")

type recordingSink struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
	broken bool
	limit  int // rejects frames once this many are held; zero means unbounded
}

func (s *recordingSink) Send(frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken || s.closed || (s.limit > 0 && len(s.frames) >= s.limit) {
		return errSinkBroken
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingSink) received() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *recordingSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(clock *fakeClock) *Registry {
	return NewRegistry(Options{
		LivenessTimeout: time.Minute,
		QueueCapacity:   4,
		Now:             clock.Now,
		Logger:          discardLogger(),
	})
}
