// ABOUTME: Shared test doubles for relay tests: a recording push sink and a fake clock.
// ABOUTME: Also builds hubs with short debounce so roster broadcasts settle quickly.

package relay

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/relay-hub/internal/session"
)

var errClosedPipe = errors.New("closed pipe")

type sink struct {
	mu     sync.Mutex
	frames []session.Frame
	closed bool
	broken bool
}

func (s *sink) Send(f session.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.broken {
		return errClosedPipe
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *sink) ofType(t session.FrameType) []session.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []session.Frame
	for _, f := range s.frames {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

func (s *sink) lastRoster() ([]session.Info, bool) {
	rosters := s.ofType(session.FrameRoster)
	if len(rosters) == 0 {
		return nil, false
	}
	return rosters[len(rosters)-1].Roster, true
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const (
	testTimeout  = 2 * time.Minute
	testInterval = time.Minute
)

func newTestHub(c *clock) *Hub {
	h := NewHub(Options{
		LivenessTimeout: testTimeout,
		SweepInterval:   testInterval,
		QueueCapacity:   16,
		RosterDebounce:  5 * time.Millisecond,
		Now:             c.Now,
		Logger:          quietLogger(),
	})
	return h
}

func ids(infos []session.Info) []string {
	out := make([]string, 0, len(infos))
	for _, i := range infos {
		out = append(out, i.ID)
	}
	return out
}
