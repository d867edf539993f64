package testutils

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"errwatch.dev/errwatch/v1/errwatchlib/notify"
)

// SafeBuffer is a strings.Builder that tolerates concurrent log writers
type SafeBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (s *SafeBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *SafeBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (s *SafeBuffer) Count(substr string) int {
	return strings.Count(s.String(), substr)
}

// FakeClock only fires timers when Advance moves time past them
type FakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func NewFakeClock() *FakeClock {
	return &FakeClock{}
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	timer := &fakeTimer{at: c.now + d, f: f}
	c.timers = append(c.timers, timer)

	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if timer.stopped || timer.fired {
			return false
		}
		timer.stopped = true
		return true
	}
}

// Advance moves time forward and runs every timer that came due, in order
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	due := []*fakeTimer{}
	for _, timer := range c.timers {
		if !timer.stopped && !timer.fired && timer.at <= c.now {
			timer.fired = true
			due = append(due, timer)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, timer := range due {
		timer.f()
	}
}

// Pending counts timers that have neither fired nor been stopped
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := 0
	for _, timer := range c.timers {
		if !timer.stopped && !timer.fired {
			pending++
		}
	}
	return pending
}

// RecordingRenderer remembers every banner it was asked to show or dismiss
type RecordingRenderer struct {
	mu        sync.Mutex
	next      int
	shown     map[notify.Handle]string
	order     []notify.Handle
	dismissed []notify.Handle
}

func NewRecordingRenderer() *RecordingRenderer {
	return &RecordingRenderer{shown: make(map[notify.Handle]string)}
}

func (r *RecordingRenderer) Render(message string) (notify.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	handle := notify.Handle(fmt.Sprintf("banner-%d", r.next))
	r.shown[handle] = message
	r.order = append(r.order, handle)
	return handle, nil
}

func (r *RecordingRenderer) Dismiss(handle notify.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dismissed = append(r.dismissed, handle)
	return nil
}

// Messages lists every message rendered so far, oldest first
func (r *RecordingRenderer) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	messages := make([]string, 0, len(r.order))
	for _, handle := range r.order {
		messages = append(messages, r.shown[handle])
	}
	return messages
}

func (r *RecordingRenderer) Dismissed() []notify.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Handle(nil), r.dismissed...)
}

// MockRenderer lets tests script renderer failures
type MockRenderer struct {
	mock.Mock
}

func (m *MockRenderer) Render(message string) (notify.Handle, error) {
	args := m.Called(message)
	return args.Get(0).(notify.Handle), args.Error(1)
}

func (m *MockRenderer) Dismiss(handle notify.Handle) error {
	args := m.Called(handle)
	return args.Error(0)
}

// RoundTripFunc adapts a function into an http.RoundTripper
type RoundTripFunc func(*http.Request) (*http.Response, error)

func (f RoundTripFunc) RoundTrip(request *http.Request) (*http.Response, error) {
	return f(request)
}
