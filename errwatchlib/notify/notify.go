package notify

import (
	"fmt"
	"sync"
	"time"

	"errwatch.dev/errwatch/v1/errwatchlib/logger"
)

const (
	// How long a banner stays up unless it is closed first
	DefaultDuration = 5 * time.Second
)

// Handle identifies one rendered banner
type Handle string

// Renderer is the display surface banners are drawn on
type Renderer interface {
	Render(message string) (Handle, error)
	Dismiss(handle Handle) error
}

// Clock schedules removal timers. AfterFunc returns the timer's stop function.
type Clock interface {
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type Config struct {
	Duration time.Duration
	Clock    Clock
}

// Board keeps track of the banners currently on screen
type Board struct {
	logger   *logger.Logger
	renderer Renderer
	clock    Clock
	duration time.Duration

	mu      sync.Mutex
	entries map[Handle]*Entry
}

func NewBoard(logger *logger.Logger, renderer Renderer, config Config) *Board {
	if config.Duration <= 0 {
		config.Duration = DefaultDuration
	}
	if config.Clock == nil {
		config.Clock = realClock{}
	}

	return &Board{
		logger:   logger,
		renderer: renderer,
		clock:    config.Clock,
		duration: config.Duration,
		entries:  make(map[Handle]*Entry),
	}
}

// Entry is one banner and its single pending removal timer
type Entry struct {
	board   *Board
	handle  Handle
	message string

	once sync.Once
	mu   sync.Mutex
	stop func() bool
}

func (e *Entry) Handle() Handle {
	if e == nil {
		return ""
	}
	return e.handle
}

func (e *Entry) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Dismiss is the close control. Calling it more than once, or after the
// banner expired, does nothing.
func (e *Entry) Dismiss() {
	if e == nil {
		return
	}
	e.board.remove(e)
}

// Show renders exactly one banner for message. It never panics; when the
// renderer fails the failure is logged and nil is returned.
func (b *Board) Show(message string) (entry *Entry) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorf("banner renderer panicked: %v", r)
			entry = nil
		}
	}()

	handle, err := b.renderer.Render(message)
	if err != nil {
		b.logger.Errorf("failed to render banner: %s", err)
		return nil
	}

	entry = &Entry{
		board:   b,
		handle:  handle,
		message: message,
	}

	b.mu.Lock()
	b.entries[handle] = entry
	b.mu.Unlock()

	entry.mu.Lock()
	entry.stop = b.clock.AfterFunc(b.duration, entry.Dismiss)
	entry.mu.Unlock()

	return entry
}

// Remove takes the banner down early. Unknown or already removed handles are ignored.
func (b *Board) Remove(handle Handle) {
	b.mu.Lock()
	entry, ok := b.entries[handle]
	b.mu.Unlock()

	if ok {
		b.remove(entry)
	}
}

// Active returns the handles of the banners still on screen
func (b *Board) Active() []Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	handles := make([]Handle, 0, len(b.entries))
	for handle := range b.entries {
		handles = append(handles, handle)
	}
	return handles
}

func (b *Board) remove(entry *Entry) {
	entry.once.Do(func() {
		entry.mu.Lock()
		stop := entry.stop
		entry.mu.Unlock()
		if stop != nil {
			stop()
		}

		b.mu.Lock()
		if current, ok := b.entries[entry.handle]; ok && current == entry {
			delete(b.entries, entry.handle)
		}
		b.mu.Unlock()

		if err := b.dismiss(entry.handle); err != nil {
			b.logger.Errorf("failed to dismiss banner %s: %s", entry.handle, err)
		}
	})
}

func (b *Board) dismiss(handle Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("banner renderer panicked: %v", r)
		}
	}()
	return b.renderer.Dismiss(handle)
}
