package notify

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"errwatch.dev/errwatch/v1/errwatchlib/logger"
)

// MultiRenderer draws every banner on all of its renderers. A banner counts as
// shown as long as one of them managed to draw it.
type MultiRenderer struct {
	logger    *logger.Logger
	renderers []Renderer

	mu      sync.Mutex
	handles map[Handle][]Handle
}

func NewMultiRenderer(logger *logger.Logger, renderers ...Renderer) *MultiRenderer {
	return &MultiRenderer{
		logger:    logger,
		renderers: renderers,
		handles:   map[Handle][]Handle{},
	}
}

func (m *MultiRenderer) Render(message string) (Handle, error) {
	handles := make([]Handle, len(m.renderers))
	var errs []error
	shown := false

	for i, renderer := range m.renderers {
		handle, err := renderer.Render(message)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		handles[i] = handle
		shown = true
	}

	if !shown {
		return "", fmt.Errorf("no renderer could show the banner: %w", errors.Join(errs...))
	}
	for _, err := range errs {
		m.logger.Warnf("banner missing from one display: %s", err)
	}

	handle := Handle(uuid.New().String())
	m.mu.Lock()
	m.handles[handle] = handles
	m.mu.Unlock()
	return handle, nil
}

func (m *MultiRenderer) Dismiss(handle Handle) error {
	m.mu.Lock()
	handles, ok := m.handles[handle]
	delete(m.handles, handle)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown banner %s", handle)
	}

	var errs []error
	for i, inner := range handles {
		if inner == "" {
			continue
		}
		if err := m.renderers[i].Dismiss(inner); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
