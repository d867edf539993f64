package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
)

// ConsoleRenderer prints banners to a terminal. A terminal cannot take a
// banner back, so dismissal prints a short closing line instead.
type ConsoleRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	active map[Handle]string

	banner lipgloss.Style
	closed lipgloss.Style
}

func NewConsoleRenderer(out io.Writer) *ConsoleRenderer {
	renderer := lipgloss.NewRenderer(out)

	return &ConsoleRenderer{
		out:    out,
		active: make(map[Handle]string),
		banner: renderer.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("9")).
			Foreground(lipgloss.Color("9")).
			Padding(0, 1),
		closed: renderer.NewStyle().Faint(true),
	}
}

func (c *ConsoleRenderer) Render(message string) (Handle, error) {
	handle := Handle(uuid.New().String())

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := fmt.Fprintln(c.out, c.banner.Render("⚠ "+message)); err != nil {
		return "", fmt.Errorf("failed to write banner: %w", err)
	}
	c.active[handle] = message
	return handle, nil
}

func (c *ConsoleRenderer) Dismiss(handle Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	message, ok := c.active[handle]
	if !ok {
		return nil
	}
	delete(c.active, handle)

	if _, err := fmt.Fprintln(c.out, c.closed.Render("× "+message)); err != nil {
		return fmt.Errorf("failed to write banner dismissal: %w", err)
	}
	return nil
}
