package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	consoleStatusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
	consoleAnswerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

// Console prints messages to a writer. It backs the one-shot CLI mode
// where there is no chat to talk to. Edits re-print the message with
// its handle so progress is still visible.
type Console struct {
	mu   sync.Mutex
	w    io.Writer
	next MessageHandle
}

var _ Transport = (*Console)(nil)

// NewConsole creates a console transport writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w, next: 1}
}

// Send prints the message and returns a fresh handle.
func (c *Console) Send(_ context.Context, _ int64, text string) (MessageHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	handle := c.next
	c.next++
	fmt.Fprintln(c.w, consoleAnswerStyle.Render(text))
	return handle, nil
}

// Edit re-prints the message; a terminal has no in-place edits.
func (c *Console) Edit(_ context.Context, _ int64, _ MessageHandle, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, consoleStatusStyle.Render(text))
	return nil
}
