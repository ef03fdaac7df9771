// Package clipboard copies assistant replies and tracks which one was copied last.
package clipboard

import (
	"log/slog"
	"sync"
	"time"
)

// CopiedWindow is how long a message shows as copied.
const CopiedWindow = 2 * time.Second

// WriteFunc puts text on a clipboard.
type WriteFunc func(text string) error

type Copier struct {
	write  WriteFunc
	window time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	key   string
	timer *time.Timer
}

// New returns a Copier writing through write. A nil write uses the system clipboard.
func New(write WriteFunc, logger *slog.Logger) *Copier {
	if write == nil {
		write = WriteSystem
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Copier{write: write, window: CopiedWindow, logger: logger}
}

// Copy writes text and marks key as copied for the window. Write failures are only logged.
func (c *Copier) Copy(key, text string) {
	if err := c.write(text); err != nil {
		c.logger.Warn("copy to clipboard failed", "error", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.key = key
	var timer *time.Timer
	timer = time.AfterFunc(c.window, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		// a newer copy owns the indicator
		if c.timer == timer {
			c.key = ""
			c.timer = nil
		}
	})
	c.timer = timer
}

// Copied reports whether key is the message copied within the window.
func (c *Copier) Copied(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return key != "" && c.key == key
}
