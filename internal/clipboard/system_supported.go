//go:build !linux

package clipboard

import (
	"sync"

	"golang.design/x/clipboard"
)

// Available reports whether WriteSystem can reach a system clipboard on this platform.
const Available = true

var (
	initOnce sync.Once
	initErr  error
)

// WriteSystem writes text to the system clipboard.
func WriteSystem(text string) error {
	initOnce.Do(func() {
		initErr = clipboard.Init()
	})
	if initErr != nil {
		return initErr
	}
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}
