//go:build linux

package clipboard

import "errors"

// Available reports whether WriteSystem can reach a system clipboard on this platform.
const Available = false

var errUnavailable = errors.New("clipboard not available on this platform (Linux without X11)")

// WriteSystem returns an error indicating the clipboard is not available.
func WriteSystem(string) error {
	return errUnavailable
}
