//go:build !linux

package host

import "errors"

// TTYOption is provided for non-linux builds so wiring code can compile.
type TTYOption func(*TTY)

// WithWriteCapacity is a no-op on non-linux builds.
func WithWriteCapacity(n int) TTYOption { return func(*TTY) {} }

// TTY stub for non-linux builds.
type TTY struct{}

var errUnsupported = errors.New("host tty endpoint requires linux")

func OpenTTY(path string, cb Callbacks, opts ...TTYOption) (*TTY, error) {
	return nil, errUnsupported
}

func (t *TTY) Read(p []byte) (int, error)  { return 0, errUnsupported }
func (t *TTY) Write(p []byte) (int, error) { return 0, errUnsupported }
func (t *TTY) WriteAvailable() int         { return 0 }
func (t *TTY) Flush() error                { return errUnsupported }
func (t *TTY) Close() error                { return nil }
