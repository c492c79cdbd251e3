package uart

import "errors"

// Line condition sentinels a Driver may surface from Read. The port pump maps
// them to the matching events instead of treating them as read failures.
var (
	ErrBreak       = errors.New("uart: break condition")
	ErrParityError = errors.New("uart: parity error")
	ErrFrameError  = errors.New("uart: framing error")
	ErrOverflow    = errors.New("uart: fifo overflow")
	ErrClosed      = errors.New("uart: port closed")
)

// Driver is the raw serial device beneath a Port: a byte stream with a
// bounded read timeout plus baud-rate and input-buffer control.
type Driver interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetBaudRate(rate int) error
	ResetInput() error
	Close() error
}
