//go:build linux

package host

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/serialbridge/go-uart-bridge/internal/logging"
)

const (
	// readBufSize mirrors the endpoint's notification granularity; a single
	// OnReceive may leave more than this pending, in which case the poller
	// fires again.
	readBufSize = 512

	// defaultWriteCapacity models the endpoint TX buffer WriteAvailable is
	// computed against.
	defaultWriteCapacity = 4096

	rxPollInterval   = 100 * time.Millisecond // poll(2) timeout, shutdown latency bound
	lineStatePoll    = 5 * time.Millisecond   // DTR/RTS sampling period
	undrainedBackoff = 10 * time.Millisecond  // pacing when a notification is not drained
)

// TTY is a host Endpoint over a character device (USB CDC-ACM gadget port or
// pty). Receive readiness comes from poll(2); DTR/RTS edges are sampled via
// TIOCMGET since a tty delivers no line-state interrupt to userspace.
type TTY struct {
	fd       int
	cb       Callbacks
	writeCap int

	done   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup
}

type TTYOption func(*TTY)

// WithWriteCapacity overrides the modeled TX buffer size.
func WithWriteCapacity(n int) TTYOption {
	return func(t *TTY) {
		if n > 0 {
			t.writeCap = n
		}
	}
}

// OpenTTY opens path in raw mode and starts the receive and line-state
// pollers.
func OpenTTY(path string, cb Callbacks, opts ...TTYOption) (*TTY, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open host endpoint %s: %w", path, err)
	}
	if err := makeRaw(fd); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("configure host endpoint %s: %w", path, err)
	}
	t := &TTY{
		fd:       fd,
		cb:       cb,
		writeCap: defaultWriteCapacity,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	t.wg.Add(2)
	go t.pollReceive()
	go t.pollLineState()
	return t, nil
}

// makeRaw disables all input/output processing so payload bytes pass through
// untouched.
func makeRaw(fd int) error {
	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	tio.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	tio.Oflag &^= unix.OPOST
	tio.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	tio.Cflag &^= unix.CSIZE | unix.PARENB
	tio.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	tio.Cc[unix.VMIN] = 0
	tio.Cc[unix.VTIME] = 0
	return unix.IoctlSetTermios(fd, unix.TCSETS, tio)
}

func (t *TTY) pollReceive() {
	defer t.wg.Done()
	fds := []unix.PollFd{{Fd: int32(t.fd), Events: unix.POLLIN}}
	for {
		select {
		case <-t.done:
			return
		default:
		}
		fds[0].Revents = 0
		n, err := unix.Poll(fds, int(rxPollInterval/time.Millisecond))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if !t.closed.Load() {
				logging.L().Warn("host_poll_error", "error", err)
			}
			return
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			// Host side detached (e.g. pty peer closed). Keep polling, the
			// peer may reattach.
			time.Sleep(undrainedBackoff)
			continue
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			before, _ := unix.IoctlGetInt(t.fd, unix.TIOCINQ)
			if t.cb.OnReceive != nil {
				t.cb.OnReceive(0)
			}
			// If the callback declined to drain (pre-init window) POLLIN
			// stays asserted; pace the loop instead of spinning.
			if after, err := unix.IoctlGetInt(t.fd, unix.TIOCINQ); err == nil && after > 0 && after >= before {
				time.Sleep(undrainedBackoff)
			}
		}
	}
}

func (t *TTY) pollLineState() {
	defer t.wg.Done()
	ticker := time.NewTicker(lineStatePoll)
	defer ticker.Stop()
	var lastDTR, lastRTS, seeded bool
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		bits, err := unix.IoctlGetInt(t.fd, unix.TIOCMGET)
		if err != nil {
			continue // not all ptys implement modem lines
		}
		dtr := bits&unix.TIOCM_DTR != 0
		rts := bits&unix.TIOCM_RTS != 0
		if !seeded {
			lastDTR, lastRTS, seeded = dtr, rts, true
			continue
		}
		if dtr != lastDTR || rts != lastRTS {
			lastDTR, lastRTS = dtr, rts
			if t.cb.OnLineState != nil {
				t.cb.OnLineState(0, dtr, rts)
			}
		}
	}
}

// Read drains bytes already received from the host (non-blocking).
func (t *TTY) Read(p []byte) (int, error) {
	n, err := unix.Read(t.fd, p)
	if err == unix.EAGAIN {
		return 0, nil
	}
	if n < 0 {
		n = 0
	}
	return n, err
}

// Write offers p to the endpoint and reports how many bytes were accepted.
func (t *TTY) Write(p []byte) (int, error) {
	n, err := unix.Write(t.fd, p)
	if err == unix.EAGAIN {
		return 0, nil
	}
	if n < 0 {
		n = 0
	}
	return n, err
}

// WriteAvailable reports remaining TX buffer space based on the bytes the
// kernel has not yet transmitted.
func (t *TTY) WriteAvailable() int {
	queued, err := unix.IoctlGetInt(t.fd, unix.TIOCOUTQ)
	if err != nil {
		return t.writeCap
	}
	if queued >= t.writeCap {
		return 0
	}
	return t.writeCap - queued
}

// Flush waits until pending output has been handed to the host side.
func (t *TTY) Flush() error {
	return unix.IoctlSetInt(t.fd, unix.TCSBRK, 1)
}

// Close stops the pollers and closes the device.
func (t *TTY) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	close(t.done)
	err := unix.Close(t.fd)
	t.wg.Wait()
	return err
}

var _ Endpoint = (*TTY)(nil)
