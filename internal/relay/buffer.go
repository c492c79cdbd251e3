package relay

import (
	"errors"
	"sync"
	"time"
)

// ErrPushTimeout reports that the buffer could not absorb a push within the
// caller's bounded wait. Callers log and drop rather than stall the producer;
// losing bytes under sustained overflow is the documented degradation policy.
var ErrPushTimeout = errors.New("relay: push timeout")

// Buffer is a bounded circular byte queue decoupling UART-side production
// from host-side consumption. Single producer, single consumer; both ends
// block at most for the caller-supplied timeout.
type Buffer struct {
	mu       sync.Mutex
	buf      []byte
	rd, wr   int
	count    int
	notEmpty chan struct{}
	notFull  chan struct{}
}

// NewBuffer creates a buffer with the given capacity in bytes.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Buffer{
		buf:      make([]byte, capacity),
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
	}
}

// Push appends all of p in arrival order, waiting up to timeout for space.
// It never writes a partial chunk: on timeout nothing is enqueued and
// ErrPushTimeout is returned.
func (b *Buffer) Push(p []byte, timeout time.Duration) error {
	if len(p) == 0 {
		return nil
	}
	if len(p) > len(b.buf) {
		return ErrPushTimeout // can never fit
	}
	var timer *time.Timer
	var expired <-chan time.Time
	for {
		b.mu.Lock()
		if len(b.buf)-b.count >= len(p) {
			head := copy(b.buf[b.wr:], p)
			if head < len(p) {
				copy(b.buf, p[head:])
			}
			b.wr = (b.wr + len(p)) % len(b.buf)
			b.count += len(p)
			b.mu.Unlock()
			signal(b.notEmpty)
			return nil
		}
		b.mu.Unlock()
		if timeout <= 0 {
			return ErrPushTimeout
		}
		if timer == nil {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
			expired = timer.C
		}
		select {
		case <-b.notFull:
		case <-expired:
			return ErrPushTimeout
		}
	}
}

// PopUpTo waits up to timeout for any data, then returns whatever is
// available up to max without waiting to fill it. The non-maximal drain keeps
// a lone byte from being held hostage for a full buffer's worth of latency.
// It returns nil on timeout.
func (b *Buffer) PopUpTo(max int, timeout time.Duration) []byte {
	if max <= 0 {
		return nil
	}
	var timer *time.Timer
	var expired <-chan time.Time
	for {
		b.mu.Lock()
		if b.count > 0 {
			take := max
			if take > b.count {
				take = b.count
			}
			out := make([]byte, take)
			head := copy(out, b.buf[b.rd:min(b.rd+take, len(b.buf))])
			if head < take {
				copy(out[head:], b.buf)
			}
			b.rd = (b.rd + take) % len(b.buf)
			b.count -= take
			b.mu.Unlock()
			signal(b.notFull)
			return out
		}
		b.mu.Unlock()
		if timeout <= 0 {
			return nil
		}
		if timer == nil {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
			expired = timer.C
		}
		select {
		case <-b.notEmpty:
		case <-expired:
			return nil
		}
	}
}

// Len reports bytes currently queued.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Free reports remaining capacity.
func (b *Buffer) Free() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf) - b.count
}

// Cap reports total capacity.
func (b *Buffer) Cap() int { return len(b.buf) }

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
