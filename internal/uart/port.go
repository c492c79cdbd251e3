package uart

import (
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/serialbridge/go-uart-bridge/internal/logging"
	"github.com/serialbridge/go-uart-bridge/internal/metrics"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

const (
	defaultRingSize   = 4096 // driver-level receive ring
	defaultEventDepth = 20   // queued driver events
	defaultReadChunk  = 512  // per read() buffer for the pump
	rxBackoffMin      = 20 * time.Millisecond
	rxBackoffMax      = 500 * time.Millisecond
)

// Port layers driver-style receive semantics over a raw Driver: a pump
// goroutine reads the device into a bounded ring and posts events onto a
// bounded queue. After an EventData of size n, a Read for n bytes is
// guaranteed not to block.
type Port struct {
	drv    Driver
	events chan Event

	mu     sync.Mutex
	ring   []byte
	rd, wr int
	count  int
	dataCh chan struct{}

	readChunk int
	done      chan struct{}
	closed    atomic.Bool
	wg        sync.WaitGroup
}

type PortOption func(*Port)

// WithRingSize overrides the receive ring capacity.
func WithRingSize(n int) PortOption {
	return func(p *Port) {
		if n > 0 {
			p.ring = make([]byte, n)
		}
	}
}

// WithEventDepth overrides the event queue depth.
func WithEventDepth(n int) PortOption {
	return func(p *Port) {
		if n > 0 {
			p.events = make(chan Event, n)
		}
	}
}

// WithReadChunk overrides the pump's per-read buffer size.
func WithReadChunk(n int) PortOption {
	return func(p *Port) {
		if n > 0 {
			p.readChunk = n
		}
	}
}

// NewPort wraps drv and starts the receive pump.
func NewPort(drv Driver, opts ...PortOption) *Port {
	p := &Port{
		drv:       drv,
		events:    make(chan Event, defaultEventDepth),
		ring:      make([]byte, defaultRingSize),
		dataCh:    make(chan struct{}, 1),
		readChunk: defaultReadChunk,
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.wg.Add(1)
	go p.pump()
	return p
}

// Events exposes the driver event queue.
func (p *Port) Events() <-chan Event { return p.events }

func (p *Port) pump() {
	defer p.wg.Done()
	buf := make([]byte, p.readChunk)
	backoff := rxBackoffMin
	for {
		select {
		case <-p.done:
			return
		default:
		}
		n, err := p.drv.Read(buf)
		if n > 0 {
			p.stash(buf[:n])
			backoff = rxBackoffMin
		}
		if err != nil {
			if p.closed.Load() {
				return
			}
			switch {
			case errors.Is(err, ErrBreak):
				p.post(Event{Kind: EventBreak})
			case errors.Is(err, ErrParityError):
				p.post(Event{Kind: EventParityError})
			case errors.Is(err, ErrFrameError):
				p.post(Event{Kind: EventFrameError})
			case errors.Is(err, ErrOverflow):
				p.post(Event{Kind: EventFIFOOverflow})
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				continue // transient, read timeout on some drivers
			default:
				metrics.IncError(metrics.ErrUARTRead)
				logging.L().Warn("uart_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
			}
		}
	}
}

// stash appends b to the ring and posts EventData, or posts EventBufferFull
// and drops b when the ring cannot absorb it. Overrun recovery is the event
// consumer's job (flush and resynchronize).
func (p *Port) stash(b []byte) {
	p.mu.Lock()
	if len(p.ring)-p.count < len(b) {
		p.mu.Unlock()
		p.post(Event{Kind: EventBufferFull})
		return
	}
	head := copy(p.ring[p.wr:], b)
	if head < len(b) {
		copy(p.ring, b[head:])
	}
	p.wr = (p.wr + len(b)) % len(p.ring)
	p.count += len(b)
	p.mu.Unlock()
	select {
	case p.dataCh <- struct{}{}:
	default:
	}
	p.post(Event{Kind: EventData, Size: len(b)})
}

func (p *Port) post(ev Event) {
	select {
	case p.events <- ev:
	default:
		metrics.IncEventQueueDrop()
		logging.L().Warn("uart_event_dropped", "kind", ev.Kind.String())
	}
}

// Read takes up to len(buf) bytes from the receive ring, waiting up to wait
// for any data to arrive. It returns 0 without error on timeout.
func (p *Port) Read(buf []byte, wait time.Duration) (int, error) {
	var timer *time.Timer
	var expired <-chan time.Time
	for {
		p.mu.Lock()
		if p.count > 0 {
			take := len(buf)
			if take > p.count {
				take = p.count
			}
			head := copy(buf[:take], p.ring[p.rd:min(p.rd+take, len(p.ring))])
			if head < take {
				copy(buf[head:take], p.ring)
			}
			p.rd = (p.rd + take) % len(p.ring)
			p.count -= take
			p.mu.Unlock()
			return take, nil
		}
		p.mu.Unlock()
		if wait <= 0 {
			return 0, nil
		}
		if timer == nil {
			timer = time.NewTimer(wait)
			defer timer.Stop()
			expired = timer.C
		}
		select {
		case <-p.dataCh:
		case <-expired:
			return 0, nil
		case <-p.done:
			return 0, ErrClosed
		}
	}
}

// Write forwards to the driver.
func (p *Port) Write(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	return p.drv.Write(b)
}

// FlushInput discards the receive ring and the device input buffer.
func (p *Port) FlushInput() error {
	p.mu.Lock()
	p.rd, p.wr, p.count = 0, 0, 0
	p.mu.Unlock()
	select {
	case <-p.dataCh:
	default:
	}
	return p.drv.ResetInput()
}

// ResetEvents discards all queued driver events.
func (p *Port) ResetEvents() {
	for {
		select {
		case <-p.events:
		default:
			return
		}
	}
}

// SetBaudRate changes the device baud rate.
func (p *Port) SetBaudRate(rate int) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.drv.SetBaudRate(rate)
}

// Buffered reports bytes currently staged in the receive ring.
func (p *Port) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Close stops the pump and closes the driver.
func (p *Port) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	close(p.done)
	err := p.drv.Close()
	p.wg.Wait()
	return err
}
