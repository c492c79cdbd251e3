package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/serialbridge/go-uart-bridge/internal/logging"
	"github.com/serialbridge/go-uart-bridge/internal/metrics"
	"github.com/serialbridge/go-uart-bridge/internal/uart"
)

// sleepFn allows tests to intercept retry and yield sleeps.
var sleepFn = time.Sleep

// UARTPort is the target-side port surface consumed by the relay.
type UARTPort interface {
	Events() <-chan uart.Event
	Read(buf []byte, wait time.Duration) (int, error)
	Write(p []byte) (int, error)
	FlushInput() error
	ResetEvents()
	SetBaudRate(rate int) error
}

var _ UARTPort = (*uart.Port)(nil)

// HostEndpoint is the host-side transport surface consumed by the relay.
type HostEndpoint interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	WriteAvailable() int
	Flush() error
}

const (
	// DefaultBufferSize matches the expected burst size of the target UART
	// (a small multiple of its hardware FIFO).
	DefaultBufferSize = 2048

	defaultHostChunk    = 64
	defaultHostReadSize = 512
	defaultPushTimeout  = 10 * time.Millisecond
	defaultPopWait      = 100 * time.Millisecond
	defaultDrainYield   = 10 * time.Millisecond
	defaultReadWait     = 10 * time.Millisecond
	defaultRetryBudget  = 10
	defaultRetryDelay   = 100 * time.Microsecond
)

// Bridge owns the relay data plane: the UART event loop, the sender loop and
// the host receive forwarder, sharing one relay buffer and the process-wide
// read-enable flag. Construct once at startup; the loops run for the process
// lifetime.
type Bridge struct {
	uart UARTPort
	host HostEndpoint
	buf  *Buffer

	readEnabled atomic.Bool
	initDone    atomic.Bool

	hostChunk    int
	hostReadSize int
	pushTimeout  time.Duration
	popWait      time.Duration
	drainYield   time.Duration
	readWait     time.Duration
	retryBudget  int
	retryDelay   time.Duration

	scratch []byte // UART event loop only
	hostBuf []byte // forwarder only; host callbacks are serialized

	logger *slog.Logger
}

type Option func(*Bridge)

func WithBufferSize(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.buf = NewBuffer(n)
		}
	}
}

func WithHostChunk(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.hostChunk = n
		}
	}
}

func WithHostReadSize(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.hostReadSize = n
		}
	}
}

func WithPushTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.pushTimeout = d
		}
	}
}

func WithPopWait(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.popWait = d
		}
	}
}

func WithRetryBudget(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.retryBudget = n
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.retryDelay = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates a bridge around the target UART port. The host endpoint is
// attached separately with BindHost because endpoint construction usually
// needs the bridge's receive callback.
func New(up UARTPort, opts ...Option) *Bridge {
	b := &Bridge{
		uart:         up,
		hostChunk:    defaultHostChunk,
		hostReadSize: defaultHostReadSize,
		pushTimeout:  defaultPushTimeout,
		popWait:      defaultPopWait,
		drainYield:   defaultDrainYield,
		readWait:     defaultReadWait,
		retryBudget:  defaultRetryBudget,
		retryDelay:   defaultRetryDelay,
		logger:       logging.L(),
	}
	for _, o := range opts {
		o(b)
	}
	if b.buf == nil {
		b.buf = NewBuffer(DefaultBufferSize)
	}
	b.scratch = make([]byte, b.buf.Cap())
	b.hostBuf = make([]byte, b.hostReadSize)
	return b
}

// BindHost attaches the host endpoint. Must be called before Start.
func (b *Bridge) BindHost(h HostEndpoint) { b.host = h }

// Start launches the relay loops, marks initialization complete and enables
// UART forwarding. The loops run until ctx is cancelled at process shutdown;
// they are not individually stoppable.
func (b *Bridge) Start(ctx context.Context, wg *sync.WaitGroup) error {
	if b.host == nil {
		return errors.New("relay: host endpoint not bound")
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.runUARTEvents(ctx)
	}()
	go func() {
		defer wg.Done()
		b.runSender(ctx)
	}()
	b.initDone.Store(true)
	b.EnableRead(true)
	return nil
}

// Ready reports whether initialization has completed.
func (b *Bridge) Ready() bool { return b.initDone.Load() }

// EnableRead toggles forwarding of UART receive events into the relay
// buffer. Already-buffered bytes are unaffected. The flag is read by the
// relay loop without further synchronization; a toggle need not be
// instantaneously visible there.
func (b *Bridge) EnableRead(v bool) {
	b.readEnabled.Store(v)
	metrics.SetReadEnabled(v)
	b.logger.Info("read_enable", "enabled", v)
}

// ReadEnabled reports the current read-enable flag.
func (b *Bridge) ReadEnabled() bool { return b.readEnabled.Load() }

// SetBaudRate forwards a baud-rate change to the target UART.
func (b *Bridge) SetBaudRate(rate int) error {
	if rate <= 0 {
		return fmt.Errorf("relay: invalid baud rate %d", rate)
	}
	if err := b.uart.SetBaudRate(rate); err != nil {
		metrics.IncError(metrics.ErrBaudChange)
		return fmt.Errorf("relay: set baud rate: %w", err)
	}
	b.logger.Info("baud_rate", "rate", rate)
	return nil
}

// BufferLen reports bytes currently queued UART→host.
func (b *Bridge) BufferLen() int { return b.buf.Len() }
