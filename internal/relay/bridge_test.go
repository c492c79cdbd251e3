package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/serialbridge/go-uart-bridge/internal/uart"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeUART scripts the target side of the bridge: bytes fed with feed become
// readable and raise data events, writes are recorded.
type fakeUART struct {
	events chan uart.Event

	mu         sync.Mutex
	rx         []byte
	written    []byte
	writeLimit int
	writeErr   error
	flushes    int
	resets     int
	baud       int
}

func newFakeUART() *fakeUART {
	return &fakeUART{events: make(chan uart.Event, 20)}
}

func (f *fakeUART) Events() <-chan uart.Event { return f.events }

func (f *fakeUART) Read(buf []byte, wait time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := copy(buf, f.rx)
	f.rx = f.rx[n:]
	return n, nil
}

func (f *fakeUART) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	n := len(p)
	if f.writeLimit > 0 && n > f.writeLimit {
		n = f.writeLimit
	}
	f.written = append(f.written, p[:n]...)
	return n, nil
}

func (f *fakeUART) FlushInput() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rx = nil
	f.flushes++
	return nil
}

func (f *fakeUART) ResetEvents() {
	for {
		select {
		case <-f.events:
		default:
			f.mu.Lock()
			f.resets++
			f.mu.Unlock()
			return
		}
	}
}

func (f *fakeUART) SetBaudRate(rate int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.baud = rate
	return nil
}

func (f *fakeUART) feed(p []byte) {
	f.mu.Lock()
	f.rx = append(f.rx, p...)
	f.mu.Unlock()
	f.events <- uart.Event{Kind: uart.EventData, Size: len(p)}
}

func (f *fakeUART) writtenBytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.written...)
}

func (f *fakeUART) counters() (flushes, resets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes, f.resets
}

// fakeHost models a CDC-style host endpoint with a bounded TX window that is
// refilled by Flush, as if the host consumed the data then.
type fakeHost struct {
	mu       sync.Mutex
	received []byte
	pending  []byte
	window   int
	avail    int
	flushes  int
	readErr  error
}

func newFakeHost(window int) *fakeHost {
	return &fakeHost{window: window, avail: window}
}

func (f *fakeHost) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *fakeHost) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(p)
	if n > f.avail {
		n = f.avail
	}
	f.received = append(f.received, p[:n]...)
	f.avail -= n
	return n, nil
}

func (f *fakeHost) WriteAvailable() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.avail
}

func (f *fakeHost) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.avail = f.window
	f.flushes++
	return nil
}

func (f *fakeHost) receivedBytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.received...)
}

func startBridge(t *testing.T, fu *fakeUART, fh *fakeHost, opts ...Option) (*Bridge, context.CancelFunc) {
	t.Helper()
	opts = append(opts, WithLogger(testLogger()))
	b := New(fu, opts...)
	b.BindHost(fh)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	if err := b.Start(ctx, &wg); err != nil {
		cancel()
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return b, cancel
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func TestBridgeRelaysBurstInOrder(t *testing.T) {
	fu := newFakeUART()
	fh := newFakeHost(64)
	startBridge(t, fu, fh)

	var src []byte
	for i := 0; i < 1500; i++ {
		src = append(src, byte(i))
	}
	for off := 0; off < len(src); off += 100 {
		end := off + 100
		if end > len(src) {
			end = len(src)
		}
		fu.feed(src[off:end])
	}

	if !waitFor(t, 5*time.Second, func() bool { return len(fh.receivedBytes()) == len(src) }) {
		t.Fatalf("host received %d of %d bytes", len(fh.receivedBytes()), len(src))
	}
	if got := fh.receivedBytes(); !bytes.Equal(got, src) {
		t.Fatalf("relayed bytes out of order or corrupted")
	}
}

func TestBridgeStalledHostStaysLive(t *testing.T) {
	fu := newFakeUART()
	fh := newFakeHost(0) // host never accepts data
	_, cancel := startBridge(t, fu, fh, WithRetryDelay(100*time.Microsecond))

	fu.feed([]byte("stuck"))
	time.Sleep(50 * time.Millisecond)

	// The sender must be cancellable mid-chunk; Cleanup's wg.Wait would hang
	// otherwise, so cancel here and let Cleanup verify shutdown.
	cancel()
	if got := fh.receivedBytes(); len(got) != 0 {
		t.Fatalf("expected no delivery to stalled host, got %q", got)
	}
}

func TestBridgeOverflowRecovery(t *testing.T) {
	fu := newFakeUART()
	fh := newFakeHost(64)
	startBridge(t, fu, fh)

	fu.events <- uart.Event{Kind: uart.EventFIFOOverflow}
	if !waitFor(t, time.Second, func() bool { fl, rs := fu.counters(); return fl == 1 && rs == 1 }) {
		fl, rs := fu.counters()
		t.Fatalf("expected flush+reset after overflow, got flushes=%d resets=%d", fl, rs)
	}

	fu.feed([]byte("after"))
	if !waitFor(t, time.Second, func() bool { return bytes.Equal(fh.receivedBytes(), []byte("after")) }) {
		t.Fatalf("relay did not resume after overflow, got %q", fh.receivedBytes())
	}
}

func TestBridgeReadEnableGate(t *testing.T) {
	fu := newFakeUART()
	fh := newFakeHost(64)
	b, _ := startBridge(t, fu, fh)

	b.EnableRead(false)
	if b.ReadEnabled() {
		t.Fatal("flag should be off")
	}
	fu.feed([]byte("dropped"))
	time.Sleep(50 * time.Millisecond)
	if got := fh.receivedBytes(); len(got) != 0 {
		t.Fatalf("data event forwarded while reads disabled: %q", got)
	}

	// Discard the stale pending bytes, then verify forwarding resumes.
	fu.events <- uart.Event{Kind: uart.EventBufferFull}
	waitFor(t, time.Second, func() bool { fl, rs := fu.counters(); return fl == 1 && rs == 1 })
	b.EnableRead(true)
	fu.feed([]byte("kept"))
	if !waitFor(t, time.Second, func() bool { return bytes.Equal(fh.receivedBytes(), []byte("kept")) }) {
		t.Fatalf("relay did not resume after re-enable, got %q", fh.receivedBytes())
	}
}

func TestBridgeBufferedBytesSurviveDisable(t *testing.T) {
	fu := newFakeUART()
	b := New(fu, WithLogger(testLogger()))

	b.readEnabled.Store(true)
	fu.mu.Lock()
	fu.rx = []byte("queued")
	fu.mu.Unlock()
	b.handleUARTEvent(uart.Event{Kind: uart.EventData, Size: 6})

	b.readEnabled.Store(false)
	fu.mu.Lock()
	fu.rx = []byte("skip")
	fu.mu.Unlock()
	b.handleUARTEvent(uart.Event{Kind: uart.EventData, Size: 4})

	// Disabling reads gates new events only; what was already relayed into
	// the buffer stays deliverable.
	if got := b.buf.PopUpTo(64, 0); !bytes.Equal(got, []byte("queued")) {
		t.Fatalf("expected queued bytes to survive the toggle, got %q", got)
	}
}

func TestHandleUARTEventPushTimeoutDrops(t *testing.T) {
	fu := newFakeUART()
	b := New(fu,
		WithBufferSize(8),
		WithPushTimeout(time.Millisecond),
		WithLogger(testLogger()))

	var slept []time.Duration
	old := sleepFn
	sleepFn = func(d time.Duration) { slept = append(slept, d) }
	defer func() { sleepFn = old }()

	fu.mu.Lock()
	fu.rx = []byte("12345678")
	fu.mu.Unlock()
	b.readEnabled.Store(true)
	b.handleUARTEvent(uart.Event{Kind: uart.EventData, Size: 8})
	if b.BufferLen() != 8 {
		t.Fatalf("expected full buffer, got %d", b.BufferLen())
	}

	fu.mu.Lock()
	fu.rx = []byte("abc")
	fu.mu.Unlock()
	b.handleUARTEvent(uart.Event{Kind: uart.EventData, Size: 3})
	if b.BufferLen() != 8 {
		t.Fatalf("overflowing push must drop, buffer len %d", b.BufferLen())
	}
	if len(slept) != 1 || slept[0] != b.drainYield {
		t.Fatalf("expected one drain yield sleep, got %v", slept)
	}
}

func TestOnHostReceiveForwardsToUART(t *testing.T) {
	fu := newFakeUART()
	fh := newFakeHost(64)
	b, _ := startBridge(t, fu, fh)

	fh.mu.Lock()
	fh.pending = []byte("host->target")
	fh.mu.Unlock()
	b.OnHostReceive(0)
	if got := fu.writtenBytes(); !bytes.Equal(got, []byte("host->target")) {
		t.Fatalf("expected immediate forward, got %q", got)
	}
}

func TestOnHostReceiveBeforeInit(t *testing.T) {
	fu := newFakeUART()
	fh := newFakeHost(64)
	b := New(fu, WithLogger(testLogger()))
	b.BindHost(fh)

	fh.mu.Lock()
	fh.pending = []byte("early")
	fh.mu.Unlock()
	b.OnHostReceive(0)

	if got := fu.writtenBytes(); len(got) != 0 {
		t.Fatalf("pre-init receive must be a no-op, wrote %q", got)
	}
	fh.mu.Lock()
	left := len(fh.pending)
	fh.mu.Unlock()
	if left != len("early") {
		t.Fatalf("pre-init receive must not drain the endpoint, %d left", left)
	}
}

func TestOnHostReceiveShortUARTWrite(t *testing.T) {
	fu := newFakeUART()
	fu.writeLimit = 3
	fh := newFakeHost(64)
	b, _ := startBridge(t, fu, fh)

	fh.mu.Lock()
	fh.pending = []byte("12345")
	fh.mu.Unlock()
	b.OnHostReceive(0)
	if got := fu.writtenBytes(); !bytes.Equal(got, []byte("123")) {
		t.Fatalf("expected shortfall to keep partial write, got %q", got)
	}
}

func TestOnHostReceiveReadError(t *testing.T) {
	fu := newFakeUART()
	fh := newFakeHost(64)
	fh.readErr = errors.New("gone")
	b, _ := startBridge(t, fu, fh)

	b.OnHostReceive(0)
	if got := fu.writtenBytes(); len(got) != 0 {
		t.Fatalf("read error must not reach the UART, wrote %q", got)
	}
}

func TestBridgeSetBaudRate(t *testing.T) {
	fu := newFakeUART()
	b := New(fu, WithLogger(testLogger()))
	if err := b.SetBaudRate(921600); err != nil {
		t.Fatalf("set baud: %v", err)
	}
	fu.mu.Lock()
	got := fu.baud
	fu.mu.Unlock()
	if got != 921600 {
		t.Fatalf("baud not forwarded, got %d", got)
	}
	if err := b.SetBaudRate(0); err == nil {
		t.Fatal("expected error for zero baud rate")
	}
}

func TestBridgeStartRequiresHost(t *testing.T) {
	b := New(newFakeUART(), WithLogger(testLogger()))
	var wg sync.WaitGroup
	if err := b.Start(context.Background(), &wg); err == nil {
		t.Fatal("expected error when host endpoint is not bound")
	}
}
