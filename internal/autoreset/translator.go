// Package autoreset maps host DTR/RTS control lines onto the target's BOOT
// and RESET pins, mimicking the auto-reset circuitry of common development
// boards so flashing tools can drive the target into download mode.
package autoreset

import (
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/serialbridge/go-uart-bridge/internal/gpio"
	"github.com/serialbridge/go-uart-bridge/internal/logging"
	"github.com/serialbridge/go-uart-bridge/internal/metrics"
)

// DefaultDebounce is the window within which a transient DTR=1,RTS=1 sample
// is suppressed. Flashing tools emit DTR=0,RTS=1 followed by DTR=1,RTS=0,
// but line timing makes both appear asserted in between; applying
// BOOT=1/RST=1 on that sample would abort entry into download mode.
const DefaultDebounce = 10 * time.Millisecond

// Translator converts (DTR, RTS) transitions into (BOOT, RST) levels. The
// host transport serializes line-state callbacks, so only the debounce timer
// callback runs concurrently with HandleLineState; the mutex covers that
// pair.
type Translator struct {
	boot, rst gpio.Pin
	debounce  time.Duration
	logger    *slog.Logger
	ready     atomic.Bool

	mu    sync.Mutex
	timer *time.Timer
	armed bool
}

type Option func(*Translator)

// WithDebounce overrides the debounce window.
func WithDebounce(d time.Duration) Option {
	return func(t *Translator) {
		if d > 0 {
			t.debounce = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Translator) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates a translator driving the given pins.
func New(boot, rst gpio.Pin, opts ...Option) *Translator {
	t := &Translator{
		boot:     boot,
		rst:      rst,
		debounce: DefaultDebounce,
		logger:   logging.L(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Enable arms the translator after bridge initialization. Callbacks arriving
// earlier are warning no-ops since registration can race with startup.
func (t *Translator) Enable() { t.ready.Store(true) }

// ApplyRunLevels drives both pins to the normal-run state (BOOT=1, RST=1).
// Called once at bridge startup.
func (t *Translator) ApplyRunLevels() error {
	if err := t.boot.Set(true); err != nil {
		return err
	}
	return t.rst.Set(true)
}

// HandleLineState processes one host line-state notification. Any pending
// debounce timer is cancelled first (at most one is ever outstanding); the
// DTR=1,RTS=1 combination re-arms it instead of acting immediately, so the
// run-mode levels are applied only if the state is sustained beyond the
// debounce window.
func (t *Translator) HandleLineState(itf int, dtr, rts bool) {
	if !t.ready.Load() {
		t.logger.Warn("line_state_before_init", "itf", itf, "dtr", dtr, "rts", rts)
		return
	}
	metrics.IncLineState()

	t.mu.Lock()
	t.cancelLocked()
	if dtr && rts {
		t.armed = true
		t.timer = time.AfterFunc(t.debounce, t.debounceFired)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	boot, rst := true, true
	switch {
	case !dtr && rts:
		rst = false
	case dtr && !rts:
		boot = false
	}
	t.logger.Info("line_state", "dtr", dtr, "rts", rts, "boot", boot, "rst", rst)
	t.apply(boot, rst)
}

// cancelLocked stops any pending timer. Stopping an already-fired or absent
// timer is a no-op; the armed flag keeps a late callback from applying a
// superseded state.
func (t *Translator) cancelLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.armed = false
}

func (t *Translator) debounceFired() {
	t.mu.Lock()
	if !t.armed {
		t.mu.Unlock()
		return
	}
	t.armed = false
	t.timer = nil
	t.mu.Unlock()
	metrics.IncDebounceApply()
	t.logger.Info("line_state_settled", "boot", true, "rst", true)
	t.apply(true, true)
}

func (t *Translator) apply(boot, rst bool) {
	if err := t.boot.Set(boot); err != nil {
		metrics.IncError(metrics.ErrGPIO)
		t.logger.Warn("gpio_boot_error", "error", err)
	}
	if err := t.rst.Set(rst); err != nil {
		metrics.IncError(metrics.ErrGPIO)
		t.logger.Warn("gpio_rst_error", "error", err)
	}
}
