package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/serialbridge/go-uart-bridge/internal/logging"
)

// Prometheus counters
var (
	UARTRxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uart_rx_bytes_total",
		Help: "Total bytes read from the target UART.",
	})
	UARTTxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uart_tx_bytes_total",
		Help: "Total bytes written to the target UART.",
	})
	HostRxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "host_rx_bytes_total",
		Help: "Total bytes read from the host endpoint.",
	})
	HostTxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "host_tx_bytes_total",
		Help: "Total bytes written to the host endpoint.",
	})
	RelayDroppedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_dropped_bytes_total",
		Help: "Total bytes dropped on relay buffer push timeout.",
	})
	UARTOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uart_overflows_total",
		Help: "Total UART FIFO / driver buffer overflow events.",
	})
	UARTLineErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uart_line_errors_total",
		Help: "UART line condition events by kind (break, parity, frame).",
	}, []string{"kind"})
	SenderRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sender_retries_total",
		Help: "Total host write retries due to insufficient write capacity.",
	})
	LineStateChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "line_state_changes_total",
		Help: "Total DTR/RTS line-state notifications handled.",
	})
	DebounceApplies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "debounce_applies_total",
		Help: "Total deferred BOOT=1/RST=1 applications from the debounce timer.",
	})
	EventQueueDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uart_event_queue_drops_total",
		Help: "Total UART driver events dropped because the event queue was full.",
	})
	RelayBufferUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_buffer_used_bytes",
		Help: "Bytes currently queued in the relay buffer.",
	})
	ReadEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_read_enabled",
		Help: "Whether UART receive forwarding is enabled (1) or not (0).",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrUARTRead   = "uart_read"
	ErrUARTWrite  = "uart_write"
	ErrHostRead   = "host_read"
	ErrHostWrite  = "host_write"
	ErrHostFlush  = "host_flush"
	ErrRelayPush  = "relay_push"
	ErrGPIO       = "gpio"
	ErrBaudChange = "baud_change"
)

// Line error label constants
const (
	LineBreak  = "break"
	LineParity = "parity"
	LineFrame  = "frame"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
// A non-nil control handler is mounted at /control/ so external glue (e.g. a
// flashing front-end) can toggle read forwarding or change the baud rate.
func StartHTTP(addr string, control http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	if control != nil {
		mux.Handle("/control/", control)
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("http_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localUARTRx      uint64
	localUARTTx      uint64
	localHostRx      uint64
	localHostTx      uint64
	localRelayDrop   uint64
	localOverflows   uint64
	localLineErrors  uint64
	localRetries     uint64
	localLineStates  uint64
	localDebounce    uint64
	localEventDrops  uint64
	localErrors      uint64
	localBufferUsed  uint64
	localReadEnabled uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	UARTRxBytes   uint64
	UARTTxBytes   uint64
	HostRxBytes   uint64
	HostTxBytes   uint64
	RelayDrops    uint64
	Overflows     uint64
	LineErrors    uint64
	SenderRetries uint64
	LineStates    uint64
	Debounce      uint64
	EventDrops    uint64
	Errors        uint64 // sum across error labels
	BufferUsed    uint64
	ReadEnabled   bool
}

func Snap() Snapshot {
	return Snapshot{
		UARTRxBytes:   atomic.LoadUint64(&localUARTRx),
		UARTTxBytes:   atomic.LoadUint64(&localUARTTx),
		HostRxBytes:   atomic.LoadUint64(&localHostRx),
		HostTxBytes:   atomic.LoadUint64(&localHostTx),
		RelayDrops:    atomic.LoadUint64(&localRelayDrop),
		Overflows:     atomic.LoadUint64(&localOverflows),
		LineErrors:    atomic.LoadUint64(&localLineErrors),
		SenderRetries: atomic.LoadUint64(&localRetries),
		LineStates:    atomic.LoadUint64(&localLineStates),
		Debounce:      atomic.LoadUint64(&localDebounce),
		EventDrops:    atomic.LoadUint64(&localEventDrops),
		Errors:        atomic.LoadUint64(&localErrors),
		BufferUsed:    atomic.LoadUint64(&localBufferUsed),
		ReadEnabled:   atomic.LoadUint64(&localReadEnabled) == 1,
	}
}

// Wrapper helpers to keep call sites simple.
func AddUARTRx(n int) {
	UARTRxBytes.Add(float64(n))
	atomic.AddUint64(&localUARTRx, uint64(n))
}

func AddUARTTx(n int) {
	UARTTxBytes.Add(float64(n))
	atomic.AddUint64(&localUARTTx, uint64(n))
}

func AddHostRx(n int) {
	HostRxBytes.Add(float64(n))
	atomic.AddUint64(&localHostRx, uint64(n))
}

func AddHostTx(n int) {
	HostTxBytes.Add(float64(n))
	atomic.AddUint64(&localHostTx, uint64(n))
}

func AddRelayDrop(n int) {
	RelayDroppedBytes.Add(float64(n))
	atomic.AddUint64(&localRelayDrop, uint64(n))
}

func IncOverflow() {
	UARTOverflows.Inc()
	atomic.AddUint64(&localOverflows, 1)
}

func IncLineError(kind string) {
	UARTLineErrors.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localLineErrors, 1)
}

func IncSenderRetry() {
	SenderRetries.Inc()
	atomic.AddUint64(&localRetries, 1)
}

func IncLineState() {
	LineStateChanges.Inc()
	atomic.AddUint64(&localLineStates, 1)
}

func IncDebounceApply() {
	DebounceApplies.Inc()
	atomic.AddUint64(&localDebounce, 1)
}

func IncEventQueueDrop() {
	EventQueueDrops.Inc()
	atomic.AddUint64(&localEventDrops, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// SetBufferUsed records the relay buffer fill level.
func SetBufferUsed(n int) {
	RelayBufferUsed.Set(float64(n))
	atomic.StoreUint64(&localBufferUsed, uint64(n))
}

// SetReadEnabled mirrors the read-enable flag into the gauge.
func SetReadEnabled(v bool) {
	f := 0.0
	u := uint64(0)
	if v {
		f, u = 1.0, 1
	}
	ReadEnabled.Set(f)
	atomic.StoreUint64(&localReadEnabled, u)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrUARTRead, ErrUARTWrite, ErrHostRead, ErrHostWrite,
		ErrHostFlush, ErrRelayPush, ErrGPIO, ErrBaudChange,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
