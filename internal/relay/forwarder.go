package relay

import (
	"github.com/serialbridge/go-uart-bridge/internal/metrics"
)

// OnHostReceive is the host receive notification handler: it drains pending
// host bytes and writes them straight to the target UART. No software queue
// sits on this path; the UART driver's own TX buffering absorbs bursts, and
// any shortfall is logged rather than retried.
//
// Endpoint callback registration can race with bridge startup, so an
// invocation before initialization completes is a warning no-op.
func (b *Bridge) OnHostReceive(itf int) {
	if !b.initDone.Load() {
		b.logger.Warn("host_rx_before_init", "itf", itf)
		return
	}
	n, err := b.host.Read(b.hostBuf)
	if err != nil {
		metrics.IncError(metrics.ErrHostRead)
		b.logger.Warn("host_read_error", "itf", itf, "error", err)
		return
	}
	if n == 0 {
		b.logger.Warn("host_rx_empty", "itf", itf)
		return
	}
	metrics.AddHostRx(n)
	t, err := b.uart.Write(b.hostBuf[:n])
	if err != nil {
		metrics.IncError(metrics.ErrUARTWrite)
		b.logger.Warn("uart_write_error", "error", err)
		return
	}
	metrics.AddUARTTx(t)
	if t != n {
		metrics.IncError(metrics.ErrUARTWrite)
		b.logger.Warn("uart_write_short", "want", n, "wrote", t)
	}
}
