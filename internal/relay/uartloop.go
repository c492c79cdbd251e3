package relay

import (
	"context"

	"github.com/serialbridge/go-uart-bridge/internal/metrics"
	"github.com/serialbridge/go-uart-bridge/internal/uart"
)

// runUARTEvents consumes UART driver events and feeds received bytes into
// the relay buffer.
func (b *Bridge) runUARTEvents(ctx context.Context) {
	defer b.logger.Info("uart_rx_end")
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.uart.Events():
			b.handleUARTEvent(ev)
		}
	}
}

func (b *Bridge) handleUARTEvent(ev uart.Event) {
	switch ev.Kind {
	case uart.EventData:
		if !b.readEnabled.Load() {
			return
		}
		want := ev.Size
		if want > len(b.scratch) {
			want = len(b.scratch)
		}
		// The event guarantees availability, so this read does not block in
		// practice; the wait only covers a race with a concurrent flush.
		n, err := b.uart.Read(b.scratch[:want], b.readWait)
		if err != nil {
			metrics.IncError(metrics.ErrUARTRead)
			b.logger.Warn("uart_read_error", "error", err)
			return
		}
		if n == 0 {
			return
		}
		metrics.AddUARTRx(n)
		if err := b.buf.Push(b.scratch[:n], b.pushTimeout); err != nil {
			// Drop and yield so the sender can drain. Not a retry: stalling
			// here would overflow the UART event queue.
			metrics.AddRelayDrop(n)
			metrics.IncError(metrics.ErrRelayPush)
			b.logger.Warn("relay_push_timeout",
				"dropped", n,
				"free", b.buf.Free(),
				"capacity", b.buf.Cap())
			sleepFn(b.drainYield)
		}
		metrics.SetBufferUsed(b.buf.Len())
	case uart.EventFIFOOverflow, uart.EventBufferFull:
		// Hardware overflow cannot be undone: drop and resynchronize. Stale
		// queued events refer to flushed data, so discard them too.
		metrics.IncOverflow()
		b.logger.Warn("uart_overflow", "kind", ev.Kind.String())
		if err := b.uart.FlushInput(); err != nil {
			b.logger.Warn("uart_flush_error", "error", err)
		}
		b.uart.ResetEvents()
	case uart.EventBreak:
		metrics.IncLineError(metrics.LineBreak)
		b.logger.Warn("uart_rx_break")
	case uart.EventParityError:
		metrics.IncLineError(metrics.LineParity)
		b.logger.Warn("uart_parity_error")
	case uart.EventFrameError:
		metrics.IncLineError(metrics.LineFrame)
		b.logger.Warn("uart_frame_error")
	default:
		b.logger.Warn("uart_event_unknown", "code", ev.Code)
	}
}
