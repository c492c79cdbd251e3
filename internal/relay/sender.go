package relay

import (
	"context"

	"github.com/serialbridge/go-uart-bridge/internal/metrics"
)

// runSender drains the relay buffer in host-transport-sized chunks and
// writes them to the host endpoint.
func (b *Bridge) runSender(ctx context.Context) {
	defer b.logger.Info("sender_end")
	for ctx.Err() == nil {
		chunk := b.buf.PopUpTo(b.hostChunk, b.popWait)
		if chunk == nil {
			continue
		}
		metrics.SetBufferUsed(b.buf.Len())
		b.sendChunk(ctx, chunk)
	}
}

// sendChunk writes chunk to the host endpoint, tolerating a host consumer
// that is temporarily not draining (e.g. no terminal attached): when write
// capacity is short it flushes and retries up to the attempt budget, then
// writes anyway accepting partial progress. Every wait is bounded, so a
// stalled host can slow the relay but never wedge it.
func (b *Bridge) sendChunk(ctx context.Context, chunk []byte) {
	tries := 0
	for len(chunk) > 0 && ctx.Err() == nil {
		if b.host.WriteAvailable() < len(chunk) && tries < b.retryBudget {
			tries++
			metrics.IncSenderRetry()
			if err := b.host.Flush(); err != nil {
				metrics.IncError(metrics.ErrHostFlush)
			}
			sleepFn(b.retryDelay)
			continue
		}
		n, err := b.host.Write(chunk)
		if err != nil {
			metrics.IncError(metrics.ErrHostWrite)
			b.logger.Warn("host_write_error", "error", err, "unsent", len(chunk))
			return
		}
		metrics.AddHostTx(n)
		chunk = chunk[n:]
		tries = 0
	}
	if err := b.host.Flush(); err != nil {
		metrics.IncError(metrics.ErrHostFlush)
	}
}
