package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/serialbridge/go-uart-bridge/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"uart_rx", snap.UARTRxBytes,
					"uart_tx", snap.UARTTxBytes,
					"host_rx", snap.HostRxBytes,
					"host_tx", snap.HostTxBytes,
					"relay_drops", snap.RelayDrops,
					"overflows", snap.Overflows,
					"line_errors", snap.LineErrors,
					"sender_retries", snap.SenderRetries,
					"buffer_used", snap.BufferUsed,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
