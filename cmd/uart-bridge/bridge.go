package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/serialbridge/go-uart-bridge/internal/autoreset"
	"github.com/serialbridge/go-uart-bridge/internal/gpio"
	"github.com/serialbridge/go-uart-bridge/internal/host"
	"github.com/serialbridge/go-uart-bridge/internal/relay"
	"github.com/serialbridge/go-uart-bridge/internal/uart"
)

// Hooks for tests (overridden in unit tests).
var (
	openUARTDriver = func(driver, dev string, baud int, readTO time.Duration) (uart.Driver, error) {
		switch driver {
		case "tarm":
			return uart.OpenTarm(dev, baud, readTO)
		default:
			return uart.Open(dev, baud, readTO)
		}
	}
	openHostEndpoint = func(path string, cb host.Callbacks, writeBuf int) (host.Endpoint, error) {
		return host.OpenTTY(path, cb, host.WithWriteCapacity(writeBuf))
	}
	openPin = gpio.Open
)

// initBridge opens the target UART, the BOOT/RST pins and the host endpoint,
// wires them into a relay bridge and starts the relay loops. Failures here
// are fatal to startup; the caller aborts.
func initBridge(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup) (*relay.Bridge, func(), error) {
	drv, err := openUARTDriver(cfg.uartDriver, cfg.uartDev, cfg.baud, cfg.uartReadTO)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open uart: %w", err)
	}
	port := uart.NewPort(drv)
	l.Info("uart_open", "device", cfg.uartDev, "driver", cfg.uartDriver, "baud", cfg.baud)

	bootPin, err := openPin(cfg.bootPin)
	if err != nil {
		_ = port.Close()
		return nil, func() {}, fmt.Errorf("open boot pin: %w", err)
	}
	rstPin, err := openPin(cfg.rstPin)
	if err != nil {
		_ = port.Close()
		return nil, func() {}, fmt.Errorf("open rst pin: %w", err)
	}
	tr := autoreset.New(bootPin, rstPin,
		autoreset.WithDebounce(cfg.debounce),
		autoreset.WithLogger(l))
	// Normal run mode until the host starts toggling lines.
	if err := tr.ApplyRunLevels(); err != nil {
		_ = port.Close()
		return nil, func() {}, fmt.Errorf("drive run levels: %w", err)
	}
	l.Info("gpio_ready", "boot", cfg.bootPin, "rst", cfg.rstPin)

	b := relay.New(port,
		relay.WithBufferSize(cfg.relayBuffer),
		relay.WithHostChunk(cfg.hostChunk),
		relay.WithPushTimeout(cfg.pushTimeout),
		relay.WithPopWait(cfg.popWait),
		relay.WithLogger(l))

	ep, err := openHostEndpoint(cfg.hostDev, host.Callbacks{
		OnReceive:   b.OnHostReceive,
		OnLineState: tr.HandleLineState,
	}, cfg.hostWriteBuf)
	if err != nil {
		_ = port.Close()
		return nil, func() {}, fmt.Errorf("open host endpoint: %w", err)
	}
	l.Info("host_open", "device", cfg.hostDev)

	b.BindHost(ep)
	if err := b.Start(ctx, wg); err != nil {
		_ = ep.Close()
		_ = port.Close()
		return nil, func() {}, fmt.Errorf("start relay: %w", err)
	}
	tr.Enable()

	cleanup := func() {
		_ = ep.Close()
		_ = port.Close()
	}
	return b, cleanup, nil
}
