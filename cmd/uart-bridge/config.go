package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	uartDev         string
	uartDriver      string
	baud            int
	uartReadTO      time.Duration
	hostDev         string
	hostWriteBuf    int
	hostChunk       int
	relayBuffer     int
	pushTimeout     time.Duration
	popWait         time.Duration
	bootPin         string
	rstPin          string
	debounce        time.Duration
	logFormat       string
	logLevel        string
	httpAddr        string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	uartDev := flag.String("uart", "/dev/ttyS1", "Target UART device path")
	uartDriver := flag.String("uart-driver", "bugst", "UART driver: bugst|tarm")
	baud := flag.Int("baud", 115200, "Target UART baud rate")
	uartReadTO := flag.Duration("uart-read-timeout", 50*time.Millisecond, "UART read timeout")
	hostDev := flag.String("host", "/dev/ttyGS0", "Host-facing endpoint device path (CDC gadget port or pty)")
	hostWriteBuf := flag.Int("host-write-buffer", 4096, "Modeled host endpoint TX buffer (bytes)")
	hostChunk := flag.Int("host-chunk", 64, "Per-iteration host write chunk (bytes)")
	relayBuffer := flag.Int("relay-buffer", 2048, "UART→host relay buffer capacity (bytes)")
	pushTimeout := flag.Duration("push-timeout", 10*time.Millisecond, "Relay buffer push timeout before dropping")
	popWait := flag.Duration("pop-wait", 100*time.Millisecond, "Sender wait for relay buffer data")
	bootPin := flag.String("boot-pin", "GPIO23", "BOOT-select output pin name")
	rstPin := flag.String("rst-pin", "GPIO24", "Target RESET output pin name")
	debounce := flag.Duration("debounce", 10*time.Millisecond, "DTR/RTS run-mode debounce window")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	httpAddr := flag.String("http-addr", "", "Metrics/control HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement of the HTTP endpoint")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default uart-bridge-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.uartDev = *uartDev
	cfg.uartDriver = *uartDriver
	cfg.baud = *baud
	cfg.uartReadTO = *uartReadTO
	cfg.hostDev = *hostDev
	cfg.hostWriteBuf = *hostWriteBuf
	cfg.hostChunk = *hostChunk
	cfg.relayBuffer = *relayBuffer
	cfg.pushTimeout = *pushTimeout
	cfg.popWait = *popWait
	cfg.bootPin = *bootPin
	cfg.rstPin = *rstPin
	cfg.debounce = *debounce
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.httpAddr = *httpAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices, only checks values and ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.uartDriver {
	case "bugst", "tarm":
	default:
		return fmt.Errorf("invalid uart-driver: %s", c.uartDriver)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.uartReadTO <= 0 {
		return fmt.Errorf("uart-read-timeout must be > 0")
	}
	if c.hostWriteBuf <= 0 {
		return fmt.Errorf("host-write-buffer must be > 0 (got %d)", c.hostWriteBuf)
	}
	if c.hostChunk <= 0 {
		return fmt.Errorf("host-chunk must be > 0 (got %d)", c.hostChunk)
	}
	if c.relayBuffer < c.hostChunk {
		return fmt.Errorf("relay-buffer must be >= host-chunk (got %d < %d)", c.relayBuffer, c.hostChunk)
	}
	if c.pushTimeout <= 0 {
		return fmt.Errorf("push-timeout must be > 0")
	}
	if c.popWait <= 0 {
		return fmt.Errorf("pop-wait must be > 0")
	}
	if c.bootPin == "" || c.rstPin == "" {
		return errors.New("boot-pin and rst-pin must be set")
	}
	if c.debounce <= 0 {
		return fmt.Errorf("debounce must be > 0")
	}
	return nil
}

// applyEnvOverrides maps UART_BRIDGE_* environment variables to config fields
// unless a corresponding flag was explicitly set. Boolean & numeric parsing is
// lax: empty values ignored. Duration accepts Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	str := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}
	num := func(flagName, env string, dst *int) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	dur := func(flagName, env string, dst *time.Duration) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				*dst = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}

	str("uart", "UART_BRIDGE_UART", &c.uartDev)
	str("uart-driver", "UART_BRIDGE_UART_DRIVER", &c.uartDriver)
	num("baud", "UART_BRIDGE_BAUD", &c.baud)
	dur("uart-read-timeout", "UART_BRIDGE_UART_READ_TIMEOUT", &c.uartReadTO)
	str("host", "UART_BRIDGE_HOST", &c.hostDev)
	num("host-write-buffer", "UART_BRIDGE_HOST_WRITE_BUFFER", &c.hostWriteBuf)
	num("host-chunk", "UART_BRIDGE_HOST_CHUNK", &c.hostChunk)
	num("relay-buffer", "UART_BRIDGE_RELAY_BUFFER", &c.relayBuffer)
	dur("push-timeout", "UART_BRIDGE_PUSH_TIMEOUT", &c.pushTimeout)
	dur("pop-wait", "UART_BRIDGE_POP_WAIT", &c.popWait)
	str("boot-pin", "UART_BRIDGE_BOOT_PIN", &c.bootPin)
	str("rst-pin", "UART_BRIDGE_RST_PIN", &c.rstPin)
	dur("debounce", "UART_BRIDGE_DEBOUNCE", &c.debounce)
	str("log-format", "UART_BRIDGE_LOG_FORMAT", &c.logFormat)
	str("log-level", "UART_BRIDGE_LOG_LEVEL", &c.logLevel)
	if _, ok := set["http-addr"]; !ok {
		if v, ok := get("UART_BRIDGE_HTTP"); ok {
			c.httpAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("UART_BRIDGE_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid UART_BRIDGE_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("UART_BRIDGE_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	str("mdns-name", "UART_BRIDGE_MDNS_NAME", &c.mdnsName)
	return firstErr
}
