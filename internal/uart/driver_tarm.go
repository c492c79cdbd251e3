package uart

import (
	"fmt"
	"sync"
	"time"

	tarm "github.com/tarm/serial"
)

// tarmDriver is a compat device backed by tarm/serial for platforms where the
// default driver misbehaves. tarm cannot change the baud rate of an open port
// or flush the input buffer, so SetBaudRate reopens the device and ResetInput
// drains it with bounded reads.
type tarmDriver struct {
	mu   sync.RWMutex
	cfg  tarm.Config
	port *tarm.Port
}

// resetInputDrainRounds bounds ResetInput; each round waits at most the
// configured read timeout.
const resetInputDrainRounds = 8

// OpenTarm opens the target UART device via tarm/serial.
func OpenTarm(name string, baud int, readTimeout time.Duration) (Driver, error) {
	cfg := tarm.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	port, err := tarm.OpenPort(&cfg)
	if err != nil {
		return nil, fmt.Errorf("open uart %s: %w", name, err)
	}
	return &tarmDriver{cfg: cfg, port: port}, nil
}

func (d *tarmDriver) Read(p []byte) (int, error) {
	d.mu.RLock()
	port := d.port
	d.mu.RUnlock()
	if port == nil {
		return 0, ErrClosed
	}
	return port.Read(p)
}

func (d *tarmDriver) Write(p []byte) (int, error) {
	d.mu.RLock()
	port := d.port
	d.mu.RUnlock()
	if port == nil {
		return 0, ErrClosed
	}
	return port.Write(p)
}

func (d *tarmDriver) SetBaudRate(rate int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return ErrClosed
	}
	if err := d.port.Close(); err != nil {
		return fmt.Errorf("reopen for baud %d: %w", rate, err)
	}
	cfg := d.cfg
	cfg.Baud = rate
	port, err := tarm.OpenPort(&cfg)
	if err != nil {
		d.port = nil
		return fmt.Errorf("reopen for baud %d: %w", rate, err)
	}
	d.cfg = cfg
	d.port = port
	return nil
}

func (d *tarmDriver) ResetInput() error {
	buf := make([]byte, 256)
	for i := 0; i < resetInputDrainRounds; i++ {
		n, err := d.Read(buf)
		if n == 0 || err != nil {
			return nil
		}
	}
	return nil
}

func (d *tarmDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}
