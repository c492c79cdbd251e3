package uart

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// bugstDriver is the default target-side device, backed by go.bug.st/serial.
// It supports runtime baud-rate changes (SetMode) and hardware input flush.
type bugstDriver struct {
	mu   sync.Mutex
	port serial.Port
	mode serial.Mode
}

// Open opens the target UART device with 8N1 framing and a bounded read
// timeout so the pump stays responsive to shutdown.
func Open(name string, baud int, readTimeout time.Duration) (Driver, error) {
	mode := serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, &mode)
	if err != nil {
		return nil, fmt.Errorf("open uart %s: %w", name, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set uart read timeout: %w", err)
	}
	return &bugstDriver{port: port, mode: mode}, nil
}

func (d *bugstDriver) Read(p []byte) (int, error)  { return d.port.Read(p) }
func (d *bugstDriver) Write(p []byte) (int, error) { return d.port.Write(p) }

func (d *bugstDriver) SetBaudRate(rate int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	mode := d.mode
	mode.BaudRate = rate
	if err := d.port.SetMode(&mode); err != nil {
		return fmt.Errorf("set baud %d: %w", rate, err)
	}
	d.mode = mode
	return nil
}

func (d *bugstDriver) ResetInput() error { return d.port.ResetInputBuffer() }
func (d *bugstDriver) Close() error      { return d.port.Close() }
