package gpio

import (
	"fmt"
	"sync"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	phost "periph.io/x/host/v3"
)

// Pin drives one logical output level (BOOT select or target RESET).
type Pin interface {
	Set(level bool) error
}

var hostInitOnce sync.Once
var hostInitErr error

// Open resolves a pin by periph registry name (e.g. "GPIO23") and returns it
// configured as an output.
func Open(name string) (Pin, error) {
	hostInitOnce.Do(func() { _, hostInitErr = phost.Init() })
	if hostInitErr != nil {
		return nil, fmt.Errorf("gpio host init: %w", hostInitErr)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	return &periphPin{pin: p}, nil
}

type periphPin struct {
	pin pgpio.PinIO
}

func (p *periphPin) Set(level bool) error {
	return p.pin.Out(pgpio.Level(level))
}
