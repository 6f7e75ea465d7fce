// internal/hardware/spi.go
package hardware

import (
	"errors"
	"sync"
	"time"
)

// Bus is a bit-banged SPI bus over three GPIO lines.
// All transfers on the bus are serialized by its mutex, so at most one
// transfer is in flight at any time regardless of how many devices share it.
type Bus struct {
	mu sync.Mutex
	// period is the time between two rising clock edges.
	period time.Duration
	clk    Pin
	mosi   Pin
	miso   Pin
}

// NewBus creates a Bus clocked at frequency Hz.
func NewBus(frequency int, clk, mosi, miso Pin) (*Bus, error) {
	if frequency <= 0 {
		return nil, errors.New("spi: clock frequency must be > 0")
	}
	return &Bus{
		period: time.Second / time.Duration(frequency),
		clk:    clk,
		mosi:   mosi,
		miso:   miso,
	}, nil
}

// Transfer performs one full-duplex transfer with cs asserted low for the
// duration. Bytes go out MSB first; the device is read on the rising clock
// edge and written on the falling edge. out and in must be equal length.
func (b *Bus) Transfer(cs Pin, out, in []byte) error {
	if len(out) != len(in) {
		return errors.New("spi: outgoing and incoming buffers differ in length")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	half := b.period / 2

	// Pull chip select down to begin talking.
	if err := cs.Write(false); err != nil {
		return err
	}

	for i, byteOut := range out {
		var byteIn byte
		for bit := 7; bit >= 0; bit-- {
			if err := b.mosi.Write(byteOut&(1<<bit) != 0); err != nil {
				return err
			}
			time.Sleep(half)
			if err := b.clk.Write(true); err != nil {
				return err
			}
			level, err := b.miso.Read()
			if err != nil {
				return err
			}
			if level {
				byteIn |= 1 << bit
			}
			time.Sleep(half)
			if err := b.clk.Write(false); err != nil {
				return err
			}
		}
		in[i] = byteIn
	}

	return cs.Write(true)
}
