// internal/hardware/rpi/rpi.go

// Package rpi adapts Raspberry Pi GPIO character-device lines to the
// hardware.Pin interface.
package rpi

import (
	"github.com/warthog618/go-gpiocdev"

	"github.com/standfire/engine-controller/internal/hardware"
)

// Chip wraps the GPIO character device and hands out requested lines.
type Chip struct {
	chip  *gpiocdev.Chip
	lines []*gpiocdev.Line
}

// Open opens /dev/gpiochip0 with the given consumer label.
func Open(consumer string) (*Chip, error) {
	c, err := gpiocdev.NewChip("gpiochip0", gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, err
	}
	return &Chip{chip: c}, nil
}

// Output requests the BCM-numbered pin as an output driven to the given
// initial level. Chip selects idle high; everything else starts low.
func (c *Chip) Output(pin int, initial bool) (hardware.Pin, error) {
	v := 0
	if initial {
		v = 1
	}
	l, err := c.chip.RequestLine(pin, gpiocdev.AsOutput(v))
	if err != nil {
		return nil, err
	}
	c.lines = append(c.lines, l)
	return line{l}, nil
}

// Input requests the BCM-numbered pin as an input.
func (c *Chip) Input(pin int) (hardware.Pin, error) {
	l, err := c.chip.RequestLine(pin, gpiocdev.AsInput)
	if err != nil {
		return nil, err
	}
	c.lines = append(c.lines, l)
	return line{l}, nil
}

// Close releases every requested line and the chip itself.
func (c *Chip) Close() error {
	for _, l := range c.lines {
		l.Close()
	}
	return c.chip.Close()
}

type line struct {
	l *gpiocdev.Line
}

func (p line) Read() (bool, error) {
	v, err := p.l.Value()
	return v != 0, err
}

func (p line) Write(level bool) error {
	v := 0
	if level {
		v = 1
	}
	return p.l.SetValue(v)
}
