// internal/drivers/drivers.go

// Package drivers owns actuation: every driver level change goes through the
// Bank so the GPIO output, the shared state entry, and the driver log stay in
// agreement.
package drivers

import (
	"fmt"
	"log"
	"time"

	"github.com/standfire/engine-controller/internal/hardware"
	"github.com/standfire/engine-controller/internal/logsink"
	"github.com/standfire/engine-controller/internal/outbox"
	"github.com/standfire/engine-controller/internal/protocol"
	"github.com/standfire/engine-controller/internal/state"
)

// Bank is the single write path for driver levels.
type Bank struct {
	pins  []hardware.Pin
	sinks []*logsink.Sink
	store *state.Store
	out   *outbox.Outbox
}

// NewBank wires one pin and one log sink per driver, in driver ID order.
func NewBank(pins []hardware.Pin, sinks []*logsink.Sink, store *state.Store, out *outbox.Outbox) (*Bank, error) {
	if len(pins) != len(sinks) {
		return nil, fmt.Errorf("drivers: %d pins but %d sinks", len(pins), len(sinks))
	}
	return &Bank{pins: pins, sinks: sinks, store: store, out: out}, nil
}

// Len returns the number of drivers in the bank.
func (b *Bank) Len() int {
	return len(b.pins)
}

// Set drives one driver to the given level: GPIO first, then the shared
// state entry, then the driver log. A GPIO failure leaves state and log
// untouched and is returned to the caller; a log failure is reported as a
// Permission error but does not undo the actuation.
func (b *Bank) Set(id int, level bool) error {
	if id < 0 || id >= len(b.pins) {
		return fmt.Errorf("drivers: no driver with id %d", id)
	}
	if err := b.pins[id].Write(level); err != nil {
		return fmt.Errorf("drivers: actuating driver %d: %w", id, err)
	}
	b.store.SetDriverLevel(id, level)

	entry := fmt.Sprintf("%d,%t", time.Now().UnixNano(), level)
	if err := b.sinks[id].Append(entry); err != nil {
		log.Printf("drivers: logging driver %d: %v", id, err)
		b.out.SendControl(protocol.NewPermission(
			fmt.Sprintf("failed to log actuation of driver %d: %v", id, err),
		))
	}
	return nil
}
