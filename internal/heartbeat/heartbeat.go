// internal/heartbeat/heartbeat.go

// Package heartbeat pulses a GPIO output so an external watchdog can tell a
// running controller from a crashed one.
package heartbeat

import (
	"context"
	"log"
	"time"

	"github.com/standfire/engine-controller/internal/hardware"
)

// togglePeriod is half the pulse cycle: one full high/low cycle per second.
const togglePeriod = 500 * time.Millisecond

// Worker toggles one pin regardless of mode.
type Worker struct {
	pin hardware.Pin
}

// New creates a heartbeat worker on pin.
func New(pin hardware.Pin) *Worker {
	return &Worker{pin: pin}
}

// Run toggles the pin until ctx is cancelled, then leaves it low.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(togglePeriod)
	defer ticker.Stop()

	level := false
	for {
		select {
		case <-ctx.Done():
			if err := w.pin.Write(false); err != nil {
				log.Printf("heartbeat: parking pin low: %v", err)
			}
			return
		case <-ticker.C:
			level = !level
			if err := w.pin.Write(level); err != nil {
				log.Printf("heartbeat: toggle failed: %v", err)
			}
		}
	}
}
