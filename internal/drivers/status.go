// internal/drivers/status.go
package drivers

import (
	"context"
	"time"

	"github.com/standfire/engine-controller/internal/outbox"
	"github.com/standfire/engine-controller/internal/protocol"
	"github.com/standfire/engine-controller/internal/state"
)

// Status periodically snapshots the driver levels and sends them to the
// dashboard as a DriverValue message.
type Status struct {
	interval time.Duration
	store    *state.Store
	out      *outbox.Outbox
}

// NewStatus creates a status worker reporting at frequency Hz.
func NewStatus(frequency int, store *state.Store, out *outbox.Outbox) *Status {
	return &Status{
		interval: time.Second / time.Duration(frequency),
		store:    store,
		out:      out,
	}
}

// Run emits snapshots until ctx is cancelled.
func (s *Status) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.out.SendControl(protocol.NewDriverValue(s.store.DriverLevels()))
		}
	}
}
