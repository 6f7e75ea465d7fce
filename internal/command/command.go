// internal/command/command.go

// Package command validates dashboard commands and applies the actuation
// authority rules before anything reaches a driver.
package command

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/standfire/engine-controller/internal/config"
	"github.com/standfire/engine-controller/internal/drivers"
	"github.com/standfire/engine-controller/internal/engine"
	"github.com/standfire/engine-controller/internal/logsink"
	"github.com/standfire/engine-controller/internal/outbox"
	"github.com/standfire/engine-controller/internal/protocol"
	"github.com/standfire/engine-controller/internal/state"
)

// Dispatcher applies parsed dashboard commands.
type Dispatcher struct {
	cfg     *config.Config
	store   *state.Store
	bank    *drivers.Bank
	engine  *engine.Engine
	out     *outbox.Outbox
	journal *logsink.Sink
}

// New creates a Dispatcher. journal receives one request and one finish row
// per recognized command.
func New(
	cfg *config.Config,
	store *state.Store,
	bank *drivers.Bank,
	eng *engine.Engine,
	out *outbox.Outbox,
	journal *logsink.Sink,
) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		store:   store,
		bank:    bank,
		engine:  eng,
		out:     out,
		journal: journal,
	}
}

// Handle parses and applies one raw inbound message. Unknown or malformed
// messages produce exactly one Malformed error and are otherwise ignored.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) {
	cmd, err := protocol.ParseCommand(raw)
	if err != nil {
		d.out.SendControl(protocol.NewMalformed(string(raw), err.Error()))
		return
	}
	log.Printf("command: executing %s", cmd)
	d.record("request", cmd)

	switch cmd.Type {
	case protocol.CmdActuate:
		d.actuate(raw, cmd)
	case protocol.CmdIgnition:
		if err := d.engine.Start(ctx); err != nil {
			d.out.SendControl(protocol.NewMalformed(string(raw), err.Error()))
		}
	case protocol.CmdEmergencyStop:
		d.engine.EStop()
	}

	d.record("finish", cmd)
}

// actuate enforces the authority rules: dashboard actuation is allowed only
// from Standby and never on a protected driver.
func (d *Dispatcher) actuate(raw []byte, cmd protocol.Command) {
	if cmd.DriverID < 0 || cmd.DriverID >= len(d.cfg.Drivers) {
		d.reject(raw, fmt.Sprintf("no driver with id %d", cmd.DriverID))
		return
	}
	if m := d.store.Mode(); m != state.Standby {
		d.reject(raw, fmt.Sprintf("actuation refused: mode is %s, not Standby", m))
		return
	}
	if d.cfg.Drivers[cmd.DriverID].Protected {
		d.reject(raw, fmt.Sprintf(
			"driver %s is protected and cannot be actuated by the dashboard",
			d.cfg.Drivers[cmd.DriverID].Label,
		))
		return
	}

	if err := d.bank.Set(cmd.DriverID, cmd.Value); err != nil {
		// A write the operator asked for failed at the GPIO layer. That is a
		// safety-critical fault, so report it and emergency stop.
		diag := fmt.Sprintf("actuation of driver %d failed: %v", cmd.DriverID, err)
		log.Printf("command: %s", diag)
		d.out.SendControl(protocol.NewPermission(diag))
		d.engine.EStop()
	}
}

func (d *Dispatcher) reject(raw []byte, diagnostic string) {
	log.Printf("command: rejected: %s", diagnostic)
	d.out.SendControl(protocol.NewMalformed(string(raw), diagnostic))
}

func (d *Dispatcher) record(phase string, cmd protocol.Command) {
	entry := fmt.Sprintf("%d,%s,%s", time.Now().UnixNano(), phase, cmd)
	if err := d.journal.Append(entry); err != nil {
		log.Printf("command: journal write failed: %v", err)
	}
}
