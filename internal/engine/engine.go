// internal/engine/engine.go

// Package engine executes ignition and emergency-stop sequences. At most one
// attempt runs at a time; it is interruptible at every sleep and between
// steps, where it samples the trip latch and any pending emergency stop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/standfire/engine-controller/internal/config"
	"github.com/standfire/engine-controller/internal/drivers"
	"github.com/standfire/engine-controller/internal/outbox"
	"github.com/standfire/engine-controller/internal/protocol"
	"github.com/standfire/engine-controller/internal/state"
)

// Engine drives the ignition state machine.
type Engine struct {
	cfg   *config.Config
	bank  *drivers.Bank
	store *state.Store
	out   *outbox.Outbox

	mu      sync.Mutex
	running bool
	estop   chan struct{}
	wg      sync.WaitGroup
}

// New creates an Engine in the idle state.
func New(cfg *config.Config, bank *drivers.Bank, store *state.Store, out *outbox.Outbox) *Engine {
	return &Engine{cfg: cfg, bank: bank, store: store, out: out}
}

// Start begins one ignition attempt in the background. It is refused while
// another attempt (or a direct E-stop) is running, or outside Standby.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("engine: an ignition attempt is already in progress")
	}
	if m := e.store.Mode(); m != state.Standby {
		return fmt.Errorf("engine: ignition is only allowed from Standby, mode is %s", m)
	}
	e.running = true
	e.estop = make(chan struct{})
	e.wg.Add(1)
	go e.run(ctx, e.estop)
	return nil
}

// EStop requests an emergency stop. A running attempt is cancelled at its
// next suspension point and then executes the E-stop sequence itself; with
// no attempt running, the sequence is executed directly in the background.
func (e *Engine) EStop() {
	e.mu.Lock()
	if e.running {
		select {
		case <-e.estop:
		default:
			close(e.estop)
		}
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.done()
		e.runEStop()
	}()
}

// Wait blocks until any in-flight attempt or E-stop has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) done() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	e.wg.Done()
}

func (e *Engine) run(ctx context.Context, estop chan struct{}) {
	defer e.done()

	// A trip latched by an earlier attempt must not abort this one.
	e.store.TakeTrip()
	select {
	case <-e.store.TripNotify():
	default:
	}

	e.store.SetMode(state.PreIgnite)
	log.Printf("engine: pre-ignition, waiting %d ms", e.cfg.PreIgniteTime)
	if !e.wait(ctx, estop, time.Duration(e.cfg.PreIgniteTime)*time.Millisecond, false) {
		e.runEStop()
		return
	}

	e.store.SetMode(state.Ignite)
	log.Printf("engine: igniting, %d steps", len(e.cfg.IgnitionSequence))
	for i := range e.cfg.IgnitionSequence {
		if e.interrupted(ctx, estop) || e.store.TakeTrip() {
			e.runEStop()
			return
		}
		step := e.cfg.IgnitionSequence[i]
		switch step.Type {
		case config.StepActuate:
			if err := e.bank.Set(step.DriverID, step.Value); err != nil {
				// A failed safety-critical write escalates to an E-stop.
				diag := fmt.Sprintf("ignition step %d: %v", i, err)
				log.Printf("engine: %s", diag)
				e.out.SendControl(protocol.NewPermission(diag))
				e.runEStop()
				return
			}
		case config.StepSleep:
			if !e.wait(ctx, estop, step.Duration.Std(), true) {
				e.runEStop()
				return
			}
		}
	}
	if e.interrupted(ctx, estop) || e.store.TakeTrip() {
		e.runEStop()
		return
	}

	e.store.SetMode(state.PostIgnite)
	log.Printf("engine: post-ignition, waiting %d ms", e.cfg.PostIgniteTime)
	if !e.wait(ctx, estop, time.Duration(e.cfg.PostIgniteTime)*time.Millisecond, false) {
		e.runEStop()
		return
	}

	e.store.SetMode(state.Standby)
	log.Printf("engine: ignition attempt complete")
}

// wait sleeps for d, returning false if the sleep was cut short by an
// emergency stop, supervisor shutdown, or (when watchTrip is set) a range
// trip notification.
func (e *Engine) wait(ctx context.Context, estop chan struct{}, d time.Duration, watchTrip bool) bool {
	var trip <-chan struct{}
	if watchTrip {
		trip = e.store.TripNotify()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-estop:
		return false
	case <-trip:
		return false
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) interrupted(ctx context.Context, estop chan struct{}) bool {
	select {
	case <-estop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// runEStop executes the E-stop sequence best-effort: a failed step is
// reported but the remaining steps still run.
func (e *Engine) runEStop() {
	e.store.SetMode(state.EStopping)
	log.Printf("engine: emergency stop, %d steps", len(e.cfg.EstopSequence))
	for i, step := range e.cfg.EstopSequence {
		switch step.Type {
		case config.StepActuate:
			if err := e.bank.Set(step.DriverID, step.Value); err != nil {
				diag := fmt.Sprintf("estop step %d: %v", i, err)
				log.Printf("engine: %s", diag)
				e.out.SendControl(protocol.NewPermission(diag))
			}
		case config.StepSleep:
			time.Sleep(step.Duration.Std())
		}
	}
	e.store.SetMode(state.Standby)
	log.Printf("engine: emergency stop complete")
}
