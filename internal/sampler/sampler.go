// internal/sampler/sampler.go

// Package sampler runs one worker per sensor group. A worker paces itself at
// the mode-dependent sampling rate, reads every sensor in the group through
// the shared SPI bus, feeds the log sink, the rolling windows, and the
// dashboard outbox, and arms the range trip during ignition.
package sampler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/standfire/engine-controller/internal/config"
	"github.com/standfire/engine-controller/internal/hardware"
	"github.com/standfire/engine-controller/internal/logsink"
	"github.com/standfire/engine-controller/internal/outbox"
	"github.com/standfire/engine-controller/internal/protocol"
	"github.com/standfire/engine-controller/internal/state"
)

// Worker samples one sensor group.
type Worker struct {
	groupID int
	group   config.SensorGroup
	adcs    []hardware.ADC
	sinks   []*logsink.Sink
	store   *state.Store
	out     *outbox.Outbox
}

// New creates a group worker. adcs is indexed by the ADC indices used in the
// sensor definitions; sinks holds one log sink per sensor in group order.
func New(
	groupID int,
	group config.SensorGroup,
	adcs []hardware.ADC,
	sinks []*logsink.Sink,
	store *state.Store,
	out *outbox.Outbox,
) (*Worker, error) {
	if len(sinks) != len(group.Sensors) {
		return nil, fmt.Errorf(
			"sampler %s: %d sensors but %d log sinks",
			group.Label, len(group.Sensors), len(sinks),
		)
	}
	for _, s := range group.Sensors {
		if s.Adc < 0 || s.Adc >= len(adcs) {
			return nil, fmt.Errorf("sampler %s: sensor %s references ADC %d of %d",
				group.Label, s.Label, s.Adc, len(adcs))
		}
	}
	return &Worker{
		groupID: groupID,
		group:   group,
		adcs:    adcs,
		sinks:   sinks,
		store:   store,
		out:     out,
	}, nil
}

// Run samples until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	txPeriod := time.Second / time.Duration(w.group.FrequencyTransmission)

	var pending []protocol.SensorReading
	lastTx := time.Now()
	next := time.Now()

	for {
		mode := w.store.Mode()

		rate := w.group.FrequencyStandby
		if mode.Ignition() {
			rate = w.group.FrequencyIgnition
		}
		next = next.Add(time.Second / time.Duration(rate))
		if now := time.Now(); next.Before(now) {
			// Overshot the deadline: re-align rather than accumulate debt.
			next = now
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			// Readings held back for the next batch still go out.
			if len(pending) > 0 {
				w.out.SendSensor(protocol.NewSensorValue(w.groupID, pending))
			}
			return
		case <-timer.C:
		}

		pending = w.sampleAll(mode, pending)

		if now := time.Now(); len(pending) > 0 && now.Sub(lastTx) >= txPeriod {
			w.out.SendSensor(protocol.NewSensorValue(w.groupID, pending))
			pending = nil
			lastTx = now
		}
	}
}

// sampleAll reads every sensor in configuration order. A failed read skips
// that reading only; subsequent channels are still sampled.
func (w *Worker) sampleAll(mode state.Mode, pending []protocol.SensorReading) []protocol.SensorReading {
	for idx := range w.group.Sensors {
		sensor := &w.group.Sensors[idx]

		raw, err := w.adcs[sensor.Adc].Read(sensor.Channel)
		if err != nil {
			log.Printf("sampler %s: reading %s: %v", w.group.Label, sensor.Label, err)
			w.out.SendControl(protocol.NewSensorFail(idx,
				fmt.Sprintf("failed to read sensor %s: %v", sensor.Label, err)))
			continue
		}
		ts := time.Now()

		calibrated := sensor.CalibrationSlope*float64(raw) + sensor.CalibrationIntercept
		w.store.Push(w.groupID, idx, calibrated)

		// The range check is armed only during ignition, and only once the
		// rolling window is full.
		if mode == state.Ignite && sensor.Range != nil {
			if mean, full := w.store.WindowMean(w.groupID, idx); full &&
				(mean < sensor.Range[0] || mean > sensor.Range[1]) {
				w.store.SetTrip()
				diag := fmt.Sprintf(
					"sensor %s rolling mean %g outside range [%g, %g], emergency stopping",
					sensor.Label, mean, sensor.Range[0], sensor.Range[1],
				)
				log.Printf("sampler %s: %s", w.group.Label, diag)
				w.out.SendControl(protocol.NewSensorFail(idx, diag))
			}
		}

		if err := w.sinks[idx].Append(fmt.Sprintf("%d,%d", ts.UnixNano(), raw)); err != nil {
			log.Printf("sampler %s: logging %s: %v", w.group.Label, sensor.Label, err)
			w.out.SendControl(protocol.NewPermission(
				fmt.Sprintf("failed to log sensor %s: %v", sensor.Label, err)))
		}

		pending = append(pending, protocol.SensorReading{
			SensorID: idx,
			Reading:  raw,
			Time:     protocol.At(ts),
		})
	}
	return pending
}
