// internal/sampler/sampler_test.go
package sampler

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/standfire/engine-controller/internal/config"
	"github.com/standfire/engine-controller/internal/hardware"
	"github.com/standfire/engine-controller/internal/logsink"
	"github.com/standfire/engine-controller/internal/outbox"
	"github.com/standfire/engine-controller/internal/state"
)

// fakeADC serves scripted per-channel values; the last value repeats.
type fakeADC struct {
	mu   sync.Mutex
	vals map[int][]int
	errs map[int]error
}

func (f *fakeADC) Read(ch int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[ch]; err != nil {
		return 0, err
	}
	q := f.vals[ch]
	if len(q) == 0 {
		return 0, nil
	}
	v := q[0]
	if len(q) > 1 {
		f.vals[ch] = q[1:]
	}
	return v, nil
}

// collectWriter gathers outbox output lines.
type collectWriter struct {
	mu    sync.Mutex
	lines []string
}

func (c *collectWriter) Write(p []byte) (int, error) {
	c.mu.Lock()
	c.lines = append(c.lines, strings.TrimSpace(string(p)))
	c.mu.Unlock()
	return len(p), nil
}

func (c *collectWriter) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

type sensorBatch struct {
	Type     string `json:"type"`
	GroupID  int    `json:"group_id"`
	Readings []struct {
		SensorID int `json:"sensor_id"`
		Reading  int `json:"reading"`
	} `json:"readings"`
}

type errorMsg struct {
	Type  string `json:"type"`
	Cause struct {
		Type     string `json:"type"`
		SensorID *int   `json:"sensor_id"`
	} `json:"cause"`
}

type fixture struct {
	worker *Worker
	store  *state.Store
	out    *collectWriter
	paths  []string
	sinks  []*logsink.Sink
}

func newFixture(t *testing.T, group config.SensorGroup, adc *fakeADC) *fixture {
	t.Helper()
	cfg := &config.Config{
		SensorGroups: []config.SensorGroup{group},
		AdcCS:        []int{20},
	}
	store := state.New(cfg)

	sink := &collectWriter{}
	out := outbox.New(cfg)
	if err := out.Attach(sink); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go out.Run(ctx)

	dir := t.TempDir()
	var (
		sinks []*logsink.Sink
		paths []string
	)
	for _, s := range group.Sensors {
		path := filepath.Join(dir, s.Label+".csv")
		ls, err := logsink.New(path, 1)
		if err != nil {
			t.Fatalf("sink: %v", err)
		}
		sinks = append(sinks, ls)
		paths = append(paths, path)
	}

	w, err := New(0, group, []hardware.ADC{adc}, sinks, store, out)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{worker: w, store: store, out: sink, paths: paths, sinks: sinks}
}

func (f *fixture) runFor(d time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	f.worker.Run(ctx)
	for _, s := range f.sinks {
		s.Close()
	}
	// The outbox writes asynchronously; let it deliver the last batch.
	time.Sleep(50 * time.Millisecond)
}

func (f *fixture) batches(t *testing.T) []sensorBatch {
	t.Helper()
	var out []sensorBatch
	for _, line := range f.out.snapshot() {
		var b sensorBatch
		if json.Unmarshal([]byte(line), &b) == nil && b.Type == "SensorValue" {
			out = append(out, b)
		}
	}
	return out
}

func (f *fixture) errorsOf(t *testing.T, cause string) []errorMsg {
	t.Helper()
	var out []errorMsg
	for _, line := range f.out.snapshot() {
		var e errorMsg
		if json.Unmarshal([]byte(line), &e) == nil && e.Type == "Error" && e.Cause.Type == cause {
			out = append(out, e)
		}
	}
	return out
}

func fastGroup(sensors ...config.Sensor) config.SensorGroup {
	return config.SensorGroup{
		Label:                 "FAST",
		FrequencyStandby:      200,
		FrequencyIgnition:     200,
		FrequencyTransmission: 200,
		Sensors:               sensors,
	}
}

// ---- tests ----

func TestWorker_LogsAndTransmitsSamples(t *testing.T) {
	adc := &fakeADC{vals: map[int][]int{0: {727}}}
	f := newFixture(t, fastGroup(config.Sensor{
		Label:            "PT_FEED",
		CalibrationSlope: 1,
		Adc:              0,
		Channel:          0,
	}), adc)

	f.runFor(200 * time.Millisecond)

	data, err := os.ReadFile(f.paths[0])
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) == 0 || lines[0] == "" {
		t.Fatalf("expected logged samples")
	}
	for _, line := range lines {
		if !strings.HasSuffix(line, ",727") {
			t.Fatalf("unexpected log row %q", line)
		}
	}

	var transmitted int
	for _, b := range f.batches(t) {
		if b.GroupID != 0 {
			t.Fatalf("unexpected group id %d", b.GroupID)
		}
		for _, r := range b.Readings {
			if r.SensorID != 0 || r.Reading != 727 {
				t.Fatalf("unexpected reading %+v", r)
			}
			transmitted++
		}
	}
	if transmitted == 0 {
		t.Fatalf("expected transmitted readings")
	}
	// Transmission at sampling rate: every logged sample is also sent.
	if transmitted != len(lines) {
		t.Fatalf("log has %d samples but dashboard got %d", len(lines), transmitted)
	}
}

func TestWorker_TransmissionDecimation(t *testing.T) {
	group := fastGroup(config.Sensor{
		Label:            "PT_FEED",
		CalibrationSlope: 1,
		Adc:              0,
		Channel:          0,
	})
	group.FrequencyTransmission = 20

	adc := &fakeADC{vals: map[int][]int{0: {5}}}
	f := newFixture(t, group, adc)
	f.runFor(300 * time.Millisecond)

	data, err := os.ReadFile(f.paths[0])
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	logged := len(strings.Split(strings.TrimSpace(string(data)), "\n"))

	var transmitted int
	batches := f.batches(t)
	for _, b := range batches {
		transmitted += len(b.Readings)
	}

	// Decimation batches across ticks instead of dropping samples.
	if len(batches) >= logged {
		t.Fatalf("expected fewer batches (%d) than samples (%d)", len(batches), logged)
	}
	if transmitted == 0 {
		t.Fatalf("expected batched readings")
	}
}

func TestWorker_RangeTripDuringIgnite(t *testing.T) {
	// Window means reach 120 on the fourth sample: (100+110+130+140)/4.
	adc := &fakeADC{vals: map[int][]int{0: {100, 110, 130, 140}}}
	f := newFixture(t, fastGroup(config.Sensor{
		Label:               "PT_FEED",
		Range:               &[2]float64{0, 100},
		CalibrationSlope:    1,
		RollingAverageWidth: 4,
		Adc:                 0,
		Channel:             0,
	}), adc)

	f.store.SetMode(state.Ignite)
	f.runFor(200 * time.Millisecond)

	if !f.store.TakeTrip() {
		t.Fatalf("expected the trip latch to be set")
	}
	fails := f.errorsOf(t, "SensorFail")
	if len(fails) == 0 {
		t.Fatalf("expected a SensorFail diagnostic")
	}
	if fails[0].Cause.SensorID == nil || *fails[0].Cause.SensorID != 0 {
		t.Fatalf("expected sensor id 0 in the diagnostic")
	}
}

func TestWorker_NoTripOutsideIgnite(t *testing.T) {
	adc := &fakeADC{vals: map[int][]int{0: {1000}}}
	f := newFixture(t, fastGroup(config.Sensor{
		Label:               "PT_FEED",
		Range:               &[2]float64{0, 100},
		CalibrationSlope:    1,
		RollingAverageWidth: 2,
		Adc:                 0,
		Channel:             0,
	}), adc)

	f.runFor(150 * time.Millisecond)

	if f.store.TakeTrip() {
		t.Fatalf("range checks must be armed only during Ignite")
	}
}

func TestWorker_NoTripBeforeWindowFull(t *testing.T) {
	adc := &fakeADC{vals: map[int][]int{0: {1000}}}
	f := newFixture(t, fastGroup(config.Sensor{
		Label:               "PT_FEED",
		Range:               &[2]float64{0, 100},
		CalibrationSlope:    1,
		RollingAverageWidth: 1000,
		Adc:                 0,
		Channel:             0,
	}), adc)

	f.store.SetMode(state.Ignite)
	f.runFor(100 * time.Millisecond)

	if f.store.TakeTrip() {
		t.Fatalf("no range check may fire before the window is full")
	}
}

func TestWorker_ADCFailureSkipsOnlyThatSensor(t *testing.T) {
	adc := &fakeADC{
		vals: map[int][]int{1: {55}},
		errs: map[int]error{0: errors.New("spi timeout")},
	}
	f := newFixture(t, fastGroup(
		config.Sensor{Label: "PT_FEED", CalibrationSlope: 1, Adc: 0, Channel: 0},
		config.Sensor{Label: "LC_MAIN", CalibrationSlope: 1, Adc: 0, Channel: 1},
	), adc)

	f.runFor(150 * time.Millisecond)

	for _, b := range f.batches(t) {
		for _, r := range b.Readings {
			if r.SensorID != 1 {
				t.Fatalf("the failing sensor must not produce readings, got %+v", r)
			}
			if r.Reading != 55 {
				t.Fatalf("unexpected reading %+v", r)
			}
		}
	}

	fails := f.errorsOf(t, "SensorFail")
	if len(fails) == 0 {
		t.Fatalf("expected SensorFail diagnostics for the dead channel")
	}
	if fails[0].Cause.SensorID == nil || *fails[0].Cause.SensorID != 0 {
		t.Fatalf("expected sensor id 0, got %+v", fails[0].Cause)
	}

	// The healthy sensor keeps logging.
	data, err := os.ReadFile(f.paths[1])
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		t.Fatalf("expected samples from the healthy sensor")
	}
}

func TestWorker_BatchesPreserveSampleOrder(t *testing.T) {
	adc := &fakeADC{vals: map[int][]int{0: {1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}}}
	f := newFixture(t, fastGroup(config.Sensor{
		Label:            "PT_FEED",
		CalibrationSlope: 1,
		Adc:              0,
		Channel:          0,
	}), adc)

	f.runFor(200 * time.Millisecond)

	var all []int
	for _, b := range f.batches(t) {
		for _, r := range b.Readings {
			all = append(all, r.Reading)
		}
	}
	if len(all) < 2 {
		t.Fatalf("expected several readings, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i] < all[i-1] {
			t.Fatalf("sample order lost: %v", all)
		}
	}
	for i := 1; i < len(all); i++ {
		if all[i] == all[i-1] && all[i] != 12 {
			t.Fatalf("duplicated sample %d in %v", all[i], all)
		}
	}
}
