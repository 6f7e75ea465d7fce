// internal/config/config.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Config is the full controller configuration.
// It is parsed once at startup, validated, and never mutated afterwards.
// The whole object is re-serialized verbatim as the first message to every
// dashboard connection, so every field must round-trip through JSON.
type Config struct {
	// FrequencyStatus is the rate (Hz) of driver status updates to the dashboard.
	FrequencyStatus int `json:"frequency_status"`
	// LogBufferSize is the number of entries a log buffer holds before it is
	// flushed to its file.
	LogBufferSize int `json:"log_buffer_size"`
	// SensorGroups are sampled by one worker each, in declaration order.
	SensorGroups []SensorGroup `json:"sensor_groups"`
	// Drivers actuate external digital pins. Driver IDs are indices into this list.
	Drivers []Driver `json:"drivers"`
	// PreIgniteTime is the wait (ms) in the pre-ignition state before the
	// ignition sequence starts.
	PreIgniteTime int `json:"pre_ignite_time"`
	// PostIgniteTime is the wait (ms) in the post-ignition state before
	// returning to standby.
	PostIgniteTime int `json:"post_ignite_time"`
	// IgnitionSequence is executed step-by-step during ignition.
	IgnitionSequence []Step `json:"ignition_sequence"`
	// EstopSequence is executed step-by-step during an emergency stop.
	EstopSequence []Step `json:"estop_sequence"`

	// ---- SPI BUS ----

	SPIMosi         int `json:"spi_mosi"`
	SPIMiso         int `json:"spi_miso"`
	SPIClk          int `json:"spi_clk"`
	SPIFrequencyClk int `json:"spi_frequency_clk"`
	// AdcCS holds the chip select pin of each ADC. ADC indices in sensor
	// definitions refer to this list.
	AdcCS []int `json:"adc_cs"`

	// PinHeartbeat is toggled by the heartbeat worker as a watchdog pulse.
	PinHeartbeat int `json:"pin_heartbeat"`
}

// ---- SENSORS ----

// SensorGroup is a set of sensors sampled together at common rates.
type SensorGroup struct {
	Label string `json:"label"`
	// FrequencyStandby is the sampling rate (Hz) outside an ignition attempt.
	FrequencyStandby int `json:"frequency_standby"`
	// FrequencyIgnition is the sampling rate (Hz) during an ignition attempt.
	FrequencyIgnition int `json:"frequency_ignition"`
	// FrequencyTransmission is the rate (Hz) at which batched readings are
	// sent to the dashboard.
	FrequencyTransmission int      `json:"frequency_transmission"`
	Sensors               []Sensor `json:"sensors"`
}

// Sensor describes one ADC channel. Sensor IDs are indices within the group.
type Sensor struct {
	Label string `json:"label"`
	Color string `json:"color,omitempty"`
	Units string `json:"units,omitempty"`
	// Range is the [lo, hi] window of calibrated values allowed during
	// ignition. Nil disables the range check.
	Range *[2]float64 `json:"range,omitempty"`
	// Calibration: reading = slope*raw + intercept.
	CalibrationIntercept float64 `json:"calibration_intercept"`
	CalibrationSlope     float64 `json:"calibration_slope"`
	// RollingAverageWidth is the window width (samples) for the range check.
	// Zero means no window, which also disables the range check.
	RollingAverageWidth int `json:"rolling_average_width,omitempty"`
	// Adc indexes Config.AdcCS; Channel is the input on that ADC.
	Adc     int `json:"adc"`
	Channel int `json:"channel"`
}

// ---- DRIVERS ----

// Driver is one actuated GPIO output.
type Driver struct {
	Label string `json:"label"`
	// Pin is BCM-numbered.
	Pin int `json:"pin"`
	// Protected drivers may only be touched by ignition and E-stop sequences,
	// never by dashboard commands.
	Protected bool `json:"protected"`
}

// ---- SEQUENCE STEPS ----

// Step types.
const (
	StepActuate = "Actuate"
	StepSleep   = "Sleep"
)

// Step is one entry in an ignition or E-stop sequence.
// Exactly one variant is active, selected by Type.
type Step struct {
	Type string
	// Actuate variant.
	DriverID int
	Value    bool
	// Sleep variant.
	Duration Duration
}

// Duration is the wire encoding of a sleep interval.
type Duration struct {
	Secs  int64 `json:"secs"`
	Nanos int64 `json:"nanos"`
}

// Std converts the wire duration into a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d.Secs)*time.Second + time.Duration(d.Nanos)*time.Nanosecond
}

type actuateStep struct {
	Type     string `json:"type"`
	DriverID int    `json:"driver_id"`
	Value    bool   `json:"value"`
}

type sleepStep struct {
	Type     string   `json:"type"`
	Duration Duration `json:"duration"`
}

func (s Step) MarshalJSON() ([]byte, error) {
	switch s.Type {
	case StepActuate:
		return json.Marshal(actuateStep{s.Type, s.DriverID, s.Value})
	case StepSleep:
		return json.Marshal(sleepStep{s.Type, s.Duration})
	}
	return nil, fmt.Errorf("config: unknown step type %q", s.Type)
}

func (s *Step) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type     string   `json:"type"`
		DriverID *int     `json:"driver_id"`
		Value    *bool    `json:"value"`
		Duration Duration `json:"duration"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case StepActuate:
		if raw.DriverID == nil || raw.Value == nil {
			return errors.New("config: actuate step requires driver_id and value")
		}
		*s = Step{Type: StepActuate, DriverID: *raw.DriverID, Value: *raw.Value}
	case StepSleep:
		*s = Step{Type: StepSleep, Duration: raw.Duration}
	default:
		return fmt.Errorf("config: unknown step type %q", raw.Type)
	}
	return nil
}

// ---- LOADING ----

// Parse reads a configuration from r. Unknown fields are tolerated.
// Parse does not validate; call Validate on the result.
func Parse(r io.Reader) (*Config, error) {
	var cfg Config
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: malformed JSON: %w", err)
	}
	return &cfg, nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}
