// internal/config/validate.go
package config

import (
	"fmt"
)

// SPIMinFrequency is the slowest SPI clock (Hz) at which the MCP3008 ADCs
// still convert correctly.
const SPIMinFrequency = 10_000

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	// ------------------------------------------------------------
	// RATES AND SIZES
	// ------------------------------------------------------------

	if cfg.FrequencyStatus <= 0 {
		return fmt.Errorf("frequency_status must be > 0, got %d", cfg.FrequencyStatus)
	}
	if cfg.LogBufferSize <= 0 {
		return fmt.Errorf("log_buffer_size must be > 0, got %d", cfg.LogBufferSize)
	}
	if cfg.PreIgniteTime < 0 || cfg.PostIgniteTime < 0 {
		return fmt.Errorf(
			"ignition wait times must be >= 0, got pre=%d post=%d",
			cfg.PreIgniteTime, cfg.PostIgniteTime,
		)
	}
	if cfg.SPIFrequencyClk < SPIMinFrequency {
		return fmt.Errorf(
			"spi_frequency_clk is too slow: %d Hz (must be at least %d Hz)",
			cfg.SPIFrequencyClk, SPIMinFrequency,
		)
	}

	// ------------------------------------------------------------
	// SENSOR GROUPS
	// ------------------------------------------------------------

	groupLabels := make(map[string]struct{})

	for _, g := range cfg.SensorGroups {
		if g.Label == "" {
			return fmt.Errorf("sensor group without a label")
		}
		if _, dup := groupLabels[g.Label]; dup {
			return fmt.Errorf("duplicate sensor group label %q", g.Label)
		}
		groupLabels[g.Label] = struct{}{}

		if g.FrequencyStandby <= 0 || g.FrequencyIgnition <= 0 || g.FrequencyTransmission <= 0 {
			return fmt.Errorf(
				"group %q: all frequencies must be > 0, got standby=%d ignition=%d transmission=%d",
				g.Label, g.FrequencyStandby, g.FrequencyIgnition, g.FrequencyTransmission,
			)
		}

		sensorLabels := make(map[string]struct{})
		for _, s := range g.Sensors {
			if s.Label == "" {
				return fmt.Errorf("group %q: sensor without a label", g.Label)
			}
			if _, dup := sensorLabels[s.Label]; dup {
				return fmt.Errorf("group %q: duplicate sensor label %q", g.Label, s.Label)
			}
			sensorLabels[s.Label] = struct{}{}

			if s.Adc < 0 || s.Adc >= len(cfg.AdcCS) {
				return fmt.Errorf(
					"sensor %q references ADC %d, but only %d chip select pins are listed",
					s.Label, s.Adc, len(cfg.AdcCS),
				)
			}
			if s.Channel < 0 || s.Channel > 7 {
				return fmt.Errorf(
					"sensor %q references ADC channel %d (must be in 0..7)",
					s.Label, s.Channel,
				)
			}
			if s.RollingAverageWidth < 0 {
				return fmt.Errorf(
					"sensor %q: rolling_average_width must be >= 0, got %d",
					s.Label, s.RollingAverageWidth,
				)
			}
			if s.Range != nil && s.Range[0] > s.Range[1] {
				return fmt.Errorf(
					"sensor %q: range lower bound %g exceeds upper bound %g",
					s.Label, s.Range[0], s.Range[1],
				)
			}
		}
	}

	// ------------------------------------------------------------
	// SEQUENCES
	// ------------------------------------------------------------

	for name, seq := range map[string][]Step{
		"ignition_sequence": cfg.IgnitionSequence,
		"estop_sequence":    cfg.EstopSequence,
	} {
		for i, step := range seq {
			if step.Type != StepActuate {
				continue
			}
			if step.DriverID < 0 || step.DriverID >= len(cfg.Drivers) {
				return fmt.Errorf(
					"%s step %d references driver %d, but only %d drivers are defined",
					name, i, step.DriverID, len(cfg.Drivers),
				)
			}
		}
	}

	// ------------------------------------------------------------
	// PIN ASSIGNMENTS
	// ------------------------------------------------------------

	pins := []int{cfg.SPIMosi, cfg.SPIMiso, cfg.SPIClk, cfg.PinHeartbeat}
	for _, d := range cfg.Drivers {
		if d.Label == "" {
			return fmt.Errorf("driver without a label")
		}
		pins = append(pins, d.Pin)
	}
	pins = append(pins, cfg.AdcCS...)

	used := make(map[int]struct{})
	for _, pin := range pins {
		if !legalPin(pin) {
			return fmt.Errorf("GPIO pin %d is reserved or out of range on the Raspberry Pi", pin)
		}
		if _, dup := used[pin]; dup {
			return fmt.Errorf("GPIO pin %d is used for multiple purposes", pin)
		}
		used[pin] = struct{}{}
	}

	return nil
}

// legalPin reports whether a BCM pin number may be claimed by the controller.
// Pins 0 and 1 are reserved for the HAT EEPROM; the header exposes 2..27.
func legalPin(pin int) bool {
	return pin > 1 && pin <= 27
}
