// internal/protocol/messages.go

// Package protocol defines the JSON wire format spoken with the dashboard:
// the outbound message set, the inbound command set, and the stream scanner
// that extracts one JSON object at a time from the inbound byte stream.
package protocol

import (
	"time"

	"github.com/standfire/engine-controller/internal/config"
)

// Message is any outbound dashboard message. All implementations are plain
// structs whose Type field is fixed by their constructor.
type Message interface {
	message()
}

// Timestamp is the wire encoding of a wall-clock instant.
type Timestamp struct {
	SecsSinceEpoch  int64 `json:"secs_since_epoch"`
	NanosSinceEpoch int64 `json:"nanos_since_epoch"`
}

// At converts a time.Time into its wire encoding.
func At(t time.Time) Timestamp {
	return Timestamp{
		SecsSinceEpoch:  t.Unix(),
		NanosSinceEpoch: int64(t.Nanosecond()),
	}
}

// ConfigMessage carries the entire configuration and is the first message on
// every new dashboard connection.
type ConfigMessage struct {
	Type   string         `json:"type"`
	Config *config.Config `json:"config"`
}

// SensorReading is one sample inside a SensorValue batch.
type SensorReading struct {
	SensorID int       `json:"sensor_id"`
	Reading  int       `json:"reading"`
	Time     Timestamp `json:"time"`
}

// SensorValue is a batch of readings from one sensor group, in sample order.
type SensorValue struct {
	Type     string          `json:"type"`
	GroupID  int             `json:"group_id"`
	Readings []SensorReading `json:"readings"`
}

// DriverValue is a snapshot of every driver's logic level, indexed by driver ID.
type DriverValue struct {
	Type   string `json:"type"`
	Values []bool `json:"values"`
}

// ErrorMessage reports a recoverable fault to the operator.
type ErrorMessage struct {
	Type       string `json:"type"`
	Cause      Cause  `json:"cause"`
	Diagnostic string `json:"diagnostic"`
}

// Cause discriminates the error taxonomy on its Type field.
type Cause struct {
	Type string `json:"type"`
	// SensorID accompanies a SensorFail cause.
	SensorID *int `json:"sensor_id,omitempty"`
	// OriginalMessage accompanies a Malformed cause.
	OriginalMessage string `json:"original_message,omitempty"`
}

// Cause types.
const (
	CauseMalformed  = "Malformed"
	CauseSensorFail = "SensorFail"
	CausePermission = "Permission"
)

func (ConfigMessage) message() {}
func (SensorValue) message()   {}
func (DriverValue) message()   {}
func (ErrorMessage) message()  {}

// NewConfig builds the connection greeting.
func NewConfig(cfg *config.Config) ConfigMessage {
	return ConfigMessage{Type: "Config", Config: cfg}
}

// NewSensorValue builds a reading batch for one group.
func NewSensorValue(groupID int, readings []SensorReading) SensorValue {
	return SensorValue{Type: "SensorValue", GroupID: groupID, Readings: readings}
}

// NewDriverValue builds a driver level snapshot.
func NewDriverValue(values []bool) DriverValue {
	return DriverValue{Type: "DriverValue", Values: values}
}

// NewMalformed reports a message that could not be understood.
func NewMalformed(original, diagnostic string) ErrorMessage {
	return ErrorMessage{
		Type:       "Error",
		Cause:      Cause{Type: CauseMalformed, OriginalMessage: original},
		Diagnostic: diagnostic,
	}
}

// NewSensorFail reports a failed or out-of-range sensor.
func NewSensorFail(sensorID int, diagnostic string) ErrorMessage {
	id := sensorID
	return ErrorMessage{
		Type:       "Error",
		Cause:      Cause{Type: CauseSensorFail, SensorID: &id},
		Diagnostic: diagnostic,
	}
}

// NewPermission reports an I/O permission failure.
func NewPermission(diagnostic string) ErrorMessage {
	return ErrorMessage{
		Type:       "Error",
		Cause:      Cause{Type: CausePermission},
		Diagnostic: diagnostic,
	}
}
