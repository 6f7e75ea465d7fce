// internal/protocol/commands.go
package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Command types.
const (
	CmdActuate       = "Actuate"
	CmdIgnition      = "Ignition"
	CmdEmergencyStop = "EmergencyStop"
)

// Command is one parsed dashboard request.
type Command struct {
	Type string
	// Actuate variant.
	DriverID int
	Value    bool
}

func (c Command) String() string {
	if c.Type == CmdActuate {
		return fmt.Sprintf("actuate %d %t", c.DriverID, c.Value)
	}
	if c.Type == CmdEmergencyStop {
		return "estop"
	}
	return "ignition"
}

// ParseCommand decodes one raw JSON object into a Command.
func ParseCommand(raw []byte) (Command, error) {
	var envelope struct {
		Type     string `json:"type"`
		DriverID *int   `json:"driver_id"`
		Value    *bool  `json:"value"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Command{}, fmt.Errorf("protocol: illegal JSON: %w", err)
	}
	switch envelope.Type {
	case CmdActuate:
		if envelope.DriverID == nil || envelope.Value == nil {
			return Command{}, fmt.Errorf("protocol: actuate requires driver_id and value")
		}
		return Command{Type: CmdActuate, DriverID: *envelope.DriverID, Value: *envelope.Value}, nil
	case CmdIgnition:
		return Command{Type: CmdIgnition}, nil
	case CmdEmergencyStop:
		return Command{Type: CmdEmergencyStop}, nil
	}
	return Command{}, fmt.Errorf("protocol: unknown command type %q", envelope.Type)
}

// Scanner extracts whitespace-separated top-level JSON objects from a stream.
// It tracks brace depth and string literals rather than decoding, so one
// malformed object does not lose the rest of the stream.
type Scanner struct {
	r *bufio.Reader
}

// NewScanner wraps a stream of inbound bytes.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReader(r)}
}

// MalformedError reports bytes that arrived where a JSON object was
// expected. The scanner has already consumed them and resynchronizes on the
// next opening brace; the caller decides how to report them.
type MalformedError struct {
	Bytes []byte
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("protocol: %d bytes do not begin a JSON object", len(e.Bytes))
}

// Next returns the bytes of the next top-level JSON object, including both
// outer braces. Whitespace between objects is skipped; any other bytes
// before the opening brace are returned as a *MalformedError, with the
// stream left positioned at the object. Returns io.EOF once the stream ends.
func (s *Scanner) Next() ([]byte, error) {
	// Skip to the opening brace.
	var stray []byte
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			if len(stray) > 0 {
				return nil, &MalformedError{Bytes: stray}
			}
			return nil, err
		}
		if c == '{' {
			if err := s.r.UnreadByte(); err != nil {
				return nil, err
			}
			if len(stray) > 0 {
				return nil, &MalformedError{Bytes: stray}
			}
			break
		}
		switch c {
		case ' ', '\t', '\n', '\r':
		default:
			stray = append(stray, c)
		}
	}

	var (
		buf      []byte
		depth    int
		inString bool
		escaped  bool
	)
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf = append(buf, c)
		switch c {
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return buf, nil
				}
			}
		case '"':
			if !escaped {
				inString = !inString
			}
		}
		escaped = c == '\\' && !escaped
	}
}
