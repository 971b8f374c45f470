package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version embedded into every envelope.
const Version = "v1"

// Wire-stable envelope types.
const (
	// TypeHello starts the handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck answers hello with the connection id (server -> client).
	TypeHelloAck = "hello_ack"
	// TypePing is an application-level keepalive (client -> server).
	TypePing = "ping"
	// TypePong answers ping (server -> client).
	TypePong = "pong"
	// TypeSecurityAlert pushes a security notice to the account's devices (server -> client).
	TypeSecurityAlert = "security_alert"
	// TypeError reports a protocol problem (server -> client).
	TypeError = "error"
)

// Envelope is the wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the fields a client envelope must carry.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	switch e.Type {
	case TypeHello, TypePing:
		return nil
	case "":
		return errors.New("missing field: type")
	}
	return fmt.Errorf("unsupported type: %s", e.Type)
}

// HelloAckPayload identifies the connection.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id,omitempty"`
}

// AlertPayload is the body of a security_alert envelope.
type AlertPayload struct {
	Kind     string    `json:"kind"`
	Message  string    `json:"message"`
	DeviceID string    `json:"device_id,omitempty"`
	At       time.Time `json:"at"`
}

// ErrorPayload is the body of an error envelope.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newEnvelope(typ string, payload any, ts time.Time) Envelope {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	id, err := NewEnvelopeID(ts)
	if err != nil {
		id = ""
	}
	return Envelope{V: Version, Type: typ, ID: id, TS: ts, Payload: raw}
}
