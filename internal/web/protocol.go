package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cjeanneret/gimbal/internal/logic/motion"
)

// WebSocket message types
const (
	TypeMove   = "move"
	TypeClear  = "clear"
	TypeStatus = "status"
	TypeAck    = "ack"
	TypeError  = "error"
	TypePing   = "ping"
	TypePong   = "pong"
)

// Error codes
const (
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	ErrCodeInvalidMove    = "INVALID_MOVE"
	ErrCodeHalted         = "HALTED"
	ErrCodeUnavailable    = "UNAVAILABLE"
)

// Message is the envelope of every WebSocket message.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage creates a message with the given type and payload.
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: msgType, Payload: data}, nil
}

// ParsePayload unmarshals the payload into v.
func (m Message) ParsePayload(v any) error {
	if len(m.Payload) == 0 {
		return errors.New("missing payload")
	}
	return json.Unmarshal(m.Payload, v)
}

// MoveRequest is the body of POST /api/move and the payload of a "move"
// message.
type MoveRequest struct {
	Axis     string  `json:"axis"`
	Degrees  float32 `json:"degrees"`
	Velocity float32 `json:"velocity"`
	Fwd      bool    `json:"fwd"`
}

// Bind implements render.Binder. It only checks the request shape; the
// values are checked by the controller.
func (m *MoveRequest) Bind(r *http.Request) error {
	if m.Axis == "" {
		return errors.New("axis is required")
	}
	return nil
}

// Cmd converts the request into a controller command.
func (m MoveRequest) Cmd() (motion.Cmd, error) {
	axis, err := motion.ParseAxis(m.Axis)
	if err != nil {
		return motion.Cmd{}, err
	}
	return motion.ProcessMove(axis, motion.Move{
		Degrees:  m.Degrees,
		Velocity: m.Velocity,
		Fwd:      m.Fwd,
	}), nil
}

// AckPayload confirms a queued command.
type AckPayload struct {
	Status string `json:"status"`
	Queued int    `json:"queued"`
}

// PingPayload for ping messages
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload for pong messages
type PongPayload struct {
	ClientTimestamp int64 `json:"client_timestamp"`
	ServerTimestamp int64 `json:"server_timestamp"`
}

// ErrorPayload for error messages
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
