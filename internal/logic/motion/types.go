package motion

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrInvalidMove is returned for commands that can never be executed:
	// bad numbers, unknown axis or kind, or a move past the origin under the
	// signed position policy.
	ErrInvalidMove = errors.New("invalid move")
	// ErrHalted is returned when a move is submitted after a failure has
	// stopped the controller.
	ErrHalted = errors.New("controller halted")
	// ErrClosed is returned when the controller is no longer running.
	ErrClosed = errors.New("controller closed")
)

// Axis identifies one of the two gimbal axes.
type Axis int

const (
	Pan Axis = iota
	Tilt
)

func (a Axis) String() string {
	switch a {
	case Pan:
		return "pan"
	case Tilt:
		return "tilt"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

func (a Axis) valid() bool { return a == Pan || a == Tilt }

// ParseAxis accepts "pan" or "tilt", case-insensitively.
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pan":
		return Pan, nil
	case "tilt":
		return Tilt, nil
	}
	return 0, fmt.Errorf("%w: unknown axis %q", ErrInvalidMove, s)
}

// Move is a relative rotation of one axis.
type Move struct {
	Degrees  float32 `json:"degrees"`  // >= 0
	Velocity float32 `json:"velocity"` // degrees per second, > 0
	Fwd      bool    `json:"fwd"`
}

// Validate reports why m cannot be executed, wrapping ErrInvalidMove.
func (m Move) Validate() error {
	d, v := float64(m.Degrees), float64(m.Velocity)
	switch {
	case math.IsNaN(d) || math.IsInf(d, 0):
		return fmt.Errorf("%w: degrees must be finite, got %v", ErrInvalidMove, m.Degrees)
	case d < 0:
		return fmt.Errorf("%w: degrees must be >= 0, got %v", ErrInvalidMove, m.Degrees)
	case math.IsNaN(v) || math.IsInf(v, 0):
		return fmt.Errorf("%w: velocity must be finite, got %v", ErrInvalidMove, m.Velocity)
	case v <= 0:
		return fmt.Errorf("%w: velocity must be > 0, got %v", ErrInvalidMove, m.Velocity)
	}
	return nil
}

func (m Move) direction() string {
	if m.Fwd {
		return "fwd"
	}
	return "rev"
}

// CmdKind tags a Cmd.
type CmdKind int

const (
	CmdProcessMove CmdKind = iota
	CmdClearQueue
)

func (k CmdKind) String() string {
	switch k {
	case CmdProcessMove:
		return "process_move"
	case CmdClearQueue:
		return "clear_queue"
	default:
		return fmt.Sprintf("cmd(%d)", int(k))
	}
}

// Cmd is one instruction for the controller. Axis and Move are only
// meaningful for CmdProcessMove.
type Cmd struct {
	Kind CmdKind
	Axis Axis
	Move Move
}

// ProcessMove builds a move command.
func ProcessMove(axis Axis, m Move) Cmd {
	return Cmd{Kind: CmdProcessMove, Axis: axis, Move: m}
}

// ClearQueue builds a command that drops every pending command.
func ClearQueue() Cmd {
	return Cmd{Kind: CmdClearQueue}
}

// Validate checks the command shape and, for moves, the move itself.
func (c Cmd) Validate() error {
	switch c.Kind {
	case CmdClearQueue:
		return nil
	case CmdProcessMove:
		if !c.Axis.valid() {
			return fmt.Errorf("%w: unknown axis %v", ErrInvalidMove, c.Axis)
		}
		return c.Move.Validate()
	default:
		return fmt.Errorf("%w: unknown command %v", ErrInvalidMove, c.Kind)
	}
}

func (c Cmd) String() string {
	if c.Kind == CmdClearQueue {
		return c.Kind.String()
	}
	return fmt.Sprintf("%s %s %.2f° @ %.2f°/s %s", c.Kind, c.Axis, c.Move.Degrees, c.Move.Velocity, c.Move.direction())
}

// State is the controller lifecycle state.
type State int

const (
	// Ready executes moves.
	Ready State = iota
	// Halted drops moves until the process restarts.
	Halted
)

func (s State) String() string {
	if s == Halted {
		return "halted"
	}
	return "ready"
}

// MarshalText makes State render as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses "ready" or "halted".
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ready":
		*s = Ready
	case "halted":
		*s = Halted
	default:
		return fmt.Errorf("unknown state %q", b)
	}
	return nil
}

// PositionPolicy decides how reverse moves affect the step counters.
type PositionPolicy string

const (
	// Additive counts every executed step, whatever the direction.
	Additive PositionPolicy = "additive"
	// Signed subtracts reverse steps and refuses to go below step 0.
	Signed PositionPolicy = "signed"
)

// ParsePositionPolicy accepts "additive", "signed" or "" (additive).
func ParsePositionPolicy(s string) (PositionPolicy, error) {
	switch p := PositionPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return Additive, nil
	case Additive, Signed:
		return p, nil
	}
	return "", fmt.Errorf("unknown position policy %q (want additive or signed)", s)
}

// Snapshot is a copy of the controller state, safe to read from any goroutine.
type Snapshot struct {
	PanSteps  uint32 `json:"pan_steps"`
	TiltSteps uint32 `json:"tilt_steps"`
	State     State  `json:"state"`
	LastError string `json:"last_error,omitempty"`
	Queued    int    `json:"queued"`
	Applied   uint64 `json:"applied"`
	Dropped   uint64 `json:"dropped"`
	Rejected  uint64 `json:"rejected"`
	Cleared   uint64 `json:"cleared"`
}

// Steps returns the step counter of an axis.
func (s Snapshot) Steps(a Axis) uint32 {
	if a == Tilt {
		return s.TiltSteps
	}
	return s.PanSteps
}
