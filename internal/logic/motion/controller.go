// Package motion owns the gimbal state. A single Controller goroutine
// receives commands, queues them, and turns moves into step pulse trains,
// one per poll tick. Other goroutines only submit commands and read
// published snapshots.
package motion

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/gimbal/internal/debug"
	"github.com/cjeanneret/gimbal/internal/logic/kinematics"
)

// Pulser drives one axis motor. *stepper.Stepper implements it.
type Pulser interface {
	Pulse(fwd bool, numSteps, stepsPerSecond uint32) error
}

// AxisConfig is the hardware of one axis.
type AxisConfig struct {
	Pulser Pulser
	Gear   kinematics.Gear
}

// Config holds everything the controller needs. It is fixed at startup.
type Config struct {
	Pan, Tilt       AxisConfig
	FullStepsPerRev uint32         // motor full steps times microsteps
	PollInterval    time.Duration  // default 100ms
	QueueCapacity   int            // pending commands before Submit blocks, default 64
	Policy          PositionPolicy // default Additive

	// OnSnapshot, if set, is called from the controller goroutine after each
	// state change. It must not block.
	OnSnapshot func(Snapshot)
}

type axis struct {
	pulser Pulser
	spd    float32 // steps per degree
}

// pending is a queued move tagged with the number of clears requested
// before it was submitted.
type pending struct {
	cmd Cmd
	gen uint64
}

// Controller is the single owner of the gimbal position and command queue.
type Controller struct {
	cfg   Config
	inbox chan pending
	done  chan struct{}
	snap  atomic.Pointer[Snapshot]

	// ClearQueue bypasses the inbox so a full queue cannot hold it back.
	clears   atomic.Uint64
	clearSig chan struct{}

	running atomic.Bool

	// owned by the Run goroutine
	axes       [2]axis
	queue      []pending
	seenClears uint64
	pos        [2]uint32
	state      State
	lastErr    string
	applied    uint64
	dropped    uint64
	rejected   uint64
	cleared    uint64
}

// NewController validates cfg and returns a controller in the Ready state.
// Call Run to start processing.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Pan.Pulser == nil || cfg.Tilt.Pulser == nil {
		return nil, errors.New("both axes need a pulse generator")
	}
	if err := cfg.Pan.Gear.Validate(); err != nil {
		return nil, fmt.Errorf("pan gear: %w", err)
	}
	if err := cfg.Tilt.Gear.Validate(); err != nil {
		return nil, fmt.Errorf("tilt gear: %w", err)
	}
	if cfg.FullStepsPerRev == 0 {
		cfg.FullStepsPerRev = kinematics.MotorFullSteps
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 64
	}
	policy, err := ParsePositionPolicy(string(cfg.Policy))
	if err != nil {
		return nil, err
	}
	cfg.Policy = policy

	c := &Controller{
		cfg:      cfg,
		inbox:    make(chan pending, cfg.QueueCapacity),
		done:     make(chan struct{}),
		clearSig: make(chan struct{}, 1),
		axes: [2]axis{
			Pan:  {pulser: cfg.Pan.Pulser, spd: cfg.Pan.Gear.StepsPerDegree(cfg.FullStepsPerRev)},
			Tilt: {pulser: cfg.Tilt.Pulser, spd: cfg.Tilt.Gear.StepsPerDegree(cfg.FullStepsPerRev)},
		},
	}
	debug.Verbose("Controller: pan %.4f steps/°, tilt %.4f steps/°, policy %s",
		c.axes[Pan].spd, c.axes[Tilt].spd, cfg.Policy)
	c.publish()
	return c, nil
}

// StepsPerDegree returns the conversion factor used for an axis.
func (c *Controller) StepsPerDegree(a Axis) float32 {
	if !a.valid() {
		return 0
	}
	return c.axes[a].spd
}

// Submit validates cmd and hands it to the controller.
// Invalid commands are rejected with ErrInvalidMove and never queued; moves
// submitted while halted are rejected with ErrHalted.
//
// A move blocks while the queue is full, until ctx is done or the
// controller stops. ClearQueue never blocks: it cancels every command
// submitted before it, queued or still waiting for room, and none submitted
// after it returns.
func (c *Controller) Submit(ctx context.Context, cmd Cmd) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if cmd.Kind == CmdProcessMove && c.Snapshot().State == Halted {
		return ErrHalted
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	if cmd.Kind == CmdClearQueue {
		c.clears.Add(1)
		select {
		case c.clearSig <- struct{}{}:
		default: // a signal is already pending
		}
		debug.Verbose("Controller: accepted %v", cmd)
		return nil
	}

	select {
	case c.inbox <- pending{cmd: cmd, gen: c.clears.Load()}:
		debug.Verbose("Controller: accepted %v", cmd)
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the last published state.
func (c *Controller) Snapshot() Snapshot {
	return *c.snap.Load()
}

// Done is closed when Run has returned.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Run is the controller loop. It locks its goroutine to an OS thread so
// the busy-waited pulse trains are not interleaved with other goroutines on
// the same thread, and returns ctx.Err() when ctx is done. A started pulse
// train always runs to completion.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("controller already running")
	}
	defer close(c.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	debug.Info("Controller running (poll every %v)", c.cfg.PollInterval)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		inbox := c.inbox
		if len(c.queue) >= c.cfg.QueueCapacity {
			// full: leave moves in the channel so Submit blocks
			inbox = nil
		}
		select {
		case <-ctx.Done():
			debug.Info("Controller stopped with %d pending command(s)", len(c.queue))
			return ctx.Err()
		case <-c.clearSig:
			c.clearPending()
		case p := <-inbox:
			c.enqueue(p)
		case <-ticker.C:
			c.step()
		}
	}
}

// enqueue appends a move unless a clear was requested after it was
// submitted.
func (c *Controller) enqueue(p pending) {
	if p.gen < c.clears.Load() {
		c.cleared++
		debug.Verbose("Controller: %v cancelled by a later clear", p.cmd)
	} else {
		c.queue = append(c.queue, p)
	}
	c.publish()
}

// clearPending drops every move submitted before the latest ClearQueue,
// including moves still in the inbox. A clear cancels earlier commands, not
// later ones: moves submitted after it stay queued in order.
func (c *Controller) clearPending() {
	gen := c.clears.Load()
	c.seenClears = gen

	var n uint64
	kept := c.queue[:0]
	for _, p := range c.queue {
		if p.gen < gen {
			n++
			continue
		}
		kept = append(kept, p)
	}
	c.queue = kept

drain:
	for {
		select {
		case p := <-c.inbox:
			if p.gen < gen {
				n++
				continue
			}
			c.queue = append(c.queue, p)
		default:
			break drain
		}
	}

	c.cleared += n
	debug.Live("Queue cleared (%d pending command(s) dropped)", n)
	c.publish()
}

// step pops at most one command and applies it. A clear whose signal has
// not been handled yet is applied first.
func (c *Controller) step() {
	if c.clears.Load() != c.seenClears {
		c.clearPending()
	}
	if len(c.queue) == 0 {
		return
	}
	cmd := c.queue[0].cmd
	c.queue[0] = pending{}
	c.queue = c.queue[1:]
	if len(c.queue) == 0 {
		c.queue = nil
	}
	debug.Cmd(cmd)
	c.apply(cmd)
	c.publish()
}

func (c *Controller) apply(cmd Cmd) {
	if cmd.Kind != CmdProcessMove {
		return
	}
	if c.state == Halted {
		c.dropped++
		debug.Verbose("Controller halted, dropping %v", cmd)
		return
	}
	// Submit validates; queued commands are checked again before pulsing.
	if err := cmd.Validate(); err != nil {
		c.rejected++
		debug.Warn("Controller: %v", err)
		return
	}

	ax := c.axes[cmd.Axis]
	m := cmd.Move
	steps := kinematics.NumSteps(m.Degrees, ax.spd)
	sps := kinematics.StepsPerSecond(m.Velocity, ax.spd)

	if c.cfg.Policy == Signed && !m.Fwd && steps > c.pos[cmd.Axis] {
		c.rejected++
		debug.Warn("Controller: %v: %d reverse steps from position %d would pass the origin",
			ErrInvalidMove, steps, c.pos[cmd.Axis])
		return
	}
	if sps == 0 {
		debug.Verbose("Controller: %v resolves to 0 steps/s, nothing to do", cmd)
		c.applied++
		return
	}

	debug.Move(cmd.Axis.String(), steps, m.direction())
	start := time.Now()
	if err := ax.pulser.Pulse(m.Fwd, steps, sps); err != nil {
		c.state = Halted
		c.lastErr = fmt.Sprintf("%s move failed: %v", cmd.Axis, err)
		debug.Error(fmt.Errorf("controller halted: %s", c.lastErr))
		return
	}
	debug.Trace("Controller: %s moved %d steps in %v", cmd.Axis, steps, time.Since(start))

	if c.cfg.Policy == Signed && !m.Fwd {
		c.pos[cmd.Axis] -= steps
	} else {
		c.pos[cmd.Axis] += steps
	}
	c.applied++
}

func (c *Controller) publish() {
	s := &Snapshot{
		PanSteps:  c.pos[Pan],
		TiltSteps: c.pos[Tilt],
		State:     c.state,
		LastError: c.lastErr,
		Queued:    len(c.queue),
		Applied:   c.applied,
		Dropped:   c.dropped,
		Rejected:  c.rejected,
		Cleared:   c.cleared,
	}
	c.snap.Store(s)
	if c.cfg.OnSnapshot != nil {
		c.cfg.OnSnapshot(*s)
	}
}
