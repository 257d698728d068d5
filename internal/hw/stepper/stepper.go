package stepper

import (
	"fmt"
	"time"

	"github.com/cjeanneret/gimbal/internal/debug"
	"github.com/cjeanneret/gimbal/internal/hw/gpio"
	"github.com/cjeanneret/gimbal/internal/logic/kinematics"
)

// Config holds the GPIO wiring of one axis driver.
type Config struct {
	Name      string // axis name, for logs
	StepPin   int
	DirPin    int
	EnablePin int // driver EN pin (BCM). 0 = not used. Active LOW.
}

// Stepper generates step/dir pulse trains for one axis.
// Acceleration and ramping are out of scope: every pulse has the same period.
type Stepper struct {
	gpio gpio.Driver
	cfg  Config
	wait func(time.Duration)
}

// NewStepper creates a pulse generator and puts its pins in output mode.
// If an enable pin is configured the driver is enabled immediately.
func NewStepper(g gpio.Driver, cfg Config) (*Stepper, error) {
	for _, pin := range []int{cfg.StepPin, cfg.DirPin} {
		if err := g.SetupPin(pin, gpio.Output); err != nil {
			return nil, fmt.Errorf("%s: setup pin %d: %w", cfg.Name, pin, err)
		}
	}

	s := &Stepper{
		gpio: g,
		cfg:  cfg,
		wait: BusyWait,
	}

	// EN is active LOW: LOW = enabled, HIGH = disabled.
	if cfg.EnablePin > 0 {
		if err := g.SetupPin(cfg.EnablePin, gpio.Output); err != nil {
			return nil, fmt.Errorf("%s: setup enable pin %d: %w", cfg.Name, cfg.EnablePin, err)
		}
		if err := s.Enable(); err != nil {
			return nil, fmt.Errorf("%s: enable driver: %w", cfg.Name, err)
		}
	}

	return s, nil
}

// Name returns the configured axis name.
func (s *Stepper) Name() string {
	return s.cfg.Name
}

// Pulse sets the direction line and emits numSteps step pulses at
// stepsPerSecond. fwd drives the dir pin HIGH, !fwd drives it LOW, for every
// axis alike; matching that to the mechanical direction is a wiring concern.
//
// Pulse blocks for about numSteps/stepsPerSecond seconds and never yields:
// the half-period is busy-waited. A zero step rate emits no pulses.
func (s *Stepper) Pulse(fwd bool, numSteps, stepsPerSecond uint32) error {
	dirLevel := gpio.Low
	direction := "reverse"
	if fwd {
		dirLevel = gpio.High
		direction = "forward"
	}
	if err := s.gpio.WritePin(s.cfg.DirPin, dirLevel); err != nil {
		return err
	}

	if stepsPerSecond == 0 {
		debug.Verbose("Stepper %s: step rate is zero, skipping %d steps", s.cfg.Name, numSteps)
		return nil
	}

	delay := time.Duration(kinematics.HalfPeriodMicros(stepsPerSecond)) * time.Microsecond
	debug.Verbose("Stepper %s: %d steps (%s) at %d steps/s, half-period %v",
		s.cfg.Name, numSteps, direction, stepsPerSecond, delay)

	for i := uint32(0); i < numSteps; i++ {
		if err := s.stepPulse(delay); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stepper) stepPulse(delay time.Duration) error {
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	s.wait(delay)
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.Low); err != nil {
		return err
	}
	s.wait(delay)
	return nil
}

// Enable turns on the motor driver (EN=LOW). Motors hold position.
func (s *Stepper) Enable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.Low)
}

// Disable turns off the motor driver (EN=HIGH). Motors freewheel.
func (s *Stepper) Disable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.High)
}

// BusyWait spins on the monotonic clock until d has elapsed. Unlike
// time.Sleep it does not hand the thread back to the scheduler, which keeps
// pulse edges within a few microseconds of their target.
func BusyWait(d time.Duration) {
	if d <= 0 {
		return
	}
	start := time.Now()
	for time.Since(start) < d {
	}
}
