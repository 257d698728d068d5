package stepper

import (
	"errors"
	"testing"
	"time"

	"github.com/cjeanneret/gimbal/internal/hw/gpio"
)

// recordingDriver records GPIO calls for verification.
type recordingDriver struct {
	calls     []gpioCall
	failPin   int // WritePin on this pin fails; 0 = never
	failSetup int // SetupPin on this pin fails; 0 = never
}

type gpioCall struct {
	op    string // "setup", "write"
	pin   int
	level gpio.Level
}

var (
	errWrite = errors.New("gpio write failed")
	errSetup = errors.New("gpio setup failed")
)

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	if d.failSetup != 0 && pin == d.failSetup {
		return errSetup
	}
	d.calls = append(d.calls, gpioCall{op: "setup", pin: pin})
	return nil
}

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	if d.failPin != 0 && pin == d.failPin {
		return errWrite
	}
	d.calls = append(d.calls, gpioCall{op: "write", pin: pin, level: level})
	return nil
}

func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	return gpio.Low, nil
}

func (d *recordingDriver) Close() error {
	return nil
}

func (d *recordingDriver) writeCalls() []gpioCall {
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" {
			result = append(result, c)
		}
	}
	return result
}

func (d *recordingDriver) writeCallsForPin(pin int) []gpioCall {
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" && c.pin == pin {
			result = append(result, c)
		}
	}
	return result
}

var panConfig = Config{
	Name:      "pan",
	StepPin:   15,
	DirPin:    14,
	EnablePin: 5,
}

// newTestStepper returns a stepper whose waits are recorded instead of spun.
func newTestStepper(t *testing.T, drv *recordingDriver, cfg Config) (*Stepper, *[]time.Duration) {
	t.Helper()
	s, err := NewStepper(drv, cfg)
	if err != nil {
		t.Fatalf("NewStepper: %v", err)
	}
	var waits []time.Duration
	s.wait = func(d time.Duration) { waits = append(waits, d) }
	drv.calls = nil // reset after init
	return s, &waits
}

func countHigh(calls []gpioCall, pin int) int {
	n := 0
	for _, c := range calls {
		if c.pin == pin && c.level == gpio.High {
			n++
		}
	}
	return n
}

func TestStepper_PulseForward(t *testing.T) {
	drv := &recordingDriver{}
	s, _ := newTestStepper(t, drv, panConfig)

	if err := s.Pulse(true, 10, 1000); err != nil {
		t.Fatalf("Pulse: %v", err)
	}

	writes := drv.writeCalls()
	if len(writes) == 0 {
		t.Fatal("expected GPIO write calls")
	}
	if writes[0].pin != panConfig.DirPin || writes[0].level != gpio.High {
		t.Errorf("first write should set dir pin HIGH, got pin=%d level=%v", writes[0].pin, writes[0].level)
	}
	if got := countHigh(writes, panConfig.StepPin); got != 10 {
		t.Errorf("expected 10 step pulses, got %d", got)
	}
}

func TestStepper_PulseReverse(t *testing.T) {
	drv := &recordingDriver{}
	s, _ := newTestStepper(t, drv, panConfig)

	if err := s.Pulse(false, 5, 1000); err != nil {
		t.Fatalf("Pulse: %v", err)
	}

	writes := drv.writeCalls()
	if writes[0].pin != panConfig.DirPin || writes[0].level != gpio.Low {
		t.Errorf("first write should set dir pin LOW, got pin=%d level=%v", writes[0].pin, writes[0].level)
	}
	if got := countHigh(writes, panConfig.StepPin); got != 5 {
		t.Errorf("expected 5 step pulses, got %d", got)
	}
}

func TestStepper_DirectionPolarityIsAxisIndependent(t *testing.T) {
	tiltConfig := Config{Name: "tilt", StepPin: 26, DirPin: 21}
	for _, cfg := range []Config{panConfig, tiltConfig} {
		drv := &recordingDriver{}
		s, _ := newTestStepper(t, drv, cfg)
		_ = s.Pulse(true, 1, 1000)
		dir := drv.writeCallsForPin(cfg.DirPin)
		if len(dir) != 1 || dir[0].level != gpio.High {
			t.Errorf("%s: fwd should drive dir HIGH, got %v", cfg.Name, dir)
		}
	}
}

func TestStepper_ZeroRateIsNoop(t *testing.T) {
	drv := &recordingDriver{}
	s, waits := newTestStepper(t, drv, panConfig)

	if err := s.Pulse(true, 50, 0); err != nil {
		t.Fatalf("Pulse: %v", err)
	}
	if got := len(drv.writeCallsForPin(panConfig.StepPin)); got != 0 {
		t.Errorf("zero rate should emit no step writes, got %d", got)
	}
	if len(*waits) != 0 {
		t.Errorf("zero rate should not wait, got %d waits", len(*waits))
	}
}

func TestStepper_ZeroSteps(t *testing.T) {
	drv := &recordingDriver{}
	s, _ := newTestStepper(t, drv, panConfig)

	if err := s.Pulse(true, 0, 1000); err != nil {
		t.Fatalf("Pulse: %v", err)
	}
	if got := len(drv.writeCallsForPin(panConfig.StepPin)); got != 0 {
		t.Errorf("zero steps should emit no step writes, got %d", got)
	}
}

func TestStepper_HalfPeriodTiming(t *testing.T) {
	drv := &recordingDriver{}
	s, waits := newTestStepper(t, drv, panConfig)

	// 1000 steps/s -> 1ms period -> 500µs high, 500µs low
	if err := s.Pulse(true, 3, 1000); err != nil {
		t.Fatalf("Pulse: %v", err)
	}
	if len(*waits) != 6 {
		t.Fatalf("expected 6 waits for 3 pulses, got %d", len(*waits))
	}
	for i, w := range *waits {
		if w != 500*time.Microsecond {
			t.Errorf("wait[%d] = %v, want 500µs", i, w)
		}
	}
}

func TestStepper_StepPulsePattern(t *testing.T) {
	drv := &recordingDriver{}
	s, _ := newTestStepper(t, drv, panConfig)

	_ = s.Pulse(true, 1, 1000)

	stepCalls := drv.writeCallsForPin(panConfig.StepPin)
	if len(stepCalls) != 2 {
		t.Fatalf("single step should produce 2 writes on step pin, got %d", len(stepCalls))
	}
	if stepCalls[0].level != gpio.High {
		t.Error("first edge should be HIGH")
	}
	if stepCalls[1].level != gpio.Low {
		t.Error("second edge should be LOW")
	}
}

func TestStepper_WriteErrorAbortsTrain(t *testing.T) {
	drv := &recordingDriver{failPin: panConfig.StepPin}
	s, _ := newTestStepper(t, drv, panConfig)

	err := s.Pulse(true, 10, 1000)
	if !errors.Is(err, errWrite) {
		t.Fatalf("Pulse err = %v, want errWrite", err)
	}
}

func TestStepper_EnableDisable(t *testing.T) {
	drv := &recordingDriver{}
	s, _ := newTestStepper(t, drv, panConfig)

	if err := s.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	enableCalls := drv.writeCallsForPin(panConfig.EnablePin)
	if len(enableCalls) != 1 || enableCalls[0].level != gpio.Low {
		t.Errorf("Enable should write LOW to enable pin, got %v", enableCalls)
	}

	drv.calls = nil
	if err := s.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	disableCalls := drv.writeCallsForPin(panConfig.EnablePin)
	if len(disableCalls) != 1 || disableCalls[0].level != gpio.High {
		t.Errorf("Disable should write HIGH to enable pin, got %v", disableCalls)
	}
}

func TestStepper_EnableDisable_NoEnablePin(t *testing.T) {
	drv := &recordingDriver{}
	cfg := panConfig
	cfg.EnablePin = 0
	s, _ := newTestStepper(t, drv, cfg)

	if err := s.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := s.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if len(drv.calls) != 0 {
		t.Errorf("with EnablePin=0, Enable/Disable should produce no GPIO calls, got %d", len(drv.calls))
	}
}

func TestNewStepper_EnablesDriver(t *testing.T) {
	drv := &recordingDriver{}
	if _, err := NewStepper(drv, panConfig); err != nil {
		t.Fatalf("NewStepper: %v", err)
	}
	en := drv.writeCallsForPin(panConfig.EnablePin)
	if len(en) != 1 || en[0].level != gpio.Low {
		t.Errorf("NewStepper should enable the driver, got %v", en)
	}
}

func TestNewStepper_PinErrors(t *testing.T) {
	cases := []struct {
		name string
		drv  *recordingDriver
		want error
	}{
		{"step_setup", &recordingDriver{failSetup: panConfig.StepPin}, errSetup},
		{"dir_setup", &recordingDriver{failSetup: panConfig.DirPin}, errSetup},
		{"enable_setup", &recordingDriver{failSetup: panConfig.EnablePin}, errSetup},
		{"enable_write", &recordingDriver{failPin: panConfig.EnablePin}, errWrite},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := NewStepper(tc.drv, panConfig)
			if !errors.Is(err, tc.want) {
				t.Errorf("NewStepper error = %v, want %v", err, tc.want)
			}
			if s != nil {
				t.Error("NewStepper returned a stepper along with an error")
			}
		})
	}
}

func TestBusyWait_WaitsAtLeastDuration(t *testing.T) {
	start := time.Now()
	BusyWait(200 * time.Microsecond)
	if elapsed := time.Since(start); elapsed < 200*time.Microsecond {
		t.Errorf("BusyWait returned after %v, want >= 200µs", elapsed)
	}
}
