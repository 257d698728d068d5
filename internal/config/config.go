package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/gimbal/internal/hw/tmc"
	"github.com/cjeanneret/gimbal/internal/logic/kinematics"
	"github.com/cjeanneret/gimbal/internal/logic/motion"
)

// MaxConfigFileBytes caps the size of a config file.
const MaxConfigFileBytes = 64 * 1024

// AxisConfig holds the wiring and gearing of one axis.
type AxisConfig struct {
	StepPin     int    `yaml:"step_pin"`
	DirPin      int    `yaml:"dir_pin"`
	EnablePin   int    `yaml:"enable_pin"`   // driver EN pin (BCM). 0 = not used. Active LOW.
	EndstopPin  int    `yaml:"endstop_pin"`  // set up as input, not used by the motion logic. 0 = none.
	DriveTeeth  uint16 `yaml:"drive_teeth"`  // pulley on the motor
	DrivenTeeth uint16 `yaml:"driven_teeth"` // pulley on the axis
}

// Gear returns the axis reduction.
func (a AxisConfig) Gear() kinematics.Gear {
	return kinematics.Gear{DriveTeeth: a.DriveTeeth, DrivenTeeth: a.DrivenTeeth}
}

// MotorConfig describes the steppers (both axes use the same model).
type MotorConfig struct {
	FullStepsPerRev uint32 `yaml:"full_steps_per_rev"` // 200 for 1.8° motors
	Microsteps      int    `yaml:"microsteps"`         // 1..256, power of two
}

// SerialConfig describes the UART link to the driver chip.
type SerialConfig struct {
	Device        string `yaml:"device" env:"GIMBAL_SERIAL_DEVICE"`
	BaudRate      int    `yaml:"baud_rate" env:"GIMBAL_SERIAL_BAUD"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms"`
	Node          uint8  `yaml:"node"`         // driver address, 0..3
	HeartbeatMs   int    `yaml:"heartbeat_ms"` // writer period

	// Mock replaces the UART with the built-in driver simulator.
	Mock bool `yaml:"mock" env:"GIMBAL_MOCK_SERIAL"`
}

// DriverConfig holds the TMC2209 settings written over UART.
type DriverConfig struct {
	RunCurrent  int  `yaml:"run_current"`  // IRUN 0..31
	HoldCurrent int  `yaml:"hold_current"` // IHOLD 0..31
	HoldDelay   int  `yaml:"hold_delay"`   // IHOLDDELAY 0..15
	Shaft       bool `yaml:"shaft"`
	SpreadCycle bool `yaml:"spread_cycle"`
}

// DispatchConfig tunes the command loop.
type DispatchConfig struct {
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	QueueCapacity  int    `yaml:"queue_capacity"`
	PositionPolicy string `yaml:"position_policy"` // additive | signed
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level" env:"GIMBAL_DEBUG_LEVEL"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio" env:"GIMBAL_MOCK_GPIO"`     // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// WebConfig configures the optional HTTP server.
type WebConfig struct {
	Port int `yaml:"port" env:"GIMBAL_WEB_PORT"` // 0 = disabled unless -web is given
}

// Config aggregates all application configuration.
type Config struct {
	Pan      AxisConfig     `yaml:"pan"`
	Tilt     AxisConfig     `yaml:"tilt"`
	Motor    MotorConfig    `yaml:"motor"`
	Serial   SerialConfig   `yaml:"serial"`
	Driver   DriverConfig   `yaml:"driver"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Web      WebConfig      `yaml:"web"`
}

// ValidateConfigPath rejects config paths that are not a .yaml file directly
// inside a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have a .yaml extension: %q", path)
	}
	for _, part := range strings.Split(filepath.ToSlash(clean), "/") {
		if part == ".." {
			return fmt.Errorf("config path must not leave its directory: %q", path)
		}
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config file must be inside a configs/ directory: %q", path)
	}
	return nil
}

// Load reads a YAML file, applies environment overrides and defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file larger than %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Motor.FullStepsPerRev == 0 {
		c.Motor.FullStepsPerRev = kinematics.MotorFullSteps
	}
	if c.Motor.Microsteps == 0 {
		c.Motor.Microsteps = 1
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = 115200
	}
	if c.Serial.ReadTimeoutMs <= 0 {
		c.Serial.ReadTimeoutMs = 5
	}
	if c.Serial.HeartbeatMs <= 0 {
		c.Serial.HeartbeatMs = 5000
	}
	if c.Driver.RunCurrent == 0 && c.Driver.HoldCurrent == 0 {
		d := tmc.DefaultSettings()
		c.Driver.RunCurrent = d.RunCurrent
		c.Driver.HoldCurrent = d.HoldCurrent
		c.Driver.HoldDelay = d.HoldDelay
	}
	if c.Dispatch.PollIntervalMs <= 0 {
		c.Dispatch.PollIntervalMs = 100
	}
	if c.Dispatch.QueueCapacity <= 0 {
		c.Dispatch.QueueCapacity = 64
	}
	if c.Dispatch.PositionPolicy == "" {
		c.Dispatch.PositionPolicy = string(motion.Additive)
	}
}

// Validate checks values that defaults cannot fix.
func (c *Config) Validate() error {
	if err := c.Pan.Gear().Validate(); err != nil {
		return fmt.Errorf("pan: %w", err)
	}
	if err := c.Tilt.Gear().Validate(); err != nil {
		return fmt.Errorf("tilt: %w", err)
	}
	if _, err := tmc.MRES(c.Motor.Microsteps); err != nil {
		return fmt.Errorf("motor.microsteps: %w", err)
	}
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be > 0, got %d", c.Serial.BaudRate)
	}
	if c.Serial.Node > 3 {
		return fmt.Errorf("serial.node must be 0..3, got %d", c.Serial.Node)
	}
	if !c.Serial.Mock && c.Serial.Device == "" {
		return errors.New("serial.device is required unless serial.mock is set")
	}
	if _, err := c.DriverSettings().Registers(); err != nil {
		return fmt.Errorf("driver: %w", err)
	}
	if _, err := motion.ParsePositionPolicy(c.Dispatch.PositionPolicy); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port must be between 0 and 65535, got %d", c.Web.Port)
	}
	return nil
}

// FullStepsPerRev returns motor full steps times the microstep factor.
func (c *Config) FullStepsPerRev() uint32 {
	return c.Motor.FullStepsPerRev * uint32(c.Motor.Microsteps)
}

// PollInterval returns the dispatch loop period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Dispatch.PollIntervalMs) * time.Millisecond
}

// ReadTimeout returns the serial read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Serial.ReadTimeoutMs) * time.Millisecond
}

// Heartbeat returns the driver writer period.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.Serial.HeartbeatMs) * time.Millisecond
}

// PositionPolicy returns the parsed position policy.
func (c *Config) PositionPolicy() motion.PositionPolicy {
	p, _ := motion.ParsePositionPolicy(c.Dispatch.PositionPolicy)
	return p
}

// DriverSettings returns the register settings for the driver chip.
func (c *Config) DriverSettings() tmc.Settings {
	return tmc.Settings{
		Microsteps:  c.Motor.Microsteps,
		RunCurrent:  c.Driver.RunCurrent,
		HoldCurrent: c.Driver.HoldCurrent,
		HoldDelay:   c.Driver.HoldDelay,
		Shaft:       c.Driver.Shaft,
		SpreadCycle: c.Driver.SpreadCycle,
	}
}
