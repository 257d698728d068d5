package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/cjeanneret/gimbal/internal/config"
	"github.com/cjeanneret/gimbal/internal/debug"
	"github.com/cjeanneret/gimbal/internal/hw/gpio"
	"github.com/cjeanneret/gimbal/internal/hw/serial"
	"github.com/cjeanneret/gimbal/internal/hw/stepper"
	"github.com/cjeanneret/gimbal/internal/hw/tmc"
	"github.com/cjeanneret/gimbal/internal/logic/motion"
	"github.com/cjeanneret/gimbal/internal/logic/scheduler"
	"github.com/cjeanneret/gimbal/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	flag.Parse()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid -config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	a, err := newApp(cfg)
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}
	debug.Summary("Gimbal ready")

	if err := runApp(ctx, a, resolveWebPort(webPort.port(), cfg.Web.Port)); err != nil {
		log.Fatalf("gimbal: %v", err)
	}
	debug.Section("Stopped")
}

// runApp runs a and releases its hardware before returning, so the drivers
// are disabled even when main exits through log.Fatalf.
func runApp(ctx context.Context, a *app, webPort int) error {
	defer a.Close()
	return a.Run(ctx, webPort)
}

// app holds the hardware and the long-lived tasks.
type app struct {
	gpio   gpio.Driver
	pan    *stepper.Stepper
	tilt   *stepper.Stepper
	port   serial.Port
	link   *tmc.Link
	ctrl   *motion.Controller
	status *web.StatusBroadcaster
}

// newApp opens the hardware described by cfg. Close releases it.
func newApp(cfg *config.Config) (*app, error) {
	a := &app{status: web.NewStatusBroadcaster()}

	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	g, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return nil, fmt.Errorf("init GPIO: %w", err)
	}
	a.gpio = g

	debug.Step(2, "Initializing stepper motors")
	if a.pan, err = newAxis(g, "pan", cfg.Pan); err != nil {
		a.Close()
		return nil, err
	}
	debug.PrintStruct("Pan axis config", cfg.Pan)
	if a.tilt, err = newAxis(g, "tilt", cfg.Tilt); err != nil {
		a.Close()
		return nil, err
	}
	debug.PrintStruct("Tilt axis config", cfg.Tilt)

	debug.Step(3, "Opening driver UART")
	debug.Value("Mock serial", cfg.Serial.Mock)
	if cfg.Serial.Mock {
		a.port = tmc.NewSimulator(cfg.Serial.Node, cfg.ReadTimeout())
	} else {
		a.port, err = serial.Open(serial.Config{
			Device:      cfg.Serial.Device,
			BaudRate:    cfg.Serial.BaudRate,
			ReadTimeout: cfg.ReadTimeout(),
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init serial: %w", err)
		}
	}

	regs, err := cfg.DriverSettings().Registers()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("driver settings: %w", err)
	}
	a.link = tmc.NewLink(tmc.LinkConfig{
		Node:      cfg.Serial.Node,
		Heartbeat: cfg.Heartbeat(),
		Init:      regs,
	})

	debug.Step(4, "Creating motion controller")
	a.ctrl, err = motion.NewController(motion.Config{
		Pan:             motion.AxisConfig{Pulser: a.pan, Gear: cfg.Pan.Gear()},
		Tilt:            motion.AxisConfig{Pulser: a.tilt, Gear: cfg.Tilt.Gear()},
		FullStepsPerRev: cfg.FullStepsPerRev(),
		PollInterval:    cfg.PollInterval(),
		QueueCapacity:   cfg.Dispatch.QueueCapacity,
		Policy:          cfg.PositionPolicy(),
		OnSnapshot:      func(s motion.Snapshot) { a.status.BroadcastStatus(s) },
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init controller: %w", err)
	}
	return a, nil
}

func newAxis(g gpio.Driver, name string, cfg config.AxisConfig) (*stepper.Stepper, error) {
	if cfg.EndstopPin > 0 {
		if err := g.SetupPin(cfg.EndstopPin, gpio.Input); err != nil {
			debug.Warn("%s endstop pin %d: %v", name, cfg.EndstopPin, err)
		}
	}
	return stepper.NewStepper(g, stepper.Config{
		Name:      name,
		StepPin:   cfg.StepPin,
		DirPin:    cfg.DirPin,
		EnablePin: cfg.EnablePin,
	})
}

// Run starts the controller, the driver link tasks and, when webPort > 0,
// the web server. It returns once all of them have stopped.
func (a *app) Run(ctx context.Context, webPort int) error {
	tx, rx := serial.Split(a.port)
	tasks := []scheduler.Named{
		{Name: "controller", Task: a.ctrl.Run},
		{Name: "tmc writer", Task: a.link.Writer(tx)},
		{Name: "tmc reader", Task: a.link.Reader(rx)},
	}

	if webPort > 0 {
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(a.status)))
		defer debug.SetOutput(os.Stdout)
		srv, err := web.NewServer(fmt.Sprintf(":%d", webPort), a.status, a.ctrl, a.link)
		if err != nil {
			return err
		}
		tasks = append(tasks, scheduler.Named{Name: "web", Task: srv.Run})
	}

	debug.Section("Running")
	err := scheduler.RunNamed(ctx, tasks...)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close disables the drivers and releases the UART and GPIO.
func (a *app) Close() {
	for _, s := range []*stepper.Stepper{a.pan, a.tilt} {
		if s == nil {
			continue
		}
		if err := s.Disable(); err != nil {
			log.Printf("disabling %s driver failed: %v", s.Name(), err)
		}
	}
	if a.port != nil {
		if err := a.port.Close(); err != nil {
			log.Printf("closing serial port failed: %v", err)
		}
	}
	if a.gpio != nil {
		if err := a.gpio.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}
}

// resolveWebPort prefers the -web flag over the config file. 0 disables the
// server.
func resolveWebPort(flagPort, cfgPort int) int {
	if flagPort > 0 {
		return flagPort
	}
	return cfgPort
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
