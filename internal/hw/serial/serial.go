// Package serial owns the UART link to the stepper driver chip. The link is
// opened once and split into a sending half and a receiving half, each
// handed to exactly one task.
package serial

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/cjeanneret/gimbal/internal/debug"
)

// ErrClosed is returned by a half whose link has been closed.
var ErrClosed = errors.New("serial: link closed")

// DefaultReadTimeout bounds a single read. A timed-out read returns no bytes
// and no error.
const DefaultReadTimeout = 5 * time.Millisecond

// Config describes the UART settings.
type Config struct {
	Device      string
	BaudRate    int
	ReadTimeout time.Duration
}

// Port is the subset of a serial port the link needs. go.bug.st/serial
// ports and tmc.Simulator both satisfy it.
type Port interface {
	io.Reader
	io.Writer
	Drain() error
	Close() error
}

// Open opens the device 8N1 with the configured read timeout.
func Open(cfg Config) (Port, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("serial device is required")
	}
	if cfg.BaudRate <= 0 {
		return nil, fmt.Errorf("baud rate must be > 0, got %d", cfg.BaudRate)
	}
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	debug.Info("Opening serial link %s at %d baud", cfg.Device, cfg.BaudRate)
	port, err := serial.Open(cfg.Device, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", cfg.Device, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		debug.Warn("serial: could not flush input buffer: %v", err)
	}
	return port, nil
}

// Sender is the transmitting half of a link.
type Sender struct {
	port Port
}

// Receiver is the receiving half of a link.
type Receiver struct {
	port Port
}

// Split divides a port into its two halves. The caller keeps ownership of
// the port itself and closes it once both halves are done.
func Split(p Port) (Sender, Receiver) {
	return Sender{port: p}, Receiver{port: p}
}

// Send writes a whole datagram and waits until it has left the UART.
func (s Sender) Send(p []byte) error {
	if s.port == nil {
		return ErrClosed
	}
	debug.Frame("tx", p)
	for len(p) > 0 {
		n, err := s.port.Write(p)
		if err != nil {
			return fmt.Errorf("serial write: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("serial write: %w", io.ErrShortWrite)
		}
		p = p[n:]
	}
	if err := s.port.Drain(); err != nil {
		return fmt.Errorf("serial drain: %w", err)
	}
	return nil
}

// Read reads whatever is available. A read timeout yields (0, nil).
func (r Receiver) Read(p []byte) (int, error) {
	if r.port == nil {
		return 0, ErrClosed
	}
	n, err := r.port.Read(p)
	if n > 0 {
		debug.Frame("rx", p[:n])
	}
	if err != nil {
		return n, fmt.Errorf("serial read: %w", err)
	}
	return n, nil
}
