package tmc

import (
	"io"
	"sync"
	"time"
)

// Simulator behaves like a TMC2209 on a single-wire UART: every byte written
// is echoed back, write requests update its registers and bump IFCNT, and
// read requests addressed to its node are answered with a reply datagram.
// It stands in for the serial port in mock mode and in tests.
type Simulator struct {
	mu      sync.Mutex
	node    uint8
	regs    map[uint8]uint32
	rx      []byte
	dec     Decoder
	notify  chan struct{}
	timeout time.Duration
	corrupt int
	closed  bool
}

// NewSimulator returns a driver answering on node. Reads block for at most
// timeout when nothing is pending, mirroring a serial read timeout.
func NewSimulator(node uint8, timeout time.Duration) *Simulator {
	return &Simulator{
		node: node,
		regs: map[uint8]uint32{
			// TMC2209 silicon version 0x21 in IOIN[31:24]
			IOIN: 0x21 << 24,
			// power-on defaults: toff=3, hstrt=5, tbl=2, mres=0 (256 µsteps)
			CHOPCONF: 0x10000053,
			GSTAT:    0x01,
		},
		notify:  make(chan struct{}, 1),
		timeout: timeout,
	}
}

// Write accepts host datagrams.
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}

	s.rx = append(s.rx, p...) // echo
	for _, b := range p {
		f, ok := s.dec.Feed(b)
		if !ok || f.Node != s.node {
			continue
		}
		info, known := Lookup(f.Register)
		switch {
		case f.Write:
			if known && info.Access&Write == 0 {
				continue
			}
			s.regs[f.Register] = f.Value
			if f.Register == GSTAT {
				// write-1-to-clear
				s.regs[GSTAT] = 0
			}
			s.regs[IFCNT] = (s.regs[IFCNT] + 1) & 0xff
		default:
			if known && info.Access&Read == 0 {
				continue
			}
			reply := EncodeReply(f.Register, s.regs[f.Register])
			if s.corrupt > 0 {
				reply[3] ^= 0xff
				s.corrupt--
			}
			s.rx = append(s.rx, reply...)
		}
	}

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return len(p), nil
}

// Read returns pending bytes, or (0, nil) after the read timeout.
func (s *Simulator) Read(p []byte) (int, error) {
	if n, err := s.drain(p); n > 0 || err != nil {
		return n, err
	}
	select {
	case <-s.notify:
	case <-time.After(s.timeout):
	}
	return s.drain(p)
}

func (s *Simulator) drain(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	n := copy(p, s.rx)
	s.rx = s.rx[n:]
	return n, nil
}

// Drain is a no-op: simulated bytes are delivered as soon as they are written.
func (s *Simulator) Drain() error {
	return nil
}

// Close makes further reads and writes fail.
func (s *Simulator) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Register returns the simulated value of a register.
func (s *Simulator) Register(addr uint8) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[addr]
}

// SetRegister presets a register, e.g. a status bit.
func (s *Simulator) SetRegister(addr uint8, value uint32) {
	s.mu.Lock()
	s.regs[addr] = value
	s.mu.Unlock()
}

// CorruptReplies makes the next n replies carry a damaged payload byte.
func (s *Simulator) CorruptReplies(n int) {
	s.mu.Lock()
	s.corrupt = n
	s.mu.Unlock()
}
