package tmc

import (
	"context"
	"sync"
	"time"

	"github.com/cjeanneret/gimbal/internal/debug"
	"github.com/cjeanneret/gimbal/internal/hw/serial"
)

// LinkConfig configures the reader and writer tasks of a driver link.
type LinkConfig struct {
	Node       uint8         // driver node address (MS1/MS2 strapping)
	Heartbeat  time.Duration // writer period
	ReplyGap   time.Duration // pause after each read request so the reply is not talked over
	RetryDelay time.Duration // reader pause after an I/O error
	Init       []Register    // configuration written every heartbeat
	Poll       []uint8       // status registers read every heartbeat
}

// DefaultPoll is the set of status registers read on each heartbeat.
var DefaultPoll = []uint8{IFCNT, IOIN, GSTAT}

// Stats counts link activity.
type Stats struct {
	Writes       uint64 `json:"writes"`
	Reads        uint64 `json:"reads"`
	Replies      uint64 `json:"replies"`
	Echoes       uint64 `json:"echoes"`
	CRCErrors    uint64 `json:"crc_errors"`
	Unknown      uint64 `json:"unknown"`
	IOErrors     uint64 `json:"io_errors"`
	LastReplyAge string `json:"last_reply_age,omitempty"`
}

// Link exchanges registers with one driver. Its writer and reader tasks
// share nothing but the register cache, which is guarded.
type Link struct {
	cfg LinkConfig

	mu        sync.Mutex
	regs      map[uint8]uint32
	stats     Stats
	lastReply time.Time
}

// NewLink applies defaults to cfg and returns an idle link.
func NewLink(cfg LinkConfig) *Link {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 5 * time.Second
	}
	if cfg.ReplyGap <= 0 {
		cfg.ReplyGap = 5 * time.Millisecond
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.Poll == nil {
		cfg.Poll = DefaultPoll
	}
	return &Link{
		cfg:  cfg,
		regs: make(map[uint8]uint32),
	}
}

// Writer returns the task that periodically writes the configuration
// registers and requests the status registers. Send failures are logged and
// retried on the next heartbeat. It returns when ctx is done.
func (l *Link) Writer(tx serial.Sender) func(context.Context) error {
	return func(ctx context.Context) error {
		debug.Info("Starting driver writer (node %d, every %v)", l.cfg.Node, l.cfg.Heartbeat)
		ticker := time.NewTicker(l.cfg.Heartbeat)
		defer ticker.Stop()

		for {
			l.heartbeat(ctx, tx)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
}

func (l *Link) heartbeat(ctx context.Context, tx serial.Sender) {
	for _, reg := range l.cfg.Init {
		if err := tx.Send(EncodeWrite(l.cfg.Node, reg.Address, reg.Value)); err != nil {
			l.ioError("write %s: %v", Name(reg.Address), err)
			return
		}
		l.count(func(s *Stats) { s.Writes++ })
		debug.Verbose("Driver: wrote %s = 0x%08x", Name(reg.Address), reg.Value)
	}
	for _, addr := range l.cfg.Poll {
		if err := tx.Send(EncodeRead(l.cfg.Node, addr)); err != nil {
			l.ioError("read request %s: %v", Name(addr), err)
			return
		}
		l.count(func(s *Stats) { s.Reads++ })
		if !sleep(ctx, l.cfg.ReplyGap) {
			return
		}
	}
}

// Reader returns the task that consumes bytes from the link, decodes them
// and records replies. Timeouts are empty reads; I/O errors are logged and
// the read is retried after RetryDelay. It returns when ctx is done.
func (l *Link) Reader(rx serial.Receiver) func(context.Context) error {
	return func(ctx context.Context) error {
		debug.Info("Starting driver reader (node %d)", l.cfg.Node)
		var dec Decoder
		buf := make([]byte, 16)

		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := rx.Read(buf)
			for _, b := range buf[:n] {
				if f, ok := dec.Feed(b); ok {
					l.handle(f)
				}
			}
			l.count(func(s *Stats) { s.CRCErrors = dec.CRCErrors })
			if err != nil {
				l.ioError("read: %v", err)
				if !sleep(ctx, l.cfg.RetryDelay) {
					return ctx.Err()
				}
			}
		}
	}
}

func (l *Link) handle(f Frame) {
	if !f.IsReply() {
		// our own request coming back on the shared wire
		l.count(func(s *Stats) { s.Echoes++ })
		debug.Trace("Driver echo: %v", f)
		return
	}

	info, ok := Lookup(f.Register)
	if !ok {
		l.count(func(s *Stats) { s.Unknown++ })
		debug.Warn("Driver replied for unknown register 0x%02x (value 0x%08x), ignored", f.Register, f.Value)
		return
	}

	l.mu.Lock()
	l.regs[f.Register] = f.Value
	l.stats.Replies++
	l.lastReply = time.Now()
	l.mu.Unlock()

	debug.Register(info.Name, f.Register, f.Value)
	debug.Verbose("Driver: %s", info.Describe(f.Value))
}

func (l *Link) ioError(format string, args ...interface{}) {
	l.count(func(s *Stats) { s.IOErrors++ })
	debug.Warn("Driver link: "+format, args...)
}

func (l *Link) count(fn func(*Stats)) {
	l.mu.Lock()
	fn(&l.stats)
	l.mu.Unlock()
}

// Value returns the last value read back for a register.
func (l *Link) Value(addr uint8) (uint32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.regs[addr]
	return v, ok
}

// Registers returns a copy of the register cache keyed by register name.
func (l *Link) Registers() map[string]uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]uint32, len(l.regs))
	for addr, v := range l.regs {
		out[Name(addr)] = v
	}
	return out
}

// Stats returns a copy of the link counters.
func (l *Link) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	if !l.lastReply.IsZero() {
		s.LastReplyAge = time.Since(l.lastReply).Round(time.Millisecond).String()
	}
	return s
}

// sleep waits for d or until ctx is done; it reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
