// Package tmc speaks the single-wire UART register protocol of TMC2209
// class stepper drivers.
//
// Datagrams sent by the host are either write requests
//
//	[0x05][node][reg|0x80][v31..v24][v23..v16][v15..v8][v7..v0][crc]
//
// or read requests
//
//	[0x05][node][reg][crc]
//
// The driver answers a read request with an 8-byte reply addressed to the
// master node 0xFF. Because the line is shared, the host also receives an
// echo of every byte it sends.
package tmc

import (
	"encoding/binary"
	"fmt"
)

const (
	// SyncByte starts every datagram (sync nibble 0b0101 plus reserved bits).
	SyncByte = 0x05
	// MasterAddress is the node address drivers use in replies.
	MasterAddress = 0xFF
	// WriteBit marks a register address as a write access.
	WriteBit = 0x80

	// ReadRequestLen is the length of a read request datagram.
	ReadRequestLen = 4
	// DataFrameLen is the length of a write request or a read reply.
	DataFrameLen = 8
)

// Frame is a decoded datagram.
type Frame struct {
	Node     uint8  // slave address for requests, MasterAddress for replies
	Register uint8  // 7-bit register address
	Write    bool   // write request
	Value    uint32 // payload; zero for read requests
	CRC      uint8
}

// IsReply reports whether the frame was sent by a driver.
func (f Frame) IsReply() bool {
	return f.Node == MasterAddress
}

// HasValue reports whether the frame carries a 32-bit payload.
func (f Frame) HasValue() bool {
	return f.Write || f.IsReply()
}

func (f Frame) String() string {
	switch {
	case f.IsReply():
		return fmt.Sprintf("reply reg=0x%02x value=0x%08x", f.Register, f.Value)
	case f.Write:
		return fmt.Sprintf("write node=%d reg=0x%02x value=0x%08x", f.Node, f.Register, f.Value)
	default:
		return fmt.Sprintf("read node=%d reg=0x%02x", f.Node, f.Register)
	}
}

// CRC8 computes the TMC UART checksum: polynomial x^8+x^2+x+1, initial
// value 0, each byte shifted in least significant bit first.
func CRC8(data []byte) uint8 {
	var crc uint8
	for _, b := range data {
		for i := 0; i < 8; i++ {
			if (crc>>7)^(b&0x01) != 0 {
				crc = (crc << 1) ^ 0x07
			} else {
				crc <<= 1
			}
			b >>= 1
		}
	}
	return crc
}

// EncodeWrite builds a write request for register reg on node.
func EncodeWrite(node, reg uint8, value uint32) []byte {
	buf := make([]byte, DataFrameLen)
	buf[0] = SyncByte
	buf[1] = node
	buf[2] = (reg & 0x7f) | WriteBit
	binary.BigEndian.PutUint32(buf[3:7], value)
	buf[7] = CRC8(buf[:7])
	return buf
}

// EncodeRead builds a read request for register reg on node.
func EncodeRead(node, reg uint8) []byte {
	buf := make([]byte, ReadRequestLen)
	buf[0] = SyncByte
	buf[1] = node
	buf[2] = reg & 0x7f
	buf[3] = CRC8(buf[:3])
	return buf
}

// EncodeReply builds the datagram a driver sends in answer to a read.
func EncodeReply(reg uint8, value uint32) []byte {
	buf := make([]byte, DataFrameLen)
	buf[0] = SyncByte
	buf[1] = MasterAddress
	buf[2] = reg & 0x7f
	binary.BigEndian.PutUint32(buf[3:7], value)
	buf[7] = CRC8(buf[:7])
	return buf
}

// frameLen returns the expected datagram length given its first three bytes.
func frameLen(node, reg uint8) int {
	if node == MasterAddress || reg&WriteBit != 0 {
		return DataFrameLen
	}
	return ReadRequestLen
}

// Decode parses one complete datagram. It returns false when the sync byte,
// the length for the frame type or the CRC does not match.
func Decode(buf []byte) (Frame, bool) {
	if len(buf) < 3 || buf[0] != SyncByte {
		return Frame{}, false
	}
	n := frameLen(buf[1], buf[2])
	if len(buf) != n {
		return Frame{}, false
	}
	return parse(buf)
}

// parse validates the CRC of a datagram whose length is already known.
func parse(buf []byte) (Frame, bool) {
	n := len(buf)
	crc := CRC8(buf[:n-1])
	if crc != buf[n-1] {
		return Frame{}, false
	}
	f := Frame{
		Node:     buf[1],
		Register: buf[2] & 0x7f,
		Write:    buf[2]&WriteBit != 0 && buf[1] != MasterAddress,
		CRC:      crc,
	}
	if n == DataFrameLen {
		f.Value = binary.BigEndian.Uint32(buf[3:7])
	}
	return f, true
}

// Decoder incrementally assembles datagrams from a byte stream.
// The zero value is ready to use.
type Decoder struct {
	buf  [DataFrameLen]byte
	n    int
	want int

	// CRCErrors counts datagrams dropped because of a checksum mismatch.
	CRCErrors uint64
}

// Feed consumes one byte. It returns a frame once a complete datagram with
// a valid CRC has been received. A CRC mismatch drops the datagram and
// resets the parser; it is never fatal.
func (d *Decoder) Feed(b byte) (Frame, bool) {
	if d.n == 0 && b != SyncByte {
		return Frame{}, false
	}
	d.buf[d.n] = b
	d.n++

	if d.n == 3 {
		d.want = frameLen(d.buf[1], d.buf[2])
	}
	if d.n < 3 || d.n < d.want {
		return Frame{}, false
	}

	f, ok := parse(d.buf[:d.n])
	d.Reset()
	if !ok {
		d.CRCErrors++
	}
	return f, ok
}

// Reset discards any partially received datagram.
func (d *Decoder) Reset() {
	d.n = 0
	d.want = 0
}

// Pending returns the number of buffered bytes of an incomplete datagram.
func (d *Decoder) Pending() int {
	return d.n
}
