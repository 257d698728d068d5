package tmc

import (
	"bytes"
	"testing"
)

func TestCRC8_KnownValues(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want uint8
	}{
		{"empty", nil, 0x00},
		{"zero_byte", []byte{0x00}, 0x00},
		{"one", []byte{0x01}, 0x89},
		{"read_gconf_node0", []byte{0x05, 0x00, 0x00}, 0x48},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CRC8(tc.data); got != tc.want {
				t.Errorf("CRC8(% x) = 0x%02x, want 0x%02x", tc.data, got, tc.want)
			}
		})
	}
}

func TestEncodeRead_Layout(t *testing.T) {
	got := EncodeRead(0, GCONF)
	want := []byte{0x05, 0x00, 0x00, 0x48}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeRead(0, GCONF) = % x, want % x", got, want)
	}
}

func TestEncodeWrite_Layout(t *testing.T) {
	got := EncodeWrite(3, CHOPCONF, 0x10000053)
	if len(got) != DataFrameLen {
		t.Fatalf("len = %d, want %d", len(got), DataFrameLen)
	}
	if got[0] != SyncByte || got[1] != 3 || got[2] != CHOPCONF|WriteBit {
		t.Errorf("header = % x", got[:3])
	}
	if !bytes.Equal(got[3:7], []byte{0x10, 0x00, 0x00, 0x53}) {
		t.Errorf("value bytes = % x, want big-endian 10 00 00 53", got[3:7])
	}
	if got[7] != CRC8(got[:7]) {
		t.Errorf("crc = 0x%02x, want 0x%02x", got[7], CRC8(got[:7]))
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	values := []uint32{0, 1, 0x80, 0xdeadbeef, 0xffffffff, 0x000001c0}
	for addr := range registers {
		for _, v := range values {
			f, ok := Decode(EncodeWrite(0, addr, v))
			if !ok {
				t.Fatalf("write reg=0x%02x value=0x%08x: no frame", addr, v)
			}
			if f.Register != addr || f.Value != v || !f.Write {
				t.Errorf("write round trip = %+v, want reg=0x%02x value=0x%08x", f, addr, v)
			}

			f, ok = Decode(EncodeReply(addr, v))
			if !ok {
				t.Fatalf("reply reg=0x%02x value=0x%08x: no frame", addr, v)
			}
			if f.Register != addr || f.Value != v || !f.IsReply() || f.Write {
				t.Errorf("reply round trip = %+v", f)
			}
		}

		f, ok := Decode(EncodeRead(2, addr))
		if !ok || f.Register != addr || f.Node != 2 || f.HasValue() {
			t.Errorf("read round trip for 0x%02x = %+v, %v", addr, f, ok)
		}
	}
}

func TestDecode_SingleByteCorruption(t *testing.T) {
	frames := map[string][]byte{
		"write": EncodeWrite(0, GCONF, 0x000001c0),
		"reply": EncodeReply(IOIN, 0x21000040),
		"read":  EncodeRead(1, IFCNT),
	}
	for name, frame := range frames {
		for i := range frame {
			for _, flip := range []byte{0x01, 0x80, 0xff} {
				bad := append([]byte(nil), frame...)
				bad[i] ^= flip
				if f, ok := Decode(bad); ok {
					t.Errorf("%s: flipping byte %d by 0x%02x still decoded %+v", name, i, flip, f)
				}
			}
		}
	}
}

func TestDecode_WrongLength(t *testing.T) {
	frame := EncodeWrite(0, GCONF, 1)
	if _, ok := Decode(frame[:7]); ok {
		t.Error("truncated frame decoded")
	}
	if _, ok := Decode(append(frame, 0x00)); ok {
		t.Error("frame with trailing byte decoded")
	}
	if _, ok := Decode(nil); ok {
		t.Error("empty buffer decoded")
	}
}

func feedAll(d *Decoder, data []byte) []Frame {
	var out []Frame
	for _, b := range data {
		if f, ok := d.Feed(b); ok {
			out = append(out, f)
		}
	}
	return out
}

func TestDecoder_StreamOfFrames(t *testing.T) {
	var stream []byte
	stream = append(stream, EncodeRead(0, IOIN)...)
	stream = append(stream, EncodeReply(IOIN, 0x21000000)...)
	stream = append(stream, EncodeWrite(0, GCONF, 0x1c0)...)

	var d Decoder
	frames := feedAll(&d, stream)
	if len(frames) != 3 {
		t.Fatalf("decoded %d frames, want 3", len(frames))
	}
	if frames[0].HasValue() || frames[0].Register != IOIN {
		t.Errorf("frame 0 = %v", frames[0])
	}
	if !frames[1].IsReply() || frames[1].Value != 0x21000000 {
		t.Errorf("frame 1 = %v", frames[1])
	}
	if !frames[2].Write || frames[2].Value != 0x1c0 {
		t.Errorf("frame 2 = %v", frames[2])
	}
	if d.Pending() != 0 {
		t.Errorf("Pending() = %d after complete frames", d.Pending())
	}
}

func TestDecoder_YieldsOnlyOnLastByte(t *testing.T) {
	frame := EncodeReply(IFCNT, 7)
	var d Decoder
	for i, b := range frame {
		_, ok := d.Feed(b)
		if last := i == len(frame)-1; ok != last {
			t.Fatalf("byte %d: ok=%v", i, ok)
		}
	}
}

func TestDecoder_SkipsNoiseBeforeSync(t *testing.T) {
	var d Decoder
	stream := append([]byte{0x00, 0xff, 0x12, 0x80}, EncodeReply(IFCNT, 3)...)
	frames := feedAll(&d, stream)
	if len(frames) != 1 || frames[0].Value != 3 {
		t.Errorf("frames = %v, want one IFCNT reply", frames)
	}
}

func TestDecoder_CRCMismatchRecovers(t *testing.T) {
	bad := EncodeReply(IOIN, 0x21000000)
	bad[4] ^= 0x10
	good := EncodeReply(IFCNT, 9)

	var d Decoder
	frames := feedAll(&d, append(bad, good...))
	if len(frames) != 1 {
		t.Fatalf("decoded %d frames, want 1", len(frames))
	}
	if frames[0].Register != IFCNT || frames[0].Value != 9 {
		t.Errorf("frame = %v, want IFCNT=9", frames[0])
	}
	if d.CRCErrors != 1 {
		t.Errorf("CRCErrors = %d, want 1", d.CRCErrors)
	}
}

func TestDecoder_Reset(t *testing.T) {
	var d Decoder
	frame := EncodeReply(IFCNT, 1)
	feedAll(&d, frame[:5])
	if d.Pending() != 5 {
		t.Fatalf("Pending() = %d, want 5", d.Pending())
	}
	d.Reset()
	frames := feedAll(&d, frame)
	if len(frames) != 1 {
		t.Errorf("after Reset decoded %d frames, want 1", len(frames))
	}
}
