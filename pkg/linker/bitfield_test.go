package linker

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestBitfieldRoundTrip(t *testing.T) {
	for _, width := range []uint8{1, 8, 16, 32, 64} {
		ins := []Insert{Field(0, width)}

		umax := int64(lowBits(width))
		smin := int64(-1) << (width - 1)
		smax := ^smin
		cases := []struct {
			v    int64
			sign Signedness
		}{
			{0, SignUnsigned},
			{umax, SignUnsigned},
			{smin, SignSigned},
			{smax, SignSigned},
			{-1, SignSigned},
		}
		for _, c := range cases {
			for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
				buf := make([]byte, 8)
				if err := WriteBitfield(buf, order, ins, c.v, c.sign, true); err != nil {
					t.Fatalf("width %d: WriteBitfield(%d): %v", width, c.v, err)
				}
				if got := ReadBitfield(buf, order, ins, c.sign); got != c.v {
					t.Errorf("width %d %v: read back %d, want %d", width, order, got, c.v)
				}
			}
		}
	}
}

func TestBitfieldOutOfRange(t *testing.T) {
	buf := make([]byte, 4)
	err := WriteBitfield(buf, binary.LittleEndian, []Insert{Field(0, 16)}, 0x1ffff, SignUnsigned, true)
	var rangeErr *RangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("17 bit value into 16 bit field: got %v, want RangeError", err)
	}
	if rangeErr.Bits != 16 {
		t.Errorf("RangeError.Bits = %d, want 16", rangeErr.Bits)
	}
	// The low bits are still written.
	if got := binary.LittleEndian.Uint16(buf); got != 0xffff {
		t.Errorf("field = %#x, want 0xffff", got)
	}

	if err := WriteBitfield(buf, binary.LittleEndian, []Insert{Field(0, 16)}, 0x1ffff, SignUnsigned, false); err != nil {
		t.Errorf("unchecked write: %v", err)
	}
	if err := WriteBitfield(buf, binary.LittleEndian, []Insert{Field(0, 8)}, -129, SignSigned, true); err == nil {
		t.Errorf("-129 into 8 signed bits: no error")
	}
	if err := WriteBitfield(buf, binary.LittleEndian, []Insert{Field(0, 8)}, 0xff, SignEither, true); err != nil {
		t.Errorf("0xff into 8 bits of either sign: %v", err)
	}
}

func TestBitfieldKeepsNeighbours(t *testing.T) {
	buf := []byte{0xff, 0xff}
	ins := []Insert{Field(4, 8)}
	if err := WriteBitfield(buf, binary.LittleEndian, ins, 0, SignUnsigned, true); err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint16(buf); got != 0xf00f {
		t.Errorf("window = %#x, want 0xf00f", got)
	}
}

func TestBitfieldRISCVImmediates(t *testing.T) {
	le := binary.LittleEndian
	buf := make([]byte, 4)

	// beq x0, x0, <offset>
	le.PutUint32(buf, 0x00000063)
	if err := WriteBitfield(buf, le, btypeInsert, -4096, SignSigned, true); err != nil {
		t.Fatal(err)
	}
	if got := ReadBitfield(buf, le, btypeInsert, SignSigned); got != -4096 {
		t.Errorf("branch offset = %d, want -4096", got)
	}
	if le.Uint32(buf)&0x7f != 0x63 {
		t.Errorf("opcode clobbered: %#x", le.Uint32(buf))
	}
	if err := WriteBitfield(buf, le, btypeInsert, 4096, SignSigned, true); err == nil {
		t.Errorf("branch offset 4096 accepted")
	}

	le.PutUint32(buf, 0x0000006f)
	if err := WriteBitfield(buf, le, jtypeInsert, 0x7fffe, SignSigned, true); err != nil {
		t.Fatal(err)
	}
	if got := ReadBitfield(buf, le, jtypeInsert, SignSigned); got != 0x7fffe {
		t.Errorf("jal offset = %#x, want 0x7fffe", got)
	}
}

func TestBitfieldHiLoSplit(t *testing.T) {
	le := binary.LittleEndian
	const v = 0x12345800

	hi := make([]byte, 4)
	lo := make([]byte, 4)
	if err := WriteBitfield(hi, le, utypeInsert, v, SignSigned, true); err != nil {
		t.Fatal(err)
	}
	if err := WriteBitfield(lo, le, itypeInsert, v, SignSigned, false); err != nil {
		t.Fatal(err)
	}

	upper := int64(le.Uint32(hi) &^ 0xfff)
	lower := int64(int32(le.Uint32(lo)) >> 20)
	if upper != 0x12346000 || lower != -0x800 {
		t.Fatalf("hi = %#x lo = %d", upper, lower)
	}
	if upper+lower != v {
		t.Errorf("hi + lo = %#x, want %#x", upper+lower, v)
	}
}

func TestBitfieldCallPair(t *testing.T) {
	le := binary.LittleEndian
	buf := make([]byte, 8)
	le.PutUint32(buf[0:], 0x00000097) // auipc ra, 0
	le.PutUint32(buf[4:], 0x000080e7) // jalr ra, ra
	const off = -0x1234
	if err := WriteBitfield(buf, le, callInsert, off, SignSigned, true); err != nil {
		t.Fatal(err)
	}
	upper := int64(int32(le.Uint32(buf[0:]) &^ 0xfff))
	lower := int64(int32(le.Uint32(buf[4:])) >> 20)
	if upper+lower != off {
		t.Errorf("auipc+jalr = %d, want %d", upper+lower, off)
	}
}
