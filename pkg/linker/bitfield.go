package linker

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/ksco/vlink/pkg/utils"
)

type Signedness uint8

const (
	SignUnsigned Signedness = iota
	SignSigned
	// SignEither accepts values that fit as signed or as unsigned.
	SignEither
)

const FullMask = ^uint64(0)

// Insert describes one link of a bitfield insertion chain. Mask selects
// the bits of the value that go into the field; FullMask takes the low
// BitSize bits. BitPos counts from the least significant bit of the
// smallest 1, 2, 4 or 8 byte window covering every link, read in target
// byte order. Round adds half of the lowest masked bit first, which is
// what the high half of a hi/lo split needs.
type Insert struct {
	BitPos  uint8
	BitSize uint8
	Mask    uint64
	Round   bool
}

func Field(pos, size uint8) Insert {
	return Insert{BitPos: pos, BitSize: size, Mask: FullMask}
}

func MaskedField(pos, size uint8, mask uint64) Insert {
	return Insert{BitPos: pos, BitSize: size, Mask: mask}
}

type RangeError struct {
	Value int64
	Bits  int
	Sign  Signedness
}

func (e *RangeError) Error() string {
	kind := "signed"
	switch e.Sign {
	case SignUnsigned:
		kind = "unsigned"
	case SignEither:
		kind = "signed or unsigned"
	}
	return fmt.Sprintf("value %#x (%d) does not fit into %d %s bits",
		uint64(e.Value), e.Value, e.Bits, kind)
}

func lowBits(n uint8) uint64 {
	if n >= 64 {
		return FullMask
	}
	return 1<<n - 1
}

func windowSize(ins []Insert) int {
	top := 0
	for _, in := range ins {
		if end := int(in.BitPos) + int(in.BitSize); end > top {
			top = end
		}
	}
	switch {
	case top <= 8:
		return 1
	case top <= 16:
		return 2
	case top <= 32:
		return 4
	}
	return 8
}

func readWindow(data []byte, size int, order binary.ByteOrder) uint64 {
	switch size {
	case 1:
		return uint64(data[0])
	case 2:
		return uint64(order.Uint16(data))
	case 4:
		return uint64(order.Uint32(data))
	}
	return order.Uint64(data)
}

func writeWindow(data []byte, size int, order binary.ByteOrder, w uint64) {
	switch size {
	case 1:
		data[0] = uint8(w)
	case 2:
		order.PutUint16(data, uint16(w))
	case 4:
		order.PutUint32(data, uint32(w))
	default:
		order.PutUint64(data, w)
	}
}

// topBit returns the highest value bit covered by the link.
func (in Insert) topBit() int {
	if in.Mask == FullMask {
		return int(in.BitSize) - 1
	}
	return 63 - bits.LeadingZeros64(in.Mask)
}

func (in Insert) shift() int {
	if in.Mask == FullMask {
		return 0
	}
	return bits.TrailingZeros64(in.Mask)
}

func (in Insert) rounded(v int64) int64 {
	if in.Round && in.shift() > 0 {
		return v + 1<<(in.shift()-1)
	}
	return v
}

func (in Insert) extract(v int64) uint64 {
	u := uint64(in.rounded(v))
	if in.Mask != FullMask {
		u = (u & in.Mask) >> in.shift()
	}
	return u & lowBits(in.BitSize)
}

func fitsIn(v int64, n int, sign Signedness) bool {
	if n >= 64 {
		return true
	}
	if n <= 0 {
		return v == 0
	}
	switch sign {
	case SignSigned:
		lo := int64(-1) << (n - 1)
		return v >= lo && v <= ^lo
	case SignUnsigned:
		return uint64(v)>>n == 0
	}
	return fitsIn(v, n, SignSigned) || fitsIn(v, n, SignUnsigned)
}

// WriteBitfield inserts v into data following the chain. The field bits
// are always written; the returned RangeError reports a value that lost
// bits above the topmost link.
func WriteBitfield(data []byte, order binary.ByteOrder, ins []Insert, v int64, sign Signedness, check bool) error {
	size := windowSize(ins)
	if len(data) < size {
		return fmt.Errorf("relocation field of %d bytes exceeds section data", size)
	}
	w := readWindow(data, size, order)

	top := -1
	remainder := v
	for _, in := range ins {
		mask := lowBits(in.BitSize) << in.BitPos
		w = w&^mask | in.extract(v)<<in.BitPos&mask
		if t := in.topBit(); t > top {
			top = t
			remainder = in.rounded(v)
		}
	}
	writeWindow(data, size, order, w)

	if check && !fitsIn(remainder, top+1, sign) {
		return &RangeError{Value: v, Bits: top + 1, Sign: sign}
	}
	return nil
}

// ReadBitfield reassembles the value stored by a chain, sign-extending it
// from its topmost bit when sign is SignSigned.
func ReadBitfield(data []byte, order binary.ByteOrder, ins []Insert, sign Signedness) int64 {
	size := windowSize(ins)
	w := readWindow(data, size, order)

	var u uint64
	top := -1
	for _, in := range ins {
		field := w >> in.BitPos & lowBits(in.BitSize)
		u |= field << in.shift()
		if t := in.topBit(); t > top {
			top = t
		}
	}
	if sign == SignSigned && top >= 0 && top < 63 {
		u = utils.SignExtend(u, top)
	}
	return int64(u)
}
