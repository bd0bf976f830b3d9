package keystring

import (
	"encoding/binary"
	"fmt"
)

// NumericKind is the 2-bit numeric subtype code recorded per numeric field.
type NumericKind byte

const (
	NumericInt32   NumericKind = 0
	NumericInt64   NumericKind = 1
	NumericDouble  NumericKind = 2
	NumericDecimal NumericKind = 3
)

// Zero selector values read after a NumericDecimal code at a zero marker.
const (
	zeroSelectorNegativeDouble = 0
	zeroSelectorDecimalBase    = 2
)

// TypeBits is the side channel that restores type information the ordering
// bytes deliberately discard: string vs symbol (one bit per string-like
// value) and the exact numeric subtype (two bits per numeric value, decimals
// followed by six bits of their exponent). Bits are appended in value
// traversal order, least significant bit of each byte first.
//
// An all-zero TypeBits describes the default interpretation (strings and
// Int32 numerics), which lets the serialized form collapse to a single zero
// byte for the common case.
type TypeBits struct {
	buf      []byte
	bitCount int
}

// NewTypeBits returns an empty TypeBits.
func NewTypeBits() *TypeBits {
	return &TypeBits{}
}

// Reset clears the accumulated bits.
func (t *TypeBits) Reset() {
	t.buf = t.buf[:0]
	t.bitCount = 0
}

func (t *TypeBits) appendBit(bit byte) {
	if t.bitCount%8 == 0 {
		t.buf = append(t.buf, 0)
	}
	if bit != 0 {
		t.buf[len(t.buf)-1] |= 1 << uint(t.bitCount%8)
	}
	t.bitCount++
}

func (t *TypeBits) appendBits(v uint32, n int) {
	for i := 0; i < n; i++ {
		t.appendBit(byte(v>>uint(i)) & 1)
	}
}

// AppendStringLike records one string-like value; symbol selects Symbol over
// String.
func (t *TypeBits) AppendStringLike(symbol bool) {
	if symbol {
		t.appendBit(1)
	} else {
		t.appendBit(0)
	}
}

// AppendNumeric records the subtype of one numeric value.
func (t *TypeBits) AppendNumeric(code NumericKind) {
	t.appendBits(uint32(code), 2)
}

// AppendNegativeDoubleZero records a -0.0 double, which shares the zero
// marker with every other numeric zero.
func (t *TypeBits) AppendNegativeDoubleZero() {
	t.appendBits(uint32(NumericDecimal), 2)
	t.appendBits(zeroSelectorNegativeDouble, 3)
}

// AppendDecimal records a non-zero decimal and the low six bits of its
// biased exponent, used to restore the stored precision on decode.
func (t *TypeBits) AppendDecimal(exponent6 byte) {
	t.appendBits(uint32(NumericDecimal), 2)
	t.appendBits(uint32(exponent6&0x3F), 6)
}

// AppendDecimalZero records a decimal zero with its full biased exponent and
// sign, since zero's ordering bytes carry neither.
func (t *TypeBits) AppendDecimalZero(biasedExponent uint16, negative bool) {
	t.appendBits(uint32(NumericDecimal), 2)
	t.appendBits(uint32(biasedExponent>>12)+zeroSelectorDecimalBase, 3)
	t.appendBits(uint32(biasedExponent)&0xFFF, 12)
	if negative {
		t.appendBit(1)
	} else {
		t.appendBit(0)
	}
}

// AllZeros reports whether every recorded bit is zero.
func (t *TypeBits) AllZeros() bool {
	for _, b := range t.buf {
		if b != 0 {
			return false
		}
	}
	return true
}

// Serialize appends the compact representation to dst:
//
//	case 1: a single 0x00 byte - all bits are zero, length unbounded
//	case 2: a single byte with the high bit clear - up to 7 data bits
//	case 3: 0x80|size then size data bytes - payloads up to 127 bytes
//	case 4: 0x80 then 4-byte little-endian size then data bytes
//
// Trailing zero bytes never change meaning (readers hand out zero bits past
// the end), so they are trimmed first to pick the smallest case.
func (t *TypeBits) Serialize(dst []byte) []byte {
	data := t.buf
	for len(data) > 0 && data[len(data)-1] == 0 {
		data = data[:len(data)-1]
	}
	switch {
	case len(data) == 0:
		return append(dst, 0x00)
	case len(data) == 1 && data[0] < 0x80:
		return append(dst, data[0])
	case len(data) <= 127:
		dst = append(dst, 0x80|byte(len(data)))
		return append(dst, data...)
	default:
		dst = append(dst, 0x80)
		var sz [4]byte
		binary.LittleEndian.PutUint32(sz[:], uint32(len(data)))
		dst = append(dst, sz[:]...)
		return append(dst, data...)
	}
}

// DeserializeTypeBits reads a serialized TypeBits from the front of data and
// returns it with the number of bytes consumed.
func DeserializeTypeBits(data []byte) (*TypeBits, int, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("%w: empty type bits", ErrDecode)
	}
	first := data[0]
	switch {
	case first == 0x00:
		return NewTypeBits(), 1, nil
	case first < 0x80:
		return &TypeBits{buf: []byte{first}, bitCount: 8}, 1, nil
	case first == 0x80:
		if len(data) < 5 {
			return nil, 0, fmt.Errorf("%w: truncated type bits size", ErrDecode)
		}
		size := int(binary.LittleEndian.Uint32(data[1:5]))
		if len(data) < 5+size {
			return nil, 0, fmt.Errorf("%w: truncated type bits payload", ErrDecode)
		}
		buf := append([]byte(nil), data[5:5+size]...)
		return &TypeBits{buf: buf, bitCount: size * 8}, 5 + size, nil
	default:
		size := int(first & 0x7F)
		if len(data) < 1+size {
			return nil, 0, fmt.Errorf("%w: truncated type bits payload", ErrDecode)
		}
		buf := append([]byte(nil), data[1:1+size]...)
		return &TypeBits{buf: buf, bitCount: size * 8}, 1 + size, nil
	}
}

// TypeBitsReader consumes bits in the order they were appended. Reading past
// the end yields zero bits, matching the all-zero serialized case.
type TypeBitsReader struct {
	tb  *TypeBits
	pos int
}

// Reader returns a reader positioned at the first bit.
func (t *TypeBits) Reader() *TypeBitsReader {
	return &TypeBitsReader{tb: t}
}

// ReadBit returns the next bit.
func (r *TypeBitsReader) ReadBit() byte {
	if r.pos >= len(r.tb.buf)*8 {
		r.pos++
		return 0
	}
	bit := r.tb.buf[r.pos/8] >> uint(r.pos%8) & 1
	r.pos++
	return bit
}

// ReadBits returns the next n bits, first bit in the least significant
// position.
func (r *TypeBitsReader) ReadBits(n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		v |= uint32(r.ReadBit()) << uint(i)
	}
	return v
}

// ReadStringLike reports whether the next string-like value is a Symbol.
func (r *TypeBitsReader) ReadStringLike() bool {
	return r.ReadBit() != 0
}

// ReadNumeric returns the subtype code of the next numeric value.
func (r *TypeBitsReader) ReadNumeric() NumericKind {
	return NumericKind(r.ReadBits(2))
}
