package keystring

import (
	"fmt"
	"math"

	"github.com/cockroachdb/apd/v3"
	"github.com/corvusdb/corvus/pkg/document"
)

// Decoded is the result of decoding a key's value portion.
type Decoded struct {
	Values        []document.Value
	Discriminator Discriminator
	// Remainder holds any bytes after the terminator: the RecordId suffix
	// of a stored key.
	Remainder []byte
}

// Decode is the safe decoding path: it is the exact inverse of Encode for
// self-produced keys and reports ErrDecode for malformed input instead of
// misbehaving. Exclusive bounds decode to their discriminator with no
// remainder.
func Decode(key []byte, ordering Ordering, tb *TypeBits) (*Decoded, error) {
	if tb == nil {
		tb = NewTypeBits()
	}
	d := &decoder{buf: key, tb: tb.Reader()}
	out := &Decoded{Discriminator: Inclusive}
	field := 0
	for {
		if d.pos >= len(d.buf) {
			return nil, fmt.Errorf("%w: unterminated key", ErrDecode)
		}
		switch d.buf[d.pos] {
		case endByte:
			d.pos++
			out.Remainder = d.buf[d.pos:]
			return out, nil
		case lessByte, greaterByte:
			disc := ExclusiveBefore
			if d.buf[d.pos] == greaterByte {
				disc = ExclusiveAfter
			}
			d.pos++
			if d.pos >= len(d.buf) || d.buf[d.pos] != endByte {
				return nil, fmt.Errorf("%w: discriminator without terminator", ErrDecode)
			}
			if d.pos+1 != len(d.buf) {
				return nil, fmt.Errorf("%w: trailing bytes after exclusive bound", ErrDecode)
			}
			out.Discriminator = disc
			return out, nil
		}
		d.invert = ordering.Descending(field)
		v, err := d.readValue()
		d.invert = false
		if err != nil {
			return nil, err
		}
		out.Values = append(out.Values, v)
		field++
	}
}

// MustDecode is the fast path for self-produced keys; it panics on malformed
// input.
func MustDecode(key []byte, ordering Ordering, tb *TypeBits) *Decoded {
	out, err := Decode(key, ordering, tb)
	if err != nil {
		panic(err)
	}
	return out
}

type decoder struct {
	buf    []byte
	pos    int
	invert bool
	tb     *TypeBitsReader
}

func (d *decoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, fmt.Errorf("%w: truncated key", ErrDecode)
	}
	c := d.buf[d.pos]
	d.pos++
	if d.invert {
		c = ^c
	}
	return c, nil
}

func (d *decoder) peekByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, fmt.Errorf("%w: truncated key", ErrDecode)
	}
	c := d.buf[d.pos]
	if d.invert {
		c = ^c
	}
	return c, nil
}

func (d *decoder) readBytes(n int) ([]byte, error) {
	if d.pos+n > len(d.buf) {
		return nil, fmt.Errorf("%w: truncated key", ErrDecode)
	}
	out := make([]byte, n)
	copy(out, d.buf[d.pos:d.pos+n])
	d.pos += n
	if d.invert {
		for i := range out {
			out[i] = ^out[i]
		}
	}
	return out, nil
}

// readWord reads an n-byte big-endian payload word, undoing the negative
// complement when neg is set.
func (d *decoder) readWord(n int, neg bool) (uint64, error) {
	raw, err := d.readBytes(n)
	if err != nil {
		return 0, err
	}
	var word uint64
	for _, c := range raw {
		if neg {
			c = ^c
		}
		word = word<<8 | uint64(c)
	}
	return word, nil
}

func (d *decoder) readContinuation(neg bool) ([]byte, error) {
	raw, err := d.readBytes(continuationSize)
	if err != nil {
		return nil, err
	}
	if neg {
		for i := range raw {
			raw[i] = ^raw[i]
		}
	}
	return raw, nil
}

func (d *decoder) readValue() (document.Value, error) {
	marker, err := d.readByte()
	if err != nil {
		return document.Value{}, err
	}
	return d.readValueBody(marker)
}

func (d *decoder) readValueBody(marker byte) (document.Value, error) {
	switch marker {
	case markerMinKey:
		return document.MinKey(), nil
	case markerMaxKey:
		return document.MaxKey(), nil
	case markerUndefined:
		return document.Undefined(), nil
	case markerNullish:
		return document.Null(), nil
	case markerBoolFalse:
		return document.Bool(false), nil
	case markerBoolTrue:
		return document.Bool(true), nil
	case markerDate:
		word, err := d.readWord(8, false)
		if err != nil {
			return document.Value{}, err
		}
		return document.DateMillis(int64(word ^ (1 << 63))), nil
	case markerTimestamp:
		word, err := d.readWord(8, false)
		if err != nil {
			return document.Value{}, err
		}
		return document.NewTimestamp(document.Timestamp{
			Seconds:   uint32(word >> 32),
			Increment: uint32(word),
		}), nil
	case markerOID:
		raw, err := d.readBytes(12)
		if err != nil {
			return document.Value{}, err
		}
		var id document.ObjectID
		copy(id[:], raw)
		return document.NewObjectID(id), nil
	case markerBinary:
		return d.readBinary()
	case markerString:
		s, err := d.readEscapedString()
		if err != nil {
			return document.Value{}, err
		}
		if d.tb.ReadStringLike() {
			return document.Symbol(s), nil
		}
		return document.String(s), nil
	case markerRegex:
		pattern, err := d.readCString()
		if err != nil {
			return document.Value{}, err
		}
		options, err := d.readCString()
		if err != nil {
			return document.Value{}, err
		}
		return document.NewRegex(pattern, options), nil
	case markerDBRef:
		ns, err := d.readEscapedString()
		if err != nil {
			return document.Value{}, err
		}
		sep, err := d.readByte()
		if err != nil {
			return document.Value{}, err
		}
		if sep != 1 {
			return document.Value{}, fmt.Errorf("%w: dbref missing id separator", ErrDecode)
		}
		raw, err := d.readBytes(12)
		if err != nil {
			return document.Value{}, err
		}
		var id document.ObjectID
		copy(id[:], raw)
		return document.NewDBRef(ns, id), nil
	case markerObject:
		return d.readObject()
	case markerArray:
		return d.readArray()
	default:
		if marker >= markerNaN && marker <= markerPosLarge {
			return d.readNumeric(marker)
		}
		return document.Value{}, fmt.Errorf("%w: unknown type marker 0x%02x", ErrDecode, marker)
	}
}

func (d *decoder) readBinary() (document.Value, error) {
	sz, err := d.readByte()
	if err != nil {
		return document.Value{}, err
	}
	size := int(sz)
	if sz == 0xFF {
		word, err := d.readWord(4, false)
		if err != nil {
			return document.Value{}, err
		}
		size = int(word)
	}
	subtype, err := d.readByte()
	if err != nil {
		return document.Value{}, err
	}
	data, err := d.readBytes(size)
	if err != nil {
		return document.Value{}, err
	}
	return document.NewBinary(subtype, data), nil
}

func (d *decoder) readObject() (document.Value, error) {
	doc := document.NewDocument()
	for {
		c, err := d.peekByte()
		if err != nil {
			return document.Value{}, err
		}
		if c == 0 {
			d.pos++
			return document.Object(doc), nil
		}
		marker, err := d.readByte()
		if err != nil {
			return document.Value{}, err
		}
		name, err := d.readCString()
		if err != nil {
			return document.Value{}, err
		}
		v, err := d.readValueBody(marker)
		if err != nil {
			return document.Value{}, err
		}
		doc.Set(name, v)
	}
}

func (d *decoder) readArray() (document.Value, error) {
	var items []document.Value
	for {
		c, err := d.peekByte()
		if err != nil {
			return document.Value{}, err
		}
		if c == 0 {
			d.pos++
			return document.Array(items), nil
		}
		v, err := d.readValue()
		if err != nil {
			return document.Value{}, err
		}
		items = append(items, v)
	}
}

func (d *decoder) readCString() (string, error) {
	var out []byte
	for {
		c, err := d.readByte()
		if err != nil {
			return "", err
		}
		if c == 0 {
			return string(out), nil
		}
		out = append(out, c)
	}
}

// readEscapedString reads string contents where a 0x00 content byte was
// written as 0x00 0xFF and a bare 0x00 terminates.
func (d *decoder) readEscapedString() (string, error) {
	var out []byte
	for {
		c, err := d.readByte()
		if err != nil {
			return "", err
		}
		if c != 0 {
			out = append(out, c)
			continue
		}
		next, err := d.peekByte()
		if err != nil || next != 0xFF {
			return string(out), nil
		}
		d.pos++
		out = append(out, 0)
	}
}

func (d *decoder) readNumeric(marker byte) (document.Value, error) {
	switch {
	case marker == markerNaN:
		switch d.tb.ReadNumeric() {
		case NumericDouble:
			return document.Double(math.NaN()), nil
		case NumericDecimal:
			d.tb.ReadBits(6)
			return document.Decimal(&apd.Decimal{Form: apd.NaN}), nil
		default:
			return document.Value{}, fmt.Errorf("%w: NaN marker with integer type bits", ErrDecode)
		}
	case marker == markerZero:
		return d.readZero()
	case marker == markerNegSmall || marker == markerPosSmall:
		return d.readSmall(marker == markerNegSmall)
	case marker >= markerNeg8Int && marker <= markerNeg1Int:
		return d.readInteger(int(markerNeg1Int-marker)+1, true)
	case marker >= markerPos1Int && marker <= markerPos8Int:
		return d.readInteger(int(marker-markerPos1Int)+1, false)
	case marker == markerNegLarge || marker == markerPosLarge:
		return d.readLarge(marker == markerNegLarge)
	}
	return document.Value{}, fmt.Errorf("%w: unknown numeric marker 0x%02x", ErrDecode, marker)
}

func (d *decoder) readZero() (document.Value, error) {
	switch d.tb.ReadNumeric() {
	case NumericInt32:
		return document.Int32(0), nil
	case NumericInt64:
		return document.Int64(0), nil
	case NumericDouble:
		return document.Double(0), nil
	default: // NumericDecimal selector space
		sel := d.tb.ReadBits(3)
		if sel == zeroSelectorNegativeDouble {
			return document.Double(math.Copysign(0, -1)), nil
		}
		if sel < zeroSelectorDecimalBase {
			return document.Value{}, fmt.Errorf("%w: invalid zero selector %d", ErrDecode, sel)
		}
		biased := int64(sel-zeroSelectorDecimalBase)<<12 | int64(d.tb.ReadBits(12))
		neg := d.tb.ReadBit() != 0
		z := &apd.Decimal{Exponent: int32(biased - decimalBias), Negative: neg}
		return document.Decimal(z), nil
	}
}

func (d *decoder) readSmall(neg bool) (document.Value, error) {
	word, err := d.readWord(8, neg)
	if err != nil {
		return document.Value{}, err
	}
	dcm := byte(word & 3)
	bits := word >> 2
	code := d.tb.ReadNumeric()
	var exp6 byte
	if code == NumericDecimal {
		exp6 = byte(d.tb.ReadBits(6))
	}
	switch dcm {
	case dcmContinuation:
		if code != NumericDecimal {
			return document.Value{}, fmt.Errorf("%w: continuation without decimal type bits", ErrDecode)
		}
		cont, err := d.readContinuation(neg)
		if err != nil {
			return document.Value{}, err
		}
		return decodeDecimalContinuation(cont, exp6, neg), nil
	case dcmEqual:
		f := math.Float64frombits(bits)
		switch code {
		case NumericDouble:
			return document.Double(signed(f, neg)), nil
		case NumericDecimal:
			return decimalFromExactDouble(f, exp6, neg), nil
		default:
			return document.Value{}, fmt.Errorf("%w: fractional value with integer type bits", ErrDecode)
		}
	}
	return document.Value{}, fmt.Errorf("%w: invalid continuation marker %d", ErrDecode, dcm)
}

func (d *decoder) readInteger(n int, neg bool) (document.Value, error) {
	preshifted, err := d.readWord(n, neg)
	if err != nil {
		return document.Value{}, err
	}
	hasFrac := preshifted&1 != 0
	intPart := preshifted >> 1
	code := d.tb.ReadNumeric()
	var exp6 byte
	if code == NumericDecimal {
		exp6 = byte(d.tb.ReadBits(6))
	}

	if !hasFrac {
		switch code {
		case NumericInt32:
			if (neg && intPart > 1<<31) || (!neg && intPart > math.MaxInt32) {
				return document.Value{}, fmt.Errorf("%w: value out of int32 range", ErrDecode)
			}
			return document.Int32(int32(signedInt(intPart, neg))), nil
		case NumericInt64:
			return document.Int64(signedInt(intPart, neg)), nil
		case NumericDouble:
			return document.Double(signed(float64(intPart), neg)), nil
		default:
			return decimalFromExactDouble(float64(intPart), exp6, neg), nil
		}
	}

	word, err := d.readWord(7, neg)
	if err != nil {
		return document.Value{}, err
	}
	dcm := byte(word & 3)
	frac := float64(word>>2) / (1 << 54)
	switch dcm {
	case dcmContinuation:
		if code != NumericDecimal {
			return document.Value{}, fmt.Errorf("%w: continuation without decimal type bits", ErrDecode)
		}
		cont, err := d.readContinuation(neg)
		if err != nil {
			return document.Value{}, err
		}
		return decodeDecimalContinuation(cont, exp6, neg), nil
	case dcmEqual:
		f := float64(intPart) + frac
		switch code {
		case NumericDouble:
			return document.Double(signed(f, neg)), nil
		case NumericDecimal:
			return decimalFromExactDouble(f, exp6, neg), nil
		default:
			return document.Value{}, fmt.Errorf("%w: fractional value with integer type bits", ErrDecode)
		}
	}
	return document.Value{}, fmt.Errorf("%w: invalid continuation marker %d", ErrDecode, dcm)
}

func (d *decoder) readLarge(neg bool) (document.Value, error) {
	word, err := d.readWord(8, neg)
	if err != nil {
		return document.Value{}, err
	}
	hasCont := word&1 != 0
	f := math.Float64frombits(word >> 1)
	code := d.tb.ReadNumeric()
	var exp6 byte
	if code == NumericDecimal {
		exp6 = byte(d.tb.ReadBits(6))
	}

	if hasCont {
		if code != NumericDecimal {
			return document.Value{}, fmt.Errorf("%w: continuation without decimal type bits", ErrDecode)
		}
		cont, err := d.readContinuation(neg)
		if err != nil {
			return document.Value{}, err
		}
		return decodeDecimalContinuation(cont, exp6, neg), nil
	}

	switch code {
	case NumericDouble:
		return document.Double(signed(f, neg)), nil
	case NumericInt64:
		if neg && f == 9223372036854775808.0 {
			return document.Int64(math.MinInt64), nil
		}
		return document.Value{}, fmt.Errorf("%w: out of int64 range", ErrDecode)
	case NumericDecimal:
		if math.IsInf(f, 0) {
			return document.Decimal(&apd.Decimal{Form: apd.Infinite, Negative: neg}), nil
		}
		return decimalFromExactDouble(f, exp6, neg), nil
	default:
		return document.Value{}, fmt.Errorf("%w: large magnitude with int32 type bits", ErrDecode)
	}
}

func signed(f float64, neg bool) float64 {
	if neg {
		return -f
	}
	return f
}

func signedInt(magnitude uint64, neg bool) int64 {
	if neg {
		return -int64(magnitude)
	}
	return int64(magnitude)
}
