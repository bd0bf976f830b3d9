// Package keystring implements the order-preserving binary key encoding used
// by indexes and the ordered document store.
//
// Every typed value encodes to a self-delimiting token: a one-byte type marker
// whose numeric value follows the canonical cross-type order, then a payload
// laid out so that for values in the same type bracket, byte-lexicographic
// order of the payload equals value order. Numerically equal Int32/Int64/
// Double/Decimal values produce identical ordering bytes; the original numeric
// subtype travels out-of-band in a TypeBits side channel so decoding restores
// the exact original value. Comparing two encoded keys is a plain bytes
// comparison and never needs the TypeBits.
//
// A field indexed in descending order has every byte of its token bitwise
// inverted. The terminator byte after the last field, and any trailing
// RecordId, are never inverted.
package keystring

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/corvusdb/corvus/pkg/document"
)

// Type markers. Gaps between the values leave room for future brackets while
// keeping the byte order aligned with the cross-type value order.
const (
	markerMinKey    = 10
	markerUndefined = 15
	markerNullish   = 20

	markerNaN      = 30
	markerNegLarge = 31
	// Negative integers: markerNegNInt(n) for n payload bytes, 32..39.
	markerNeg8Int  = 32
	markerNeg1Int  = 39
	markerNegSmall = 40
	markerZero     = 41
	markerPosSmall = 42
	// Positive integers: markerPosNInt(n) for n payload bytes, 43..50.
	markerPos1Int  = 43
	markerPos8Int  = 50
	markerPosLarge = 51

	markerString    = 60
	markerObject    = 70
	markerArray     = 80
	markerBinary    = 90
	markerOID       = 100
	markerBoolFalse = 110
	markerBoolTrue  = 111
	markerDate      = 120
	markerTimestamp = 130
	markerRegex     = 140
	markerDBRef     = 150
	markerMaxKey    = 240
)

// Terminator bytes. None of them collides with a marker byte or with the
// bitwise inverse of a marker byte, so the end of the value portion is
// unambiguous even after descending inversion.
const (
	endByte     = 0x04
	lessByte    = 0x01
	greaterByte = 0xFE
)

// Continuation markers stored in the low bits of double payloads. Zero means
// the encoded bytes represent the value exactly; dcmContinuation means a
// decimal continuation block follows.
const (
	dcmEqual        = 0
	dcmContinuation = 3
)

// Discriminator adjusts where a search key falls relative to stored keys
// sharing the same value prefix. Discriminators are only used for bounds and
// are never stored.
type Discriminator int

const (
	Inclusive Discriminator = iota
	ExclusiveBefore
	ExclusiveAfter
)

// Ordering records, per key field, whether that field is indexed descending.
// Bit i set means field i is descending. Fields beyond 31 are ascending.
type Ordering uint32

// AllAscending is the ordering with every field ascending.
const AllAscending Ordering = 0

// Descending reports whether field i is descending.
func (o Ordering) Descending(i int) bool {
	return i < 32 && o&(1<<uint(i)) != 0
}

// OrderingFromKeyPattern derives an Ordering from an index key pattern
// document such as {a: 1, b: -1}.
func OrderingFromKeyPattern(pattern *document.Document) Ordering {
	var o Ordering
	for i, field := range pattern.Keys() {
		if i >= 32 {
			break
		}
		v, _ := pattern.GetValue(field)
		if d, ok := v.AsDouble(); ok && d < 0 {
			o |= 1 << uint(i)
		}
	}
	return o
}

type builderState int

const (
	stateAppending builderState = iota
	stateSealed
	stateRecordID
)

// Builder incrementally assembles an encoded key. Misuse (appending a value
// after the key is sealed) is a programming error and panics.
type Builder struct {
	buf      []byte
	tb       *TypeBits
	ordering Ordering
	field    int
	invert   bool
	state    builderState
}

// NewBuilder returns an empty builder for keys with the given per-field
// ordering.
func NewBuilder(ordering Ordering) *Builder {
	return &Builder{
		tb:       NewTypeBits(),
		ordering: ordering,
	}
}

// Reset clears the builder for reuse with a new ordering.
func (b *Builder) Reset(ordering Ordering) {
	b.buf = b.buf[:0]
	b.tb.Reset()
	b.ordering = ordering
	b.field = 0
	b.state = stateAppending
}

// writeByte appends one payload byte, applying descending inversion for the
// current field.
func (b *Builder) writeByte(c byte) {
	if b.invert {
		c = ^c
	}
	b.buf = append(b.buf, c)
}

func (b *Builder) writeBytes(data []byte) {
	for _, c := range data {
		b.writeByte(c)
	}
}

// writeRaw appends bytes that are never inverted (terminators, RecordIds).
func (b *Builder) writeRaw(data ...byte) {
	b.buf = append(b.buf, data...)
}

// AppendValue encodes one key field.
func (b *Builder) AppendValue(v document.Value) {
	if b.state != stateAppending {
		panic("keystring: AppendValue after key was sealed")
	}
	b.invert = b.ordering.Descending(b.field)
	b.appendValue(v)
	b.invert = false
	b.field++
}

// AppendDiscriminator seals the value portion with the given discriminator
// and the terminator byte. Exclusive keys are search bounds; no RecordId may
// follow them.
func (b *Builder) AppendDiscriminator(d Discriminator) {
	if b.state != stateAppending {
		panic("keystring: AppendDiscriminator after key was sealed")
	}
	switch d {
	case ExclusiveBefore:
		b.writeRaw(lessByte)
	case ExclusiveAfter:
		b.writeRaw(greaterByte)
	}
	b.writeRaw(endByte)
	b.state = stateSealed
	if d != Inclusive {
		b.state = stateRecordID // nothing may follow an exclusive bound
	}
}

func (b *Builder) sealForRecordID() {
	switch b.state {
	case stateAppending:
		b.writeRaw(endByte)
		b.state = stateSealed
	case stateSealed:
	default:
		panic("keystring: RecordId appended after an exclusive bound")
	}
}

// AppendRecordIdLong appends an int64 RecordId tie-breaker suffix. The id
// must be non-negative.
func (b *Builder) AppendRecordIdLong(id int64) {
	if id < 0 {
		panic("keystring: negative RecordId")
	}
	b.sealForRecordID()
	b.buf = appendRecordIdLong(b.buf, id)
	b.state = stateRecordID
}

// AppendRecordIdStr appends a string RecordId tie-breaker suffix.
func (b *Builder) AppendRecordIdStr(rid []byte) {
	b.sealForRecordID()
	b.buf = appendRecordIdStr(b.buf, rid)
	b.state = stateRecordID
}

// Build seals the key (inclusive, if not already sealed) and returns the
// encoded form. The returned Value copies nothing; the builder must not be
// reused without Reset.
func (b *Builder) Build() Value {
	if b.state == stateAppending {
		b.AppendDiscriminator(Inclusive)
	}
	return Value{version: Version1, key: b.buf, tb: b.tb}
}

// Bytes returns the encoded bytes so far.
func (b *Builder) Bytes() []byte { return b.buf }

// TypeBits returns the type restoration bits accumulated so far.
func (b *Builder) TypeBits() *TypeBits { return b.tb }

// Encode is the one-shot form: encode values with the given ordering and
// discriminator.
func Encode(values []document.Value, ordering Ordering, d Discriminator) Value {
	b := NewBuilder(ordering)
	for _, v := range values {
		b.AppendValue(v)
	}
	b.AppendDiscriminator(d)
	return b.Build()
}

func (b *Builder) appendValue(v document.Value) {
	switch v.Kind() {
	case document.KindMinKey:
		b.writeByte(markerMinKey)
	case document.KindMaxKey:
		b.writeByte(markerMaxKey)
	case document.KindUndefined:
		b.writeByte(markerUndefined)
	case document.KindNull:
		b.writeByte(markerNullish)
	case document.KindBool:
		if v.Bool() {
			b.writeByte(markerBoolTrue)
		} else {
			b.writeByte(markerBoolFalse)
		}
	case document.KindInt32:
		b.appendInt(int64(v.Int32()), NumericInt32)
	case document.KindInt64:
		b.appendInt(v.Int64(), NumericInt64)
	case document.KindDouble:
		b.appendDouble(v.Double())
	case document.KindDecimal:
		b.appendDecimal(v.Decimal())
	case document.KindString:
		b.tb.AppendStringLike(false)
		b.appendStringLike(v.Str())
	case document.KindSymbol:
		b.tb.AppendStringLike(true)
		b.appendStringLike(v.Str())
	case document.KindDate:
		b.writeByte(markerDate)
		var p [8]byte
		binary.BigEndian.PutUint64(p[:], uint64(v.DateMillis())^(1<<63))
		b.writeBytes(p[:])
	case document.KindTimestamp:
		b.writeByte(markerTimestamp)
		ts := v.Timestamp()
		var p [8]byte
		binary.BigEndian.PutUint64(p[:], uint64(ts.Seconds)<<32|uint64(ts.Increment))
		b.writeBytes(p[:])
	case document.KindObjectID:
		b.writeByte(markerOID)
		id := v.ObjectID()
		b.writeBytes(id[:])
	case document.KindBinary:
		b.writeByte(markerBinary)
		bin := v.Binary()
		if len(bin.Data) < 0xFF {
			b.writeByte(byte(len(bin.Data)))
		} else {
			b.writeByte(0xFF)
			var p [4]byte
			binary.BigEndian.PutUint32(p[:], uint32(len(bin.Data)))
			b.writeBytes(p[:])
		}
		b.writeByte(bin.Subtype)
		b.writeBytes(bin.Data)
	case document.KindRegex:
		b.writeByte(markerRegex)
		rx := v.Regex()
		b.appendCString(rx.Pattern)
		b.appendCString(rx.Options)
	case document.KindDBRef:
		b.writeByte(markerDBRef)
		ref := v.DBRef()
		b.appendEscapedString(ref.Namespace)
		// A 0x01 byte separates the namespace terminator from the id. The
		// terminator's escape lookahead would otherwise swallow an id whose
		// first byte is 0xFF.
		b.writeByte(1)
		b.writeBytes(ref.ID[:])
	case document.KindObject:
		b.writeByte(markerObject)
		b.appendObject(v.Document())
	case document.KindArray:
		b.writeByte(markerArray)
		for _, item := range v.Array() {
			b.appendValue(item)
		}
		b.writeByte(0)
	default:
		panic(fmt.Sprintf("keystring: cannot encode kind %v", v.Kind()))
	}
}

// appendObject encodes a nested document: per field the value's marker, the
// field name, then the value payload; a zero byte terminates the object.
func (b *Builder) appendObject(doc *document.Document) {
	for _, name := range doc.Keys() {
		v, _ := doc.GetValue(name)
		start := len(b.buf)
		b.appendValue(v)
		// Splice the field name between the marker and the payload.
		marker := b.buf[start]
		payload := append([]byte(nil), b.buf[start+1:]...)
		b.buf = b.buf[:start]
		b.buf = append(b.buf, marker)
		b.appendCString(name)
		b.buf = append(b.buf, payload...)
	}
	b.writeByte(0)
}

// appendStringLike writes string contents with 0x00 escaped as 0x00 0xFF,
// terminated by a bare 0x00.
func (b *Builder) appendStringLike(s string) {
	b.writeByte(markerString)
	b.appendEscapedString(s)
}

func (b *Builder) appendEscapedString(s string) {
	for i := 0; i < len(s); i++ {
		b.writeByte(s[i])
		if s[i] == 0 {
			b.writeByte(0xFF)
		}
	}
	b.writeByte(0)
}

// appendCString writes a name that cannot contain NUL, terminated by 0x00.
func (b *Builder) appendCString(s string) {
	for i := 0; i < len(s); i++ {
		b.writeByte(s[i])
	}
	b.writeByte(0)
}

// appendInt encodes an integer. The magnitude is preshifted one bit to leave
// room for the has-fraction flag shared with the double encoding, so equal
// ints and integral doubles produce identical bytes.
func (b *Builder) appendInt(i int64, code NumericKind) {
	b.tb.AppendNumeric(code)
	if i == 0 {
		b.writeByte(markerZero)
		return
	}
	neg := i < 0
	var magnitude uint64
	if neg {
		magnitude = uint64(-(i + 1)) + 1 // handles MinInt64
	} else {
		magnitude = uint64(i)
	}
	if magnitude > math.MaxInt64 {
		// Only MinInt64: its magnitude 2^63 cannot be preshifted, but it is
		// exactly representable as a double.
		b.appendLargePayload(math.Float64bits(9223372036854775808.0), false, neg, nil)
		return
	}
	b.appendPreshifted(magnitude<<1, neg)
}

// appendPreshifted writes the integer-class marker and big-endian payload for
// an already preshifted magnitude. Negative values complement the payload.
func (b *Builder) appendPreshifted(preshifted uint64, neg bool) {
	n := (bits64(preshifted) + 7) / 8
	if n == 0 {
		n = 1
	}
	if neg {
		b.writeByte(byte(markerNeg1Int - (n - 1)))
	} else {
		b.writeByte(byte(markerPos1Int + (n - 1)))
	}
	for i := n - 1; i >= 0; i-- {
		c := byte(preshifted >> (uint(i) * 8))
		if neg {
			c = ^c
		}
		b.writeByte(c)
	}
}

func (b *Builder) appendDouble(f float64) {
	if f == 0 {
		if math.Signbit(f) {
			b.tb.AppendNegativeDoubleZero()
		} else {
			b.tb.AppendNumeric(NumericDouble)
		}
		b.writeByte(markerZero)
		return
	}
	b.tb.AppendNumeric(NumericDouble)
	if math.IsNaN(f) {
		b.writeByte(markerNaN)
		return
	}
	b.appendMagnitude(math.Abs(f), math.Signbit(f), dcmEqual, nil)
}

// appendMagnitude encodes a positive double magnitude with an optional
// decimal continuation, complementing payload bytes when neg is set.
func (b *Builder) appendMagnitude(m float64, neg bool, dcm byte, continuation []byte) {
	switch {
	case m < 1:
		// Small magnitude: raw IEEE bits shifted to make room for the
		// continuation marker. The sign bit is zero, so this fits.
		word := math.Float64bits(m)<<2 | uint64(dcm)
		if neg {
			b.writeByte(markerNegSmall)
		} else {
			b.writeByte(markerPosSmall)
		}
		b.writeWord(word, 8, neg)
		b.writeContinuation(continuation, neg)
	case m < 9223372036854775808.0: // 2^63
		intPart := uint64(m)
		frac := m - float64(intPart)
		hasFrac := frac != 0 || dcm != dcmEqual
		preshifted := intPart << 1
		if hasFrac {
			preshifted |= 1
		}
		b.appendPreshifted(preshifted, neg)
		if hasFrac {
			// frac*2^54 is an exact integer for any double >= 1.
			word := uint64(frac*(1<<54))<<2 | uint64(dcm)
			b.writeWord(word, 7, neg)
			b.writeContinuation(continuation, neg)
		}
	default:
		b.appendLargePayload(math.Float64bits(m), dcm != dcmEqual, neg, continuation)
	}
}

// appendLargePayload writes the large-magnitude token for IEEE bits of a
// positive double >= 2^63 (or +Inf). The low payload bit flags a decimal
// continuation.
func (b *Builder) appendLargePayload(ieeeBits uint64, hasCont, neg bool, continuation []byte) {
	if neg {
		b.writeByte(markerNegLarge)
	} else {
		b.writeByte(markerPosLarge)
	}
	word := ieeeBits << 1
	if hasCont {
		word |= 1
	}
	b.writeWord(word, 8, neg)
	if hasCont {
		b.writeContinuation(continuation, neg)
	}
}

// writeWord writes the low n bytes of word big-endian, complemented if neg.
func (b *Builder) writeWord(word uint64, n int, neg bool) {
	for i := n - 1; i >= 0; i-- {
		c := byte(word >> (uint(i) * 8))
		if neg {
			c = ^c
		}
		b.writeByte(c)
	}
}

func (b *Builder) writeContinuation(continuation []byte, neg bool) {
	for _, c := range continuation {
		if neg {
			c = ^c
		}
		b.writeByte(c)
	}
}

func bits64(v uint64) int {
	n := 0
	for v != 0 {
		n++
		v >>= 1
	}
	return n
}
