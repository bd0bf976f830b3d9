package document

import (
	"bytes"
	"math"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Kind identifies the type of a Value.
type Kind byte

const (
	KindMinKey Kind = iota
	KindUndefined
	KindNull
	KindInt32
	KindInt64
	KindDouble
	KindDecimal
	KindString
	KindSymbol
	KindObject
	KindArray
	KindBinary
	KindObjectID
	KindBool
	KindDate
	KindTimestamp
	KindRegex
	KindDBRef
	KindMaxKey
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindMinKey:
		return "minKey"
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindInt32:
		return "int"
	case KindInt64:
		return "long"
	case KindDouble:
		return "double"
	case KindDecimal:
		return "decimal"
	case KindString:
		return "string"
	case KindSymbol:
		return "symbol"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindBinary:
		return "binData"
	case KindObjectID:
		return "objectId"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	case KindTimestamp:
		return "timestamp"
	case KindRegex:
		return "regex"
	case KindDBRef:
		return "dbPointer"
	case KindMaxKey:
		return "maxKey"
	default:
		return "unknown"
	}
}

// TypeBracket returns the canonical ordering rank of the kind. Values of
// different kinds compare by bracket first; all numeric kinds share one
// bracket, as do string and symbol.
func (k Kind) TypeBracket() int {
	switch k {
	case KindMinKey:
		return 0
	case KindUndefined:
		return 1
	case KindNull:
		return 2
	case KindInt32, KindInt64, KindDouble, KindDecimal:
		return 3
	case KindString, KindSymbol:
		return 4
	case KindObject:
		return 5
	case KindArray:
		return 6
	case KindBinary:
		return 7
	case KindObjectID:
		return 8
	case KindBool:
		return 9
	case KindDate:
		return 10
	case KindTimestamp:
		return 11
	case KindRegex:
		return 12
	case KindDBRef:
		return 13
	case KindMaxKey:
		return 14
	default:
		return -1
	}
}

// IsNumeric reports whether the kind is one of the four numeric kinds.
func (k Kind) IsNumeric() bool {
	return k == KindInt32 || k == KindInt64 || k == KindDouble || k == KindDecimal
}

// Timestamp is an internal (seconds, increment) pair, distinct from Date.
type Timestamp struct {
	Seconds   uint32
	Increment uint32
}

// Regex holds a regular expression pattern and its option flags.
type Regex struct {
	Pattern string
	Options string
}

// DBRef is a namespace plus ObjectID reference to another document.
type DBRef struct {
	Namespace string
	ID        ObjectID
}

// Binary is a subtyped byte payload.
type Binary struct {
	Subtype byte
	Data    []byte
}

// Value is an immutable typed value. The zero Value is null.
type Value struct {
	kind Kind
	// num holds the payload for fixed-width kinds: the integer itself for
	// int32/int64, IEEE bits for double, millis for date, the packed
	// (seconds<<32 | increment) for timestamp, 0/1 for bool.
	num uint64
	str string
	dec *apd.Decimal
	bin Binary
	oid ObjectID
	doc *Document
	arr []Value
	rx  Regex
	ref DBRef
}

// Constructors. Values are immutable once built; callers must not mutate
// slices or documents handed to these.

func Null() Value      { return Value{kind: KindNull} }
func Undefined() Value { return Value{kind: KindUndefined} }
func MinKey() Value    { return Value{kind: KindMinKey} }
func MaxKey() Value    { return Value{kind: KindMaxKey} }

func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

func Int32(i int32) Value       { return Value{kind: KindInt32, num: uint64(int64(i))} }
func Int64(i int64) Value       { return Value{kind: KindInt64, num: uint64(i)} }
func Double(f float64) Value    { return Value{kind: KindDouble, num: math.Float64bits(f)} }
func String(s string) Value     { return Value{kind: KindString, str: s} }
func Symbol(s string) Value     { return Value{kind: KindSymbol, str: s} }
func Date(t time.Time) Value    { return DateMillis(t.UnixMilli()) }
func DateMillis(ms int64) Value { return Value{kind: KindDate, num: uint64(ms)} }
func NewTimestamp(ts Timestamp) Value {
	return Value{kind: KindTimestamp, num: uint64(ts.Seconds)<<32 | uint64(ts.Increment)}
}
func NewBinary(subtype byte, data []byte) Value {
	return Value{kind: KindBinary, bin: Binary{Subtype: subtype, Data: data}}
}
func NewObjectID(id ObjectID) Value { return Value{kind: KindObjectID, oid: id} }
func NewRegex(pattern, options string) Value {
	return Value{kind: KindRegex, rx: Regex{Pattern: pattern, Options: options}}
}
func NewDBRef(ns string, id ObjectID) Value {
	return Value{kind: KindDBRef, ref: DBRef{Namespace: ns, ID: id}}
}
func Object(d *Document) Value { return Value{kind: KindObject, doc: d} }
func Array(vals []Value) Value { return Value{kind: KindArray, arr: vals} }

// Decimal creates a decimal value. The decimal is not copied; callers must
// not mutate it afterwards.
func Decimal(d *apd.Decimal) Value { return Value{kind: KindDecimal, dec: d} }

// DecimalFromString parses a decimal literal. Invalid input yields a decimal
// NaN, mirroring how unparseable decimals behave elsewhere in the system.
func DecimalFromString(s string) Value {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		d = &apd.Decimal{Form: apd.NaN}
	}
	return Decimal(d)
}

// Accessors. Each is only meaningful for the matching kind.

func (v Value) Kind() Kind         { return v.kind }
func (v Value) IsNull() bool       { return v.kind == KindNull }
func (v Value) Bool() bool         { return v.num != 0 }
func (v Value) Int32() int32       { return int32(int64(v.num)) }
func (v Value) Int64() int64       { return int64(v.num) }
func (v Value) Double() float64    { return math.Float64frombits(v.num) }
func (v Value) Decimal() *apd.Decimal { return v.dec }
func (v Value) Str() string        { return v.str }
func (v Value) DateMillis() int64  { return int64(v.num) }
func (v Value) Timestamp() Timestamp {
	return Timestamp{Seconds: uint32(v.num >> 32), Increment: uint32(v.num)}
}
func (v Value) Binary() Binary     { return v.bin }
func (v Value) ObjectID() ObjectID { return v.oid }
func (v Value) Regex() Regex       { return v.rx }
func (v Value) DBRef() DBRef       { return v.ref }
func (v Value) Document() *Document { return v.doc }
func (v Value) Array() []Value     { return v.arr }

// AsDouble converts any numeric value to float64. Decimals round to the
// nearest double.
func (v Value) AsDouble() (float64, bool) {
	switch v.kind {
	case KindInt32, KindInt64:
		return float64(int64(v.num)), true
	case KindDouble:
		return v.Double(), true
	case KindDecimal:
		f, _ := v.dec.Float64()
		return f, true
	}
	return 0, false
}

// AsInt64 converts int32/int64 values to int64.
func (v Value) AsInt64() (int64, bool) {
	switch v.kind {
	case KindInt32, KindInt64:
		return int64(v.num), true
	}
	return 0, false
}

// Compare totally orders two values: type bracket first, then a
// kind-appropriate payload comparison. Numerics compare by numeric value
// across kinds, string and symbol compare by raw bytes.
// Returns -1, 0, or 1.
func (v Value) Compare(other Value) int {
	lb, rb := v.kind.TypeBracket(), other.kind.TypeBracket()
	if lb != rb {
		return sign(lb - rb)
	}

	switch {
	case v.kind.IsNumeric():
		return compareNumeric(v, other)
	case v.kind == KindString || v.kind == KindSymbol:
		return bytes.Compare([]byte(v.str), []byte(other.str))
	}

	switch v.kind {
	case KindMinKey, KindUndefined, KindNull, KindMaxKey:
		return 0
	case KindBool:
		return sign(int(v.num) - int(other.num))
	case KindDate:
		return compareInt64(int64(v.num), int64(other.num))
	case KindTimestamp:
		return compareUint64(v.num, other.num)
	case KindObjectID:
		return bytes.Compare(v.oid[:], other.oid[:])
	case KindBinary:
		// Length, then subtype, then contents.
		if c := sign(len(v.bin.Data) - len(other.bin.Data)); c != 0 {
			return c
		}
		if c := sign(int(v.bin.Subtype) - int(other.bin.Subtype)); c != 0 {
			return c
		}
		return bytes.Compare(v.bin.Data, other.bin.Data)
	case KindRegex:
		if c := bytes.Compare([]byte(v.rx.Pattern), []byte(other.rx.Pattern)); c != 0 {
			return c
		}
		return bytes.Compare([]byte(v.rx.Options), []byte(other.rx.Options))
	case KindDBRef:
		if c := bytes.Compare([]byte(v.ref.Namespace), []byte(other.ref.Namespace)); c != 0 {
			return c
		}
		return bytes.Compare(v.ref.ID[:], other.ref.ID[:])
	case KindObject:
		return compareDocuments(v.doc, other.doc)
	case KindArray:
		return compareArrays(v.arr, other.arr)
	}
	return 0
}

// Equal reports value equality under Compare semantics (1 == 1.0).
func (v Value) Equal(other Value) bool {
	return v.Compare(other) == 0
}

// IdenticalTo reports exact equality including numeric kind, so
// Int32(1) is not identical to Int64(1).
func (v Value) IdenticalTo(other Value) bool {
	return v.kind == other.kind && v.Compare(other) == 0
}

// compareNumeric compares any two numeric values by numeric value.
func compareNumeric(a, b Value) int {
	// Decimal on either side routes through apd for exactness.
	if a.kind == KindDecimal || b.kind == KindDecimal {
		ad, bd := a.toDecimal(), b.toDecimal()
		return compareDecimals(ad, bd)
	}
	aIsInt := a.kind == KindInt32 || a.kind == KindInt64
	bIsInt := b.kind == KindInt32 || b.kind == KindInt64
	if aIsInt && bIsInt {
		return compareInt64(int64(a.num), int64(b.num))
	}
	if !aIsInt && !bIsInt {
		return compareDoubles(a.Double(), b.Double())
	}
	if aIsInt {
		return -compareDoubleInt64(b.Double(), int64(a.num))
	}
	return compareDoubleInt64(a.Double(), int64(b.num))
}

// compareDoubleInt64 compares a double against an int64 without losing
// precision for magnitudes beyond 2^53.
func compareDoubleInt64(d float64, i int64) int {
	if math.IsNaN(d) {
		return -1 // NaN sorts below all numbers.
	}
	if d >= 9223372036854775808.0 { // 2^63
		return 1
	}
	if d < -9223372036854775808.0 {
		return -1
	}
	trunc := int64(d)
	if trunc != i {
		return compareInt64(trunc, i)
	}
	frac := d - float64(trunc)
	switch {
	case frac > 0:
		return 1
	case frac < 0:
		return -1
	}
	return 0
}

func compareDoubles(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return -1
	case bNaN:
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareDecimals(a, b *apd.Decimal) int {
	aNaN := a.Form == apd.NaN || a.Form == apd.NaNSignaling
	bNaN := b.Form == apd.NaN || b.Form == apd.NaNSignaling
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return -1
	case bNaN:
		return 1
	}
	return a.Cmp(b)
}

func (v Value) toDecimal() *apd.Decimal {
	switch v.kind {
	case KindDecimal:
		return v.dec
	case KindInt32, KindInt64:
		d := &apd.Decimal{}
		d.SetInt64(int64(v.num))
		return d
	case KindDouble:
		d := &apd.Decimal{}
		f := v.Double()
		if math.IsNaN(f) {
			d.Form = apd.NaN
			return d
		}
		if math.IsInf(f, 0) {
			d.Form = apd.Infinite
			d.Negative = f < 0
			return d
		}
		// Binary doubles are exactly representable as decimals.
		if _, err := d.SetFloat64(f); err != nil {
			d.Form = apd.NaN
		}
		return d
	}
	return &apd.Decimal{Form: apd.NaN}
}

func compareDocuments(a, b *Document) int {
	an, bn := a.Len(), b.Len()
	n := an
	if bn < n {
		n = bn
	}
	for i := 0; i < n; i++ {
		ak, bk := a.order[i], b.order[i]
		if c := bytes.Compare([]byte(ak), []byte(bk)); c != 0 {
			return c
		}
		av, _ := a.GetValue(ak)
		bv, _ := b.GetValue(bk)
		if c := av.Compare(bv); c != 0 {
			return c
		}
	}
	return sign(an - bn)
}

func compareArrays(a, b []Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := a[i].Compare(b[i]); c != 0 {
			return c
		}
	}
	return sign(len(a) - len(b))
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func sign(i int) int {
	switch {
	case i < 0:
		return -1
	case i > 0:
		return 1
	}
	return 0
}
