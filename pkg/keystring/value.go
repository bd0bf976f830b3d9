package keystring

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Version1 is the only supported encoding version. The version byte leads
// every serialized key value so older encodings are rejected explicitly
// rather than misread.
const Version1 byte = 1

// Value is a complete encoded key: the ordering bytes plus the TypeBits
// needed to decode it. Comparing Values compares only the ordering bytes.
type Value struct {
	version byte
	key     []byte
	tb      *TypeBits
}

// NewValue wraps raw key bytes and type bits as a Value.
func NewValue(key []byte, tb *TypeBits) Value {
	if tb == nil {
		tb = NewTypeBits()
	}
	return Value{version: Version1, key: key, tb: tb}
}

// Bytes returns the ordering bytes.
func (v Value) Bytes() []byte { return v.key }

// TypeBits returns the type restoration bits.
func (v Value) TypeBits() *TypeBits { return v.tb }

// Compare orders two encoded keys bytewise. This never inspects TypeBits;
// equal ordering bytes mean equal keys regardless of original subtype.
func (v Value) Compare(other Value) int {
	return bytes.Compare(v.key, other.key)
}

// Compare orders two raw encoded keys bytewise.
func Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// Serialize renders the value as a storable blob:
//
//	[version byte][4-byte little-endian key size][key bytes][TypeBits]
func (v Value) Serialize() []byte {
	out := make([]byte, 0, 5+len(v.key)+len(v.tb.buf)+1)
	out = append(out, v.version)
	var sz [4]byte
	binary.LittleEndian.PutUint32(sz[:], uint32(len(v.key)))
	out = append(out, sz[:]...)
	out = append(out, v.key...)
	return v.tb.Serialize(out)
}

// DeserializeValue reads a serialized key value, returning the number of
// bytes consumed so values can be stored back to back.
func DeserializeValue(data []byte) (Value, int, error) {
	if len(data) < 5 {
		return Value{}, 0, fmt.Errorf("%w: truncated serialized key", ErrDecode)
	}
	if data[0] != Version1 {
		return Value{}, 0, fmt.Errorf("%w: version %d", ErrVersion, data[0])
	}
	size := int(binary.LittleEndian.Uint32(data[1:5]))
	if len(data) < 5+size {
		return Value{}, 0, fmt.Errorf("%w: truncated key bytes", ErrDecode)
	}
	key := append([]byte(nil), data[5:5+size]...)
	tb, n, err := DeserializeTypeBits(data[5+size:])
	if err != nil {
		return Value{}, 0, err
	}
	return Value{version: Version1, key: key, tb: tb}, 5 + size + n, nil
}
