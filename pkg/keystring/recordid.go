package keystring

import (
	"fmt"
	"math/bits"
)

// RecordId long suffix layout: the byte count must be recoverable from the
// last byte alone (keys are trimmed from the end), so the extra-byte count is
// stored in both the high 3 bits of the first byte and the low 3 bits of the
// last byte. Five value bits ride in each of those two bytes and the
// remaining value bits sit big-endian between them, giving 10+8*extra bits
// of capacity across 2 to 9 total bytes.

func appendRecordIdLong(buf []byte, id int64) []byte {
	value := uint64(id)
	needed := bits.Len64(value | 1)
	extra := 0
	if needed > 10 {
		extra = (needed - 10 + 7) / 8
	}
	buf = append(buf, byte(extra)<<5|byte(value>>uint(5+8*extra)))
	for i := extra - 1; i >= 0; i-- {
		buf = append(buf, byte(value>>uint(5+8*i)))
	}
	return append(buf, byte(value&0x1F)<<3|byte(extra))
}

// DecodeRecordIdLongAtEnd decodes the RecordId long suffix of buf and
// returns the id along with the size of the key without the suffix.
func DecodeRecordIdLongAtEnd(buf []byte) (int64, int, error) {
	if len(buf) < 2 {
		return 0, 0, fmt.Errorf("%w: buffer too small for RecordId", ErrDecode)
	}
	last := buf[len(buf)-1]
	extra := int(last & 7)
	size := 2 + extra
	if len(buf) < size {
		return 0, 0, fmt.Errorf("%w: truncated RecordId", ErrDecode)
	}
	start := len(buf) - size
	first := buf[start]
	if int(first>>5) != extra {
		return 0, 0, fmt.Errorf("%w: inconsistent RecordId size bytes", ErrDecode)
	}
	value := uint64(first & 0x1F)
	for _, c := range buf[start+1 : len(buf)-1] {
		value = value<<8 | uint64(c)
	}
	value = value<<5 | uint64(last>>3)
	return int64(value), start, nil
}

// SizeWithoutRecordIdLongAtEnd returns the size of the key without its
// trailing RecordId long suffix.
func SizeWithoutRecordIdLongAtEnd(buf []byte) (int, error) {
	_, size, err := DecodeRecordIdLongAtEnd(buf)
	return size, err
}

// RecordId string suffix: the byte length is encoded first in one to four
// 7-bit groups, most significant group first, the high bit of each group set
// except the last. The raw bytes follow. Sizes up to 2^28-1 are expressible.

func appendRecordIdStr(buf []byte, rid []byte) []byte {
	size := uint32(len(rid))
	if size >= 1<<28 {
		panic("keystring: RecordId string too large")
	}
	var groups [4]byte
	n := 0
	for {
		groups[n] = byte(size & 0x7F)
		n++
		size >>= 7
		if size == 0 {
			break
		}
	}
	for i := n - 1; i > 0; i-- {
		buf = append(buf, groups[i]|0x80)
	}
	buf = append(buf, groups[0])
	return append(buf, rid...)
}

// DecodeRecordIdStr decodes a RecordId string suffix starting at the front
// of rem (the remainder bytes following a key's terminator).
func DecodeRecordIdStr(rem []byte) ([]byte, error) {
	size := 0
	i := 0
	for {
		if i >= len(rem) || i >= 4 {
			return nil, fmt.Errorf("%w: truncated RecordId size prefix", ErrDecode)
		}
		c := rem[i]
		size = size<<7 | int(c&0x7F)
		i++
		if c&0x80 == 0 {
			break
		}
	}
	if len(rem) < i+size {
		return nil, fmt.Errorf("%w: truncated RecordId string", ErrDecode)
	}
	return rem[i : i+size], nil
}
