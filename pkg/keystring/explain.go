package keystring

import (
	"fmt"
	"strings"
)

// Explain renders a human-readable per-token breakdown of an encoded key:
// byte offset, raw bytes, and the decoded value of each field. Intended for
// diagnostics and index dump tooling.
func Explain(key []byte, ordering Ordering, tb *TypeBits) (string, error) {
	if tb == nil {
		tb = NewTypeBits()
	}
	d := &decoder{buf: key, tb: tb.Reader()}
	var sb strings.Builder
	field := 0
	for {
		if d.pos >= len(d.buf) {
			return "", fmt.Errorf("%w: unterminated key", ErrDecode)
		}
		switch d.buf[d.pos] {
		case endByte:
			fmt.Fprintf(&sb, "%4d  %-24s  end\n", d.pos, "04")
			d.pos++
			if d.pos < len(d.buf) {
				rem := d.buf[d.pos:]
				if id, _, err := DecodeRecordIdLongAtEnd(rem); err == nil {
					fmt.Fprintf(&sb, "%4d  %-24s  recordId %d\n", d.pos, hexBytes(rem), id)
				} else {
					fmt.Fprintf(&sb, "%4d  %-24s  recordId (string or unknown)\n", d.pos, hexBytes(rem))
				}
			}
			return sb.String(), nil
		case lessByte:
			fmt.Fprintf(&sb, "%4d  %-24s  exclusive-before\n", d.pos, "01")
			d.pos++
		case greaterByte:
			fmt.Fprintf(&sb, "%4d  %-24s  exclusive-after\n", d.pos, "fe")
			d.pos++
		default:
			start := d.pos
			d.invert = ordering.Descending(field)
			v, err := d.readValue()
			d.invert = false
			if err != nil {
				return "", err
			}
			dir := ""
			if ordering.Descending(field) {
				dir = " (descending)"
			}
			fmt.Fprintf(&sb, "%4d  %-24s  %s%s\n", start, hexBytes(key[start:d.pos]), v, dir)
			field++
		}
	}
}

func hexBytes(b []byte) string {
	const max = 12
	var sb strings.Builder
	for i, c := range b {
		if i == max {
			sb.WriteString("..")
			break
		}
		fmt.Fprintf(&sb, "%02x", c)
	}
	return sb.String()
}
