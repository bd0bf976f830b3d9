// Package sharding models shard key patterns, chunk ranges, and document
// routing for sharded collections. The key pattern is also what distributed
// pipeline planning consults when it decides whether merge-side writes can be
// partitioned by the target collection's shard key.
package sharding

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/keystring"
)

// KeyPattern describes how a collection is sharded: the ordered list of key
// paths and whether distribution is by hash or by range.
type KeyPattern struct {
	fields []string
	hashed bool
	unique bool
}

// NewKeyPattern parses a pattern document such as {user_id: 1} or
// {user_id: "hashed"}. Numeric field values select range sharding; the
// string "hashed" selects hash sharding and is allowed on one field only.
func NewKeyPattern(pattern *document.Document) (*KeyPattern, error) {
	if pattern == nil || pattern.Len() == 0 {
		return nil, ErrEmptyShardKey
	}

	kp := &KeyPattern{}
	seen := make(map[string]bool)
	for _, field := range pattern.Keys() {
		if seen[field] {
			return nil, fmt.Errorf("duplicate field in shard key: %s", field)
		}
		seen[field] = true

		v, _ := pattern.GetValue(field)
		switch {
		case v.Kind() == document.KindString && v.Str() == "hashed":
			if kp.hashed {
				return nil, fmt.Errorf("shard key may have at most one hashed field")
			}
			kp.hashed = true
		case v.Kind().IsNumeric():
		default:
			return nil, fmt.Errorf("invalid shard key value for field %s: %s", field, v)
		}
		kp.fields = append(kp.fields, field)
	}
	return kp, nil
}

// RangeKey builds a range-sharded key pattern over the given paths.
func RangeKey(fields ...string) (*KeyPattern, error) {
	if len(fields) == 0 {
		return nil, ErrEmptyShardKey
	}
	seen := make(map[string]bool)
	for _, field := range fields {
		if seen[field] {
			return nil, fmt.Errorf("duplicate field in shard key: %s", field)
		}
		seen[field] = true
	}
	return &KeyPattern{fields: append([]string(nil), fields...)}, nil
}

// HashedKey builds a hash-sharded key pattern over a single path.
func HashedKey(field string) (*KeyPattern, error) {
	if field == "" {
		return nil, ErrEmptyShardKey
	}
	return &KeyPattern{fields: []string{field}, hashed: true}, nil
}

// Paths returns the shard key paths in pattern order.
func (kp *KeyPattern) Paths() []string {
	return append([]string(nil), kp.fields...)
}

// Hashed reports whether the key distributes documents by hash.
func (kp *KeyPattern) Hashed() bool { return kp.hashed }

// Unique reports whether the shard key also guarantees uniqueness.
func (kp *KeyPattern) Unique() bool { return kp.unique }

// SetUnique marks the shard key as unique.
func (kp *KeyPattern) SetUnique(unique bool) { kp.unique = unique }

// Extract pulls the shard key values out of a document in pattern order.
// Every key path must be present.
func (kp *KeyPattern) Extract(doc *document.Document) ([]document.Value, error) {
	values := make([]document.Value, 0, len(kp.fields))
	for _, field := range kp.fields {
		v, ok := doc.GetPath(field)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingShardKeyField, field)
		}
		values = append(values, v)
	}
	return values, nil
}

// EncodedKey returns order-preserving bytes for a shard key value, so range
// chunk bounds compare the same way the values themselves do.
func (kp *KeyPattern) EncodedKey(values []document.Value) []byte {
	return keystring.Encode(values, keystring.AllAscending, keystring.Inclusive).Bytes()
}

// Hash maps a shard key value onto the hashed distribution space. The hash
// runs over the encoded key bytes, so values that compare equal hash equal
// regardless of their numeric representation.
func (kp *KeyPattern) Hash(values []document.Value) uint64 {
	h := fnv.New64a()
	h.Write(kp.EncodedKey(values))
	return h.Sum64()
}

// Compare orders two shard key values field by field.
// Returns -1, 0, or 1.
func (kp *KeyPattern) Compare(a, b []document.Value) int {
	for i := 0; i < len(kp.fields); i++ {
		if i >= len(a) || i >= len(b) {
			switch {
			case len(a) == len(b):
				return 0
			case len(a) < len(b):
				return -1
			default:
				return 1
			}
		}
		if c := a[i].Compare(b[i]); c != 0 {
			return c
		}
	}
	return 0
}

// String returns the pattern in {field: 1, field: "hashed"} form.
func (kp *KeyPattern) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, field := range kp.fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(field)
		if kp.hashed {
			sb.WriteString(`: "hashed"`)
		} else {
			sb.WriteString(": 1")
		}
	}
	sb.WriteByte('}')
	return sb.String()
}
