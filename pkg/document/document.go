package document

import (
	"fmt"
	"strconv"
	"strings"
)

// Document represents an ordered set of named values
type Document struct {
	fields map[string]Value
	order  []string // Maintain insertion order
}

// NewDocument creates a new empty document
func NewDocument() *Document {
	return &Document{
		fields: make(map[string]Value),
	}
}

// D is a convenience constructor building a document from alternating
// field name / Value pairs, preserving the given order.
func D(pairs ...interface{}) *Document {
	doc := NewDocument()
	for i := 0; i+1 < len(pairs); i += 2 {
		name, ok := pairs[i].(string)
		if !ok {
			continue
		}
		if v, ok := pairs[i+1].(Value); ok {
			doc.Set(name, v)
		}
	}
	return doc
}

// Set sets a field value in the document
func (d *Document) Set(key string, value Value) {
	if _, exists := d.fields[key]; !exists {
		d.order = append(d.order, key)
	}
	d.fields[key] = value
}

// GetValue retrieves a field value from the document
func (d *Document) GetValue(key string) (Value, bool) {
	v, ok := d.fields[key]
	return v, ok
}

// Has checks if a field exists in the document
func (d *Document) Has(key string) bool {
	_, ok := d.fields[key]
	return ok
}

// Delete removes a field from the document
func (d *Document) Delete(key string) {
	if _, ok := d.fields[key]; !ok {
		return
	}

	delete(d.fields, key)

	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Keys returns all field names in insertion order
func (d *Document) Keys() []string {
	return d.order
}

// Len returns the number of fields in the document
func (d *Document) Len() int {
	return len(d.fields)
}

// GetPath retrieves a value using dot notation (e.g. "user.address.city").
// Numeric path components index into arrays.
func (d *Document) GetPath(path string) (Value, bool) {
	if v, ok := d.fields[path]; ok {
		return v, true
	}

	parts := strings.Split(path, ".")
	cur, ok := d.fields[parts[0]]
	if !ok {
		return Value{}, false
	}
	for _, part := range parts[1:] {
		switch cur.Kind() {
		case KindObject:
			cur, ok = cur.Document().GetValue(part)
			if !ok {
				return Value{}, false
			}
		case KindArray:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(cur.Array()) {
				return Value{}, false
			}
			cur = cur.Array()[idx]
		default:
			return Value{}, false
		}
	}
	return cur, true
}

// SetPath sets a value at a dotted path, creating intermediate documents
// as needed. Array components are not created implicitly.
func (d *Document) SetPath(path string, value Value) {
	parts := strings.Split(path, ".")
	if len(parts) == 1 {
		d.Set(path, value)
		return
	}

	cur := d
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur.GetValue(part)
		if !ok || next.Kind() != KindObject {
			child := NewDocument()
			cur.Set(part, Object(child))
			cur = child
			continue
		}
		cur = next.Document()
	}
	cur.Set(parts[len(parts)-1], value)
}

// Clone creates a deep copy of the document
func (d *Document) Clone() *Document {
	clone := NewDocument()
	for _, key := range d.order {
		clone.Set(key, cloneValue(d.fields[key]))
	}
	return clone
}

func cloneValue(v Value) Value {
	switch v.Kind() {
	case KindObject:
		return Object(v.Document().Clone())
	case KindArray:
		src := v.Array()
		arr := make([]Value, len(src))
		for i, item := range src {
			arr[i] = cloneValue(item)
		}
		return Array(arr)
	case KindBinary:
		b := v.Binary()
		data := make([]byte, len(b.Data))
		copy(data, b.Data)
		return NewBinary(b.Subtype, data)
	}
	return v
}

// Values returns the field values in insertion order.
func (d *Document) Values() []Value {
	out := make([]Value, 0, len(d.order))
	for _, k := range d.order {
		out = append(out, d.fields[k])
	}
	return out
}

// String returns a string representation of the document
func (d *Document) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range d.order {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %s", k, d.fields[k])
	}
	sb.WriteByte('}')
	return sb.String()
}

// String renders the value for diagnostics.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindUndefined:
		return "undefined"
	case KindMinKey:
		return "MinKey"
	case KindMaxKey:
		return "MaxKey"
	case KindBool:
		return strconv.FormatBool(v.Bool())
	case KindInt32:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case KindInt64:
		return strconv.FormatInt(v.Int64(), 10) + "L"
	case KindDouble:
		return strconv.FormatFloat(v.Double(), 'g', -1, 64)
	case KindDecimal:
		return v.dec.String() + "m"
	case KindString:
		return strconv.Quote(v.str)
	case KindSymbol:
		return "Symbol(" + strconv.Quote(v.str) + ")"
	case KindDate:
		return fmt.Sprintf("Date(%d)", v.DateMillis())
	case KindTimestamp:
		ts := v.Timestamp()
		return fmt.Sprintf("Timestamp(%d, %d)", ts.Seconds, ts.Increment)
	case KindObjectID:
		return "ObjectId(" + v.oid.Hex() + ")"
	case KindBinary:
		return fmt.Sprintf("BinData(%d, %d bytes)", v.bin.Subtype, len(v.bin.Data))
	case KindRegex:
		return "/" + v.rx.Pattern + "/" + v.rx.Options
	case KindDBRef:
		return fmt.Sprintf("DBRef(%s, %s)", v.ref.Namespace, v.ref.ID.Hex())
	case KindObject:
		return v.doc.String()
	case KindArray:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(item.String())
		}
		sb.WriteByte(']')
		return sb.String()
	}
	return "unknown"
}
