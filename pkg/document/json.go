package document

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// MarshalJSON renders the document with fields in insertion order. Types
// without a native JSON form use the extended {"$...": ...} wrappers.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := d.fields[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON renders a value as JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull, KindUndefined:
		return []byte("null"), nil
	case KindBool:
		return strconv.AppendBool(nil, v.Bool()), nil
	case KindInt32:
		return strconv.AppendInt(nil, int64(v.Int32()), 10), nil
	case KindInt64:
		return strconv.AppendInt(nil, v.Int64(), 10), nil
	case KindDouble:
		f := v.Double()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return json.Marshal(map[string]string{"$numberDouble": fmt.Sprint(f)})
		}
		return json.Marshal(f)
	case KindDecimal:
		return json.Marshal(map[string]string{"$numberDecimal": v.dec.String()})
	case KindString, KindSymbol:
		return json.Marshal(v.str)
	case KindDate:
		return json.Marshal(map[string]int64{"$date": v.DateMillis()})
	case KindTimestamp:
		ts := v.Timestamp()
		return json.Marshal(map[string]map[string]uint32{
			"$timestamp": {"t": ts.Seconds, "i": ts.Increment},
		})
	case KindObjectID:
		return json.Marshal(map[string]string{"$oid": v.oid.Hex()})
	case KindBinary:
		return json.Marshal(map[string]string{
			"$binary": base64.StdEncoding.EncodeToString(v.bin.Data),
		})
	case KindRegex:
		return json.Marshal(map[string]string{
			"$regex": v.rx.Pattern, "$options": v.rx.Options,
		})
	case KindMinKey:
		return []byte(`{"$minKey":1}`), nil
	case KindMaxKey:
		return []byte(`{"$maxKey":1}`), nil
	case KindObject:
		return v.doc.MarshalJSON()
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("cannot marshal value of kind %s", v.kind)
}

// FromJSON parses a JSON object into a document, preserving field order.
// Extended wrappers ($oid, $date, $numberDecimal, $binary, $minKey, $maxKey)
// map back to their value kinds; integral numbers become int64, fractional
// ones double.
func FromJSON(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid JSON document: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}
	doc, err := parseJSONObject(dec)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func parseJSONObject(dec *json.Decoder) (*Document, error) {
	doc := NewDocument()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", keyTok)
		}
		v, err := parseJSONValue(dec)
		if err != nil {
			return nil, err
		}
		doc.Set(key, v)
	}
	if _, err := dec.Token(); err != nil { // consume '}'
		return nil, err
	}
	return doc, nil
}

func parseJSONValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			doc, err := parseJSONObject(dec)
			if err != nil {
				return Value{}, err
			}
			return unwrapExtended(doc)
		case '[':
			var items []Value
			for dec.More() {
				item, err := parseJSONValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return Value{}, err
			}
			return Array(items), nil
		}
		return Value{}, fmt.Errorf("unexpected delimiter %v", t)
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null(), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int64(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t, err)
		}
		return Double(f), nil
	}
	return Value{}, fmt.Errorf("unexpected JSON token %v", tok)
}

// unwrapExtended converts single-purpose {"$...": ...} objects back to their
// value kinds. Anything unrecognized stays an ordinary object.
func unwrapExtended(doc *Document) (Value, error) {
	if doc.Len() == 0 || doc.Len() > 2 {
		return Object(doc), nil
	}
	key := doc.Keys()[0]
	if doc.Len() == 2 && key != "$regex" {
		return Object(doc), nil
	}
	v, _ := doc.GetValue(key)
	switch key {
	case "$oid":
		id, err := ObjectIDFromHex(v.Str())
		if err != nil {
			return Value{}, fmt.Errorf("invalid $oid: %w", err)
		}
		return NewObjectID(id), nil
	case "$date":
		if ms, ok := v.AsInt64(); ok {
			return DateMillis(ms), nil
		}
		return Value{}, fmt.Errorf("invalid $date: %s", v)
	case "$numberDecimal":
		return DecimalFromString(v.Str()), nil
	case "$numberDouble":
		f, err := strconv.ParseFloat(v.Str(), 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid $numberDouble: %w", err)
		}
		return Double(f), nil
	case "$binary":
		data, err := base64.StdEncoding.DecodeString(v.Str())
		if err != nil {
			return Value{}, fmt.Errorf("invalid $binary: %w", err)
		}
		return NewBinary(0, data), nil
	case "$regex":
		options := ""
		if o, ok := doc.GetValue("$options"); ok {
			options = o.Str()
		}
		return NewRegex(v.Str(), options), nil
	case "$minKey":
		return MinKey(), nil
	case "$maxKey":
		return MaxKey(), nil
	}
	return Object(doc), nil
}
