package document

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Wire type tags. These follow the BSON element type numbering so dumps stay
// readable with standard tooling; kinds without a BSON equivalent use the
// reserved user range.
const (
	tagDouble    = 0x01
	tagString    = 0x02
	tagDocument  = 0x03
	tagArray     = 0x04
	tagBinary    = 0x05
	tagUndefined = 0x06
	tagObjectID  = 0x07
	tagBool      = 0x08
	tagDate      = 0x09
	tagNull      = 0x0A
	tagRegex     = 0x0B
	tagDBRef     = 0x0C
	tagSymbol    = 0x0E
	tagInt32     = 0x10
	tagTimestamp = 0x11
	tagInt64     = 0x12
	tagDecimal   = 0x13
	tagMinKey    = 0xFF
	tagMaxKey    = 0x7F
)

// Encoder encodes documents to the binary wire format
type Encoder struct {
	buf *bytes.Buffer
}

// NewEncoder creates a new encoder
func NewEncoder() *Encoder {
	return &Encoder{
		buf: new(bytes.Buffer),
	}
}

// Encode encodes a document to the binary format
// Document format: [4-byte size][elements...][0x00 terminator]
// Element format: [1-byte tag][cstring key][value]
func (e *Encoder) Encode(doc *Document) ([]byte, error) {
	e.buf.Reset()

	// Reserve space for document size
	sizePos := e.buf.Len()
	binary.Write(e.buf, binary.LittleEndian, int32(0))

	for _, key := range doc.Keys() {
		value, _ := doc.GetValue(key)
		if err := e.encodeElement(key, value); err != nil {
			return nil, fmt.Errorf("failed to encode field %s: %w", key, err)
		}
	}

	e.buf.WriteByte(0x00)

	data := e.buf.Bytes()
	binary.LittleEndian.PutUint32(data[sizePos:], uint32(len(data)))

	return data, nil
}

func kindTag(k Kind) (byte, error) {
	switch k {
	case KindMinKey:
		return tagMinKey, nil
	case KindUndefined:
		return tagUndefined, nil
	case KindNull:
		return tagNull, nil
	case KindInt32:
		return tagInt32, nil
	case KindInt64:
		return tagInt64, nil
	case KindDouble:
		return tagDouble, nil
	case KindDecimal:
		return tagDecimal, nil
	case KindString:
		return tagString, nil
	case KindSymbol:
		return tagSymbol, nil
	case KindObject:
		return tagDocument, nil
	case KindArray:
		return tagArray, nil
	case KindBinary:
		return tagBinary, nil
	case KindObjectID:
		return tagObjectID, nil
	case KindBool:
		return tagBool, nil
	case KindDate:
		return tagDate, nil
	case KindTimestamp:
		return tagTimestamp, nil
	case KindRegex:
		return tagRegex, nil
	case KindDBRef:
		return tagDBRef, nil
	case KindMaxKey:
		return tagMaxKey, nil
	}
	return 0, fmt.Errorf("unsupported kind: %v", k)
}

// encodeElement encodes a single document element
func (e *Encoder) encodeElement(key string, value Value) error {
	tag, err := kindTag(value.Kind())
	if err != nil {
		return err
	}
	e.buf.WriteByte(tag)

	// Key as C-string (null-terminated)
	e.buf.WriteString(key)
	e.buf.WriteByte(0x00)

	switch value.Kind() {
	case KindNull, KindUndefined, KindMinKey, KindMaxKey:
		// No payload
	case KindBool:
		if value.Bool() {
			e.buf.WriteByte(0x01)
		} else {
			e.buf.WriteByte(0x00)
		}
	case KindInt32:
		binary.Write(e.buf, binary.LittleEndian, value.Int32())
	case KindInt64:
		binary.Write(e.buf, binary.LittleEndian, value.Int64())
	case KindDouble:
		binary.Write(e.buf, binary.LittleEndian, value.Double())
	case KindDate:
		binary.Write(e.buf, binary.LittleEndian, value.DateMillis())
	case KindTimestamp:
		ts := value.Timestamp()
		binary.Write(e.buf, binary.LittleEndian, ts.Increment)
		binary.Write(e.buf, binary.LittleEndian, ts.Seconds)
	case KindString, KindSymbol:
		str := value.Str()
		// String: [4-byte length including null][string bytes][0x00]
		binary.Write(e.buf, binary.LittleEndian, int32(len(str)+1))
		e.buf.WriteString(str)
		e.buf.WriteByte(0x00)
	case KindDecimal:
		str := value.Decimal().Text('G')
		binary.Write(e.buf, binary.LittleEndian, int32(len(str)+1))
		e.buf.WriteString(str)
		e.buf.WriteByte(0x00)
	case KindBinary:
		b := value.Binary()
		// Binary: [4-byte length][subtype][data]
		binary.Write(e.buf, binary.LittleEndian, int32(len(b.Data)))
		e.buf.WriteByte(b.Subtype)
		e.buf.Write(b.Data)
	case KindObjectID:
		id := value.ObjectID()
		e.buf.Write(id[:])
	case KindRegex:
		rx := value.Regex()
		e.buf.WriteString(rx.Pattern)
		e.buf.WriteByte(0x00)
		e.buf.WriteString(rx.Options)
		e.buf.WriteByte(0x00)
	case KindDBRef:
		ref := value.DBRef()
		binary.Write(e.buf, binary.LittleEndian, int32(len(ref.Namespace)+1))
		e.buf.WriteString(ref.Namespace)
		e.buf.WriteByte(0x00)
		e.buf.Write(ref.ID[:])
	case KindArray:
		// Array is encoded as a document with numeric keys
		arrDoc := NewDocument()
		for i, item := range value.Array() {
			arrDoc.Set(fmt.Sprintf("%d", i), item)
		}
		arrData, err := NewEncoder().Encode(arrDoc)
		if err != nil {
			return err
		}
		e.buf.Write(arrData)
	case KindObject:
		subData, err := NewEncoder().Encode(value.Document())
		if err != nil {
			return err
		}
		e.buf.Write(subData)
	default:
		return fmt.Errorf("unsupported kind: %v", value.Kind())
	}

	return nil
}

// Decoder decodes binary data to documents
type Decoder struct {
	reader *bytes.Reader
}

// NewDecoder creates a new decoder
func NewDecoder(data []byte) *Decoder {
	return &Decoder{
		reader: bytes.NewReader(data),
	}
}

// Decode decodes binary data to a document
func (d *Decoder) Decode() (*Document, error) {
	doc := NewDocument()

	var size int32
	if err := binary.Read(d.reader, binary.LittleEndian, &size); err != nil {
		return nil, fmt.Errorf("failed to read document size: %w", err)
	}

	for {
		tag, err := d.reader.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("failed to read element tag: %w", err)
		}

		if tag == 0x00 {
			break
		}

		key, err := d.readCString()
		if err != nil {
			return nil, fmt.Errorf("failed to read key: %w", err)
		}

		value, err := d.decodeValue(tag)
		if err != nil {
			return nil, fmt.Errorf("failed to decode value for key %s: %w", key, err)
		}

		doc.Set(key, value)
	}

	return doc, nil
}

// readCString reads a null-terminated string
func (d *Decoder) readCString() (string, error) {
	var buf bytes.Buffer
	for {
		b, err := d.reader.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0x00 {
			break
		}
		buf.WriteByte(b)
	}
	return buf.String(), nil
}

func (d *Decoder) readLengthPrefixedString() (string, error) {
	var length int32
	if err := binary.Read(d.reader, binary.LittleEndian, &length); err != nil {
		return "", err
	}
	if length < 1 {
		return "", fmt.Errorf("invalid string length %d", length)
	}
	strBytes := make([]byte, length-1) // -1 for null terminator
	if _, err := io.ReadFull(d.reader, strBytes); err != nil {
		return "", err
	}
	d.reader.ReadByte() // null terminator
	return string(strBytes), nil
}

func (d *Decoder) readSubdocumentBytes() ([]byte, error) {
	currentPos, _ := d.reader.Seek(0, io.SeekCurrent)
	var size int32
	if err := binary.Read(d.reader, binary.LittleEndian, &size); err != nil {
		return nil, err
	}
	d.reader.Seek(currentPos, io.SeekStart)

	docBytes := make([]byte, size)
	if _, err := io.ReadFull(d.reader, docBytes); err != nil {
		return nil, err
	}
	return docBytes, nil
}

// decodeValue decodes a value based on its wire tag
func (d *Decoder) decodeValue(tag byte) (Value, error) {
	switch tag {
	case tagNull:
		return Null(), nil
	case tagUndefined:
		return Undefined(), nil
	case tagMinKey:
		return MinKey(), nil
	case tagMaxKey:
		return MaxKey(), nil
	case tagBool:
		b, err := d.reader.ReadByte()
		return Bool(b != 0x00), err
	case tagInt32:
		var v int32
		err := binary.Read(d.reader, binary.LittleEndian, &v)
		return Int32(v), err
	case tagInt64:
		var v int64
		err := binary.Read(d.reader, binary.LittleEndian, &v)
		return Int64(v), err
	case tagDouble:
		var v float64
		err := binary.Read(d.reader, binary.LittleEndian, &v)
		return Double(v), err
	case tagDate:
		var v int64
		err := binary.Read(d.reader, binary.LittleEndian, &v)
		return DateMillis(v), err
	case tagTimestamp:
		var inc, sec uint32
		if err := binary.Read(d.reader, binary.LittleEndian, &inc); err != nil {
			return Value{}, err
		}
		err := binary.Read(d.reader, binary.LittleEndian, &sec)
		return NewTimestamp(Timestamp{Seconds: sec, Increment: inc}), err
	case tagString:
		s, err := d.readLengthPrefixedString()
		return String(s), err
	case tagSymbol:
		s, err := d.readLengthPrefixedString()
		return Symbol(s), err
	case tagDecimal:
		s, err := d.readLengthPrefixedString()
		if err != nil {
			return Value{}, err
		}
		return DecimalFromString(s), nil
	case tagBinary:
		var length int32
		if err := binary.Read(d.reader, binary.LittleEndian, &length); err != nil {
			return Value{}, err
		}
		subtype, err := d.reader.ReadByte()
		if err != nil {
			return Value{}, err
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(d.reader, data); err != nil {
			return Value{}, err
		}
		return NewBinary(subtype, data), nil
	case tagObjectID:
		var id ObjectID
		if _, err := io.ReadFull(d.reader, id[:]); err != nil {
			return Value{}, err
		}
		return NewObjectID(id), nil
	case tagRegex:
		pattern, err := d.readCString()
		if err != nil {
			return Value{}, err
		}
		options, err := d.readCString()
		return NewRegex(pattern, options), err
	case tagDBRef:
		ns, err := d.readLengthPrefixedString()
		if err != nil {
			return Value{}, err
		}
		var id ObjectID
		if _, err := io.ReadFull(d.reader, id[:]); err != nil {
			return Value{}, err
		}
		return NewDBRef(ns, id), nil
	case tagArray:
		docBytes, err := d.readSubdocumentBytes()
		if err != nil {
			return Value{}, err
		}
		arrDoc, err := NewDecoder(docBytes).Decode()
		if err != nil {
			return Value{}, err
		}
		arr := make([]Value, 0, arrDoc.Len())
		for i := 0; i < arrDoc.Len(); i++ {
			v, ok := arrDoc.GetValue(fmt.Sprintf("%d", i))
			if !ok {
				return Value{}, fmt.Errorf("array missing index %d", i)
			}
			arr = append(arr, v)
		}
		return Array(arr), nil
	case tagDocument:
		docBytes, err := d.readSubdocumentBytes()
		if err != nil {
			return Value{}, err
		}
		subDoc, err := NewDecoder(docBytes).Decode()
		if err != nil {
			return Value{}, err
		}
		return Object(subDoc), nil
	default:
		return Value{}, fmt.Errorf("unsupported wire tag: 0x%02x", tag)
	}
}
