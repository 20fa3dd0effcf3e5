package codec

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Encoder builds an ordered, field-tagged record. Fields are written to the
// wire in ascending FieldID order regardless of Put call order, so two
// encodings of the same field set always produce byte-identical output —
// required for content hashing and for deterministic fsm.Apply results
// across replicas.
type Encoder struct {
	values map[FieldID][]byte
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{values: make(map[FieldID][]byte)}
}

// PutBytes sets a raw field value. A nil or empty v is still written — the
// field is present, just zero-length; callers that want "absent" should not
// call Put at all.
func (e *Encoder) PutBytes(id FieldID, v []byte) {
	e.values[id] = v
}

// PutString sets a UTF-8 string field.
func (e *Encoder) PutString(id FieldID, v string) {
	e.values[id] = []byte(v)
}

// PutUint64 sets a big-endian uint64 field.
func (e *Encoder) PutUint64(id FieldID, v uint64) {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	e.values[id] = b
}

// PutTime sets a field as a UnixNano big-endian int64.
func (e *Encoder) PutTime(id FieldID, t time.Time) {
	e.PutUint64(id, uint64(t.UnixNano()))
}

// Encode serializes the record: each field as a 2-byte big-endian FieldID,
// a 4-byte big-endian length, and the raw value, ascending by FieldID.
func (e *Encoder) Encode() []byte {
	ids := make([]FieldID, 0, len(e.values))
	for id := range e.values {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}

	size := 0
	for _, id := range ids {
		size += 2 + 4 + len(e.values[id])
	}
	out := make([]byte, 0, size)
	var hdr [6]byte
	for _, id := range ids {
		v := e.values[id]
		binary.BigEndian.PutUint16(hdr[0:2], uint16(id))
		binary.BigEndian.PutUint32(hdr[2:6], uint32(len(v)))
		out = append(out, hdr[:]...)
		out = append(out, v...)
	}
	return out
}

type pair struct {
	id    FieldID
	value []byte
}

// Decoder walks an encoded record field by field in ascending FieldID order.
// It mirrors aruna-server's FieldIterator: Field peeks the next pair and
// only consumes it if the id matches what the caller expects, so a decoder
// built against an older (shorter) Registry simply never asks for fields a
// newer writer appended — those pairs are left unconsumed and ignored. That
// is this format's forward compatibility: schema growth never breaks an
// older reader.
type Decoder struct {
	pairs []pair
	pos   int
}

// NewDecoder parses data into an ordered sequence of field pairs.
func NewDecoder(data []byte) (*Decoder, error) {
	var pairs []pair
	for len(data) > 0 {
		if len(data) < 6 {
			return nil, fmt.Errorf("codec: truncated record header")
		}
		id := FieldID(binary.BigEndian.Uint16(data[0:2]))
		n := binary.BigEndian.Uint32(data[2:6])
		data = data[6:]
		if uint32(len(data)) < n {
			return nil, fmt.Errorf("codec: truncated field %d value", id)
		}
		pairs = append(pairs, pair{id: id, value: data[:n]})
		data = data[n:]
	}
	return &Decoder{pairs: pairs}, nil
}

// Field returns the value for the next field if its id equals expected,
// consuming it; otherwise it returns (nil, false) and leaves the cursor in
// place, signalling the field was absent (use the zero value of whatever
// type the caller wants).
func (d *Decoder) Field(expected FieldID) ([]byte, bool) {
	if d.pos >= len(d.pairs) {
		return nil, false
	}
	p := d.pairs[d.pos]
	if p.id != expected {
		return nil, false
	}
	d.pos++
	return p.value, true
}

// RequiredField is Field but returns an error instead of ok=false.
func (d *Decoder) RequiredField(expected FieldID) ([]byte, error) {
	v, ok := d.Field(expected)
	if !ok {
		name, _ := NameByField(expected)
		return nil, fmt.Errorf("codec: missing required field %q (id %d)", name, expected)
	}
	return v, nil
}

// String returns a string field's value, or "" if absent.
func (d *Decoder) String(id FieldID) string {
	v, _ := d.Field(id)
	return string(v)
}

// RequiredString returns a string field's value, erroring if absent.
func (d *Decoder) RequiredString(id FieldID) (string, error) {
	v, err := d.RequiredField(id)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// Uint64 returns a uint64 field's value, or 0 if absent or short.
func (d *Decoder) Uint64(id FieldID) uint64 {
	v, ok := d.Field(id)
	if !ok || len(v) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

// RequiredUint64 returns a uint64 field's value, erroring if absent.
func (d *Decoder) RequiredUint64(id FieldID) (uint64, error) {
	v, err := d.RequiredField(id)
	if err != nil {
		return 0, err
	}
	if len(v) < 8 {
		return 0, fmt.Errorf("codec: field %d too short for uint64", id)
	}
	return binary.BigEndian.Uint64(v), nil
}

// Time returns a time field's value, or the zero Time if absent.
func (d *Decoder) Time(id FieldID) time.Time {
	n := d.Uint64(id)
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(n)).UTC()
}

// Bytes returns a raw field's value, or nil if absent.
func (d *Decoder) Bytes(id FieldID) []byte {
	v, _ := d.Field(id)
	return v
}
