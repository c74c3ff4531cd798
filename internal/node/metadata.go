package node

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

// Value kinds.
const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// String returns the JSON name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a JSON tree value. Exactly one variant is populated, selected by
// Kind. Object members keep their document order, so a metadata document
// read from storage is written back with its keys where they were.
//
// The zero Value is JSON null.
type Value struct {
	kind    Kind
	boolean bool
	number  json.Number
	str     string
	items   []Value
	members []Member
}

// Member is one key of an object Value.
type Member struct {
	Key   string
	Value Value
}

// Null returns a null Value.
func Null() Value { return Value{} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// Number returns a numeric Value. An empty number encodes as 0.
func Number(n json.Number) Value { return Value{kind: KindNumber, number: n} }

// Int returns a numeric Value holding an integer.
func Int(i int64) Value { return Number(json.Number(strconv.FormatInt(i, 10))) }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Array returns an array Value. Array() is an empty array, not null.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, items: items}
}

// Object returns an object Value. Later duplicates of a key replace the
// earlier value in its original position.
func Object(members ...Member) Value {
	v := Value{kind: KindObject, members: make([]Member, 0, len(members))}
	for _, m := range members {
		v.Set(m.Key, m.Value)
	}
	return v
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is JSON null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean and whether v is a bool.
func (v Value) AsBool() (bool, bool) { return v.boolean, v.kind == KindBool }

// AsNumber returns the number and whether v is a number.
func (v Value) AsNumber() (json.Number, bool) { return v.number, v.kind == KindNumber }

// AsString returns the string and whether v is a string.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// Items returns the elements of an array, or nil for any other kind.
// The slice is shared with v.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.items
}

// Members returns the members of an object in document order, or nil for
// any other kind. The slice is shared with v.
func (v Value) Members() []Member {
	if v.kind != KindObject {
		return nil
	}
	return v.members
}

// Get returns the member value for key and whether it was present.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	for _, m := range v.members {
		if m.Key == key {
			return m.Value, true
		}
	}
	return Value{}, false
}

// Set stores val under key, keeping the key's position if it exists.
// A non-object v is turned into an empty object first.
func (v *Value) Set(key string, val Value) {
	if v.kind != KindObject {
		*v = Value{kind: KindObject}
	}
	for i := range v.members {
		if v.members[i].Key == key {
			v.members[i].Value = val
			return
		}
	}
	v.members = append(v.members, Member{Key: key, Value: val})
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	out := v
	switch v.kind {
	case KindArray:
		out.items = make([]Value, len(v.items))
		for i, item := range v.items {
			out.items[i] = item.Clone()
		}
	case KindObject:
		out.members = make([]Member, len(v.members))
		for i, m := range v.members {
			out.members[i] = Member{Key: m.Key, Value: m.Value.Clone()}
		}
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.boolean))
	case KindNumber:
		if v.number == "" {
			buf.WriteByte('0')
			return nil
		}
		if _, err := strconv.ParseFloat(string(v.number), 64); err != nil {
			return fmt.Errorf("encoding number %q: %w", v.number, err)
		}
		buf.WriteString(string(v.number))
	case KindString:
		return encodeString(buf, v.str)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, m := range v.members {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, m.Key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := m.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("encoding value: unknown %s", v.kind)
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	parsed, err := decodeValue(dec, 0)
	if err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("decoding value: trailing data after document")
	}

	*v = parsed
	return nil
}

// maxNestingDepth bounds recursion on hostile documents.
const maxNestingDepth = 64

func decodeValue(dec *json.Decoder, depth int) (Value, error) {
	if depth > maxNestingDepth {
		return Value{}, errors.New("decoding value: document nested too deeply")
	}

	tok, err := dec.Token()
	if err != nil {
		return Value{}, fmt.Errorf("decoding value: %w", err)
	}

	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decodeValue(dec, depth+1)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, fmt.Errorf("decoding value: %w", err)
			}
			return Array(items...), nil
		case '{':
			obj := Value{kind: KindObject, members: []Member{}}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, fmt.Errorf("decoding value: %w", err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("decoding value: object key %v is not a string", keyTok)
				}
				member, err := decodeValue(dec, depth+1)
				if err != nil {
					return Value{}, err
				}
				obj.Set(key, member)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, fmt.Errorf("decoding value: %w", err)
			}
			return obj, nil
		}
	}
	return Value{}, fmt.Errorf("decoding value: unexpected token %v", tok)
}

// ParseValue decodes a JSON document into a Value.
func ParseValue(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return v, nil
}

// Metadata is a node's opaque metadata document. The zero Metadata is an
// absent document and encodes as null.
//
// Only the devices key has a known shape; every other key is carried
// through untouched.
type Metadata struct {
	root Value
}

// devicesKey is the reserved metadata key holding the sub-device list.
const devicesKey = "devices"

// NewMetadata wraps a document root.
func NewMetadata(root Value) Metadata {
	return Metadata{root: root}
}

// ParseMetadata decodes a stored or submitted metadata document.
func ParseMetadata(data []byte) (Metadata, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Metadata{}, nil
	}
	root, err := ParseValue(data)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{root: root}, nil
}

// IsZero reports whether the document is absent.
func (m Metadata) IsZero() bool { return m.root.IsNull() }

// Root returns the document root. The result shares storage with m; use
// Clone before modifying it.
func (m Metadata) Root() Value { return m.root }

// Clone returns a deep copy of the document.
func (m Metadata) Clone() Metadata { return Metadata{root: m.root.Clone()} }

// MarshalJSON implements json.Marshaler.
func (m Metadata) MarshalJSON() ([]byte, error) { return m.root.MarshalJSON() }

// UnmarshalJSON implements json.Unmarshaler.
func (m *Metadata) UnmarshalJSON(data []byte) error { return m.root.UnmarshalJSON(data) }

// encodeStorage returns the document in the form the repositories store:
// nil for an absent document.
func (m Metadata) encodeStorage() ([]byte, error) {
	if m.IsZero() {
		return nil, nil
	}
	b, err := m.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshalling metadata: %w", err)
	}
	return b, nil
}
