package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Kind enumerates the scalar kinds an attribute value may hold.
type Kind string

const (
	KindBool   Kind = "bool"
	KindInt    Kind = "int"
	KindString Kind = "string"
)

// Value is a single typed scalar in an Attributes bag. The zero Value is
// invalid and rejected by Attributes.Validate.
type Value struct {
	kind Kind
	b    bool
	i    int64
	s    string
}

// Bool creates a boolean Value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Int creates an integer Value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// String creates a string Value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Kind returns the value kind, or "" for the zero Value.
func (v Value) Kind() Kind { return v.kind }

// AsBool returns the boolean payload and whether the value is a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the integer payload and whether the value is an int.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsString returns the string payload and whether the value is a string.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// Interface returns the payload as a plain Go value.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindString:
		return v.s
	default:
		return nil
	}
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(other Value) bool {
	return v.kind == other.kind && v.b == other.b && v.i == other.i && v.s == other.s
}

func (v Value) String() string {
	return fmt.Sprint(v.Interface())
}

// MarshalJSON encodes the value as its bare JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == "" {
		return nil, errors.New("types: marshal of zero attribute value")
	}
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes a JSON bool, integral number or string. Any other
// JSON kind (objects, arrays, null, fractional numbers) is rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case bool:
		*v = Bool(x)
	case string:
		*v = String(x)
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return fmt.Errorf("types: attribute number %s is not an integer", x)
		}
		*v = Int(n)
	default:
		return fmt.Errorf("types: unsupported attribute value %s", string(data))
	}
	return nil
}

// Attributes is a string-keyed bag of typed scalars used for plan features
// and subscription metadata.
type Attributes map[string]Value

// Validate rejects empty keys and zero values.
func (a Attributes) Validate() error {
	for k, v := range a {
		if k == "" {
			return errors.New("types: attribute key must not be empty")
		}
		if v.kind == "" {
			return fmt.Errorf("types: attribute %q has no value", k)
		}
	}
	return nil
}

// Clone returns an independent copy; nil stays nil.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	return maps.Clone(a)
}

// Keys returns the attribute keys in sorted order.
func (a Attributes) Keys() []string {
	return slices.Sorted(maps.Keys(a))
}

// Bool looks up a boolean attribute, returning false when absent or of another kind.
func (a Attributes) Bool(key string) bool {
	b, _ := a[key].AsBool()
	return b
}
