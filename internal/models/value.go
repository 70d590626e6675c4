// Package models provides data model definitions for the offline sync core.
package models

import (
	"strconv"
)

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindObject
)

// String returns the JSON type name of the kind.
func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Field is one key/value pair of an object Value.
type Field struct {
	Key   string
	Value Value
}

// F builds a Field.
func F(key string, v Value) Field {
	return Field{Key: key, Value: v}
}

// Value is a JSON-compatible value: null, bool, number, string, list or
// object. Objects keep insertion order and numbers keep their JSON text.
// The zero Value is null.
type Value struct {
	kind   ValueKind
	b      bool
	num    string
	s      string
	list   []Value
	fields []Field
}

// Null returns the null Value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an integer.
func Int(i int64) Value { return Value{kind: KindNumber, num: strconv.FormatInt(i, 10)} }

// Float wraps a float.
func Float(f float64) Value {
	return Value{kind: KindNumber, num: strconv.FormatFloat(f, 'g', -1, 64)}
}

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List builds a list Value.
func List(items ...Value) Value {
	out := make([]Value, len(items))
	copy(out, items)
	return Value{kind: KindList, list: out}
}

// Object builds an object Value. A later field with a repeated key
// replaces the earlier one in place.
func Object(fields ...Field) Value {
	v := Value{kind: KindObject, fields: make([]Field, 0, len(fields))}
	for _, f := range fields {
		v = v.With(f.Key, f.Value)
	}
	return v
}

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean and whether v is a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsString returns the string and whether v is a string.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsFloat returns the number as float64.
func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.num, 64)
	return f, err == nil
}

// AsInt returns the number as int64 when it is integral.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	i, err := strconv.ParseInt(v.num, 10, 64)
	return i, err == nil
}

// NumberText returns the JSON text of a number Value.
func (v Value) NumberText() string { return v.num }

// Items returns a copy of the list elements.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	out := make([]Value, len(v.list))
	copy(out, v.list)
	return out
}

// Fields returns a copy of the object fields in order.
func (v Value) Fields() []Field {
	if v.kind != KindObject {
		return nil
	}
	out := make([]Field, len(v.fields))
	copy(out, v.fields)
	return out
}

// Len returns the number of list items or object fields.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindObject:
		return len(v.fields)
	}
	return 0
}

// Get looks up a key of an object Value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	for _, f := range v.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// With returns a copy of the object with key set. A null receiver is
// treated as an empty object.
func (v Value) With(key string, val Value) Value {
	if v.kind != KindObject {
		v = Value{kind: KindObject}
	}
	fields := make([]Field, len(v.fields), len(v.fields)+1)
	copy(fields, v.fields)
	for i := range fields {
		if fields[i].Key == key {
			fields[i].Value = val
			return Value{kind: KindObject, fields: fields}
		}
	}
	return Value{kind: KindObject, fields: append(fields, Field{Key: key, Value: val})}
}

// Equal reports deep equality, including object field order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		if v.num == o.num {
			return true
		}
		a, okA := v.AsFloat()
		b, okB := o.AsFloat()
		return okA && okB && a == b
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.fields) != len(o.fields) {
			return false
		}
		for i := range v.fields {
			if v.fields[i].Key != o.fields[i].Key || !v.fields[i].Value.Equal(o.fields[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}
