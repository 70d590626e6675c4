package models

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// MarshalJSON encodes v keeping object field order and number text.
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
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		if v.num == "" {
			buf.WriteByte('0')
		} else {
			buf.WriteString(v.num)
		}
	case KindString:
		return writeJSONString(buf, v.s)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
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
		for i, f := range v.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSONString(buf, f.Key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := f.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("models: unknown value kind %d", v.kind)
	}
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

// UnmarshalJSON decodes any JSON document into v, keeping object key order
// and number text.
func (v *Value) UnmarshalJSON(data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("models: invalid JSON value")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	val, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// ParseValue decodes a JSON document into a Value.
func ParseValue(data []byte) (Value, error) {
	var v Value
	err := v.UnmarshalJSON(data)
	return v, err
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, fmt.Errorf("models: read token: %w", err)
	}
	return valueFromToken(dec, tok)
}

func valueFromToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		// the decoder reuses its buffer for number text
		return Value{kind: KindNumber, num: strings.Clone(string(t))}, nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			return decodeList(dec)
		case '{':
			return decodeObject(dec)
		}
	}
	return Value{}, fmt.Errorf("models: unexpected token %v", tok)
}

func decodeList(dec *json.Decoder) (Value, error) {
	out := Value{kind: KindList, list: []Value{}}
	for dec.More() {
		item, err := decodeValue(dec)
		if err != nil {
			return Value{}, err
		}
		out.list = append(out.list, item)
	}
	if err := closeDelim(dec, ']'); err != nil {
		return Value{}, err
	}
	return out, nil
}

func decodeObject(dec *json.Decoder) (Value, error) {
	out := Value{kind: KindObject, fields: []Field{}}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, fmt.Errorf("models: read key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return Value{}, fmt.Errorf("models: object key must be a string, got %v", tok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return Value{}, err
		}
		out = out.With(key, val)
	}
	if err := closeDelim(dec, '}'); err != nil {
		return Value{}, err
	}
	return out, nil
}

func closeDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("models: read %q: %w", want, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("models: expected %q, got %v", want, tok)
	}
	return nil
}
