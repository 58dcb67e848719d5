package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteJSON serializes the value to w. Object keys are emitted in
// insertion order. When compact is false the output is indented.
func (v *Value) WriteJSON(w io.Writer, compact bool) error {
	var sb strings.Builder
	v.appendJSON(&sb, compact, 0)
	_, err := io.WriteString(w, sb.String())
	return err
}

// JSONString renders the value as a JSON string.
func (v *Value) JSONString(compact bool) string {
	var sb strings.Builder
	v.appendJSON(&sb, compact, 0)
	return sb.String()
}

func (v *Value) appendJSON(sb *strings.Builder, compact bool, depth int) {
	if v == nil || v.kind == KindUndefined {
		sb.WriteString("null")
		return
	}
	indent := func(d int) {
		if !compact {
			sb.WriteByte('\n')
			for i := 0; i < d; i++ {
				sb.WriteString("    ")
			}
		}
	}
	switch v.kind {
	case KindBoolean:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindInt, KindLong:
		sb.WriteString(strconv.FormatInt(v.i, 10))
	case KindDouble:
		sb.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindString:
		raw, _ := json.Marshal(v.s)
		sb.Write(raw)
	case KindBytes:
		raw, _ := json.Marshal(base64.StdEncoding.EncodeToString(v.raw))
		sb.Write(raw)
	case KindList:
		sb.WriteByte('[')
		for i, e := range v.list {
			if i > 0 {
				sb.WriteByte(',')
			}
			indent(depth + 1)
			e.appendJSON(sb, compact, depth+1)
		}
		if len(v.list) > 0 {
			indent(depth)
		}
		sb.WriteByte(']')
	case KindObject:
		sb.WriteByte('{')
		for i, k := range v.order {
			if i > 0 {
				sb.WriteByte(',')
			}
			indent(depth + 1)
			raw, _ := json.Marshal(k)
			sb.Write(raw)
			sb.WriteString(": ")
			v.fields[k].appendJSON(sb, compact, depth+1)
		}
		if len(v.order) > 0 {
			indent(depth)
		}
		sb.WriteByte('}')
	}
}

// MarshalJSON implements json.Marshaler, preserving object key order.
func (v *Value) MarshalJSON() ([]byte, error) {
	return []byte(v.JSONString(true)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := FromJSON(strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	*v = *parsed
	return nil
}

// FromJSON parses a value from a JSON stream, preserving object key
// order. Numbers without a fraction or exponent become long values,
// everything else double.
func FromJSON(r io.Reader) (*Value, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	v, err := decodeJSON(dec)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func decodeJSON(dec *json.Decoder) (*Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeJSONToken(dec, tok)
}

func decodeJSONToken(dec *json.Decoder, tok json.Token) (*Value, error) {
	v := New()
	switch t := tok.(type) {
	case nil:
		return v, nil
	case bool:
		return v.SetBoolean(t), nil
	case string:
		return v.SetString(t), nil
	case json.Number:
		if !strings.ContainsAny(t.String(), ".eE") {
			n, err := t.Int64()
			if err != nil {
				return nil, fmt.Errorf("parse number %q: %w", t, err)
			}
			return v.SetLong(n), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("parse number %q: %w", t, err)
		}
		return v.SetDouble(f), nil
	case json.Delim:
		switch t {
		case '[':
			v.SetEmptyList()
			for dec.More() {
				elem, err := decodeJSON(dec)
				if err != nil {
					return nil, err
				}
				v.Add(elem)
			}
			if _, err := dec.Token(); err != nil { // closing ]
				return nil, err
			}
			return v, nil
		case '{':
			v.SetEmptyObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key token %v", keyTok)
				}
				child, err := decodeJSON(dec)
				if err != nil {
					return nil, err
				}
				v.Get(key).Set(child)
			}
			if _, err := dec.Token(); err != nil { // closing }
				return nil, err
			}
			return v, nil
		}
	}
	return nil, fmt.Errorf("unexpected JSON token %v", tok)
}
