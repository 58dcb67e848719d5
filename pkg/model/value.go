// Package model implements the dynamic, self-describing value that the
// management layer uses for operations, results, descriptions and the
// configuration tree itself, along with the path addressing scheme used
// to navigate that tree.
package model

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	// KindUndefined is the zero kind. An undefined Value holds nothing but
	// can be grown into any other kind in place.
	KindUndefined Kind = iota
	KindBoolean
	KindInt
	KindLong
	KindDouble
	KindString
	KindBytes
	KindList
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindBoolean:
		return "boolean"
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	}
	return "unknown"
}

// ErrNoSuchElement is returned by Require when a child is missing or undefined.
var ErrNoSuchElement = errors.New("no such element")

// Value is a tagged dynamic value. Object children keep insertion order,
// which both serializers preserve.
//
// Get auto-creates undefined children so callers can build nested
// structures with chained calls. Has reports whether a child exists at
// all, even an undefined one; HasDefined reports true only for defined
// children. The zero Value is undefined and ready for use.
type Value struct {
	kind   Kind
	b      bool
	i      int64
	f      float64
	s      string
	raw    []byte
	list   []*Value
	fields map[string]*Value
	order  []string
}

// New returns a new undefined value.
func New() *Value {
	return &Value{}
}

// NewString returns a string value.
func NewString(s string) *Value {
	return &Value{kind: KindString, s: s}
}

// NewInt returns an int value.
func NewInt(i int32) *Value {
	return &Value{kind: KindInt, i: int64(i)}
}

// NewLong returns a long value.
func NewLong(i int64) *Value {
	return &Value{kind: KindLong, i: i}
}

// NewDouble returns a double value.
func NewDouble(f float64) *Value {
	return &Value{kind: KindDouble, f: f}
}

// NewBoolean returns a boolean value.
func NewBoolean(b bool) *Value {
	return &Value{kind: KindBoolean, b: b}
}

// NewBytes returns a bytes value holding a copy of raw.
func NewBytes(raw []byte) *Value {
	return &Value{kind: KindBytes, raw: append([]byte(nil), raw...)}
}

// NewObject returns an empty object value.
func NewObject() *Value {
	v := &Value{}
	v.SetEmptyObject()
	return v
}

// NewList returns an empty list value.
func NewList() *Value {
	v := &Value{}
	v.SetEmptyList()
	return v
}

// Kind reports the variant currently held.
func (v *Value) Kind() Kind {
	if v == nil {
		return KindUndefined
	}
	return v.kind
}

// Defined reports whether the value holds anything.
func (v *Value) Defined() bool {
	return v != nil && v.kind != KindUndefined
}

// Get returns the named child of an object, creating an undefined child
// (and converting an undefined receiver into an object) when absent.
func (v *Value) Get(name string) *Value {
	if v.kind == KindUndefined {
		v.SetEmptyObject()
	}
	if v.kind != KindObject {
		panic(fmt.Sprintf("model: Get %q on %s value", name, v.kind))
	}
	if child, ok := v.fields[name]; ok {
		return child
	}
	child := New()
	v.fields[name] = child
	v.order = append(v.order, name)
	return child
}

// GetPath walks Get over each name in turn.
func (v *Value) GetPath(names ...string) *Value {
	node := v
	for _, name := range names {
		node = node.Get(name)
	}
	return node
}

// Has reports whether an object has the named child at all, defined or not.
func (v *Value) Has(name string) bool {
	if v == nil || v.kind != KindObject {
		return false
	}
	_, ok := v.fields[name]
	return ok
}

// HasDefined reports whether the named child exists and is defined.
func (v *Value) HasDefined(name string) bool {
	if v == nil || v.kind != KindObject {
		return false
	}
	child, ok := v.fields[name]
	return ok && child.Defined()
}

// Require returns the named child or ErrNoSuchElement if it is absent or
// undefined.
func (v *Value) Require(name string) (*Value, error) {
	if !v.HasDefined(name) {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchElement, name)
	}
	return v.fields[name], nil
}

// Remove deletes the named child from an object. Removing a missing child
// is a no-op.
func (v *Value) Remove(name string) {
	if v == nil || v.kind != KindObject {
		return
	}
	if _, ok := v.fields[name]; !ok {
		return
	}
	delete(v.fields, name)
	for i, k := range v.order {
		if k == name {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
}

// Keys returns the object's child names in insertion order.
func (v *Value) Keys() []string {
	if v == nil || v.kind != KindObject {
		return nil
	}
	return append([]string(nil), v.order...)
}

// Len returns the number of list elements or object children.
func (v *Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindObject:
		return len(v.order)
	}
	return 0
}

// Index returns the i-th list element, or an undefined value when out of
// range.
func (v *Value) Index(i int) *Value {
	if v.kind != KindList || i < 0 || i >= len(v.list) {
		return New()
	}
	return v.list[i]
}

// Add appends a value to a list, converting an undefined receiver into an
// empty list first. Returns the appended element.
func (v *Value) Add(elem *Value) *Value {
	if v.kind == KindUndefined {
		v.SetEmptyList()
	}
	if v.kind != KindList {
		panic(fmt.Sprintf("model: Add on %s value", v.kind))
	}
	if elem == nil {
		elem = New()
	}
	v.list = append(v.list, elem)
	return elem
}

// AddPair appends a single-field object {key: value} to a list; the
// address serialization uses this shape for path elements.
func (v *Value) AddPair(key, value string) {
	pair := NewObject()
	pair.Get(key).SetString(value)
	v.Add(pair)
}

// Elements returns the list elements. The returned slice is shared.
func (v *Value) Elements() []*Value {
	if v == nil || v.kind != KindList {
		return nil
	}
	return v.list
}

// SetString replaces the value with a string.
func (v *Value) SetString(s string) *Value {
	v.reset()
	v.kind = KindString
	v.s = s
	return v
}

// SetInt replaces the value with an int.
func (v *Value) SetInt(i int32) *Value {
	v.reset()
	v.kind = KindInt
	v.i = int64(i)
	return v
}

// SetLong replaces the value with a long.
func (v *Value) SetLong(i int64) *Value {
	v.reset()
	v.kind = KindLong
	v.i = i
	return v
}

// SetDouble replaces the value with a double.
func (v *Value) SetDouble(f float64) *Value {
	v.reset()
	v.kind = KindDouble
	v.f = f
	return v
}

// SetBoolean replaces the value with a boolean.
func (v *Value) SetBoolean(b bool) *Value {
	v.reset()
	v.kind = KindBoolean
	v.b = b
	return v
}

// SetBytes replaces the value with a copy of raw.
func (v *Value) SetBytes(raw []byte) *Value {
	v.reset()
	v.kind = KindBytes
	v.raw = append([]byte(nil), raw...)
	return v
}

// SetEmptyObject replaces the value with an empty object.
func (v *Value) SetEmptyObject() *Value {
	v.reset()
	v.kind = KindObject
	v.fields = make(map[string]*Value)
	return v
}

// SetEmptyList replaces the value with an empty list.
func (v *Value) SetEmptyList() *Value {
	v.reset()
	v.kind = KindList
	return v
}

// SetUndefined clears the value back to undefined.
func (v *Value) SetUndefined() *Value {
	v.reset()
	return v
}

// Set replaces the value with a deep copy of other. A nil other clears the
// value to undefined.
func (v *Value) Set(other *Value) *Value {
	if other == nil {
		return v.SetUndefined()
	}
	clone := other.Clone()
	*v = *clone
	return v
}

func (v *Value) reset() {
	*v = Value{}
}

// Clone returns a deep copy.
func (v *Value) Clone() *Value {
	if v == nil {
		return New()
	}
	out := &Value{kind: v.kind, b: v.b, i: v.i, f: v.f, s: v.s}
	if v.raw != nil {
		out.raw = append([]byte(nil), v.raw...)
	}
	if v.kind == KindList {
		out.list = make([]*Value, len(v.list))
		for i, e := range v.list {
			out.list[i] = e.Clone()
		}
	}
	if v.kind == KindObject {
		out.fields = make(map[string]*Value, len(v.fields))
		out.order = append([]string(nil), v.order...)
		for k, c := range v.fields {
			out.fields[k] = c.Clone()
		}
	}
	return out
}

// Equal reports deep equality, including object key order.
func (v *Value) Equal(other *Value) bool {
	if v == nil || other == nil {
		return v.Kind() == KindUndefined && other.Kind() == KindUndefined
	}
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindUndefined:
		return true
	case KindBoolean:
		return v.b == other.b
	case KindInt, KindLong:
		return v.i == other.i
	case KindDouble:
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindBytes:
		return bytes.Equal(v.raw, other.raw)
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.order) != len(other.order) {
			return false
		}
		for i, k := range v.order {
			if other.order[i] != k {
				return false
			}
			if !v.fields[k].Equal(other.fields[k]) {
				return false
			}
		}
		return true
	}
	return false
}

// AsString renders the value as a string: strings verbatim, scalars
// formatted, an undefined value as "undefined", everything else as
// compact JSON.
func (v *Value) AsString() string {
	if v == nil {
		return ""
	}
	switch v.kind {
	case KindString:
		return v.s
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindInt, KindLong:
		return strconv.FormatInt(v.i, 10)
	case KindDouble:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindUndefined:
		return "undefined"
	}
	return v.JSONString(true)
}

// AsInt returns the numeric value as int64, parsing strings when needed.
func (v *Value) AsInt() int64 {
	if v == nil {
		return 0
	}
	switch v.kind {
	case KindInt, KindLong:
		return v.i
	case KindDouble:
		return int64(v.f)
	case KindBoolean:
		if v.b {
			return 1
		}
		return 0
	case KindString:
		n, _ := strconv.ParseInt(v.s, 10, 64)
		return n
	}
	return 0
}

// AsDouble returns the numeric value as float64.
func (v *Value) AsDouble() float64 {
	if v == nil {
		return 0
	}
	switch v.kind {
	case KindDouble:
		return v.f
	case KindInt, KindLong:
		return float64(v.i)
	case KindString:
		f, _ := strconv.ParseFloat(v.s, 64)
		return f
	}
	return 0
}

// AsBool returns the boolean value, accepting the strings "true"/"false".
func (v *Value) AsBool() bool {
	if v == nil {
		return false
	}
	switch v.kind {
	case KindBoolean:
		return v.b
	case KindString:
		b, _ := strconv.ParseBool(v.s)
		return b
	case KindInt, KindLong:
		return v.i != 0
	}
	return false
}

// AsBytes returns the raw bytes of a bytes value.
func (v *Value) AsBytes() []byte {
	if v == nil || v.kind != KindBytes {
		return nil
	}
	return v.raw
}

// Interface converts the value into plain Go types: map[string]any for
// objects (order lost), []any for lists, scalars as themselves. Used by
// adapters that hand values to schemaless consumers.
func (v *Value) Interface() any {
	if v == nil {
		return nil
	}
	switch v.kind {
	case KindUndefined:
		return nil
	case KindBoolean:
		return v.b
	case KindInt, KindLong:
		return v.i
	case KindDouble:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return append([]byte(nil), v.raw...)
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.fields))
		for _, k := range v.order {
			out[k] = v.fields[k].Interface()
		}
		return out
	}
	return nil
}

// FromInterface builds a value from plain Go data. Map keys are sorted so
// the result is deterministic; callers that care about order should build
// values directly.
func FromInterface(data any) *Value {
	v := New()
	setFromInterface(v, data)
	return v
}

func setFromInterface(v *Value, data any) {
	switch d := data.(type) {
	case nil:
		v.SetUndefined()
	case bool:
		v.SetBoolean(d)
	case int:
		v.SetLong(int64(d))
	case int32:
		v.SetInt(d)
	case int64:
		v.SetLong(d)
	case float64:
		v.SetDouble(d)
	case string:
		v.SetString(d)
	case []byte:
		v.SetBytes(d)
	case []any:
		v.SetEmptyList()
		for _, e := range d {
			setFromInterface(v.Add(New()), e)
		}
	case map[string]any:
		v.SetEmptyObject()
		keys := make([]string, 0, len(d))
		for k := range d {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			setFromInterface(v.Get(k), d[k])
		}
	default:
		v.SetString(fmt.Sprintf("%v", d))
	}
}

// String implements fmt.Stringer with compact JSON.
func (v *Value) String() string {
	return v.JSONString(true)
}
