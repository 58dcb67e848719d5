package model

import (
	"fmt"
	"strings"
)

// PathElement is a single (key, value) step of an address.
type PathElement struct {
	Key   string
	Value string
}

// Element builds a path element.
func Element(key, value string) PathElement {
	return PathElement{Key: key, Value: value}
}

func (e PathElement) String() string {
	return e.Key + "=" + e.Value
}

// Address is an ordered sequence of path elements identifying a node in
// the model tree. The empty address denotes the root. Addresses are
// treated as immutable: derived addresses share no mutable state with
// their source.
type Address []PathElement

// EmptyAddress is the root address.
var EmptyAddress = Address{}

// NewAddress builds an address from elements.
func NewAddress(elements ...PathElement) Address {
	return append(Address(nil), elements...)
}

// AddressFromValue parses an address from its value form: a list of
// single-field objects [{key: value}, ...]. An undefined value is the
// root address.
func AddressFromValue(v *Value) (Address, error) {
	if !v.Defined() {
		return EmptyAddress, nil
	}
	if v.Kind() != KindList {
		return nil, fmt.Errorf("address must be a list, not %s", v.Kind())
	}
	addr := make(Address, 0, v.Len())
	for _, pair := range v.Elements() {
		if pair.Kind() != KindObject || pair.Len() != 1 {
			return nil, fmt.Errorf("address element %s is not a single key=value pair", pair)
		}
		key := pair.Keys()[0]
		addr = append(addr, Element(key, pair.Get(key).AsString()))
	}
	return addr, nil
}

// ToValue renders the address in its value form.
func (a Address) ToValue() *Value {
	v := NewList()
	for _, e := range a {
		v.AddPair(e.Key, e.Value)
	}
	return v
}

// Size returns the number of elements.
func (a Address) Size() int {
	return len(a)
}

// Last returns the final element. Calling Last on the root address panics.
func (a Address) Last() PathElement {
	return a[len(a)-1]
}

// SubAddress returns the element range [from, to).
func (a Address) SubAddress(from, to int) Address {
	return NewAddress(a[from:to]...)
}

// From returns the tail starting at element n.
func (a Address) From(n int) Address {
	return a.SubAddress(n, len(a))
}

// Append returns a new address with extra elements appended.
func (a Address) Append(elements ...PathElement) Address {
	out := make(Address, 0, len(a)+len(elements))
	out = append(out, a...)
	return append(out, elements...)
}

// Equal reports element-wise equality.
func (a Address) Equal(other Address) bool {
	if len(a) != len(other) {
		return false
	}
	for i := range a {
		if a[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is a (possibly equal) leading
// sub-address of a.
func (a Address) HasPrefix(prefix Address) bool {
	if len(prefix) > len(a) {
		return false
	}
	return a.SubAddress(0, len(prefix)).Equal(prefix)
}

func (a Address) String() string {
	if len(a) == 0 {
		return "/"
	}
	var sb strings.Builder
	for _, e := range a {
		sb.WriteByte('/')
		sb.WriteString(e.Key)
		sb.WriteByte('=')
		sb.WriteString(e.Value)
	}
	return sb.String()
}

// Navigate walks the address through the model tree. With create set,
// missing nodes are created along the way; otherwise a missing step
// returns ErrNoSuchElement.
func (a Address) Navigate(root *Value, create bool) (*Value, error) {
	node := root
	for _, e := range a {
		if create {
			node = node.Get(e.Key).Get(e.Value)
			continue
		}
		if !node.Has(e.Key) || !node.Get(e.Key).Has(e.Value) {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchElement, a)
		}
		node = node.Get(e.Key).Get(e.Value)
	}
	return node, nil
}

// RemoveFrom deletes the node the address points at. The parent keeps its
// type key even when no other siblings remain.
func (a Address) RemoveFrom(root *Value) error {
	if len(a) == 0 {
		return fmt.Errorf("cannot remove the root node")
	}
	parent, err := a.SubAddress(0, len(a)-1).Navigate(root, false)
	if err != nil {
		return err
	}
	last := a.Last()
	if !parent.Has(last.Key) || !parent.Get(last.Key).Has(last.Value) {
		return fmt.Errorf("%w: %s", ErrNoSuchElement, a)
	}
	parent.Get(last.Key).Remove(last.Value)
	return nil
}
