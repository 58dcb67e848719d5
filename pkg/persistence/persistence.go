// Package persistence holds the configuration persister implementations
// and the helpers they share. A persister stores the management model
// after every successful mutating operation and can replay it as boot
// operations on startup.
package persistence

import (
	"encoding/xml"
	"io"
	"sort"

	"github.com/castellan-io/castellan/pkg/model"
)

// BootOperations converts a stored model into the list of add operations
// that rebuilds it: one add per resource node, scalar fields carried as
// parameters, parents before children.
func BootOperations(root *model.Value) []*model.Value {
	var ops []*model.Value
	appendBootOps(&ops, model.EmptyAddress, root)
	return ops
}

func appendBootOps(ops *[]*model.Value, address model.Address, node *model.Value) {
	if address.Size() > 0 {
		add := model.Operation("add", address)
		for _, key := range node.Keys() {
			child := node.Get(key)
			if child.Kind() != model.KindObject {
				add.Get(key).Set(child)
			}
		}
		*ops = append(*ops, add)
	}
	for _, key := range node.Keys() {
		child := node.Get(key)
		if child.Kind() != model.KindObject {
			continue
		}
		for _, name := range child.Keys() {
			appendBootOps(ops, address.Append(model.Element(key, name)), child.Get(name))
		}
	}
}

// MarshalXML renders the model as a generic element tree:
// resource children become <resource type="..." name="..."> elements and
// scalar fields become empty <attribute name="..." value="..."></attribute>
// elements.
func MarshalXML(root *model.Value, out io.Writer) error {
	enc := xml.NewEncoder(out)
	enc.Indent("", "    ")
	start := xml.StartElement{Name: xml.Name{Local: "configuration"}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if err := encodeNode(enc, root); err != nil {
		return err
	}
	if err := enc.EncodeToken(start.End()); err != nil {
		return err
	}
	return enc.Flush()
}

func encodeNode(enc *xml.Encoder, node *model.Value) error {
	if node.Kind() != model.KindObject {
		return nil
	}
	for _, key := range node.Keys() {
		child := node.Get(key)
		if child.Kind() == model.KindObject && allObjectChildren(child) && child.Len() > 0 {
			names := append([]string(nil), child.Keys()...)
			sort.Strings(names)
			for _, name := range names {
				start := xml.StartElement{
					Name: xml.Name{Local: "resource"},
					Attr: []xml.Attr{
						{Name: xml.Name{Local: "type"}, Value: key},
						{Name: xml.Name{Local: "name"}, Value: name},
					},
				}
				if err := enc.EncodeToken(start); err != nil {
					return err
				}
				if err := encodeNode(enc, child.Get(name)); err != nil {
					return err
				}
				if err := enc.EncodeToken(start.End()); err != nil {
					return err
				}
			}
			continue
		}
		if !child.Defined() {
			continue
		}
		attr := xml.StartElement{
			Name: xml.Name{Local: "attribute"},
			Attr: []xml.Attr{
				{Name: xml.Name{Local: "name"}, Value: key},
				{Name: xml.Name{Local: "value"}, Value: child.AsString()},
			},
		}
		if err := enc.EncodeToken(attr); err != nil {
			return err
		}
		if err := enc.EncodeToken(attr.End()); err != nil {
			return err
		}
	}
	return nil
}

func allObjectChildren(node *model.Value) bool {
	for _, key := range node.Keys() {
		if node.Get(key).Kind() != model.KindObject {
			return false
		}
	}
	return true
}
