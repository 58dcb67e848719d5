package runtime

import (
	"bytes"

	"github.com/castellan-io/castellan/pkg/model"
	"github.com/castellan-io/castellan/pkg/ports"
)

// Global read/write operations registered on the registry root as
// inherited handlers, so every node answers them unless it shadows the
// name with its own behavior.
const (
	OpReadResource            = "read-resource"
	OpReadAttribute           = "read-attribute"
	OpWriteAttribute          = "write-attribute"
	OpReadChildrenNames       = "read-children-names"
	OpReadOperationNames      = "read-operation-names"
	OpReadOperationDesc       = "read-operation-description"
	OpReadResourceDescription = "read-resource-description"
	OpDescribe                = "describe"
	OpReadConfigAsXML         = "read-config-as-xml"
	OpAdd                     = "add"
	OpRemove                  = "remove"
)

// RegisterGlobalHandlers attaches the built-in operations to the root of
// the controller's registry.
func RegisterGlobalHandlers(c *Controller) error {
	root := c.Registry()
	global := []struct {
		name    string
		handler ports.OperationHandler
	}{
		{OpReadResource, readResourceHandler{}},
		{OpReadAttribute, readAttributeHandler{}},
		{OpWriteAttribute, writeAttributeHandler{}},
		{OpReadChildrenNames, readChildrenNamesHandler{}},
		{OpReadOperationNames, readOperationNamesHandler{}},
		{OpReadOperationDesc, readOperationDescriptionHandler{}},
		{OpReadResourceDescription, readResourceDescriptionHandler{}},
		{OpDescribe, describeHandler{}},
		{OpAdd, addHandler{}},
		{OpRemove, removeHandler{}},
	}
	for _, g := range global {
		if err := root.RegisterOperationHandler(g.name, g.handler, nil, true); err != nil {
			return err
		}
	}
	// Reading the config as XML needs the persister, which is controller
	// internals; register a closure so it never leaks through a context.
	return root.RegisterOperationHandler(OpReadConfigAsXML, c.xmlMarshallingHandler(), nil, false)
}

// readResourceHandler returns the node at the address. With
// recursive=false (the default), child nodes are listed but their
// contents replaced by undefined placeholders.
type readResourceHandler struct{}

func (readResourceHandler) Capability() ports.Capability { return ports.CapabilityQuery }

func (readResourceHandler) Execute(ctx ports.OperationContext, operation *model.Value, sink ports.ResultSink) (ports.OperationResult, error) {
	recursive := operation.HasDefined("recursive") && operation.Get("recursive").AsBool()
	node := ctx.SubModel()
	result := node
	if !recursive && node.Kind() == model.KindObject {
		result = model.NewObject()
		for _, key := range node.Keys() {
			child := node.Get(key)
			switch child.Kind() {
			case model.KindObject, model.KindList:
				result.Get(key) // listed, contents pruned
			default:
				result.Get(key).Set(child)
			}
		}
	}
	sink.ResultFragment(nil, result)
	sink.Complete()
	return ports.OperationResult{}, nil
}

// readAttributeHandler returns one attribute of the addressed node.
type readAttributeHandler struct{}

func (readAttributeHandler) Capability() ports.Capability { return ports.CapabilityQuery }

func (readAttributeHandler) Execute(ctx ports.OperationContext, operation *model.Value, sink ports.ResultSink) (ports.OperationResult, error) {
	name, err := operation.Require("name")
	if err != nil {
		return ports.OperationResult{}, &FailedError{Description: failure(KindInvalidOperationFormat, "read-attribute requires a name")}
	}
	sink.ResultFragment(nil, ctx.SubModel().Get(name.AsString()))
	sink.Complete()
	return ports.OperationResult{}, nil
}

// writeAttributeHandler sets one attribute and reports the inverse write
// as its compensating operation.
type writeAttributeHandler struct{}

func (writeAttributeHandler) Capability() ports.Capability { return ports.CapabilityUpdate }

func (writeAttributeHandler) Execute(ctx ports.OperationContext, operation *model.Value, sink ports.ResultSink) (ports.OperationResult, error) {
	name, err := operation.Require("name")
	if err != nil {
		return ports.OperationResult{}, &FailedError{Description: failure(KindInvalidOperationFormat, "write-attribute requires a name")}
	}
	if !operation.Has("value") {
		return ports.OperationResult{}, &FailedError{Description: failure(KindInvalidOperationFormat, "write-attribute requires a value")}
	}
	attr := ctx.SubModel().Get(name.AsString())
	previous := attr.Clone()

	compensating := operation.Clone()
	compensating.Get("value").Set(previous)

	attr.Set(operation.Get("value"))
	sink.ResultFragment(nil, previous)
	sink.Complete()
	return ports.OperationResult{CompensatingOperation: compensating}, nil
}

// readChildrenNamesHandler lists the instance names under a child type.
type readChildrenNamesHandler struct{}

func (readChildrenNamesHandler) Capability() ports.Capability { return ports.CapabilityQuery }

func (readChildrenNamesHandler) Execute(ctx ports.OperationContext, operation *model.Value, sink ports.ResultSink) (ports.OperationResult, error) {
	childType, err := operation.Require("child-type")
	if err != nil {
		return ports.OperationResult{}, &FailedError{Description: failure(KindInvalidOperationFormat, "read-children-names requires a child-type")}
	}
	names := model.NewList()
	if ctx.SubModel().HasDefined(childType.AsString()) {
		for _, name := range ctx.SubModel().Get(childType.AsString()).Keys() {
			names.Add(model.NewString(name))
		}
	}
	sink.ResultFragment(nil, names)
	sink.Complete()
	return ports.OperationResult{}, nil
}

// readOperationNamesHandler lists the operations visible at the address,
// inherited handlers included.
type readOperationNamesHandler struct{}

func (readOperationNamesHandler) Capability() ports.Capability { return ports.CapabilityQuery }

func (readOperationNamesHandler) Execute(ctx ports.OperationContext, operation *model.Value, sink ports.ResultSink) (ports.OperationResult, error) {
	address, err := operationAddress(operation)
	if err != nil {
		return ports.OperationResult{}, err
	}
	names := model.NewList()
	for _, name := range ctx.Registry().OperationNames(address) {
		names.Add(model.NewString(name))
	}
	sink.ResultFragment(nil, names)
	sink.Complete()
	return ports.OperationResult{}, nil
}

type readOperationDescriptionHandler struct{}

func (readOperationDescriptionHandler) Capability() ports.Capability { return ports.CapabilityQuery }

func (readOperationDescriptionHandler) Execute(ctx ports.OperationContext, operation *model.Value, sink ports.ResultSink) (ports.OperationResult, error) {
	address, err := operationAddress(operation)
	if err != nil {
		return ports.OperationResult{}, err
	}
	name, err := operation.Require("name")
	if err != nil {
		return ports.OperationResult{}, &FailedError{Description: failure(KindInvalidOperationFormat, "read-operation-description requires a name")}
	}
	sink.ResultFragment(nil, ctx.Registry().OperationDescription(address, name.AsString()))
	sink.Complete()
	return ports.OperationResult{}, nil
}

type readResourceDescriptionHandler struct{}

func (readResourceDescriptionHandler) Capability() ports.Capability { return ports.CapabilityQuery }

func (readResourceDescriptionHandler) Execute(ctx ports.OperationContext, operation *model.Value, sink ports.ResultSink) (ports.OperationResult, error) {
	address, err := operationAddress(operation)
	if err != nil {
		return ports.OperationResult{}, err
	}
	sink.ResultFragment(nil, ctx.Registry().Description(address))
	sink.Complete()
	return ports.OperationResult{}, nil
}

// describeHandler emits the list of operations that would rebuild the
// addressed subtree: one add per node, scalars carried as parameters.
// The domain controller uses it to pull profile subtrees for hosts.
type describeHandler struct{}

func (describeHandler) Capability() ports.Capability { return ports.CapabilityQuery }

func (describeHandler) Execute(ctx ports.OperationContext, operation *model.Value, sink ports.ResultSink) (ports.OperationResult, error) {
	address, err := operationAddress(operation)
	if err != nil {
		return ports.OperationResult{}, err
	}
	ops := model.NewList()
	describeNode(ops, address, ctx.SubModel())
	sink.ResultFragment(nil, ops)
	sink.Complete()
	return ports.OperationResult{}, nil
}

func describeNode(ops *model.Value, address model.Address, node *model.Value) {
	if address.Size() > 0 {
		add := model.Operation("add", address)
		for _, key := range node.Keys() {
			child := node.Get(key)
			if child.Kind() != model.KindObject {
				add.Get(key).Set(child)
			}
		}
		ops.Add(add)
	}
	for _, key := range node.Keys() {
		child := node.Get(key)
		if child.Kind() != model.KindObject {
			continue
		}
		for _, name := range child.Keys() {
			describeNode(ops, address.Append(model.Element(key, name)), child.Get(name))
		}
	}
}

// addHandler creates a resource from the operation's parameters. Every
// field except the bookkeeping ones becomes part of the new node.
type addHandler struct{}

func (addHandler) Capability() ports.Capability { return ports.CapabilityAdd }

func (addHandler) Execute(ctx ports.OperationContext, operation *model.Value, sink ports.ResultSink) (ports.OperationResult, error) {
	node := ctx.SubModel()
	node.SetEmptyObject()
	for _, key := range operation.Keys() {
		switch key {
		case model.KeyOperation, model.KeyAddress:
			continue
		}
		node.Get(key).Set(operation.Get(key))
	}
	compensating := model.NewObject()
	compensating.Get(model.KeyOperation).SetString(OpRemove)
	compensating.Get(model.KeyAddress).Set(operation.Get(model.KeyAddress))
	sink.Complete()
	return ports.OperationResult{CompensatingOperation: compensating}, nil
}

// removeHandler deletes the resource at the address. It sees no
// submodel, so the undo is left to the caller.
type removeHandler struct{}

func (removeHandler) Capability() ports.Capability { return ports.CapabilityRemove }

func (removeHandler) Execute(ctx ports.OperationContext, operation *model.Value, sink ports.ResultSink) (ports.OperationResult, error) {
	sink.Complete()
	return ports.OperationResult{}, nil
}

// xmlMarshallingHandler reads the whole configuration rendered as XML.
// It closes over the controller so persister access never crosses the
// operation context.
func (c *Controller) xmlMarshallingHandler() ports.OperationHandler {
	return ports.HandlerFunc{
		Cap: ports.CapabilityQuery,
		Fn: func(ctx ports.OperationContext, operation *model.Value, sink ports.ResultSink) (ports.OperationResult, error) {
			if c.persister == nil {
				return ports.OperationResult{}, Failf("no configuration persister installed")
			}
			var buf bytes.Buffer
			c.modelMu.Lock()
			err := c.persister.MarshalAsXML(c.model, &buf)
			c.modelMu.Unlock()
			if err != nil {
				return ports.OperationResult{}, &FailedError{Description: failure(KindHandlerFailed, "marshal config: %v", err)}
			}
			sink.ResultFragment(nil, model.NewString(buf.String()))
			sink.Complete()
			return ports.OperationResult{}, nil
		},
	}
}
