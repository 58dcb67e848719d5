package runtime

import (
	"github.com/castellan-io/castellan/pkg/model"
	"github.com/castellan-io/castellan/pkg/ports"
)

// modelSource yields the tree an operation reads or updates, together
// with the lock that serializes access to it. The controller hands out
// the live tree; a composite substitutes its working copy.
type modelSource interface {
	Model() *model.Value
	LockModel()
	UnlockModel()
}

// operationContext is the handler's view of one operation: the submodel
// computed for the handler's capability, the registry, and the
// runtime-task collector.
type operationContext struct {
	subModel *model.Value
	registry ports.RegistryView
	onTask   func(ports.RuntimeTask)
}

var _ ports.OperationContext = (*operationContext)(nil)

func (c *operationContext) SubModel() *model.Value      { return c.subModel }
func (c *operationContext) Registry() ports.RegistryView { return c.registry }

func (c *operationContext) RegisterRuntimeTask(task ports.RuntimeTask) {
	if c.onTask != nil && task != nil {
		c.onTask(task)
	}
}

// newOperationContext computes the submodel view for a handler:
//
//   - add: the address must not exist and every ancestor must; the
//     submodel starts undefined.
//   - query: a deep clone of the node at the address, taken under the
//     tree lock.
//   - update: a clone to be written back on success.
//   - remove: no submodel; the address is validated to exist.
func newOperationContext(src modelSource, registry ports.RegistryView, address model.Address, handler ports.OperationHandler, onTask func(ports.RuntimeTask)) (*operationContext, error) {
	ctx := &operationContext{registry: registry, onTask: onTask}
	switch handler.Capability() {
	case ports.CapabilityAdd:
		src.LockModel()
		err := validateNewAddress(src.Model(), address)
		src.UnlockModel()
		if err != nil {
			return nil, err
		}
		ctx.subModel = model.New()
	case ports.CapabilityQuery, ports.CapabilityUpdate:
		src.LockModel()
		node, err := address.Navigate(src.Model(), false)
		src.UnlockModel()
		if err != nil {
			return nil, &FailedError{Description: failure(KindAddressConflict, "no resource at %s", address)}
		}
		ctx.subModel = node.Clone()
	case ports.CapabilityRemove:
		src.LockModel()
		_, err := address.Navigate(src.Model(), false)
		src.UnlockModel()
		if err != nil {
			return nil, &FailedError{Description: failure(KindAddressConflict, "no resource at %s", address)}
		}
	}
	return ctx, nil
}

// validateNewAddress confirms that no resource exists at the address and
// that every ancestor does.
func validateNewAddress(root *model.Value, address model.Address) error {
	if address.Size() == 0 {
		return &FailedError{Description: failure(KindAddressConflict, "resource at %s already exists", address)}
	}
	node := root
	for i, element := range address.SubAddress(0, address.Size()-1) {
		if !node.Has(element.Key) || !node.Get(element.Key).Has(element.Value) {
			ancestor := address.SubAddress(0, i+1)
			return &FailedError{Description: failure(KindAddressConflict,
				"cannot add resource at %s: ancestor %s does not exist", address, ancestor)}
		}
		node = node.Get(element.Key).Get(element.Value)
	}
	last := address.Last()
	if node.Has(last.Key) && node.Get(last.Key).Has(last.Value) && node.Get(last.Key).Get(last.Value).Defined() {
		return &FailedError{Description: failure(KindAddressConflict, "resource at %s already exists", address)}
	}
	return nil
}

// requireOperationName extracts the operation name or fails with the
// format kind.
func requireOperationName(operation *model.Value) (string, error) {
	name, err := operation.Require(model.KeyOperation)
	if err != nil {
		return "", &FailedError{Description: failure(KindInvalidOperationFormat, "operation name is missing")}
	}
	if name.Kind() != model.KindString || name.AsString() == "" {
		return "", &FailedError{Description: failure(KindInvalidOperationFormat, "operation name %s is not a string", name)}
	}
	return name.AsString(), nil
}

// operationAddress parses the operation's address list.
func operationAddress(operation *model.Value) (model.Address, error) {
	var addrValue *model.Value
	if operation.Has(model.KeyAddress) {
		addrValue = operation.Get(model.KeyAddress)
	}
	address, err := model.AddressFromValue(addrValue)
	if err != nil {
		return nil, &FailedError{Description: failure(KindInvalidOperationFormat, "bad address: %v", err)}
	}
	return address, nil
}

// cloneForProxy rewrites the operation address relative to a proxy anchor.
func cloneForProxy(operation *model.Value, address model.Address, proxy ports.ProxyController) *model.Value {
	forwarded := operation.Clone()
	sub := address.From(proxy.ProxyAddress().Size())
	forwarded.Get(model.KeyAddress).Set(sub.ToValue())
	return forwarded
}

func describeRecover(r any) *model.Value {
	return failure(KindHandlerThrew, "%v", r)
}
