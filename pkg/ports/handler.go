package ports

import (
	"context"

	"github.com/castellan-io/castellan/pkg/model"
)

// Capability tags an operation handler with the model-phase behavior the
// controller applies around it. There is one handler interface; the
// engine branches on the tag instead of a type hierarchy.
type Capability int

const (
	// CapabilityQuery reads: the handler gets a deep clone of the node at
	// the operation address and the tree is never touched.
	CapabilityQuery Capability = iota
	// CapabilityUpdate mutates: the handler's submodel replaces the node
	// at the address on success.
	CapabilityUpdate
	// CapabilityAdd creates: the address must not exist yet, all ancestors
	// must; the handler starts from an undefined submodel which is written
	// at the address on success.
	CapabilityAdd
	// CapabilityRemove deletes: the node at the address is removed on
	// success; the handler gets no submodel.
	CapabilityRemove
)

func (c Capability) String() string {
	switch c {
	case CapabilityQuery:
		return "query"
	case CapabilityUpdate:
		return "update"
	case CapabilityAdd:
		return "add"
	case CapabilityRemove:
		return "remove"
	}
	return "unknown"
}

// Mutates reports whether the capability writes back to the model tree.
func (c Capability) Mutates() bool {
	return c != CapabilityQuery
}

// ResultSink receives the streamed output of one in-flight operation:
// zero or more fragments followed by exactly one terminal call. Sinks
// must tolerate being called from the handler's goroutine.
type ResultSink interface {
	// ResultFragment delivers a partial result at a location path relative
	// to the result root.
	ResultFragment(location []string, fragment *model.Value)
	// Complete signals success.
	Complete()
	// Failed signals failure with a description value.
	Failed(description *model.Value)
	// Cancelled signals that cancellation won the race with completion.
	Cancelled()
}

// Cancellable is the cancellation half of an operation handle. Cancel is
// idempotent and non-blocking; it reports whether a cancellation was
// actually delivered.
type Cancellable interface {
	Cancel() bool
}

// CancelFunc adapts a function to Cancellable.
type CancelFunc func() bool

func (f CancelFunc) Cancel() bool { return f() }

// NotCancellable is the handle for operations that complete inline.
var NotCancellable Cancellable = CancelFunc(func() bool { return false })

// OperationResult is returned by a handler (and by the controller): the
// compensating operation that would undo the work, if any, and the
// cancellation handle.
type OperationResult struct {
	CompensatingOperation *model.Value
	Cancellable           Cancellable
}

// RuntimeTask is a deferred side effect registered by a handler, run by
// the engine after the model phase completes.
type RuntimeTask func(ctx context.Context) error

// OperationContext is the handler's view of the engine: the submodel the
// operation works on, a read-only view of the registration trie, and the
// runtime-task port.
type OperationContext interface {
	// SubModel returns the submodel for the operation per the handler's
	// capability. Remove handlers get nil.
	SubModel() *model.Value
	// Registry returns the registration trie view.
	Registry() RegistryView
	// RegisterRuntimeTask defers a side effect to after the model phase.
	// Tasks must be registered before the handler returns.
	RegisterRuntimeTask(task RuntimeTask)
}

// OperationHandler is a pluggable behavior keyed by (address, operation
// name) in the registration trie. Execute may call the sink synchronously
// or hand it to spawned work; either way the sink sees at most one
// terminal call.
type OperationHandler interface {
	Capability() Capability
	Execute(ctx OperationContext, operation *model.Value, sink ResultSink) (OperationResult, error)
}

// HandlerFunc adapts a function plus capability tag to OperationHandler.
type HandlerFunc struct {
	Cap Capability
	Fn  func(ctx OperationContext, operation *model.Value, sink ResultSink) (OperationResult, error)
}

func (h HandlerFunc) Capability() Capability { return h.Cap }

func (h HandlerFunc) Execute(ctx OperationContext, operation *model.Value, sink ResultSink) (OperationResult, error) {
	return h.Fn(ctx, operation, sink)
}

// DescriptionProvider produces the description value for a node or an
// operation.
type DescriptionProvider func() *model.Value

// NoDescription is the empty description provider.
func NoDescription() *model.Value { return model.New() }

// RegistryView is the read side of the registration trie exposed to
// handlers through the operation context.
type RegistryView interface {
	OperationNames(address model.Address) []string
	OperationDescription(address model.Address, name string) *model.Value
	Description(address model.Address) *model.Value
	ChildNames(address model.Address) []string
	ChildAddresses(address model.Address) []model.PathElement
	AttributeNames(address model.Address) []string
}
