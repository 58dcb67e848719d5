package ports

import (
	"context"
	"io"

	"github.com/castellan-io/castellan/pkg/model"
)

// Controller is the management entry point: it routes structured
// operations to proxies, the composite engine, or registered handlers.
type Controller interface {
	// Execute runs the operation and blocks until a terminal state,
	// returning the full result envelope. Cancelling ctx requests
	// cancellation of the in-flight operation.
	Execute(ctx context.Context, operation *model.Value) *model.Value
	// ExecuteAsync starts the operation; the sink receives fragments and
	// exactly one terminal. The returned result carries the compensating
	// operation (valid after success) and the cancellation handle.
	ExecuteAsync(operation *model.Value, sink ResultSink) OperationResult
}

// ProxyController stands in for a remote controller at an address. Every
// operation under that address is forwarded with the address rebased to
// the proxy's anchor.
type ProxyController interface {
	// ProxyAddress is the anchor the proxy was registered at.
	ProxyAddress() model.Address
	// Execute forwards an already-rebased operation.
	Execute(operation *model.Value, sink ResultSink) OperationResult
}

// ModelProvider yields the model tree an operation should read or update.
// The composite engine substitutes a provider backed by its working copy.
type ModelProvider interface {
	Model() *model.Value
}

// ConfigurationPersister stores the configuration model durably. Store is
// invoked after every successful mutating operation; failures are logged
// as warnings and never surfaced to the caller.
type ConfigurationPersister interface {
	Store(root *model.Value) error
	// Load returns the boot operations that rebuild the model.
	Load() ([]*model.Value, error)
	// MarshalAsXML renders the model as XML to out.
	MarshalAsXML(root *model.Value, out io.Writer) error
}
