package protocol

import (
	"github.com/castellan-io/castellan/pkg/model"
	"github.com/castellan-io/castellan/pkg/ports"
)

// RemoteProxy forwards operations under an address to a remote
// controller over the wire. The controller rebases the operation address
// before calling Execute, so the remote side sees addresses relative to
// the anchor.
type RemoteProxy struct {
	anchor model.Address
	client *Client
}

var _ ports.ProxyController = (*RemoteProxy)(nil)

// NewRemoteProxy creates a proxy anchored at address, forwarding to the
// controller behind client.
func NewRemoteProxy(anchor model.Address, client *Client) *RemoteProxy {
	return &RemoteProxy{anchor: anchor, client: client}
}

// ProxyAddress returns the registration anchor.
func (p *RemoteProxy) ProxyAddress() model.Address {
	return p.anchor
}

// Execute forwards the rebased operation, streaming fragments to sink.
// It blocks until the terminal so callers see the compensating
// operation, mirroring local handler execution.
func (p *RemoteProxy) Execute(operation *model.Value, sink ports.ResultSink) ports.OperationResult {
	async, err := p.client.ExecuteAsync(operation, sink)
	if err != nil {
		sink.Failed(model.NewString(err.Error()))
		return ports.OperationResult{Cancellable: ports.NotCancellable}
	}
	result, _ := async.Wait()
	return result
}
