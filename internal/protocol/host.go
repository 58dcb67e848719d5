package protocol

import (
	"fmt"

	"github.com/castellan-io/castellan/pkg/model"
)

// HostClient manages a host controller's membership in a domain: it
// registers under the host name, receives the domain model snapshot, and
// unregisters on shutdown.
type HostClient struct {
	name   string
	client *Client
}

// NewHostClient creates a host client for the domain controller at addr.
func NewHostClient(name, addr string, opts ...ClientOption) *HostClient {
	opts = append([]ClientOption{WithHandlerID(HandlerDomain)}, opts...)
	return &HostClient{
		name:   name,
		client: NewClient(addr, opts...),
	}
}

// Register announces the host to the domain controller and returns the
// domain's root model snapshot.
func (h *HostClient) Register() (*model.Value, error) {
	conn, r, w, err := h.client.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := h.client.writeRequest(w, RequestRegisterHost); err != nil {
		return nil, err
	}
	if err := w.WriteByte(ParamHostID); err != nil {
		return nil, err
	}
	if err := writeUTFZ(w, h.name); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}

	if err := readResponseCode(r, ResponseRegisterHost); err != nil {
		return nil, err
	}
	if err := expectHeader(r, ParamModel); err != nil {
		return nil, err
	}
	root, err := model.ReadBinary(r)
	if err != nil {
		return nil, fmt.Errorf("read domain model: %w", err)
	}
	return root, nil
}

// Unregister removes the host from the domain controller.
func (h *HostClient) Unregister() error {
	conn, r, w, err := h.client.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := h.client.writeRequest(w, RequestUnregisterHost); err != nil {
		return err
	}
	if err := w.WriteByte(ParamHostID); err != nil {
		return err
	}
	if err := writeUTFZ(w, h.name); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return readResponseCode(r, ResponseUnregisterHost)
}

// ProfileOperations asks the domain for the operations that rebuild a
// profile subtree, using the describe operation.
func (h *HostClient) ProfileOperations(profileName string) (*model.Value, error) {
	operation := model.Operation("describe", model.NewAddress(model.Element("profile", profileName)))
	result, err := h.client.ExecuteSync(operation)
	if err != nil {
		return nil, err
	}
	if result.Get(model.KeyOutcome).AsString() != model.OutcomeSuccess {
		return nil, fmt.Errorf("describe failed: %s", result.Get(model.KeyFailureDescription))
	}
	return result.Get(model.KeyResult), nil
}
