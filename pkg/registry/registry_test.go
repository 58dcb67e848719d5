package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan-io/castellan/pkg/model"
	"github.com/castellan-io/castellan/pkg/ports"
	"github.com/castellan-io/castellan/pkg/registry"
)

type namedHandler struct {
	name string
}

func (namedHandler) Capability() ports.Capability { return ports.CapabilityQuery }

func (namedHandler) Execute(ports.OperationContext, *model.Value, ports.ResultSink) (ports.OperationResult, error) {
	return ports.OperationResult{}, nil
}

type fakeProxy struct {
	anchor model.Address
}

func (p fakeProxy) ProxyAddress() model.Address { return p.anchor }

func (p fakeProxy) Execute(operation *model.Value, sink ports.ResultSink) ports.OperationResult {
	sink.Complete()
	return ports.OperationResult{Cancellable: ports.NotCancellable}
}

func subsystemWeb() model.Address {
	return model.NewAddress(model.Element("subsystem", "web"))
}

func TestRegistry_InheritedHandlerResolution(t *testing.T) {
	root := registry.NewRoot(nil)
	webNode, err := root.RegisterSubModel(model.Element("subsystem", "web"), nil)
	require.NoError(t, err)

	require.NoError(t, root.RegisterOperationHandler("read", namedHandler{"root-read"}, nil, true))
	require.NoError(t, root.RegisterOperationHandler("local-only", namedHandler{"root-local"}, nil, false))
	require.NoError(t, webNode.RegisterOperationHandler("read", namedHandler{"web-read"}, nil, false))

	t.Run("exact node wins over inherited ancestor", func(t *testing.T) {
		h := root.HandlerFor(subsystemWeb(), "read")
		require.NotNil(t, h)
		assert.Equal(t, "web-read", h.(namedHandler).name)
	})

	t.Run("inherited handler reaches descendants", func(t *testing.T) {
		deep := subsystemWeb().Append(model.Element("connector", "http"))
		h := root.HandlerFor(deep, "read")
		require.NotNil(t, h)
		assert.Equal(t, "root-read", h.(namedHandler).name)
	})

	t.Run("non-inherited handler stays at its node", func(t *testing.T) {
		assert.NotNil(t, root.HandlerFor(model.EmptyAddress, "local-only"))
		assert.Nil(t, root.HandlerFor(subsystemWeb(), "local-only"))
	})

	t.Run("unknown name yields nil", func(t *testing.T) {
		assert.Nil(t, root.HandlerFor(subsystemWeb(), "nope"))
	})
}

func TestRegistry_DuplicateHandlerRejected(t *testing.T) {
	root := registry.NewRoot(nil)
	require.NoError(t, root.RegisterOperationHandler("op", namedHandler{}, nil, false))
	err := root.RegisterOperationHandler("op", namedHandler{}, nil, false)
	assert.ErrorIs(t, err, registry.ErrDuplicateHandler)
}

func TestRegistry_ProxyAbsorption(t *testing.T) {
	root := registry.NewRoot(nil)
	anchor := model.NewAddress(model.Element("host", "a"))
	proxy := fakeProxy{anchor: anchor}
	require.NoError(t, root.RegisterProxyController(anchor, proxy))

	t.Run("proxy owns the anchor and everything below", func(t *testing.T) {
		assert.NotNil(t, root.ProxyFor(anchor))
		deep := anchor.Append(model.Element("subsystem", "web"))
		assert.NotNil(t, root.ProxyFor(deep))
		assert.Nil(t, root.ProxyFor(model.NewAddress(model.Element("host", "b"))))
	})

	t.Run("handler lookup stops at the proxy", func(t *testing.T) {
		require.NoError(t, root.RegisterOperationHandler("read", namedHandler{}, nil, true))
		assert.Nil(t, root.HandlerFor(anchor.Append(model.Element("subsystem", "web")), "read"))
	})

	t.Run("registration under the proxy is rejected", func(t *testing.T) {
		err := root.RegisterProxyController(anchor.Append(model.Element("server", "one")), proxy)
		assert.ErrorIs(t, err, registry.ErrProxyConflict)
	})

	t.Run("proxies are enumerable", func(t *testing.T) {
		assert.Len(t, root.ProxiesUnder(model.EmptyAddress), 1)
	})

	t.Run("unregister frees the subtree", func(t *testing.T) {
		root.UnregisterProxyController(anchor)
		assert.Nil(t, root.ProxyFor(anchor))
	})
}

func TestRegistry_ProxyConflictsWithExistingRegistrations(t *testing.T) {
	root := registry.NewRoot(nil)
	webNode, err := root.RegisterSubModel(model.Element("subsystem", "web"), nil)
	require.NoError(t, err)
	require.NoError(t, webNode.RegisterOperationHandler("op", namedHandler{}, nil, false))

	err = root.RegisterProxyController(subsystemWeb(), fakeProxy{anchor: subsystemWeb()})
	assert.ErrorIs(t, err, registry.ErrProxyConflict)

	err = root.RegisterProxyController(model.EmptyAddress, fakeProxy{})
	assert.ErrorIs(t, err, registry.ErrProxyConflict)
}

func TestRegistry_ChildAndOperationEnumeration(t *testing.T) {
	root := registry.NewRoot(nil)
	_, err := root.RegisterSubModel(model.Element("subsystem", "web"), nil)
	require.NoError(t, err)
	_, err = root.RegisterSubModel(model.Element("subsystem", "jmx"), nil)
	require.NoError(t, err)
	_, err = root.RegisterSubModel(model.Element("interface", "public"), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"interface", "subsystem"}, root.ChildNames(model.EmptyAddress))
	assert.Equal(t, []model.PathElement{
		model.Element("interface", "public"),
		model.Element("subsystem", "jmx"),
		model.Element("subsystem", "web"),
	}, root.ChildAddresses(model.EmptyAddress))

	require.NoError(t, root.RegisterOperationHandler("inherited-op", namedHandler{}, nil, true))
	require.NoError(t, root.RegisterOperationHandler("root-op", namedHandler{}, nil, false))
	assert.Equal(t, []string{"inherited-op", "root-op"}, root.OperationNames(model.EmptyAddress))
	assert.Equal(t, []string{"inherited-op"}, root.OperationNames(subsystemWeb()))
}

func TestRegistry_AttributeAccess(t *testing.T) {
	root := registry.NewRoot(nil)
	webNode, err := root.RegisterSubModel(model.Element("subsystem", "web"), nil)
	require.NoError(t, err)

	require.NoError(t, webNode.RegisterAttribute("port", registry.AttributeAccess{
		Read:    namedHandler{"read-port"},
		Storage: registry.StorageConfiguration,
	}))

	access, ok := root.AttributeFor(subsystemWeb(), "port")
	require.True(t, ok)
	assert.Equal(t, "read-port", access.Read.(namedHandler).name)
	assert.Nil(t, access.Write)

	_, ok = root.AttributeFor(subsystemWeb(), "missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"port"}, root.AttributeNames(subsystemWeb()))
}

func TestRegistry_Descriptions(t *testing.T) {
	root := registry.NewRoot(func() *model.Value {
		return model.NewString("the root")
	})
	_, err := root.RegisterSubModel(model.Element("subsystem", "web"), func() *model.Value {
		return model.NewString("the web subsystem")
	})
	require.NoError(t, err)

	assert.Equal(t, "the root", root.Description(model.EmptyAddress).AsString())
	assert.Equal(t, "the web subsystem", root.Description(subsystemWeb()).AsString())
	assert.False(t, root.Description(model.NewAddress(model.Element("subsystem", "missing"))).Defined())
}
