package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan-io/castellan/pkg/model"
)

func TestAddress_FromValueRoundTrip(t *testing.T) {
	addr := model.NewAddress(
		model.Element("profile", "production"),
		model.Element("subsystem", "threads"),
	)

	parsed, err := model.AddressFromValue(addr.ToValue())
	require.NoError(t, err)
	assert.True(t, addr.Equal(parsed))
}

func TestAddress_EmptyIsRoot(t *testing.T) {
	parsed, err := model.AddressFromValue(model.New())
	require.NoError(t, err)
	assert.Equal(t, 0, parsed.Size())
	assert.Equal(t, "/", parsed.String())
}

func TestAddress_FromValueRejectsBadShapes(t *testing.T) {
	_, err := model.AddressFromValue(model.NewString("not-a-list"))
	assert.Error(t, err)

	badPair := model.NewList()
	pair := model.NewObject()
	pair.Get("a").SetString("1")
	pair.Get("b").SetString("2")
	badPair.Add(pair)
	_, err = model.AddressFromValue(badPair)
	assert.Error(t, err)
}

func TestAddress_Navigate(t *testing.T) {
	root := model.NewObject()
	root.Get("subsystem").Get("web").Get("port").SetInt(8080)

	addr := model.NewAddress(model.Element("subsystem", "web"))
	node, err := addr.Navigate(root, false)
	require.NoError(t, err)
	assert.Equal(t, int64(8080), node.Get("port").AsInt())

	missing := model.NewAddress(model.Element("subsystem", "missing"))
	_, err = missing.Navigate(root, false)
	assert.ErrorIs(t, err, model.ErrNoSuchElement)

	// Create mode grows the tree.
	created, err := missing.Navigate(root, true)
	require.NoError(t, err)
	created.Get("enabled").SetBoolean(true)
	assert.True(t, root.Get("subsystem").Get("missing").Get("enabled").AsBool())
}

func TestAddress_RemoveFrom(t *testing.T) {
	root := model.NewObject()
	root.Get("subsystem").Get("web").Get("port").SetInt(8080)
	root.Get("subsystem").Get("jmx").Get("port").SetInt(9999)

	addr := model.NewAddress(model.Element("subsystem", "web"))
	require.NoError(t, addr.RemoveFrom(root))
	assert.False(t, root.Get("subsystem").Has("web"))
	assert.True(t, root.Get("subsystem").Has("jmx"))

	assert.Error(t, addr.RemoveFrom(root))
	assert.Error(t, model.EmptyAddress.RemoveFrom(root))
}

func TestAddress_SubAddressAndPrefix(t *testing.T) {
	addr := model.NewAddress(
		model.Element("host", "a"),
		model.Element("server", "one"),
		model.Element("subsystem", "web"),
	)

	tail := addr.From(1)
	assert.Equal(t, 2, tail.Size())
	assert.Equal(t, model.Element("server", "one"), tail[0])

	assert.True(t, addr.HasPrefix(addr.SubAddress(0, 1)))
	assert.True(t, addr.HasPrefix(addr))
	assert.False(t, addr.HasPrefix(model.NewAddress(model.Element("host", "b"))))

	// Derived addresses do not alias their source.
	tail = tail.Append(model.Element("extra", "x"))
	assert.Equal(t, 3, addr.Size())
}
