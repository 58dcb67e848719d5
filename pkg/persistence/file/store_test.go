package file_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan-io/castellan/pkg/model"
	"github.com/castellan-io/castellan/pkg/persistence/file"
)

func sampleModel() *model.Value {
	root := model.NewObject()
	web := root.Get("subsystem").Get("web")
	web.Get("port").SetInt(8080)
	web.Get("enabled").SetBoolean(true)
	return root
}

func TestStore_StoreAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configuration.json")
	store := file.New(path)

	require.NoError(t, store.Store(sampleModel()))

	ops, err := store.Load()
	require.NoError(t, err)
	require.Len(t, ops, 1)

	add := ops[0]
	assert.Equal(t, "add", add.Get("operation").AsString())
	address, err := model.AddressFromValue(add.Get("address"))
	require.NoError(t, err)
	assert.True(t, address.Equal(model.NewAddress(model.Element("subsystem", "web"))))
	assert.Equal(t, int64(8080), add.Get("port").AsInt())
	assert.True(t, add.Get("enabled").AsBool())
}

func TestStore_LoadMissingFileIsEmpty(t *testing.T) {
	store := file.New(filepath.Join(t.TempDir(), "absent.json"))
	ops, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestStore_OverwriteReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configuration.json")
	store := file.New(path)

	require.NoError(t, store.Store(sampleModel()))

	updated := sampleModel()
	updated.Get("subsystem").Get("web").Get("port").SetInt(9090)
	require.NoError(t, store.Store(updated))

	ops, err := store.Load()
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, int64(9090), ops[0].Get("port").AsInt())

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_MarshalAsXML(t *testing.T) {
	store := file.New(filepath.Join(t.TempDir(), "configuration.json"))

	var buf bytes.Buffer
	require.NoError(t, store.MarshalAsXML(sampleModel(), &buf))
	xml := buf.String()
	assert.Contains(t, xml, `<resource type="subsystem" name="web">`)
	assert.Contains(t, xml, `<attribute name="port" value="8080">`)
}
