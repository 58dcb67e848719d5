package castellan_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan-io/castellan"
	"github.com/castellan-io/castellan/pkg/model"
	"github.com/castellan-io/castellan/pkg/persistence/memory"
)

func TestServer_GlobalOperations(t *testing.T) {
	server, err := castellan.New("test", castellan.WithPersister(memory.New()))
	require.NoError(t, err)

	webAddress := model.NewAddress(model.Element("subsystem", "web"))

	addOp := model.Operation("add", webAddress)
	addOp.Get("port").SetInt(8080)
	result := server.Execute(context.Background(), addOp)
	require.Equal(t, "success", result.Get("outcome").AsString())

	t.Run("read-resource", func(t *testing.T) {
		op := model.Operation("read-resource", webAddress)
		op.Get("recursive").SetBoolean(true)
		result := server.Execute(context.Background(), op)
		require.Equal(t, "success", result.Get("outcome").AsString())
		assert.Equal(t, int64(8080), result.Get("result").Get("port").AsInt())
	})

	t.Run("write-attribute and read-attribute", func(t *testing.T) {
		write := model.Operation("write-attribute", webAddress)
		write.Get("name").SetString("port")
		write.Get("value").SetInt(9090)
		result := server.Execute(context.Background(), write)
		require.Equal(t, "success", result.Get("outcome").AsString())
		assert.Equal(t, int64(8080), result.Get("result").AsInt())

		read := model.Operation("read-attribute", webAddress)
		read.Get("name").SetString("port")
		result = server.Execute(context.Background(), read)
		require.Equal(t, "success", result.Get("outcome").AsString())
		assert.Equal(t, int64(9090), result.Get("result").AsInt())
	})

	t.Run("read-children-names", func(t *testing.T) {
		op := model.Operation("read-children-names", model.EmptyAddress)
		op.Get("child-type").SetString("subsystem")
		result := server.Execute(context.Background(), op)
		require.Equal(t, "success", result.Get("outcome").AsString())
		require.Equal(t, 1, result.Get("result").Len())
		assert.Equal(t, "web", result.Get("result").Index(0).AsString())
	})

	t.Run("read-operation-names includes the globals", func(t *testing.T) {
		op := model.Operation("read-operation-names", webAddress)
		result := server.Execute(context.Background(), op)
		require.Equal(t, "success", result.Get("outcome").AsString())
		var names []string
		for _, v := range result.Get("result").Elements() {
			names = append(names, v.AsString())
		}
		assert.Contains(t, names, "read-resource")
		assert.Contains(t, names, "write-attribute")
	})

	t.Run("describe emits rebuild operations", func(t *testing.T) {
		op := model.Operation("describe", webAddress)
		result := server.Execute(context.Background(), op)
		require.Equal(t, "success", result.Get("outcome").AsString())
		require.Equal(t, 1, result.Get("result").Len())
		rebuild := result.Get("result").Index(0)
		assert.Equal(t, "add", rebuild.Get("operation").AsString())
	})

	t.Run("read-config-as-xml", func(t *testing.T) {
		op := model.Operation("read-config-as-xml", model.EmptyAddress)
		result := server.Execute(context.Background(), op)
		require.Equal(t, "success", result.Get("outcome").AsString())
		assert.Contains(t, result.Get("result").AsString(), "<configuration>")
	})

	t.Run("remove", func(t *testing.T) {
		result := server.Execute(context.Background(), model.Operation("remove", webAddress))
		require.Equal(t, "success", result.Get("outcome").AsString())
		read := server.Execute(context.Background(), model.Operation("read-resource", webAddress))
		assert.Equal(t, "failed", read.Get("outcome").AsString())
	})
}

func TestServer_BootReplaysPersistedConfiguration(t *testing.T) {
	persister := memory.New()

	first, err := castellan.New("first", castellan.WithPersister(persister))
	require.NoError(t, err)

	addOp := model.Operation("add", model.NewAddress(model.Element("subsystem", "web")))
	addOp.Get("port").SetInt(8080)
	result := first.Execute(context.Background(), addOp)
	require.Equal(t, "success", result.Get("outcome").AsString())

	// A second server over the same persister comes up with the model.
	second, err := castellan.New("second", castellan.WithPersister(persister))
	require.NoError(t, err)
	assert.Equal(t, int64(8080), second.Model().Get("subsystem").Get("web").Get("port").AsInt())
}
