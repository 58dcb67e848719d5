package redis_test

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan-io/castellan/pkg/model"
	"github.com/castellan-io/castellan/pkg/persistence/redis"
)

func newTestStore(t *testing.T) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := redis.NewFromClient(client)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func sampleModel() *model.Value {
	root := model.NewObject()
	root.Get("subsystem").Get("web").Get("port").SetInt(8080)
	return root
}

func TestStore_StoreAndLoad(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Store(sampleModel()))

	ops, err := store.Load()
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "add", ops[0].Get("operation").AsString())
	assert.Equal(t, int64(8080), ops[0].Get("port").AsInt())
}

func TestStore_LoadWithoutStoredModel(t *testing.T) {
	store, _ := newTestStore(t)

	ops, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestStore_KeysAreNamespaced(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := redis.NewFromClient(client, redis.WithKey("test:config"))
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Store(sampleModel()))
	assert.True(t, mr.Exists("test:config"))
	assert.True(t, mr.Exists("test:config:history"))
}

func TestStore_StoreRecordsHistory(t *testing.T) {
	store, mr := newTestStore(t)

	require.NoError(t, store.Store(sampleModel()))
	require.NoError(t, store.Store(sampleModel()))

	members, err := mr.ZMembers("castellan:configuration:history")
	require.NoError(t, err)
	assert.Len(t, members, 2)
}
