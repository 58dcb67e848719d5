package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan-io/castellan/pkg/model"
)

func TestValue_GetAutoCreates(t *testing.T) {
	v := model.New()
	assert.Equal(t, model.KindUndefined, v.Kind())

	child := v.Get("a").Get("b")
	assert.Equal(t, model.KindObject, v.Kind())
	assert.False(t, child.Defined())

	// Has is true for any child, HasDefined only for defined ones.
	assert.True(t, v.Has("a"))
	assert.True(t, v.Get("a").Has("b"))
	assert.False(t, v.Get("a").HasDefined("b"))

	child.SetString("x")
	assert.True(t, v.Get("a").HasDefined("b"))
}

func TestValue_KeyOrderIsInsertionOrder(t *testing.T) {
	v := model.NewObject()
	v.Get("zebra").SetInt(1)
	v.Get("alpha").SetInt(2)
	v.Get("mike").SetInt(3)
	assert.Equal(t, []string{"zebra", "alpha", "mike"}, v.Keys())

	// Removing and re-adding moves the key to the end.
	v.Remove("zebra")
	v.Get("zebra").SetInt(4)
	assert.Equal(t, []string{"alpha", "mike", "zebra"}, v.Keys())
}

func TestValue_CloneIsDeep(t *testing.T) {
	v := model.NewObject()
	v.Get("nested").Get("leaf").SetString("original")

	clone := v.Clone()
	clone.Get("nested").Get("leaf").SetString("changed")

	assert.Equal(t, "original", v.Get("nested").Get("leaf").AsString())
	assert.Equal(t, "changed", clone.Get("nested").Get("leaf").AsString())
}

func TestValue_Equal(t *testing.T) {
	a := model.NewObject()
	a.Get("x").SetInt(1)
	a.Get("y").SetString("s")

	b := model.NewObject()
	b.Get("x").SetInt(1)
	b.Get("y").SetString("s")
	assert.True(t, a.Equal(b))

	// Same content, different key order: not equal.
	c := model.NewObject()
	c.Get("y").SetString("s")
	c.Get("x").SetInt(1)
	assert.False(t, a.Equal(c))

	b.Get("y").SetString("t")
	assert.False(t, a.Equal(b))
}

func TestValue_Require(t *testing.T) {
	v := model.NewObject()
	v.Get("present").SetInt(5)

	got, err := v.Require("present")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.AsInt())

	_, err = v.Require("absent")
	assert.ErrorIs(t, err, model.ErrNoSuchElement)

	v.Get("undefined-child")
	_, err = v.Require("undefined-child")
	assert.ErrorIs(t, err, model.ErrNoSuchElement)
}

func TestValue_ListOperations(t *testing.T) {
	v := model.New()
	v.Add(model.NewString("one"))
	v.Add(model.NewInt(2))

	assert.Equal(t, model.KindList, v.Kind())
	assert.Equal(t, 2, v.Len())
	assert.Equal(t, "one", v.Index(0).AsString())
	assert.Equal(t, int64(2), v.Index(1).AsInt())
	assert.False(t, v.Index(5).Defined())
}

func TestValue_ScalarAccessors(t *testing.T) {
	assert.Equal(t, int64(42), model.NewString("42").AsInt())
	assert.Equal(t, "42", model.NewLong(42).AsString())
	assert.True(t, model.NewString("true").AsBool())
	assert.Equal(t, 1.5, model.NewDouble(1.5).AsDouble())
	assert.Equal(t, "undefined", model.New().AsString())
}

func TestValue_SetCopies(t *testing.T) {
	src := model.NewObject()
	src.Get("k").SetString("v")

	dst := model.New()
	dst.Set(src)
	src.Get("k").SetString("mutated")

	assert.Equal(t, "v", dst.Get("k").AsString())
}
