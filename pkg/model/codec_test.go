package model_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan-io/castellan/pkg/model"
)

func sampleValue() *model.Value {
	v := model.NewObject()
	v.Get("outcome").SetString("success")
	v.Get("count").SetInt(3)
	v.Get("big").SetLong(1 << 40)
	v.Get("ratio").SetDouble(0.25)
	v.Get("enabled").SetBoolean(true)
	v.Get("payload").SetBytes([]byte{0x01, 0x02, 0xFF})
	v.Get("nothing")
	steps := v.Get("steps")
	steps.Add(model.NewString("first"))
	inner := model.NewObject()
	inner.Get("z").SetInt(1)
	inner.Get("a").SetInt(2)
	steps.Add(inner)
	return v
}

func TestJSON_PreservesKeyOrder(t *testing.T) {
	v := model.NewObject()
	v.Get("zebra").SetInt(1)
	v.Get("alpha").SetInt(2)

	out := v.JSONString(true)
	assert.Less(t, strings.Index(out, "zebra"), strings.Index(out, "alpha"))

	parsed, err := model.FromJSON(strings.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, []string{"zebra", "alpha"}, parsed.Keys())
}

func TestJSON_ParseNumbers(t *testing.T) {
	parsed, err := model.FromJSON(strings.NewReader(`{"n": 7, "f": 1.5, "e": 2e3}`))
	require.NoError(t, err)
	assert.Equal(t, model.KindLong, parsed.Get("n").Kind())
	assert.Equal(t, model.KindDouble, parsed.Get("f").Kind())
	assert.Equal(t, model.KindDouble, parsed.Get("e").Kind())
}

func TestJSON_UndefinedIsNull(t *testing.T) {
	assert.Equal(t, "null", model.New().JSONString(true))
}

func TestBinary_RoundTrip(t *testing.T) {
	v := sampleValue()

	var buf bytes.Buffer
	require.NoError(t, v.WriteBinary(&buf))

	parsed, err := model.ReadBinary(&buf)
	require.NoError(t, err)
	assert.True(t, v.Equal(parsed), "decoded value differs: %s vs %s", v, parsed)
	// Kind fidelity: int stays int, long stays long.
	assert.Equal(t, model.KindInt, parsed.Get("count").Kind())
	assert.Equal(t, model.KindLong, parsed.Get("big").Kind())
}

func TestBinary_Base64RoundTrip(t *testing.T) {
	v := sampleValue()

	var buf bytes.Buffer
	require.NoError(t, v.WriteBase64(&buf))

	parsed, err := model.FromBase64(&buf)
	require.NoError(t, err)
	assert.True(t, v.Equal(parsed))
}

func TestBinary_RejectsUnknownTag(t *testing.T) {
	_, err := model.ReadBinary(bytes.NewReader([]byte{0xEE}))
	assert.Error(t, err)
}

func TestBinary_RejectsTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleValue().WriteBinary(&buf))
	raw := buf.Bytes()

	_, err := model.ReadBinary(bytes.NewReader(raw[:len(raw)/2]))
	assert.Error(t, err)
}
