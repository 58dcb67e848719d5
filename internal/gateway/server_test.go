package gateway_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan-io/castellan/internal/gateway"
	"github.com/castellan-io/castellan/internal/metrics"
	"github.com/castellan-io/castellan/internal/runtime"
	"github.com/castellan-io/castellan/pkg/model"
)

func newTestGateway(t *testing.T) *httptest.Server {
	t.Helper()
	root := model.NewObject()
	web := root.Get("subsystem").Get("web")
	web.Get("port").SetInt(8080)
	web.Get("enabled").SetBoolean(true)

	controller := runtime.New(runtime.WithModel(root))
	require.NoError(t, runtime.RegisterGlobalHandlers(controller))

	handler, err := gateway.NewHandler(controller, gateway.WithMetrics(metrics.NewRecorder()))
	require.NoError(t, err)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestGateway_GetReadResource(t *testing.T) {
	server := newTestGateway(t)

	resp, err := http.Get(server.URL + "/domain-api/subsystem/web?operation=read-resource")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	// GET responses are unwrapped: the body is the node itself.
	body, err := model.FromJSON(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, int64(8080), body.Get("port").AsInt())
	assert.True(t, body.Get("enabled").AsBool())
	assert.False(t, body.Has("outcome"))
}

func TestGateway_GetDefaultsToReadResource(t *testing.T) {
	server := newTestGateway(t)

	resp, err := http.Get(server.URL + "/domain-api/subsystem/web")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := model.FromJSON(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, int64(8080), body.Get("port").AsInt())
}

func TestGateway_GetUnknownAddressFails(t *testing.T) {
	server := newTestGateway(t)

	resp, err := http.Get(server.URL + "/domain-api/subsystem/missing")
	require.NoError(t, err)
	defer resp.Body.Close()

	// Failures return the whole envelope with HTTP 500.
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body, err := model.FromJSON(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "failed", body.Get("outcome").AsString())
	assert.True(t, body.HasDefined("failure-description"))
}

func TestGateway_MethodNotAllowed(t *testing.T) {
	server := newTestGateway(t)

	req, err := http.NewRequest(http.MethodPut, server.URL+"/domain-api", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestGateway_PostJSONOperation(t *testing.T) {
	server := newTestGateway(t)

	body := `{"operation": "write-attribute", "address": [{"subsystem": "web"}], "name": "port", "value": 9090}`
	resp, err := http.Post(server.URL+"/domain-api", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	envelope, err := model.FromJSON(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "success", envelope.Get("outcome").AsString())
	assert.Equal(t, int64(8080), envelope.Get("result").AsInt(), "write-attribute reports the old value")
	assert.Equal(t, "write-attribute", envelope.Get("compensating-operation").Get("operation").AsString())

	// The change is visible through a follow-up read.
	read, err := http.Get(server.URL + "/domain-api/subsystem/web?operation=read-attribute&name=port")
	require.NoError(t, err)
	defer read.Body.Close()
	value, err := model.FromJSON(read.Body)
	require.NoError(t, err)
	assert.Equal(t, int64(9090), value.AsInt())
}

func TestGateway_DmrEncodedRoundTrip(t *testing.T) {
	server := newTestGateway(t)

	op := model.Operation("read-resource", model.NewAddress(model.Element("subsystem", "web")))
	op.Get("recursive").SetBoolean(true)
	var encoded strings.Builder
	require.NoError(t, op.WriteBase64(&encoded))

	req, err := http.NewRequest(http.MethodPost, server.URL+"/domain-api", strings.NewReader(encoded.String()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/dmr-encoded")
	req.Header.Set("Accept", "application/dmr-encoded")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/dmr-encoded", resp.Header.Get("Content-Type"))

	envelope, err := model.FromBase64(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "success", envelope.Get("outcome").AsString())
	assert.Equal(t, int64(8080), envelope.Get("result").Get("port").AsInt())
}

func TestGateway_PrettyPrinting(t *testing.T) {
	server := newTestGateway(t)

	resp, err := http.Get(server.URL + "/domain-api/subsystem/web?operation=read-resource&json.pretty=true")
	require.NoError(t, err)
	defer resp.Body.Close()

	raw := make([]byte, 4096)
	n, _ := resp.Body.Read(raw)
	assert.Contains(t, string(raw[:n]), "\n", "pretty output is indented")
}

func TestGateway_ServesOpenAPISpec(t *testing.T) {
	server := newTestGateway(t)

	resp, err := http.Get(server.URL + "/domain-api/openapi.yaml")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw := make([]byte, 64)
	n, _ := resp.Body.Read(raw)
	assert.Contains(t, string(raw[:n]), "openapi:")
}

func TestGateway_MetricsEndpoint(t *testing.T) {
	server := newTestGateway(t)

	// Execute one operation so the counters exist.
	resp, err := http.Get(server.URL + "/domain-api/subsystem/web")
	require.NoError(t, err)
	resp.Body.Close()

	metricsResp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}
