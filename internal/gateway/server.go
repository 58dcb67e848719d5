// Package gateway implements the HTTP/JSON bridge to the management
// model: a thin translator from URLs and bodies to structured
// operations, mounted at /domain-api.
package gateway

import (
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/castellan-io/castellan/internal/logging"
	"github.com/castellan-io/castellan/internal/metrics"
	"github.com/castellan-io/castellan/pkg/model"
	"github.com/castellan-io/castellan/pkg/ports"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
)

//go:embed openapi.yaml
var openapiSpec []byte

const (
	domainAPIPath  = "/domain-api"
	dmrContentType = "application/dmr-encoded"
)

// getOperations whitelists the management operations reachable over GET,
// keyed by the query-string spelling. Unknown operation values are
// skipped and the read-resource default applies.
var getOperations = map[string]string{
	"read-resource":              "read-resource",
	"read-attribute":             "read-attribute",
	"read-resource-description":  "read-resource-description",
	"read-operation-description": "read-operation-description",
	"read-operation-names":       "read-operation-names",
}

// Server bridges HTTP to a controller.
type Server struct {
	controller ports.Controller
	logger     *slog.Logger
	recorder   *metrics.Recorder
}

// Option configures the gateway.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics mounts the recorder's scrape endpoint at /metrics.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(s *Server) {
		s.recorder = recorder
	}
}

// NewHandler builds the HTTP handler. The embedded OpenAPI document is
// validated once here so a malformed spec fails startup, not a request.
func NewHandler(controller ports.Controller, opts ...Option) (http.Handler, error) {
	s := &Server{
		controller: controller,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiSpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi spec: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid openapi spec: %w", err)
	}

	r := chi.NewRouter()
	r.Get(domainAPIPath+"/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	if s.recorder != nil {
		r.Handle("/metrics", s.recorder.Handler())
	}
	r.HandleFunc(domainAPIPath, s.handle)
	r.HandleFunc(domainAPIPath+"/*", s.handle)
	return enableCORS(r), nil
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	isGet := r.Method == http.MethodGet
	if !isGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	encode := r.Header.Get("Accept") == dmrContentType ||
		r.Header.Get("Content-Type") == dmrContentType

	operation, err := s.convertRequest(r, isGet, encode)
	if err != nil {
		s.logger.Warn("bad management request", "err", err, "path", r.URL.Path)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	response := s.controller.Execute(r.Context(), operation)

	status := http.StatusOK
	if response.HasDefined(model.KeyOutcome) && response.Get(model.KeyOutcome).AsString() == model.OutcomeFailed {
		status = http.StatusInternalServerError
	}

	pretty := operation.HasDefined("json.pretty") && operation.Get("json.pretty").AsBool()

	if encode {
		w.Header().Set("Content-Type", dmrContentType)
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)

	// Reads never carry a compensating update and the HTTP status already
	// reports the outcome, so GET responses are unwrapped.
	if isGet && status == http.StatusOK {
		response = response.Get(model.KeyResult)
	}

	if encode {
		err = response.WriteBase64(w)
	} else {
		err = response.WriteJSON(w, !pretty)
	}
	if err != nil {
		s.logger.Error("failed to write management response", "err", err)
	}
}

func (s *Server) convertRequest(r *http.Request, isGet, encode bool) (*model.Value, error) {
	if !isGet {
		defer r.Body.Close()
		if encode {
			return model.FromBase64(r.Body)
		}
		return model.FromJSON(r.Body)
	}
	return convertGetRequest(r.URL)
}

// convertGetRequest maps the URL onto an operation: path segments after
// /domain-api pair up into the address, query parameters become
// operation fields, operation defaults to read-resource with
// recursive=false.
func convertGetRequest(u *url.URL) (*model.Value, error) {
	operation := model.NewObject()

	named := false
	for key, values := range u.Query() {
		value := values[0]
		if key == "operation" {
			real, ok := getOperations[value]
			if !ok {
				// Unknown operation names fall through to the default.
				continue
			}
			named = true
			value = real
		}
		operation.Get(key).SetString(value)
	}
	if !named {
		operation.Get("operation").SetString("read-resource")
	}
	if operation.Get("operation").AsString() == "read-resource" && !operation.Has("recursive") {
		operation.Get("recursive").SetString("false")
	}

	segments, err := decodePath(strings.TrimPrefix(u.EscapedPath(), domainAPIPath))
	if err != nil {
		return nil, err
	}
	address := operation.Get(model.KeyAddress)
	address.SetEmptyList()
	for i := 0; i+1 < len(segments); i += 2 {
		address.AddPair(segments[i], segments[i+1])
	}
	return operation, nil
}

func decodePath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, nil
	}
	var segments []string
	for _, raw := range strings.Split(path, "/") {
		segment, err := url.PathUnescape(raw)
		if err != nil {
			return nil, fmt.Errorf("bad path segment %q: %w", raw, err)
		}
		segments = append(segments, segment)
	}
	return segments, nil
}
