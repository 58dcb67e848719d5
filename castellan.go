package castellan

import (
	"context"
	"io"
	"log/slog"

	"github.com/castellan-io/castellan/internal/metrics"
	"github.com/castellan-io/castellan/internal/runtime"
	"github.com/castellan-io/castellan/pkg/model"
	"github.com/castellan-io/castellan/pkg/ports"
	"github.com/castellan-io/castellan/pkg/registry"
)

// Version is the release version, overridable at link time.
var Version = "0.1.0-dev"

// Server is the high-level entry point: a model controller wired with
// the global operation handlers and an optional configuration persister.
type Server struct {
	controller *runtime.Controller
	recorder   *metrics.Recorder
	persister  ports.ConfigurationPersister
	logger     *slog.Logger
	Name       string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithPersister installs the configuration persister. When it can load
// previously stored state, New replays the boot operations before
// returning.
func WithPersister(persister ports.ConfigurationPersister) Option {
	return func(s *Server) {
		s.persister = persister
	}
}

// WithMetrics attaches an execution recorder.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(s *Server) {
		s.recorder = recorder
	}
}

// New initializes the management server and registers the global
// operation handlers on the registry root.
func New(name string, opts ...Option) (*Server, error) {
	s := &Server{Name: name}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if s.Name != "" {
		s.logger = s.logger.With("server", s.Name)
	}

	controllerOpts := []runtime.Option{
		runtime.WithLogger(s.logger),
	}
	if s.persister != nil {
		controllerOpts = append(controllerOpts, runtime.WithPersister(s.persister))
	}
	if s.recorder != nil {
		controllerOpts = append(controllerOpts, runtime.WithMetrics(s.recorder))
	}
	s.controller = runtime.New(controllerOpts...)

	if err := runtime.RegisterGlobalHandlers(s.controller); err != nil {
		return nil, err
	}

	if s.persister != nil {
		if err := s.boot(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// boot replays the persisted configuration as add operations. A step
// that fails is logged and skipped; a half-usable model beats refusing
// to start.
func (s *Server) boot() error {
	operations, err := s.persister.Load()
	if err != nil {
		return err
	}
	for _, operation := range operations {
		result := s.controller.Execute(context.Background(), operation)
		if result.Get(model.KeyOutcome).AsString() != model.OutcomeSuccess {
			s.logger.Warn("boot operation failed",
				"operation", operation.Get(model.KeyOperation).AsString(),
				"failure", result.Get(model.KeyFailureDescription).AsString())
		}
	}
	if len(operations) > 0 {
		s.logger.Info("configuration restored", "operations", len(operations))
	}
	return nil
}

// Execute runs an operation and blocks until its terminal state.
func (s *Server) Execute(ctx context.Context, operation *model.Value) *model.Value {
	return s.controller.Execute(ctx, operation)
}

// ExecuteAsync starts an operation; see ports.Controller.
func (s *Server) ExecuteAsync(operation *model.Value, sink ports.ResultSink) ports.OperationResult {
	return s.controller.ExecuteAsync(operation, sink)
}

// Controller exposes the ports.Controller for adapters.
func (s *Server) Controller() ports.Controller {
	return s.controller
}

// Registry returns the registration trie root for subsystem wiring.
func (s *Server) Registry() *registry.Node {
	return s.controller.Registry()
}

// Model returns a deep clone of the live configuration tree.
func (s *Server) Model() *model.Value {
	return s.controller.Model()
}
