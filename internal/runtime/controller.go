// Package runtime implements the model controller core: operation
// dispatch, submodel views, model write-back with persistence, the
// blocking execution wrapper, and the multi-step composite engine.
package runtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/castellan-io/castellan/internal/logging"
	"github.com/castellan-io/castellan/internal/metrics"
	"github.com/castellan-io/castellan/pkg/model"
	"github.com/castellan-io/castellan/pkg/ports"
	"github.com/castellan-io/castellan/pkg/registry"
)

// Controller routes operations to a proxy, the composite engine, or a
// registered handler, and owns the live model tree behind a single mutex.
type Controller struct {
	modelMu   sync.Mutex
	model     *model.Value
	registry  *registry.Node
	persister ports.ConfigurationPersister
	logger    *slog.Logger
	recorder  *metrics.Recorder
}

var _ ports.Controller = (*Controller)(nil)

// Option configures a Controller.
type Option func(*Controller)

// WithModel seeds the live tree. The controller takes ownership.
func WithModel(root *model.Value) Option {
	return func(c *Controller) {
		c.model = root
	}
}

// WithPersister sets the configuration persister invoked after every
// successful mutating operation.
func WithPersister(p ports.ConfigurationPersister) Option {
	return func(c *Controller) {
		c.persister = p
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithRootDescription sets the description provider for the registry root.
func WithRootDescription(description ports.DescriptionProvider) Option {
	return func(c *Controller) {
		c.registry = registry.NewRoot(description)
	}
}

// WithMetrics attaches an execution recorder.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(c *Controller) {
		c.recorder = recorder
	}
}

// New creates a controller with an empty object model and an empty
// registration trie.
func New(opts ...Option) *Controller {
	c := &Controller{
		model:  model.NewObject(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = registry.NewRoot(nil)
	}
	return c
}

// Registry returns the registration trie root.
func (c *Controller) Registry() *registry.Node {
	return c.registry
}

// Model returns a deep clone of the live tree, taken under the tree lock.
func (c *Controller) Model() *model.Value {
	c.modelMu.Lock()
	defer c.modelMu.Unlock()
	return c.model.Clone()
}

// liveSource is the modelSource over the live tree.
type liveSource struct{ c *Controller }

func (s liveSource) Model() *model.Value { return s.c.model }
func (s liveSource) LockModel()          { s.c.modelMu.Lock() }
func (s liveSource) UnlockModel()        { s.c.modelMu.Unlock() }

// Execute runs the operation and blocks until its terminal state,
// returning the full result envelope. Cancelling ctx requests
// cancellation of the in-flight operation; the call still waits for the
// terminal so the envelope reflects what actually happened.
func (c *Controller) Execute(ctx context.Context, operation *model.Value) *model.Value {
	sink := newSyncSink()
	result := c.ExecuteAsync(operation, sink)
	select {
	case <-sink.done:
	case <-ctx.Done():
		if result.Cancellable != nil {
			result.Cancellable.Cancel()
		}
		<-sink.done
	}
	return sink.envelope(result)
}

// ExecuteAsync starts the operation against the live tree.
func (c *Controller) ExecuteAsync(operation *model.Value, sink ports.ResultSink) ports.OperationResult {
	started := time.Now()
	if c.recorder != nil {
		sink = observeSink(sink, c.recorder, started)
	}
	return c.execute(operation, sink, liveSource{c}, c.persisterFor, nil)
}

// persisterFor is the default persister provider; composites substitute a
// dirty-recording persister.
func (c *Controller) persisterFor() ports.ConfigurationPersister {
	return c.persister
}

// execute is the shared dispatch path. The model source, persister
// provider and task collector vary between the live controller and the
// composite engine.
func (c *Controller) execute(operation *model.Value, sink ports.ResultSink, src modelSource, persister func() ports.ConfigurationPersister, onTask func(ports.RuntimeTask)) (result ports.OperationResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("operation handler panicked", "err", r)
			sink.Failed(describeRecover(r))
			result = ports.OperationResult{Cancellable: ports.NotCancellable}
		}
	}()

	address, err := operationAddress(operation)
	if err != nil {
		return failOut(sink, err)
	}

	if proxy := c.registry.ProxyFor(address); proxy != nil {
		return proxy.Execute(cloneForProxy(operation, address, proxy), sink)
	}

	name, err := requireOperationName(operation)
	if err != nil {
		return failOut(sink, err)
	}

	if address.Size() == 0 && name == model.OpComposite {
		multi, err := newMultiStep(c, operation, sink, src, persister)
		if err != nil {
			return failOut(sink, err)
		}
		return multi.execute()
	}

	handler := c.registry.HandlerFor(address, name)
	if handler == nil {
		c.logger.Debug("no handler", "operation", name, "address", address.String())
		sink.Failed(failure(KindNoSuchHandler, "no handler for %s at address %s", name, address))
		return ports.OperationResult{Cancellable: ports.NotCancellable}
	}

	var inlineTasks []ports.RuntimeTask
	if onTask == nil {
		onTask = func(task ports.RuntimeTask) { inlineTasks = append(inlineTasks, task) }
	}

	octx, err := newOperationContext(src, c.registry, address, handler, onTask)
	if err != nil {
		return failOut(sink, err)
	}

	result = c.doExecute(octx, operation, handler, sink, address, src, persister)
	c.runTasks(inlineTasks)
	return result
}

// runTasks executes deferred side effects registered by a single-step
// operation. Task failure is logged; the model phase already committed.
func (c *Controller) runTasks(tasks []ports.RuntimeTask) {
	for _, task := range tasks {
		if err := task(context.Background()); err != nil {
			c.logger.Warn("runtime task failed", "err", err)
		}
	}
}

// doExecute invokes the handler and, for mutating capabilities that did
// not fail, writes the submodel back and persists the new tree.
func (c *Controller) doExecute(octx *operationContext, operation *model.Value, handler ports.OperationHandler, sink ports.ResultSink, address model.Address, src modelSource, persister func() ports.ConfigurationPersister) ports.OperationResult {
	wrapped := wrapOutcome(sink)
	result, err := handler.Execute(octx, operation, wrapped)
	if err != nil {
		return failOut(wrapped, err)
	}
	if result.Cancellable == nil {
		result.Cancellable = ports.NotCancellable
	}
	if handler.Capability().Mutates() && !wrapped.sawFailure() {
		src.LockModel()
		if handler.Capability() == ports.CapabilityRemove {
			if err := address.RemoveFrom(src.Model()); err != nil {
				src.UnlockModel()
				return failOut(wrapped, &FailedError{Description: failure(KindAddressConflict, "remove %s: %v", address, err)})
			}
		} else {
			node, _ := address.Navigate(src.Model(), true)
			node.Set(octx.subModel)
		}
		c.persistConfiguration(src.Model(), persister)
		src.UnlockModel()
	}
	return result
}

// persistConfiguration stores the model after an update. Persistence
// failure is a warning, never an operation failure.
func (c *Controller) persistConfiguration(root *model.Value, persister func() ports.ConfigurationPersister) {
	p := persister()
	if p == nil {
		return
	}
	if err := p.Store(root); err != nil {
		c.logger.Warn("failed to persist configuration change", "err", err)
	}
}

// failOut converts an error into a failed terminal on the sink. A
// FailedError keeps its description; anything else becomes handler-threw.
func failOut(sink ports.ResultSink, err error) ports.OperationResult {
	var failedErr *FailedError
	if errors.As(err, &failedErr) {
		sink.Failed(failedErr.Description)
	} else {
		sink.Failed(failure(KindHandlerThrew, "%v", err))
	}
	return ports.OperationResult{Cancellable: ports.NotCancellable}
}

// metricsSink decorates a sink to record the terminal outcome.
type metricsSink struct {
	ports.ResultSink
	recorder *metrics.Recorder
	started  time.Time
	once     sync.Once
}

func observeSink(sink ports.ResultSink, recorder *metrics.Recorder, started time.Time) ports.ResultSink {
	return &metricsSink{ResultSink: sink, recorder: recorder, started: started}
}

func (s *metricsSink) Complete() {
	s.once.Do(func() { s.recorder.Observe(model.OutcomeSuccess, time.Since(s.started)) })
	s.ResultSink.Complete()
}

func (s *metricsSink) Failed(description *model.Value) {
	s.once.Do(func() { s.recorder.Observe(model.OutcomeFailed, time.Since(s.started)) })
	s.ResultSink.Failed(description)
}

func (s *metricsSink) Cancelled() {
	s.once.Do(func() { s.recorder.Observe(model.OutcomeCancelled, time.Since(s.started)) })
	s.ResultSink.Cancelled()
}
