package runtime_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan-io/castellan/internal/runtime"
	"github.com/castellan-io/castellan/pkg/model"
	"github.com/castellan-io/castellan/pkg/ports"
)

func getCompositeOperation(rollback *bool, steps ...*model.Value) *model.Value {
	op := model.NewObject()
	op.Get("operation").SetString("composite")
	op.Get("address").SetEmptyList()
	for _, step := range steps {
		op.Get("steps").Add(step)
	}
	if rollback != nil {
		op.Get("rollback-on-runtime-failure").SetBoolean(*rollback)
	}
	return op
}

func boolPtr(b bool) *bool { return &b }

func TestComposite_GoodExecution(t *testing.T) {
	c, _ := newTestController(t)

	step1 := getOperation("good", "attr1", 2)
	step2 := getOperation("good", "attr2", 1)
	result := c.Execute(context.Background(), getCompositeOperation(nil, step1, step2))

	require.Equal(t, "success", result.Get("outcome").AsString())
	assert.Equal(t, "success", result.GetPath("result", "step-1", "outcome").AsString())
	assert.Equal(t, "success", result.GetPath("result", "step-2", "outcome").AsString())
	assert.Equal(t, int64(1), result.GetPath("result", "step-1", "result").AsInt())
	assert.Equal(t, int64(2), result.GetPath("result", "step-2", "result").AsInt())

	// Step results are keyed step-1..step-N in submission order.
	assert.Equal(t, []string{"step-1", "step-2"}, result.Get("result").Keys())

	// Per-step compensating operations are recorded.
	assert.Equal(t, "good", result.GetPath("result", "step-1", "compensating-operation", "operation").AsString())
	assert.Equal(t, "good", result.GetPath("result", "step-2", "compensating-operation", "operation").AsString())

	// The overall undo is a composite with the steps reversed.
	compensating := result.Get("compensating-operation")
	assert.Equal(t, "composite", compensating.Get("operation").AsString())
	require.Equal(t, 2, compensating.Get("steps").Len())
	assert.Equal(t, "attr2", compensating.Get("steps").Index(0).Get("name").AsString())
	assert.Equal(t, "attr1", compensating.Get("steps").Index(1).Get("name").AsString())
	assert.False(t, compensating.Get("rollback-on-runtime-failure").AsBool())

	// Both swaps landed in the live tree.
	assert.Equal(t, int64(2), c.Model().Get("attr1").AsInt())
	assert.Equal(t, int64(1), c.Model().Get("attr2").AsInt())
}

func TestComposite_CompensatingOperationRestoresModel(t *testing.T) {
	c, _ := newTestController(t)
	before := c.Model()

	result := c.Execute(context.Background(), getCompositeOperation(nil,
		getOperation("good", "attr1", 2),
		getOperation("good", "attr2", 1),
	))
	require.Equal(t, "success", result.Get("outcome").AsString())
	require.False(t, c.Model().Equal(before))

	undo := c.Execute(context.Background(), result.Get("compensating-operation"))
	require.Equal(t, "success", undo.Get("outcome").AsString())
	assert.True(t, c.Model().Equal(before), "compensating composite must restore the pre-composite model")
}

func TestComposite_FailureWithRollback(t *testing.T) {
	c, persister := newTestController(t)

	result := c.Execute(context.Background(), getCompositeOperation(nil,
		getOperation("good", "attr1", 2),
		getOperation("bad", "attr2", 1),
	))

	require.Equal(t, "failed", result.Get("outcome").AsString())
	assert.Contains(t, result.Get("failure-description").AsString(), "this request is bad")

	// The working model was discarded: the tree is untouched.
	assert.Equal(t, int64(1), c.Model().Get("attr1").AsInt())
	assert.Equal(t, int64(2), c.Model().Get("attr2").AsInt())
	assert.Nil(t, persister.Last())

	// Every non-cancelled step is marked rolled back.
	assert.True(t, result.GetPath("result", "step-1", "rolled-back").AsBool())
	assert.True(t, result.GetPath("result", "step-2", "rolled-back").AsBool())
}

func TestComposite_FailureWithoutRollback(t *testing.T) {
	c, _ := newTestController(t)

	result := c.Execute(context.Background(), getCompositeOperation(boolPtr(false),
		getOperation("good", "attr1", 2),
		getOperation("bad", "attr2", 1),
	))

	require.Equal(t, "failed", result.Get("outcome").AsString())

	// Partial progress is kept: the first step's change survives.
	assert.Equal(t, int64(2), c.Model().Get("attr1").AsInt())
	assert.Equal(t, int64(2), c.Model().Get("attr2").AsInt())

	assert.False(t, result.GetPath("result", "step-1", "rolled-back").AsBool())
}

func TestComposite_LaterStepsAreCancelledAfterFailure(t *testing.T) {
	c, _ := newTestController(t)

	result := c.Execute(context.Background(), getCompositeOperation(nil,
		getOperation("bad", "attr1", 2),
		getOperation("good", "attr2", 1),
	))

	require.Equal(t, "failed", result.Get("outcome").AsString())
	assert.Equal(t, "failed", result.GetPath("result", "step-1", "outcome").AsString())
	assert.Equal(t, "cancelled", result.GetPath("result", "step-2", "outcome").AsString())

	assert.Equal(t, int64(2), c.Model().Get("attr2").AsInt(), "cancelled steps must not execute")
}

func TestComposite_PanickingStep(t *testing.T) {
	c, _ := newTestController(t)

	result := c.Execute(context.Background(), getCompositeOperation(nil,
		getOperation("good", "attr1", 2),
		getOperation("evil", "attr2", 1),
	))

	require.Equal(t, "failed", result.Get("outcome").AsString())
	assert.Contains(t, result.Get("failure-description").AsString(), "this handler is evil")
	assert.Equal(t, int64(1), c.Model().Get("attr1").AsInt())
}

func TestComposite_HandleFailedStep(t *testing.T) {
	c, _ := newTestController(t)

	result := c.Execute(context.Background(), getCompositeOperation(nil,
		getOperation("good", "attr1", 2),
		getOperation("handleFailed", "attr2", 1),
	))

	require.Equal(t, "failed", result.Get("outcome").AsString())
	assert.Contains(t, result.Get("failure-description").AsString(), "handleFailed")
	assert.Equal(t, int64(1), c.Model().Get("attr1").AsInt())
}

// taskHandler swaps an attribute and defers a side effect through the
// runtime-task port.
type taskHandler struct {
	ran *atomic.Bool
}

func (taskHandler) Capability() ports.Capability { return ports.CapabilityUpdate }

func (h taskHandler) Execute(ctx ports.OperationContext, operation *model.Value, sink ports.ResultSink) (ports.OperationResult, error) {
	ctx.SubModel().Get(operation.Get("name").AsString()).Set(operation.Get("value"))
	ctx.RegisterRuntimeTask(func(context.Context) error {
		h.ran.Store(true)
		return nil
	})
	sink.Complete()
	return ports.OperationResult{}, nil
}

func TestComposite_RuntimeTasks(t *testing.T) {
	newTaskController := func(t *testing.T) (*runtime.Controller, *atomic.Bool) {
		controller, _ := newTestController(t)
		ran := &atomic.Bool{}
		require.NoError(t, controller.Registry().RegisterOperationHandler("task", taskHandler{ran: ran}, nil, false))
		return controller, ran
	}

	t.Run("tasks run after a successful merge", func(t *testing.T) {
		c, ran := newTaskController(t)
		result := c.Execute(context.Background(), getCompositeOperation(nil,
			getOperation("task", "attr1", 2),
		))
		require.Equal(t, "success", result.Get("outcome").AsString())
		assert.True(t, ran.Load())
	})

	t.Run("tasks are discarded when the composite rolls back", func(t *testing.T) {
		c, ran := newTaskController(t)
		result := c.Execute(context.Background(), getCompositeOperation(nil,
			getOperation("task", "attr1", 2),
			getOperation("bad", "attr2", 1),
		))
		require.Equal(t, "failed", result.Get("outcome").AsString())
		assert.False(t, ran.Load(), "rolled-back composites must not run deferred tasks")
		assert.Equal(t, int64(1), c.Model().Get("attr1").AsInt())
	})

	t.Run("tasks run on failure without rollback", func(t *testing.T) {
		c, ran := newTaskController(t)
		result := c.Execute(context.Background(), getCompositeOperation(boolPtr(false),
			getOperation("task", "attr1", 2),
			getOperation("bad", "attr2", 1),
		))
		require.Equal(t, "failed", result.Get("outcome").AsString())
		assert.True(t, ran.Load(), "deferred tasks run even when a step failed")
		assert.Equal(t, int64(2), c.Model().Get("attr1").AsInt())
	})
}

// recordingSink captures the outer terminal of an asynchronously
// executed composite.
type recordingSink struct {
	mu       sync.Mutex
	fragment *model.Value
	outcome  string
	done     chan struct{}
	once     sync.Once
}

func newRecordingSink() *recordingSink {
	return &recordingSink{done: make(chan struct{})}
}

func (s *recordingSink) ResultFragment(location []string, fragment *model.Value) {
	s.mu.Lock()
	s.fragment = fragment
	s.mu.Unlock()
}

func (s *recordingSink) Complete() { s.terminal("success") }

func (s *recordingSink) Failed(*model.Value) { s.terminal("failed") }

func (s *recordingSink) Cancelled() { s.terminal("cancelled") }

func (s *recordingSink) terminal(outcome string) {
	s.once.Do(func() {
		s.mu.Lock()
		s.outcome = outcome
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *recordingSink) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the composite terminal")
	}
}

func TestComposite_CancellationReachesInFlightStep(t *testing.T) {
	c, _ := newTestController(t)
	release := make(chan struct{})
	require.NoError(t, c.Registry().RegisterOperationHandler("slow", slowHandler{release: release}, nil, false))

	sink := newRecordingSink()
	result := c.ExecuteAsync(getCompositeOperation(nil,
		model.Operation("slow", model.EmptyAddress),
	), sink)

	// The step is parked; the composite's handle must reach it.
	assert.True(t, result.Cancellable.Cancel())
	sink.wait(t)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "cancelled", sink.fragment.GetPath("step-1", "outcome").AsString())

	// After the terminal a second cancel is a no-op.
	assert.False(t, result.Cancellable.Cancel())
}

func TestComposite_MalformedSteps(t *testing.T) {
	c, _ := newTestController(t)

	op := model.Operation("composite", model.EmptyAddress)
	op.Get("steps").SetString("not-a-list")
	result := c.Execute(context.Background(), op)

	require.Equal(t, "failed", result.Get("outcome").AsString())
	assert.Equal(t, "invalid-operation-format", result.Get("failure-description").Get("kind").AsString())
}
