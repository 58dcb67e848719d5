package runtime

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/castellan-io/castellan/pkg/model"
	"github.com/castellan-io/castellan/pkg/ports"
)

// multiStep executes a composite operation: every step runs against a
// clone of the live model, per-step envelopes accumulate under
// step-1..step-N, and the clone is merged back only when the whole
// sequence is allowed to commit.
//
// Two signals gate finalization: the unfinished-step count (steps may
// terminate asynchronously) and the model-complete flag set once the
// sequential dispatch loop has finished and merged. Whichever goroutine
// observes both fires the outer terminal, exactly once.
type multiStep struct {
	controller *Controller
	outerSink  ports.ResultSink
	steps      []*model.Value

	unfinished    atomic.Int32
	modelComplete atomic.Bool
	finalized     atomic.Bool

	// stepCancellable holds the handle of the most recently dispatched
	// step, so cancelling the composite reaches the step in flight.
	stepCancellable atomic.Pointer[ports.Cancellable]

	mu          sync.Mutex
	resultsNode *model.Value
	rollbackOps map[int]*model.Value
	hasFailures bool

	localMu       sync.Mutex
	localModel    *model.Value
	modelUpdated  bool
	preMergeModel *model.Value

	parentSrc       modelSource
	parentPersister func() ports.ConfigurationPersister

	rollbackOnRuntimeFailure bool
	runtimeTasks             []ports.RuntimeTask
}

func newMultiStep(c *Controller, operation *model.Value, sink ports.ResultSink, src modelSource, persister func() ports.ConfigurationPersister) (*multiStep, error) {
	stepsValue, err := operation.Require(model.KeySteps)
	if err != nil || stepsValue.Kind() != model.KindList {
		return nil, &FailedError{Description: failure(KindInvalidOperationFormat, "composite requires a %q list", model.KeySteps)}
	}
	rollback := true
	if operation.HasDefined(model.KeyRollbackOnRuntimeFailure) {
		rollback = operation.Get(model.KeyRollbackOnRuntimeFailure).AsBool()
	}

	src.LockModel()
	local := src.Model().Clone()
	src.UnlockModel()

	m := &multiStep{
		controller:               c,
		outerSink:                sink,
		steps:                    stepsValue.Elements(),
		resultsNode:              model.NewObject(),
		rollbackOps:              map[int]*model.Value{},
		localModel:               local,
		parentSrc:                src,
		parentPersister:          persister,
		rollbackOnRuntimeFailure: rollback,
	}
	m.unfinished.Store(int32(len(m.steps)))
	// Pre-create outcome and result so they lead each step envelope.
	for i := range m.steps {
		node := m.resultsNode.Get(stepKey(i))
		node.Get(model.KeyOutcome)
		node.Get(model.KeyResult)
	}
	return m, nil
}

func stepKey(i int) string {
	return fmt.Sprintf("step-%d", i+1)
}

// modelSource over the working copy: steps read and update the clone.

func (m *multiStep) Model() *model.Value { return m.localModel }
func (m *multiStep) LockModel()          { m.localMu.Lock() }
func (m *multiStep) UnlockModel()        { m.localMu.Unlock() }

// dirtyPersister records that the model changed instead of persisting;
// the real store happens once, after the merge.
type dirtyPersister struct {
	m *multiStep
}

func (p dirtyPersister) Store(*model.Value) error {
	p.m.mu.Lock()
	p.m.modelUpdated = true
	p.m.mu.Unlock()
	return nil
}

func (p dirtyPersister) Load() ([]*model.Value, error) {
	return nil, fmt.Errorf("load is not available during operation handling")
}

func (p dirtyPersister) MarshalAsXML(root *model.Value, out io.Writer) error {
	real := p.m.parentPersister()
	if real == nil {
		return fmt.Errorf("no configuration persister")
	}
	return real.MarshalAsXML(root, out)
}

func (m *multiStep) persister() ports.ConfigurationPersister {
	return dirtyPersister{m}
}

// execute dispatches the steps in order. A failed step turns every later
// step into a recorded cancellation without executing it.
func (m *multiStep) execute() ports.OperationResult {
	for i, step := range m.steps {
		if m.failed() {
			m.recordCancellation(i)
			continue
		}
		sink := &stepSink{id: i, stepResult: model.New(), multi: m}
		result := m.controller.execute(step, sink, m, m.persister, m.registerRuntimeTask)
		if result.Cancellable != nil {
			cancellable := result.Cancellable
			m.stepCancellable.Store(&cancellable)
		}
		m.recordRollbackOp(i, result.CompensatingOperation)
	}

	if m.failed() {
		if !m.rollbackOnRuntimeFailure {
			// Partial progress is kept: merge what the successful steps
			// changed and run their deferred tasks, then report the
			// failure.
			m.mergeLocalModel()
			m.runRuntimeTasks()
		}
		m.processComplete()
		return ports.OperationResult{Cancellable: m.canceller()}
	}

	compensating := m.overallCompensatingOperation()
	m.recordModelComplete()
	return ports.OperationResult{CompensatingOperation: compensating, Cancellable: m.canceller()}
}

// canceller forwards an outer cancel to whichever step is currently in
// flight. After the composite finalizes it is a no-op.
func (m *multiStep) canceller() ports.Cancellable {
	return ports.CancelFunc(func() bool {
		if m.finalized.Load() {
			return false
		}
		if p := m.stepCancellable.Load(); p != nil {
			return (*p).Cancel()
		}
		return false
	})
}

func (m *multiStep) registerRuntimeTask(task ports.RuntimeTask) {
	m.mu.Lock()
	m.runtimeTasks = append(m.runtimeTasks, task)
	m.mu.Unlock()
}

func (m *multiStep) failed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasFailures
}

// recordModelComplete merges the working model into the live tree,
// persists, runs the deferred runtime tasks, and finalizes when every
// step has already reached its terminal.
func (m *multiStep) recordModelComplete() {
	m.modelComplete.Store(true)
	m.mergeLocalModel()
	m.runRuntimeTasks()

	if m.unfinished.Load() == 0 {
		m.processComplete()
	}
}

// runRuntimeTasks drains and executes the deferred side effects the
// steps registered. A task error fails the composite; with
// rollback-on-runtime-failure the pre-merge model is restored.
func (m *multiStep) runRuntimeTasks() {
	m.mu.Lock()
	tasks := m.runtimeTasks
	m.runtimeTasks = nil
	m.mu.Unlock()
	for _, task := range tasks {
		if err := task(context.Background()); err != nil {
			m.mu.Lock()
			m.hasFailures = true
			m.mu.Unlock()
			m.controller.logger.Warn("composite runtime task failed", "err", err)
			if m.rollbackOnRuntimeFailure {
				m.restoreSnapshot()
			}
			break
		}
	}
}

func (m *multiStep) mergeLocalModel() {
	m.mu.Lock()
	updated := m.modelUpdated
	m.mu.Unlock()
	if !updated {
		return
	}
	m.parentSrc.LockModel()
	snapshot := m.parentSrc.Model().Clone()
	m.parentSrc.Model().Set(m.localModel)
	m.controller.persistConfiguration(m.parentSrc.Model(), m.parentPersister)
	m.parentSrc.UnlockModel()
	m.mu.Lock()
	m.preMergeModel = snapshot
	m.mu.Unlock()
}

func (m *multiStep) restoreSnapshot() {
	m.mu.Lock()
	snapshot := m.preMergeModel
	m.preMergeModel = nil
	m.mu.Unlock()
	if snapshot == nil {
		return
	}
	m.parentSrc.LockModel()
	m.parentSrc.Model().Set(snapshot)
	m.controller.persistConfiguration(m.parentSrc.Model(), m.parentPersister)
	m.parentSrc.UnlockModel()
}

// overallCompensatingOperation builds a composite whose steps are the
// per-step compensating operations in reverse order. The undo must not
// itself roll back: if it fails, the fix is manual.
func (m *multiStep) overallCompensatingOperation() *model.Value {
	compensating := model.NewObject()
	compensating.Get(model.KeyOperation).SetString(model.OpComposite)
	compensating.Get(model.KeyAddress).SetEmptyList()
	compSteps := compensating.Get(model.KeySteps)
	compSteps.SetEmptyList()
	m.mu.Lock()
	for i := len(m.steps) - 1; i >= 0; i-- {
		if step, ok := m.rollbackOps[i]; ok && step.Defined() {
			compSteps.Add(step.Clone())
		}
	}
	m.mu.Unlock()
	compensating.Get(model.KeyRollbackOnRuntimeFailure).SetBoolean(false)
	return compensating
}

// handleFailures marks the non-cancelled steps failed (and rolled back
// when the working model was discarded), then emits the composite
// failure enumerating each failed step.
func (m *multiStep) handleFailures() {
	m.mu.Lock()
	for _, key := range m.resultsNode.Keys() {
		stepResult := m.resultsNode.Get(key)
		outcome := stepResult.Get(model.KeyOutcome)
		if outcome.Defined() && outcome.AsString() == model.OutcomeCancelled {
			continue
		}
		if m.rollbackOnRuntimeFailure {
			stepResult.Get(model.KeyRolledBack).SetBoolean(true)
		}
		outcome.SetString(model.OutcomeFailed)
	}
	results := m.resultsNode.Clone()
	failureMsg := m.overallFailureDescriptionLocked()
	m.mu.Unlock()

	m.outerSink.ResultFragment(nil, results)
	m.outerSink.Failed(failureMsg)
}

func (m *multiStep) overallFailureDescriptionLocked() *model.Value {
	failureMsg := model.NewObject()
	baseMsg := "Composite operation failed and was rolled back. Steps that failed:"
	if !m.rollbackOnRuntimeFailure {
		baseMsg = "Composite operation failed. Steps that failed:"
	}
	for i := range m.steps {
		stepResult := m.resultsNode.Get(stepKey(i))
		if stepResult.HasDefined(model.KeyFailureDescription) {
			failureMsg.Get(baseMsg).Get("Operation " + stepKey(i)).Set(stepResult.Get(model.KeyFailureDescription))
		}
	}
	return failureMsg
}

func (m *multiStep) handleSuccess() {
	m.mu.Lock()
	results := m.resultsNode.Clone()
	m.mu.Unlock()
	m.outerSink.ResultFragment(nil, results)
	m.outerSink.Complete()
}

func (m *multiStep) processComplete() {
	if !m.finalized.CompareAndSwap(false, true) {
		return
	}
	if m.failed() {
		m.handleFailures()
	} else {
		m.handleSuccess()
	}
}

func (m *multiStep) stepTerminated() {
	if m.unfinished.Add(-1) == 0 && m.modelComplete.Load() {
		m.processComplete()
	}
}

// recordResult stores a step's successful envelope.
func (m *multiStep) recordResult(id int, result *model.Value) {
	m.mu.Lock()
	rollback := m.rollbackOps[id]
	stepResult := m.resultsNode.Get(stepKey(id))
	stepResult.Get(model.KeyOutcome).SetString(model.OutcomeSuccess)
	stepResult.Get(model.KeyResult).Set(result)
	stepResult.Get(model.KeyCompensatingOperation).Set(rollback)
	m.mu.Unlock()
	m.stepTerminated()
}

// recordFailure stores a step failure and poisons the remaining steps.
func (m *multiStep) recordFailure(id int, description *model.Value) {
	m.mu.Lock()
	stepResult := m.resultsNode.Get(stepKey(id))
	stepResult.Get(model.KeyOutcome).SetString(model.OutcomeFailed)
	if stepResult.Has(model.KeyResult) && !stepResult.HasDefined(model.KeyResult) {
		stepResult.Remove(model.KeyResult)
	}
	stepResult.Get(model.KeyFailureDescription).Set(description)
	m.hasFailures = true
	m.mu.Unlock()
	m.stepTerminated()
}

// recordCancellation marks a step that never ran because an earlier step
// failed (or the operation was cancelled).
func (m *multiStep) recordCancellation(id int) {
	m.mu.Lock()
	stepResult := m.resultsNode.Get(stepKey(id))
	stepResult.Get(model.KeyOutcome).SetString(model.OutcomeCancelled)
	if stepResult.Has(model.KeyResult) && !stepResult.HasDefined(model.KeyResult) {
		stepResult.Remove(model.KeyResult)
	}
	m.mu.Unlock()
	m.stepTerminated()
}

// recordRollbackOp stores the compensating operation reported by a step.
func (m *multiStep) recordRollbackOp(id int, compensating *model.Value) {
	m.mu.Lock()
	m.rollbackOps[id] = compensating
	stepResult := m.resultsNode.Get(stepKey(id))
	stepResult.Get(model.KeyCompensatingOperation).Set(compensating)
	m.mu.Unlock()
}

// stepSink forwards one step's terminal to the composite's state.
type stepSink struct {
	id         int
	stepResult *model.Value
	multi      *multiStep
}

func (s *stepSink) ResultFragment(location []string, fragment *model.Value) {
	if len(location) == 0 {
		s.stepResult.Set(fragment)
		return
	}
	s.stepResult.GetPath(location...).Set(fragment)
}

func (s *stepSink) Complete() {
	s.multi.recordResult(s.id, s.stepResult)
}

func (s *stepSink) Failed(description *model.Value) {
	s.multi.recordFailure(s.id, description)
}

func (s *stepSink) Cancelled() {
	s.multi.recordCancellation(s.id)
}
