package runtime

import (
	"sync"

	"github.com/castellan-io/castellan/pkg/model"
	"github.com/castellan-io/castellan/pkg/ports"
)

// syncSink accumulates fragments into a result envelope and releases the
// blocking Execute call on the first terminal. Later terminals are
// ignored: the sink contract is at most one, and the first wins.
type syncSink struct {
	mu     sync.Mutex
	status int // 0 pending, 1 complete, 2 cancelled, 3 failed
	result *model.Value
	done   chan struct{}
}

func newSyncSink() *syncSink {
	// Pre-create outcome and result so they come first in key order.
	envelope := model.NewObject()
	envelope.Get(model.KeyOutcome)
	envelope.Get(model.KeyResult)
	return &syncSink{result: envelope, done: make(chan struct{})}
}

func (s *syncSink) ResultFragment(location []string, fragment *model.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != 0 {
		return
	}
	target := s.result.Get(model.KeyResult)
	if len(location) > 0 {
		target = target.GetPath(location...)
	}
	target.Set(fragment)
}

func (s *syncSink) Complete() {
	s.terminate(1, nil)
}

func (s *syncSink) Failed(description *model.Value) {
	s.terminate(3, description)
}

func (s *syncSink) Cancelled() {
	s.terminate(2, nil)
}

func (s *syncSink) terminate(status int, description *model.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != 0 {
		return
	}
	s.status = status
	switch status {
	case 2:
		s.result.Remove(model.KeyResult)
	case 3:
		if description != nil {
			s.result.Get(model.KeyFailureDescription).Set(description)
		}
	}
	close(s.done)
}

// envelope assembles the final result after the terminal fired.
func (s *syncSink) envelope(handlerResult ports.OperationResult) *model.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status {
	case 1:
		s.result.Get(model.KeyOutcome).SetString(model.OutcomeSuccess)
		if handlerResult.CompensatingOperation.Defined() {
			s.result.Get(model.KeyCompensatingOperation).Set(handlerResult.CompensatingOperation)
		}
	case 2:
		s.result.Get(model.KeyOutcome).SetString(model.OutcomeCancelled)
	case 3:
		s.result.Get(model.KeyOutcome).SetString(model.OutcomeFailed)
		if !s.result.HasDefined(model.KeyResult) {
			s.result.Remove(model.KeyResult)
		}
	}
	return s.result
}

// outcomeSink wraps a caller sink and records which terminal fired, so
// the engine can decide whether to write a submodel back. Fragment and
// terminal calls pass straight through.
type outcomeSink struct {
	ports.ResultSink
	mu        sync.Mutex
	terminal  bool
	failed    bool
	cancelled bool
}

func wrapOutcome(sink ports.ResultSink) *outcomeSink {
	return &outcomeSink{ResultSink: sink}
}

func (s *outcomeSink) Complete() {
	s.mu.Lock()
	s.terminal = true
	s.mu.Unlock()
	s.ResultSink.Complete()
}

func (s *outcomeSink) Failed(description *model.Value) {
	s.mu.Lock()
	s.terminal = true
	s.failed = true
	s.mu.Unlock()
	s.ResultSink.Failed(description)
}

func (s *outcomeSink) Cancelled() {
	s.mu.Lock()
	s.terminal = true
	s.cancelled = true
	s.mu.Unlock()
	s.ResultSink.Cancelled()
}

func (s *outcomeSink) sawFailure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed || s.cancelled
}
