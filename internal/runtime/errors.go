package runtime

import (
	"fmt"

	"github.com/castellan-io/castellan/pkg/model"
)

// Failure kinds carried in failure descriptions. Wire-visible.
const (
	KindInvalidOperationFormat = "invalid-operation-format"
	KindNoSuchHandler          = "no-such-handler"
	KindAddressConflict        = "address-conflict"
	KindHandlerFailed          = "handler-failed"
	KindHandlerThrew           = "handler-threw"
	KindCancelled              = "cancelled"
)

// failure builds a failure description {kind, message}.
func failure(kind, format string, args ...any) *model.Value {
	v := model.NewObject()
	v.Get("kind").SetString(kind)
	v.Get("message").SetString(fmt.Sprintf(format, args...))
	return v
}

// FailedError lets a handler fail with an explicit description by
// returning an error. The controller converts it to a failed terminal
// with the description intact.
type FailedError struct {
	Description *model.Value
}

func (e *FailedError) Error() string {
	return "operation failed: " + e.Description.AsString()
}

// Failf builds a FailedError with a plain string description.
func Failf(format string, args ...any) error {
	return &FailedError{Description: model.NewString(fmt.Sprintf(format, args...))}
}
