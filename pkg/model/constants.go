package model

// Well-known field names used by operations and result envelopes. These
// are wire-visible and must stay stable across releases.
const (
	KeyOperation                = "operation"
	KeyAddress                  = "address"
	KeySteps                    = "steps"
	KeyRollbackOnRuntimeFailure = "rollback-on-runtime-failure"

	KeyOutcome               = "outcome"
	KeyResult                = "result"
	KeyFailureDescription    = "failure-description"
	KeyCompensatingOperation = "compensating-operation"
	KeyRolledBack            = "rolled-back"

	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"

	// OpComposite is the multi-step operation name, valid only at the root
	// address.
	OpComposite = "composite"
)

// Operation builds the minimal operation value {operation, address}.
func Operation(name string, address Address) *Value {
	op := NewObject()
	op.Get(KeyOperation).SetString(name)
	op.Get(KeyAddress).Set(address.ToValue())
	return op
}
