package runtime

// OutcomeStatus is the terminal status of a session.
type OutcomeStatus string

const (
	// OutcomeSuccess means the source drained and every delivery persisted.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeCanceled means the session was stopped from outside. Delivered
	// messages were still flushed.
	OutcomeCanceled OutcomeStatus = "canceled"
	// OutcomeStreamError means the source failed or a chunk was rejected in
	// fail-fast mode.
	OutcomeStreamError OutcomeStatus = "stream_error"
	// OutcomePolicyFailure means the policy or its sink rejected a message.
	OutcomePolicyFailure OutcomeStatus = "policy_failure"
)

// Process exit codes.
const (
	ExitCodeSuccess = 0 // success or canceled
	ExitCodeConfig  = 1 // invalid configuration or usage
	ExitCodeStream  = 2 // stream error
	ExitCodePolicy  = 3 // policy or sink failure
)

// Outcome is a status plus a human-readable message.
type Outcome struct {
	Status  OutcomeStatus `json:"status"`
	Message string        `json:"message"`
}

// DetermineOutcome maps the error returned by Session.Run to an outcome.
func DetermineOutcome(err error) *Outcome {
	switch {
	case err == nil:
		return &Outcome{Status: OutcomeSuccess, Message: "source drained"}
	case IsCanceledError(err):
		return &Outcome{Status: OutcomeCanceled, Message: "session canceled"}
	case IsPolicyError(err):
		return &Outcome{Status: OutcomePolicyFailure, Message: err.Error()}
	default:
		return &Outcome{Status: OutcomeStreamError, Message: err.Error()}
	}
}

// ExitCode returns the process exit code for the status.
func (s OutcomeStatus) ExitCode() int {
	switch s {
	case OutcomeSuccess, OutcomeCanceled:
		return ExitCodeSuccess
	case OutcomePolicyFailure:
		return ExitCodePolicy
	default:
		return ExitCodeStream
	}
}
