package procrun

// Outcome classifies a process exit code under an ExitPolicy.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// ExitPolicy decides which exit codes mean "terminated by request" rather
// than failure. The meaning of a termination code depends on the execution
// environment, so the codes are configuration, not constants.
type ExitPolicy struct {
	CancelCodes []int
}

// DefaultExitPolicy treats the usual SIGKILL and SIGTERM shell codes as
// cancellation.
func DefaultExitPolicy() ExitPolicy {
	return ExitPolicy{CancelCodes: []int{137, 143}}
}

// Classify maps an exit code to an Outcome: 0 is success, a cancel code is
// cancellation, anything else is failure.
func (p ExitPolicy) Classify(code int) Outcome {
	if code == 0 {
		return OutcomeSuccess
	}
	for _, c := range p.CancelCodes {
		if code == c {
			return OutcomeCancelled
		}
	}
	return OutcomeFailed
}
