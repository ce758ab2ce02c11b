package services

// Status classifies the business outcome of processing an event.
type Status int

const (
	// StatusSuccess means the event was applied and state changed.
	StatusSuccess Status = iota
	// StatusAlreadyProcessed means a duplicate delivery: the target state was
	// already in place. Treated as success for acknowledgment purposes.
	StatusAlreadyProcessed
	// StatusFailure means a terminal business rejection. Redelivery cannot
	// fix it, so the message is acknowledged and dropped.
	StatusFailure
)

// Result is the tri-state outcome of an event handler. Technical failures
// (storage down, version conflict exhausted) are returned as plain errors
// alongside it, never folded into the Reason.
type Result struct {
	Status Status
	Reason string
}

// Success returns a successful result.
func Success() Result {
	return Result{Status: StatusSuccess}
}

// AlreadyProcessed returns a duplicate-delivery result.
func AlreadyProcessed() Result {
	return Result{Status: StatusAlreadyProcessed}
}

// Failure returns a business-rejection result with the given reason.
func Failure(reason string) Result {
	return Result{Status: StatusFailure, Reason: reason}
}

// IsSuccess reports whether the event changed state.
func (r Result) IsSuccess() bool {
	return r.Status == StatusSuccess
}
