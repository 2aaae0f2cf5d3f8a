package model

// DeliveryOutcome is the result of pushing one payload through the pipeline
type DeliveryOutcome string

// Delivery outcomes
const (
	OutcomeSent               DeliveryOutcome = "sent"
	OutcomeDuplicate          DeliveryOutcome = "duplicate"
	OutcomeRetried            DeliveryOutcome = "retried"
	OutcomeMaxRetriesExceeded DeliveryOutcome = "max-retries-exceeded"
	OutcomeFailed             DeliveryOutcome = "failed"
	// OutcomeSkipped is reported for stream entries that could not be parsed.
	// They are left unacknowledged.
	OutcomeSkipped DeliveryOutcome = "skipped"
	// OutcomeQueued is reported by ingress when a payload went onto the stream.
	OutcomeQueued DeliveryOutcome = "queued"
)

// Terminal reports whether the queue entry is acknowledged and removed with
// no follow-up entry.
func (o DeliveryOutcome) Terminal() bool {
	switch o {
	case OutcomeSent, OutcomeDuplicate, OutcomeMaxRetriesExceeded, OutcomeFailed:
		return true
	}
	return false
}

// DeliveryResult carries an outcome and an optional human-readable reason
type DeliveryResult struct {
	Outcome DeliveryOutcome `json:"status"`
	Reason  string          `json:"reason,omitempty"`
	// Err is the underlying error for failed deliveries. Not serialized.
	Err error `json:"-"`
}

// Result builds a DeliveryResult without an error
func Result(outcome DeliveryOutcome, reason string) DeliveryResult {
	return DeliveryResult{Outcome: outcome, Reason: reason}
}

// Failed builds a failed DeliveryResult from err
func Failed(err error) DeliveryResult {
	return DeliveryResult{Outcome: OutcomeFailed, Reason: err.Error(), Err: err}
}
