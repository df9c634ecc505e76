package admission

import "time"

// Flow names which admission path handled a request.
type Flow string

const (
	FlowGated       Flow = "gated"
	FlowUnthrottled Flow = "unthrottled"
)

// Outcome is the terminal fate of one request.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeOverloaded  Outcome = "overloaded"
	OutcomeQueueFull   Outcome = "queue_full"
	OutcomeTimedOut    Outcome = "timed_out"
	OutcomeFailed      Outcome = "failed"
)

// Event records one terminal admission decision. Exactly one event is
// emitted per request, when its fate is known.
type Event struct {
	Time      time.Time `json:"time"`
	Flow      Flow      `json:"flow"`
	Identity  string    `json:"identity"`
	Outcome   Outcome   `json:"outcome"`
	Remaining int       `json:"remaining,omitempty"`
	ResetAt   time.Time `json:"reset_at,omitzero"`
	ElapsedMS int64     `json:"elapsed_ms,omitempty"`
}

// Sink receives admission events. Implementations must be safe for
// concurrent use; Record is called from request goroutines.
type Sink interface {
	Record(Event)
}

// MultiSink fans each event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Record(e Event) {
	for _, s := range m {
		s.Record(e)
	}
}
