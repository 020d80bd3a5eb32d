package gateway

import "time"

// Outcome classifies a single exchange with the gateway.
type Outcome int

const (
	// OutcomeReply means the gateway answered 2xx with a usable reply.
	OutcomeReply Outcome = iota

	// OutcomeMalformed means the gateway answered 2xx but the body carried
	// no usable reply field.
	OutcomeMalformed

	// OutcomeUnavailable covers connection errors, non-2xx statuses,
	// timeouts, and cancellation.
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReply:
		return "reply"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Result is what Client.Send observed.
type Result struct {
	Outcome Outcome

	// Reply is the gateway's reply text. Only set for OutcomeReply.
	Reply string

	// Err is the cause for OutcomeMalformed and OutcomeUnavailable.
	Err error

	// Status is the upstream HTTP status code, or 0 if no response arrived.
	Status int

	Duration time.Duration
}

// OK reports whether the gateway produced a reply.
func (r Result) OK() bool {
	return r.Outcome == OutcomeReply
}
