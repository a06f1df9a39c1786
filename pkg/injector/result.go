package injector

import "github.com/harun/sterna-opencode/pkg/host"

// Trigger names what caused an injection attempt.
type Trigger string

const (
	TriggerMessage   Trigger = "message"
	TriggerCompacted Trigger = "compacted"
	TriggerManual    Trigger = "manual"
)

// ScanResult is the outcome of a history lookup. ScanUnknown means the
// history could not be read; callers treat it like ScanNotFound.
type ScanResult int

const (
	ScanNotFound ScanResult = iota
	ScanFound
	ScanUnknown
)

func (r ScanResult) String() string {
	switch r {
	case ScanFound:
		return "found"
	case ScanUnknown:
		return "unknown"
	default:
		return "not_found"
	}
}

// Decision records why an event did or did not lead to an injection.
type Decision string

const (
	// DecisionIgnored: the event carried no session ID.
	DecisionIgnored Decision = "ignored"
	// DecisionTracked: the session was already marked in this process.
	DecisionTracked Decision = "tracked"
	// DecisionMarkerFound: history already holds an injected context block.
	DecisionMarkerFound Decision = "marker_found"
	// DecisionInFlight: a concurrent event for the session marked it first.
	DecisionInFlight Decision = "in_flight"
	// DecisionInjected: first injection for the session was attempted.
	DecisionInjected Decision = "injected"
	// DecisionReinjected: context was resupplied after compaction.
	DecisionReinjected Decision = "reinjected"
)

// Status is the terminal state of one injection attempt.
type Status string

const (
	StatusDelivered      Status = "delivered"
	StatusEmpty          Status = "empty"
	StatusPrimeFailed    Status = "prime_failed"
	StatusDeliveryFailed Status = "delivery_failed"
)

// Outcome describes one injection attempt. Err is set for the failed statuses.
type Outcome struct {
	Status  Status
	Err     error
	Message string
}

// Delivered reports whether a message reached the session.
func (o Outcome) Delivered() bool {
	return o.Status == StatusDelivered
}

// Selection is the model/agent pair a delivered message is attributed to.
// A zero Selection leaves the choice to host defaults.
type Selection struct {
	Model *host.ModelRef
	Agent string
}

// IsZero reports whether neither selector is set.
func (s Selection) IsZero() bool {
	return s.Model == nil && s.Agent == ""
}

// Result summarizes the handling of one host event. Outcome is nil when no
// injection was attempted.
type Result struct {
	SessionID string
	Trigger   Trigger
	Decision  Decision
	Scan      ScanResult
	Selection Selection
	Outcome   *Outcome
}
