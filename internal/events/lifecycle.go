package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Subject naming for published lifecycle events.
//
//	callflow.calls.<call_connection_id>.<suffix>
//
// Wildcard consumers can watch callflow.calls.> for everything, or
// callflow.calls.*.ended for terminations only.
const (
	SubjectPrefix = "callflow"
	SubjectCalls  = SubjectPrefix + ".calls"
)

// Lifecycle event kinds.
const (
	KindCallConnected = "connected"
	KindCallPhase     = "phase"
	KindCallEnded     = "ended"
)

// CallEvent is an operator-facing record of a call lifecycle transition.
type CallEvent struct {
	EventID          string    `json:"event_id"`
	Kind             string    `json:"kind"`
	Time             time.Time `json:"time"`
	CallConnectionID string    `json:"call_connection_id"`
	Phase            string    `json:"phase,omitempty"`
	Reason           string    `json:"reason,omitempty"`
}

// NewCallEvent builds a lifecycle event with a fresh event id.
func NewCallEvent(kind, callConnectionID string) CallEvent {
	return CallEvent{
		EventID:          uuid.New().String(),
		Kind:             kind,
		Time:             time.Now().UTC(),
		CallConnectionID: callConnectionID,
	}
}

// WithPhase returns a copy of the event carrying the phase name.
func (e CallEvent) WithPhase(phase string) CallEvent {
	e.Phase = phase
	return e
}

// WithReason returns a copy of the event carrying a termination reason.
func (e CallEvent) WithReason(reason string) CallEvent {
	e.Reason = reason
	return e
}

// Subject returns the publish subject for this event.
func (e CallEvent) Subject() string {
	return fmt.Sprintf("%s.%s.%s", SubjectCalls, e.CallConnectionID, e.Kind)
}
