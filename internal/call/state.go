// Package call drives the lifecycle of a single telephony call through the
// call-automation backend: it issues operations, registers interest in their
// out-of-band outcomes, and sequences the call's phases.
package call

import "fmt"

// Phase represents the current state of the call lifecycle.
type Phase int

const (
	// PhaseCreated indicates the session exists but nothing was issued.
	PhaseCreated Phase = iota
	// PhaseConnecting indicates create/answer was issued, awaiting CallConnected.
	PhaseConnecting
	// PhaseConnected indicates the backend reported the call established.
	PhaseConnected
	// PhasePrompting indicates the prompt is playing.
	PhasePrompting
	// PhaseCollecting indicates tone collection is in progress.
	PhaseCollecting
	// PhaseBranching indicates the collected input is being acted on.
	PhaseBranching
	// PhaseAddingParticipant indicates a participant add (with retry) is running.
	PhaseAddingParticipant
	// PhaseHanging indicates hang-up was issued.
	PhaseHanging
	// PhaseDisconnecting indicates the call is awaiting CallDisconnected.
	PhaseDisconnecting
	// PhaseTerminated is the sole terminal phase, reached exactly once.
	PhaseTerminated
)

// String returns the string representation of Phase.
func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "Created"
	case PhaseConnecting:
		return "Connecting"
	case PhaseConnected:
		return "Connected"
	case PhasePrompting:
		return "Prompting"
	case PhaseCollecting:
		return "Collecting"
	case PhaseBranching:
		return "Branching"
	case PhaseAddingParticipant:
		return "AddingParticipant"
	case PhaseHanging:
		return "Hanging"
	case PhaseDisconnecting:
		return "Disconnecting"
	case PhaseTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("Unknown(%d)", int(p))
	}
}

// IsTerminal returns true if the phase is terminal.
func (p Phase) IsTerminal() bool {
	return p == PhaseTerminated
}
