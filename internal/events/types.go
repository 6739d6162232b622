// Package events defines the typed backend notifications, the pub/sub
// dispatcher that correlates them to in-flight call operations, and the
// operator-facing lifecycle event publisher.
package events

import (
	"fmt"
	"strings"
)

// Type enumerates the notification kinds the backend delivers out-of-band.
type Type int

const (
	TypeUnknown Type = iota
	TypeIncomingCall
	TypeCallConnected
	TypeCallDisconnected
	TypePlayCompleted
	TypePlayFailed
	TypePlayCancelled
	TypeRecognizeCompleted
	TypeRecognizeFailed
	TypeAddParticipantsSucceeded
	TypeAddParticipantsFailed
)

// String returns the string representation of Type.
func (t Type) String() string {
	switch t {
	case TypeIncomingCall:
		return "IncomingCall"
	case TypeCallConnected:
		return "CallConnected"
	case TypeCallDisconnected:
		return "CallDisconnected"
	case TypePlayCompleted:
		return "PlayCompleted"
	case TypePlayFailed:
		return "PlayFailed"
	case TypePlayCancelled:
		return "PlayCancelled"
	case TypeRecognizeCompleted:
		return "RecognizeCompleted"
	case TypeRecognizeFailed:
		return "RecognizeFailed"
	case TypeAddParticipantsSucceeded:
		return "AddParticipantsSucceeded"
	case TypeAddParticipantsFailed:
		return "AddParticipantsFailed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// ParseType maps a wire event type to a Type. It accepts both the bare name
// ("CallConnected") and the namespaced form the backend emits
// ("Acs.Calling.CallConnected"); only the last dotted segment matters.
func ParseType(s string) Type {
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	switch strings.ToLower(s) {
	case "incomingcall":
		return TypeIncomingCall
	case "callconnected":
		return TypeCallConnected
	case "calldisconnected":
		return TypeCallDisconnected
	case "playcompleted":
		return TypePlayCompleted
	case "playfailed":
		return TypePlayFailed
	case "playcancelled", "playcanceled":
		return TypePlayCancelled
	case "recognizecompleted":
		return TypeRecognizeCompleted
	case "recognizefailed":
		return TypeRecognizeFailed
	case "addparticipantssucceeded":
		return TypeAddParticipantsSucceeded
	case "addparticipantsfailed":
		return TypeAddParticipantsFailed
	default:
		return TypeUnknown
	}
}

// Notification is a single decoded backend notification. Fields beyond Type
// and the correlation identifiers are populated only where the kind carries
// them.
type Notification struct {
	Type             Type
	CallConnectionID string
	OperationContext string

	// Tone is the first collected DTMF tone (RecognizeCompleted only).
	Tone string

	// IncomingCallContext and CallerID accompany IncomingCall.
	IncomingCallContext string
	CallerID            string

	// ResultInfo carries failure detail on *Failed notifications.
	ResultInfo string
}

// CorrelationID returns the key a waiting subscription is registered under.
// Play outcomes correlate on the operation context the requester minted;
// everything else correlates on the call connection id, matching how the
// orchestrator registers its interest.
func (n Notification) CorrelationID() string {
	switch n.Type {
	case TypePlayCompleted, TypePlayFailed, TypePlayCancelled:
		if n.OperationContext != "" {
			return n.OperationContext
		}
	}
	return n.CallConnectionID
}
