// Package gateway abstracts the remote call-automation backend. Every
// operation is fire-and-acknowledge: the backend accepts the request and the
// real outcome arrives later as an out-of-band notification.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CallHandle identifies an accepted call at the backend.
type CallHandle struct {
	// ConnectionID is assigned when the backend accepts call creation or
	// answering and is stable for the call's lifetime.
	ConnectionID string
}

// CreateCallRequest carries the parameters for originating an outbound call.
type CreateCallRequest struct {
	// SourceIdentity is the platform identity placing the call.
	SourceIdentity string
	// SourceCallerID is the phone number presented to the callee.
	SourceCallerID string
	// Target is the callee phone number.
	Target string
	// CallbackURL receives the backend's notifications for this call.
	CallbackURL string
}

// MediaSource references a prompt clip to play into the call.
type MediaSource struct {
	// URI is the publicly reachable audio file location.
	URI string
	// Loop repeats the clip until cancelled.
	Loop bool
}

// RecognizeOptions configures DTMF collection on the call.
type RecognizeOptions struct {
	// TargetParticipant is the participant whose tones are collected.
	TargetParticipant string
	// MaxTones stops collection after this many digits.
	MaxTones int
	// InterToneTimeout bounds the silence between digits.
	InterToneTimeout time.Duration
	// InitialSilenceTimeout bounds the wait for the first digit.
	InitialSilenceTimeout time.Duration
	// InterruptPrompt lets a digit cut the prompt short.
	InterruptPrompt bool
	// Prompt is played before or during collection, if set.
	Prompt MediaSource
	// StopTones end collection immediately when received.
	StopTones []string
}

// AddParticipantRequest carries the parameters for inviting a participant
// into an established call.
type AddParticipantRequest struct {
	// Participant is the raw identifier of the invitee.
	Participant string
	// ParticipantIsUser distinguishes platform users from phone numbers.
	ParticipantIsUser bool
	// SourceCallerID is the number presented to the invitee.
	SourceCallerID string
	// InvitationTimeout bounds how long the invitee may ring.
	InvitationTimeout time.Duration
}

// Client is the call-automation backend surface the orchestrator drives.
// Operations taking an operationContext echo it back in the corresponding
// notification so the caller can correlate the eventual outcome.
type Client interface {
	// CreateCall originates an outbound call.
	CreateCall(ctx context.Context, req CreateCallRequest) (CallHandle, error)

	// AnswerCall accepts an incoming call identified by its context token.
	AnswerCall(ctx context.Context, incomingCallContext, callbackURL string) (CallHandle, error)

	// Play starts prompt playback toward every participant.
	Play(ctx context.Context, call CallHandle, media MediaSource, operationContext string) error

	// StartRecognizeDTMF begins tone collection, optionally with a prompt.
	StartRecognizeDTMF(ctx context.Context, call CallHandle, opts RecognizeOptions, operationContext string) error

	// AddParticipant invites another participant into the call.
	AddParticipant(ctx context.Context, call CallHandle, req AddParticipantRequest, operationContext string) error

	// HangUp tears the call down, for everyone when asked.
	HangUp(ctx context.Context, call CallHandle, forEveryone bool) error

	// CancelAllMediaOperations stops any in-flight play or recognize work.
	CancelAllMediaOperations(ctx context.Context, call CallHandle) error
}

// ErrRejected is the sentinel wrapped by every RejectedError.
var ErrRejected = errors.New("backend rejected request")

// RejectedError reports a non-accepted backend response.
type RejectedError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected with status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *RejectedError) Unwrap() error {
	return ErrRejected
}
