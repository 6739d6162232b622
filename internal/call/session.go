package call

import (
	"context"
	"sync"

	"github.com/sebas/callflow/internal/gateway"
	"github.com/sebas/callflow/internal/signal"
)

// Session holds one call's state: its backend handle, lifecycle phase, the
// cancellation scope every operation runs under, and the completion cells
// pending notifications settle. The orchestrator owns the session
// exclusively; the dispatcher only triggers settlement.
type Session struct {
	mu sync.Mutex

	handle    gateway.CallHandle
	phase     Phase
	tone      string
	playOpCtx string

	ctx    context.Context
	cancel context.CancelFunc

	established *signal.Completion[bool]
	terminated  *signal.Completion[bool]
	playDone    *signal.Completion[bool]
	toneDone    *signal.Completion[bool]
	addDone     *signal.Completion[bool]
}

func newSession(parent context.Context) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		phase:       PhaseCreated,
		ctx:         ctx,
		cancel:      cancel,
		established: signal.New[bool](),
		terminated:  signal.New[bool](),
		playDone:    signal.New[bool](),
		toneDone:    signal.New[bool](),
		addDone:     signal.New[bool](),
	}
}

// Context returns the call-scoped context, cancelled on teardown.
func (s *Session) Context() context.Context {
	return s.ctx
}

// ConnectionID returns the backend call connection id, empty until the
// backend accepts the call.
func (s *Session) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle.ConnectionID
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Tone returns the collected DTMF tone, empty if none arrived.
func (s *Session) Tone() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tone
}

func (s *Session) setHandle(h gateway.CallHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = h
}

func (s *Session) getHandle() gateway.CallHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

func (s *Session) setTone(tone string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tone = tone
}

// resetPlayDone installs a fresh play completion cell for a new play
// operation and records its operation context for teardown unsubscription.
func (s *Session) resetPlayDone(opCtx string) *signal.Completion[bool] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playOpCtx = opCtx
	s.playDone = signal.New[bool]()
	return s.playDone
}

func (s *Session) getPlayDone() *signal.Completion[bool] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playDone
}

func (s *Session) getPlayOpCtx() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playOpCtx
}

// resetAddDone installs a fresh completion cell for a participant-add
// attempt. Each attempt awaits its own cell.
func (s *Session) resetAddDone() *signal.Completion[bool] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addDone = signal.New[bool]()
	return s.addDone
}

func (s *Session) getAddDone() *signal.Completion[bool] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addDone
}

// cancelPending cancels every completion cell that is still unsettled so no
// waiter outlives the call.
func (s *Session) cancelPending() {
	s.mu.Lock()
	cells := []*signal.Completion[bool]{s.established, s.playDone, s.toneDone, s.addDone}
	s.mu.Unlock()
	for _, c := range cells {
		c.TrySetCancelled()
	}
}
