package call

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sebas/callflow/internal/config"
	"github.com/sebas/callflow/internal/events"
	"github.com/sebas/callflow/internal/gateway"
	"github.com/sebas/callflow/internal/identity"
	"github.com/sebas/callflow/internal/signal"
)

// DeclineTone is the reserved tone: receiving it (or no tone at all) skips
// the participant add. Any other tone confirms.
const DeclineTone = "2"

// OrchestratorConfig contains the orchestrator's dependencies.
type OrchestratorConfig struct {
	Call       config.CallConfig
	Gateway    gateway.Client
	Dispatcher *events.Dispatcher
	Publisher  events.Publisher
	Logger     *slog.Logger
}

// Orchestrator sequences one call at a time through its lifecycle: setup,
// prompt/collect, the tone-dependent branch, and teardown. It is safe to run
// multiple calls through the same orchestrator concurrently; each Run owns
// its private Session.
type Orchestrator struct {
	cfg        config.CallConfig
	gw         gateway.Client
	dispatcher *events.Dispatcher
	publisher  events.Publisher
	logger     *slog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NewNoopPublisher()
	}
	return &Orchestrator{
		cfg:        cfg.Call,
		gw:         cfg.Gateway,
		dispatcher: cfg.Dispatcher,
		publisher:  cfg.Publisher,
		logger:     cfg.Logger,
	}
}

// Run drives an outbound reminder call: originate, prompt and collect a
// tone, then either add the configured participant (with bounded retry) or
// hang up directly. It returns once the backend confirms termination, or
// with an error if the call could not be established. Failures after setup
// are logged and the call is abandoned in whatever state it was in.
func (o *Orchestrator) Run(ctx context.Context, target, participant string) error {
	s := newSession(ctx)
	defer func() {
		s.cancel()
		o.unsubscribeAll(s)
	}()
	o.watchCancellation(s)

	if err := o.createCall(s, target); err != nil {
		o.logger.Error("[Call] Call ended unexpectedly", "reason", err)
		return err
	}

	o.registerToneHandlers(s)
	o.startRecognize(s, target)

	playOK, outcome := s.getPlayDone().Await(0)
	if outcome != signal.OutcomeResolved || !playOK {
		o.hangUp(s)
	} else {
		toneOK, toneOutcome := s.toneDone.Await(0)
		if toneOutcome == signal.OutcomeResolved && toneOK {
			o.setPhase(s, PhaseBranching)
			o.playToneConfirmation(s)

			o.setPhase(s, PhaseAddingParticipant)
			o.logger.Info("[Call] Initiating add participant",
				"target", target,
				"participant", participant,
			)
			if !o.addParticipant(s, participant) {
				Retry(o.logger, o.cfg.MaxRetryAttempts, func() bool {
					return o.addParticipant(s, participant)
				})
			}
		}
		o.hangUp(s)
	}

	o.awaitTerminated(s)
	return nil
}

// RunInbound answers an incoming call, prompts and collects a tone, plays
// the optional per-tone confirmation, and hangs up. Calls from callers other
// than the configured acceptor are ignored.
func (o *Orchestrator) RunInbound(ctx context.Context, incomingCallContext, callerID string) error {
	if o.cfg.AcceptCallsFrom != "" && callerID != o.cfg.AcceptCallsFrom {
		o.logger.Info("[Call] Ignoring incoming call from unapproved caller", "caller_id", callerID)
		return nil
	}

	s := newSession(ctx)
	defer func() {
		s.cancel()
		o.unsubscribeAll(s)
	}()
	o.watchCancellation(s)

	if err := o.answerCall(s, incomingCallContext); err != nil {
		o.logger.Error("[Call] Call ended unexpectedly", "reason", err)
		return err
	}

	o.registerToneHandlers(s)
	o.startRecognize(s, callerID)

	playOK, outcome := s.getPlayDone().Await(0)
	if outcome == signal.OutcomeResolved && playOK {
		toneOK, toneOutcome := s.toneDone.Await(0)
		if toneOutcome == signal.OutcomeResolved && toneOK {
			o.setPhase(s, PhaseBranching)
			o.playToneConfirmation(s)
		}
	}
	o.hangUp(s)

	o.awaitTerminated(s)
	return nil
}

// awaitTerminated waits for the backend to confirm the call is gone, bounded
// by the configured disconnect timeout when one is set.
func (o *Orchestrator) awaitTerminated(s *Session) {
	if _, outcome := s.terminated.Await(o.cfg.DisconnectTimeout); outcome == signal.OutcomeTimedOut {
		o.logger.Warn("[Call] No disconnect confirmation received, abandoning call",
			"call_connection_id", s.ConnectionID(),
			"timeout", o.cfg.DisconnectTimeout,
		)
	}
}

// watchCancellation releases every pending waiter once the session context
// is cancelled, whether by teardown or by the caller.
func (o *Orchestrator) watchCancellation(s *Session) {
	go func() {
		<-s.ctx.Done()
		s.cancelPending()
		s.terminated.TrySetCancelled()
	}()
}

func (o *Orchestrator) createCall(s *Session, target string) error {
	o.setPhase(s, PhaseConnecting)
	o.logger.Info("[Call] Performing CreateCall operation", "target", target)

	handle, err := o.gw.CreateCall(s.ctx, gateway.CreateCallRequest{
		SourceIdentity: o.cfg.SourceIdentity,
		SourceCallerID: o.cfg.SourcePhoneNumber,
		Target:         target,
		CallbackURL:    o.cfg.CallbackURL,
	})
	if err != nil {
		return &SetupError{Target: target, Cause: err}
	}
	s.setHandle(handle)
	o.logger.Info("[Call] Call initiated", "call_connection_id", handle.ConnectionID)

	// Subscribe immediately after the request returns and before awaiting:
	// the backend does not notify before the create request completes, so
	// the subscription is in place ahead of any CallConnected delivery.
	o.registerCallStateHandlers(s)

	return o.awaitEstablished(s, target)
}

func (o *Orchestrator) answerCall(s *Session, incomingCallContext string) error {
	o.setPhase(s, PhaseConnecting)
	o.logger.Info("[Call] Performing AnswerCall operation")

	handle, err := o.gw.AnswerCall(s.ctx, incomingCallContext, o.cfg.CallbackURL)
	if err != nil {
		return &SetupError{Target: "incoming", Cause: err}
	}
	s.setHandle(handle)
	o.logger.Info("[Call] Call answered", "call_connection_id", handle.ConnectionID)

	o.registerCallStateHandlers(s)

	return o.awaitEstablished(s, "incoming")
}

func (o *Orchestrator) awaitEstablished(s *Session, target string) error {
	_, outcome := s.established.Await(o.cfg.ConnectTimeout)
	switch outcome {
	case signal.OutcomeResolved:
		o.setPhase(s, PhaseConnected)
		o.publish(events.NewCallEvent(events.KindCallConnected, s.ConnectionID()))
		return nil
	case signal.OutcomeTimedOut:
		// The backend may still connect the call later; tear it down so
		// the abandoned attempt is not left ringing.
		o.hangUp(s)
		return &SetupError{Target: target, Cause: ErrConnectTimeout}
	default:
		return &SetupError{Target: target, Cause: ErrCallTornDown}
	}
}

// startRecognize plays the prompt and starts DTMF collection as one backend
// operation, then races the play outcome against the prompt budget. On
// timeout both the play and tone cells are force-resolved negative so the
// downstream branch never blocks.
func (o *Orchestrator) startRecognize(s *Session, target string) {
	if s.ctx.Err() != nil {
		o.logger.Info("[Call] Cancellation requested, recognize will not be performed")
		return
	}
	o.setPhase(s, PhasePrompting)

	opCtx := uuid.New().String()
	playDone := s.resetPlayDone(opCtx)
	o.registerPlayHandlers(s, opCtx)

	opts := gateway.RecognizeOptions{
		TargetParticipant:     target,
		MaxTones:              1,
		InterToneTimeout:      5 * time.Second,
		InitialSilenceTimeout: o.cfg.PromptTimeout,
		InterruptPrompt:       true,
		Prompt:                gateway.MediaSource{URI: o.cfg.AudioFileURL, Loop: true},
		StopTones:             []string{"#"},
	}
	o.logger.Info("[Call] Performing StartRecognize operation", "operation_context", opCtx)
	if err := o.gw.StartRecognizeDTMF(s.ctx, s.getHandle(), opts, opCtx); err != nil {
		o.logger.Error("[Call] StartRecognize rejected", "error", err)
		playDone.TrySetResult(false)
		s.toneDone.TrySetResult(false)
		return
	}

	o.setPhase(s, PhaseCollecting)

	if _, outcome := playDone.Await(o.cfg.PromptTimeout); outcome == signal.OutcomeTimedOut {
		o.logger.Info("[Call] No response from user within prompt budget, initiating hangup",
			"timeout", o.cfg.PromptTimeout)
		o.cancelMedia(s)
		playDone.TrySetResult(false)
		s.toneDone.TrySetResult(false)
	}
}

// playToneConfirmation plays the clip configured for the collected tone, if
// any, before the call proceeds.
func (o *Orchestrator) playToneConfirmation(s *Session) {
	clip := o.cfg.ToneAudio[s.Tone()]
	if clip == "" {
		return
	}
	if s.ctx.Err() != nil {
		o.logger.Info("[Call] Cancellation requested, confirmation will not be played")
		return
	}

	o.logger.Info("[Call] Playing confirmation for input", "tone", s.Tone())

	opCtx := uuid.New().String()
	playDone := s.resetPlayDone(opCtx)
	o.registerPlayHandlers(s, opCtx)

	if err := o.gw.Play(s.ctx, s.getHandle(), gateway.MediaSource{URI: clip}, opCtx); err != nil {
		o.logger.Error("[Call] Play rejected", "error", err)
		playDone.TrySetResult(false)
		return
	}

	if _, outcome := playDone.Await(o.cfg.PromptTimeout); outcome == signal.OutcomeTimedOut {
		o.logger.Info("[Call] Confirmation playback timed out")
		playDone.TrySetResult(false)
	}
}

// addParticipant performs one add attempt and awaits its outcome. There is
// no wait budget: only the remote notification (or teardown) settles it.
// Unknown identities are nothing to add and count as trivially complete.
func (o *Orchestrator) addParticipant(s *Session, participant string) bool {
	if s.ctx.Err() != nil {
		o.logger.Info("[Call] Cancellation requested, add participant will not be performed")
		return true
	}

	kind := identity.Classify(participant)
	if kind == identity.KindUnknown {
		o.logger.Info("[Call] Unknown identity provided, enter a valid phone number or user id",
			"participant", participant)
		return true
	}

	addDone := s.resetAddDone()
	o.registerAddParticipantHandlers(s)

	req := gateway.AddParticipantRequest{
		Participant:       participant,
		ParticipantIsUser: kind == identity.KindUser,
		SourceCallerID:    o.cfg.SourcePhoneNumber,
		InvitationTimeout: 30 * time.Second,
	}
	if err := o.gw.AddParticipant(s.ctx, s.getHandle(), req, uuid.New().String()); err != nil {
		o.logger.Error("[Call] AddParticipant rejected", "error", err)
		o.unsubscribeAddParticipant(s)
		return false
	}

	done, outcome := addDone.Await(0)
	if outcome == signal.OutcomeCancelled {
		// Torn down mid-add; report success so the retry loop stops and
		// the guarded hang-up becomes a no-op.
		return true
	}
	return done
}

func (o *Orchestrator) hangUp(s *Session) {
	if s.ctx.Err() != nil {
		o.logger.Info("[Call] Cancellation requested, hangup will not be performed")
		return
	}
	o.setPhase(s, PhaseHanging)
	o.logger.Info("[Call] Performing Hangup operation", "call_connection_id", s.ConnectionID())

	if err := o.gw.HangUp(s.ctx, s.getHandle(), true); err != nil {
		o.logger.Error("[Call] Hangup rejected", "error", err)
		return
	}
	o.setPhase(s, PhaseDisconnecting)
}

func (o *Orchestrator) cancelMedia(s *Session) {
	if s.ctx.Err() != nil {
		o.logger.Info("[Call] Cancellation requested, cancel media will not be performed")
		return
	}
	o.logger.Info("[Call] Cancelling media operations", "call_connection_id", s.ConnectionID())

	if err := o.gw.CancelAllMediaOperations(s.ctx, s.getHandle()); err != nil {
		o.logger.Error("[Call] CancelAllMediaOperations rejected", "error", err)
	}
}

// handleNotification is the single dispatch point for every notification
// routed to this session. It settles the matching completion cell and drops
// the subscriptions the outcome makes obsolete.
func (o *Orchestrator) handleNotification(s *Session, n events.Notification) {
	connID := s.ConnectionID()

	switch n.Type {
	case events.TypeCallConnected:
		o.logger.Info("[Call] Call state changed to Connected", "call_connection_id", connID)
		o.dispatcher.Unsubscribe(events.TypeCallConnected, connID)
		s.established.TrySetResult(true)

	case events.TypeCallDisconnected:
		o.logger.Info("[Call] Call state changed to Disconnected", "call_connection_id", connID)
		o.dispatcher.Unsubscribe(events.TypeCallDisconnected, connID)
		o.teardown(s)

	case events.TypePlayCompleted:
		if n.CorrelationID() != s.getPlayOpCtx() {
			o.logger.Debug("[Call] Ignoring play outcome for superseded operation",
				"operation_context", n.OperationContext)
			return
		}
		o.logger.Info("[Call] Play audio status", "status", "Completed")
		o.unsubscribePlay(s)
		s.getPlayDone().TrySetResult(true)

	case events.TypePlayFailed, events.TypePlayCancelled:
		if n.CorrelationID() != s.getPlayOpCtx() {
			o.logger.Debug("[Call] Ignoring play outcome for superseded operation",
				"operation_context", n.OperationContext)
			return
		}
		o.logger.Info("[Call] Play audio status", "status", n.Type.String())
		o.unsubscribePlay(s)
		s.getPlayDone().TrySetResult(false)

	case events.TypeRecognizeCompleted:
		s.setTone(n.Tone)
		confirmed := n.Tone != "" && n.Tone != DeclineTone
		if confirmed {
			o.logger.Info("[Call] Tone received", "tone", n.Tone)
		} else {
			o.logger.Info("[Call] Tone declined or absent", "tone", n.Tone)
		}
		o.unsubscribeRecognize(s)
		// The tone interrupted the prompt; drop its play bindings so the
		// backend's late cancellation report cannot reach a newer play.
		o.unsubscribePlay(s)
		s.toneDone.TrySetResult(confirmed)
		// A collected tone also ends the prompt wait.
		s.getPlayDone().TrySetResult(true)

	case events.TypeRecognizeFailed:
		o.logger.Info("[Call] Failed to recognize any DTMF tone")
		o.unsubscribeRecognize(s)
		s.toneDone.TrySetResult(false)

	case events.TypeAddParticipantsSucceeded:
		o.logger.Info("[Call] Add participant succeeded", "call_connection_id", connID)
		o.unsubscribeAddParticipant(s)
		o.settleThenComplete(s)

	case events.TypeAddParticipantsFailed:
		o.logger.Info("[Call] Add participant failed", "result_info", n.ResultInfo)
		o.unsubscribeAddParticipant(s)
		s.getAddDone().TrySetResult(false)

	default:
		o.logger.Debug("[Call] Ignoring notification", "kind", n.Type.String())
	}
}

// settleThenComplete waits the mandated post-join stabilization period after
// a successful add before resolving the attempt. Teardown cuts the wait
// short; the cell is already cancelled by then and the resolve is a no-op.
func (o *Orchestrator) settleThenComplete(s *Session) {
	o.logger.Info("[Call] Waiting settling delay before proceeding", "delay", o.cfg.SettlingDelay)
	addDone := s.getAddDone()
	select {
	case <-time.After(o.cfg.SettlingDelay):
	case <-s.ctx.Done():
	}
	addDone.TrySetResult(true)
}

// teardown marks the call terminated exactly once and releases everything
// scoped to it: the session context, pending completion cells, and
// subscriptions.
func (o *Orchestrator) teardown(s *Session) {
	if !s.terminated.TrySetResult(true) {
		return
	}
	s.setPhase(PhaseTerminated)
	s.cancel()
	s.cancelPending()
	o.unsubscribeAll(s)
	o.publish(events.NewCallEvent(events.KindCallEnded, s.ConnectionID()).WithReason("disconnected"))
}

func (o *Orchestrator) setPhase(s *Session, p Phase) {
	s.setPhase(p)
	o.logger.Debug("[Call] Phase transition",
		"call_connection_id", s.ConnectionID(),
		"phase", p.String(),
	)
	o.publish(events.NewCallEvent(events.KindCallPhase, s.ConnectionID()).WithPhase(p.String()))
}

func (o *Orchestrator) publish(ev events.CallEvent) {
	if err := o.publisher.Publish(context.Background(), ev); err != nil {
		o.logger.Warn("[Call] Lifecycle event publish failed", "error", err)
	}
}

func (o *Orchestrator) registerCallStateHandlers(s *Session) {
	connID := s.ConnectionID()
	handler := func(n events.Notification) { o.handleNotification(s, n) }
	o.dispatcher.Subscribe(events.TypeCallConnected, connID, handler)
	o.dispatcher.Subscribe(events.TypeCallDisconnected, connID, handler)
}

func (o *Orchestrator) registerToneHandlers(s *Session) {
	connID := s.ConnectionID()
	handler := func(n events.Notification) { o.handleNotification(s, n) }
	o.dispatcher.Subscribe(events.TypeRecognizeCompleted, connID, handler)
	o.dispatcher.Subscribe(events.TypeRecognizeFailed, connID, handler)
}

func (o *Orchestrator) registerPlayHandlers(s *Session, opCtx string) {
	handler := func(n events.Notification) { o.handleNotification(s, n) }
	o.dispatcher.Subscribe(events.TypePlayCompleted, opCtx, handler)
	o.dispatcher.Subscribe(events.TypePlayFailed, opCtx, handler)
	o.dispatcher.Subscribe(events.TypePlayCancelled, opCtx, handler)
}

func (o *Orchestrator) registerAddParticipantHandlers(s *Session) {
	connID := s.ConnectionID()
	handler := func(n events.Notification) { o.handleNotification(s, n) }
	o.dispatcher.Subscribe(events.TypeAddParticipantsSucceeded, connID, handler)
	o.dispatcher.Subscribe(events.TypeAddParticipantsFailed, connID, handler)
}

func (o *Orchestrator) unsubscribePlay(s *Session) {
	opCtx := s.getPlayOpCtx()
	o.dispatcher.Unsubscribe(events.TypePlayCompleted, opCtx)
	o.dispatcher.Unsubscribe(events.TypePlayFailed, opCtx)
	o.dispatcher.Unsubscribe(events.TypePlayCancelled, opCtx)
}

func (o *Orchestrator) unsubscribeRecognize(s *Session) {
	connID := s.ConnectionID()
	o.dispatcher.Unsubscribe(events.TypeRecognizeCompleted, connID)
	o.dispatcher.Unsubscribe(events.TypeRecognizeFailed, connID)
}

func (o *Orchestrator) unsubscribeAddParticipant(s *Session) {
	connID := s.ConnectionID()
	o.dispatcher.Unsubscribe(events.TypeAddParticipantsSucceeded, connID)
	o.dispatcher.Unsubscribe(events.TypeAddParticipantsFailed, connID)
}

func (o *Orchestrator) unsubscribeAll(s *Session) {
	connID := s.ConnectionID()
	o.dispatcher.Unsubscribe(events.TypeCallConnected, connID)
	o.dispatcher.Unsubscribe(events.TypeCallDisconnected, connID)
	o.unsubscribeRecognize(s)
	o.unsubscribePlay(s)
	o.unsubscribeAddParticipant(s)
}
