package call

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/callflow/internal/config"
	"github.com/sebas/callflow/internal/events"
	"github.com/sebas/callflow/internal/gateway"
)

const testConnID = "conn-test-1"

type gatewayOp struct {
	name  string
	opCtx string
}

// fakeGateway acknowledges every request and records it, leaving outcome
// delivery to the test via dispatcher notifications.
type fakeGateway struct {
	mu   sync.Mutex
	ops  chan gatewayOp
	seen map[string]int

	rejectAdd bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		ops:  make(chan gatewayOp, 64),
		seen: make(map[string]int),
	}
}

func (g *fakeGateway) record(name, opCtx string) {
	g.mu.Lock()
	g.seen[name]++
	g.mu.Unlock()
	g.ops <- gatewayOp{name: name, opCtx: opCtx}
}

func (g *fakeGateway) count(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seen[name]
}

func (g *fakeGateway) CreateCall(ctx context.Context, req gateway.CreateCallRequest) (gateway.CallHandle, error) {
	g.record("create", "")
	return gateway.CallHandle{ConnectionID: testConnID}, nil
}

func (g *fakeGateway) AnswerCall(ctx context.Context, incomingCallContext, callbackURL string) (gateway.CallHandle, error) {
	g.record("answer", "")
	return gateway.CallHandle{ConnectionID: testConnID}, nil
}

func (g *fakeGateway) Play(ctx context.Context, call gateway.CallHandle, media gateway.MediaSource, operationContext string) error {
	g.record("play", operationContext)
	return nil
}

func (g *fakeGateway) StartRecognizeDTMF(ctx context.Context, call gateway.CallHandle, opts gateway.RecognizeOptions, operationContext string) error {
	g.record("recognize", operationContext)
	return nil
}

func (g *fakeGateway) AddParticipant(ctx context.Context, call gateway.CallHandle, req gateway.AddParticipantRequest, operationContext string) error {
	g.record("add", operationContext)
	if g.rejectAdd {
		return &gateway.RejectedError{Op: "add participant", StatusCode: 400}
	}
	return nil
}

func (g *fakeGateway) HangUp(ctx context.Context, call gateway.CallHandle, forEveryone bool) error {
	g.record("hangup", "")
	return nil
}

func (g *fakeGateway) CancelAllMediaOperations(ctx context.Context, call gateway.CallHandle) error {
	g.record("cancel_media", "")
	return nil
}

var _ gateway.Client = (*fakeGateway)(nil)

func testCallConfig() config.CallConfig {
	return config.CallConfig{
		CallbackURL:       "https://callbacks.example.com/events",
		SourceIdentity:    "8:acs:11112222-3333-4444-5555-666677778888_babecafe",
		SourcePhoneNumber: "+12025550100",
		AudioFileURL:      "https://media.example.com/prompt.wav",
		MaxRetryAttempts:  3,
		PromptTimeout:     80 * time.Millisecond,
		SettlingDelay:     10 * time.Millisecond,
		ConnectTimeout:    time.Second,
	}
}

type orchFixture struct {
	orch       *Orchestrator
	gw         *fakeGateway
	dispatcher *events.Dispatcher
}

func newOrchFixture(t *testing.T, cfg config.CallConfig) *orchFixture {
	t.Helper()
	// Handlers run on dispatcher goroutines that can outlive the test
	// body, so logs go to a writer that is safe after completion.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := newFakeGateway()
	d := events.NewDispatcher(logger)
	orch := NewOrchestrator(OrchestratorConfig{
		Call:       cfg,
		Gateway:    gw,
		Dispatcher: d,
		Logger:     logger,
	})
	return &orchFixture{orch: orch, gw: gw, dispatcher: d}
}

// waitOp blocks until the gateway records the named operation.
func (f *orchFixture) waitOp(t *testing.T, name string) gatewayOp {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case op := <-f.gw.ops:
			if op.name == name {
				return op
			}
		case <-deadline:
			t.Fatalf("timed out waiting for gateway op %q", name)
		}
	}
}

// deliver dispatches a notification, retrying until the matching
// subscription has been registered.
func (f *orchFixture) deliver(t *testing.T, n events.Notification) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.dispatcher.Dispatch(n)
	}, 2*time.Second, 2*time.Millisecond, "no subscription matched %s/%s", n.Type, n.CorrelationID())
}

func connected() events.Notification {
	return events.Notification{Type: events.TypeCallConnected, CallConnectionID: testConnID}
}

func disconnected() events.Notification {
	return events.Notification{Type: events.TypeCallDisconnected, CallConnectionID: testConnID}
}

func runDone(f *orchFixture, target, participant string) <-chan error {
	done := make(chan error, 1)
	go func() { done <- f.orch.Run(context.Background(), target, participant) }()
	return done
}

func awaitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator run did not finish")
		return nil
	}
}

func TestRunNoToneHangsUpOnce(t *testing.T) {
	f := newOrchFixture(t, testCallConfig())
	done := runDone(f, "+12025550123", "+12025550124")

	f.waitOp(t, "create")
	f.deliver(t, connected())
	f.waitOp(t, "recognize")

	// No tone ever arrives; the prompt budget expires.
	f.waitOp(t, "cancel_media")
	f.waitOp(t, "hangup")
	f.deliver(t, disconnected())

	require.NoError(t, awaitRun(t, done))
	assert.Equal(t, 1, f.gw.count("hangup"))
	assert.Equal(t, 0, f.gw.count("add"))
}

func TestRunDeclineToneSkipsAdd(t *testing.T) {
	f := newOrchFixture(t, testCallConfig())
	done := runDone(f, "+12025550123", "+12025550124")

	f.waitOp(t, "create")
	f.deliver(t, connected())
	f.waitOp(t, "recognize")

	f.deliver(t, events.Notification{
		Type:             events.TypeRecognizeCompleted,
		CallConnectionID: testConnID,
		Tone:             DeclineTone,
	})

	f.waitOp(t, "hangup")
	f.deliver(t, disconnected())

	require.NoError(t, awaitRun(t, done))
	assert.Equal(t, 0, f.gw.count("add"))
	assert.Equal(t, 0, f.gw.count("cancel_media"))
	assert.Equal(t, 1, f.gw.count("hangup"))
}

func TestRunConfirmedToneAddsParticipantWithRetry(t *testing.T) {
	f := newOrchFixture(t, testCallConfig())
	done := runDone(f, "+12025550123", "+12025550124")

	f.waitOp(t, "create")
	f.deliver(t, connected())
	f.waitOp(t, "recognize")

	f.deliver(t, events.Notification{
		Type:             events.TypeRecognizeCompleted,
		CallConnectionID: testConnID,
		Tone:             "1",
	})

	// First attempt fails remotely, second succeeds.
	f.waitOp(t, "add")
	f.deliver(t, events.Notification{
		Type:             events.TypeAddParticipantsFailed,
		CallConnectionID: testConnID,
		ResultInfo:       "invitee busy",
	})
	f.waitOp(t, "add")
	f.deliver(t, events.Notification{
		Type:             events.TypeAddParticipantsSucceeded,
		CallConnectionID: testConnID,
	})

	f.waitOp(t, "hangup")
	f.deliver(t, disconnected())

	require.NoError(t, awaitRun(t, done))
	assert.Equal(t, 2, f.gw.count("add"))
	assert.Equal(t, 1, f.gw.count("hangup"))
}

func TestRunRetryExhaustionStillHangsUp(t *testing.T) {
	cfg := testCallConfig()
	cfg.MaxRetryAttempts = 2
	f := newOrchFixture(t, cfg)
	done := runDone(f, "+12025550123", "+12025550124")

	f.waitOp(t, "create")
	f.deliver(t, connected())
	f.waitOp(t, "recognize")

	f.deliver(t, events.Notification{
		Type:             events.TypeRecognizeCompleted,
		CallConnectionID: testConnID,
		Tone:             "3",
	})

	// Initial attempt plus two retries, each answered with a failure.
	for i := 0; i < 3; i++ {
		f.waitOp(t, "add")
		f.deliver(t, events.Notification{
			Type:             events.TypeAddParticipantsFailed,
			CallConnectionID: testConnID,
		})
	}

	f.waitOp(t, "hangup")
	f.deliver(t, disconnected())

	require.NoError(t, awaitRun(t, done))
	assert.Equal(t, 3, f.gw.count("add"))
	assert.Equal(t, 1, f.gw.count("hangup"))
}

func TestRunRejectedAddRetries(t *testing.T) {
	cfg := testCallConfig()
	cfg.MaxRetryAttempts = 1
	f := newOrchFixture(t, cfg)
	f.gw.rejectAdd = true
	done := runDone(f, "+12025550123", "+12025550124")

	f.waitOp(t, "create")
	f.deliver(t, connected())
	f.waitOp(t, "recognize")

	f.deliver(t, events.Notification{
		Type:             events.TypeRecognizeCompleted,
		CallConnectionID: testConnID,
		Tone:             "1",
	})

	// Both the initial attempt and the single retry are rejected at the
	// request level; no notification round-trip happens.
	f.waitOp(t, "add")
	f.waitOp(t, "add")
	f.waitOp(t, "hangup")
	f.deliver(t, disconnected())

	require.NoError(t, awaitRun(t, done))
	assert.Equal(t, 2, f.gw.count("add"))
}

func TestRunUnknownParticipantSkipsAdd(t *testing.T) {
	f := newOrchFixture(t, testCallConfig())
	done := runDone(f, "+12025550123", "not-an-identity")

	f.waitOp(t, "create")
	f.deliver(t, connected())
	f.waitOp(t, "recognize")

	f.deliver(t, events.Notification{
		Type:             events.TypeRecognizeCompleted,
		CallConnectionID: testConnID,
		Tone:             "1",
	})

	f.waitOp(t, "hangup")
	f.deliver(t, disconnected())

	require.NoError(t, awaitRun(t, done))
	assert.Equal(t, 0, f.gw.count("add"))
	assert.Equal(t, 1, f.gw.count("hangup"))
}

func TestRunDisconnectCancelsPendingWork(t *testing.T) {
	f := newOrchFixture(t, testCallConfig())
	done := runDone(f, "+12025550123", "+12025550124")

	f.waitOp(t, "create")
	f.deliver(t, connected())
	f.waitOp(t, "recognize")

	// The far end hangs up mid-prompt. The run must unwind without
	// issuing any further backend operation.
	f.deliver(t, disconnected())

	require.NoError(t, awaitRun(t, done))
	assert.Equal(t, 0, f.gw.count("hangup"))
	assert.Equal(t, 0, f.gw.count("add"))
	assert.Equal(t, 0, f.gw.count("cancel_media"))
}

func TestRunConnectTimeout(t *testing.T) {
	cfg := testCallConfig()
	cfg.ConnectTimeout = 30 * time.Millisecond
	f := newOrchFixture(t, cfg)
	done := runDone(f, "+12025550123", "+12025550124")

	f.waitOp(t, "create")
	// CallConnected never arrives.

	// The abandoned attempt is torn down so a late connect is not leaked.
	f.waitOp(t, "hangup")

	err := awaitRun(t, done)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectTimeout)

	var setupErr *SetupError
	assert.ErrorAs(t, err, &setupErr)
	assert.Equal(t, "+12025550123", setupErr.Target)
	assert.Equal(t, 1, f.gw.count("hangup"))
}

func TestRunToneConfirmationPlayback(t *testing.T) {
	cfg := testCallConfig()
	cfg.ToneAudio = map[string]string{"1": "https://media.example.com/one.wav"}
	f := newOrchFixture(t, cfg)
	done := runDone(f, "+12025550123", "+12025550124")

	f.waitOp(t, "create")
	f.deliver(t, connected())
	f.waitOp(t, "recognize")

	f.deliver(t, events.Notification{
		Type:             events.TypeRecognizeCompleted,
		CallConnectionID: testConnID,
		Tone:             "1",
	})

	play := f.waitOp(t, "play")
	require.NotEmpty(t, play.opCtx)
	f.deliver(t, events.Notification{
		Type:             events.TypePlayCompleted,
		CallConnectionID: testConnID,
		OperationContext: play.opCtx,
	})

	f.waitOp(t, "add")
	f.deliver(t, events.Notification{
		Type:             events.TypeAddParticipantsSucceeded,
		CallConnectionID: testConnID,
	})

	f.waitOp(t, "hangup")
	f.deliver(t, disconnected())

	require.NoError(t, awaitRun(t, done))
	assert.Equal(t, 1, f.gw.count("play"))
}

func TestRunStalePromptPlayOutcomeIgnored(t *testing.T) {
	cfg := testCallConfig()
	cfg.ToneAudio = map[string]string{"1": "https://media.example.com/one.wav"}
	f := newOrchFixture(t, cfg)
	done := runDone(f, "+12025550123", "+12025550124")

	f.waitOp(t, "create")
	f.deliver(t, connected())
	recognize := f.waitOp(t, "recognize")

	f.deliver(t, events.Notification{
		Type:             events.TypeRecognizeCompleted,
		CallConnectionID: testConnID,
		Tone:             "1",
	})

	play := f.waitOp(t, "play")

	// The tone interrupted the looping prompt; the backend reports that
	// cancellation only now, under the prompt's operation context. It must
	// not reach the confirmation playback's fresh subscriptions.
	stale := events.Notification{
		Type:             events.TypePlayCancelled,
		CallConnectionID: testConnID,
		OperationContext: recognize.opCtx,
	}
	assert.False(t, f.dispatcher.Dispatch(stale))

	// The confirmation's own outcome still has a live subscriber.
	f.deliver(t, events.Notification{
		Type:             events.TypePlayCompleted,
		CallConnectionID: testConnID,
		OperationContext: play.opCtx,
	})

	f.waitOp(t, "add")
	f.deliver(t, events.Notification{
		Type:             events.TypeAddParticipantsSucceeded,
		CallConnectionID: testConnID,
	})

	f.waitOp(t, "hangup")
	f.deliver(t, disconnected())

	require.NoError(t, awaitRun(t, done))
	assert.Equal(t, 1, f.gw.count("play"))
	assert.Equal(t, 1, f.gw.count("add"))
}

func TestRunDisconnectConfirmationTimeout(t *testing.T) {
	cfg := testCallConfig()
	cfg.DisconnectTimeout = 60 * time.Millisecond
	f := newOrchFixture(t, cfg)
	done := runDone(f, "+12025550123", "+12025550124")

	f.waitOp(t, "create")
	f.deliver(t, connected())
	f.waitOp(t, "recognize")

	f.deliver(t, events.Notification{
		Type:             events.TypeRecognizeCompleted,
		CallConnectionID: testConnID,
		Tone:             DeclineTone,
	})

	// Hangup is acknowledged but CallDisconnected never arrives; the run
	// must still finish within the disconnect budget.
	f.waitOp(t, "hangup")

	require.NoError(t, awaitRun(t, done))
	assert.Equal(t, 1, f.gw.count("hangup"))
}

func TestRunInboundFiltersCaller(t *testing.T) {
	cfg := testCallConfig()
	cfg.AcceptCallsFrom = "+12025550999"
	f := newOrchFixture(t, cfg)

	err := f.orch.RunInbound(context.Background(), "ctx-blob", "+12025550001")
	require.NoError(t, err)
	assert.Equal(t, 0, f.gw.count("answer"))
}

func TestRunInboundAnswersAndCollects(t *testing.T) {
	f := newOrchFixture(t, testCallConfig())
	done := make(chan error, 1)
	go func() { done <- f.orch.RunInbound(context.Background(), "ctx-blob", "+12025550001") }()

	f.waitOp(t, "answer")
	f.deliver(t, connected())
	f.waitOp(t, "recognize")

	f.deliver(t, events.Notification{
		Type:             events.TypeRecognizeCompleted,
		CallConnectionID: testConnID,
		Tone:             "5",
	})

	f.waitOp(t, "hangup")
	f.deliver(t, disconnected())

	require.NoError(t, awaitRun(t, done))
	assert.Equal(t, 1, f.gw.count("answer"))
	assert.Equal(t, 0, f.gw.count("create"))
}
