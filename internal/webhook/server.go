// Package webhook receives backend callback notifications over HTTP, decodes
// them, and feeds them into the dispatcher. IncomingCall notifications are
// surfaced to a pluggable handler instead, since no subscription exists for
// a call that has not been answered yet.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sebas/callflow/internal/events"
)

// EventsPath is where the backend posts notifications. The callback URL
// handed to the backend must resolve to this path.
const EventsPath = "/api/v1/events"

// IncomingCallHandler is invoked for each IncomingCall notification. It is
// called on its own goroutine and owns the full inbound call lifecycle.
type IncomingCallHandler func(ctx context.Context, incomingCallContext, callerID string)

// Server is the HTTP callback receiver.
type Server struct {
	addr           string
	httpServer     *http.Server
	dispatcher     *events.Dispatcher
	onIncomingCall IncomingCallHandler
	logger         *slog.Logger
}

// NewServer creates a callback receiver. onIncomingCall may be nil when the
// deployment only places outbound calls.
func NewServer(addr string, dispatcher *events.Dispatcher, onIncomingCall IncomingCallHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:           addr,
		dispatcher:     dispatcher,
		onIncomingCall: onIncomingCall,
		logger:         logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc(EventsPath, s.handleEvents)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

// Handler exposes the underlying handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for callbacks.
func (s *Server) Start() error {
	s.logger.Info("[Webhook] Starting callback receiver", "addr", s.addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("[Webhook] Server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the receiver.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	notifications, err := Decode(body)
	if err != nil {
		s.logger.Error("[Webhook] Failed to decode callback payload", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	for _, n := range notifications {
		s.route(n)
	}

	s.writeJSON(w, map[string]interface{}{"received": len(notifications)})
}

func (s *Server) route(n events.Notification) {
	switch n.Type {
	case events.TypeUnknown:
		s.logger.Debug("[Webhook] Skipping unrecognized notification")
	case events.TypeIncomingCall:
		if s.onIncomingCall == nil {
			s.logger.Info("[Webhook] Dropping incoming call, no inbound handler configured",
				"caller_id", n.CallerID)
			return
		}
		s.logger.Info("[Webhook] Incoming call", "caller_id", n.CallerID)
		go s.onIncomingCall(context.Background(), n.IncomingCallContext, n.CallerID)
	default:
		s.dispatcher.Dispatch(n)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("[Webhook] Failed to encode JSON", "error", err)
	}
}

// envelope is the wire form of one callback notification. The backend posts
// either a single envelope or a batch array of them.
type envelope struct {
	Type      string       `json:"type"`
	EventType string       `json:"eventType"`
	Data      envelopeData `json:"data"`
}

type envelopeData struct {
	CallConnectionID    string           `json:"callConnectionId"`
	OperationContext    string           `json:"operationContext"`
	IncomingCallContext string           `json:"incomingCallContext"`
	From                *wireParticipant `json:"from"`
	ToneInfo            *wireToneInfo    `json:"toneInfo"`
	ResultInformation   *wireResultInfo  `json:"resultInformation"`
}

type wireParticipant struct {
	RawID       string `json:"rawId"`
	PhoneNumber *struct {
		Value string `json:"value"`
	} `json:"phoneNumber"`
}

type wireToneInfo struct {
	Tone string `json:"tone"`
}

type wireResultInfo struct {
	Message string `json:"message"`
}

// Decode parses a callback payload, which may be a single JSON object or an
// array of them, into notifications. Unrecognized event types decode to
// TypeUnknown rather than failing the whole batch.
func Decode(body []byte) ([]events.Notification, error) {
	trimmed := strings.TrimLeftFunc(string(body), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\r' || r == '\n'
	})
	if trimmed == "" {
		return nil, fmt.Errorf("empty payload")
	}

	var envelopes []envelope
	if trimmed[0] == '[' {
		if err := json.Unmarshal(body, &envelopes); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
	} else {
		var single envelope
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		envelopes = []envelope{single}
	}

	notifications := make([]events.Notification, 0, len(envelopes))
	for _, e := range envelopes {
		notifications = append(notifications, e.toNotification())
	}
	return notifications, nil
}

func (e envelope) toNotification() events.Notification {
	wireType := e.Type
	if wireType == "" {
		wireType = e.EventType
	}

	n := events.Notification{
		Type:                events.ParseType(wireType),
		CallConnectionID:    e.Data.CallConnectionID,
		OperationContext:    e.Data.OperationContext,
		IncomingCallContext: e.Data.IncomingCallContext,
	}
	if e.Data.ToneInfo != nil {
		n.Tone = toneValue(e.Data.ToneInfo.Tone)
	}
	if e.Data.ResultInformation != nil {
		n.ResultInfo = e.Data.ResultInformation.Message
	}
	if e.Data.From != nil {
		n.CallerID = e.Data.From.RawID
		if e.Data.From.PhoneNumber != nil && e.Data.From.PhoneNumber.Value != "" {
			n.CallerID = e.Data.From.PhoneNumber.Value
		}
	}
	return n
}

// toneValue normalizes a wire tone, which arrives either as the digit itself
// or as its spelled-out name.
func toneValue(s string) string {
	switch strings.ToLower(s) {
	case "zero":
		return "0"
	case "one":
		return "1"
	case "two":
		return "2"
	case "three":
		return "3"
	case "four":
		return "4"
	case "five":
		return "5"
	case "six":
		return "6"
	case "seven":
		return "7"
	case "eight":
		return "8"
	case "nine":
		return "9"
	case "pound":
		return "#"
	case "asterisk", "star":
		return "*"
	default:
		return s
	}
}
