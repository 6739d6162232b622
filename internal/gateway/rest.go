package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RESTConfig configures the HTTP client for the backend.
type RESTConfig struct {
	// Endpoint is the backend base URL, e.g. https://calling.example.com.
	Endpoint string
	// AccessKey is the base64 shared key used to sign requests.
	AccessKey string
	// RequestTimeout bounds each HTTP round trip.
	RequestTimeout time.Duration
	// HTTPClient overrides the default client, mostly for tests.
	HTTPClient *http.Client
}

// RESTClient talks JSON over HTTP to the call-automation backend with
// HMAC-SHA256 request signing.
type RESTClient struct {
	endpoint string
	key      []byte
	http     *http.Client
	logger   *slog.Logger
}

// NewRESTClient creates a backend client.
func NewRESTClient(cfg RESTConfig, logger *slog.Logger) (*RESTClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("gateway endpoint is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	key, err := base64.StdEncoding.DecodeString(cfg.AccessKey)
	if err != nil {
		return nil, fmt.Errorf("decode access key: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.RequestTimeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &RESTClient{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		key:      key,
		http:     httpClient,
		logger:   logger,
	}, nil
}

type createCallBody struct {
	Source struct {
		Identity string `json:"identity"`
		CallerID string `json:"callerId"`
	} `json:"source"`
	Targets     []string `json:"targets"`
	CallbackURI string   `json:"callbackUri"`
}

type answerCallBody struct {
	IncomingCallContext string `json:"incomingCallContext"`
	CallbackURI         string `json:"callbackUri"`
}

type callHandleBody struct {
	CallConnectionID string `json:"callConnectionId"`
}

func (c *RESTClient) CreateCall(ctx context.Context, req CreateCallRequest) (CallHandle, error) {
	var body createCallBody
	body.Source.Identity = req.SourceIdentity
	body.Source.CallerID = req.SourceCallerID
	body.Targets = []string{req.Target}
	body.CallbackURI = req.CallbackURL

	var handle callHandleBody
	if err := c.post(ctx, "CreateCall", "/calling/calls", body, &handle); err != nil {
		return CallHandle{}, err
	}
	return CallHandle{ConnectionID: handle.CallConnectionID}, nil
}

func (c *RESTClient) AnswerCall(ctx context.Context, incomingCallContext, callbackURL string) (CallHandle, error) {
	body := answerCallBody{
		IncomingCallContext: incomingCallContext,
		CallbackURI:         callbackURL,
	}

	var handle callHandleBody
	if err := c.post(ctx, "AnswerCall", "/calling/calls/answer", body, &handle); err != nil {
		return CallHandle{}, err
	}
	return CallHandle{ConnectionID: handle.CallConnectionID}, nil
}

func (c *RESTClient) Play(ctx context.Context, call CallHandle, media MediaSource, operationContext string) error {
	body := map[string]any{
		"playSource": map[string]any{
			"uri":  media.URI,
			"loop": media.Loop,
		},
		"playToAll":        true,
		"operationContext": operationContext,
	}
	path := fmt.Sprintf("/calling/calls/%s/play", url.PathEscape(call.ConnectionID))
	return c.post(ctx, "Play", path, body, nil)
}

func (c *RESTClient) StartRecognizeDTMF(ctx context.Context, call CallHandle, opts RecognizeOptions, operationContext string) error {
	body := map[string]any{
		"targetParticipant":        opts.TargetParticipant,
		"maxTones":                 opts.MaxTones,
		"interToneTimeoutSec":      int(opts.InterToneTimeout.Seconds()),
		"initialSilenceTimeoutSec": int(opts.InitialSilenceTimeout.Seconds()),
		"interruptPrompt":          opts.InterruptPrompt,
		"stopTones":                opts.StopTones,
		"operationContext":         operationContext,
	}
	if opts.Prompt.URI != "" {
		body["prompt"] = map[string]any{
			"uri":  opts.Prompt.URI,
			"loop": opts.Prompt.Loop,
		}
	}
	path := fmt.Sprintf("/calling/calls/%s/recognize", url.PathEscape(call.ConnectionID))
	return c.post(ctx, "StartRecognizeDTMF", path, body, nil)
}

func (c *RESTClient) AddParticipant(ctx context.Context, call CallHandle, req AddParticipantRequest, operationContext string) error {
	kind := "phone"
	if req.ParticipantIsUser {
		kind = "user"
	}
	body := map[string]any{
		"participant": map[string]any{
			"id":   req.Participant,
			"kind": kind,
		},
		"sourceCallerId":       req.SourceCallerID,
		"invitationTimeoutSec": int(req.InvitationTimeout.Seconds()),
		"operationContext":     operationContext,
	}
	path := fmt.Sprintf("/calling/calls/%s/participants", url.PathEscape(call.ConnectionID))
	return c.post(ctx, "AddParticipant", path, body, nil)
}

func (c *RESTClient) HangUp(ctx context.Context, call CallHandle, forEveryone bool) error {
	body := map[string]any{"forEveryone": forEveryone}
	path := fmt.Sprintf("/calling/calls/%s/hangup", url.PathEscape(call.ConnectionID))
	return c.post(ctx, "HangUp", path, body, nil)
}

func (c *RESTClient) CancelAllMediaOperations(ctx context.Context, call CallHandle) error {
	path := fmt.Sprintf("/calling/calls/%s/media/cancel", url.PathEscape(call.ConnectionID))
	return c.post(ctx, "CancelAllMediaOperations", path, map[string]any{}, nil)
}

// post issues a signed JSON POST. A 2xx response is an acknowledgment;
// anything else becomes a RejectedError. Real operation outcomes arrive
// later through the notification feed.
func (c *RESTClient) post(ctx context.Context, op, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.sign(req, payload)

	c.logger.Debug("[Gateway] Request", "op", op, "path", path)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RejectedError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	c.logger.Debug("[Gateway] Accepted", "op", op, "status", resp.StatusCode)

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return nil
}

// sign adds the shared-key HMAC headers: the string-to-sign is the method,
// the path and query, and "date;host;content-hash" joined by newlines.
func (c *RESTClient) sign(req *http.Request, payload []byte) {
	contentHash := sha256.Sum256(payload)
	contentHashB64 := base64.StdEncoding.EncodeToString(contentHash[:])

	date := time.Now().UTC().Format(http.TimeFormat)
	pathAndQuery := req.URL.RequestURI()

	stringToSign := fmt.Sprintf("%s\n%s\n%s;%s;%s",
		req.Method, pathAndQuery, date, req.URL.Host, contentHashB64)

	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("x-cf-date", date)
	req.Header.Set("x-cf-content-sha256", contentHashB64)
	req.Header.Set("Authorization",
		"HMAC-SHA256 SignedHeaders=x-cf-date;host;x-cf-content-sha256&Signature="+signature)
}

var _ Client = (*RESTClient)(nil)
