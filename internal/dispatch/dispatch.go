// Package dispatch turns a composed request into a transport payload and
// drives the completion service for the resolved protocol family.
//
// Errors split cleanly: configuration and state problems are detected
// before any network call and abort early; transport failures surface
// the service's message verbatim and leave the session untouched.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/greenroom-ai/greenroom/internal/compose"
	"github.com/greenroom-ai/greenroom/internal/instruct"
	"github.com/greenroom-ai/greenroom/internal/profile"
	"github.com/greenroom-ai/greenroom/internal/session"
	"github.com/greenroom-ai/greenroom/internal/stopseq"
)

// Payload is the final transport payload. Absent optional fields are
// omitted entirely — never sent as null or empty.
type Payload struct {
	RequestID string `json:"-"`

	Model       string            `json:"model,omitempty"`
	Messages    []compose.Message `json:"messages,omitempty"`
	Prompt      string            `json:"prompt,omitempty"`
	MaxTokens   int               `json:"max_tokens"`
	Temperature float64           `json:"temperature"`

	Stop            []string `json:"stop,omitempty"`
	StoppingStrings []string `json:"stopping_strings,omitempty"`

	APIURL string `json:"-"`
	Proxy  string `json:"-"`
}

// Options carries labeling metadata alongside a service call. Labels
// only; they never alter the payload.
type Options struct {
	PresetName   string
	InstructName string
}

// Result is the normalized completion service response.
type Result struct {
	Content string
}

// Service is a completion backend for one protocol family. Greenroom
// always calls with streaming disabled.
type Service interface {
	ProcessRequest(ctx context.Context, payload Payload, opts Options) (*Result, error)
}

// ModelSource is the contract a host satisfies to expose per-backend
// model selection. It replaces an unbounded walk of host settings with
// an explicit, named lookup.
type ModelSource interface {
	ModelFor(backend string) (string, bool)
}

// TransportError wraps a completion service failure. The message is
// surfaced to the user verbatim.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Request is one composition-and-dispatch job.
type Request struct {
	SessionKey string
	Turns      []session.Turn
	Preferred  *session.Preferred

	Profile        profile.ConnectionProfile
	Capabilities   profile.CapabilityMap
	GlobalInstruct instruct.Config
	Presets        map[string]instruct.Config

	SystemPrompt string
	Instruction  string

	HistoryCount          int
	Paragraphs            int
	SentencesPerParagraph int
	Temperature           float64
}

// Composed is the outcome of request composition, before any network
// traffic: the payload, the resolved behavior, and the instruct
// resolution that fed it.
type Composed struct {
	Payload  Payload
	Behavior profile.Behavior
	Instruct instruct.Resolved
}

// Dispatcher composes payloads and drives the completion services.
type Dispatcher struct {
	chat   Service
	text   Service
	models ModelSource

	// hostSettings is the untyped per-backend settings object used only
	// by the last-resort deep scan for a model name.
	hostSettings map[string]any

	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// New creates a Dispatcher over the two family services. models and
// hostSettings may be nil.
func New(chat, text Service, models ModelSource, hostSettings map[string]any, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		chat:         chat,
		text:         text,
		models:       models,
		hostSettings: hostSettings,
		logger:       logger,
		inflight:     make(map[string]context.CancelFunc),
	}
}

// ComposeRequest resolves the profile and instruct template, merges stop
// sequences, assembles the family-appropriate content, and builds the
// transport payload. Pure: no network, no session mutation.
func (d *Dispatcher) ComposeRequest(req Request) (Composed, error) {
	behavior, err := profile.Resolve(req.Profile, req.Capabilities)
	if err != nil {
		return Composed{}, err
	}

	resolved := instruct.Resolve(req.GlobalInstruct, req.Profile, req.Presets, behavior.WireAPIType)
	stops := stopseq.Merge(behavior.WireAPIType, req.Profile.StopStrings, resolved.Enabled, resolved.Config, d.logger)

	params := compose.Params{
		SystemPrompt:          req.SystemPrompt,
		Turns:                 req.Turns,
		Preferred:             req.Preferred,
		Instruction:           req.Instruction,
		HistoryCount:          req.HistoryCount,
		Paragraphs:            req.Paragraphs,
		SentencesPerParagraph: req.SentencesPerParagraph,
		Prefill:               req.Profile.StartReplyWith,
	}

	payload := Payload{
		RequestID:       uuid.NewString(),
		Model:           d.resolveModel(behavior, req.Profile),
		MaxTokens:       compose.ResponseTokenBudget(req.Paragraphs, req.SentencesPerParagraph),
		Temperature:     req.Temperature,
		Stop:            stops.Stop,
		StoppingStrings: stops.StoppingStrings,
		APIURL:          req.Profile.APIURL,
		Proxy:           req.Profile.Proxy,
	}

	if behavior.Family == profile.FamilyChat {
		payload.Messages = compose.ChatMessages(params)
	} else {
		payload.Prompt = compose.TextPrompt(params, resolved.Config, resolved.Enabled)
	}

	return Composed{Payload: payload, Behavior: behavior, Instruct: resolved}, nil
}

// Dispatch composes the request and calls the completion service for the
// resolved family. Only one request may be in flight per session key; a
// second submission is rejected with a state error before any network
// call. The returned text is trimmed, and for the chat family the
// assistant prefill is prepended when the response does not already
// start with it.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	composed, err := d.ComposeRequest(req)
	if err != nil {
		return "", err
	}

	callCtx, release, err := d.acquire(ctx, req.SessionKey)
	if err != nil {
		return "", err
	}
	defer release()

	svc := d.text
	if composed.Behavior.Family == profile.FamilyChat {
		svc = d.chat
	}

	opts := Options{PresetName: req.Profile.Preset, InstructName: composed.Instruct.Name}

	d.logger.Debug("dispatching completion request",
		"request_id", composed.Payload.RequestID,
		"session", req.SessionKey,
		"family", composed.Behavior.Family,
		"wire_api", composed.Behavior.WireAPIType,
		"model", composed.Payload.Model,
	)

	result, err := svc.ProcessRequest(callCtx, composed.Payload, opts)
	if err != nil {
		return "", &TransportError{Err: err}
	}

	text := strings.TrimSpace(result.Content)
	if composed.Behavior.Family == profile.FamilyChat {
		if prefill := req.Profile.StartReplyWith; prefill != "" && !strings.HasPrefix(text, prefill) {
			// Best-effort display continuity only; no validation beyond this.
			text = prefill + text
		}
	}
	return text, nil
}

// acquire takes the per-session in-flight token. The returned context is
// cancelled by Cancel; release must be called when the request finishes.
func (d *Dispatcher) acquire(ctx context.Context, key string) (context.Context, func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, busy := d.inflight[key]; busy {
		return nil, nil, &session.StateError{Op: "dispatch", Reason: "a request is already in flight for this session"}
	}

	callCtx, cancel := context.WithCancel(ctx)
	d.inflight[key] = cancel

	release := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if c, ok := d.inflight[key]; ok {
			c()
			delete(d.inflight, key)
		}
	}
	return callCtx, release, nil
}

// Cancel aborts the in-flight request for a session, if any. The session
// state is untouched; no assistant turn is surfaced for a cancelled call.
func (d *Dispatcher) Cancel(sessionKey string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	cancel, ok := d.inflight[sessionKey]
	if !ok {
		return false
	}
	cancel()
	delete(d.inflight, sessionKey)
	return true
}
