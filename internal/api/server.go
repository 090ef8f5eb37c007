// Package api implements the panel-facing HTTP and WebSocket API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/greenroom-ai/greenroom/internal/buildinfo"
	"github.com/greenroom-ai/greenroom/internal/charfield"
	"github.com/greenroom-ai/greenroom/internal/config"
	"github.com/greenroom-ai/greenroom/internal/dispatch"
	"github.com/greenroom-ai/greenroom/internal/instruct"
	"github.com/greenroom-ai/greenroom/internal/profile"
	"github.com/greenroom-ai/greenroom/internal/session"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the panel disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the panel API server.
type Server struct {
	address string
	port    int

	sessions   *session.Manager
	dispatcher *dispatch.Dispatcher

	// Defaults seeded from config; the panel may override per request.
	capabilities profile.CapabilityMap
	globalInst   instruct.Config
	presets      map[string]instruct.Config
	authoring    config.AuthoringConfig

	events *eventHub
	logger *slog.Logger
	server *http.Server
}

// New creates the panel API server.
func New(cfg *config.Config, sessions *session.Manager, dispatcher *dispatch.Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:      cfg.Listen.Address,
		port:         cfg.Listen.Port,
		sessions:     sessions,
		dispatcher:   dispatcher,
		capabilities: cfg.Capabilities,
		globalInst:   cfg.Instruct,
		presets:      cfg.InstructPresets,
		authoring:    cfg.Authoring,
		events:       newEventHub(logger),
		logger:       logger,
	}
}

// routes builds the panel API mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/buildinfo", s.handleBuildinfo)
	mux.HandleFunc("GET /api/fields", s.handleFields)

	mux.HandleFunc("GET /api/session", s.handleSessionGet)
	mux.HandleFunc("POST /api/session/clear", s.handleSessionClear)
	mux.HandleFunc("POST /api/session/edit", s.handleSessionEdit)
	mux.HandleFunc("POST /api/session/delete", s.handleSessionDelete)
	mux.HandleFunc("POST /api/session/preferred", s.handleSessionPreferred)

	mux.HandleFunc("POST /api/compose", s.handleCompose)
	mux.HandleFunc("POST /api/regenerate", s.handleRegenerate)
	mux.HandleFunc("POST /api/cancel", s.handleCancel)

	mux.HandleFunc("GET /ws/events", s.events.handleWS)

	return mux
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("panel API listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// sessionKey derives the session identifier for a character and field.
// Sessions for different characters (and fields) are fully isolated.
func sessionKey(characterID, field string) string {
	if field == "" {
		return characterID
	}
	return characterID + ":" + field
}

// writeError maps the error taxonomy onto HTTP statuses: configuration
// and state errors are the panel's to fix (4xx); transport errors pass
// the backend's message through verbatim as a bad gateway.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		configErr    *profile.ConfigError
		stateErr     *session.StateError
		transportErr *dispatch.TransportError
	)

	status := http.StatusInternalServerError
	kind := "internal"
	msg := err.Error()
	switch {
	case errors.As(err, &configErr):
		status, kind = http.StatusBadRequest, "configuration"
		if configErr.Reason == "unresolved-api" {
			msg = "no usable connection profile"
		}
	case errors.As(err, &stateErr):
		status, kind = http.StatusConflict, "state"
	case errors.As(err, &transportErr):
		status, kind = http.StatusBadGateway, "transport"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"error": msg, "kind": kind}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) handleBuildinfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, charfield.Keys(), s.logger)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	character := r.URL.Query().Get("character")
	if character == "" {
		http.Error(w, "character is required", http.StatusBadRequest)
		return
	}
	key := sessionKey(character, r.URL.Query().Get("field"))
	writeJSON(w, s.sessions.Snapshot(key), s.logger)
}

// turnRef addresses one turn of one character/field session.
type turnRef struct {
	Character string `json:"character"`
	Field     string `json:"field"`
	TS        int64  `json:"ts"`
	Content   string `json:"content,omitempty"`
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// decodeTurnRef decodes a turn reference body and enforces the required
// character identifier, so a blank key can never lazily create a session.
func (s *Server) decodeTurnRef(w http.ResponseWriter, r *http.Request) (turnRef, bool) {
	var req turnRef
	if !s.decodeBody(w, r, &req) {
		return req, false
	}
	if req.Character == "" {
		http.Error(w, "character is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func (s *Server) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTurnRef(w, r)
	if !ok {
		return
	}
	key := sessionKey(req.Character, req.Field)
	s.sessions.Clear(key)
	s.events.broadcast(req.Character, req.Field, "cleared")
	writeJSON(w, s.sessions.Snapshot(key), s.logger)
}

func (s *Server) handleSessionEdit(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTurnRef(w, r)
	if !ok {
		return
	}
	key := sessionKey(req.Character, req.Field)
	if err := s.sessions.Edit(key, req.TS, req.Content); err != nil {
		s.writeError(w, err)
		return
	}
	s.events.broadcast(req.Character, req.Field, "edited")
	writeJSON(w, s.sessions.Snapshot(key), s.logger)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTurnRef(w, r)
	if !ok {
		return
	}
	key := sessionKey(req.Character, req.Field)
	removed, err := s.sessions.Delete(key, req.TS)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.events.broadcast(req.Character, req.Field, "deleted")
	writeJSON(w, map[string]any{
		"removed": removed,
		"session": s.sessions.Snapshot(key),
	}, s.logger)
}

func (s *Server) handleSessionPreferred(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTurnRef(w, r)
	if !ok {
		return
	}
	key := sessionKey(req.Character, req.Field)
	if err := s.sessions.TogglePreferred(key, req.TS); err != nil {
		s.writeError(w, err)
		return
	}
	s.events.broadcast(req.Character, req.Field, "preferred")
	writeJSON(w, s.sessions.Snapshot(key), s.logger)
}

// composeRequest is the panel's co-authoring request body.
type composeRequest struct {
	Character   string                    `json:"character"`
	Field       charfield.Key             `json:"field"`
	Doc         *charfield.Character      `json:"doc,omitempty"`
	Profile     profile.ConnectionProfile `json:"profile"`
	Instruction string                    `json:"instruction"`

	// Capabilities optionally replaces the configured capability map for
	// this request; the host owns the authoritative copy.
	Capabilities profile.CapabilityMap `json:"capabilities,omitempty"`

	HistoryCount          *int     `json:"history_count,omitempty"`
	Paragraphs            *int     `json:"paragraphs,omitempty"`
	SentencesPerParagraph *int     `json:"sentences_per_paragraph,omitempty"`
	Temperature           *float64 `json:"temperature,omitempty"`
}

// buildRequest assembles a dispatch.Request from the panel body and the
// current session snapshot.
func (s *Server) buildRequest(req composeRequest, instruction string) (dispatch.Request, error) {
	key := sessionKey(req.Character, string(req.Field))
	snap := s.sessions.Snapshot(key)

	caps := s.capabilities
	if len(req.Capabilities) > 0 {
		caps = req.Capabilities
	}

	systemPrompt, err := s.systemPrompt(req)
	if err != nil {
		return dispatch.Request{}, err
	}

	out := dispatch.Request{
		SessionKey:            key,
		Turns:                 snap.Turns,
		Preferred:             snap.Preferred,
		Profile:               req.Profile,
		Capabilities:          caps,
		GlobalInstruct:        s.globalInst,
		Presets:               s.presets,
		SystemPrompt:          systemPrompt,
		Instruction:           instruction,
		HistoryCount:          s.authoring.HistoryCount,
		Paragraphs:            s.authoring.Paragraphs,
		SentencesPerParagraph: s.authoring.SentencesPerParagraph,
		Temperature:           s.authoring.Temperature,
	}

	if req.HistoryCount != nil {
		out.HistoryCount = *req.HistoryCount
	}
	if req.Paragraphs != nil {
		out.Paragraphs = *req.Paragraphs
	}
	if req.SentencesPerParagraph != nil {
		out.SentencesPerParagraph = *req.SentencesPerParagraph
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	return out, nil
}

// systemPrompt renders the co-authoring system prompt for a request,
// folding in the character's own system prompt field when a document is
// attached. Unknown field keys are rejected here, before any resolution.
func (s *Server) systemPrompt(req composeRequest) (string, error) {
	field := req.Field
	if field == "" {
		field = charfield.KeyFirstMes
	}

	name := "the character"
	charPrompt := ""
	current := ""
	if req.Doc != nil {
		if req.Doc.Name != "" {
			name = req.Doc.Name
		}
		charPrompt = req.Doc.Data.SystemPrompt

		v, err := charfield.Get(req.Doc, field)
		if err != nil {
			return "", err
		}
		current = v
	} else {
		// Without a document we can still validate the key.
		probe := &charfield.Character{}
		if _, err := charfield.Get(probe, field); err != nil {
			return "", err
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a collaborative writing assistant helping the user author the %q field for %s.", field, name)
	if charPrompt != "" {
		b.WriteString("\n\nCharacter notes:\n")
		b.WriteString(charPrompt)
	}
	if current != "" {
		b.WriteString("\n\nCurrent field content:\n")
		b.WriteString(current)
	}
	return b.String(), nil
}

func (s *Server) handleCompose(w http.ResponseWriter, r *http.Request) {
	var req composeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Character == "" || strings.TrimSpace(req.Instruction) == "" {
		http.Error(w, "character and instruction are required", http.StatusBadRequest)
		return
	}

	dreq, err := s.buildRequest(req, req.Instruction)
	if err != nil {
		s.writeError(w, err)
		return
	}

	key := dreq.SessionKey
	userTurn := s.sessions.AppendUser(key, req.Instruction)
	dreq.Turns = append(dreq.Turns, userTurn)

	text, err := s.dispatcher.Dispatch(r.Context(), dreq)
	if err != nil {
		// A submission rejected by the in-flight guard must leave no
		// trace, so its user turn is rolled back. Transport failures
		// keep the user turn: the panel shows the instruction it sent
		// alongside the error, and regenerate can retry it.
		var stateErr *session.StateError
		if errors.As(err, &stateErr) {
			if _, derr := s.sessions.Delete(key, userTurn.TS); derr != nil {
				s.logger.Warn("failed to roll back rejected turn", "key", key, "error", derr)
			}
		}
		s.writeError(w, err)
		return
	}

	turn := s.sessions.AppendAssistant(key, text)
	s.events.broadcast(req.Character, string(req.Field), "responded")
	writeJSON(w, map[string]any{
		"turn":    turn,
		"session": s.sessions.Snapshot(key),
	}, s.logger)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req composeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Character == "" {
		http.Error(w, "character is required", http.StatusBadRequest)
		return
	}

	key := sessionKey(req.Character, string(req.Field))
	target, instruction, err := s.sessions.RegenerateTarget(key)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Regenerate reuses the prior user instruction; no new user turn.
	dreq, err := s.buildRequest(req, instruction)
	if err != nil {
		s.writeError(w, err)
		return
	}

	text, err := s.dispatcher.Dispatch(r.Context(), dreq)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.sessions.ReplaceContent(key, target.TS, text); err != nil {
		s.writeError(w, err)
		return
	}
	s.events.broadcast(req.Character, string(req.Field), "regenerated")
	writeJSON(w, s.sessions.Snapshot(key), s.logger)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTurnRef(w, r)
	if !ok {
		return
	}
	cancelled := s.dispatcher.Cancel(sessionKey(req.Character, req.Field))
	writeJSON(w, map[string]bool{"cancelled": cancelled}, s.logger)
}
