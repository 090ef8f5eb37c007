// Package profile resolves connection profiles against the host's API
// capability map.
//
// A connection profile is a loosely-specified, host-owned description of
// how to reach a completion backend. Every field except ID and API is
// optional, and the host may hand us arbitrary partial profiles. The
// resolver derives the concrete behavior (completion family, wire API
// type, source) that the rest of the composition pipeline branches on.
package profile

import (
	"fmt"
	"strings"
)

// Family is the completion protocol family a backend speaks.
type Family string

const (
	// FamilyChat expects an OpenAI-style message array.
	FamilyChat Family = "chat"

	// FamilyText expects a single wrapped prompt string.
	FamilyText Family = "text"
)

// chatCompletionMarker is the capability-map sentinel for the chat
// completion family. Any other selected value means text completion.
const chatCompletionMarker = "openai"

// ConnectionProfile describes one host-configured backend connection.
// JSON tags match the host's kebab-case keys verbatim; the struct is
// read-only to this package and everything downstream of it.
type ConnectionProfile struct {
	ID             string `json:"id"`
	API            string `json:"api"`
	Mode           string `json:"mode,omitempty"`
	Model          string `json:"model,omitempty"`
	Preset         string `json:"preset,omitempty"`
	Instruct       string `json:"instruct,omitempty"`
	InstructState  string `json:"instruct-state,omitempty"`
	StopStrings    any    `json:"stop-strings,omitempty"`
	APIURL         string `json:"api-url,omitempty"`
	Proxy          string `json:"proxy,omitempty"`
	StartReplyWith string `json:"start-reply-with,omitempty"`
}

// Capability is one entry in the host's API capability map.
type Capability struct {
	Selected string `json:"selected" yaml:"selected"`
	Type     string `json:"type" yaml:"type"`
	Source   string `json:"source" yaml:"source"`
}

// CapabilityMap maps an API name to its capability entry. Supplied by
// the host at call time; config may seed one for standalone use.
type CapabilityMap map[string]Capability

// Behavior is the derived, per-request view of a profile. It is computed
// once per request and never persisted.
type Behavior struct {
	Family           Family
	SelectedBackend  string
	WireAPIType      string
	CompletionSource string
}

// ConfigError reports an unresolvable profile. It is fatal to the
// request: the caller must surface "no usable connection profile" and
// abort without partial resolution.
type ConfigError struct {
	Reason string
	API    string
}

func (e *ConfigError) Error() string {
	if e.API != "" {
		return fmt.Sprintf("%s: api %q", e.Reason, e.API)
	}
	return e.Reason
}

// Resolve derives the Behavior for a profile. The profile's api key must
// exist in caps or resolution fails with a *ConfigError.
//
// The family is chat iff the capability entry's selected backend equals
// the chat-completion marker. An explicit profile mode overrides the
// derived family for downstream branching, but the wire API type and
// completion source always come from the capability entry.
func Resolve(p ConnectionProfile, caps CapabilityMap) (Behavior, error) {
	cap, ok := caps[p.API]
	if !ok {
		return Behavior{}, &ConfigError{Reason: "unresolved-api", API: p.API}
	}

	family := FamilyText
	if cap.Selected == chatCompletionMarker {
		family = FamilyChat
	}

	switch strings.ToLower(strings.TrimSpace(p.Mode)) {
	case string(FamilyChat):
		family = FamilyChat
	case string(FamilyText):
		family = FamilyText
	}

	return Behavior{
		Family:           family,
		SelectedBackend:  cap.Selected,
		WireAPIType:      cap.Type,
		CompletionSource: cap.Source,
	}, nil
}
