// Package session holds the per-character conversation transcript and
// its mutation rules.
//
// A session is an ordered sequence of user/assistant turns plus at most
// one pinned "preferred" assistant turn. Insertion order is chronological
// and authoritative; timestamps are identity keys for the panel, never a
// sort key. Turns are intended to alternate but nothing enforces it, so
// every algorithm here tolerates non-alternating sequences.
package session

import (
	"fmt"
	"time"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one transcript entry. TS is a millisecond timestamp used as
// the turn's identity; collisions within the same session bump by one
// so it stays unique and monotonic.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	TS      int64  `json:"ts"`
}

// Preferred pins one assistant turn as a draft to preserve near-verbatim.
type Preferred struct {
	TS   int64  `json:"ts"`
	Text string `json:"text"`
}

// Session is the transcript for one character. Mutate it only through
// its methods; external callers never touch Turns or Preferred directly.
type Session struct {
	Key       string     `json:"key"`
	Turns     []Turn     `json:"turns"`
	Preferred *Preferred `json:"preferred,omitempty"`

	lastTS int64
}

// StateError rejects an operation that makes no sense in the session's
// current state (regenerate with no assistant turn, edit of an unknown
// turn). The session is never mutated when one is returned.
type StateError struct {
	Op     string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// New creates an empty session for the given character key.
func New(key string) *Session {
	return &Session{Key: key}
}

// nextTS returns a unique, monotonically increasing timestamp.
func (s *Session) nextTS() int64 {
	ts := time.Now().UnixMilli()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	return ts
}

// syncClock rewinds lastTS to the highest turn timestamp. Called after
// loading a persisted session so new timestamps stay monotonic.
func (s *Session) syncClock() {
	s.lastTS = 0
	for _, t := range s.Turns {
		if t.TS > s.lastTS {
			s.lastTS = t.TS
		}
	}
}

// AppendUser appends a user turn and returns it.
func (s *Session) AppendUser(content string) Turn {
	return s.append(RoleUser, content)
}

// AppendAssistant appends an assistant turn and returns it.
func (s *Session) AppendAssistant(content string) Turn {
	return s.append(RoleAssistant, content)
}

func (s *Session) append(role, content string) Turn {
	t := Turn{Role: role, Content: content, TS: s.nextTS()}
	s.Turns = append(s.Turns, t)
	return t
}

// index returns the position of the turn with the given timestamp, or -1.
func (s *Session) index(ts int64) int {
	for i, t := range s.Turns {
		if t.TS == ts {
			return i
		}
	}
	return -1
}

// Edit replaces a turn's content in place. The timestamp is unchanged
// so the panel keeps a stable identity for the turn.
func (s *Session) Edit(ts int64, content string) error {
	i := s.index(ts)
	if i < 0 {
		return &StateError{Op: "edit", Reason: "no such turn"}
	}
	s.Turns[i].Content = content
	return nil
}

// RegenerateTarget locates the most recent assistant turn by reverse
// scan and returns it along with the instruction to reuse: the content
// of the most recent user turn preceding it. No new user turn is ever
// appended for a regenerate. With no assistant turn present the
// operation is rejected and nothing is mutated.
func (s *Session) RegenerateTarget() (Turn, string, error) {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role != RoleAssistant {
			continue
		}
		instruction := ""
		for j := i - 1; j >= 0; j-- {
			if s.Turns[j].Role == RoleUser {
				instruction = s.Turns[j].Content
				break
			}
		}
		return s.Turns[i], instruction, nil
	}
	return Turn{}, "", &StateError{Op: "regenerate", Reason: "no assistant turn to regenerate"}
}

// ReplaceContent swaps in new content for an existing turn, used for
// regenerate-replace of the latest assistant turn.
func (s *Session) ReplaceContent(ts int64, content string) error {
	i := s.index(ts)
	if i < 0 {
		return &StateError{Op: "replace", Reason: "no such turn"}
	}
	s.Turns[i].Content = content
	return nil
}

// Delete removes a turn, returning how many turns were removed.
//
// Cascade rule: deleting an assistant turn also deletes the immediately
// preceding turn iff that turn is a user turn — a user prompt with no
// kept response is noise. Deleting any other turn removes only itself.
// If the deleted assistant turn was pinned, the pin is cleared in the
// same transaction.
func (s *Session) Delete(ts int64) (int, error) {
	i := s.index(ts)
	if i < 0 {
		return 0, &StateError{Op: "delete", Reason: "no such turn"}
	}

	start, end := i, i+1
	if s.Turns[i].Role == RoleAssistant && i > 0 && s.Turns[i-1].Role == RoleUser {
		start = i - 1
	}

	if s.Preferred != nil && s.Turns[i].TS == s.Preferred.TS {
		s.Preferred = nil
	}

	s.Turns = append(s.Turns[:start], s.Turns[end:]...)
	return end - start, nil
}

// TogglePreferred pins an assistant turn as the preferred draft.
// Toggling the already-pinned turn un-pins it; pinning a different turn
// silently replaces the existing pin. At most one pin exists per session.
func (s *Session) TogglePreferred(ts int64) error {
	i := s.index(ts)
	if i < 0 {
		return &StateError{Op: "preferred", Reason: "no such turn"}
	}
	if s.Turns[i].Role != RoleAssistant {
		return &StateError{Op: "preferred", Reason: "only assistant turns can be pinned"}
	}

	if s.Preferred != nil && s.Preferred.TS == ts {
		s.Preferred = nil
		return nil
	}
	s.Preferred = &Preferred{TS: ts, Text: s.Turns[i].Content}
	return nil
}

// Clone returns a deep copy safe to hand outside the mutation surface.
func (s *Session) Clone() *Session {
	out := &Session{Key: s.Key, lastTS: s.lastTS}
	out.Turns = append([]Turn(nil), s.Turns...)
	if s.Preferred != nil {
		p := *s.Preferred
		out.Preferred = &p
	}
	return out
}
