// Package compose assembles the exact request content sent to a
// completion backend for either protocol family.
//
// The assembler windows the conversation history, strips content that
// would echo the new instruction, surfaces the pinned preferred draft
// as its own block, and renders either an OpenAI-style message array or
// a single instruct-wrapped prompt string.
package compose

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/greenroom-ai/greenroom/internal/instruct"
	"github.com/greenroom-ai/greenroom/internal/session"
)

// History window and response budget constants.
const (
	// MaxHistoryCount bounds the user-configured history window.
	MaxHistoryCount = 20

	// tokensPerSentence is a fixed per-sentence token estimate.
	tokensPerSentence = 24

	// budgetSafetyMargin inflates the estimate so the model is not cut
	// off mid-sentence.
	budgetSafetyMargin = 1.25

	// defaultTokenBudget is the floor when no sane estimate exists.
	defaultTokenBudget = 300
)

// Message is one entry of a chat-family request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params carries everything the assembler needs for one request.
type Params struct {
	SystemPrompt string
	Turns        []session.Turn
	Preferred    *session.Preferred
	Instruction  string

	HistoryCount          int
	Paragraphs            int
	SentencesPerParagraph int

	// Prefill is the optional assistant prefill (the profile's
	// start-reply-with) used to prime text completions.
	Prefill string
}

var (
	// Runs of whitespace that are not newlines collapse to one space.
	interiorSpaceRe = regexp.MustCompile(`[^\S\n]+`)
	// Trailing spaces before a newline are noise from editors.
	trailingSpaceRe = regexp.MustCompile(` +\n`)
)

// Normalize canonicalizes content for equality comparisons: carriage
// returns stripped, runs of non-newline whitespace collapsed to a single
// space, trailing whitespace before newlines removed, and the whole
// string trimmed.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = interiorSpaceRe.ReplaceAllString(s, " ")
	s = trailingSpaceRe.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

// HistoryWindow selects the transcript slice to send as history.
//
// Rules, in order: clamp the window to [0, MaxHistoryCount] and take the
// last N turns; unconditionally drop a trailing user turn (the new
// instruction travels separately and must never be duplicated); drop any
// turn whose normalized content equals the normalized instruction (the
// regenerate echo case); drop the pinned preferred turn, matched by
// timestamp or by normalized content — it is surfaced via its own block,
// not as ordinary history.
func HistoryWindow(turns []session.Turn, historyCount int, instruction string, preferred *session.Preferred) []session.Turn {
	n := historyCount
	if n < 0 {
		n = 0
	}
	if n > MaxHistoryCount {
		n = MaxHistoryCount
	}

	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}

	if len(turns) > 0 && turns[len(turns)-1].Role == session.RoleUser {
		turns = turns[:len(turns)-1]
	}

	normInstruction := Normalize(instruction)
	var normPreferred string
	if preferred != nil {
		normPreferred = Normalize(preferred.Text)
	}

	var out []session.Turn
	for _, t := range turns {
		norm := Normalize(t.Content)
		if norm == normInstruction {
			continue
		}
		if preferred != nil && (t.TS == preferred.TS || norm == normPreferred) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// historyBlock renders retained turns as a linear labeled transcript.
func historyBlock(turns []session.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Previous exchanges:\n")
	for i, t := range turns {
		label := "Writer"
		if t.Role == session.RoleAssistant {
			label = "Assistant"
		}
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", label, t.Content)
	}
	return b.String()
}

// preferredBlock renders the pinned draft directive.
func preferredBlock(p *session.Preferred) string {
	if p == nil || strings.TrimSpace(p.Text) == "" {
		return ""
	}
	return "Preferred draft — keep its content and tone as close to verbatim as possible:\n" + p.Text
}

// formattingDirective renders the fixed paragraph/sentence instruction.
func formattingDirective(paragraphs, sentences int) string {
	if paragraphs <= 0 {
		paragraphs = 1
	}
	if sentences <= 0 {
		sentences = 4
	}
	return fmt.Sprintf("Write %d paragraph(s) of roughly %d sentence(s) each. Output only the text itself, with no preamble or commentary.", paragraphs, sentences)
}

// instructionBlock combines the preferred directive, formatting
// directives, and the literal instruction. Shared by both families so
// the instruction surface is identical regardless of protocol.
func instructionBlock(p Params) string {
	return joinBlocks(
		preferredBlock(p.Preferred),
		formattingDirective(p.Paragraphs, p.SentencesPerParagraph),
		p.Instruction,
	)
}

// joinBlocks joins non-empty blocks with blank lines.
func joinBlocks(blocks ...string) string {
	var kept []string
	for _, b := range blocks {
		if b != "" {
			kept = append(kept, b)
		}
	}
	return strings.Join(kept, "\n\n")
}

// ChatMessages assembles the chat-family message array: one system
// message holding the rendered system prompt, one user message holding
// the history block, preferred directive, formatting directives, and
// the literal instruction.
func ChatMessages(p Params) []Message {
	history := HistoryWindow(p.Turns, p.HistoryCount, p.Instruction, p.Preferred)
	user := joinBlocks(historyBlock(history), instructionBlock(p))

	return []Message{
		{Role: "system", Content: p.SystemPrompt},
		{Role: "user", Content: user},
	}
}

// TextPrompt assembles the text-family prompt string.
//
// With instruct enabled and a complete template, the system content is
// wrapped in the system sequences (bracketed by the optional wrap
// prefix/suffix), each retained history turn is wrapped by role in
// original order, the instruction block is wrapped as input, and the
// output sequence (plus any prefill) is opened to prime the completion.
// An incomplete template falls back to linear concatenation rather than
// failing; with instruct disabled the prompt is the plain newline-joined
// form throughout.
func TextPrompt(p Params, cfg instruct.Config, instructEnabled bool) string {
	history := HistoryWindow(p.Turns, p.HistoryCount, p.Instruction, p.Preferred)

	if !instructEnabled || !cfg.Complete() {
		return linearPrompt(p, history)
	}

	var b strings.Builder

	if p.SystemPrompt != "" {
		b.WriteString(cfg.WrapPrefix)
		b.WriteString(wrapTurn(cfg.SystemSequence, cfg.SystemSuffix, p.SystemPrompt))
		b.WriteString(cfg.WrapSuffix)
	}

	for _, t := range history {
		if t.Role == session.RoleAssistant {
			b.WriteString(wrapTurn(cfg.OutputSequence, cfg.OutputSuffix, t.Content))
		} else {
			b.WriteString(wrapTurn(cfg.InputSequence, cfg.InputSuffix, t.Content))
		}
	}

	b.WriteString(wrapTurn(cfg.InputSequence, cfg.InputSuffix, instructionBlock(p)))

	// Open the assistant turn to prime the completion.
	b.WriteString(cfg.OutputSequence)
	b.WriteString("\n")
	b.WriteString(p.Prefill)

	return b.String()
}

// wrapTurn renders one sequence-delimited turn.
func wrapTurn(sequence, suffix, content string) string {
	return sequence + "\n" + content + suffix + "\n"
}

// linearPrompt is the unwrapped fallback: newline-joined system prompt,
// labeled history, preferred block, directives, and instruction, with
// the prefill appended.
func linearPrompt(p Params, history []session.Turn) string {
	prompt := joinBlocks(p.SystemPrompt, historyBlock(history), instructionBlock(p))
	if p.Prefill != "" {
		prompt += "\n" + p.Prefill
	}
	return prompt
}

// ResponseTokenBudget derives the target token count for a response
// from the configured paragraph and sentence counts, inflated by the
// safety margin and floored to the default when the computed value is
// not a finite positive number.
func ResponseTokenBudget(paragraphs, sentencesPerParagraph int) int {
	est := float64(paragraphs) * float64(sentencesPerParagraph) * tokensPerSentence * budgetSafetyMargin
	if math.IsNaN(est) || math.IsInf(est, 0) || est <= 0 {
		return defaultTokenBudget
	}
	return int(est)
}
