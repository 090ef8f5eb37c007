// Package charfield defines the closed schema of authorable character
// fields.
//
// The host stores characters as loosely-typed documents addressed by
// dotted paths. Rather than arbitrary path traversal, this package keeps
// a fixed allow-list of field keys mapped to typed accessors; unknown
// keys are rejected.
package charfield

import (
	"fmt"
	"sort"
)

// Key identifies one authorable character field. The string values match
// the host's dotted paths so panel requests need no translation.
type Key string

const (
	KeyDescription             Key = "description"
	KeyPersonality             Key = "personality"
	KeyScenario                Key = "scenario"
	KeyFirstMes                Key = "first_mes"
	KeyMesExample              Key = "mes_example"
	KeySystemPrompt            Key = "data.system_prompt"
	KeyPostHistoryInstructions Key = "data.post_history_instructions"
	KeyCreatorNotes            Key = "data.creator_notes"
)

// Character is the authorable view of one character document.
type Character struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Personality string `json:"personality"`
	Scenario    string `json:"scenario"`
	FirstMes    string `json:"first_mes"`
	MesExample  string `json:"mes_example"`

	Data CharacterData `json:"data"`
}

// CharacterData holds the nested v2-card fields.
type CharacterData struct {
	SystemPrompt            string `json:"system_prompt"`
	PostHistoryInstructions string `json:"post_history_instructions"`
	CreatorNotes            string `json:"creator_notes"`
}

type accessor struct {
	get func(c *Character) string
	set func(c *Character, v string)
}

var accessors = map[Key]accessor{
	KeyDescription: {
		get: func(c *Character) string { return c.Description },
		set: func(c *Character, v string) { c.Description = v },
	},
	KeyPersonality: {
		get: func(c *Character) string { return c.Personality },
		set: func(c *Character, v string) { c.Personality = v },
	},
	KeyScenario: {
		get: func(c *Character) string { return c.Scenario },
		set: func(c *Character, v string) { c.Scenario = v },
	},
	KeyFirstMes: {
		get: func(c *Character) string { return c.FirstMes },
		set: func(c *Character, v string) { c.FirstMes = v },
	},
	KeyMesExample: {
		get: func(c *Character) string { return c.MesExample },
		set: func(c *Character, v string) { c.MesExample = v },
	},
	KeySystemPrompt: {
		get: func(c *Character) string { return c.Data.SystemPrompt },
		set: func(c *Character, v string) { c.Data.SystemPrompt = v },
	},
	KeyPostHistoryInstructions: {
		get: func(c *Character) string { return c.Data.PostHistoryInstructions },
		set: func(c *Character, v string) { c.Data.PostHistoryInstructions = v },
	},
	KeyCreatorNotes: {
		get: func(c *Character) string { return c.Data.CreatorNotes },
		set: func(c *Character, v string) { c.Data.CreatorNotes = v },
	},
}

// Get returns the value of a field, rejecting unknown keys.
func Get(c *Character, k Key) (string, error) {
	a, ok := accessors[k]
	if !ok {
		return "", fmt.Errorf("unknown character field %q", k)
	}
	return a.get(c), nil
}

// Set writes a field value, rejecting unknown keys.
func Set(c *Character, k Key, v string) error {
	a, ok := accessors[k]
	if !ok {
		return fmt.Errorf("unknown character field %q", k)
	}
	a.set(c, v)
	return nil
}

// Keys returns all authorable field keys in stable order.
func Keys() []Key {
	out := make([]Key, 0, len(accessors))
	for k := range accessors {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
