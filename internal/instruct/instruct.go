// Package instruct derives the effective instruct template for a request.
//
// Text-completion backends need literal token sequences marking system,
// user, and assistant turn boundaries. The effective template is layered
// from the global instruct config and an optional named preset, with a
// protocol-mandatory fallback for the one backend that cannot function
// without wrapping.
package instruct

import (
	"strings"

	"github.com/greenroom-ai/greenroom/internal/profile"
)

// MandatoryWrapAPIType is the wire API type that requires instruct
// wrapping to function correctly. When the effective config leaves any
// of the three mandatory sequences empty for this backend, the fixed
// fallback template is injected rather than sending unwrapped prompts.
const MandatoryWrapAPIType = "koboldcpp"

// Config holds the literal token sequences for one instruct template.
// Missing roles are fail-soft empty strings, except under the
// mandatory-wrap fallback rule.
type Config struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	SystemSequence string `json:"system_sequence" yaml:"system_sequence"`
	SystemSuffix   string `json:"system_suffix" yaml:"system_suffix"`
	InputSequence  string `json:"input_sequence" yaml:"input_sequence"`
	InputSuffix    string `json:"input_suffix" yaml:"input_suffix"`
	OutputSequence string `json:"output_sequence" yaml:"output_sequence"`
	OutputSuffix   string `json:"output_suffix" yaml:"output_suffix"`
	StopSequence   string `json:"stop_sequence" yaml:"stop_sequence"`

	// WrapPrefix and WrapSuffix optionally bracket the system block.
	WrapPrefix string `json:"wrap_prefix" yaml:"wrap_prefix"`
	WrapSuffix string `json:"wrap_suffix" yaml:"wrap_suffix"`
}

// fallbackTemplate is the complete fixed template injected for the
// mandatory-wrap backend (ChatML control tokens).
var fallbackTemplate = Config{
	SystemSequence: "<|im_start|>system",
	SystemSuffix:   "<|im_end|>",
	InputSequence:  "<|im_start|>user",
	InputSuffix:    "<|im_end|>",
	OutputSequence: "<|im_start|>assistant",
	OutputSuffix:   "<|im_end|>",
	StopSequence:   "<|im_start|>",
}

// Resolved is the outcome of template resolution: the effective config,
// the preset name that matched (empty when only the global config
// applied, used for labeling), and whether instruct mode is enabled.
type Resolved struct {
	Config  Config
	Name    string
	Enabled bool
}

// Resolve layers the effective instruct template for a profile.
//
// Name resolution tries the profile's explicit instruct name first, then
// its preset name; the first name with a preset entry wins. The matched
// preset overlays the global config field by field (non-empty fields
// only). Instruct is enabled if the global config says so, the profile's
// instruct-state is "true" (case-insensitive), or the profile names a
// non-empty instruct template.
func Resolve(global Config, p profile.ConnectionProfile, presets map[string]Config, wireAPIType string) Resolved {
	cfg := global
	name := ""

	for _, candidate := range []string{p.Instruct, p.Preset} {
		if candidate == "" {
			continue
		}
		if preset, ok := presets[candidate]; ok {
			cfg = overlay(global, preset)
			name = candidate
			break
		}
	}

	enabled := global.Enabled ||
		strings.EqualFold(strings.TrimSpace(p.InstructState), "true") ||
		p.Instruct != ""

	if wireAPIType == MandatoryWrapAPIType && !cfg.complete() {
		cfg = applyFallback(cfg)
	}

	cfg.Enabled = enabled
	return Resolved{Config: cfg, Name: name, Enabled: enabled}
}

// complete reports whether all three mandatory sequences are populated.
func (c Config) complete() bool {
	return c.SystemSequence != "" && c.InputSequence != "" && c.OutputSequence != ""
}

// Complete reports whether the config can drive instruct-wrapped
// assembly. Assembly falls back to linear concatenation when false.
func (c Config) Complete() bool { return c.complete() }

// overlay returns base with every non-empty string field of top layered
// on. The Enabled flag is ORed so a preset can switch instruct on but
// not off.
func overlay(base, top Config) Config {
	out := base
	out.Enabled = base.Enabled || top.Enabled
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&out.SystemSequence, top.SystemSequence},
		{&out.SystemSuffix, top.SystemSuffix},
		{&out.InputSequence, top.InputSequence},
		{&out.InputSuffix, top.InputSuffix},
		{&out.OutputSequence, top.OutputSequence},
		{&out.OutputSuffix, top.OutputSuffix},
		{&out.StopSequence, top.StopSequence},
		{&out.WrapPrefix, top.WrapPrefix},
		{&out.WrapSuffix, top.WrapSuffix},
	} {
		if f.src != "" {
			*f.dst = f.src
		}
	}
	return out
}

// applyFallback injects the complete fixed template wholesale. Partial
// user templates are replaced rather than patched so the result is
// deterministic and internally consistent.
func applyFallback(cfg Config) Config {
	out := fallbackTemplate
	out.Enabled = cfg.Enabled
	out.WrapPrefix = cfg.WrapPrefix
	out.WrapSuffix = cfg.WrapSuffix
	return out
}
