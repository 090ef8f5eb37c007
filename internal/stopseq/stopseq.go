// Package stopseq merges stop sequences from every source that can
// declare one: the connection profile, the effective instruct template,
// and the protocol-mandatory defaults of specific backends.
package stopseq

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/greenroom-ai/greenroom/internal/instruct"
)

// defaultStops is the fixed stop set appended unconditionally for the
// mandatory-wrap backend. It guards against incomplete user instruct
// configs leaking unterminated generations.
var defaultStops = []string{
	"<|im_end|>",
	"<|im_start|>",
	"</s>",
	"<|endoftext|>",
	"<|eot_id|>",
}

// Fields is the merged stop set, exposed under two legacy-compatible
// keys. Both carry the identical list; transport consumers vary in
// which key they read.
type Fields struct {
	Stop            []string `json:"stop,omitempty"`
	StoppingStrings []string `json:"stopping_strings,omitempty"`
}

// Empty reports whether the merge produced no stop strings. Transports
// must omit both keys entirely when true.
func (f Fields) Empty() bool { return len(f.Stop) == 0 }

// Merge combines profile stops, instruct-derived stops, and backend
// defaults into one deduplicated ordered list.
//
// rawProfileStops may be a native []string, a []any from decoded JSON,
// or a JSON-encoded array string. Malformed JSON is logged at Warn and
// treated as empty; Merge never fails.
func Merge(wireAPIType string, rawProfileStops any, instructEnabled bool, cfg instruct.Config, logger *slog.Logger) Fields {
	if logger == nil {
		logger = slog.Default()
	}

	stops := parseProfileStops(rawProfileStops, logger)

	if instructEnabled {
		// Empties are filtered in the final pass.
		stops = append(stops, cfg.StopSequence, cfg.OutputSuffix)
	}

	if wireAPIType == instruct.MandatoryWrapAPIType {
		stops = append(stops, defaultStops...)
	}

	merged := dedupe(stops)
	if len(merged) == 0 {
		return Fields{}
	}
	return Fields{Stop: merged, StoppingStrings: merged}
}

// parseProfileStops extracts string entries from the profile's raw
// stop-strings field in whatever shape the host delivered it.
func parseProfileStops(raw any, logger *slog.Logger) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case []string:
		return append([]string(nil), v...)
	case []any:
		var out []string
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		var out []string
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			logger.Warn("malformed stop-strings in connection profile, ignoring",
				"raw", v,
				"error", err,
			)
			return nil
		}
		return out
	default:
		logger.Warn("unexpected stop-strings type in connection profile, ignoring",
			"type", fmt.Sprintf("%T", raw),
		)
		return nil
	}
}

// dedupe drops empty entries and duplicates, preserving first-seen order.
func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
