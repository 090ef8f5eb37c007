package dispatch

import "github.com/greenroom-ai/greenroom/internal/profile"

// maxModelScanDepth bounds the last-resort deep scan of host settings.
const maxModelScanDepth = 4

// resolveModel picks the model id for a payload by an explicit, ordered
// list of strategies: the host's ModelSource contract, the profile's own
// model field, then a bounded best-effort scan of the untyped host
// settings object. When nothing resolves the model field is omitted and
// the backend's default applies.
func (d *Dispatcher) resolveModel(behavior profile.Behavior, p profile.ConnectionProfile) string {
	if d.models != nil {
		if m, ok := d.models.ModelFor(behavior.SelectedBackend); ok && m != "" {
			return m
		}
	}

	if p.Model != "" {
		return p.Model
	}

	if d.hostSettings != nil {
		if m, ok := scanForModel(d.hostSettings, maxModelScanDepth); ok {
			return m
		}
	}

	return ""
}

// scanForModel walks an untyped settings object looking for a non-empty
// string under a "model" key. Depth is hard-bounded; map values are
// visited, other container types are ignored. Order within a map is not
// deterministic, so this is strictly a last resort behind the contract
// strategies above.
func scanForModel(v any, depth int) (string, bool) {
	if depth < 0 {
		return "", false
	}

	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}

	if s, ok := m["model"].(string); ok && s != "" {
		return s, true
	}

	for _, child := range m {
		if s, ok := scanForModel(child, depth-1); ok {
			return s, true
		}
	}
	return "", false
}
