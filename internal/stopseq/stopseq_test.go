package stopseq

import (
	"reflect"
	"testing"

	"github.com/greenroom-ai/greenroom/internal/instruct"
)

func TestMerge_ProfileOnly(t *testing.T) {
	// JSON-encoded profile stops, instruct disabled, generic backend.
	f := Merge("generic", `["STOP"]`, false, instruct.Config{}, nil)

	want := []string{"STOP"}
	if !reflect.DeepEqual(f.Stop, want) {
		t.Errorf("stop = %v, want %v", f.Stop, want)
	}
	if !reflect.DeepEqual(f.StoppingStrings, want) {
		t.Errorf("stopping_strings = %v, want %v", f.StoppingStrings, want)
	}
}

func TestMerge_MalformedJSONRecovered(t *testing.T) {
	f := Merge("generic", `["unterminated`, false, instruct.Config{}, nil)
	if !f.Empty() {
		t.Errorf("malformed JSON should yield empty fields, got %v", f.Stop)
	}
}

func TestMerge_NativeSlices(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want []string
	}{
		{"string slice", []string{"a", "b"}, []string{"a", "b"}},
		{"any slice with junk", []any{"a", 7, "", "b"}, []string{"a", "b"}},
		{"nil", nil, nil},
		{"unexpected type", 42, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Merge("generic", tt.raw, false, instruct.Config{}, nil)
			if !reflect.DeepEqual(f.Stop, tt.want) {
				t.Errorf("stop = %v, want %v", f.Stop, tt.want)
			}
		})
	}
}

func TestMerge_InstructStops(t *testing.T) {
	cfg := instruct.Config{StopSequence: "<|im_start|>", OutputSuffix: "<|im_end|>"}

	f := Merge("generic", nil, true, cfg, nil)
	want := []string{"<|im_start|>", "<|im_end|>"}
	if !reflect.DeepEqual(f.Stop, want) {
		t.Errorf("stop = %v, want %v", f.Stop, want)
	}

	// Disabled instruct contributes nothing.
	f = Merge("generic", nil, false, cfg, nil)
	if !f.Empty() {
		t.Errorf("disabled instruct should contribute nothing, got %v", f.Stop)
	}
}

func TestMerge_EmptyInstructSequencesFiltered(t *testing.T) {
	f := Merge("generic", `["STOP"]`, true, instruct.Config{}, nil)
	want := []string{"STOP"}
	if !reflect.DeepEqual(f.Stop, want) {
		t.Errorf("stop = %v, want %v", f.Stop, want)
	}
}

func TestMerge_BackendDefaultsAppended(t *testing.T) {
	f := Merge(instruct.MandatoryWrapAPIType, nil, false, instruct.Config{}, nil)
	if len(f.Stop) != len(defaultStops) {
		t.Fatalf("got %d stops, want %d", len(f.Stop), len(defaultStops))
	}
	if !reflect.DeepEqual(f.Stop, defaultStops) {
		t.Errorf("stop = %v, want default set %v", f.Stop, defaultStops)
	}
}

func TestMerge_DedupePreservesFirstSeenOrder(t *testing.T) {
	cfg := instruct.Config{StopSequence: "B", OutputSuffix: "A"}

	f := Merge("generic", []string{"A", "B", "A"}, true, cfg, nil)
	want := []string{"A", "B"}
	if !reflect.DeepEqual(f.Stop, want) {
		t.Errorf("stop = %v, want %v", f.Stop, want)
	}
}

func TestMerge_NeverEmitsEmptiesOrDuplicates(t *testing.T) {
	raws := []any{
		`["", "x", "x", ""]`,
		[]any{"", nil, "x", "x"},
		`{"not": "an array"}`,
	}
	for _, raw := range raws {
		f := Merge(instruct.MandatoryWrapAPIType, raw, true, instruct.Config{OutputSuffix: "<|im_end|>"}, nil)
		seen := map[string]bool{}
		for _, s := range f.Stop {
			if s == "" {
				t.Errorf("empty string in output for raw %v", raw)
			}
			if seen[s] {
				t.Errorf("duplicate %q in output for raw %v", s, raw)
			}
			seen[s] = true
		}
	}
}
