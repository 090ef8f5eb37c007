package profile

import (
	"errors"
	"testing"
)

func TestResolve_Families(t *testing.T) {
	caps := CapabilityMap{
		"main":  {Selected: "openai", Type: "openai", Source: "cloud"},
		"local": {Selected: "textgen", Type: "koboldcpp", Source: "local"},
	}

	tests := []struct {
		name       string
		prof       ConnectionProfile
		wantFamily Family
		wantWire   string
	}{
		{
			name:       "chat marker selects chat family",
			prof:       ConnectionProfile{ID: "p1", API: "main"},
			wantFamily: FamilyChat,
			wantWire:   "openai",
		},
		{
			name:       "anything else is text family",
			prof:       ConnectionProfile{ID: "p2", API: "local"},
			wantFamily: FamilyText,
			wantWire:   "koboldcpp",
		},
		{
			name:       "explicit mode overrides derived family",
			prof:       ConnectionProfile{ID: "p3", API: "main", Mode: "text"},
			wantFamily: FamilyText,
			wantWire:   "openai",
		},
		{
			name:       "mode is case-insensitive",
			prof:       ConnectionProfile{ID: "p4", API: "local", Mode: " Chat "},
			wantFamily: FamilyChat,
			wantWire:   "koboldcpp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Resolve(tt.prof, caps)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b.Family != tt.wantFamily {
				t.Errorf("family = %q, want %q", b.Family, tt.wantFamily)
			}
			if b.WireAPIType != tt.wantWire {
				t.Errorf("wire api = %q, want %q", b.WireAPIType, tt.wantWire)
			}
		})
	}
}

func TestResolve_UnknownAPI(t *testing.T) {
	caps := CapabilityMap{"known": {Selected: "openai"}}

	_, err := Resolve(ConnectionProfile{ID: "p", API: "missing"}, caps)
	if err == nil {
		t.Fatal("expected error for unknown api")
	}

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
	if cfgErr.Reason != "unresolved-api" {
		t.Errorf("reason = %q, want %q", cfgErr.Reason, "unresolved-api")
	}
}

func TestResolve_EmptyMap(t *testing.T) {
	_, err := Resolve(ConnectionProfile{ID: "p", API: "a"}, nil)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
}
