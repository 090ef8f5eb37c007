package charfield

import "testing"

func TestGetSet_RoundTrip(t *testing.T) {
	c := &Character{}

	for _, k := range Keys() {
		want := "value for " + string(k)
		if err := Set(c, k, want); err != nil {
			t.Fatalf("set %q: %v", k, err)
		}
		got, err := Get(c, k)
		if err != nil {
			t.Fatalf("get %q: %v", k, err)
		}
		if got != want {
			t.Errorf("%q = %q, want %q", k, got, want)
		}
	}
}

func TestNestedKeysReachData(t *testing.T) {
	c := &Character{}
	if err := Set(c, KeySystemPrompt, "be terse"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if c.Data.SystemPrompt != "be terse" {
		t.Errorf("nested field not written: %+v", c.Data)
	}
}

func TestUnknownKeysRejected(t *testing.T) {
	c := &Character{}

	if _, err := Get(c, "data.secret_path"); err == nil {
		t.Error("get of unknown key should fail")
	}
	if err := Set(c, "avatar", "x"); err == nil {
		t.Error("set of unknown key should fail")
	}
}

func TestKeys_StableOrder(t *testing.T) {
	a, b := Keys(), Keys()
	if len(a) != len(accessors) {
		t.Fatalf("Keys() returned %d entries, want %d", len(a), len(accessors))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("Keys() order is not stable")
		}
	}
}
