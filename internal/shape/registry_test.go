package shape

import "testing"

func TestBuiltinProfilesRegistered(t *testing.T) {
	for _, key := range []string{"raw", "v3", "v4", "auto"} {
		if _, ok := Resolve(key); !ok {
			t.Fatalf("expected builtin shape %s", key)
		}
	}
	if _, ok := Resolve(" AUTO "); !ok {
		t.Fatalf("lookup should normalize key")
	}
}

func TestRegisterRejectsDuplicatesAndEmptyPaths(t *testing.T) {
	r := newRegistry()
	if err := r.register(Profile{Key: "x", Paths: []string{"a"}}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.register(Profile{Key: "X", Paths: []string{"b"}}); err == nil {
		t.Fatalf("duplicate key should fail")
	}
	if err := r.register(Profile{Key: "y", Paths: []string{" ", ""}}); err == nil {
		t.Fatalf("profile without paths should fail")
	}
	if err := r.register(Profile{Paths: []string{"a"}}); err == nil {
		t.Fatalf("profile without key should fail")
	}
}

func TestPathsForPrefersOverride(t *testing.T) {
	paths, err := PathsFor("v3", []string{" payload.items ", ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 1 || paths[0] != "payload.items" {
		t.Fatalf("override should win, got %v", paths)
	}
}

func TestPathsForDefaultsToAuto(t *testing.T) {
	paths, err := PathsFor("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	auto, _ := Resolve(DefaultKey())
	if len(paths) != len(auto.Paths) {
		t.Fatalf("expected auto paths, got %v", paths)
	}
	if _, err := PathsFor("missing", nil); err == nil {
		t.Fatalf("unknown shape should fail")
	}
}

func TestListSortedByKey(t *testing.T) {
	keys := Keys()
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Fatalf("keys not sorted: %v", keys)
		}
	}
}
