package idgen

import (
	"strings"
	"testing"
)

func TestNanoID_Length(t *testing.T) {
	gen := NanoID(12)
	id := gen()
	if len(id) != 12 {
		t.Errorf("NanoID length: got %d, want 12", len(id))
	}
}

func TestNanoID_Unique(t *testing.T) {
	gen := NanoID(16)
	seen := make(map[string]bool)
	for range 1000 {
		id := gen()
		if seen[id] {
			t.Fatalf("NanoID collision: %s", id)
		}
		seen[id] = true
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for range 100 {
		next := gen()
		if next <= prev {
			t.Fatalf("UUIDv7 not monotonic: %s <= %s", next, prev)
		}
		prev = next
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("ses_", Default)
	id := gen()
	if !strings.HasPrefix(id, "ses_") {
		t.Errorf("prefixed id %q missing prefix", id)
	}
	if _, err := Parse(strings.TrimPrefix(id, "ses_")); err != nil {
		t.Errorf("suffix not a UUID: %v", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Error("Parse accepted garbage")
	}
}
