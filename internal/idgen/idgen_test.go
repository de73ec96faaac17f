package idgen

import (
	"regexp"
	"testing"
)

func TestNewSessionID_Shape(t *testing.T) {
	id, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID() error: %v", err)
	}
	wantLen := len(SessionPrefix) + Length
	if len(id) != wantLen {
		t.Errorf("NewSessionID() length = %d, want %d (id=%q)", len(id), wantLen, id)
	}
	pattern := regexp.MustCompile(`^ses-[a-z0-9]+$`)
	if !pattern.MatchString(id) {
		t.Errorf("NewSessionID() = %q, does not match expected charset pattern", id)
	}
}

func TestNewSessionID_Uniqueness(t *testing.T) {
	const count = 10_000
	seen := make(map[string]struct{}, count)
	for i := 0; i < count; i++ {
		id, err := NewSessionID()
		if err != nil {
			t.Fatalf("NewSessionID() error on iteration %d: %v", i, err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate ID after %d generations: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestNewWithPrefix(t *testing.T) {
	prefix := "job-"
	id, err := NewWithPrefix(prefix)
	if err != nil {
		t.Fatalf("NewWithPrefix(%q) error: %v", prefix, err)
	}
	if id[:len(prefix)] != prefix {
		t.Errorf("NewWithPrefix(%q) = %q, want prefix %q", prefix, id, prefix)
	}
	if len(id) != len(prefix)+Length {
		t.Errorf("NewWithPrefix(%q) length = %d, want %d", prefix, len(id), len(prefix)+Length)
	}
}
