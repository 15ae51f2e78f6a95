package feed

import (
	"strconv"
	"strings"
	"testing"
)

func TestSeenSetEvictsOldestFirst(t *testing.T) {
	s := NewSeenSet(3)
	for _, k := range []string{"a", "b", "c"} {
		if !s.Add(k) {
			t.Fatalf("Add(%q) = false on first insert", k)
		}
	}
	if s.Add("b") {
		t.Fatal("Add(b) = true for a present key")
	}
	s.Add("d")
	if s.Contains("a") {
		t.Fatal("oldest key a should have been evicted")
	}
	if got := strings.Join(s.Keys(), ","); got != "b,c,d" {
		t.Fatalf("Keys() = %q, want b,c,d", got)
	}
	if s.Len() != 3 || s.Cap() != 3 {
		t.Fatalf("Len/Cap = %d/%d", s.Len(), s.Cap())
	}
}

func TestSeenSetBoundedOverLongRun(t *testing.T) {
	s := NewSeenSet(DefaultSeenCapacity)
	for i := 0; i < 1000; i++ {
		s.Add(strconv.Itoa(i))
	}
	if s.Len() != DefaultSeenCapacity {
		t.Fatalf("Len = %d, want %d", s.Len(), DefaultSeenCapacity)
	}
	if !s.Contains("999") || s.Contains("899") {
		t.Fatal("expected only the newest 100 keys to remain")
	}
}
