package epoch

import (
	"math"
	"testing"
)

func TestMinimumActiveRevision(t *testing.T) {
	m := NewManager(math.MaxInt64)
	if got := m.MinimumActiveRevision(); got != math.MaxInt64 {
		t.Fatalf("empty tracker: got %d, want MaxInt64", got)
	}

	m.Begin(10)
	m.Begin(4)
	m.Begin(7)
	if got := m.MinimumActiveRevision(); got != 4 {
		t.Fatalf("got %d, want 4", got)
	}

	m.End(4)
	if got := m.MinimumActiveRevision(); got != 7 {
		t.Fatalf("got %d, want 7", got)
	}

	m.End(7)
	m.End(10)
	if got := m.MinimumActiveRevision(); got != math.MaxInt64 {
		t.Fatalf("after draining all: got %d, want MaxInt64", got)
	}
}

func TestDuplicateRevisionsTracked(t *testing.T) {
	m := NewManager(math.MaxInt64)
	m.Begin(5)
	m.Begin(5)
	m.End(5)
	if got := m.MinimumActiveRevision(); got != 5 {
		t.Fatalf("got %d, want 5 (one reference still live)", got)
	}
	m.End(5)
	if got := m.MinimumActiveRevision(); got != math.MaxInt64 {
		t.Fatalf("got %d, want MaxInt64", got)
	}
}
