package update

import (
	"testing"
)

func TestStatusSetsAreDisjointAndCoverTargets(t *testing.T) {
	targets := []string{"a", "b", "c"}
	s := newStatus(targets)

	s.markSucceeded("a")
	s.markFailed("b")
	// c remains pending.

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.succeeded) != 1 || !s.succeeded["a"] {
		t.Fatalf("succeeded = %v, want {a}", s.succeeded)
	}
	if len(s.failed) != 1 || !s.failed["b"] {
		t.Fatalf("failed = %v, want {b}", s.failed)
	}
	if len(s.pending) != 1 || !s.pending["c"] {
		t.Fatalf("pending = %v, want {c}", s.pending)
	}

	union := make(map[string]bool)
	for u := range s.succeeded {
		union[u] = true
	}
	for u := range s.failed {
		union[u] = true
	}
	for u := range s.pending {
		union[u] = true
	}
	if len(union) != len(targets) {
		t.Fatalf("union of sets = %v, want all of %v", union, targets)
	}
}

func TestStatusMarkSucceededClearsFailed(t *testing.T) {
	s := newStatus([]string{"a"})
	s.markFailed("a")
	s.markSucceeded("a")

	succeeded, failed := s.snapshot()
	if len(failed) != 0 {
		t.Fatalf("failed = %v, want empty after a later success", failed)
	}
	if len(succeeded) != 1 || succeeded[0] != "a" {
		t.Fatalf("succeeded = %v, want [a]", succeeded)
	}
}

func TestExponentialSecondsBackoff(t *testing.T) {
	b := &exponentialSeconds{}
	first := b.NextBackOff()
	second := b.NextBackOff()
	if first.Seconds() != 2 {
		t.Errorf("first backoff = %v, want 2s", first)
	}
	if second.Seconds() != 4 {
		t.Errorf("second backoff = %v, want 4s", second)
	}
	b.Reset()
	if got := b.NextBackOff(); got.Seconds() != 2 {
		t.Errorf("backoff after reset = %v, want 2s", got)
	}
}

func TestJoinUUIDs(t *testing.T) {
	if got := joinUUIDs(nil); got != "" {
		t.Errorf("joinUUIDs(nil) = %q, want empty", got)
	}
	if got := joinUUIDs([]string{"a", "b"}); got != "a, b" {
		t.Errorf("joinUUIDs([a b]) = %q, want %q", got, "a, b")
	}
}
