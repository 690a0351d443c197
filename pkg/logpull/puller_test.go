package logpull

import "testing"

func TestLogResponseMessage(t *testing.T) {
	if got, want := logResponseMessage(nil), "all requested devices' logs collected"; got != want {
		t.Errorf("logResponseMessage(nil) = %q, want %q", got, want)
	}

	got := logResponseMessage([]string{"a", "b"})
	want := "failed to collect logs for: a, b"
	if got != want {
		t.Errorf("logResponseMessage([a b]) = %q, want %q", got, want)
	}
}
