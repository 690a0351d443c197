package license

import "testing"

func TestInFlightDedup(t *testing.T) {
	c := &Coordinator{inFlight: make(map[string]inFlight)}

	c.mu.Lock()
	_, exists := c.inFlight["dev-1"]
	if exists {
		t.Fatal("expected no in-flight entry initially")
	}
	c.inFlight["dev-1"] = inFlight{isRenewal: false}
	c.mu.Unlock()

	c.mu.Lock()
	_, exists = c.inFlight["dev-1"]
	c.mu.Unlock()
	if !exists {
		t.Fatal("expected in-flight entry to be set")
	}

	// A second request for the same device must not be allowed to win the
	// test-and-set while the first is outstanding.
	c.mu.Lock()
	_, alreadyInFlight := c.inFlight["dev-1"]
	c.mu.Unlock()
	if !alreadyInFlight {
		t.Fatal("expected second request to observe the existing in-flight entry")
	}

	c.mu.Lock()
	delete(c.inFlight, "dev-1")
	_, exists = c.inFlight["dev-1"]
	c.mu.Unlock()
	if exists {
		t.Fatal("expected in-flight entry to be cleared on response")
	}
}

func TestBoolLabel(t *testing.T) {
	if got := boolLabel(true); got != "renewal" {
		t.Errorf("boolLabel(true) = %q, want %q", got, "renewal")
	}
	if got := boolLabel(false); got != "initial" {
		t.Errorf("boolLabel(false) = %q, want %q", got, "initial")
	}
}
