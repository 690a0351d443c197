package usage

import (
	"testing"
	"time"
)

func TestTrim(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	samples := []Sample{
		{Timestamp: base.Add(-7 * time.Minute)},
		{Timestamp: base.Add(-6*time.Minute - time.Second)},
		{Timestamp: base.Add(-5 * time.Minute)},
		{Timestamp: base.Add(-1 * time.Minute)},
	}

	got := trim(samples, base)
	if len(got) != 2 {
		t.Fatalf("trim() kept %d samples, want 2", len(got))
	}
	if !got[0].Timestamp.Equal(base.Add(-5 * time.Minute)) {
		t.Errorf("trim() first kept sample = %v, want -5m", got[0].Timestamp)
	}
}

func TestRecordTrimsOldSamples(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := NewAggregator(nil)

	cur := base
	a.now = func() time.Time { return cur }

	a.Record("dev1", 1, 1, 1, 1)

	cur = base.Add(7 * time.Minute)
	a.Record("dev1", 2, 2, 2, 2)

	dw := a.windowFor("dev1")
	dw.mu.Lock()
	n := len(dw.samples)
	dw.mu.Unlock()

	if n != 1 {
		t.Fatalf("expected 1 sample after window rolled over, got %d", n)
	}
}

func TestComputeVectors(t *testing.T) {
	a := NewAggregator(nil)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return base }

	for i := 0; i < 4; i++ {
		a.Record("dev1", 10, 20, 1, 2)
	}

	vecs := a.ComputeVectors()
	if len(vecs) != 1 {
		t.Fatalf("expected 1 vector, got %d", len(vecs))
	}
	v := vecs[0]
	if v.UUID != "dev1" {
		t.Errorf("UUID = %q, want dev1", v.UUID)
	}
	wantBusy := 4.0 / 120.0
	if v.BusyFrac != wantBusy {
		t.Errorf("BusyFrac = %v, want %v", v.BusyFrac, wantBusy)
	}
	if v.AvgCPU != 10 {
		t.Errorf("AvgCPU = %v, want 10", v.AvgCPU)
	}
	if v.AvgNet != 3 {
		t.Errorf("AvgNet = %v, want 3", v.AvgNet)
	}
}

func TestComputeVectorsOmitsEmptyDevices(t *testing.T) {
	a := NewAggregator(nil)
	a.windowFor("dev1") // touch it without recording a sample

	vecs := a.ComputeVectors()
	if len(vecs) != 0 {
		t.Fatalf("expected 0 vectors for device with no samples, got %d", len(vecs))
	}
}

func TestPredictNextIdle(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		samples   []Sample
		wantFound bool
		wantGap   time.Duration
	}{
		{
			name:      "no samples",
			samples:   nil,
			wantFound: false,
		},
		{
			name: "no gap over threshold",
			samples: []Sample{
				{Timestamp: base},
				{Timestamp: base.Add(5 * time.Second)},
				{Timestamp: base.Add(10 * time.Second)},
			},
			wantFound: false,
		},
		{
			name: "gap exactly at threshold counts",
			samples: []Sample{
				{Timestamp: base},
				{Timestamp: base.Add(idleGapFloor)},
			},
			wantFound: true,
			wantGap:   idleGapFloor,
		},
		{
			name: "gap over threshold",
			samples: []Sample{
				{Timestamp: base},
				{Timestamp: base.Add(3 * time.Second)},
				{Timestamp: base.Add(3*time.Second + 25*time.Second)},
			},
			wantFound: true,
			wantGap:   25 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := predictFromSamples(tt.samples)
			if (got.NextIdleTime != nil) != tt.wantFound {
				t.Fatalf("found = %v, want %v", got.NextIdleTime != nil, tt.wantFound)
			}
			if tt.wantFound && got.IdleDuration != tt.wantGap {
				t.Errorf("IdleDuration = %v, want %v", got.IdleDuration, tt.wantGap)
			}
		})
	}
}
