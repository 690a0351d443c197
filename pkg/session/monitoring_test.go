package session

import "testing"

func TestMemoryMetricsUsedPercent(t *testing.T) {
	tests := []struct {
		name string
		m    MemoryMetrics
		want float64
	}{
		{name: "half used", m: MemoryMetrics{TotalMemory: 1000, UsedMemory: 500}, want: 50},
		{name: "zero total", m: MemoryMetrics{TotalMemory: 0, UsedMemory: 10}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.UsedPercent(); got != tt.want {
				t.Errorf("UsedPercent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDiskMetricsUsedPercent(t *testing.T) {
	d := DiskMetrics{TotalDiskSpace: 200, UsedDiskSpace: 50}
	if got, want := d.UsedPercent(), 25.0; got != want {
		t.Errorf("UsedPercent() = %v, want %v", got, want)
	}
}
