// Package usage implements the Usage Aggregator (C3): a per-device sliding
// 6-minute window of usage samples, feature-vector computation, and
// next-idle-window prediction.
package usage

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	window       = 6 * time.Minute
	busyCadence  = 3 * time.Second
	busyDivisor  = float64(window / busyCadence) // 120
	idleGapFloor = 20 * time.Second
)

// Sample is one usage observation for a device.
type Sample struct {
	Timestamp time.Time
	CPU       float64
	Mem       float64
	NetSent   float64
	NetRecv   float64
}

// Vector is the feature vector produced by compute_vectors for one device.
type Vector struct {
	UUID     string
	BusyFrac float64
	AvgCPU   float64
	AvgMem   float64
	AvgNet   float64
}

// IdlePrediction is the result of predict_next_idle for one device.
type IdlePrediction struct {
	NextIdleTime *time.Time
	IdleDuration time.Duration
}

type deviceWindow struct {
	mu      sync.Mutex
	samples []Sample
}

// Aggregator tracks sliding usage windows for every known device.
type Aggregator struct {
	mu      sync.Mutex
	devices map[string]*deviceWindow
	gauge   *prometheus.GaugeVec
	now     func() time.Time
}

// NewAggregator creates an empty Aggregator. gauge may be nil in tests.
func NewAggregator(gauge *prometheus.GaugeVec) *Aggregator {
	return &Aggregator{
		devices: make(map[string]*deviceWindow),
		gauge:   gauge,
		now:     time.Now,
	}
}

func (a *Aggregator) windowFor(uuid string) *deviceWindow {
	a.mu.Lock()
	defer a.mu.Unlock()
	dw, ok := a.devices[uuid]
	if !ok {
		dw = &deviceWindow{}
		a.devices[uuid] = dw
	}
	return dw
}

// Record appends a sample for uuid at the current time and trims anything
// older than the 6-minute window.
func (a *Aggregator) Record(uuid string, cpu, mem, netSent, netRecv float64) {
	dw := a.windowFor(uuid)
	now := a.now()

	dw.mu.Lock()
	dw.samples = append(dw.samples, Sample{
		Timestamp: now,
		CPU:       cpu,
		Mem:       mem,
		NetSent:   netSent,
		NetRecv:   netRecv,
	})
	dw.samples = trim(dw.samples, now)
	n := len(dw.samples)
	dw.mu.Unlock()

	if a.gauge != nil {
		a.gauge.WithLabelValues(uuid).Set(float64(n))
	}
}

func trim(samples []Sample, now time.Time) []Sample {
	cutoff := now.Add(-window)
	i := 0
	for i < len(samples) && samples[i].Timestamp.Before(cutoff) {
		i++
	}
	if i == 0 {
		return samples
	}
	return samples[i:]
}

// ComputeVectors produces a feature vector for every device with at least
// one sample in its current window. Devices with zero samples are omitted.
func (a *Aggregator) ComputeVectors() []Vector {
	a.mu.Lock()
	uuids := make([]string, 0, len(a.devices))
	windows := make([]*deviceWindow, 0, len(a.devices))
	for uuid, dw := range a.devices {
		uuids = append(uuids, uuid)
		windows = append(windows, dw)
	}
	a.mu.Unlock()

	var out []Vector
	for i, uuid := range uuids {
		dw := windows[i]
		dw.mu.Lock()
		snapshot := append([]Sample(nil), dw.samples...)
		dw.mu.Unlock()

		if len(snapshot) == 0 {
			continue
		}
		out = append(out, vectorFromSamples(uuid, snapshot))
	}
	return out
}

func vectorFromSamples(uuid string, samples []Sample) Vector {
	var sumCPU, sumMem, sumNet float64
	for _, s := range samples {
		sumCPU += s.CPU
		sumMem += s.Mem
		sumNet += s.NetSent + s.NetRecv
	}
	n := float64(len(samples))
	return Vector{
		UUID:     uuid,
		BusyFrac: n / busyDivisor,
		AvgCPU:   sumCPU / n,
		AvgMem:   sumMem / n,
		AvgNet:   sumNet / n,
	}
}

// PredictNextIdle scans uuid's window for a gap of at least 20 seconds
// between consecutive samples and reports the first one found.
func (a *Aggregator) PredictNextIdle(uuid string) IdlePrediction {
	dw := a.windowFor(uuid)
	dw.mu.Lock()
	snapshot := append([]Sample(nil), dw.samples...)
	dw.mu.Unlock()

	return predictFromSamples(snapshot)
}

func predictFromSamples(samples []Sample) IdlePrediction {
	for i := 1; i < len(samples); i++ {
		gap := samples[i].Timestamp.Sub(samples[i-1].Timestamp)
		if gap >= idleGapFloor {
			start := samples[i-1].Timestamp
			return IdlePrediction{NextIdleTime: &start, IdleDuration: gap}
		}
	}
	return IdlePrediction{}
}
