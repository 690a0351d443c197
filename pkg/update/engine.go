// Package update implements the Update Engine (C7): signature-gated,
// fan-out distribution of software packages, with retry and optional
// time-scheduled execution.
package update

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fleetedge/upflux-gateway/pkg/cloudmsg"
	"github.com/fleetedge/upflux-gateway/pkg/device"
	"github.com/fleetedge/upflux-gateway/pkg/session"
)

const scheduleTick = 10 * time.Second

// Uplink is the narrow cloud-send interface the engine needs.
type Uplink interface {
	SendUpdateAck(ctx context.Context, ack cloudmsg.UpdateAck) error
	SendCommandResponse(ctx context.Context, resp cloudmsg.CommandResponse) error
}

// Status is the UpdateStatus record from spec §3: three disjoint sets
// whose union is always the full target set.
type Status struct {
	mu        sync.Mutex
	pending   map[string]bool
	succeeded map[string]bool
	failed    map[string]bool
}

func newStatus(targets []string) *Status {
	s := &Status{
		pending:   make(map[string]bool),
		succeeded: make(map[string]bool),
		failed:    make(map[string]bool),
	}
	for _, t := range targets {
		s.pending[t] = true
	}
	return s
}

func (s *Status) markSucceeded(uuid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, uuid)
	delete(s.failed, uuid)
	s.succeeded[uuid] = true
}

func (s *Status) markFailed(uuid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, uuid)
	s.failed[uuid] = true
}

func (s *Status) snapshot() (succeeded, failed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for u := range s.succeeded {
		succeeded = append(succeeded, u)
	}
	for u := range s.failed {
		failed = append(failed, u)
	}
	return
}

type scheduledEntry struct {
	id        string
	targets   []string
	fileName  string
	bytes     []byte
	startTime time.Time
}

// Engine distributes updates and drives the 10-second scheduled-update
// ticker.
type Engine struct {
	devices     *device.Store
	dialer      session.DeviceDialer
	uplink      Uplink
	connectPort int
	pubKey      ed25519.PublicKey
	maxRetries  int
	maxPending  int64
	logger      *slog.Logger

	fanoutDuration *prometheus.HistogramVec
	retriesTotal   prometheus.Counter

	mu         sync.Mutex
	scheduled  map[string]*scheduledEntry
	pendingLen int64
}

// NewEngine creates an Engine. pubKey verifies detached update signatures.
func NewEngine(devices *device.Store, dialer session.DeviceDialer, uplink Uplink, connectPort, maxRetries int, maxPendingBytes int64, pubKey ed25519.PublicKey, logger *slog.Logger, fanoutDuration *prometheus.HistogramVec, retriesTotal prometheus.Counter) *Engine {
	return &Engine{
		devices:        devices,
		dialer:         dialer,
		uplink:         uplink,
		connectPort:    connectPort,
		pubKey:         pubKey,
		maxRetries:     maxRetries,
		maxPending:     maxPendingBytes,
		logger:         logger,
		fanoutDuration: fanoutDuration,
		retriesTotal:   retriesTotal,
		scheduled:      make(map[string]*scheduledEntry),
	}
}

// verify checks a detached ed25519 signature over data.
func (e *Engine) verify(data, signature []byte) bool {
	if e.pubKey == nil {
		return false
	}
	return ed25519.Verify(e.pubKey, data, signature)
}

// HandleImmediate implements the immediate distribution path: signature
// gate, parallel fan-out with retry, single UpdateAck.
func (e *Engine) HandleImmediate(ctx context.Context, pkg cloudmsg.UpdatePackage) {
	if !e.verify(pkg.PackageBytes, pkg.Signature) {
		e.logger.Warn("update signature rejected", "file", pkg.FileName)
		_ = e.uplink.SendUpdateAck(ctx, cloudmsg.UpdateAck{
			FileName: pkg.FileName,
			Success:  false,
			Details:  "signature_rejected",
		})
		return
	}

	start := time.Now()
	status := e.fanOut(ctx, pkg.Targets, pkg.FileName, pkg.PackageBytes)
	outcome := "success"
	succeeded, failed := status.snapshot()
	if len(failed) > 0 {
		outcome = "partial"
	}
	if e.fanoutDuration != nil {
		e.fanoutDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}

	ack := cloudmsg.UpdateAck{
		FileName: pkg.FileName,
		Success:  len(failed) == 0,
		Details:  fmt.Sprintf("Succeeded on: %s; Failed on: %s", joinUUIDs(succeeded), joinUUIDs(failed)),
	}
	if err := e.uplink.SendUpdateAck(ctx, ack); err != nil {
		e.logger.Warn("sending update ack failed", "file", pkg.FileName, "error", err)
	}
}

// HandleScheduled signature-verifies and stores a ScheduledUpdate for the
// 10-second ticker to pick up later. Respects the bounded in-memory
// package-byte footprint (spec §9).
func (e *Engine) HandleScheduled(ctx context.Context, su cloudmsg.ScheduledUpdate) {
	if !e.verify(su.PackageBytes, su.Signature) {
		e.logger.Warn("scheduled update signature rejected", "id", su.ScheduleID)
		_ = e.uplink.SendCommandResponse(ctx, cloudmsg.CommandResponse{
			CommandID: su.ScheduleID,
			Success:   false,
			Details:   "signature_rejected",
		})
		return
	}

	e.mu.Lock()
	if e.pendingLen+int64(len(su.PackageBytes)) > e.maxPending {
		e.mu.Unlock()
		e.logger.Warn("scheduled update rejected: pending package buffer full", "id", su.ScheduleID)
		_ = e.uplink.SendCommandResponse(ctx, cloudmsg.CommandResponse{
			CommandID: su.ScheduleID,
			Success:   false,
			Details:   "pending_package_buffer_full",
		})
		return
	}
	e.scheduled[su.ScheduleID] = &scheduledEntry{
		id:        su.ScheduleID,
		targets:   su.Targets,
		fileName:  su.FileName,
		bytes:     su.PackageBytes,
		startTime: su.StartTimeUTC,
	}
	e.pendingLen += int64(len(su.PackageBytes))
	e.mu.Unlock()

	_ = e.uplink.SendCommandResponse(ctx, cloudmsg.CommandResponse{
		CommandID: su.ScheduleID,
		Success:   true,
		Details:   fmt.Sprintf("Scheduled update stored for %s", su.StartTimeUTC.Format(time.RFC3339)),
	})
}

// Run drives the 10-second scheduled-update ticker until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(scheduleTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.fireDue(ctx)
		}
	}
}

func (e *Engine) fireDue(ctx context.Context) {
	now := time.Now()

	e.mu.Lock()
	var due []*scheduledEntry
	for id, entry := range e.scheduled {
		if !entry.startTime.After(now) {
			due = append(due, entry)
			delete(e.scheduled, id)
			e.pendingLen -= int64(len(entry.bytes))
		}
	}
	e.mu.Unlock()

	for _, entry := range due {
		status := e.fanOut(ctx, entry.targets, entry.fileName, entry.bytes)
		succeeded, failed := status.snapshot()
		ack := cloudmsg.UpdateAck{
			FileName: entry.fileName,
			Success:  len(failed) == 0,
			Details:  fmt.Sprintf("Succeeded on: %s; Failed on: %s", joinUUIDs(succeeded), joinUUIDs(failed)),
		}
		if err := e.uplink.SendUpdateAck(ctx, ack); err != nil {
			e.logger.Warn("sending scheduled update ack failed", "id", entry.id, "error", err)
		}
	}
}

// fanOut dispatches fileName/data to every target in parallel, retrying
// failures up to e.maxRetries times with exponential backoff (2^attempt
// seconds).
func (e *Engine) fanOut(ctx context.Context, targets []string, fileName string, data []byte) *Status {
	status := newStatus(targets)

	var wg sync.WaitGroup
	for _, uuid := range targets {
		wg.Add(1)
		go func(uuid string) {
			defer wg.Done()
			e.deliverWithRetry(ctx, uuid, fileName, data, status)
		}(uuid)
	}
	wg.Wait()
	return status
}

func (e *Engine) deliverWithRetry(ctx context.Context, uuid, fileName string, data []byte, status *Status) {
	addr, err := e.resolveAddr(ctx, uuid)
	if err != nil {
		e.logger.Warn("resolving device address for update failed", "uuid", uuid, "error", err)
		status.markFailed(uuid)
		return
	}

	attempt := 0
	operation := func() (bool, error) {
		ok, err := e.dialer.SendUpdate(ctx, addr, fileName, data)
		if err != nil || !ok {
			attempt++
			if e.retriesTotal != nil && attempt <= e.maxRetries {
				e.retriesTotal.Inc()
			}
			return false, fmt.Errorf("update delivery failed for %s", uuid)
		}
		return true, nil
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithMaxTries(uint(e.maxRetries+1)),
		backoff.WithBackOff(&exponentialSeconds{}),
	)
	if err != nil || !result {
		status.markFailed(uuid)
		return
	}
	status.markSucceeded(uuid)
}

func (e *Engine) resolveAddr(ctx context.Context, uuid string) (string, error) {
	d, err := e.devices.Get(ctx, uuid)
	if err != nil {
		return "", err
	}
	if d.IP == "" {
		return "", fmt.Errorf("device %s has no known address", uuid)
	}
	return net.JoinHostPort(d.IP, fmt.Sprintf("%d", e.connectPort)), nil
}

func joinUUIDs(uuids []string) string {
	out := ""
	for i, u := range uuids {
		if i > 0 {
			out += ", "
		}
		out += u
	}
	return out
}
