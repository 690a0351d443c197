// Package command implements the Command Engine (C8): fan-out dispatch of
// cloud-originated commands. Rollback is currently the only command type.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fleetedge/upflux-gateway/pkg/cloudmsg"
	"github.com/fleetedge/upflux-gateway/pkg/device"
	"github.com/fleetedge/upflux-gateway/pkg/session"
)

const commandTypeRollback = "rollback"

// Uplink is the narrow cloud-send interface the engine needs.
type Uplink interface {
	SendCommandResponse(ctx context.Context, resp cloudmsg.CommandResponse) error
}

// Engine dispatches CommandRequests. Unlike the Update Engine, there is no
// signature gate and no retry: spec §4.8.
type Engine struct {
	devices     *device.Store
	dialer      session.DeviceDialer
	uplink      Uplink
	connectPort int
	logger      *slog.Logger
	fanoutTotal *prometheus.CounterVec
}

// NewEngine creates an Engine.
func NewEngine(devices *device.Store, dialer session.DeviceDialer, uplink Uplink, connectPort int, logger *slog.Logger, fanoutTotal *prometheus.CounterVec) *Engine {
	return &Engine{
		devices:     devices,
		dialer:      dialer,
		uplink:      uplink,
		connectPort: connectPort,
		logger:      logger,
		fanoutTotal: fanoutTotal,
	}
}

// Handle dispatches a CommandRequest and emits exactly one CommandResponse.
func (e *Engine) Handle(ctx context.Context, req cloudmsg.CommandRequest) {
	if req.Type != commandTypeRollback {
		e.logger.Warn("unsupported command type", "type", req.Type, "id", req.CommandID)
		_ = e.uplink.SendCommandResponse(ctx, cloudmsg.CommandResponse{
			CommandID: req.CommandID,
			Success:   false,
			Details:   fmt.Sprintf("unsupported command type: %s", req.Type),
		})
		return
	}

	var succeededMu sync.Mutex
	var succeeded, failed []string

	var wg sync.WaitGroup
	for _, uuid := range req.Targets {
		wg.Add(1)
		go func(uuid string) {
			defer wg.Done()
			ok := e.rollbackOne(ctx, uuid, req.Params)

			succeededMu.Lock()
			if ok {
				succeeded = append(succeeded, uuid)
			} else {
				failed = append(failed, uuid)
			}
			succeededMu.Unlock()
		}(uuid)
	}
	wg.Wait()

	outcome := "success"
	if len(failed) > 0 {
		outcome = "partial"
	}
	if e.fanoutTotal != nil {
		e.fanoutTotal.WithLabelValues(commandTypeRollback, outcome).Inc()
	}

	resp := cloudmsg.CommandResponse{
		CommandID: req.CommandID,
		Success:   len(failed) == 0,
		Details:   rollbackDetails(succeeded, failed),
	}
	if err := e.uplink.SendCommandResponse(ctx, resp); err != nil {
		e.logger.Warn("sending command response failed", "id", req.CommandID, "error", err)
	}
}

func (e *Engine) rollbackOne(ctx context.Context, uuid, params string) bool {
	d, err := e.devices.Get(ctx, uuid)
	if err != nil || d.IP == "" {
		return false
	}
	addr := net.JoinHostPort(d.IP, fmt.Sprintf("%d", e.connectPort))

	outcome, err := e.dialer.SendRollback(ctx, addr, params)
	if err != nil {
		e.logger.Warn("rollback dial failed", "uuid", uuid, "error", err)
		return false
	}
	return outcome.Success
}

func rollbackDetails(succeeded, failed []string) string {
	if len(failed) == 0 {
		return fmt.Sprintf("Rollback succeeded on %s", joinUUIDs(succeeded))
	}
	if len(succeeded) == 0 {
		return fmt.Sprintf("Rollback failed on %s", joinUUIDs(failed))
	}
	return fmt.Sprintf("Rollback partial success: succeeded on %s; failed on %s", joinUUIDs(succeeded), joinUUIDs(failed))
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
