// Package logpull implements the Log Puller (C9): on-demand device log
// retrieval and chunked upload back to the cloud.
package logpull

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/fleetedge/upflux-gateway/pkg/cloudmsg"
	"github.com/fleetedge/upflux-gateway/pkg/device"
	"github.com/fleetedge/upflux-gateway/pkg/gatewayerr"
	"github.com/fleetedge/upflux-gateway/pkg/session"
)

// Uplink is the narrow cloud-send interface the puller needs.
type Uplink interface {
	SendLogUpload(ctx context.Context, upload cloudmsg.LogUpload) error
	SendLogResponse(ctx context.Context, resp cloudmsg.LogResponse) error
}

// Puller wraps DeviceDialer.RequestLogs, persists results under
// logsDir/DeviceLogs/, and streams them up as LogUpload messages.
type Puller struct {
	devices     *device.Store
	dialer      session.DeviceDialer
	uplink      Uplink
	connectPort int
	logsDir     string
	logger      *slog.Logger

	now func() time.Time
}

// NewPuller creates a Puller.
func NewPuller(devices *device.Store, dialer session.DeviceDialer, uplink Uplink, connectPort int, logsDir string, logger *slog.Logger) *Puller {
	return &Puller{
		devices:     devices,
		dialer:      dialer,
		uplink:      uplink,
		connectPort: connectPort,
		logsDir:     logsDir,
		logger:      logger,
		now:         time.Now,
	}
}

// Collect pulls every log file a device currently offers and persists
// each under <logs_dir>/DeviceLogs/<uuid>_<timestamp>_<name>. Returns the
// saved paths.
func (p *Puller) Collect(ctx context.Context, uuid string) ([]string, error) {
	d, err := p.devices.Get(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if d.IP == "" {
		return nil, gatewayerr.New(gatewayerr.KindPolicy, "logpull.Collect", fmt.Errorf("device %s has no known address", uuid))
	}
	addr := net.JoinHostPort(d.IP, fmt.Sprintf("%d", p.connectPort))

	files, err := p.dialer.RequestLogs(ctx, addr)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(p.logsDir, "DeviceLogs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, gatewayerr.New(gatewayerr.KindStorage, "logpull.Collect", err)
	}

	stamp := p.now().Format("20060102150405")
	var paths []string
	for _, f := range files {
		name := fmt.Sprintf("%s_%s_%s", uuid, stamp, f.Name)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, f.Data, 0o644); err != nil {
			return nil, gatewayerr.New(gatewayerr.KindStorage, "logpull.Collect", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// HandleRequest wraps Collect for every requested UUID, streaming each
// saved file up as a LogUpload and terminating the whole request set with
// a single LogResponse.
func (p *Puller) HandleRequest(ctx context.Context, req cloudmsg.LogRequest) {
	requestID := fmt.Sprintf("logreq-%d", p.now().UnixNano())
	var failures []string

	for _, uuid := range req.UUIDs {
		paths, err := p.Collect(ctx, uuid)
		if err != nil {
			p.logger.Warn("log collection failed", "uuid", uuid, "error", err)
			failures = append(failures, uuid)
			continue
		}
		for _, path := range paths {
			data, err := os.ReadFile(path)
			if err != nil {
				p.logger.Warn("reading collected log file failed", "path", path, "error", err)
				continue
			}
			upload := cloudmsg.LogUpload{
				RequestID: requestID,
				UUID:      uuid,
				FileName:  filepath.Base(path),
				Bytes:     data,
			}
			if err := p.uplink.SendLogUpload(ctx, upload); err != nil {
				p.logger.Warn("streaming log upload failed", "path", path, "error", err)
			}
		}
	}

	resp := cloudmsg.LogResponse{
		RequestID: requestID,
		Success:   len(failures) == 0,
		Message:   logResponseMessage(failures),
	}
	if err := p.uplink.SendLogResponse(ctx, resp); err != nil {
		p.logger.Warn("sending log response failed", "error", err)
	}
}

func logResponseMessage(failures []string) string {
	if len(failures) == 0 {
		return "all requested devices' logs collected"
	}
	msg := "failed to collect logs for: "
	for i, u := range failures {
		if i > 0 {
			msg += ", "
		}
		msg += u
	}
	return msg
}
