// Package cloudchannel implements the Cloud Control Channel Worker (C10):
// the Gateway's single persistent connection to the cloud controller,
// carrying every upward and downward ControlMessage over one
// bidirectional gRPC stream.
package cloudchannel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fleetedge/upflux-gateway/pkg/cloudmsg"
	"github.com/fleetedge/upflux-gateway/pkg/command"
	"github.com/fleetedge/upflux-gateway/pkg/device"
	"github.com/fleetedge/upflux-gateway/pkg/license"
	"github.com/fleetedge/upflux-gateway/pkg/logpull"
	"github.com/fleetedge/upflux-gateway/pkg/session"
	"github.com/fleetedge/upflux-gateway/pkg/update"
	"github.com/fleetedge/upflux-gateway/pkg/version"
)

const (
	reconnectWait = 5 * time.Second
	sendQueueSize = 256
)

// Dispatch groups the downstream handlers the worker routes incoming
// ControlMessage variants to. Each field is optional; a nil handler means
// that variant is dropped without a log line or a reply.
type Dispatch struct {
	License *license.Coordinator
	Update  *update.Engine
	Command *command.Engine
	LogPull *logpull.Puller
	Devices  *device.Store
	Dialer   session.DeviceDialer
	Versions *version.Store

	ConnectPort int
}

// Worker owns the single persistent stream to the cloud. Its write half
// is serialized through a single goroutine reading from a buffered
// channel so that every producer (License, Update, Command, LogPull,
// Liveness, Recommender, AlertBus) can call a Send* method concurrently
// without racing on the underlying stream.
type Worker struct {
	target    string
	gatewayID string
	tlsConfig *tls.Config
	dispatch  Dispatch
	logger    *slog.Logger

	send chan *cloudmsg.ControlMessage

	reconnects prometheus.Counter
	connected  prometheus.Gauge
	isUp       atomic.Bool
}

// Config configures a Worker.
type Config struct {
	Target     string
	GatewayID  string
	TLSConfig  *tls.Config
	Dispatch   Dispatch
	Reconnects prometheus.Counter
	Connected  prometheus.Gauge
}

// NewWorker creates a Worker. It does not connect until Run is called.
func NewWorker(cfg Config, logger *slog.Logger) *Worker {
	return &Worker{
		target:     cfg.Target,
		gatewayID:  cfg.GatewayID,
		tlsConfig:  cfg.TLSConfig,
		dispatch:   cfg.Dispatch,
		logger:     logger,
		send:       make(chan *cloudmsg.ControlMessage, sendQueueSize),
		reconnects: cfg.Reconnects,
		connected:  cfg.Connected,
	}
}

// SetDispatch wires the downstream handlers. Callers build License,
// Update, Command, and LogPull with this Worker as their Uplink, so the
// Worker itself must exist first; SetDispatch closes that cycle once every
// component is constructed, before Run is called.
func (w *Worker) SetDispatch(d Dispatch) {
	w.dispatch = d
}

// IsConnected reports whether the stream is currently up. Used by the ops
// HTTP surface's readiness check.
func (w *Worker) IsConnected() bool {
	return w.isUp.Load()
}

// Run dials the cloud, holds the stream open, and reconnects every
// reconnectWait after any failure. It blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("cloud control channel worker started", "target", w.target)
	for {
		if err := w.connectOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Warn("cloud control channel disconnected", "error", err)
		}
		w.isUp.Store(false)
		if w.connected != nil {
			w.connected.Set(0)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("cloud control channel worker stopped")
			return nil
		case <-time.After(reconnectWait):
			if w.reconnects != nil {
				w.reconnects.Inc()
			}
		}
	}
}

func (w *Worker) connectOnce(ctx context.Context) error {
	creds := credentials.NewTLS(w.tlsConfig)
	if w.tlsConfig == nil {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(w.target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return fmt.Errorf("dialing cloud controller: %w", err)
	}
	defer conn.Close()

	client := NewControlChannelClient(conn)
	stream, err := client.OpenControlChannel(ctx)
	if err != nil {
		return fmt.Errorf("opening control channel: %w", err)
	}

	return w.runStream(ctx, stream)
}

// runStream sends the handshake and drives one connected stream's read and
// write loops until either fails or ctx is cancelled. The handshake is
// sent synchronously, before writeLoop/readLoop start, so the cloud always
// learns which gateway connected even if there is no other outbound
// traffic queued yet.
func (w *Worker) runStream(ctx context.Context, stream ControlChannel_OpenControlChannelClient) error {
	if err := stream.Send(&cloudmsg.ControlMessage{SenderID: w.gatewayID}); err != nil {
		return fmt.Errorf("sending handshake: %w", err)
	}

	w.logger.Info("cloud control channel connected")
	w.isUp.Store(true)
	if w.connected != nil {
		w.connected.Set(1)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go w.writeLoop(streamCtx, stream, errCh)
	go w.readLoop(streamCtx, stream, errCh)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (w *Worker) writeLoop(ctx context.Context, stream ControlChannel_OpenControlChannelClient, errCh chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-w.send:
			msg.SenderID = w.gatewayID
			if err := stream.Send(msg); err != nil {
				errCh <- fmt.Errorf("sending control message: %w", err)
				return
			}
		}
	}
}

func (w *Worker) readLoop(ctx context.Context, stream ControlChannel_OpenControlChannelClient, errCh chan<- error) {
	for {
		msg, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				errCh <- fmt.Errorf("control stream closed by cloud")
				return
			}
			errCh <- fmt.Errorf("receiving control message: %w", err)
			return
		}
		w.handle(ctx, msg)
	}
}

// handle dispatches one inbound ControlMessage to its owning component,
// per the variant table: LicenseResponse -> License, CommandRequest ->
// Command, LogRequest -> LogPull, UpdatePackage -> Update (immediate),
// ScheduledUpdate -> Update (scheduled), VersionDataRequest -> version
// query fan-out across all known devices. Anything else is logged and
// dropped.
func (w *Worker) handle(ctx context.Context, msg *cloudmsg.ControlMessage) {
	switch {
	case msg.LicenseResponse != nil:
		if w.dispatch.License != nil {
			w.dispatch.License.HandleResponse(ctx, *msg.LicenseResponse)
		}
	case msg.CommandRequest != nil:
		if w.dispatch.Command != nil {
			w.dispatch.Command.Handle(ctx, *msg.CommandRequest)
		}
	case msg.LogRequest != nil:
		if w.dispatch.LogPull != nil {
			w.dispatch.LogPull.HandleRequest(ctx, *msg.LogRequest)
		}
	case msg.UpdatePackage != nil:
		if w.dispatch.Update != nil {
			w.dispatch.Update.HandleImmediate(ctx, *msg.UpdatePackage)
		}
	case msg.ScheduledUpdate != nil:
		if w.dispatch.Update != nil {
			w.dispatch.Update.HandleScheduled(ctx, *msg.ScheduledUpdate)
		}
	case msg.VersionDataRequest != nil:
		w.handleVersionDataRequest(ctx)
	default:
		w.logger.Warn("dropping control message with no recognized variant", "sender", msg.SenderID)
	}
}

func (w *Worker) handleVersionDataRequest(ctx context.Context) {
	if w.dispatch.Devices == nil || w.dispatch.Dialer == nil {
		return
	}
	devices, err := w.dispatch.Devices.ListAll(ctx)
	if err != nil {
		w.logger.Warn("listing devices for version data request failed", "error", err)
		w.enqueue(&cloudmsg.ControlMessage{
			VersionDataResponse: &cloudmsg.VersionDataResponse{Success: false},
		})
		return
	}

	var entries []cloudmsg.VersionEntry
	for _, d := range devices {
		if d.IP == "" {
			continue
		}
		addr := net.JoinHostPort(d.IP, fmt.Sprintf("%d", w.dispatch.ConnectPort))
		result, err := w.dispatch.Dialer.RequestVersions(ctx, addr)
		if err != nil {
			w.logger.Warn("version query failed", "uuid", d.UUID, "error", err)
			continue
		}
		if w.dispatch.Versions != nil {
			if err := w.dispatch.Versions.InsertIfAbsent(ctx, version.Record{
				DeviceUUID:  d.UUID,
				Version:     result.Current.Version,
				InstalledAt: result.Current.InstalledAt,
			}); err != nil {
				w.logger.Warn("recording version history failed", "uuid", d.UUID, "error", err)
			}
		}
		entries = append(entries, cloudmsg.VersionEntry{
			UUID:        d.UUID,
			Version:     result.Current.Version,
			InstalledAt: result.Current.InstalledAt,
		})
	}

	w.enqueue(&cloudmsg.ControlMessage{
		VersionDataResponse: &cloudmsg.VersionDataResponse{Success: true, Entries: entries},
	})
}

// enqueue hands msg to the write loop without blocking the caller. The
// queue holds sendQueueSize messages, enough to ride out a momentary
// reconnect; when it is full, msg is not queued and an error is returned.
func (w *Worker) enqueue(msg *cloudmsg.ControlMessage) error {
	select {
	case w.send <- msg:
		return nil
	default:
		return fmt.Errorf("cloud control channel send queue full")
	}
}

// SendMonitoring implements session.Uplink.
func (w *Worker) SendMonitoring(ctx context.Context, data cloudmsg.MonitoringData) error {
	return w.enqueue(&cloudmsg.ControlMessage{MonitoringData: &data})
}

// SendLicenseRequest implements session.Uplink and license.Uplink.
func (w *Worker) SendLicenseRequest(ctx context.Context, uuid string, isRenewal bool) error {
	return w.enqueue(&cloudmsg.ControlMessage{LicenseRequest: &cloudmsg.LicenseRequest{
		UUID:      uuid,
		IsRenewal: isRenewal,
	}})
}

// SendAlert implements session.Uplink and alertbus.Subscriber.
func (w *Worker) SendAlert(ctx context.Context, alert cloudmsg.Alert) error {
	return w.enqueue(&cloudmsg.ControlMessage{AlertMessage: &cloudmsg.AlertMessage{
		Timestamp: alert.Timestamp,
		Level:     alert.Level,
		Message:   alert.Message,
		Exception: alert.Exception,
		Source:    alert.Source,
	}})
}

// SendDeviceStatus implements session.Uplink and liveness.Uplink.
func (w *Worker) SendDeviceStatus(ctx context.Context, status cloudmsg.DeviceStatus) error {
	return w.enqueue(&cloudmsg.ControlMessage{DeviceStatus: &status})
}

// SendUpdateAck implements update.Uplink.
func (w *Worker) SendUpdateAck(ctx context.Context, ack cloudmsg.UpdateAck) error {
	return w.enqueue(&cloudmsg.ControlMessage{UpdateAck: &ack})
}

// SendCommandResponse implements update.Uplink and command.Uplink.
func (w *Worker) SendCommandResponse(ctx context.Context, resp cloudmsg.CommandResponse) error {
	return w.enqueue(&cloudmsg.ControlMessage{CommandResponse: &resp})
}

// SendLogUpload implements logpull.Uplink.
func (w *Worker) SendLogUpload(ctx context.Context, upload cloudmsg.LogUpload) error {
	return w.enqueue(&cloudmsg.ControlMessage{LogUpload: &upload})
}

// SendLogResponse implements logpull.Uplink.
func (w *Worker) SendLogResponse(ctx context.Context, resp cloudmsg.LogResponse) error {
	return w.enqueue(&cloudmsg.ControlMessage{LogResponse: &resp})
}

// SendRecommendations implements recommender.Uplink.
func (w *Worker) SendRecommendations(ctx context.Context, clusters []cloudmsg.Cluster, plotData []cloudmsg.PlotPoint) error {
	return w.enqueue(&cloudmsg.ControlMessage{AIRecommendations: &cloudmsg.AIRecommendations{
		Clusters: clusters,
		PlotData: plotData,
	}})
}
