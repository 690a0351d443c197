package session

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/fleetedge/upflux-gateway/pkg/cloudmsg"
	"github.com/fleetedge/upflux-gateway/pkg/device"
	"github.com/fleetedge/upflux-gateway/pkg/deviceproto"
	"github.com/fleetedge/upflux-gateway/pkg/gatewayerr"
	"github.com/fleetedge/upflux-gateway/pkg/usage"
)

const (
	tokenRequestUUID    = "REQUEST_UUID"
	tokenLicenseInvalid = "LICENSE_INVALID"
	tokenDataReceived   = "DATA_RECEIVED"

	prefixUUID         = "UUID:"
	prefixMonitoring   = "MONITORING_DATA:"
	prefixNotification = "NOTIFICATION:"
)

// Server is the per-connection TCP protocol handler (C5, server side).
type Server struct {
	listenAddr  string
	idleTimeout time.Duration
	tlsConfig   *tls.Config

	devices  *device.Store
	usageAgg *usage.Aggregator
	license  LicenseValidator
	alerts   AlertPublisher
	uplink   Uplink

	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// AlertPublisher is the narrow interface onto the Alert Bus (C12) that the
// session server needs to forward device NOTIFICATION frames.
type AlertPublisher interface {
	Publish(ctx context.Context, alert cloudmsg.Alert) error
}

// Config groups Server construction parameters.
type Config struct {
	ListenAddr  string
	IdleTimeout time.Duration
	TLSConfig   *tls.Config
}

// NewServer creates a Server. All dependencies must be non-nil.
func NewServer(cfg Config, devices *device.Store, usageAgg *usage.Aggregator, license LicenseValidator, alerts AlertPublisher, uplink Uplink, logger *slog.Logger) *Server {
	return &Server{
		listenAddr:  cfg.ListenAddr,
		idleTimeout: cfg.IdleTimeout,
		tlsConfig:   cfg.TLSConfig,
		devices:     devices,
		usageAgg:    usageAgg,
		license:     license,
		alerts:      alerts,
		uplink:      uplink,
		logger:      logger,
	}
}

// Run listens on the configured address until ctx is cancelled. Each
// accepted connection is handled in its own goroutine.
func (s *Server) Run(ctx context.Context) error {
	var ln net.Listener
	var err error
	if s.tlsConfig != nil {
		ln, err = tls.Listen("tcp", s.listenAddr, s.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", s.listenAddr)
	}
	if err != nil {
		return gatewayerr.New(gatewayerr.KindTransport, "session.Server.Run", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.logger.Info("device session listener started", "addr", s.listenAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	log := s.logger.With("remote", remote)

	r := bufio.NewReader(conn)

	_ = conn.SetDeadline(time.Now().Add(s.idleTimeout))
	if err := deviceproto.WriteLine(conn, tokenRequestUUID); err != nil {
		log.Warn("failed to send REQUEST_UUID", "error", err)
		return
	}

	line, err := deviceproto.ReadLine(r)
	if err != nil {
		log.Warn("awaiting UUID failed", "error", err)
		return
	}
	uuid, ok := strings.CutPrefix(line, prefixUUID)
	if !ok {
		log.Warn("unexpected handshake line", "line", line)
		return
	}
	log = log.With("uuid", uuid)

	ip, _, _ := net.SplitHostPort(remote)
	if err := s.registerOrTouch(ctx, uuid, ip); err != nil {
		log.Error("device upsert failed", "error", err)
	}

	result, err := s.license.Validate(ctx, uuid)
	if err != nil {
		log.Error("license validation failed", "error", err)
		return
	}
	if !result.Valid {
		_ = deviceproto.WriteLine(conn, tokenLicenseInvalid)
		return
	}

	s.dataExchange(ctx, conn, r, uuid, log)
}

func (s *Server) registerOrTouch(ctx context.Context, uuid, ip string) error {
	d, err := s.devices.Get(ctx, uuid)
	now := time.Now()
	if errors.Is(err, device.ErrNotFound) {
		d = device.Device{
			UUID:               uuid,
			IP:                 ip,
			RegistrationStatus: device.StatusPending,
			LastSeen:           &now,
		}
		return s.devices.Upsert(ctx, d)
	}
	if err != nil {
		return err
	}
	d.IP = ip
	d.LastSeen = &now
	return s.devices.Upsert(ctx, d)
}

func (s *Server) dataExchange(ctx context.Context, conn net.Conn, r *bufio.Reader, uuid string, log *slog.Logger) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		line, err := deviceproto.ReadLine(r)
		if err != nil {
			log.Debug("session closed", "error", err)
			return
		}

		switch {
		case strings.HasPrefix(line, prefixMonitoring):
			s.handleMonitoring(ctx, conn, uuid, strings.TrimPrefix(line, prefixMonitoring), log)
		case strings.HasPrefix(line, prefixNotification):
			s.handleNotification(ctx, uuid, strings.TrimPrefix(line, prefixNotification), log)
		default:
			log.Debug("unrecognized frame", "line", line)
		}
	}
}

func (s *Server) handleMonitoring(ctx context.Context, conn net.Conn, uuid, payload string, log *slog.Logger) {
	var m MonitoringPayload
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		log.Warn("malformed monitoring payload", "error", err)
		return
	}

	now := time.Now()
	if d, err := s.devices.Get(ctx, uuid); err == nil {
		d.LastSeen = &now
		_ = s.devices.Upsert(ctx, d)
	}

	s.usageAgg.Record(uuid, m.Metrics.CpuMetrics.CurrentUsage, m.Metrics.MemoryMetrics.UsedPercent(),
		float64(m.Metrics.NetworkMetrics.TransmittedBytes), float64(m.Metrics.NetworkMetrics.ReceivedBytes))

	if s.uplink != nil {
		msg := cloudmsg.MonitoringData{
			UUID:          uuid,
			CPUPercent:    m.Metrics.CpuMetrics.CurrentUsage,
			MemPercent:    m.Metrics.MemoryMetrics.UsedPercent(),
			DiskPercent:   m.Metrics.DiskMetrics.UsedPercent(),
			NetSentBytes:  m.Metrics.NetworkMetrics.TransmittedBytes,
			NetRecvBytes:  m.Metrics.NetworkMetrics.ReceivedBytes,
			SensorRed:     m.SensorData.RedValue,
			SensorGreen:   m.SensorData.GreenValue,
			SensorBlue:    m.SensorData.BlueValue,
			UptimeSeconds: m.Metrics.SystemUptimeMetrics.UptimeSeconds,
			TempCelsius:   m.Metrics.CpuTemperatureMetrics.TemperatureCelsius,
			Timestamp:     now,
		}
		if err := s.uplink.SendMonitoring(ctx, msg); err != nil {
			log.Warn("forwarding monitoring data failed", "error", err)
		}
	}

	if err := deviceproto.WriteLine(conn, tokenDataReceived); err != nil {
		log.Warn("acking monitoring data failed", "error", err)
	}
}

func (s *Server) handleNotification(ctx context.Context, uuid, text string, log *slog.Logger) {
	if s.alerts == nil {
		return
	}
	err := s.alerts.Publish(ctx, cloudmsg.Alert{
		Timestamp: time.Now(),
		Level:     cloudmsg.AlertLevelInformation,
		Message:   text,
		Source:    fmt.Sprintf("Device-%s", uuid),
	})
	if err != nil {
		log.Warn("publishing device notification alert failed", "error", err)
	}
}

