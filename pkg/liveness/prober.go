// Package liveness implements the Liveness Prober (C4): a periodic ICMP
// sweep over every known device, turning online/offline transitions into
// upward DeviceStatus events.
package liveness

import (
	"context"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/fleetedge/upflux-gateway/pkg/cloudmsg"
	"github.com/fleetedge/upflux-gateway/pkg/device"
)

const (
	probeInterval  = 2 * time.Second
	probeTimeout   = 1 * time.Second
	redisKeyPrefix = "liveness:"
)

// Uplink is the narrow interface this prober needs to emit status
// transitions upward.
type Uplink interface {
	SendDeviceStatus(ctx context.Context, status cloudmsg.DeviceStatus) error
}

// Prober periodically pings known devices and emits edge-triggered status
// events. The Redis-backed cache is non-authoritative: on a cache miss or
// any cache error the prober falls back to its in-process last-known map,
// and a device absent from both is treated as "no prior observation",
// never as a crash.
type Prober struct {
	devices *device.Store
	rdb     *redis.Client
	uplink  Uplink
	logger  *slog.Logger
	metric  *prometheus.CounterVec

	mu   sync.Mutex
	last map[string]bool

	pinger func(ctx context.Context, ip string) bool
}

// NewProber creates a Prober. metric may be nil in tests.
func NewProber(devices *device.Store, rdb *redis.Client, uplink Uplink, logger *slog.Logger, metric *prometheus.CounterVec) *Prober {
	return &Prober{
		devices: devices,
		rdb:     rdb,
		uplink:  uplink,
		logger:  logger,
		metric:  metric,
		last:    make(map[string]bool),
		pinger:  pingICMP,
	}
}

// Run sweeps every 2 seconds until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Prober) sweep(ctx context.Context) {
	devices, err := p.devices.ListAll(ctx)
	if err != nil {
		p.logger.Error("listing devices for liveness sweep failed", "error", err)
		return
	}

	for _, d := range devices {
		if d.IP == "" {
			continue
		}
		online := p.pinger(ctx, d.IP)
		p.observe(ctx, d.UUID, online)
	}
}

// observe compares online against the last-known status for uuid and
// emits a DeviceStatus event iff it changed (or this is the first
// observation), per spec §4.4 and §8's equality-not-timer invariant.
func (p *Prober) observe(ctx context.Context, uuid string, online bool) {
	prior, hadPrior := p.lastKnown(ctx, uuid)
	if hadPrior && prior == online {
		return
	}

	p.setLastKnown(ctx, uuid, online)

	now := time.Now()
	if d, err := p.devices.Get(ctx, uuid); err == nil {
		d.LastSeen = &now
		if err := p.devices.Upsert(ctx, d); err != nil {
			p.logger.Error("updating last_seen on liveness transition failed", "uuid", uuid, "error", err)
		}
	}

	state := "offline"
	if online {
		state = "online"
	}
	if p.metric != nil {
		p.metric.WithLabelValues(state).Inc()
	}

	if err := p.uplink.SendDeviceStatus(ctx, cloudmsg.DeviceStatus{UUID: uuid, IsOnline: online, LastSeen: now}); err != nil {
		p.logger.Warn("emitting device status failed", "uuid", uuid, "error", err)
	}
}

func (p *Prober) lastKnown(ctx context.Context, uuid string) (bool, bool) {
	if p.rdb != nil {
		val, err := p.rdb.Get(ctx, redisKeyPrefix+uuid).Result()
		if err == nil {
			return val == "online", true
		}
		if err != redis.Nil {
			p.logger.Warn("liveness cache read failed, falling back to in-process map", "uuid", uuid, "error", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.last[uuid]
	return v, ok
}

func (p *Prober) setLastKnown(ctx context.Context, uuid string, online bool) {
	p.mu.Lock()
	p.last[uuid] = online
	p.mu.Unlock()

	if p.rdb == nil {
		return
	}
	val := "offline"
	if online {
		val = "online"
	}
	if err := p.rdb.Set(ctx, redisKeyPrefix+uuid, val, 0).Err(); err != nil {
		p.logger.Warn("liveness cache write failed", "uuid", uuid, "error", err)
	}
}

// pingICMP sends one ICMP echo request and reports whether a reply arrived
// within probeTimeout.
func pingICMP(ctx context.Context, ip string) bool {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return false
	}
	defer conn.Close()

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  1,
			Data: []byte("gateway-liveness"),
		},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return false
	}

	dst, err := net.ResolveIPAddr("ip4", ip)
	if err != nil {
		return false
	}

	if _, err := conn.WriteTo(wb, dst); err != nil {
		return false
	}

	_ = conn.SetReadDeadline(time.Now().Add(probeTimeout))
	rb := make([]byte, 1500)
	n, _, err := conn.ReadFrom(rb)
	if err != nil {
		return false
	}

	reply, err := icmp.ParseMessage(1, rb[:n])
	if err != nil {
		return false
	}
	return reply.Type == ipv4.ICMPTypeEchoReply
}
