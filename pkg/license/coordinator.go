// Package license implements the License Coordinator (C6): in-flight
// request deduplication, rejection back-off, and cache-and-push of
// approved licenses back to the device.
package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fleetedge/upflux-gateway/pkg/cloudmsg"
	"github.com/fleetedge/upflux-gateway/pkg/device"
	"github.com/fleetedge/upflux-gateway/pkg/gatewayerr"
	"github.com/fleetedge/upflux-gateway/pkg/session"
)

const rejectionCooldown = 30 * time.Minute

// Uplink is the narrow cloud-send interface the coordinator needs.
type Uplink interface {
	SendLicenseRequest(ctx context.Context, uuid string, isRenewal bool) error
}

// inFlight is the InFlightLicenseRequest record from spec §3.
type inFlight struct {
	isRenewal bool
}

// Coordinator implements session.LicenseValidator for the Device Session
// Handler (C5) and processes LicenseResponse messages dispatched by the
// Cloud Control Channel Worker (C10).
type Coordinator struct {
	devices     *device.Store
	dialer      session.DeviceDialer
	uplink      Uplink
	connectPort int
	logger      *slog.Logger

	requestsMetric  *prometheus.CounterVec
	responsesMetric *prometheus.CounterVec

	mu       sync.Mutex
	inFlight map[string]inFlight
}

// NewCoordinator creates a Coordinator. connectPort is appended to a
// device's known IP to form the dial address for outbound license pushes.
func NewCoordinator(devices *device.Store, dialer session.DeviceDialer, uplink Uplink, connectPort int, logger *slog.Logger, requestsMetric, responsesMetric *prometheus.CounterVec) *Coordinator {
	return &Coordinator{
		devices:         devices,
		dialer:          dialer,
		uplink:          uplink,
		connectPort:     connectPort,
		logger:          logger,
		requestsMetric:  requestsMetric,
		responsesMetric: responsesMetric,
		inFlight:        make(map[string]inFlight),
	}
}

// Validate implements session.LicenseValidator: the gating policy of
// spec §4.5.
func (c *Coordinator) Validate(ctx context.Context, uuid string) (session.ValidateResult, error) {
	now := time.Now()

	d, err := c.devices.Get(ctx, uuid)
	if errors.Is(err, device.ErrNotFound) {
		c.request(ctx, uuid, false)
		return session.ValidateResult{Valid: false}, nil
	}
	if err != nil {
		return session.ValidateResult{}, gatewayerr.New(gatewayerr.KindStorage, "license.Validate", err)
	}

	if d.HasValidLicense(now) {
		return session.ValidateResult{Valid: true}, nil
	}

	if d.RenewalBlocked(now) {
		return session.ValidateResult{Valid: false}, nil
	}

	// A device that has never held a license (e.g. one the session handler
	// only just registered) is asking for its first license, not a renewal.
	c.request(ctx, uuid, d.License != nil)
	return session.ValidateResult{Valid: false}, nil
}

// request emits an upward LicenseRequest unless one is already in flight
// for uuid. The in-flight test-and-set happens under the coordinator's
// single lock, satisfying spec §5's atomicity requirement.
func (c *Coordinator) request(ctx context.Context, uuid string, isRenewal bool) {
	c.mu.Lock()
	if _, exists := c.inFlight[uuid]; exists {
		c.mu.Unlock()
		return
	}
	c.inFlight[uuid] = inFlight{isRenewal: isRenewal}
	c.mu.Unlock()

	if c.requestsMetric != nil {
		c.requestsMetric.WithLabelValues(boolLabel(isRenewal)).Inc()
	}

	if err := c.uplink.SendLicenseRequest(ctx, uuid, isRenewal); err != nil {
		c.logger.Warn("sending license request failed", "uuid", uuid, "error", err)
	}
}

// HandleResponse processes a LicenseResponse dispatched by C10.
func (c *Coordinator) HandleResponse(ctx context.Context, resp cloudmsg.LicenseResponse) {
	c.mu.Lock()
	delete(c.inFlight, resp.UUID)
	c.mu.Unlock()

	outcome := "rejected"
	if resp.Approved {
		outcome = "approved"
	}
	if c.responsesMetric != nil {
		c.responsesMetric.WithLabelValues(outcome).Inc()
	}

	if !resp.Approved {
		c.markRejected(ctx, resp.UUID)
		return
	}
	c.applyApproval(ctx, resp)
}

func (c *Coordinator) markRejected(ctx context.Context, uuid string) {
	d, err := c.devices.Get(ctx, uuid)
	if err != nil {
		c.logger.Error("loading device for license rejection failed", "uuid", uuid, "error", err)
		return
	}
	next := time.Now().Add(rejectionCooldown)
	d.NextEarliestRenewal = &next
	if err := c.devices.Upsert(ctx, d); err != nil {
		c.logger.Error("persisting license rejection cooldown failed", "uuid", uuid, "error", err)
	}
}

func (c *Coordinator) applyApproval(ctx context.Context, resp cloudmsg.LicenseResponse) {
	d, err := c.devices.Get(ctx, resp.UUID)
	if errors.Is(err, device.ErrNotFound) {
		d = device.Device{UUID: resp.UUID}
	} else if err != nil {
		c.logger.Error("loading device for license approval failed", "uuid", resp.UUID, "error", err)
		return
	}

	lic := resp.License
	exp := resp.Expiration
	now := time.Now()
	d.License = &lic
	d.LicenseExpiration = &exp
	d.RegistrationStatus = device.StatusRegistered
	d.NextEarliestRenewal = &now

	if err := c.devices.Upsert(ctx, d); err != nil {
		c.logger.Error("persisting license approval failed", "uuid", resp.UUID, "error", err)
		return
	}

	if d.IP == "" {
		c.logger.Warn("license approved but device has no known address to push to", "uuid", resp.UUID)
		return
	}
	addr := net.JoinHostPort(d.IP, fmt.Sprintf("%d", c.connectPort))
	if err := c.dialer.SendLicense(ctx, addr, lic); err != nil {
		c.logger.Warn("pushing approved license to device failed", "uuid", resp.UUID, "error", err)
	}
}

func boolLabel(b bool) string {
	if b {
		return "renewal"
	}
	return "initial"
}
