package session

import (
	"context"

	"github.com/fleetedge/upflux-gateway/pkg/cloudmsg"
)

// Uplink is the narrow set of cloud-send operations the Device Session
// Handler needs. It is implemented by the Cloud Control Channel Worker
// (C10) and injected here at construction, which breaks the cyclic
// reference between C5 and C10: C5 never imports the channel worker
// package, only this interface.
type Uplink interface {
	SendMonitoring(ctx context.Context, msg cloudmsg.MonitoringData) error
	SendLicenseRequest(ctx context.Context, uuid string, isRenewal bool) error
	SendAlert(ctx context.Context, alert cloudmsg.Alert) error
	SendDeviceStatus(ctx context.Context, status cloudmsg.DeviceStatus) error
}

// ValidateResult is the outcome of a license gate check (§4.5).
type ValidateResult struct {
	// Valid is true when the device may proceed to DataExchange.
	Valid bool
}

// LicenseValidator implements the gating policy described in spec §4.5,
// delegated to the License Coordinator (C6).
type LicenseValidator interface {
	Validate(ctx context.Context, uuid string) (ValidateResult, error)
}
