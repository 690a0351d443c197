// Package version implements the Version Repository (C2): a durable,
// append-only history of software versions installed on each device.
package version

import "time"

// Record is one installed-version entry for a device.
type Record struct {
	DeviceUUID  string
	Version     string
	InstalledAt time.Time
}
