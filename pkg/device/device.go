// Package device implements the Device Repository (C1): a durable keyed
// mapping uuid -> Device, backed by Postgres.
package device

import "time"

// RegistrationStatus is the lifecycle state of a Device row.
type RegistrationStatus string

const (
	StatusPending    RegistrationStatus = "pending"
	StatusRegistered RegistrationStatus = "registered"
)

// Device is the durable record for one field endpoint. License != nil
// implies LicenseExpiration != nil; NextEarliestRenewal is only set in the
// future when the most recent renewal attempt was rejected by the cloud.
type Device struct {
	UUID                string
	IP                  string
	License             *string
	LicenseExpiration   *time.Time
	NextEarliestRenewal *time.Time
	RegistrationStatus  RegistrationStatus
	LastSeen            *time.Time
}

// HasValidLicense reports whether the device's license is present and not
// yet expired as of now.
func (d *Device) HasValidLicense(now time.Time) bool {
	return d.License != nil && d.LicenseExpiration != nil && d.LicenseExpiration.After(now)
}

// RenewalBlocked reports whether a rejected-renewal cooldown is still in
// effect as of now.
func (d *Device) RenewalBlocked(now time.Time) bool {
	return d.NextEarliestRenewal != nil && d.NextEarliestRenewal.After(now)
}
