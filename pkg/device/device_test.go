package device

import (
	"testing"
	"time"
)

func TestHasValidLicense(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	lic := "abc123"

	tests := []struct {
		name string
		d    Device
		want bool
	}{
		{
			name: "no license",
			d:    Device{},
			want: false,
		},
		{
			name: "license with no expiration",
			d:    Device{License: &lic},
			want: false,
		},
		{
			name: "license expired",
			d: Device{
				License:           &lic,
				LicenseExpiration: ptrTime(now.Add(-time.Minute)),
			},
			want: false,
		},
		{
			name: "license valid",
			d: Device{
				License:           &lic,
				LicenseExpiration: ptrTime(now.Add(time.Hour)),
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.HasValidLicense(now); got != tt.want {
				t.Errorf("HasValidLicense() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRenewalBlocked(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		d    Device
		want bool
	}{
		{
			name: "no cooldown set",
			d:    Device{},
			want: false,
		},
		{
			name: "cooldown in the past",
			d:    Device{NextEarliestRenewal: ptrTime(now.Add(-time.Hour))},
			want: false,
		},
		{
			name: "cooldown in the future",
			d:    Device{NextEarliestRenewal: ptrTime(now.Add(time.Hour))},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.RenewalBlocked(now); got != tt.want {
				t.Errorf("RenewalBlocked() = %v, want %v", got, tt.want)
			}
		})
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
