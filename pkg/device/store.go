package device

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetedge/upflux-gateway/pkg/gatewayerr"
)

// ErrNotFound is returned by Get when no device with the given UUID exists.
var ErrNotFound = errors.New("device: not found")

// Store is the Postgres-backed Device Repository (C1).
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const deviceColumns = `uuid, ip, license, license_expiration, next_earliest_renewal, registration_status, last_seen`

func scanDevice(row pgx.Row) (Device, error) {
	var d Device
	var status string
	if err := row.Scan(&d.UUID, &d.IP, &d.License, &d.LicenseExpiration, &d.NextEarliestRenewal, &status, &d.LastSeen); err != nil {
		return Device{}, err
	}
	d.RegistrationStatus = RegistrationStatus(status)
	return d, nil
}

// Get retrieves a device by UUID. Returns ErrNotFound if it does not exist.
func (s *Store) Get(ctx context.Context, uuid string) (Device, error) {
	row := s.db.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE uuid = $1`, uuid)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Device{}, ErrNotFound
		}
		return Device{}, gatewayerr.New(gatewayerr.KindStorage, "device.Get", err)
	}
	return d, nil
}

// Upsert performs a whole-row replace, atomic with respect to concurrent
// Get calls (a single statement under Postgres's row-level MVCC).
func (s *Store) Upsert(ctx context.Context, d Device) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO devices (uuid, ip, license, license_expiration, next_earliest_renewal, registration_status, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (uuid) DO UPDATE SET
			ip = EXCLUDED.ip,
			license = EXCLUDED.license,
			license_expiration = EXCLUDED.license_expiration,
			next_earliest_renewal = EXCLUDED.next_earliest_renewal,
			registration_status = EXCLUDED.registration_status,
			last_seen = EXCLUDED.last_seen
	`, d.UUID, d.IP, d.License, d.LicenseExpiration, d.NextEarliestRenewal, string(d.RegistrationStatus), d.LastSeen)
	if err != nil {
		return gatewayerr.New(gatewayerr.KindStorage, "device.Upsert", err)
	}
	return nil
}

// ListAll returns every known device.
func (s *Store) ListAll(ctx context.Context) ([]Device, error) {
	rows, err := s.db.Query(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY uuid`)
	if err != nil {
		return nil, gatewayerr.New(gatewayerr.KindStorage, "device.ListAll", err)
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, gatewayerr.New(gatewayerr.KindStorage, "device.ListAll", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, gatewayerr.New(gatewayerr.KindStorage, "device.ListAll", err)
	}
	return out, nil
}
