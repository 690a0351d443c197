package version

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetedge/upflux-gateway/pkg/gatewayerr"
)

// Store is the Postgres-backed Version Repository.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// InsertIfAbsent records that version was installed on deviceUUID at
// installedAt. A no-op if the (device_uuid, version) pair already exists.
func (s *Store) InsertIfAbsent(ctx context.Context, r Record) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO version_records (device_uuid, version, installed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_uuid, version) DO NOTHING
	`, r.DeviceUUID, r.Version, r.InstalledAt)
	if err != nil {
		return gatewayerr.New(gatewayerr.KindStorage, "version.InsertIfAbsent", err)
	}
	return nil
}

// ListByDevice returns every version record for a device, oldest first.
func (s *Store) ListByDevice(ctx context.Context, deviceUUID string) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT device_uuid, version, installed_at
		FROM version_records
		WHERE device_uuid = $1
		ORDER BY installed_at ASC
	`, deviceUUID)
	if err != nil {
		return nil, gatewayerr.New(gatewayerr.KindStorage, "version.ListByDevice", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.DeviceUUID, &r.Version, &r.InstalledAt); err != nil {
			return nil, gatewayerr.New(gatewayerr.KindStorage, "version.ListByDevice", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, gatewayerr.New(gatewayerr.KindStorage, "version.ListByDevice", err)
	}
	return out, nil
}
