package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/smartsign/signage-api/internal/models"
)

// DeviceRepository reads the device registry owned by the provisioning
// service. Announcement targeting is validated against it; nothing here
// writes.
type DeviceRepository struct {
	db *sqlx.DB
}

// NewDeviceRepository constructs the repository.
func NewDeviceRepository(db *sqlx.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// ExistAll reports whether every id references a registered device.
func (r *DeviceRepository) ExistAll(ctx context.Context, ids []string) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}
	unique := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		unique[id] = struct{}{}
	}
	const query = `SELECT COUNT(DISTINCT id) FROM devices WHERE id = ANY($1)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, pq.Array(ids)); err != nil {
		return false, fmt.Errorf("count devices: %w", err)
	}
	return count == len(unique), nil
}

// ListByIDs fetches device read models for the given ids.
func (r *DeviceRepository) ListByIDs(ctx context.Context, ids []string) ([]models.Device, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `SELECT id, name, description, floor_id, building_id, created_at, updated_at
	FROM devices WHERE id = ANY($1) ORDER BY name`
	var devices []models.Device
	if err := r.db.SelectContext(ctx, &devices, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}
