package models

import "time"

// Device is a read model of the device registry owned by the provisioning
// service. This API never mutates devices; it only validates targeting.
type Device struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	FloorID     *string   `db:"floor_id" json:"floor_id,omitempty"`
	BuildingID  *string   `db:"building_id" json:"building_id,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
