package models

import "time"

// SyncAction names the change a device agent must apply.
type SyncAction string

const (
	SyncActionCreate SyncAction = "create"
	SyncActionDelete SyncAction = "delete"
)

// SyncStatus tracks an outbox row from intent to delivery.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "PENDING"
	SyncStatusSent    SyncStatus = "SENT"
)

// SyncMessage is one durable per-device "apply this change" intent. Rows are
// written in the same database as the announcement state they follow and
// forwarded to the device's stream at least once; device agents must treat
// re-applied messages as harmless.
type SyncMessage struct {
	ID             string     `db:"id" json:"id"`
	DeviceID       string     `db:"device_id" json:"device_id"`
	AnnouncementID string     `db:"announcement_id" json:"announcement_id"`
	Action         SyncAction `db:"action" json:"action"`
	MediaType      *string    `db:"media_type" json:"media_type,omitempty"`
	MediaDuration  *float64   `db:"media_duration" json:"media_duration_seconds,omitempty"`
	Status         SyncStatus `db:"status" json:"status"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	SentAt         *time.Time `db:"sent_at" json:"sent_at,omitempty"`
}
