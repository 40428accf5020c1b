package models

import (
	"time"

	"github.com/lib/pq"
)

// AnnouncementStatus tracks an announcement through its lifecycle. The
// transient statuses (waiting for approval, waiting for sync, active) move
// forward through the approval engine or the scheduler; done, canceled and
// rejected are terminal.
type AnnouncementStatus string

const (
	AnnouncementStatusWaitingForApproval AnnouncementStatus = "WAITING_FOR_APPROVAL"
	AnnouncementStatusWaitingForSync     AnnouncementStatus = "WAITING_FOR_SYNC"
	AnnouncementStatusActive             AnnouncementStatus = "ACTIVE"
	AnnouncementStatusDone               AnnouncementStatus = "DONE"
	AnnouncementStatusCanceled           AnnouncementStatus = "CANCELED"
	AnnouncementStatusRejected           AnnouncementStatus = "REJECTED"
)

// Announcement represents a persisted announcement row plus its aggregated
// device targets.
type Announcement struct {
	ID            string             `db:"id" json:"id"`
	Title         string             `db:"title" json:"title"`
	Media         string             `db:"media" json:"media"`
	MediaType     string             `db:"media_type" json:"media_type"`
	MediaDuration *float64           `db:"media_duration" json:"media_duration,omitempty"`
	Notes         string             `db:"notes" json:"notes"`
	Status        AnnouncementStatus `db:"status" json:"status"`
	StartDate     time.Time          `db:"start_date" json:"start_date"`
	EndDate       time.Time          `db:"end_date" json:"end_date"`
	CreatedBy     string             `db:"created_by" json:"created_by"`
	DeviceIDs     pq.StringArray     `db:"device_ids" json:"device_ids"`
	CreatedAt     time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `db:"updated_at" json:"updated_at"`
}

// AnnouncementFilter constrains listing queries.
type AnnouncementFilter struct {
	Status       []AnnouncementStatus
	CreatedBy    string
	DeviceID     string
	StartDateGTE *time.Time
	EndDateLTE   *time.Time
	Search       string
	Limit        int
	Offset       int
}
