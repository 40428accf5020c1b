package dto

import "time"

// CreateAnnouncementRequest carries the payload for announcement creation.
// The media fields reference an object already uploaded through the media
// service; this API treats them as opaque.
type CreateAnnouncementRequest struct {
	Title         string    `json:"title" binding:"required"`
	Media         string    `json:"media" binding:"required"`
	MediaType     string    `json:"media_type" binding:"required"`
	MediaDuration *float64  `json:"media_duration_seconds,omitempty"`
	Notes         string    `json:"notes"`
	StartDate     time.Time `json:"start_date" binding:"required"`
	EndDate       time.Time `json:"end_date" binding:"required"`
	DeviceIDs     []string  `json:"device_ids" binding:"required,min=1,dive,required"`
}

// AnnouncementQuery captures list filters from query parameters.
type AnnouncementQuery struct {
	Status    string `form:"status"`
	CreatedBy string `form:"created_by"`
	DeviceID  string `form:"device_id"`
	Search    string `form:"q"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
}
