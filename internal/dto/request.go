package dto

import "time"

// CreateRequestRequest submits a change request against an announcement.
// Metadata fields are action-specific: extended_end_date for EXTEND_DATE,
// new_device_ids for CHANGE_DEVICES.
type CreateRequestRequest struct {
	Action          string     `json:"action" binding:"required"`
	AnnouncementID  string     `json:"announcement_id" binding:"required"`
	Description     string     `json:"description"`
	ExtendedEndDate *time.Time `json:"extended_end_date,omitempty"`
	NewDeviceIDs    []string   `json:"new_device_ids,omitempty"`
}

// DecideRequestRequest carries a reviewer decision. Approve is a pointer so
// an explicit false survives binding validation.
type DecideRequestRequest struct {
	Approve *bool `json:"approve" binding:"required"`
}

// RequestQuery captures list filters from query parameters.
type RequestQuery struct {
	AnnouncementID string `form:"announcement_id"`
	RequestedBy    string `form:"requested_by"`
	Action         string `form:"action"`
	Page           int    `form:"page"`
	PageSize       int    `form:"page_size"`
}
