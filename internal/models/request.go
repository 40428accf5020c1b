package models

import (
	"time"

	"github.com/lib/pq"
)

// RequestAction enumerates mutations that require dual approval.
type RequestAction string

const (
	RequestActionCreate        RequestAction = "CREATE"
	RequestActionExtendDate    RequestAction = "EXTEND_DATE"
	RequestActionDelete        RequestAction = "DELETE"
	RequestActionChangeDevices RequestAction = "CHANGE_DEVICES"

	// RequestActionChangeContent is reserved in the action taxonomy but has
	// no handling path yet; both submission and decision reject it.
	RequestActionChangeContent RequestAction = "CHANGE_CONTENT"
)

// Submittable reports whether the action may enter through the public
// submission endpoint. CREATE requests are only produced implicitly when an
// announcement is created.
func (a RequestAction) Submittable() bool {
	switch a {
	case RequestActionExtendDate, RequestActionDelete, RequestActionChangeDevices:
		return true
	default:
		return false
	}
}

// RequiredStatus returns the announcement status the action operates on.
func (a RequestAction) RequiredStatus() AnnouncementStatus {
	if a == RequestActionCreate {
		return AnnouncementStatusWaitingForApproval
	}
	return AnnouncementStatusActive
}

// Request stores a proposed announcement mutation awaiting two independent
// reviewer decisions. Each approval slot transitions at most once, from
// absent to present, and is never reset.
type Request struct {
	ID             string        `db:"id" json:"id"`
	Action         RequestAction `db:"action" json:"action"`
	AnnouncementID string        `db:"announcement_id" json:"announcement_id"`
	RequestedBy    string        `db:"requested_by" json:"requested_by"`
	Description    string        `db:"description" json:"description"`

	ApprovedByCM *bool   `db:"approved_by_cm" json:"approved_by_cm,omitempty"`
	CMApproverID *string `db:"cm_approver_id" json:"cm_approver_id,omitempty"`
	ApprovedByBM *bool   `db:"approved_by_bm" json:"approved_by_bm,omitempty"`
	BMApproverID *string `db:"bm_approver_id" json:"bm_approver_id,omitempty"`

	// Action-specific metadata: exactly one of the following is set for
	// EXTEND_DATE and CHANGE_DEVICES, neither for CREATE and DELETE.
	ExtendedEndDate *time.Time     `db:"extended_end_date" json:"extended_end_date,omitempty"`
	NewDeviceIDs    pq.StringArray `db:"new_device_ids" json:"new_device_ids,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Decided reports whether the request reached a final outcome: rejected as
// soon as either slot holds false, approved once both hold true.
func (r *Request) Decided() bool {
	if r.ApprovedByCM != nil && !*r.ApprovedByCM {
		return true
	}
	if r.ApprovedByBM != nil && !*r.ApprovedByBM {
		return true
	}
	return r.ApprovedByCM != nil && r.ApprovedByBM != nil
}

// RequestApproval holds the merged slot state for one decision pass: the
// slot(s) just decided plus any previously persisted slot.
type RequestApproval struct {
	ApprovedByCM *bool
	CMApproverID *string
	ApprovedByBM *bool
	BMApproverID *string
}

// FullyApproved reports whether both reviewer slots hold true.
func (a RequestApproval) FullyApproved() bool {
	return a.ApprovedByCM != nil && *a.ApprovedByCM && a.ApprovedByBM != nil && *a.ApprovedByBM
}

// AnyRejected reports whether either reviewer slot holds false.
func (a RequestApproval) AnyRejected() bool {
	if a.ApprovedByCM != nil && !*a.ApprovedByCM {
		return true
	}
	return a.ApprovedByBM != nil && !*a.ApprovedByBM
}

// RequestFilter constrains listing queries.
type RequestFilter struct {
	AnnouncementID string
	RequestedBy    string
	Action         RequestAction
	ApprovedByCM   *bool
	ApprovedByBM   *bool
	Limit          int
	Offset         int
}
