package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin           UserRole = "ADMIN"
	RoleContentManager  UserRole = "CONTENT_MANAGER"
	RoleBuildingManager UserRole = "BUILDING_MANAGER"
	RoleStaff           UserRole = "STAFF"
)

// CanApprove reports whether the role participates in request approval.
// Admins may act for either reviewer role.
func (r UserRole) CanApprove() bool {
	switch r {
	case RoleAdmin, RoleContentManager, RoleBuildingManager:
		return true
	default:
		return false
	}
}

// User represents an application user stored in the users table. Account
// administration and credential handling live in the identity service; this
// API only reads users to attribute and authorize workflow actions.
type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	FullName  string    `db:"full_name" json:"full_name"`
	Role      UserRole  `db:"role" json:"role"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
