package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/smartsign/signage-api/internal/models"
)

const requestColumns = `id, action, announcement_id, requested_by, description,
       approved_by_cm, cm_approver_id, approved_by_bm, bm_approver_id,
       extended_end_date, new_device_ids, created_at`

// RequestRepository persists change requests and their approval slots.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new undecided request row.
func (r *RequestRepository) Create(ctx context.Context, request *models.Request) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO requests
	(id, action, announcement_id, requested_by, description, extended_end_date, new_device_ids, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	var deviceIDs interface{}
	if len(request.NewDeviceIDs) > 0 {
		deviceIDs = request.NewDeviceIDs
	}
	if _, err := r.db.ExecContext(ctx, query,
		request.ID, request.Action, request.AnnouncementID, request.RequestedBy,
		request.Description, request.ExtendedEndDate, deviceIDs, request.CreatedAt,
	); err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM requests WHERE id = $1`, requestColumns)
	var request models.Request
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns requests matching the filter (latest first).
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 5)
	builder.WriteString(`SELECT ` + requestColumns + ` FROM requests`)

	conditions := make([]string, 0, 5)
	if filter.AnnouncementID != "" {
		args = append(args, filter.AnnouncementID)
		conditions = append(conditions, fmt.Sprintf("announcement_id = $%d", len(args)))
	}
	if filter.RequestedBy != "" {
		args = append(args, filter.RequestedBy)
		conditions = append(conditions, fmt.Sprintf("requested_by = $%d", len(args)))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		conditions = append(conditions, fmt.Sprintf("action = $%d", len(args)))
	}
	if filter.ApprovedByCM != nil {
		args = append(args, *filter.ApprovedByCM)
		conditions = append(conditions, fmt.Sprintf("approved_by_cm = $%d", len(args)))
	}
	if filter.ApprovedByBM != nil {
		args = append(args, *filter.ApprovedByBM)
		conditions = append(conditions, fmt.Sprintf("approved_by_bm = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.Request
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return requests, nil
}

// SetApprovalParams carries the slot deltas of one decision pass. Only the
// slots decided in this pass are non-nil; previously persisted slots are
// never rewritten.
type SetApprovalParams struct {
	RequestID    string
	ApprovedByCM *bool
	CMApproverID *string
	ApprovedByBM *bool
	BMApproverID *string
}

// SetApproval writes the decided slot(s) with a compare-and-set per slot:
// each write only succeeds while the slot is still empty. Zero rows affected
// means another decision (a concurrent approver or a scheduler timeout) won
// the race, reported as sql.ErrNoRows.
func (r *RequestRepository) SetApproval(ctx context.Context, params SetApprovalParams) error {
	setParts := make([]string, 0, 4)
	guards := make([]string, 0, 2)
	args := make([]interface{}, 0, 5)

	if params.ApprovedByCM != nil {
		args = append(args, *params.ApprovedByCM)
		setParts = append(setParts, fmt.Sprintf("approved_by_cm = $%d", len(args)))
		args = append(args, params.CMApproverID)
		setParts = append(setParts, fmt.Sprintf("cm_approver_id = $%d", len(args)))
		guards = append(guards, "approved_by_cm IS NULL")
	}
	if params.ApprovedByBM != nil {
		args = append(args, *params.ApprovedByBM)
		setParts = append(setParts, fmt.Sprintf("approved_by_bm = $%d", len(args)))
		args = append(args, params.BMApproverID)
		setParts = append(setParts, fmt.Sprintf("bm_approver_id = $%d", len(args)))
		guards = append(guards, "approved_by_bm IS NULL")
	}
	if len(setParts) == 0 {
		return nil
	}

	args = append(args, params.RequestID)
	query := fmt.Sprintf("UPDATE requests SET %s WHERE id = $%d AND %s",
		strings.Join(setParts, ", "), len(args), strings.Join(guards, " AND "))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set request approval: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check request approval rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// BatchReject force-fills the empty slots of every still-undecided request
// tied to the given announcements with false, leaving approver ids empty to
// record that no human decided. Requests already rejected or fully approved
// are untouched.
func (r *RequestRepository) BatchReject(ctx context.Context, announcementIDs []string, excludeRequestID string) error {
	if len(announcementIDs) == 0 {
		return nil
	}
	builder := strings.Builder{}
	builder.WriteString(`UPDATE requests
	SET approved_by_cm = COALESCE(approved_by_cm, FALSE),
	    approved_by_bm = COALESCE(approved_by_bm, FALSE)
	WHERE announcement_id = ANY($1)
	  AND (approved_by_cm IS NULL OR approved_by_bm IS NULL)
	  AND COALESCE(approved_by_cm, TRUE)
	  AND COALESCE(approved_by_bm, TRUE)`)
	args := []interface{}{pq.Array(announcementIDs)}
	if excludeRequestID != "" {
		args = append(args, excludeRequestID)
		builder.WriteString(fmt.Sprintf(" AND id <> $%d", len(args)))
	}
	if _, err := r.db.ExecContext(ctx, builder.String(), args...); err != nil {
		return fmt.Errorf("batch reject requests: %w", err)
	}
	return nil
}
