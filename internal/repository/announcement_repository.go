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

const announcementColumns = `a.id, a.title, a.media, a.media_type, a.media_duration, a.notes, a.status,
       a.start_date, a.end_date, a.created_by, a.created_at, a.updated_at,
       COALESCE(array_agg(ad.device_id ORDER BY ad.position) FILTER (WHERE ad.device_id IS NOT NULL), '{}') AS device_ids`

// AnnouncementRepository persists announcements and their device targets.
type AnnouncementRepository struct {
	db *sqlx.DB
}

// NewAnnouncementRepository constructs the repository.
func NewAnnouncementRepository(db *sqlx.DB) *AnnouncementRepository {
	return &AnnouncementRepository{db: db}
}

// Create inserts the announcement row and its device associations in one
// transaction. The caller guarantees a non-empty device set.
func (r *AnnouncementRepository) Create(ctx context.Context, a *models.Announcement) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = models.AnnouncementStatusWaitingForApproval
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = a.CreatedAt

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create announcement: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insertAnnouncement = `INSERT INTO announcements
	(id, title, media, media_type, media_duration, notes, status, start_date, end_date, created_by, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	if _, err := tx.ExecContext(ctx, insertAnnouncement,
		a.ID, a.Title, a.Media, a.MediaType, a.MediaDuration, a.Notes, a.Status,
		a.StartDate, a.EndDate, a.CreatedBy, a.CreatedAt, a.UpdatedAt,
	); err != nil {
		return fmt.Errorf("create announcement: %w", err)
	}

	if err := insertAnnouncementDevices(ctx, tx, a.ID, a.DeviceIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create announcement: %w", err)
	}
	return nil
}

func insertAnnouncementDevices(ctx context.Context, tx *sqlx.Tx, announcementID string, deviceIDs []string) error {
	const insertDevice = `INSERT INTO announcement_devices (announcement_id, device_id, position) VALUES ($1, $2, $3)`
	for i, deviceID := range deviceIDs {
		if _, err := tx.ExecContext(ctx, insertDevice, announcementID, deviceID, i); err != nil {
			return fmt.Errorf("attach announcement device: %w", err)
		}
	}
	return nil
}

// GetByID fetches an announcement with its aggregated device ids.
func (r *AnnouncementRepository) GetByID(ctx context.Context, id string) (*models.Announcement, error) {
	query := fmt.Sprintf(`SELECT %s
	FROM announcements a
	LEFT JOIN announcement_devices ad ON ad.announcement_id = a.id
	WHERE a.id = $1
	GROUP BY a.id`, announcementColumns)
	var announcement models.Announcement
	if err := r.db.GetContext(ctx, &announcement, query, id); err != nil {
		return nil, err
	}
	return &announcement, nil
}

// List returns announcements matching the filter (latest first).
func (r *AnnouncementRepository) List(ctx context.Context, filter models.AnnouncementFilter) ([]models.Announcement, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString(`SELECT ` + announcementColumns + `
	FROM announcements a
	LEFT JOIN announcement_devices ad ON ad.announcement_id = a.id`)

	conditions := make([]string, 0, 5)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("a.status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		conditions = append(conditions, fmt.Sprintf("a.created_by = $%d", len(args)))
	}
	if filter.DeviceID != "" {
		args = append(args, filter.DeviceID)
		conditions = append(conditions, fmt.Sprintf(
			"a.id IN (SELECT announcement_id FROM announcement_devices WHERE device_id = $%d)", len(args)))
	}
	if filter.StartDateGTE != nil {
		args = append(args, *filter.StartDateGTE)
		conditions = append(conditions, fmt.Sprintf("a.start_date >= $%d", len(args)))
	}
	if filter.EndDateLTE != nil {
		args = append(args, *filter.EndDateLTE)
		conditions = append(conditions, fmt.Sprintf("a.end_date <= $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conditions = append(conditions, fmt.Sprintf("a.title ILIKE $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" GROUP BY a.id ORDER BY a.created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var announcements []models.Announcement
	if err := r.db.SelectContext(ctx, &announcements, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}
	return announcements, nil
}

// UpdateStatus transitions the announcement from an expected status. Zero
// rows affected means another actor already moved it; callers decide whether
// that is a conflict or a no-op.
func (r *AnnouncementRepository) UpdateStatus(ctx context.Context, id string, from, to models.AnnouncementStatus) error {
	const query = `UPDATE announcements SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	result, err := r.db.ExecContext(ctx, query, to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("update announcement status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check announcement status rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// BatchUpdateStatus transitions every listed announcement still in the
// expected status. Rows already past the transition are skipped, which keeps
// scheduler sweeps idempotent.
func (r *AnnouncementRepository) BatchUpdateStatus(ctx context.Context, ids []string, from, to models.AnnouncementStatus) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE announcements SET status = $1, updated_at = $2 WHERE id = ANY($3) AND status = $4`
	if _, err := r.db.ExecContext(ctx, query, to, time.Now().UTC(), pq.Array(ids), from); err != nil {
		return fmt.Errorf("batch update announcement status: %w", err)
	}
	return nil
}

// UpdateEndDate persists an approved date extension. Only active
// announcements can be extended.
func (r *AnnouncementRepository) UpdateEndDate(ctx context.Context, id string, endDate time.Time) error {
	const query = `UPDATE announcements SET end_date = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	result, err := r.db.ExecContext(ctx, query, endDate, time.Now().UTC(), id, models.AnnouncementStatusActive)
	if err != nil {
		return fmt.Errorf("update announcement end date: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check announcement end date rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ReplaceDevices atomically swaps the announcement's device target set.
func (r *AnnouncementRepository) ReplaceDevices(ctx context.Context, id string, deviceIDs []string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace devices: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM announcement_devices WHERE announcement_id = $1`, id); err != nil {
		return fmt.Errorf("clear announcement devices: %w", err)
	}
	if err := insertAnnouncementDevices(ctx, tx, id, deviceIDs); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE announcements SET updated_at = $1 WHERE id = $2`, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("touch announcement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace devices: %w", err)
	}
	return nil
}

// ListExpiredWaitingApproval returns announcements still waiting for approval
// one full day after their start date.
func (r *AnnouncementRepository) ListExpiredWaitingApproval(ctx context.Context, now time.Time) ([]models.Announcement, error) {
	query := fmt.Sprintf(`SELECT %s
	FROM announcements a
	LEFT JOIN announcement_devices ad ON ad.announcement_id = a.id
	WHERE a.status = $1 AND a.start_date + INTERVAL '1 day' < $2
	GROUP BY a.id
	ORDER BY a.start_date`, announcementColumns)
	var announcements []models.Announcement
	if err := r.db.SelectContext(ctx, &announcements, query, models.AnnouncementStatusWaitingForApproval, now); err != nil {
		return nil, fmt.Errorf("list expired waiting-for-approval announcements: %w", err)
	}
	return announcements, nil
}

// ListDueForSync returns approved announcements whose start date has arrived.
func (r *AnnouncementRepository) ListDueForSync(ctx context.Context, now time.Time) ([]models.Announcement, error) {
	query := fmt.Sprintf(`SELECT %s
	FROM announcements a
	LEFT JOIN announcement_devices ad ON ad.announcement_id = a.id
	WHERE a.status = $1 AND a.start_date <= $2
	GROUP BY a.id
	ORDER BY a.start_date`, announcementColumns)
	var announcements []models.Announcement
	if err := r.db.SelectContext(ctx, &announcements, query, models.AnnouncementStatusWaitingForSync, now); err != nil {
		return nil, fmt.Errorf("list due-for-sync announcements: %w", err)
	}
	return announcements, nil
}

// ListExpiredActive returns active announcements whose end date has passed.
func (r *AnnouncementRepository) ListExpiredActive(ctx context.Context, now time.Time) ([]models.Announcement, error) {
	query := fmt.Sprintf(`SELECT %s
	FROM announcements a
	LEFT JOIN announcement_devices ad ON ad.announcement_id = a.id
	WHERE a.status = $1 AND a.end_date < $2
	GROUP BY a.id
	ORDER BY a.end_date`, announcementColumns)
	var announcements []models.Announcement
	if err := r.db.SelectContext(ctx, &announcements, query, models.AnnouncementStatusActive, now); err != nil {
		return nil, fmt.Errorf("list expired active announcements: %w", err)
	}
	return announcements, nil
}
