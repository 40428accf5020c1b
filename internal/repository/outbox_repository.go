package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/smartsign/signage-api/internal/models"
)

// OutboxRepository persists device synchronization intents. Rows live in the
// same database as announcement state so that "status changed" and "device
// will be told" are written together; the forwarder drains them to the
// per-device streams afterwards.
type OutboxRepository struct {
	db *sqlx.DB
}

// NewOutboxRepository constructs the repository.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// BatchCreate appends one pending row per message.
func (r *OutboxRepository) BatchCreate(ctx context.Context, messages []models.SyncMessage) error {
	if len(messages) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range messages {
		if messages[i].ID == "" {
			messages[i].ID = uuid.NewString()
		}
		if messages[i].Status == "" {
			messages[i].Status = models.SyncStatusPending
		}
		if messages[i].CreatedAt.IsZero() {
			messages[i].CreatedAt = now
		}
	}
	const query = `INSERT INTO sync_outbox
	(id, device_id, announcement_id, action, media_type, media_duration, status, created_at)
	VALUES (:id, :device_id, :announcement_id, :action, :media_type, :media_duration, :status, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, messages); err != nil {
		return fmt.Errorf("create sync outbox rows: %w", err)
	}
	return nil
}

// ListPending returns undelivered rows in insertion order, which preserves
// per-device ordering when drained sequentially.
func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]models.SyncMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT id, device_id, announcement_id, action, media_type, media_duration, status, created_at, sent_at
	FROM sync_outbox WHERE status = $1 ORDER BY created_at, id LIMIT $2`
	var messages []models.SyncMessage
	if err := r.db.SelectContext(ctx, &messages, query, models.SyncStatusPending, limit); err != nil {
		return nil, fmt.Errorf("list pending sync messages: %w", err)
	}
	return messages, nil
}

// MarkSent flags delivered rows. Re-marking an already sent row is a no-op,
// so a forwarder retry after a partial failure stays safe.
func (r *OutboxRepository) MarkSent(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE sync_outbox SET status = $1, sent_at = $2 WHERE id = ANY($3) AND status = $4`
	if _, err := r.db.ExecContext(ctx, query, models.SyncStatusSent, at.UTC(), pq.Array(ids), models.SyncStatusPending); err != nil {
		return fmt.Errorf("mark sync messages sent: %w", err)
	}
	return nil
}
