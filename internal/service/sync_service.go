package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smartsign/signage-api/internal/models"
	"github.com/smartsign/signage-api/pkg/jobs"
)

type outboxStore interface {
	BatchCreate(ctx context.Context, messages []models.SyncMessage) error
	ListPending(ctx context.Context, limit int) ([]models.SyncMessage, error)
	MarkSent(ctx context.Context, ids []string, at time.Time) error
}

// StreamAppender appends an entry to a named per-device stream.
type StreamAppender interface {
	Append(ctx context.Context, stream string, values map[string]interface{}) error
}

// RedisStreamAppender implements StreamAppender on Redis streams. Device
// agents consume their stream with XREAD and acknowledge by position.
type RedisStreamAppender struct {
	client *redis.Client
}

// NewRedisStreamAppender wraps a Redis client.
func NewRedisStreamAppender(client *redis.Client) *RedisStreamAppender {
	return &RedisStreamAppender{client: client}
}

// Append adds one entry to the stream.
func (a *RedisStreamAppender) Append(ctx context.Context, stream string, values map[string]interface{}) error {
	return a.client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Err()
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// SyncServiceConfig tunes the dispatcher.
type SyncServiceConfig struct {
	StreamPrefix string
	BatchSize    int
}

// SyncService dispatches announcement changes to devices. Enqueue writes
// durable outbox rows in the announcement database; Forward drains pending
// rows to per-device streams and marks them sent. Delivery is at least once,
// so every message carries enough context for a device to re-apply it
// harmlessly.
type SyncService struct {
	outbox  outboxStore
	streams StreamAppender
	queue   jobDispatcher
	logger  *zap.Logger
	metrics *MetricsService
	cfg     SyncServiceConfig

	forwardMu sync.Mutex
}

// SyncServiceOption configures the service.
type SyncServiceOption func(*SyncService)

// WithSyncQueue attaches the background queue used to nudge the forwarder
// right after new rows land.
func WithSyncQueue(queue jobDispatcher) SyncServiceOption {
	return func(s *SyncService) {
		s.queue = queue
	}
}

// WithSyncMetrics attaches the metrics recorder.
func WithSyncMetrics(metrics *MetricsService) SyncServiceOption {
	return func(s *SyncService) {
		s.metrics = metrics
	}
}

// NewSyncService constructs the dispatcher.
func NewSyncService(outbox outboxStore, streams StreamAppender, cfg SyncServiceConfig, logger *zap.Logger, opts ...SyncServiceOption) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = "device-stream"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	svc := &SyncService{
		outbox:  outbox,
		streams: streams,
		logger:  logger,
		cfg:     cfg,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Enqueue records one message per target device. The write shares fate with
// the caller's announcement state change: once this returns nil, delivery is
// guaranteed to be attempted until it succeeds.
func (s *SyncService) Enqueue(ctx context.Context, deviceIDs []string, announcementID string, action models.SyncAction, mediaType *string, mediaDuration *float64) error {
	if len(deviceIDs) == 0 {
		return nil
	}
	messages := make([]models.SyncMessage, 0, len(deviceIDs))
	for _, deviceID := range deviceIDs {
		messages = append(messages, models.SyncMessage{
			ID:             uuid.NewString(),
			DeviceID:       deviceID,
			AnnouncementID: announcementID,
			Action:         action,
			MediaType:      mediaType,
			MediaDuration:  mediaDuration,
		})
	}
	if err := s.outbox.BatchCreate(ctx, messages); err != nil {
		return err
	}
	s.metrics.ObserveDispatch(string(action), len(messages))

	// Best effort nudge; the periodic forwarder picks up anything missed.
	if s.queue != nil {
		if err := s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: "sync-forward"}); err != nil {
			s.logger.Warn("failed to schedule forward job", zap.Error(err))
		}
	}
	return nil
}

// Forward drains one batch of pending outbox rows to their device streams.
// Rows are delivered in insertion order and only marked sent after the
// stream append succeeds, so a crash between the two replays the row.
func (s *SyncService) Forward(ctx context.Context) error {
	s.forwardMu.Lock()
	defer s.forwardMu.Unlock()

	messages, err := s.outbox.ListPending(ctx, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list pending sync messages: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}

	sent := make([]string, 0, len(messages))
	var appendErr error
	for _, msg := range messages {
		values := map[string]interface{}{
			"action":          string(msg.Action),
			"announcement_id": msg.AnnouncementID,
		}
		if msg.MediaType != nil {
			values["media_type"] = *msg.MediaType
		}
		if msg.MediaDuration != nil {
			values["media_duration_seconds"] = *msg.MediaDuration
		}
		stream := s.cfg.StreamPrefix + ":" + msg.DeviceID
		if err := s.streams.Append(ctx, stream, values); err != nil {
			appendErr = fmt.Errorf("append to %s: %w", stream, err)
			break
		}
		sent = append(sent, msg.ID)
	}

	if len(sent) > 0 {
		if err := s.outbox.MarkSent(ctx, sent, time.Now().UTC()); err != nil {
			// The appended rows stay pending and will be re-delivered; devices
			// tolerate the duplicate.
			s.logger.Error("failed to mark sync messages sent", zap.Error(err), zap.Int("count", len(sent)))
			return fmt.Errorf("mark sync messages sent: %w", err)
		}
		s.metrics.ObserveForwarded(len(sent))
	}
	return appendErr
}

// AttachQueue wires the background queue after construction; the queue's
// handler is this service, so the two cannot be built in one step.
func (s *SyncService) AttachQueue(queue jobDispatcher) {
	s.queue = queue
}

// HandleForwardJob adapts Forward to the background queue handler contract.
func (s *SyncService) HandleForwardJob(ctx context.Context, _ jobs.Job) error {
	return s.Forward(ctx)
}

// StartForwarder drains the outbox on a fixed interval until the context is
// canceled. This is the safety net behind the per-enqueue nudges.
func (s *SyncService) StartForwarder(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Forward(ctx); err != nil {
					s.logger.Error("sync forward pass failed", zap.Error(err))
				}
			}
		}
	}()
}
