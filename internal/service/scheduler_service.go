package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/smartsign/signage-api/internal/models"
)

type sweepAnnouncementStore interface {
	ListExpiredWaitingApproval(ctx context.Context, now time.Time) ([]models.Announcement, error)
	ListDueForSync(ctx context.Context, now time.Time) ([]models.Announcement, error)
	ListExpiredActive(ctx context.Context, now time.Time) ([]models.Announcement, error)
	BatchUpdateStatus(ctx context.Context, ids []string, from, to models.AnnouncementStatus) error
}

type sweepRequestStore interface {
	BatchReject(ctx context.Context, announcementIDs []string, excludeRequestID string) error
}

// SchedulerService advances announcements that time, rather than a reviewer,
// moves forward: approval timeouts, scheduled activations and natural
// completions. Sweeps are idempotent; the status guards in the store make a
// repeated pass a no-op.
type SchedulerService struct {
	announcements sweepAnnouncementStore
	requests      sweepRequestStore
	dispatcher    syncDispatcher
	logger        *zap.Logger
	metrics       *MetricsService
}

// NewSchedulerService constructs the scheduler.
func NewSchedulerService(
	announcements sweepAnnouncementStore,
	requests sweepRequestStore,
	dispatcher syncDispatcher,
	logger *zap.Logger,
	metrics *MetricsService,
) *SchedulerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchedulerService{
		announcements: announcements,
		requests:      requests,
		dispatcher:    dispatcher,
		logger:        logger,
		metrics:       metrics,
	}
}

// Sweep runs the three phases in order. A failing phase is logged and does
// not stop the others; the next sweep retries whatever was left behind.
func (s *SchedulerService) Sweep(ctx context.Context, now time.Time) {
	if err := s.expireUnapproved(ctx, now); err != nil {
		s.logger.Error("sweep: expire unapproved failed", zap.Error(err))
	}
	if err := s.activateDue(ctx, now); err != nil {
		s.logger.Error("sweep: activate due failed", zap.Error(err))
	}
	if err := s.completeExpired(ctx, now); err != nil {
		s.logger.Error("sweep: complete expired failed", zap.Error(err))
	}
}

// expireUnapproved rejects announcements still waiting for approval one full
// day past their start date, force-rejecting their open requests so no
// reviewer can decide them afterwards.
func (s *SchedulerService) expireUnapproved(ctx context.Context, now time.Time) error {
	expired, err := s.announcements.ListExpiredWaitingApproval(ctx, now)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}
	ids := announcementIDs(expired)
	if err := s.announcements.BatchUpdateStatus(ctx, ids, models.AnnouncementStatusWaitingForApproval, models.AnnouncementStatusRejected); err != nil {
		return err
	}
	if err := s.requests.BatchReject(ctx, ids, ""); err != nil {
		return err
	}
	s.metrics.ObserveSweep("expire_unapproved", len(ids))
	s.logger.Info("rejected expired unapproved announcements", zap.Int("count", len(ids)))
	return nil
}

// activateDue activates approved announcements whose start date has arrived
// and tells their devices to fetch the content. An announcement whose
// dispatch fails stays in WAITING_FOR_SYNC and is retried next sweep.
func (s *SchedulerService) activateDue(ctx context.Context, now time.Time) error {
	due, err := s.announcements.ListDueForSync(ctx, now)
	if err != nil {
		return err
	}
	activated := make([]string, 0, len(due))
	for i := range due {
		announcement := &due[i]
		mediaType := announcement.MediaType
		if err := s.dispatcher.Enqueue(ctx, announcement.DeviceIDs, announcement.ID, models.SyncActionCreate, &mediaType, announcement.MediaDuration); err != nil {
			s.logger.Error("sweep: dispatch activation failed",
				zap.String("announcement_id", announcement.ID), zap.Error(err))
			continue
		}
		activated = append(activated, announcement.ID)
	}
	if len(activated) == 0 {
		return nil
	}
	if err := s.announcements.BatchUpdateStatus(ctx, activated, models.AnnouncementStatusWaitingForSync, models.AnnouncementStatusActive); err != nil {
		return err
	}
	s.metrics.ObserveSweep("activate_due", len(activated))
	s.logger.Info("activated due announcements", zap.Int("count", len(activated)))
	return nil
}

// completeExpired finishes active announcements past their end date: devices
// drop the content, the announcement becomes DONE, and requests still open
// against it are force-rejected.
func (s *SchedulerService) completeExpired(ctx context.Context, now time.Time) error {
	expired, err := s.announcements.ListExpiredActive(ctx, now)
	if err != nil {
		return err
	}
	completed := make([]string, 0, len(expired))
	for i := range expired {
		announcement := &expired[i]
		if err := s.dispatcher.Enqueue(ctx, announcement.DeviceIDs, announcement.ID, models.SyncActionDelete, nil, nil); err != nil {
			s.logger.Error("sweep: dispatch completion failed",
				zap.String("announcement_id", announcement.ID), zap.Error(err))
			continue
		}
		completed = append(completed, announcement.ID)
	}
	if len(completed) == 0 {
		return nil
	}
	if err := s.announcements.BatchUpdateStatus(ctx, completed, models.AnnouncementStatusActive, models.AnnouncementStatusDone); err != nil {
		return err
	}
	if err := s.requests.BatchReject(ctx, completed, ""); err != nil {
		return err
	}
	s.metrics.ObserveSweep("complete_expired", len(completed))
	s.logger.Info("completed expired announcements", zap.Int("count", len(completed)))
	return nil
}

// Start sweeps immediately to catch up on downtime, then on every tick until
// the context is canceled. Run one instance per deployment.
func (s *SchedulerService) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	go func() {
		s.Sweep(ctx, time.Now().UTC())
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx, time.Now().UTC())
			}
		}
	}()
}

func announcementIDs(announcements []models.Announcement) []string {
	ids := make([]string, 0, len(announcements))
	for i := range announcements {
		ids = append(ids, announcements[i].ID)
	}
	return ids
}
