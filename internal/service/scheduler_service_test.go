package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smartsign/signage-api/internal/models"
)

type statusTransition struct {
	ids  []string
	from models.AnnouncementStatus
	to   models.AnnouncementStatus
}

type sweepAnnouncementStub struct {
	expiredWaiting []models.Announcement
	dueForSync     []models.Announcement
	expiredActive  []models.Announcement
	transitions    []statusTransition
}

func (s *sweepAnnouncementStub) ListExpiredWaitingApproval(ctx context.Context, now time.Time) ([]models.Announcement, error) {
	return s.expiredWaiting, nil
}

func (s *sweepAnnouncementStub) ListDueForSync(ctx context.Context, now time.Time) ([]models.Announcement, error) {
	return s.dueForSync, nil
}

func (s *sweepAnnouncementStub) ListExpiredActive(ctx context.Context, now time.Time) ([]models.Announcement, error) {
	return s.expiredActive, nil
}

func (s *sweepAnnouncementStub) BatchUpdateStatus(ctx context.Context, ids []string, from, to models.AnnouncementStatus) error {
	s.transitions = append(s.transitions, statusTransition{ids: ids, from: from, to: to})
	return nil
}

type sweepRequestStub struct {
	rejected [][]string
	excluded []string
}

func (s *sweepRequestStub) BatchReject(ctx context.Context, announcementIDs []string, excludeRequestID string) error {
	s.rejected = append(s.rejected, announcementIDs)
	s.excluded = append(s.excluded, excludeRequestID)
	return nil
}

func sweepAnnouncement(id string, status models.AnnouncementStatus, deviceIDs ...string) models.Announcement {
	return models.Announcement{
		ID:        id,
		Title:     "Maintenance notice",
		MediaType: "image",
		Status:    status,
		DeviceIDs: deviceIDs,
	}
}

func TestSchedulerSweepExpiresUnapproved(t *testing.T) {
	announcements := &sweepAnnouncementStub{
		expiredWaiting: []models.Announcement{
			sweepAnnouncement("ann-1", models.AnnouncementStatusWaitingForApproval, "dev-1"),
			sweepAnnouncement("ann-2", models.AnnouncementStatusWaitingForApproval, "dev-2"),
		},
	}
	requests := &sweepRequestStub{}
	dispatcher := &dispatcherStub{}
	svc := NewSchedulerService(announcements, requests, dispatcher, nil, nil)

	svc.Sweep(context.Background(), testClock())

	require.Len(t, announcements.transitions, 1)
	require.Equal(t, []string{"ann-1", "ann-2"}, announcements.transitions[0].ids)
	require.Equal(t, models.AnnouncementStatusWaitingForApproval, announcements.transitions[0].from)
	require.Equal(t, models.AnnouncementStatusRejected, announcements.transitions[0].to)
	require.Equal(t, [][]string{{"ann-1", "ann-2"}}, requests.rejected)
	require.Equal(t, []string{""}, requests.excluded)
	require.Empty(t, dispatcher.calls)
}

func TestSchedulerSweepActivatesDue(t *testing.T) {
	announcements := &sweepAnnouncementStub{
		dueForSync: []models.Announcement{
			sweepAnnouncement("ann-1", models.AnnouncementStatusWaitingForSync, "dev-1", "dev-2"),
		},
	}
	requests := &sweepRequestStub{}
	dispatcher := &dispatcherStub{}
	svc := NewSchedulerService(announcements, requests, dispatcher, nil, nil)

	svc.Sweep(context.Background(), testClock())

	require.Len(t, dispatcher.calls, 1)
	require.Equal(t, models.SyncActionCreate, dispatcher.calls[0].action)
	require.Equal(t, []string{"dev-1", "dev-2"}, dispatcher.calls[0].deviceIDs)
	require.NotNil(t, dispatcher.calls[0].mediaType)
	require.Equal(t, "image", *dispatcher.calls[0].mediaType)

	require.Len(t, announcements.transitions, 1)
	require.Equal(t, models.AnnouncementStatusWaitingForSync, announcements.transitions[0].from)
	require.Equal(t, models.AnnouncementStatusActive, announcements.transitions[0].to)
	require.Empty(t, requests.rejected)
}

func TestSchedulerSweepCompletesExpired(t *testing.T) {
	announcements := &sweepAnnouncementStub{
		expiredActive: []models.Announcement{
			sweepAnnouncement("ann-1", models.AnnouncementStatusActive, "dev-1"),
		},
	}
	requests := &sweepRequestStub{}
	dispatcher := &dispatcherStub{}
	svc := NewSchedulerService(announcements, requests, dispatcher, nil, nil)

	svc.Sweep(context.Background(), testClock())

	require.Len(t, dispatcher.calls, 1)
	require.Equal(t, models.SyncActionDelete, dispatcher.calls[0].action)
	require.Nil(t, dispatcher.calls[0].mediaType)

	require.Len(t, announcements.transitions, 1)
	require.Equal(t, models.AnnouncementStatusActive, announcements.transitions[0].from)
	require.Equal(t, models.AnnouncementStatusDone, announcements.transitions[0].to)
	require.Equal(t, [][]string{{"ann-1"}}, requests.rejected)
}

func TestSchedulerSweepDispatchFailureSkipsActivation(t *testing.T) {
	announcements := &sweepAnnouncementStub{
		dueForSync: []models.Announcement{
			sweepAnnouncement("ann-1", models.AnnouncementStatusWaitingForSync, "dev-1"),
		},
	}
	requests := &sweepRequestStub{}
	dispatcher := &dispatcherStub{err: errors.New("outbox down")}
	svc := NewSchedulerService(announcements, requests, dispatcher, nil, nil)

	svc.Sweep(context.Background(), testClock())

	require.Empty(t, announcements.transitions)
}

func TestSchedulerSweepEmptyIsNoop(t *testing.T) {
	announcements := &sweepAnnouncementStub{}
	requests := &sweepRequestStub{}
	dispatcher := &dispatcherStub{}
	svc := NewSchedulerService(announcements, requests, dispatcher, nil, nil)

	svc.Sweep(context.Background(), testClock())

	require.Empty(t, announcements.transitions)
	require.Empty(t, requests.rejected)
	require.Empty(t, dispatcher.calls)
}
