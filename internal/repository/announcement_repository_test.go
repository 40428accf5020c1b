package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/smartsign/signage-api/internal/models"
)

func announcementRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "title", "media", "media_type", "media_duration", "notes", "status",
		"start_date", "end_date", "created_by", "created_at", "updated_at", "device_ids",
	})
}

func TestAnnouncementRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAnnouncementRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO announcements")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO announcement_devices")).
		WithArgs(sqlmock.AnyArg(), "dev-1", 0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO announcement_devices")).
		WithArgs(sqlmock.AnyArg(), "dev-2", 1).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	announcement := &models.Announcement{
		Title:     "Fire drill",
		Media:     "media/fire-drill.mp4",
		MediaType: "video",
		StartDate: time.Now(),
		EndDate:   time.Now().AddDate(0, 0, 7),
		CreatedBy: "staff-1",
		DeviceIDs: []string{"dev-1", "dev-2"},
	}
	require.NoError(t, repo.Create(context.Background(), announcement))
	require.NotEmpty(t, announcement.ID)
	require.Equal(t, models.AnnouncementStatusWaitingForApproval, announcement.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAnnouncementRepositoryGetByIDAggregatesDevices(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAnnouncementRepository(db)
	rows := announcementRows().AddRow(
		"ann-1", "Fire drill", "media/fire-drill.mp4", "video", nil, "", "ACTIVE",
		time.Now(), time.Now().AddDate(0, 0, 7), "staff-1", time.Now(), time.Now(), "{dev-1,dev-2}")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT a.id, a.title")).
		WithArgs("ann-1").
		WillReturnRows(rows)

	found, err := repo.GetByID(context.Background(), "ann-1")
	require.NoError(t, err)
	require.Equal(t, models.AnnouncementStatusActive, found.Status)
	require.Equal(t, []string{"dev-1", "dev-2"}, []string(found.DeviceIDs))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAnnouncementRepositoryUpdateStatusGuarded(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAnnouncementRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE announcements SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), "ann-1",
		models.AnnouncementStatusWaitingForApproval, models.AnnouncementStatusWaitingForSync)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAnnouncementRepositoryUpdateStatusAlreadyMoved(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAnnouncementRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE announcements SET status")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "ann-1",
		models.AnnouncementStatusActive, models.AnnouncementStatusCanceled)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAnnouncementRepositoryUpdateEndDateRequiresActive(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAnnouncementRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE announcements SET end_date")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateEndDate(context.Background(), "ann-1", time.Now().AddDate(0, 0, 14))
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAnnouncementRepositoryReplaceDevices(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAnnouncementRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM announcement_devices")).
		WithArgs("ann-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO announcement_devices")).
		WithArgs("ann-1", "dev-3", 0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE announcements SET updated_at")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ReplaceDevices(context.Background(), "ann-1", []string{"dev-3"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAnnouncementRepositoryListExpiredWaitingApproval(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAnnouncementRepository(db)
	now := time.Now()
	rows := announcementRows().AddRow(
		"ann-1", "Stale", "media/x.png", "image", nil, "", "WAITING_FOR_APPROVAL",
		now.AddDate(0, 0, -3), now.AddDate(0, 0, 4), "staff-1", now, now, "{dev-1}")
	mock.ExpectQuery(regexp.QuoteMeta("a.start_date + INTERVAL '1 day' < $2")).
		WithArgs(models.AnnouncementStatusWaitingForApproval, now).
		WillReturnRows(rows)

	list, err := repo.ListExpiredWaitingApproval(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "ann-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
