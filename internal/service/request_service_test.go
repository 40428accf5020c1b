package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smartsign/signage-api/internal/dto"
	"github.com/smartsign/signage-api/internal/models"
	"github.com/smartsign/signage-api/internal/repository"
	appErrors "github.com/smartsign/signage-api/pkg/errors"
)

type requestStoreStub struct {
	requests       map[string]*models.Request
	filter         models.RequestFilter
	setApprovalErr error
	rejected       []string
	excluded       string
}

func newRequestStoreStub() *requestStoreStub {
	return &requestStoreStub{requests: make(map[string]*models.Request)}
}

func (s *requestStoreStub) Create(ctx context.Context, request *models.Request) error {
	if request.ID == "" {
		request.ID = "req-stub"
	}
	copied := *request
	s.requests[request.ID] = &copied
	return nil
}

func (s *requestStoreStub) GetByID(ctx context.Context, id string) (*models.Request, error) {
	if request, ok := s.requests[id]; ok {
		copied := *request
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *requestStoreStub) List(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	s.filter = filter
	result := make([]models.Request, 0, len(s.requests))
	for _, request := range s.requests {
		result = append(result, *request)
	}
	return result, nil
}

func (s *requestStoreStub) SetApproval(ctx context.Context, params repository.SetApprovalParams) error {
	if s.setApprovalErr != nil {
		return s.setApprovalErr
	}
	request, ok := s.requests[params.RequestID]
	if !ok {
		return sql.ErrNoRows
	}
	if params.ApprovedByCM != nil {
		if request.ApprovedByCM != nil {
			return sql.ErrNoRows
		}
		request.ApprovedByCM = params.ApprovedByCM
		request.CMApproverID = params.CMApproverID
	}
	if params.ApprovedByBM != nil {
		if request.ApprovedByBM != nil {
			return sql.ErrNoRows
		}
		request.ApprovedByBM = params.ApprovedByBM
		request.BMApproverID = params.BMApproverID
	}
	return nil
}

func (s *requestStoreStub) BatchReject(ctx context.Context, announcementIDs []string, excludeRequestID string) error {
	s.rejected = append(s.rejected, announcementIDs...)
	s.excluded = excludeRequestID
	rejected := false
	for _, request := range s.requests {
		if request.ID == excludeRequestID {
			continue
		}
		for _, annID := range announcementIDs {
			if request.AnnouncementID != annID || request.Decided() {
				continue
			}
			if request.ApprovedByCM == nil {
				request.ApprovedByCM = &rejected
			}
			if request.ApprovedByBM == nil {
				request.ApprovedByBM = &rejected
			}
		}
	}
	return nil
}

type announcementStoreStub struct {
	announcements map[string]*models.Announcement
	filter        models.AnnouncementFilter
}

func newAnnouncementStoreStub() *announcementStoreStub {
	return &announcementStoreStub{announcements: make(map[string]*models.Announcement)}
}

func (s *announcementStoreStub) Create(ctx context.Context, announcement *models.Announcement) error {
	if announcement.ID == "" {
		announcement.ID = "ann-stub"
	}
	copied := *announcement
	s.announcements[announcement.ID] = &copied
	return nil
}

func (s *announcementStoreStub) GetByID(ctx context.Context, id string) (*models.Announcement, error) {
	if announcement, ok := s.announcements[id]; ok {
		copied := *announcement
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *announcementStoreStub) List(ctx context.Context, filter models.AnnouncementFilter) ([]models.Announcement, error) {
	s.filter = filter
	result := make([]models.Announcement, 0, len(s.announcements))
	for _, announcement := range s.announcements {
		result = append(result, *announcement)
	}
	return result, nil
}

func (s *announcementStoreStub) UpdateStatus(ctx context.Context, id string, from, to models.AnnouncementStatus) error {
	announcement, ok := s.announcements[id]
	if !ok || announcement.Status != from {
		return sql.ErrNoRows
	}
	announcement.Status = to
	return nil
}

func (s *announcementStoreStub) UpdateEndDate(ctx context.Context, id string, endDate time.Time) error {
	announcement, ok := s.announcements[id]
	if !ok || announcement.Status != models.AnnouncementStatusActive {
		return sql.ErrNoRows
	}
	announcement.EndDate = endDate
	return nil
}

func (s *announcementStoreStub) ReplaceDevices(ctx context.Context, id string, deviceIDs []string) error {
	announcement, ok := s.announcements[id]
	if !ok {
		return sql.ErrNoRows
	}
	announcement.DeviceIDs = deviceIDs
	return nil
}

type deviceRegistryStub struct {
	known map[string]struct{}
}

func newDeviceRegistryStub(ids ...string) *deviceRegistryStub {
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	return &deviceRegistryStub{known: known}
}

func (s *deviceRegistryStub) ExistAll(ctx context.Context, ids []string) (bool, error) {
	for _, id := range ids {
		if _, ok := s.known[id]; !ok {
			return false, nil
		}
	}
	return len(ids) > 0, nil
}

type userDirectoryStub struct {
	users map[string]*models.User
}

func newUserDirectoryStub(users ...*models.User) *userDirectoryStub {
	stub := &userDirectoryStub{users: make(map[string]*models.User)}
	for _, user := range users {
		stub.users[user.ID] = user
	}
	return stub
}

func (s *userDirectoryStub) GetByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := s.users[id]; ok {
		return user, nil
	}
	return nil, sql.ErrNoRows
}

type dispatchCall struct {
	deviceIDs      []string
	announcementID string
	action         models.SyncAction
	mediaType      *string
	mediaDuration  *float64
}

type dispatcherStub struct {
	calls []dispatchCall
	err   error
}

func (s *dispatcherStub) Enqueue(ctx context.Context, deviceIDs []string, announcementID string, action models.SyncAction, mediaType *string, mediaDuration *float64) error {
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, dispatchCall{
		deviceIDs:      deviceIDs,
		announcementID: announcementID,
		action:         action,
		mediaType:      mediaType,
		mediaDuration:  mediaDuration,
	})
	return nil
}

type auditStub struct {
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func requireErrCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, appErrors.FromError(err).Code)
}

var testClock = func() time.Time {
	return time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
}

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }

type requestServiceFixture struct {
	requests      *requestStoreStub
	announcements *announcementStoreStub
	devices       *deviceRegistryStub
	users         *userDirectoryStub
	dispatcher    *dispatcherStub
	audit         *auditStub
	svc           *RequestService
}

func newRequestServiceFixture(t *testing.T) *requestServiceFixture {
	t.Helper()
	f := &requestServiceFixture{
		requests:      newRequestStoreStub(),
		announcements: newAnnouncementStoreStub(),
		devices:       newDeviceRegistryStub("dev-1", "dev-2", "dev-3", "dev-4"),
		users: newUserDirectoryStub(
			&models.User{ID: "admin-1", Role: models.RoleAdmin},
			&models.User{ID: "cm-1", Role: models.RoleContentManager},
			&models.User{ID: "bm-1", Role: models.RoleBuildingManager},
			&models.User{ID: "staff-1", Role: models.RoleStaff},
		),
		dispatcher: &dispatcherStub{},
		audit:      &auditStub{},
	}
	f.svc = NewRequestService(
		f.requests, f.announcements, f.devices, f.users, f.dispatcher, f.audit, nil,
		WithRequestClock(testClock),
	)
	return f
}

func (f *requestServiceFixture) seedAnnouncement(id string, status models.AnnouncementStatus, start, end time.Time, deviceIDs ...string) {
	f.announcements.announcements[id] = &models.Announcement{
		ID:        id,
		Title:     "Fire drill",
		Media:     "media/fire-drill.mp4",
		MediaType: "video",
		Status:    status,
		StartDate: start,
		EndDate:   end,
		CreatedBy: "staff-1",
		DeviceIDs: deviceIDs,
	}
}

func TestRequestServiceSubmitExtendDate(t *testing.T) {
	f := newRequestServiceFixture(t)
	end := testClock().AddDate(0, 0, 5)
	f.seedAnnouncement("ann-1", models.AnnouncementStatusActive, testClock(), end, "dev-1")

	extended := end.AddDate(0, 0, 7)
	request, err := f.svc.Submit(context.Background(), dto.CreateRequestRequest{
		Action:          "EXTEND_DATE",
		AnnouncementID:  "ann-1",
		ExtendedEndDate: &extended,
	}, "staff-1")
	require.NoError(t, err)
	require.Equal(t, models.RequestActionExtendDate, request.Action)
	require.NotNil(t, request.ExtendedEndDate)
	require.Nil(t, request.ApprovedByCM)
	require.Nil(t, request.ApprovedByBM)
	require.Empty(t, f.dispatcher.calls)
	require.Len(t, f.audit.logs, 1)
}

func TestRequestServiceSubmitRejectsCreateAction(t *testing.T) {
	f := newRequestServiceFixture(t)
	_, err := f.svc.Submit(context.Background(), dto.CreateRequestRequest{
		Action:         "CREATE",
		AnnouncementID: "ann-1",
	}, "staff-1")
	requireErrCode(t, err, "VALIDATION_ERROR")
}

func TestRequestServiceSubmitWrongAnnouncementStatus(t *testing.T) {
	f := newRequestServiceFixture(t)
	f.seedAnnouncement("ann-1", models.AnnouncementStatusWaitingForApproval, testClock(), testClock().AddDate(0, 0, 5), "dev-1")

	_, err := f.svc.Submit(context.Background(), dto.CreateRequestRequest{
		Action:         "DELETE",
		AnnouncementID: "ann-1",
	}, "staff-1")
	requireErrCode(t, err, "INVALID_ANNOUNCEMENT_STATUS")
}

func TestRequestServiceSubmitExtendDateNotAfterEnd(t *testing.T) {
	f := newRequestServiceFixture(t)
	end := testClock().AddDate(0, 0, 5)
	f.seedAnnouncement("ann-1", models.AnnouncementStatusActive, testClock(), end, "dev-1")

	earlier := end.AddDate(0, 0, -1)
	_, err := f.svc.Submit(context.Background(), dto.CreateRequestRequest{
		Action:          "EXTEND_DATE",
		AnnouncementID:  "ann-1",
		ExtendedEndDate: &earlier,
	}, "staff-1")
	requireErrCode(t, err, "INVALID_EXTENDED_END_DATE")
}

func TestRequestServiceSubmitChangeDevicesUnknownDevice(t *testing.T) {
	f := newRequestServiceFixture(t)
	f.seedAnnouncement("ann-1", models.AnnouncementStatusActive, testClock(), testClock().AddDate(0, 0, 5), "dev-1")

	_, err := f.svc.Submit(context.Background(), dto.CreateRequestRequest{
		Action:         "CHANGE_DEVICES",
		AnnouncementID: "ann-1",
		NewDeviceIDs:   []string{"dev-1", "dev-99"},
	}, "staff-1")
	requireErrCode(t, err, "INVALID_DEVICE_IDS")
}

func TestRequestServiceDecideCreateSameDayActivates(t *testing.T) {
	f := newRequestServiceFixture(t)
	start := testClock().Add(-2 * time.Hour)
	f.seedAnnouncement("ann-1", models.AnnouncementStatusWaitingForApproval, start, start.AddDate(0, 0, 7), "dev-1", "dev-2")
	f.requests.requests["req-1"] = &models.Request{
		ID:             "req-1",
		Action:         models.RequestActionCreate,
		AnnouncementID: "ann-1",
		RequestedBy:    "staff-1",
		ApprovedByCM:   boolPtr(true),
		CMApproverID:   strPtr("cm-1"),
	}

	request, err := f.svc.Decide(context.Background(), "req-1", "bm-1", true)
	require.NoError(t, err)
	require.True(t, *request.ApprovedByBM)
	require.Equal(t, "bm-1", *request.BMApproverID)

	require.Equal(t, models.AnnouncementStatusActive, f.announcements.announcements["ann-1"].Status)
	require.Len(t, f.dispatcher.calls, 1)
	call := f.dispatcher.calls[0]
	require.Equal(t, models.SyncActionCreate, call.action)
	require.Equal(t, []string{"dev-1", "dev-2"}, call.deviceIDs)
	require.Equal(t, "ann-1", call.announcementID)
	require.NotNil(t, call.mediaType)
	require.Equal(t, "video", *call.mediaType)
}

func TestRequestServiceDecideCreateFutureStartWaitsForSync(t *testing.T) {
	f := newRequestServiceFixture(t)
	start := testClock().AddDate(0, 0, 3)
	f.seedAnnouncement("ann-1", models.AnnouncementStatusWaitingForApproval, start, start.AddDate(0, 0, 7), "dev-1")
	f.requests.requests["req-1"] = &models.Request{
		ID:             "req-1",
		Action:         models.RequestActionCreate,
		AnnouncementID: "ann-1",
		RequestedBy:    "staff-1",
		ApprovedByBM:   boolPtr(true),
		BMApproverID:   strPtr("bm-1"),
	}

	_, err := f.svc.Decide(context.Background(), "req-1", "cm-1", true)
	require.NoError(t, err)
	require.Equal(t, models.AnnouncementStatusWaitingForSync, f.announcements.announcements["ann-1"].Status)
	require.Empty(t, f.dispatcher.calls)
}

func TestRequestServiceDecideRejectionIsFinal(t *testing.T) {
	f := newRequestServiceFixture(t)
	start := testClock()
	f.seedAnnouncement("ann-1", models.AnnouncementStatusWaitingForApproval, start, start.AddDate(0, 0, 7), "dev-1")
	f.requests.requests["req-1"] = &models.Request{
		ID:             "req-1",
		Action:         models.RequestActionCreate,
		AnnouncementID: "ann-1",
		RequestedBy:    "staff-1",
	}

	request, err := f.svc.Decide(context.Background(), "req-1", "cm-1", false)
	require.NoError(t, err)
	require.False(t, *request.ApprovedByCM)
	require.Equal(t, models.AnnouncementStatusRejected, f.announcements.announcements["ann-1"].Status)
	require.Empty(t, f.dispatcher.calls)
}

func TestRequestServiceDecideSlotAlreadyDecided(t *testing.T) {
	f := newRequestServiceFixture(t)
	f.seedAnnouncement("ann-1", models.AnnouncementStatusWaitingForApproval, testClock(), testClock().AddDate(0, 0, 7), "dev-1")
	f.requests.requests["req-1"] = &models.Request{
		ID:             "req-1",
		Action:         models.RequestActionCreate,
		AnnouncementID: "ann-1",
		RequestedBy:    "staff-1",
		ApprovedByCM:   boolPtr(true),
		CMApproverID:   strPtr("cm-1"),
	}

	_, err := f.svc.Decide(context.Background(), "req-1", "cm-1", false)
	requireErrCode(t, err, "REQUEST_ALREADY_APPROVED")
	require.Empty(t, f.dispatcher.calls)
	require.Equal(t, models.AnnouncementStatusWaitingForApproval, f.announcements.announcements["ann-1"].Status)
}

func TestRequestServiceDecideAdminFillsBothSlots(t *testing.T) {
	f := newRequestServiceFixture(t)
	start := testClock().AddDate(0, 0, 3)
	f.seedAnnouncement("ann-1", models.AnnouncementStatusWaitingForApproval, start, start.AddDate(0, 0, 7), "dev-1")
	f.requests.requests["req-1"] = &models.Request{
		ID:             "req-1",
		Action:         models.RequestActionCreate,
		AnnouncementID: "ann-1",
		RequestedBy:    "staff-1",
	}

	request, err := f.svc.Decide(context.Background(), "req-1", "admin-1", true)
	require.NoError(t, err)
	require.True(t, *request.ApprovedByCM)
	require.True(t, *request.ApprovedByBM)
	require.Equal(t, "admin-1", *request.CMApproverID)
	require.Equal(t, "admin-1", *request.BMApproverID)
	require.Equal(t, models.AnnouncementStatusWaitingForSync, f.announcements.announcements["ann-1"].Status)
}

func TestRequestServiceDecideAdminFillsRemainingSlot(t *testing.T) {
	f := newRequestServiceFixture(t)
	start := testClock().AddDate(0, 0, 3)
	f.seedAnnouncement("ann-1", models.AnnouncementStatusWaitingForApproval, start, start.AddDate(0, 0, 7), "dev-1")
	f.requests.requests["req-1"] = &models.Request{
		ID:             "req-1",
		Action:         models.RequestActionCreate,
		AnnouncementID: "ann-1",
		RequestedBy:    "staff-1",
		ApprovedByCM:   boolPtr(true),
		CMApproverID:   strPtr("cm-1"),
	}

	request, err := f.svc.Decide(context.Background(), "req-1", "admin-1", true)
	require.NoError(t, err)
	require.Equal(t, "cm-1", *request.CMApproverID)
	require.Equal(t, "admin-1", *request.BMApproverID)
	require.Equal(t, models.AnnouncementStatusWaitingForSync, f.announcements.announcements["ann-1"].Status)
}

func TestRequestServiceDecideStaffForbidden(t *testing.T) {
	f := newRequestServiceFixture(t)
	f.seedAnnouncement("ann-1", models.AnnouncementStatusWaitingForApproval, testClock(), testClock().AddDate(0, 0, 7), "dev-1")
	f.requests.requests["req-1"] = &models.Request{
		ID:             "req-1",
		Action:         models.RequestActionCreate,
		AnnouncementID: "ann-1",
		RequestedBy:    "staff-1",
	}

	_, err := f.svc.Decide(context.Background(), "req-1", "staff-1", true)
	requireErrCode(t, err, "USER_FORBIDDEN_TO_APPROVE")
}

func TestRequestServiceDecideDeleteCancelsAndRejectsOthers(t *testing.T) {
	f := newRequestServiceFixture(t)
	f.seedAnnouncement("ann-1", models.AnnouncementStatusActive, testClock().AddDate(0, 0, -2), testClock().AddDate(0, 0, 7), "dev-1", "dev-2")
	f.requests.requests["req-del"] = &models.Request{
		ID:             "req-del",
		Action:         models.RequestActionDelete,
		AnnouncementID: "ann-1",
		RequestedBy:    "staff-1",
		ApprovedByCM:   boolPtr(true),
		CMApproverID:   strPtr("cm-1"),
	}
	f.requests.requests["req-open"] = &models.Request{
		ID:             "req-open",
		Action:         models.RequestActionExtendDate,
		AnnouncementID: "ann-1",
		RequestedBy:    "staff-1",
	}

	request, err := f.svc.Decide(context.Background(), "req-del", "bm-1", true)
	require.NoError(t, err)
	require.True(t, *request.ApprovedByBM)

	require.Equal(t, models.AnnouncementStatusCanceled, f.announcements.announcements["ann-1"].Status)
	require.Len(t, f.dispatcher.calls, 1)
	require.Equal(t, models.SyncActionDelete, f.dispatcher.calls[0].action)
	require.Equal(t, []string{"dev-1", "dev-2"}, f.dispatcher.calls[0].deviceIDs)

	require.Equal(t, "req-del", f.requests.excluded)
	open := f.requests.requests["req-open"]
	require.NotNil(t, open.ApprovedByCM)
	require.False(t, *open.ApprovedByCM)
	require.False(t, *open.ApprovedByBM)
	require.Nil(t, open.CMApproverID)
}

func TestRequestServiceDecideDeleteRejectionKeepsActive(t *testing.T) {
	f := newRequestServiceFixture(t)
	f.seedAnnouncement("ann-1", models.AnnouncementStatusActive, testClock().AddDate(0, 0, -2), testClock().AddDate(0, 0, 7), "dev-1")
	f.requests.requests["req-del"] = &models.Request{
		ID:             "req-del",
		Action:         models.RequestActionDelete,
		AnnouncementID: "ann-1",
		RequestedBy:    "staff-1",
	}

	_, err := f.svc.Decide(context.Background(), "req-del", "cm-1", false)
	require.NoError(t, err)
	require.Equal(t, models.AnnouncementStatusActive, f.announcements.announcements["ann-1"].Status)
	require.Empty(t, f.dispatcher.calls)
}

func TestRequestServiceDecideChangeDevicesDiffsTargets(t *testing.T) {
	f := newRequestServiceFixture(t)
	f.seedAnnouncement("ann-1", models.AnnouncementStatusActive, testClock().AddDate(0, 0, -2), testClock().AddDate(0, 0, 7), "dev-1", "dev-2", "dev-3")
	f.requests.requests["req-1"] = &models.Request{
		ID:             "req-1",
		Action:         models.RequestActionChangeDevices,
		AnnouncementID: "ann-1",
		RequestedBy:    "staff-1",
		NewDeviceIDs:   []string{"dev-2", "dev-3", "dev-4"},
		ApprovedByBM:   boolPtr(true),
		BMApproverID:   strPtr("bm-1"),
	}

	_, err := f.svc.Decide(context.Background(), "req-1", "cm-1", true)
	require.NoError(t, err)

	require.Len(t, f.dispatcher.calls, 2)
	require.Equal(t, models.SyncActionDelete, f.dispatcher.calls[0].action)
	require.Equal(t, []string{"dev-1"}, f.dispatcher.calls[0].deviceIDs)
	require.Equal(t, models.SyncActionCreate, f.dispatcher.calls[1].action)
	require.Equal(t, []string{"dev-4"}, f.dispatcher.calls[1].deviceIDs)

	require.Equal(t, []string{"dev-2", "dev-3", "dev-4"}, []string(f.announcements.announcements["ann-1"].DeviceIDs))
	require.Equal(t, models.AnnouncementStatusActive, f.announcements.announcements["ann-1"].Status)
}

func TestRequestServiceDecideExtendDateUpdatesWithoutDispatch(t *testing.T) {
	f := newRequestServiceFixture(t)
	end := testClock().AddDate(0, 0, 5)
	f.seedAnnouncement("ann-1", models.AnnouncementStatusActive, testClock().AddDate(0, 0, -2), end, "dev-1")
	extended := end.AddDate(0, 0, 7)
	f.requests.requests["req-1"] = &models.Request{
		ID:              "req-1",
		Action:          models.RequestActionExtendDate,
		AnnouncementID:  "ann-1",
		RequestedBy:     "staff-1",
		ExtendedEndDate: &extended,
		ApprovedByCM:    boolPtr(true),
		CMApproverID:    strPtr("cm-1"),
	}

	_, err := f.svc.Decide(context.Background(), "req-1", "bm-1", true)
	require.NoError(t, err)
	require.True(t, f.announcements.announcements["ann-1"].EndDate.Equal(extended))
	require.Empty(t, f.dispatcher.calls)
}

func TestRequestServiceDecideLostSlotRace(t *testing.T) {
	f := newRequestServiceFixture(t)
	f.seedAnnouncement("ann-1", models.AnnouncementStatusActive, testClock().AddDate(0, 0, -2), testClock().AddDate(0, 0, 7), "dev-1")
	f.requests.requests["req-1"] = &models.Request{
		ID:             "req-1",
		Action:         models.RequestActionDelete,
		AnnouncementID: "ann-1",
		RequestedBy:    "staff-1",
	}
	f.requests.setApprovalErr = sql.ErrNoRows

	_, err := f.svc.Decide(context.Background(), "req-1", "cm-1", true)
	requireErrCode(t, err, "REQUEST_ALREADY_APPROVED")
}

func TestRequestServiceDecideWrongAnnouncementStatus(t *testing.T) {
	f := newRequestServiceFixture(t)
	f.seedAnnouncement("ann-1", models.AnnouncementStatusRejected, testClock(), testClock().AddDate(0, 0, 7), "dev-1")
	f.requests.requests["req-1"] = &models.Request{
		ID:             "req-1",
		Action:         models.RequestActionCreate,
		AnnouncementID: "ann-1",
		RequestedBy:    "staff-1",
	}

	_, err := f.svc.Decide(context.Background(), "req-1", "cm-1", true)
	requireErrCode(t, err, "INVALID_ANNOUNCEMENT_STATUS")
	require.Nil(t, f.requests.requests["req-1"].ApprovedByCM)
}
