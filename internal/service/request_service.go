package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smartsign/signage-api/internal/dto"
	"github.com/smartsign/signage-api/internal/models"
	"github.com/smartsign/signage-api/internal/repository"
	appErrors "github.com/smartsign/signage-api/pkg/errors"
)

type requestStore interface {
	Create(ctx context.Context, request *models.Request) error
	GetByID(ctx context.Context, id string) (*models.Request, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.Request, error)
	SetApproval(ctx context.Context, params repository.SetApprovalParams) error
	BatchReject(ctx context.Context, announcementIDs []string, excludeRequestID string) error
}

type announcementStore interface {
	GetByID(ctx context.Context, id string) (*models.Announcement, error)
	UpdateStatus(ctx context.Context, id string, from, to models.AnnouncementStatus) error
	UpdateEndDate(ctx context.Context, id string, endDate time.Time) error
	ReplaceDevices(ctx context.Context, id string, deviceIDs []string) error
}

type deviceRegistry interface {
	ExistAll(ctx context.Context, ids []string) (bool, error)
}

type approverDirectory interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

type syncDispatcher interface {
	Enqueue(ctx context.Context, deviceIDs []string, announcementID string, action models.SyncAction, mediaType *string, mediaDuration *float64) error
}

// AuditSink records audit trail entries. Wiring a nil sink disables the
// trail without touching call sites.
type AuditSink interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// RequestService is the approval engine: it validates change-request
// submissions and applies dual-approval decisions to announcements.
type RequestService struct {
	requests      requestStore
	announcements announcementStore
	devices       deviceRegistry
	users         approverDirectory
	dispatcher    syncDispatcher
	audit         AuditSink
	logger        *zap.Logger
	metrics       *MetricsService
	now           func() time.Time
}

// RequestServiceOption configures the service.
type RequestServiceOption func(*RequestService)

// WithRequestClock overrides the time source (tests).
func WithRequestClock(now func() time.Time) RequestServiceOption {
	return func(s *RequestService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRequestMetrics attaches the metrics recorder.
func WithRequestMetrics(metrics *MetricsService) RequestServiceOption {
	return func(s *RequestService) {
		s.metrics = metrics
	}
}

// NewRequestService constructs the approval engine.
func NewRequestService(
	requests requestStore,
	announcements announcementStore,
	devices deviceRegistry,
	users approverDirectory,
	dispatcher syncDispatcher,
	audit AuditSink,
	logger *zap.Logger,
	opts ...RequestServiceOption,
) *RequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &RequestService{
		requests:      requests,
		announcements: announcements,
		devices:       devices,
		users:         users,
		dispatcher:    dispatcher,
		audit:         audit,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Submit validates and stores a new change request. CREATE requests never
// enter here; they are produced implicitly by announcement creation. No
// dispatch happens at submission time.
func (s *RequestService) Submit(ctx context.Context, req dto.CreateRequestRequest, requesterID string) (*models.Request, error) {
	action := models.RequestAction(strings.ToUpper(strings.TrimSpace(req.Action)))
	if !action.Submittable() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "action must be EXTEND_DATE, DELETE or CHANGE_DEVICES")
	}

	announcement, err := s.announcements.GetByID(ctx, req.AnnouncementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrAnnouncementNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load announcement")
	}
	if announcement.Status != action.RequiredStatus() {
		return nil, appErrors.Clone(appErrors.ErrInvalidAnnouncementStatus, "announcement status should be "+string(action.RequiredStatus()))
	}

	request := &models.Request{
		Action:         action,
		AnnouncementID: announcement.ID,
		RequestedBy:    requesterID,
		Description:    req.Description,
	}

	switch action {
	case models.RequestActionExtendDate:
		if req.ExtendedEndDate == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "extended_end_date is required")
		}
		if !req.ExtendedEndDate.After(announcement.EndDate) {
			return nil, appErrors.ErrInvalidExtendedEndDate
		}
		request.ExtendedEndDate = req.ExtendedEndDate
	case models.RequestActionChangeDevices:
		if len(req.NewDeviceIDs) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "new_device_ids must not be empty")
		}
		ok, err := s.devices.ExistAll(ctx, req.NewDeviceIDs)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate device ids")
		}
		if !ok {
			return nil, appErrors.ErrInvalidDeviceIDs
		}
		request.NewDeviceIDs = req.NewDeviceIDs
	}

	if err := s.requests.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}

	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &requesterID,
		Action:     models.AuditActionRequestSubmit,
		Resource:   "request",
		ResourceID: &request.ID,
		NewValues:  mustJSON(map[string]interface{}{"action": action, "announcement_id": announcement.ID}),
	})
	return request, nil
}

// List returns requests matching the query.
func (s *RequestService) List(ctx context.Context, query dto.RequestQuery) ([]models.Request, error) {
	filter := models.RequestFilter{
		AnnouncementID: query.AnnouncementID,
		RequestedBy:    query.RequestedBy,
	}
	if query.Action != "" {
		filter.Action = models.RequestAction(strings.ToUpper(query.Action))
	}
	if query.PageSize > 0 {
		filter.Limit = query.PageSize
		if query.Page > 1 {
			filter.Offset = (query.Page - 1) * query.PageSize
		}
	}
	requests, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	return requests, nil
}

// Get returns a request by id.
func (s *RequestService) Get(ctx context.Context, id string) (*models.Request, error) {
	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrRequestNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	return request, nil
}

// Decide applies one reviewer decision to a request. Content managers and
// building managers each own one approval slot; admins may fill either or
// both empty slots in one call. The merged slot state drives the per-action
// outcome, and the slot write itself is a compare-and-set so a concurrent
// decision or scheduler timeout surfaces as a conflict instead of an
// overwrite.
func (s *RequestService) Decide(ctx context.Context, requestID, approverID string, approve bool) (*models.Request, error) {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrRequestNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if request.Action == models.RequestActionChangeContent {
		return nil, appErrors.Clone(appErrors.ErrValidation, "CHANGE_CONTENT requests are not supported")
	}

	approver, err := s.users.GetByID(ctx, approverID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUserNotFound, "approver not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approver")
	}
	if !approver.Role.CanApprove() {
		return nil, appErrors.ErrUserForbiddenToApprove
	}

	merged := models.RequestApproval{
		ApprovedByCM: request.ApprovedByCM,
		CMApproverID: request.CMApproverID,
		ApprovedByBM: request.ApprovedByBM,
		BMApproverID: request.BMApproverID,
	}
	delta := repository.SetApprovalParams{RequestID: request.ID}

	switch approver.Role {
	case models.RoleContentManager:
		if request.ApprovedByCM != nil {
			return nil, appErrors.ErrRequestAlreadyApproved
		}
		merged.ApprovedByCM, merged.CMApproverID = &approve, &approver.ID
		delta.ApprovedByCM, delta.CMApproverID = &approve, &approver.ID
	case models.RoleBuildingManager:
		if request.ApprovedByBM != nil {
			return nil, appErrors.ErrRequestAlreadyApproved
		}
		merged.ApprovedByBM, merged.BMApproverID = &approve, &approver.ID
		delta.ApprovedByBM, delta.BMApproverID = &approve, &approver.ID
	case models.RoleAdmin:
		if request.ApprovedByCM != nil && request.ApprovedByBM != nil {
			return nil, appErrors.ErrRequestAlreadyApproved
		}
		if request.ApprovedByCM == nil {
			merged.ApprovedByCM, merged.CMApproverID = &approve, &approver.ID
			delta.ApprovedByCM, delta.CMApproverID = &approve, &approver.ID
		}
		if request.ApprovedByBM == nil {
			merged.ApprovedByBM, merged.BMApproverID = &approve, &approver.ID
			delta.ApprovedByBM, delta.BMApproverID = &approve, &approver.ID
		}
	}

	announcement, err := s.announcements.GetByID(ctx, request.AnnouncementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrAnnouncementNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load announcement")
	}
	if announcement.Status != request.Action.RequiredStatus() {
		return nil, appErrors.Clone(appErrors.ErrInvalidAnnouncementStatus, "announcement status should be "+string(request.Action.RequiredStatus()))
	}

	// Apply the outcome first; the slot write below is attempted even when
	// the outcome fails so the decision record survives a partial failure.
	outcomeErr := s.applyOutcome(ctx, announcement, request, merged)

	if err := s.requests.SetApproval(ctx, delta); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrRequestAlreadyApproved
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist approval")
	}
	request.ApprovedByCM = merged.ApprovedByCM
	request.CMApproverID = merged.CMApproverID
	request.ApprovedByBM = merged.ApprovedByBM
	request.BMApproverID = merged.BMApproverID

	if outcomeErr != nil {
		return nil, appErrors.Wrap(outcomeErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply request outcome")
	}

	outcome := "pending"
	if merged.FullyApproved() {
		outcome = "approved"
	} else if merged.AnyRejected() {
		outcome = "rejected"
	}
	s.metrics.ObserveDecision(string(request.Action), outcome)
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &approverID,
		Action:     models.AuditActionRequestDecision,
		Resource:   "request",
		ResourceID: &request.ID,
		NewValues:  mustJSON(map[string]interface{}{"approve": approve, "role": approver.Role, "outcome": outcome}),
	})
	return request, nil
}

func (s *RequestService) applyOutcome(ctx context.Context, announcement *models.Announcement, request *models.Request, approval models.RequestApproval) error {
	switch request.Action {
	case models.RequestActionCreate:
		return s.applyCreate(ctx, announcement, approval)
	case models.RequestActionDelete:
		return s.applyDelete(ctx, announcement, request, approval)
	case models.RequestActionExtendDate:
		return s.applyExtendDate(ctx, announcement, request, approval)
	case models.RequestActionChangeDevices:
		return s.applyChangeDevices(ctx, announcement, request, approval)
	default:
		return nil
	}
}

// applyCreate activates the announcement immediately when approval lands on
// its start date; otherwise it parks in WAITING_FOR_SYNC for the scheduler
// to activate. Rejection by either reviewer is final.
func (s *RequestService) applyCreate(ctx context.Context, announcement *models.Announcement, approval models.RequestApproval) error {
	switch {
	case approval.FullyApproved():
		if sameCalendarDay(s.now(), announcement.StartDate) {
			if err := s.announcements.UpdateStatus(ctx, announcement.ID, models.AnnouncementStatusWaitingForApproval, models.AnnouncementStatusActive); err != nil {
				return err
			}
			return s.dispatchCreate(ctx, announcement, announcement.DeviceIDs)
		}
		return s.announcements.UpdateStatus(ctx, announcement.ID, models.AnnouncementStatusWaitingForApproval, models.AnnouncementStatusWaitingForSync)
	case approval.AnyRejected():
		return s.announcements.UpdateStatus(ctx, announcement.ID, models.AnnouncementStatusWaitingForApproval, models.AnnouncementStatusRejected)
	default:
		return nil
	}
}

// applyDelete tells every target device to drop the announcement, cancels
// it, and force-rejects whatever other requests were still open against it.
// A rejection leaves the announcement active.
func (s *RequestService) applyDelete(ctx context.Context, announcement *models.Announcement, request *models.Request, approval models.RequestApproval) error {
	if !approval.FullyApproved() {
		return nil
	}
	if err := s.dispatcher.Enqueue(ctx, announcement.DeviceIDs, announcement.ID, models.SyncActionDelete, nil, nil); err != nil {
		return err
	}
	if err := s.announcements.UpdateStatus(ctx, announcement.ID, models.AnnouncementStatusActive, models.AnnouncementStatusCanceled); err != nil {
		return err
	}
	return s.requests.BatchReject(ctx, []string{announcement.ID}, request.ID)
}

// applyExtendDate is a pure metadata change; devices are not notified.
func (s *RequestService) applyExtendDate(ctx context.Context, announcement *models.Announcement, request *models.Request, approval models.RequestApproval) error {
	if !approval.FullyApproved() {
		return nil
	}
	if request.ExtendedEndDate == nil {
		return errors.New("extend date request has no extended_end_date metadata")
	}
	return s.announcements.UpdateEndDate(ctx, announcement.ID, *request.ExtendedEndDate)
}

// applyChangeDevices diffs the old and new target sets, instructs removed
// devices to drop the announcement and added devices to fetch it, then
// persists the new set.
func (s *RequestService) applyChangeDevices(ctx context.Context, announcement *models.Announcement, request *models.Request, approval models.RequestApproval) error {
	if !approval.FullyApproved() {
		return nil
	}
	if len(request.NewDeviceIDs) == 0 {
		return errors.New("change devices request has no new_device_ids metadata")
	}

	removed, added := diffDeviceSets(announcement.DeviceIDs, request.NewDeviceIDs)
	if len(removed) > 0 {
		if err := s.dispatcher.Enqueue(ctx, removed, announcement.ID, models.SyncActionDelete, nil, nil); err != nil {
			return err
		}
	}
	if len(added) > 0 {
		if err := s.dispatchCreate(ctx, announcement, added); err != nil {
			return err
		}
	}
	return s.announcements.ReplaceDevices(ctx, announcement.ID, request.NewDeviceIDs)
}

func (s *RequestService) dispatchCreate(ctx context.Context, announcement *models.Announcement, deviceIDs []string) error {
	mediaType := announcement.MediaType
	return s.dispatcher.Enqueue(ctx, deviceIDs, announcement.ID, models.SyncActionCreate, &mediaType, announcement.MediaDuration)
}

func (s *RequestService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "request-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func diffDeviceSets(old, new []string) (removed, added []string) {
	oldSet := make(map[string]struct{}, len(old))
	for _, id := range old {
		oldSet[id] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(new))
	for _, id := range new {
		newSet[id] = struct{}{}
	}
	for _, id := range old {
		if _, ok := newSet[id]; !ok {
			removed = append(removed, id)
		}
	}
	for _, id := range new {
		if _, ok := oldSet[id]; !ok {
			added = append(added, id)
		}
	}
	return removed, added
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
