package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/smartsign/signage-api/internal/dto"
	"github.com/smartsign/signage-api/internal/models"
	appErrors "github.com/smartsign/signage-api/pkg/errors"
)

type announcementCatalog interface {
	Create(ctx context.Context, announcement *models.Announcement) error
	GetByID(ctx context.Context, id string) (*models.Announcement, error)
	List(ctx context.Context, filter models.AnnouncementFilter) ([]models.Announcement, error)
}

type requestRecorder interface {
	Create(ctx context.Context, request *models.Request) error
}

// AnnouncementService owns announcement creation and read access. Creation
// also opens the implicit CREATE request that the approval engine decides.
type AnnouncementService struct {
	announcements announcementCatalog
	requests      requestRecorder
	devices       deviceRegistry
	audit         AuditSink
	logger        *zap.Logger
}

// NewAnnouncementService constructs the service.
func NewAnnouncementService(
	announcements announcementCatalog,
	requests requestRecorder,
	devices deviceRegistry,
	audit AuditSink,
	logger *zap.Logger,
) *AnnouncementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnnouncementService{
		announcements: announcements,
		requests:      requests,
		devices:       devices,
		audit:         audit,
		logger:        logger,
	}
}

// Create stores a new announcement in WAITING_FOR_APPROVAL together with its
// implicit CREATE request. Nothing reaches a device until both reviewer
// slots approve that request.
func (s *AnnouncementService) Create(ctx context.Context, req dto.CreateAnnouncementRequest, creatorID string) (*models.Announcement, error) {
	if req.EndDate.Before(req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_date must not be before start_date")
	}
	ok, err := s.devices.ExistAll(ctx, req.DeviceIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate device ids")
	}
	if !ok {
		return nil, appErrors.ErrInvalidDeviceIDs
	}

	announcement := &models.Announcement{
		Title:         req.Title,
		Media:         req.Media,
		MediaType:     req.MediaType,
		MediaDuration: req.MediaDuration,
		Notes:         req.Notes,
		Status:        models.AnnouncementStatusWaitingForApproval,
		StartDate:     req.StartDate.UTC(),
		EndDate:       req.EndDate.UTC(),
		CreatedBy:     creatorID,
		DeviceIDs:     req.DeviceIDs,
	}
	if err := s.announcements.Create(ctx, announcement); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create announcement")
	}

	request := &models.Request{
		Action:         models.RequestActionCreate,
		AnnouncementID: announcement.ID,
		RequestedBy:    creatorID,
		Description:    req.Notes,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		// The announcement exists but cannot be approved without its request;
		// surface the failure so the client retries from scratch.
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create approval request")
	}

	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &creatorID,
		Action:     models.AuditActionAnnouncementCreate,
		Resource:   "announcement",
		ResourceID: &announcement.ID,
		NewValues:  mustJSON(map[string]interface{}{"title": announcement.Title, "request_id": request.ID}),
	})
	return announcement, nil
}

// Get returns an announcement by id.
func (s *AnnouncementService) Get(ctx context.Context, id string) (*models.Announcement, error) {
	announcement, err := s.announcements.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrAnnouncementNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load announcement")
	}
	return announcement, nil
}

// List returns announcements matching the query. The status parameter
// accepts a comma separated list.
func (s *AnnouncementService) List(ctx context.Context, query dto.AnnouncementQuery) ([]models.Announcement, error) {
	filter := models.AnnouncementFilter{
		CreatedBy: query.CreatedBy,
		DeviceID:  query.DeviceID,
		Search:    query.Search,
	}
	for _, raw := range strings.Split(query.Status, ",") {
		status := strings.ToUpper(strings.TrimSpace(raw))
		if status == "" {
			continue
		}
		filter.Status = append(filter.Status, models.AnnouncementStatus(status))
	}
	if query.PageSize > 0 {
		filter.Limit = query.PageSize
		if query.Page > 1 {
			filter.Offset = (query.Page - 1) * query.PageSize
		}
	}

	announcements, err := s.announcements.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list announcements")
	}
	return announcements, nil
}

func (s *AnnouncementService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "announcement-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
