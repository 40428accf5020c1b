package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smartsign/signage-api/internal/dto"
	"github.com/smartsign/signage-api/internal/models"
	appErrors "github.com/smartsign/signage-api/pkg/errors"
	"github.com/smartsign/signage-api/pkg/response"
)

type announcementService interface {
	Create(ctx context.Context, req dto.CreateAnnouncementRequest, creatorID string) (*models.Announcement, error)
	Get(ctx context.Context, id string) (*models.Announcement, error)
	List(ctx context.Context, query dto.AnnouncementQuery) ([]models.Announcement, error)
}

// AnnouncementHandler exposes REST endpoints for announcements.
type AnnouncementHandler struct {
	service announcementService
}

// NewAnnouncementHandler constructs the handler.
func NewAnnouncementHandler(service announcementService) *AnnouncementHandler {
	return &AnnouncementHandler{service: service}
}

// Create godoc
// @Summary Create an announcement
// @Description Creates the announcement in WAITING_FOR_APPROVAL and opens its implicit CREATE approval request.
// @Tags Announcements
// @Accept json
// @Produce json
// @Param payload body dto.CreateAnnouncementRequest true "Announcement payload"
// @Success 201 {object} response.Envelope
// @Router /announcements [post]
func (h *AnnouncementHandler) Create(c *gin.Context) {
	var req dto.CreateAnnouncementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid announcement payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	announcement, err := h.service.Create(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, announcement, nil)
}

// List godoc
// @Summary List announcements
// @Tags Announcements
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param created_by query string false "Creator user ID"
// @Param device_id query string false "Target device ID"
// @Param q query string false "Title search"
// @Success 200 {object} response.Envelope
// @Router /announcements [get]
func (h *AnnouncementHandler) List(c *gin.Context) {
	var query dto.AnnouncementQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid announcement query"))
		return
	}
	announcements, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, announcements, nil)
}

// Get godoc
// @Summary Get announcement detail
// @Tags Announcements
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Router /announcements/{id} [get]
func (h *AnnouncementHandler) Get(c *gin.Context) {
	announcement, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, announcement, nil)
}
