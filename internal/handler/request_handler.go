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

type requestService interface {
	Submit(ctx context.Context, req dto.CreateRequestRequest, requesterID string) (*models.Request, error)
	List(ctx context.Context, query dto.RequestQuery) ([]models.Request, error)
	Get(ctx context.Context, id string) (*models.Request, error)
	Decide(ctx context.Context, requestID, approverID string, approve bool) (*models.Request, error)
}

// RequestHandler exposes REST endpoints for change requests and approvals.
type RequestHandler struct {
	service requestService
}

// NewRequestHandler constructs the handler.
func NewRequestHandler(service requestService) *RequestHandler {
	return &RequestHandler{service: service}
}

// Create godoc
// @Summary Submit a change request
// @Description Opens an EXTEND_DATE, DELETE or CHANGE_DEVICES request against an announcement.
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.CreateRequestRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	var req dto.CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.Submit(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, request, nil)
}

// List godoc
// @Summary List change requests
// @Tags Requests
// @Produce json
// @Param announcement_id query string false "Announcement ID"
// @Param requested_by query string false "Requester user ID"
// @Param action query string false "Request action"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	var query dto.RequestQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request query"))
		return
	}
	requests, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// Get godoc
// @Summary Get change request detail
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	request, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Decide godoc
// @Summary Approve or reject a change request
// @Description Records the caller's approval slot. Admins fill both empty slots at once.
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecideRequestRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/approval [post]
func (h *RequestHandler) Decide(c *gin.Context) {
	var req dto.DecideRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.Decide(c.Request.Context(), c.Param("id"), claims.UserID, *req.Approve)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}
