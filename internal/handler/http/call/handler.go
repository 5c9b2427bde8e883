package call

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/middleware"
	"callhub-backend/internal/service/call"
	"callhub-backend/pkg/pagination"
	"callhub-backend/pkg/response"
)

// Handler handles one-to-one and group call HTTP requests
type Handler struct {
	callService *call.Service
}

// NewHandler creates a new call handler
func NewHandler(callService *call.Service) *Handler {
	return &Handler{
		callService: callService,
	}
}

// PromoteRequest represents a request to add a third user to a call
type PromoteRequest struct {
	InviteeID uuid.UUID `json:"invitee_id" binding:"required"`
}

// StartCall starts a one-to-one call
// POST /v1/calls
func (h *Handler) StartCall(c *gin.Context) {
	var req domain.StartCallInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	record, err := h.callService.Start(c.Request.Context(), middleware.GetPrincipal(c), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, record)
}

// InviteCall re-sends the incoming call notification to the callee
// POST /v1/calls/:id/invite
func (h *Handler) InviteCall(c *gin.Context) {
	callID, ok := pathID(c, "id", "Invalid call ID")
	if !ok {
		return
	}

	if err := h.callService.Invite(c.Request.Context(), middleware.GetPrincipal(c), callID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Invite sent",
		"call_id": callID,
	})
}

// DeclineCall declines an incoming call
// POST /v1/calls/:id/decline
func (h *Handler) DeclineCall(c *gin.Context) {
	callID, ok := pathID(c, "id", "Invalid call ID")
	if !ok {
		return
	}

	record, err := h.callService.Decline(c.Request.Context(), middleware.GetPrincipal(c), callID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, record)
}

// EndCall terminates a call
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	callID, ok := pathID(c, "id", "Invalid call ID")
	if !ok {
		return
	}

	record, err := h.callService.End(c.Request.Context(), middleware.GetPrincipal(c), callID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, record)
}

// RequestOffer asks the caller to send a fresh SDP offer
// POST /v1/calls/:id/request-offer
func (h *Handler) RequestOffer(c *gin.Context) {
	callID, ok := pathID(c, "id", "Invalid call ID")
	if !ok {
		return
	}

	if err := h.callService.RequestOffer(c.Request.Context(), middleware.GetPrincipal(c), callID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Offer requested",
		"call_id": callID,
	})
}

// AnnounceMedia forwards a media toggle to the peer
// POST /v1/calls/:id/media
func (h *Handler) AnnounceMedia(c *gin.Context) {
	callID, ok := pathID(c, "id", "Invalid call ID")
	if !ok {
		return
	}

	var req domain.MediaUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.callService.AnnounceCallMedia(c.Request.Context(), middleware.GetPrincipal(c), callID, &req); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Media update sent"})
}

// PromoteCall turns a one-to-one call into a group call with a third user
// POST /v1/calls/:id/promote
func (h *Handler) PromoteCall(c *gin.Context) {
	callID, ok := pathID(c, "id", "Invalid call ID")
	if !ok {
		return
	}

	var req PromoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	result, err := h.callService.Promote(c.Request.Context(), middleware.GetPrincipal(c), callID, req.InviteeID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	response.Success(c, status, result)
}

// GetCallStatus retrieves a call
// GET /v1/calls/:id
func (h *Handler) GetCallStatus(c *gin.Context) {
	callID, ok := pathID(c, "id", "Invalid call ID")
	if !ok {
		return
	}

	record, err := h.callService.Status(c.Request.Context(), middleware.GetPrincipal(c), callID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, record)
}

// GetCallHistory lists the user's calls, newest first
// GET /v1/calls/history?page=1&limit=20
func (h *Handler) GetCallHistory(c *gin.Context) {
	params, err := pagination.Parse(c.Query("page"), c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	calls, err := h.callService.History(c.Request.Context(), middleware.GetPrincipal(c), params.Limit, params.Offset)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, pagination.NewPage(params, len(calls), calls))
}

// pathID parses a UUID path parameter, answering 400 when it is malformed
func pathID(c *gin.Context, name, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.ValidationError(c, message)
		return uuid.Nil, false
	}
	return id, true
}
