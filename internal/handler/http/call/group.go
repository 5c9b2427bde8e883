package call

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/middleware"
	"callhub-backend/pkg/response"
)

// InviteRequest represents a request to invite a member into a group call
type InviteRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// StartGroupCall starts a group call in a group conversation
// POST /v1/group-calls
func (h *Handler) StartGroupCall(c *gin.Context) {
	var req domain.StartGroupCallInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	gc, err := h.callService.StartGroup(c.Request.Context(), middleware.GetPrincipal(c), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gc)
}

// JoinGroupCall joins a group call
// POST /v1/group-calls/:id/join
func (h *Handler) JoinGroupCall(c *gin.Context) {
	groupCallID, ok := pathID(c, "id", "Invalid group call ID")
	if !ok {
		return
	}

	participant, err := h.callService.Join(c.Request.Context(), middleware.GetPrincipal(c), groupCallID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, participant)
}

// JoinActiveGroupCall joins whatever group call is active in a conversation
// POST /v1/conversations/:id/group-call/join
func (h *Handler) JoinActiveGroupCall(c *gin.Context) {
	conversationID, ok := pathID(c, "id", "Invalid conversation ID")
	if !ok {
		return
	}

	participant, err := h.callService.JoinActive(c.Request.Context(), middleware.GetPrincipal(c), conversationID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, participant)
}

// LeaveGroupCall leaves a group call
// POST /v1/group-calls/:id/leave
func (h *Handler) LeaveGroupCall(c *gin.Context) {
	groupCallID, ok := pathID(c, "id", "Invalid group call ID")
	if !ok {
		return
	}
	h.leave(c, groupCallID)
}

// EndGroupCall ends a group call for everyone
// POST /v1/group-calls/:id/end
func (h *Handler) EndGroupCall(c *gin.Context) {
	groupCallID, ok := pathID(c, "id", "Invalid group call ID")
	if !ok {
		return
	}

	gc, err := h.callService.EndForAll(c.Request.Context(), middleware.GetPrincipal(c), groupCallID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gc)
}

// DeclineGroupInvite declines an invitation to a group call
// POST /v1/group-calls/:id/decline
func (h *Handler) DeclineGroupInvite(c *gin.Context) {
	groupCallID, ok := pathID(c, "id", "Invalid group call ID")
	if !ok {
		return
	}

	if err := h.callService.DeclineInvite(c.Request.Context(), middleware.GetPrincipal(c), groupCallID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":       "Invite declined",
		"group_call_id": groupCallID,
	})
}

// InviteToGroupCall invites a conversation member into a group call
// POST /v1/group-calls/:id/invite
func (h *Handler) InviteToGroupCall(c *gin.Context) {
	groupCallID, ok := pathID(c, "id", "Invalid group call ID")
	if !ok {
		return
	}

	var req InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	participant, err := h.callService.InviteToGroup(c.Request.Context(), middleware.GetPrincipal(c), groupCallID, req.UserID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, participant)
}

// AnnounceGroupMedia broadcasts a media toggle to the group
// POST /v1/group-calls/:id/media
func (h *Handler) AnnounceGroupMedia(c *gin.Context) {
	groupCallID, ok := pathID(c, "id", "Invalid group call ID")
	if !ok {
		return
	}
	h.announceGroupMedia(c, groupCallID)
}

// GetParticipants returns the roster of a group call
// GET /v1/group-calls/:id/participants
func (h *Handler) GetParticipants(c *gin.Context) {
	groupCallID, ok := pathID(c, "id", "Invalid group call ID")
	if !ok {
		return
	}
	h.roster(c, groupCallID)
}

// GuestLeave removes the calling guest from their group call
// POST /v1/guest/leave
func (h *Handler) GuestLeave(c *gin.Context) {
	h.leave(c, guestGroupCallID(c))
}

// GuestAnnounceMedia broadcasts a guest's media toggle
// POST /v1/guest/media
func (h *Handler) GuestAnnounceMedia(c *gin.Context) {
	h.announceGroupMedia(c, guestGroupCallID(c))
}

// GuestParticipants returns the roster of the guest's group call
// GET /v1/guest/participants
func (h *Handler) GuestParticipants(c *gin.Context) {
	h.roster(c, guestGroupCallID(c))
}

func (h *Handler) leave(c *gin.Context, groupCallID uuid.UUID) {
	ended, err := h.callService.Leave(c.Request.Context(), middleware.GetPrincipal(c), groupCallID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"group_call_id": groupCallID,
		"call_ended":    ended,
	})
}

func (h *Handler) announceGroupMedia(c *gin.Context, groupCallID uuid.UUID) {
	var req domain.MediaUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.callService.AnnounceGroupMedia(c.Request.Context(), middleware.GetPrincipal(c), groupCallID, &req); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Media update sent"})
}

func (h *Handler) roster(c *gin.Context, groupCallID uuid.UUID) {
	roster, err := h.callService.Roster(c.Request.Context(), middleware.GetPrincipal(c), groupCallID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, roster)
}

// guestGroupCallID is the group call named by the guest credentials
func guestGroupCallID(c *gin.Context) uuid.UUID {
	_, groupCallID, _ := middleware.GetPrincipal(c).GuestCredentials()
	return groupCallID
}
