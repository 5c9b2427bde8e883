package signaling

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"callhub-backend/internal/middleware"
	"callhub-backend/internal/service/signaling"
	"callhub-backend/pkg/response"
)

// Handler handles signaling relay HTTP requests
type Handler struct {
	relay *signaling.Relay
}

// NewHandler creates a new signaling handler
func NewHandler(relay *signaling.Relay) *Handler {
	return &Handler{
		relay: relay,
	}
}

// Relay forwards an offer, answer or ICE candidate to another participant.
// Used by registered users and by guests.
// POST /v1/signaling/relay
// POST /v1/guest/signaling/relay
func (h *Handler) Relay(c *gin.Context) {
	var req signaling.Message
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	input, err := req.Input()
	if err != nil {
		response.FromError(c, err)
		return
	}

	if err := h.relay.Relay(c.Request.Context(), middleware.GetPrincipal(c), input); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"message": "Relayed"})
}
