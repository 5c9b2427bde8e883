package link

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/middleware"
	"callhub-backend/internal/service/link"
	"callhub-backend/pkg/response"
)

// Handler handles call link HTTP requests
type Handler struct {
	linkService *link.Service
}

// NewHandler creates a new call link handler
func NewHandler(linkService *link.Service) *Handler {
	return &Handler{
		linkService: linkService,
	}
}

// VerifyRequest represents a signaling token check from the signaling edge
type VerifyRequest struct {
	Token string `json:"token" binding:"required"`
}

// IssueLink creates (or returns the live) link of a call or group call
// POST /v1/links
func (h *Handler) IssueLink(c *gin.Context) {
	var req domain.IssueLinkInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	callLink, err := h.linkService.Issue(c.Request.Context(), middleware.GetPrincipal(c), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, callLink)
}

// ResolveLink resolves a link to its group call, promoting a linked
// one-to-one call when needed
// GET /v1/links/:token
func (h *Handler) ResolveLink(c *gin.Context) {
	resolved, err := h.linkService.Resolve(c.Request.Context(), middleware.GetPrincipal(c), c.Param("token"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, resolved)
}

// JoinViaLink joins the linked group call as a registered user
// POST /v1/links/:token/join
func (h *Handler) JoinViaLink(c *gin.Context) {
	joined, err := h.linkService.JoinViaLink(c.Request.Context(), middleware.GetPrincipal(c), c.Param("token"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, joined)
}

// RevokeLink revokes a single link
// DELETE /v1/links/:token
func (h *Handler) RevokeLink(c *gin.Context) {
	h.revoke(c, &domain.RevokeLinkInput{Token: c.Param("token")})
}

// RevokeLinks revokes a link by token or every link of a target
// POST /v1/links/revoke
func (h *Handler) RevokeLinks(c *gin.Context) {
	var req domain.RevokeLinkInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	h.revoke(c, &req)
}

func (h *Handler) revoke(c *gin.Context, input *domain.RevokeLinkInput) {
	revoked, err := h.linkService.Revoke(c.Request.Context(), middleware.GetPrincipal(c), input)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": revoked})
}

// RedeemLink lets an unauthenticated guest enter a group call through a link.
// The body is optional; without a display name the guest gets a default one.
// POST /v1/guest/links/:token/redeem
func (h *Handler) RedeemLink(c *gin.Context) {
	var req domain.RedeemLinkInput
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.ValidationError(c, err.Error())
		return
	}

	redemption, err := h.linkService.RedeemAsGuest(c.Request.Context(), c.Param("token"), req.DisplayName)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, redemption)
}

// RefreshSignalingToken issues a fresh signaling token to a present guest
// POST /v1/guest/signaling-token
func (h *Handler) RefreshSignalingToken(c *gin.Context) {
	token, err := h.linkService.RefreshSignalingToken(c.Request.Context(), middleware.GetPrincipal(c))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, token)
}

// VerifySignalingToken checks a guest signaling token for the signaling edge
// POST /internal/guest-signaling/verify
func (h *Handler) VerifySignalingToken(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	token, err := h.linkService.VerifySignalingToken(c.Request.Context(), req.Token)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, token)
}
