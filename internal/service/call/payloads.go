package call

import (
	"github.com/google/uuid"

	"callhub-backend/internal/domain"
)

// Event payloads delivered through fanout

type callEventPayload struct {
	Call        *domain.Call `json:"call"`
	Declined    bool         `json:"declined,omitempty"`
	GroupCallID *uuid.UUID   `json:"group_call_id,omitempty"` // set when the call continued as a group call
}

type resendOfferPayload struct {
	CallID      uuid.UUID `json:"call_id"`
	RequestedBy uuid.UUID `json:"requested_by"`
}

type mediaPayload struct {
	CallID uuid.UUID           `json:"call_id"`
	Group  bool                `json:"group,omitempty"`
	From   domain.Addressee    `json:"from"`
	Update *domain.MediaUpdate `json:"update"`
}

type groupEventPayload struct {
	GroupCall *domain.GroupCall `json:"group_call"`
}

type participantPayload struct {
	GroupCallID uuid.UUID  `json:"group_call_id"`
	UserID      uuid.UUID  `json:"user_id"`
	InvitedBy   *uuid.UUID `json:"invited_by,omitempty"`
	Declined    bool       `json:"declined,omitempty"`
}

type guestPayload struct {
	GroupCallID uuid.UUID `json:"group_call_id"`
	GuestID     uuid.UUID `json:"guest_id"`
	DisplayName string    `json:"display_name"`
}

type convertedPayload struct {
	CallID    uuid.UUID         `json:"call_id"`
	GroupCall *domain.GroupCall `json:"group_call"`
}

type invitedPayload struct {
	GroupCall *domain.GroupCall `json:"group_call"`
	UserID    uuid.UUID         `json:"user_id"`
	InvitedBy uuid.UUID         `json:"invited_by"`
}
