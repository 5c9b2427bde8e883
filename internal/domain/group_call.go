package domain

import (
	"time"

	"github.com/google/uuid"
)

// GroupCall represents a multi-party call session
// Maps to CockroachDB group_calls table
type GroupCall struct {
	GroupCallID    uuid.UUID  `json:"group_call_id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	CreatedBy      uuid.UUID  `json:"created_by"`
	WithVideo      bool       `json:"with_video"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	DurationSec    *int       `json:"duration_sec,omitempty"`
	OriginCallID   *uuid.UUID `json:"origin_call_id,omitempty"` // set when promoted from a one-to-one call
}

// IsActive reports whether the group call has not ended yet
func (g *GroupCall) IsActive() bool {
	return g.EndedAt == nil
}

// ParticipantState is the lifecycle position of a registered participant
type ParticipantState string

const (
	ParticipantInvited ParticipantState = "invited"
	ParticipantJoined  ParticipantState = "joined"
	ParticipantLeft    ParticipantState = "left"
)

// GroupCallParticipant is a registered user attached to a group call.
// JoinedAt == nil means invited but never joined; JoinedAt and LeftAt both
// set means joined then left. Re-joining clears LeftAt and refreshes JoinedAt.
type GroupCallParticipant struct {
	GroupCallID uuid.UUID  `json:"group_call_id"`
	UserID      uuid.UUID  `json:"user_id"`
	JoinedAt    *time.Time `json:"joined_at,omitempty"`
	LeftAt      *time.Time `json:"left_at,omitempty"`
}

// State derives the participant state from its timestamps
func (p *GroupCallParticipant) State() ParticipantState {
	switch {
	case p.JoinedAt == nil:
		return ParticipantInvited
	case p.LeftAt != nil:
		return ParticipantLeft
	default:
		return ParticipantJoined
	}
}

// GuestParticipant is an unauthenticated participant admitted through a call link.
// Guests are joined from the moment they are created.
type GuestParticipant struct {
	GuestID     uuid.UUID  `json:"guest_id"`
	GroupCallID uuid.UUID  `json:"group_call_id"`
	DisplayName string     `json:"display_name"`
	GuestToken  string     `json:"-"`
	JoinedAt    time.Time  `json:"joined_at"`
	LeftAt      *time.Time `json:"left_at,omitempty"`
}

// IsActive reports whether the guest is still in the call
func (g *GuestParticipant) IsActive() bool {
	return g.LeftAt == nil
}

// ParticipantEntry is a registered participant as listed in a roster
type ParticipantEntry struct {
	UserID   uuid.UUID        `json:"user_id"`
	State    ParticipantState `json:"state"`
	JoinedAt *time.Time       `json:"joined_at,omitempty"`
	LeftAt   *time.Time       `json:"left_at,omitempty"`
}

// GuestEntry is a guest as listed in a roster
type GuestEntry struct {
	GuestID     uuid.UUID `json:"guest_id"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Roster is the current membership of a group call
type Roster struct {
	GroupCall    *GroupCall         `json:"group_call"`
	Participants []ParticipantEntry `json:"participants"`
	Guests       []GuestEntry       `json:"guests"`
}

// NewRoster builds a roster view; guests that already left are omitted
func NewRoster(gc *GroupCall, participants []*GroupCallParticipant, guests []*GuestParticipant) *Roster {
	r := &Roster{
		GroupCall:    gc,
		Participants: make([]ParticipantEntry, 0, len(participants)),
		Guests:       make([]GuestEntry, 0, len(guests)),
	}
	for _, p := range participants {
		r.Participants = append(r.Participants, ParticipantEntry{
			UserID:   p.UserID,
			State:    p.State(),
			JoinedAt: p.JoinedAt,
			LeftAt:   p.LeftAt,
		})
	}
	for _, g := range guests {
		if !g.IsActive() {
			continue
		}
		r.Guests = append(r.Guests, GuestEntry{
			GuestID:     g.GuestID,
			DisplayName: g.DisplayName,
			JoinedAt:    g.JoinedAt,
		})
	}
	return r
}

// GroupLeaveResult is returned by a leave that may have ended the group call.
// Ended is non-nil only for the single leave that flipped the call to ended.
type GroupLeaveResult struct {
	Participant *GroupCallParticipant
	Ended       *GroupCall
}

// PromoteResult describes the outcome of promoting a one-to-one call
type PromoteResult struct {
	GroupCall            *GroupCall            `json:"group_call"`
	Invitee              *GroupCallParticipant `json:"invitee"`
	OriginConversationID uuid.UUID             `json:"origin_conversation_id"`
	Created              bool                  `json:"created"` // false when an earlier promotion already produced the group
	// OriginCall is the one-to-one call this promotion ended; nil unless Created
	OriginCall *Call `json:"origin_call,omitempty"`
}

// StartGroupCallInput contains the data needed to start a group call
type StartGroupCallInput struct {
	ConversationID uuid.UUID `json:"conversation_id" binding:"required"`
	WithVideo      bool      `json:"with_video"`
}
