package domain

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// CallDirection tells where the other leg of a call lives
type CallDirection string

const (
	CallDirectionInternal    CallDirection = "internal"
	CallDirectionSIPInbound  CallDirection = "sip_inbound"
	CallDirectionSIPOutbound CallDirection = "sip_outbound"
)

// Call represents a one-to-one call session
// Maps to CockroachDB calls table. Rows are never deleted; an ended call
// stays as history for the conversation timeline.
type Call struct {
	CallID         uuid.UUID     `json:"call_id"`
	ConversationID uuid.UUID     `json:"conversation_id"`
	CallerID       uuid.UUID     `json:"caller_id"`
	CalleeID       uuid.UUID     `json:"callee_id"`
	WithVideo      bool          `json:"with_video"`
	Direction      CallDirection `json:"direction"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	DurationSec    *int          `json:"duration_sec,omitempty"` // set only on end
}

// IsActive reports whether the call has not ended yet
func (c *Call) IsActive() bool {
	return c.EndedAt == nil
}

// HasParticipant reports whether userID is the caller or the callee
func (c *Call) HasParticipant(userID uuid.UUID) bool {
	return c.CallerID == userID || c.CalleeID == userID
}

// Peer returns the other side of the call for userID
func (c *Call) Peer(userID uuid.UUID) (uuid.UUID, bool) {
	switch userID {
	case c.CallerID:
		return c.CalleeID, true
	case c.CalleeID:
		return c.CallerID, true
	}
	return uuid.Nil, false
}

// UserPair returns the two participant ids in canonical (sorted) order.
// The store keys the one-active-call-per-pair constraint on it, so A→B and
// B→A are the same pair.
func UserPair(a, b uuid.UUID) (low, high uuid.UUID) {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return a, b
	}
	return b, a
}

// DurationBetween returns whole seconds elapsed from start to end, never negative
func DurationBetween(start, end time.Time) int {
	d := int(end.Sub(start) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}

// StartCallInput contains the data needed to start a one-to-one call
type StartCallInput struct {
	ConversationID uuid.UUID `json:"conversation_id" binding:"required"`
	CalleeID       uuid.UUID `json:"callee_id" binding:"required"`
	WithVideo      bool      `json:"with_video"`
}
