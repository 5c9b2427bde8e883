package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// ErrInvalidAddressee is returned when an addressee names both or neither of
// a user and a guest
var ErrInvalidAddressee = errors.New("exactly one of user_id or guest_id is required")

// SignalKind is the type of a relayed signaling payload
type SignalKind string

const (
	SignalOffer  SignalKind = "offer"
	SignalAnswer SignalKind = "answer"
	SignalICE    SignalKind = "ice"
)

// Valid reports whether k is a known signal kind
func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalICE:
		return true
	}
	return false
}

// AddresseeKind distinguishes registered users from guests
type AddresseeKind string

const (
	AddresseeUser  AddresseeKind = "user"
	AddresseeGuest AddresseeKind = "guest"
)

// Addressee is one end of a signaling exchange: a user id or a guest id
type Addressee struct {
	kind AddresseeKind
	id   uuid.UUID
}

// UserAddressee addresses a registered user
func UserAddressee(userID uuid.UUID) Addressee {
	return Addressee{kind: AddresseeUser, id: userID}
}

// GuestAddressee addresses a guest participant
func GuestAddressee(guestID uuid.UUID) Addressee {
	return Addressee{kind: AddresseeGuest, id: guestID}
}

// NewAddressee converts the wire form (two optional ids) into an addressee
func NewAddressee(userID, guestID *uuid.UUID) (Addressee, error) {
	hasUser := userID != nil && *userID != uuid.Nil
	hasGuest := guestID != nil && *guestID != uuid.Nil
	switch {
	case hasUser && !hasGuest:
		return UserAddressee(*userID), nil
	case hasGuest && !hasUser:
		return GuestAddressee(*guestID), nil
	default:
		return Addressee{}, ErrInvalidAddressee
	}
}

func (a Addressee) Kind() AddresseeKind { return a.kind }
func (a Addressee) ID() uuid.UUID       { return a.id }
func (a Addressee) IsZero() bool        { return a.kind == "" }
func (a Addressee) IsUser() bool        { return a.kind == AddresseeUser }
func (a Addressee) IsGuest() bool       { return a.kind == AddresseeGuest }

type addresseeJSON struct {
	UserID  *uuid.UUID `json:"user_id,omitempty"`
	GuestID *uuid.UUID `json:"guest_id,omitempty"`
}

func (a Addressee) MarshalJSON() ([]byte, error) {
	id := a.id
	var raw addresseeJSON
	switch a.kind {
	case AddresseeUser:
		raw.UserID = &id
	case AddresseeGuest:
		raw.GuestID = &id
	}
	return json.Marshal(raw)
}

func (a *Addressee) UnmarshalJSON(data []byte) error {
	var raw addresseeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	addr, err := NewAddressee(raw.UserID, raw.GuestID)
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

// CallRef names the call a signaling exchange belongs to
type CallRef struct {
	group bool
	id    uuid.UUID
}

// OneToOneRef refers to a one-to-one call
func OneToOneRef(callID uuid.UUID) CallRef {
	return CallRef{id: callID}
}

// GroupRef refers to a group call
func GroupRef(groupCallID uuid.UUID) CallRef {
	return CallRef{group: true, id: groupCallID}
}

func (r CallRef) ID() uuid.UUID { return r.id }
func (r CallRef) IsGroup() bool { return r.group }
func (r CallRef) IsZero() bool  { return r.id == uuid.Nil }

// SignalingEnvelope is a relayed SDP or ICE payload. It is never persisted.
type SignalingEnvelope struct {
	From           Addressee                  `json:"from"`
	To             Addressee                  `json:"to"`
	Kind           SignalKind                 `json:"kind"`
	ConversationID uuid.UUID                  `json:"conversation_id"`
	CallID         uuid.UUID                  `json:"call_id"`
	Group          bool                       `json:"group"`
	SDP            *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate      *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// GuestSignalingToken binds a guest to the realtime channel. It is separate
// from the guest token so that receiving events and acting as a participant
// are different credentials.
type GuestSignalingToken struct {
	Token       string    `json:"token"`
	GuestID     uuid.UUID `json:"guest_id"`
	GroupCallID uuid.UUID `json:"group_call_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	// ConversationID is filled in on verification from the group call
	ConversationID uuid.UUID `json:"conversation_id,omitempty"`
}

// IsExpired reports whether the token is past its expiry at now
func (t *GuestSignalingToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
