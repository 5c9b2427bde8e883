package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidLinkTarget is returned when a link target names both or neither of
// a group call and a one-to-one call
var ErrInvalidLinkTarget = errors.New("exactly one of group_call_id or call_id is required")

// LinkTargetKind distinguishes the two things a call link can point at
type LinkTargetKind string

const (
	LinkTargetGroupCall LinkTargetKind = "group_call"
	LinkTargetCall      LinkTargetKind = "call"
)

// LinkTarget is either a group call or a one-to-one call, never both.
// The zero value is invalid; build targets with GroupCallTarget, CallTarget
// or NewLinkTarget.
type LinkTarget struct {
	kind LinkTargetKind
	id   uuid.UUID
}

// GroupCallTarget points a link at a group call
func GroupCallTarget(groupCallID uuid.UUID) LinkTarget {
	return LinkTarget{kind: LinkTargetGroupCall, id: groupCallID}
}

// CallTarget points a link at a one-to-one call
func CallTarget(callID uuid.UUID) LinkTarget {
	return LinkTarget{kind: LinkTargetCall, id: callID}
}

// NewLinkTarget converts the wire form (two optional ids) into a target
func NewLinkTarget(groupCallID, callID *uuid.UUID) (LinkTarget, error) {
	hasGroup := groupCallID != nil && *groupCallID != uuid.Nil
	hasCall := callID != nil && *callID != uuid.Nil
	switch {
	case hasGroup && !hasCall:
		return GroupCallTarget(*groupCallID), nil
	case hasCall && !hasGroup:
		return CallTarget(*callID), nil
	default:
		return LinkTarget{}, ErrInvalidLinkTarget
	}
}

func (t LinkTarget) Kind() LinkTargetKind { return t.kind }
func (t LinkTarget) ID() uuid.UUID        { return t.id }
func (t LinkTarget) IsZero() bool         { return t.kind == "" }

// GroupCallID returns the group call id when the target is a group call
func (t LinkTarget) GroupCallID() (uuid.UUID, bool) {
	return t.id, t.kind == LinkTargetGroupCall
}

// CallID returns the call id when the target is a one-to-one call
func (t LinkTarget) CallID() (uuid.UUID, bool) {
	return t.id, t.kind == LinkTargetCall
}

// Columns returns the nullable column pair used by the store
func (t LinkTarget) Columns() (groupCallID, callID *uuid.UUID) {
	id := t.id
	switch t.kind {
	case LinkTargetGroupCall:
		return &id, nil
	case LinkTargetCall:
		return nil, &id
	}
	return nil, nil
}

type linkTargetJSON struct {
	GroupCallID *uuid.UUID `json:"group_call_id,omitempty"`
	CallID      *uuid.UUID `json:"call_id,omitempty"`
}

func (t LinkTarget) MarshalJSON() ([]byte, error) {
	g, c := t.Columns()
	return json.Marshal(linkTargetJSON{GroupCallID: g, CallID: c})
}

func (t *LinkTarget) UnmarshalJSON(data []byte) error {
	var raw linkTargetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	target, err := NewLinkTarget(raw.GroupCallID, raw.CallID)
	if err != nil {
		return err
	}
	*t = target
	return nil
}

// CallLink is a shareable, time-limited join token
// Maps to CockroachDB call_links table
type CallLink struct {
	Token     string     `json:"token"`
	Target    LinkTarget `json:"target"`
	CreatedBy uuid.UUID  `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// IsExpired reports whether the link is past its expiry at now
func (l *CallLink) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// IssueLinkInput is the wire form of a link issue request
type IssueLinkInput struct {
	GroupCallID *uuid.UUID `json:"group_call_id,omitempty"`
	CallID      *uuid.UUID `json:"call_id,omitempty"`
	TTLSeconds  int        `json:"ttl_seconds,omitempty"`
}

// RevokeLinkInput selects the links to revoke: one token, or every link of a target
type RevokeLinkInput struct {
	Token       string     `json:"token,omitempty"`
	GroupCallID *uuid.UUID `json:"group_call_id,omitempty"`
	CallID      *uuid.UUID `json:"call_id,omitempty"`
}

// RedeemLinkInput is the wire form of a guest redemption
type RedeemLinkInput struct {
	DisplayName string `json:"display_name"`
}

// ResolvedLink is what a link resolves to: always a group call
type ResolvedLink struct {
	Link      *CallLink  `json:"link"`
	GroupCall *GroupCall `json:"group_call"`
	Promoted  bool       `json:"promoted"`
}

// GuestRedemption is returned to a guest entering through a link
type GuestRedemption struct {
	Guest          *GuestParticipant    `json:"guest"`
	GuestToken     string               `json:"guest_token"`
	SignalingToken *GuestSignalingToken `json:"signaling_token"`
	Roster         *Roster              `json:"roster"`
}

// LinkJoin is returned to a registered user joining through a link
type LinkJoin struct {
	GroupCall   *GroupCall            `json:"group_call"`
	Participant *GroupCallParticipant `json:"participant"`
	Promoted    bool                  `json:"promoted"`
}
