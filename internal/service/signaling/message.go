package signaling

import (
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"callhub-backend/internal/domain"
	apperrors "callhub-backend/pkg/errors"
)

// Message is the wire form of a signaling message sent by a client over
// HTTP or the signaling socket. Exactly one of CallID and GroupCallID names
// the call.
type Message struct {
	CallID      *uuid.UUID                 `json:"call_id,omitempty"`
	GroupCallID *uuid.UUID                 `json:"group_call_id,omitempty"`
	To          domain.Addressee           `json:"to"`
	Kind        domain.SignalKind          `json:"kind"`
	SDP         *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate   *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Input converts the message into relay input
func (m *Message) Input() (*RelayInput, error) {
	hasCall := m.CallID != nil && *m.CallID != uuid.Nil
	hasGroup := m.GroupCallID != nil && *m.GroupCallID != uuid.Nil

	var ref domain.CallRef
	switch {
	case hasCall && hasGroup:
		return nil, apperrors.InvalidInputError("call_id and group_call_id are mutually exclusive")
	case hasCall:
		ref = domain.OneToOneRef(*m.CallID)
	case hasGroup:
		ref = domain.GroupRef(*m.GroupCallID)
	}

	return &RelayInput{
		Call:      ref,
		To:        m.To,
		Kind:      m.Kind,
		SDP:       m.SDP,
		Candidate: m.Candidate,
	}, nil
}
