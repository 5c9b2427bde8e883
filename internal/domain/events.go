package domain

// Realtime event names delivered to clients through the fanout service
const (
	EventCallInvite         = "call.invite"
	EventCallEnd            = "call.end"
	EventGroupStarted       = "call.group.started"
	EventGroupJoined        = "call.group.joined"
	EventGroupLeft          = "call.group.left"
	EventGroupEnded         = "call.group.ended"
	EventConvertedToGroup   = "call.converted_to_group"
	EventParticipantInvited = "call.group.participant_invited"
	EventGuestJoined        = "call.group.guest_joined"
	EventGuestLeft          = "call.group.guest_left"
	EventSDP                = "call.sdp"
	EventICE                = "call.ice"
	EventResendOffer        = "call.resend_offer"
	EventRecordingStarted   = "call.recording.started"
	EventRecordingStopped   = "call.recording.stopped"
	EventScreenShare        = "call.screen_share"
	EventMuted              = "call.muted"
)

// MediaAction is a participant-side media toggle announced to peers
type MediaAction string

const (
	MediaMute             MediaAction = "mute"
	MediaScreenShare      MediaAction = "screen_share"
	MediaRecordingStarted MediaAction = "recording_started"
	MediaRecordingStopped MediaAction = "recording_stopped"
)

// MediaUpdate is a media toggle sent by a participant
type MediaUpdate struct {
	Action MediaAction `json:"action" binding:"required"`
	Audio  *bool       `json:"audio,omitempty"`  // mute: audio muted
	Video  *bool       `json:"video,omitempty"`  // mute: video muted
	Active *bool       `json:"active,omitempty"` // screen_share: sharing on/off
}

// Event returns the realtime event name for the action
func (a MediaAction) Event() (string, bool) {
	switch a {
	case MediaMute:
		return EventMuted, true
	case MediaScreenShare:
		return EventScreenShare, true
	case MediaRecordingStarted:
		return EventRecordingStarted, true
	case MediaRecordingStopped:
		return EventRecordingStopped, true
	}
	return "", false
}
