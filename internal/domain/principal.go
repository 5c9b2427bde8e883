package domain

import "github.com/google/uuid"

// PrincipalKind identifies who is acting on a request
type PrincipalKind int

const (
	PrincipalNone PrincipalKind = iota
	PrincipalUser
	PrincipalGuest
)

// Principal is the identity an operation runs as: either a registered user
// or a guest holding (guestToken, groupCallID). It is passed explicitly into
// every service call.
type Principal struct {
	kind        PrincipalKind
	userID      uuid.UUID
	guestToken  string
	groupCallID uuid.UUID
}

// UserPrincipal builds a principal for an authenticated user
func UserPrincipal(userID uuid.UUID) Principal {
	if userID == uuid.Nil {
		return Principal{}
	}
	return Principal{kind: PrincipalUser, userID: userID}
}

// GuestPrincipal builds a principal for a link-joined guest
func GuestPrincipal(guestToken string, groupCallID uuid.UUID) Principal {
	if guestToken == "" || groupCallID == uuid.Nil {
		return Principal{}
	}
	return Principal{kind: PrincipalGuest, guestToken: guestToken, groupCallID: groupCallID}
}

func (p Principal) Kind() PrincipalKind { return p.kind }
func (p Principal) IsZero() bool        { return p.kind == PrincipalNone }
func (p Principal) IsUser() bool        { return p.kind == PrincipalUser }
func (p Principal) IsGuest() bool       { return p.kind == PrincipalGuest }

// UserID returns the user id of a user principal
func (p Principal) UserID() (uuid.UUID, bool) {
	return p.userID, p.kind == PrincipalUser
}

// GuestCredentials returns the guest token and group call of a guest principal
func (p Principal) GuestCredentials() (string, uuid.UUID, bool) {
	return p.guestToken, p.groupCallID, p.kind == PrincipalGuest
}
