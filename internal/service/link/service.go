package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/repository"
	"callhub-backend/pkg/audit"
	"callhub-backend/pkg/constants"
	apperrors "callhub-backend/pkg/errors"
	"callhub-backend/pkg/fanout"
	"callhub-backend/pkg/logger"
	"callhub-backend/pkg/metrics"
	"callhub-backend/pkg/sanitize"
)

// LinkRepository interface
type LinkRepository interface {
	GetOrCreate(ctx context.Context, link *domain.CallLink, now time.Time) (*domain.CallLink, bool, error)
	GetByToken(ctx context.Context, token string) (*domain.CallLink, error)
	Delete(ctx context.Context, token string) error
	DeleteByTarget(ctx context.Context, target domain.LinkTarget) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// CallRepository interface
type CallRepository interface {
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
}

// GroupCallRepository interface
type GroupCallRepository interface {
	GetByID(ctx context.Context, groupCallID uuid.UUID) (*domain.GroupCall, error)
	AddGuest(ctx context.Context, guest *domain.GuestParticipant) error
	GetGuestByID(ctx context.Context, guestID uuid.UUID) (*domain.GuestParticipant, error)
}

// ConversationRepository interface
type ConversationRepository interface {
	AddMember(ctx context.Context, conversationID, userID uuid.UUID, role string) error
}

// SignalingTokenRepository stores guest signaling tokens with expiry
type SignalingTokenRepository interface {
	Save(ctx context.Context, token *domain.GuestSignalingToken) error
	Get(ctx context.Context, token string) (*domain.GuestSignalingToken, error)
	Delete(ctx context.Context, token string) error
}

// Authorizer is the access gate
type Authorizer interface {
	AuthorizeCall(ctx context.Context, principal domain.Principal, callID uuid.UUID) (*domain.Call, error)
	AuthorizeGroupCall(ctx context.Context, principal domain.Principal, groupCallID uuid.UUID) (*domain.GroupCall, error)
	Guest(ctx context.Context, principal domain.Principal) (*domain.GuestParticipant, *domain.GroupCall, error)
}

// Lifecycle is the part of the call service links drive
type Lifecycle interface {
	PromoteViaLink(ctx context.Context, callID, inviterID, inviteeID uuid.UUID) (*domain.PromoteResult, error)
	Join(ctx context.Context, principal domain.Principal, groupCallID uuid.UUID) (*domain.GroupCallParticipant, error)
	RosterOf(ctx context.Context, gc *domain.GroupCall) (*domain.Roster, error)
}

// Auditor records link activity
type Auditor interface {
	Record(ctx context.Context, event *audit.AuditEvent)
}

type noopAuditor struct{}

func (noopAuditor) Record(context.Context, *audit.AuditEvent) {}

// Service handles call link issuance, resolution and guest admission
type Service struct {
	links         LinkRepository
	calls         CallRepository
	groupCalls    GroupCallRepository
	conversations ConversationRepository
	tokens        SignalingTokenRepository
	gate          Authorizer
	lifecycle     Lifecycle
	fanout        fanout.Client
	audit         Auditor
	now           func() time.Time
}

// NewService creates a new link service
func NewService(
	links LinkRepository,
	calls CallRepository,
	groupCalls GroupCallRepository,
	conversations ConversationRepository,
	tokens SignalingTokenRepository,
	gate Authorizer,
	lifecycle Lifecycle,
	fanoutClient fanout.Client,
) *Service {
	return &Service{
		links:         links,
		calls:         calls,
		groupCalls:    groupCalls,
		conversations: conversations,
		tokens:        tokens,
		gate:          gate,
		lifecycle:     lifecycle,
		fanout:        fanoutClient,
		audit:         noopAuditor{},
		now:           time.Now,
	}
}

// WithAuditor makes the service record link activity to a
func (s *Service) WithAuditor(a Auditor) *Service {
	if a != nil {
		s.audit = a
	}
	return s
}

// Issue returns the live link of a target, minting one if none exists.
// The requester must be an authorized member of the target.
func (s *Service) Issue(ctx context.Context, principal domain.Principal, input *domain.IssueLinkInput) (*domain.CallLink, error) {
	target, err := domain.NewLinkTarget(input.GroupCallID, input.CallID)
	if err != nil {
		return nil, apperrors.InvalidInputError(err.Error())
	}
	creatorID, err := s.authorizeTarget(ctx, principal, target)
	if err != nil {
		return nil, err
	}

	token, err := generateToken()
	if err != nil {
		return nil, apperrors.InternalError("Failed to generate link token")
	}
	now := s.now().UTC()
	candidate := &domain.CallLink{
		Token:     token,
		Target:    target,
		CreatedBy: creatorID,
		CreatedAt: now,
		ExpiresAt: now.Add(clampTTL(input.TTLSeconds)),
	}

	link, created, err := s.links.GetOrCreate(ctx, candidate, now)
	if err != nil {
		metrics.LinkOperationsTotal.WithLabelValues("issue", "failure").Inc()
		return nil, lookupError(err, targetNotFound(target))
	}

	status := "reused"
	if created {
		status = "created"
		logger.Info("Call link issued",
			zap.String("target", string(target.Kind())),
			zap.String("target_id", target.ID().String()),
			zap.String("token", maskToken(link.Token)))
		s.audit.Record(ctx, &audit.AuditEvent{
			EventType: audit.EventLinkIssue,
			UserID:    &creatorID,
			Resource:  resourceOf(target),
			Success:   true,
			Details:   "expires_at=" + link.ExpiresAt.Format(time.RFC3339),
		})
	}
	metrics.LinkOperationsTotal.WithLabelValues("issue", status).Inc()
	return link, nil
}

// Resolve resolves a link for a registered user. A link to a one-to-one call
// promotes it and invites the resolver, so every link ends on a group call.
func (s *Service) Resolve(ctx context.Context, principal domain.Principal, token string) (*domain.ResolvedLink, error) {
	userID, ok := principal.UserID()
	if !ok {
		return nil, apperrors.NotAuthenticatedError()
	}
	link, err := s.liveLink(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, link, userID)
}

func (s *Service) resolve(ctx context.Context, link *domain.CallLink, resolverID uuid.UUID) (*domain.ResolvedLink, error) {
	if groupCallID, ok := link.Target.GroupCallID(); ok {
		gc, err := s.groupCalls.GetByID(ctx, groupCallID)
		if err != nil {
			return nil, lookupError(err, apperrors.GroupCallNotFoundError())
		}
		if !gc.IsActive() {
			return nil, apperrors.GroupCallNotFoundError()
		}
		metrics.LinkOperationsTotal.WithLabelValues("resolve", "success").Inc()
		return &domain.ResolvedLink{Link: link, GroupCall: gc}, nil
	}

	callID, _ := link.Target.CallID()
	call, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return nil, lookupError(err, apperrors.CallNotFoundError())
	}
	// The two original participants are already in the group a promotion builds.
	inviteeID := resolverID
	if call.HasParticipant(resolverID) {
		inviteeID = uuid.Nil
	}

	result, err := s.lifecycle.PromoteViaLink(ctx, callID, link.CreatedBy, inviteeID)
	if err != nil {
		metrics.LinkOperationsTotal.WithLabelValues("resolve", "failure").Inc()
		return nil, err
	}
	metrics.LinkOperationsTotal.WithLabelValues("resolve", "promoted").Inc()
	return &domain.ResolvedLink{Link: link, GroupCall: result.GroupCall, Promoted: result.Created}, nil
}

// JoinViaLink resolves a link, makes the user a member of the group call's
// conversation and joins the call
func (s *Service) JoinViaLink(ctx context.Context, principal domain.Principal, token string) (*domain.LinkJoin, error) {
	userID, ok := principal.UserID()
	if !ok {
		return nil, apperrors.NotAuthenticatedError()
	}
	link, err := s.liveLink(ctx, token)
	if err != nil {
		return nil, err
	}
	resolved, err := s.resolve(ctx, link, userID)
	if err != nil {
		return nil, err
	}

	gc := resolved.GroupCall
	if err := s.conversations.AddMember(ctx, gc.ConversationID, userID, domain.ConversationRoleMember); err != nil {
		return nil, lookupError(err, apperrors.GroupCallNotFoundError())
	}
	participant, err := s.lifecycle.Join(ctx, principal, gc.GroupCallID)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, &audit.AuditEvent{
		EventType: audit.EventLinkJoin,
		UserID:    &userID,
		Resource:  resourceOf(domain.GroupCallTarget(gc.GroupCallID)),
		Success:   true,
	})
	return &domain.LinkJoin{GroupCall: gc, Participant: participant, Promoted: resolved.Promoted}, nil
}

// RedeemAsGuest admits an unauthenticated guest through a link
func (s *Service) RedeemAsGuest(ctx context.Context, token, displayName string) (*domain.GuestRedemption, error) {
	link, err := s.liveLink(ctx, token)
	if err != nil {
		return nil, err
	}
	resolved, err := s.resolve(ctx, link, uuid.Nil)
	if err != nil {
		return nil, err
	}
	gc := resolved.GroupCall

	guestToken, err := generateToken()
	if err != nil {
		return nil, apperrors.InternalError("Failed to generate guest token")
	}
	guest := &domain.GuestParticipant{
		GuestID:     uuid.New(),
		GroupCallID: gc.GroupCallID,
		DisplayName: sanitize.DisplayName(displayName),
		GuestToken:  guestToken,
		JoinedAt:    s.now().UTC(),
	}
	if err := s.groupCalls.AddGuest(ctx, guest); err != nil {
		metrics.LinkOperationsTotal.WithLabelValues("redeem", "failure").Inc()
		return nil, lookupError(err, apperrors.GroupCallNotFoundError())
	}

	// The guest is in the call at this point; a client whose signaling token
	// could not be stored asks for a fresh one.
	signaling, err := s.mintSignalingToken(ctx, guest)
	if err != nil {
		logger.Warn("Failed to store guest signaling token",
			logger.GroupCallID(gc.GroupCallID),
			zap.String("guest_id", guest.GuestID.String()),
			zap.Error(err))
	}

	roster, err := s.lifecycle.RosterOf(ctx, gc)
	if err != nil {
		return nil, err
	}

	metrics.LinkOperationsTotal.WithLabelValues("redeem", "success").Inc()
	logger.Info("Guest joined through link",
		logger.GroupCallID(gc.GroupCallID),
		zap.String("guest_id", guest.GuestID.String()))
	s.audit.Record(ctx, &audit.AuditEvent{
		EventType: audit.EventGuestRedeem,
		GuestID:   &guest.GuestID,
		Resource:  resourceOf(domain.GroupCallTarget(gc.GroupCallID)),
		Success:   true,
		Details:   "link=" + maskToken(token),
	})

	s.fanout.Notify(ctx, domain.EventGuestJoined, gc.ConversationID, guestJoinedPayload{
		GroupCallID: gc.GroupCallID,
		GuestID:     guest.GuestID,
		DisplayName: guest.DisplayName,
	})

	return &domain.GuestRedemption{
		Guest:          guest,
		GuestToken:     guestToken,
		SignalingToken: signaling,
		Roster:         roster,
	}, nil
}

// Revoke deletes one link by token, or every link of a target. The invoker
// must be an authorized member of the target. It returns the number of
// links removed.
func (s *Service) Revoke(ctx context.Context, principal domain.Principal, input *domain.RevokeLinkInput) (int64, error) {
	if input.Token != "" {
		if input.GroupCallID != nil || input.CallID != nil {
			return 0, apperrors.InvalidInputError("give either token or a target, not both")
		}
		return s.revokeToken(ctx, principal, input.Token)
	}

	target, err := domain.NewLinkTarget(input.GroupCallID, input.CallID)
	if err != nil {
		return 0, apperrors.InvalidInputError(err.Error())
	}
	if _, err := s.authorizeTarget(ctx, principal, target); err != nil {
		return 0, err
	}

	removed, err := s.links.DeleteByTarget(ctx, target)
	if err != nil {
		return 0, apperrors.DatabaseError(err)
	}
	metrics.LinkOperationsTotal.WithLabelValues("revoke", "success").Add(float64(removed))
	s.recordRevoke(ctx, principal, target, fmt.Sprintf("removed=%d", removed))
	return removed, nil
}

func (s *Service) revokeToken(ctx context.Context, principal domain.Principal, token string) (int64, error) {
	link, err := s.links.GetByToken(ctx, token)
	if err != nil {
		return 0, lookupError(err, apperrors.LinkNotFoundError())
	}
	if _, err := s.authorizeTarget(ctx, principal, link.Target); err != nil {
		return 0, apperrors.LinkNotFoundError()
	}

	if err := s.links.Delete(ctx, token); err != nil {
		return 0, lookupError(err, apperrors.LinkNotFoundError())
	}
	metrics.LinkOperationsTotal.WithLabelValues("revoke", "success").Inc()
	logger.Info("Call link revoked", zap.String("token", maskToken(token)))
	s.recordRevoke(ctx, principal, link.Target, "link="+maskToken(token))
	return 1, nil
}

func (s *Service) recordRevoke(ctx context.Context, principal domain.Principal, target domain.LinkTarget, details string) {
	userID, _ := principal.UserID()
	s.audit.Record(ctx, &audit.AuditEvent{
		EventType: audit.EventLinkRevoke,
		UserID:    &userID,
		Resource:  resourceOf(target),
		Success:   true,
		Details:   details,
	})
}

// RefreshSignalingToken mints a fresh signaling token for a guest still in the call
func (s *Service) RefreshSignalingToken(ctx context.Context, principal domain.Principal) (*domain.GuestSignalingToken, error) {
	guest, _, err := s.gate.Guest(ctx, principal)
	if err != nil {
		return nil, err
	}
	token, err := s.mintSignalingToken(ctx, guest)
	if err != nil {
		logger.Error("Failed to store guest signaling token",
			zap.String("guest_id", guest.GuestID.String()),
			zap.Error(err))
		return nil, apperrors.ServiceUnavailableError("Signaling tokens are temporarily unavailable")
	}
	s.audit.Record(ctx, &audit.AuditEvent{
		EventType: audit.EventGuestTokenRefresh,
		GuestID:   &guest.GuestID,
		Resource:  resourceOf(domain.GroupCallTarget(guest.GroupCallID)),
		Success:   true,
	})
	return token, nil
}

// VerifySignalingToken checks a guest signaling token for the fanout service.
// The guest must still be in an active group call.
func (s *Service) VerifySignalingToken(ctx context.Context, token string) (*domain.GuestSignalingToken, error) {
	stored, err := s.tokens.Get(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.InvalidTokenError("Unknown or expired signaling token")
		}
		return nil, apperrors.ServiceUnavailableError("Signaling tokens are temporarily unavailable")
	}
	if stored.IsExpired(s.now()) {
		return nil, apperrors.ExpiredTokenError()
	}

	guest, err := s.groupCalls.GetGuestByID(ctx, stored.GuestID)
	if err != nil {
		return nil, lookupError(err, apperrors.GroupCallNotFoundError())
	}
	gc, err := s.groupCalls.GetByID(ctx, stored.GroupCallID)
	if err != nil {
		return nil, lookupError(err, apperrors.GroupCallNotFoundError())
	}
	if !guest.IsActive() || !gc.IsActive() {
		return nil, apperrors.GroupCallNotFoundError()
	}
	verified := *stored
	verified.ConversationID = gc.ConversationID
	return &verified, nil
}

// SweepExpired deletes links past their expiry
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	removed, err := s.links.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, apperrors.DatabaseError(err)
	}
	if removed > 0 {
		metrics.LinkOperationsTotal.WithLabelValues("sweep", "success").Add(float64(removed))
		logger.Info("Expired call links swept", zap.Int64("removed", removed))
	}
	return removed, nil
}

// RunSweeper sweeps expired links every interval until ctx is cancelled
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = constants.LinkSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				logger.Warn("Failed to sweep expired call links", zap.Error(err))
			}
		}
	}
}

// liveLink loads a link by token; expiry is enforced here, at read time
func (s *Service) liveLink(ctx context.Context, token string) (*domain.CallLink, error) {
	link, err := s.links.GetByToken(ctx, token)
	if err != nil {
		return nil, lookupError(err, apperrors.LinkNotFoundError())
	}
	if link.IsExpired(s.now()) {
		metrics.LinkOperationsTotal.WithLabelValues("resolve", "expired").Inc()
		return nil, apperrors.ExpiredError("Link")
	}
	return link, nil
}

// authorizeTarget checks a registered user against a link target and
// returns the user id
func (s *Service) authorizeTarget(ctx context.Context, principal domain.Principal, target domain.LinkTarget) (uuid.UUID, error) {
	userID, ok := principal.UserID()
	if !ok {
		if principal.IsZero() {
			return uuid.Nil, apperrors.NotAuthenticatedError()
		}
		return uuid.Nil, targetNotFound(target)
	}

	if groupCallID, ok := target.GroupCallID(); ok {
		_, err := s.gate.AuthorizeGroupCall(ctx, principal, groupCallID)
		return userID, err
	}
	callID, _ := target.CallID()
	_, err := s.gate.AuthorizeCall(ctx, principal, callID)
	return userID, err
}

func (s *Service) mintSignalingToken(ctx context.Context, guest *domain.GuestParticipant) (*domain.GuestSignalingToken, error) {
	value, err := generateToken()
	if err != nil {
		return nil, err
	}
	token := &domain.GuestSignalingToken{
		Token:       value,
		GuestID:     guest.GuestID,
		GroupCallID: guest.GroupCallID,
		ExpiresAt:   s.now().UTC().Add(constants.GuestSignalingTokenTTL),
	}
	if err := s.tokens.Save(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// clampTTL applies the default and the bounds to a requested lifetime
func clampTTL(seconds int) time.Duration {
	if seconds <= 0 {
		return constants.LinkDefaultTTL
	}
	ttl := time.Duration(seconds) * time.Second
	switch {
	case ttl < constants.LinkMinTTL:
		return constants.LinkMinTTL
	case ttl > constants.LinkMaxTTL:
		return constants.LinkMaxTTL
	}
	return ttl
}

func targetNotFound(target domain.LinkTarget) error {
	if target.Kind() == domain.LinkTargetCall {
		return apperrors.CallNotFoundError()
	}
	return apperrors.GroupCallNotFoundError()
}

func lookupError(err error, notFound error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.DatabaseError(err)
}

type guestJoinedPayload struct {
	GroupCallID uuid.UUID `json:"group_call_id"`
	GuestID     uuid.UUID `json:"guest_id"`
	DisplayName string    `json:"display_name"`
}
