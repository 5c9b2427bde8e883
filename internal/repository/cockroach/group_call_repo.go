package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/repository"
)

const groupCallColumns = `group_call_id, conversation_id, created_by, with_video,
	started_at, ended_at, duration_sec, origin_call_id`

const participantColumns = `group_call_id, user_id, joined_at, left_at`

const guestColumns = `guest_id, group_call_id, display_name, guest_token, joined_at, left_at`

// GroupCallRepository handles group calls, their registered participants and guests.
// Every write that touches more than one invariant runs in one transaction with
// the group call row locked, so leave/end/join on the same call serialize.
type GroupCallRepository struct {
	pool *pgxpool.Pool
}

// NewGroupCallRepository creates a new group call repository
func NewGroupCallRepository(pool *pgxpool.Pool) *GroupCallRepository {
	return &GroupCallRepository{pool: pool}
}

func scanGroupCall(row pgx.Row) (*domain.GroupCall, error) {
	gc := &domain.GroupCall{}
	err := row.Scan(
		&gc.GroupCallID,
		&gc.ConversationID,
		&gc.CreatedBy,
		&gc.WithVideo,
		&gc.StartedAt,
		&gc.EndedAt,
		&gc.DurationSec,
		&gc.OriginCallID,
	)
	if err != nil {
		return nil, err
	}
	return gc, nil
}

func scanParticipant(row pgx.Row) (*domain.GroupCallParticipant, error) {
	p := &domain.GroupCallParticipant{}
	if err := row.Scan(&p.GroupCallID, &p.UserID, &p.JoinedAt, &p.LeftAt); err != nil {
		return nil, err
	}
	return p, nil
}

func scanGuest(row pgx.Row) (*domain.GuestParticipant, error) {
	g := &domain.GuestParticipant{}
	if err := row.Scan(&g.GuestID, &g.GroupCallID, &g.DisplayName, &g.GuestToken, &g.JoinedAt, &g.LeftAt); err != nil {
		return nil, err
	}
	return g, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	return err
}

// lockActiveGroupCall reads an active group call FOR UPDATE inside tx
func lockActiveGroupCall(ctx context.Context, tx pgx.Tx, groupCallID uuid.UUID) (*domain.GroupCall, error) {
	query := `SELECT ` + groupCallColumns + ` FROM group_calls WHERE group_call_id = $1 FOR UPDATE`
	gc, err := scanGroupCall(tx.QueryRow(ctx, query, groupCallID))
	if err != nil {
		return nil, notFound(err)
	}
	if !gc.IsActive() {
		return nil, repository.ErrNotFound
	}
	return gc, nil
}

// Create inserts an active group call and auto-joins its creator.
// A second active group call in the conversation is rejected by
// group_calls_active_conversation_key and reported as repository.ErrConflict.
func (r *GroupCallRepository) Create(ctx context.Context, gc *domain.GroupCall) error {
	return runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := insertGroupCall(ctx, tx, gc); err != nil {
			return err
		}
		joinedAt := gc.StartedAt
		return insertParticipant(ctx, tx, gc.GroupCallID, gc.CreatedBy, &joinedAt)
	})
}

func insertGroupCall(ctx context.Context, q querier, gc *domain.GroupCall) error {
	query := `
		INSERT INTO group_calls (
			group_call_id, conversation_id, created_by, with_video, started_at, origin_call_id
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := q.Exec(ctx, query,
		gc.GroupCallID,
		gc.ConversationID,
		gc.CreatedBy,
		gc.WithVideo,
		gc.StartedAt,
		gc.OriginCallID,
	)
	if err != nil {
		return fmt.Errorf("failed to create group call: %w", err)
	}
	return nil
}

// insertParticipant adds a participant if absent; joinedAt nil means invited
func insertParticipant(ctx context.Context, q querier, groupCallID, userID uuid.UUID, joinedAt *time.Time) error {
	query := `
		INSERT INTO group_call_participants (group_call_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_call_id, user_id) DO NOTHING
	`
	if _, err := q.Exec(ctx, query, groupCallID, userID, joinedAt); err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

func getParticipant(ctx context.Context, q querier, groupCallID, userID uuid.UUID) (*domain.GroupCallParticipant, error) {
	query := `SELECT ` + participantColumns + ` FROM group_call_participants WHERE group_call_id = $1 AND user_id = $2`
	p, err := scanParticipant(q.QueryRow(ctx, query, groupCallID, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// GetByID retrieves a group call by ID
func (r *GroupCallRepository) GetByID(ctx context.Context, groupCallID uuid.UUID) (*domain.GroupCall, error) {
	query := `SELECT ` + groupCallColumns + ` FROM group_calls WHERE group_call_id = $1`
	gc, err := scanGroupCall(r.pool.QueryRow(ctx, query, groupCallID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get group call: %w", err)
	}
	return gc, nil
}

// GetActiveByConversation retrieves the active group call of a conversation
func (r *GroupCallRepository) GetActiveByConversation(ctx context.Context, conversationID uuid.UUID) (*domain.GroupCall, error) {
	query := `SELECT ` + groupCallColumns + ` FROM group_calls WHERE conversation_id = $1 AND ended_at IS NULL`
	gc, err := scanGroupCall(r.pool.QueryRow(ctx, query, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active group call: %w", err)
	}
	return gc, nil
}

// Join upserts the participant as joined: joined_at refreshed, left_at cleared
func (r *GroupCallRepository) Join(ctx context.Context, groupCallID, userID uuid.UUID, now time.Time) (*domain.GroupCallParticipant, error) {
	var participant *domain.GroupCallParticipant
	err := runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := lockActiveGroupCall(ctx, tx, groupCallID); err != nil {
			return err
		}

		query := `
			INSERT INTO group_call_participants (group_call_id, user_id, joined_at, left_at)
			VALUES ($1, $2, $3, NULL)
			ON CONFLICT (group_call_id, user_id) DO UPDATE SET joined_at = excluded.joined_at, left_at = NULL
			RETURNING ` + participantColumns
		p, err := scanParticipant(tx.QueryRow(ctx, query, groupCallID, userID, now))
		if err != nil {
			return fmt.Errorf("failed to join group call: %w", err)
		}
		participant = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return participant, nil
}

// Invite adds the user as an invited participant. created is false when the
// user was already attached to the call, in which case the row is unchanged.
func (r *GroupCallRepository) Invite(ctx context.Context, groupCallID, userID uuid.UUID) (*domain.GroupCallParticipant, bool, error) {
	var (
		participant *domain.GroupCallParticipant
		created     bool
	)
	err := runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := lockActiveGroupCall(ctx, tx, groupCallID); err != nil {
			return err
		}
		p, ok, err := inviteParticipant(ctx, tx, groupCallID, userID)
		if err != nil {
			return err
		}
		participant, created = p, ok
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return participant, created, nil
}

func inviteParticipant(ctx context.Context, tx pgx.Tx, groupCallID, userID uuid.UUID) (*domain.GroupCallParticipant, bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO group_call_participants (group_call_id, user_id, joined_at)
		VALUES ($1, $2, NULL)
		ON CONFLICT (group_call_id, user_id) DO NOTHING
	`, groupCallID, userID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to invite participant: %w", err)
	}
	p, err := getParticipant(ctx, tx, groupCallID, userID)
	if err != nil {
		return nil, false, err
	}
	return p, tag.RowsAffected() == 1, nil
}

// DeclineInvite deletes a participant row that never joined. When that was
// the last open row the group call is ended too and returned.
func (r *GroupCallRepository) DeclineInvite(ctx context.Context, groupCallID, userID uuid.UUID, now time.Time) (*domain.GroupCall, error) {
	var ended *domain.GroupCall
	err := runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := lockActiveGroupCall(ctx, tx, groupCallID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			DELETE FROM group_call_participants
			WHERE group_call_id = $1 AND user_id = $2 AND joined_at IS NULL AND left_at IS NULL
		`, groupCallID, userID)
		if err != nil {
			return fmt.Errorf("failed to decline invite: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrNotFound
		}
		ended, err = endIfEmpty(ctx, tx, groupCallID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ended, nil
}

// endIfEmpty ends the group call when no registered participant is left with
// left_at unset. Pending invitees count.
func endIfEmpty(ctx context.Context, tx pgx.Tx, groupCallID uuid.UUID, now time.Time) (*domain.GroupCall, error) {
	var remaining int
	err := tx.QueryRow(ctx, `
		SELECT count(*) FROM group_call_participants
		WHERE group_call_id = $1 AND left_at IS NULL
	`, groupCallID).Scan(&remaining)
	if err != nil {
		return nil, fmt.Errorf("failed to count participants: %w", err)
	}
	if remaining > 0 {
		return nil, nil
	}
	return endGroupCall(ctx, tx, groupCallID, now)
}

// Leave marks a joined participant as left. If no participant, joined or
// invited, remains, the group call is ended in the same transaction and
// returned in result.Ended; exactly one of several racing leaves observes that.
func (r *GroupCallRepository) Leave(ctx context.Context, groupCallID, userID uuid.UUID, now time.Time) (*domain.GroupLeaveResult, error) {
	var result *domain.GroupLeaveResult
	err := runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := lockActiveGroupCall(ctx, tx, groupCallID); err != nil {
			return err
		}

		query := `
			UPDATE group_call_participants SET left_at = $3
			WHERE group_call_id = $1 AND user_id = $2 AND joined_at IS NOT NULL AND left_at IS NULL
			RETURNING ` + participantColumns
		p, err := scanParticipant(tx.QueryRow(ctx, query, groupCallID, userID, now))
		if err != nil {
			return notFound(err)
		}
		ended, err := endIfEmpty(ctx, tx, groupCallID, now)
		if err != nil {
			return err
		}
		result = &domain.GroupLeaveResult{Participant: p, Ended: ended}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// End ends an active group call regardless of who is still in it
func (r *GroupCallRepository) End(ctx context.Context, groupCallID uuid.UUID, now time.Time) (*domain.GroupCall, error) {
	var ended *domain.GroupCall
	err := runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := lockActiveGroupCall(ctx, tx, groupCallID); err != nil {
			return err
		}
		gc, err := endGroupCall(ctx, tx, groupCallID, now)
		if err != nil {
			return err
		}
		ended = gc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ended, nil
}

// endGroupCall flips ended_at and closes every open participant, pending
// invitees included, and every guest
func endGroupCall(ctx context.Context, tx pgx.Tx, groupCallID uuid.UUID, now time.Time) (*domain.GroupCall, error) {
	query := `
		UPDATE group_calls
		SET ended_at = $2,
		    duration_sec = GREATEST(0, FLOOR(EXTRACT(EPOCH FROM ($2::TIMESTAMPTZ - started_at)))::INT)
		WHERE group_call_id = $1 AND ended_at IS NULL
		RETURNING ` + groupCallColumns
	gc, err := scanGroupCall(tx.QueryRow(ctx, query, groupCallID, now))
	if err != nil {
		return nil, notFound(err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE group_call_participants SET left_at = $2
		WHERE group_call_id = $1 AND left_at IS NULL
	`, groupCallID, now); err != nil {
		return nil, fmt.Errorf("failed to close participants: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE group_call_guests SET left_at = $2
		WHERE group_call_id = $1 AND left_at IS NULL
	`, groupCallID, now); err != nil {
		return nil, fmt.Errorf("failed to close guests: %w", err)
	}

	return gc, nil
}

// GetParticipant retrieves one registered participant
func (r *GroupCallRepository) GetParticipant(ctx context.Context, groupCallID, userID uuid.UUID) (*domain.GroupCallParticipant, error) {
	p, err := getParticipant(ctx, r.pool, groupCallID, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, err
}

// GetParticipants retrieves every registered participant, invited ones included
func (r *GroupCallRepository) GetParticipants(ctx context.Context, groupCallID uuid.UUID) ([]*domain.GroupCallParticipant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM group_call_participants
		WHERE group_call_id = $1
		ORDER BY joined_at NULLS LAST, user_id
	`
	rows, err := r.pool.Query(ctx, query, groupCallID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []*domain.GroupCallParticipant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// AddGuest inserts a guest into an active group call
func (r *GroupCallRepository) AddGuest(ctx context.Context, guest *domain.GuestParticipant) error {
	return runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := lockActiveGroupCall(ctx, tx, guest.GroupCallID); err != nil {
			return err
		}
		query := `INSERT INTO group_call_guests (` + guestColumns + `) VALUES ($1, $2, $3, $4, $5, NULL)`
		_, err := tx.Exec(ctx, query,
			guest.GuestID,
			guest.GroupCallID,
			guest.DisplayName,
			guest.GuestToken,
			guest.JoinedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to add guest: %w", err)
		}
		return nil
	})
}

// GetGuestByToken resolves a guest token
func (r *GroupCallRepository) GetGuestByToken(ctx context.Context, guestToken string) (*domain.GuestParticipant, error) {
	query := `SELECT ` + guestColumns + ` FROM group_call_guests WHERE guest_token = $1`
	g, err := scanGuest(r.pool.QueryRow(ctx, query, guestToken))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get guest: %w", err)
	}
	return g, nil
}

// GetGuestByID retrieves a guest by ID
func (r *GroupCallRepository) GetGuestByID(ctx context.Context, guestID uuid.UUID) (*domain.GuestParticipant, error) {
	query := `SELECT ` + guestColumns + ` FROM group_call_guests WHERE guest_id = $1`
	g, err := scanGuest(r.pool.QueryRow(ctx, query, guestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get guest: %w", err)
	}
	return g, nil
}

// LeaveGuest marks an active guest as left. Guests never end a group call.
func (r *GroupCallRepository) LeaveGuest(ctx context.Context, guestID uuid.UUID, now time.Time) (*domain.GuestParticipant, error) {
	query := `
		UPDATE group_call_guests SET left_at = $2
		WHERE guest_id = $1 AND left_at IS NULL
		RETURNING ` + guestColumns
	g, err := scanGuest(r.pool.QueryRow(ctx, query, guestID, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to leave guest: %w", err)
	}
	return g, nil
}

// GetGuests retrieves every guest of a group call
func (r *GroupCallRepository) GetGuests(ctx context.Context, groupCallID uuid.UUID) ([]*domain.GuestParticipant, error) {
	query := `SELECT ` + guestColumns + ` FROM group_call_guests WHERE group_call_id = $1 ORDER BY joined_at`
	rows, err := r.pool.Query(ctx, query, groupCallID)
	if err != nil {
		return nil, fmt.Errorf("failed to get guests: %w", err)
	}
	defer rows.Close()

	var guests []*domain.GuestParticipant
	for rows.Next() {
		g, err := scanGuest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan guest: %w", err)
		}
		guests = append(guests, g)
	}
	return guests, rows.Err()
}

// Promote converts an active call into a group call, or adds the invitee to
// the group an earlier promotion of the same call produced. The call row is
// locked first so concurrent promotions queue up behind each other; the
// unique origin_call_id constraint backs that up and surfaces as
// repository.ErrConflict for the caller to retry.
func (r *GroupCallRepository) Promote(ctx context.Context, callID, inviterID, inviteeID uuid.UUID, now time.Time) (*domain.PromoteResult, error) {
	var result *domain.PromoteResult
	err := runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		call, err := lockCall(ctx, tx, callID)
		if err != nil {
			return err
		}

		query := `SELECT ` + groupCallColumns + ` FROM group_calls WHERE origin_call_id = $1`
		existing, err := scanGroupCall(tx.QueryRow(ctx, query, callID))
		switch {
		case err == nil:
			if !existing.IsActive() {
				return repository.ErrNotFound
			}
			invitee, err := promoteInvitee(ctx, tx, existing, inviteeID)
			if err != nil {
				return err
			}
			result = &domain.PromoteResult{
				GroupCall:            existing,
				Invitee:              invitee,
				OriginConversationID: call.ConversationID,
			}
			return nil
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("failed to look up promoted group call: %w", err)
		}

		if !call.IsActive() {
			return repository.ErrNotFound
		}

		conv := &domain.Conversation{
			ConversationID: uuid.New(),
			Type:           domain.ConversationTypeGroup,
			CreatedBy:      inviterID,
			CreatedAt:      now,
		}
		if err := createConversation(ctx, tx, conv); err != nil {
			return err
		}
		for _, member := range []uuid.UUID{call.CallerID, call.CalleeID} {
			role := domain.ConversationRoleMember
			if member == inviterID {
				role = domain.ConversationRoleAdmin
			}
			if err := addMember(ctx, tx, conv.ConversationID, member, role); err != nil {
				return err
			}
		}

		origin := call.CallID
		gc := &domain.GroupCall{
			GroupCallID:    uuid.New(),
			ConversationID: conv.ConversationID,
			CreatedBy:      inviterID,
			WithVideo:      call.WithVideo,
			StartedAt:      now,
			OriginCallID:   &origin,
		}
		if err := insertGroupCall(ctx, tx, gc); err != nil {
			return err
		}
		joinedAt := now
		for _, member := range []uuid.UUID{call.CallerID, call.CalleeID} {
			if err := insertParticipant(ctx, tx, gc.GroupCallID, member, &joinedAt); err != nil {
				return err
			}
		}
		invitee, err := promoteInvitee(ctx, tx, gc, inviteeID)
		if err != nil {
			return err
		}
		// the one-to-one call continues as the group call
		originCall, err := endCall(ctx, tx, call.CallID, now, false)
		if err != nil {
			return err
		}

		result = &domain.PromoteResult{
			GroupCall:            gc,
			Invitee:              invitee,
			OriginConversationID: call.ConversationID,
			Created:              true,
			OriginCall:           originCall,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// promoteInvitee adds the invitee of a promotion to the group conversation and
// the group call. A nil invitee (a guest resolving the link) adds nobody.
func promoteInvitee(ctx context.Context, tx pgx.Tx, gc *domain.GroupCall, inviteeID uuid.UUID) (*domain.GroupCallParticipant, error) {
	if inviteeID == uuid.Nil {
		return nil, nil
	}
	if err := addMember(ctx, tx, gc.ConversationID, inviteeID, domain.ConversationRoleMember); err != nil {
		return nil, err
	}
	invitee, _, err := inviteParticipant(ctx, tx, gc.GroupCallID, inviteeID)
	return invitee, err
}
