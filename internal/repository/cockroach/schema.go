package cockroach

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the call broker's DDL. Conversations and their members are
// shared with the messaging service; the remaining tables are owned here.
//
// Exclusivity rules live in the schema as partial unique indexes so that a
// racing writer gets a unique violation instead of a silent duplicate:
//   - one active call per unordered user pair (pair_low, pair_high)
//   - one active group call per conversation
//   - one group call per promoted call (origin_call_id)
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		conversation_id UUID PRIMARY KEY,
		type STRING NOT NULL CHECK (type IN ('direct', 'group', 'channel')),
		name STRING,
		created_by UUID NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_participants (
		conversation_id UUID NOT NULL REFERENCES conversations (conversation_id) ON DELETE CASCADE,
		user_id UUID NOT NULL,
		role STRING NOT NULL DEFAULT 'member',
		hidden BOOL NOT NULL DEFAULT false,
		joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (conversation_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS calls (
		call_id UUID PRIMARY KEY,
		conversation_id UUID NOT NULL REFERENCES conversations (conversation_id),
		caller_id UUID NOT NULL,
		callee_id UUID NOT NULL,
		pair_low UUID NOT NULL,
		pair_high UUID NOT NULL,
		with_video BOOL NOT NULL DEFAULT false,
		direction STRING NOT NULL DEFAULT 'internal',
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		duration_sec INT,
		CHECK (caller_id <> callee_id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS calls_active_pair_key
		ON calls (pair_low, pair_high) WHERE ended_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS calls_caller_started_idx ON calls (caller_id, started_at DESC)`,
	`CREATE INDEX IF NOT EXISTS calls_callee_started_idx ON calls (callee_id, started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS group_calls (
		group_call_id UUID PRIMARY KEY,
		conversation_id UUID NOT NULL REFERENCES conversations (conversation_id),
		created_by UUID NOT NULL,
		with_video BOOL NOT NULL DEFAULT false,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		duration_sec INT,
		origin_call_id UUID REFERENCES calls (call_id),
		CONSTRAINT group_calls_origin_call_key UNIQUE (origin_call_id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS group_calls_active_conversation_key
		ON group_calls (conversation_id) WHERE ended_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS group_call_participants (
		group_call_id UUID NOT NULL REFERENCES group_calls (group_call_id),
		user_id UUID NOT NULL,
		joined_at TIMESTAMPTZ,
		left_at TIMESTAMPTZ,
		PRIMARY KEY (group_call_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS group_call_guests (
		guest_id UUID PRIMARY KEY,
		group_call_id UUID NOT NULL REFERENCES group_calls (group_call_id),
		display_name STRING NOT NULL,
		guest_token STRING NOT NULL,
		joined_at TIMESTAMPTZ NOT NULL,
		left_at TIMESTAMPTZ,
		CONSTRAINT group_call_guests_token_key UNIQUE (guest_token)
	)`,
	`CREATE INDEX IF NOT EXISTS group_call_guests_call_idx ON group_call_guests (group_call_id)`,
	`CREATE TABLE IF NOT EXISTS call_links (
		token STRING PRIMARY KEY,
		group_call_id UUID REFERENCES group_calls (group_call_id),
		call_id UUID REFERENCES calls (call_id),
		created_by UUID NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT call_links_single_target CHECK ((group_call_id IS NULL) <> (call_id IS NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS call_links_group_call_idx ON call_links (group_call_id, expires_at DESC)`,
	`CREATE INDEX IF NOT EXISTS call_links_call_idx ON call_links (call_id, expires_at DESC)`,
	`CREATE INDEX IF NOT EXISTS call_links_expires_idx ON call_links (expires_at)`,
}

// Migrate applies Schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range Schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
