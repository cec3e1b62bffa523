package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id      BIGINT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT 'Stranger',
		gender       TEXT NOT NULL DEFAULT 'any',
		age          INT NOT NULL DEFAULT 0,
		languages    TEXT[] NOT NULL DEFAULT '{}',
		intent       TEXT NOT NULL DEFAULT 'open',
		style_tags   TEXT[] NOT NULL DEFAULT '{}',
		is_premium   BOOLEAN NOT NULL DEFAULT FALSE,
		show_active  BOOLEAN NOT NULL DEFAULT TRUE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		user_id              BIGINT PRIMARY KEY REFERENCES users(user_id),
		state                TEXT NOT NULL DEFAULT 'idle',
		partner_id           BIGINT,
		chat_id              BIGINT,
		search_gender        TEXT NOT NULL DEFAULT 'any',
		search_language      TEXT NOT NULL DEFAULT 'any',
		orig_search_gender   TEXT NOT NULL DEFAULT 'any',
		orig_search_language TEXT NOT NULL DEFAULT 'any',
		searching_msg_id     BIGINT NOT NULL DEFAULT 0,
		pinned_msg_id        BIGINT NOT NULL DEFAULT 0,
		chat_started_at      TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS sessions_state_idx ON sessions (state)`,
	`CREATE TABLE IF NOT EXISTS chat_history (
		chat_id              BIGSERIAL PRIMARY KEY,
		user1_id             BIGINT NOT NULL,
		user2_id             BIGINT NOT NULL,
		started_at           TIMESTAMPTZ NOT NULL,
		ended_at             TIMESTAMPTZ,
		user1_wants_favorite BOOLEAN NOT NULL DEFAULT FALSE,
		user2_wants_favorite BOOLEAN NOT NULL DEFAULT FALSE,
		user1_feedback       TEXT NOT NULL DEFAULT '',
		user2_feedback       TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS connections (
		connection_id  BIGSERIAL PRIMARY KEY,
		user1_id       BIGINT NOT NULL,
		user2_id       BIGINT NOT NULL,
		user1_snapshot JSONB NOT NULL,
		user2_snapshot JSONB NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (user1_id, user2_id)
	)`,
	`CREATE TABLE IF NOT EXISTS invites (
		token        TEXT PRIMARY KEY,
		host_user_id BIGINT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema creates the engine tables if they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	return nil
}
