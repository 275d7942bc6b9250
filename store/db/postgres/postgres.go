// Package postgres is the Postgres-backed store.Driver implementation,
// grounded on the teacher's store/db/postgres package: database/sql with
// lib/pq, JSONB columns marshaled via encoding/json, RETURNING clauses on
// insert, and strconv-built "$N" placeholders for variadic WHERE/SET clauses
// (see ai_block.go, read before deletion — see DESIGN.md).
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/rivermint/chatforge/internal/profile"
	"github.com/rivermint/chatforge/store"
)

// DB is the Postgres store.Driver.
type DB struct {
	db *sql.DB
}

// NewDB opens a connection pool against profile.DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("postgres driver requires a dsn (database_url)")
	}

	sqlDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	sqlDB.SetMaxOpenConns(32)
	sqlDB.SetMaxIdleConns(8)

	if err := sqlDB.PingContext(context.Background()); err != nil {
		return nil, errors.Wrap(err, "failed to ping postgres")
	}

	return &DB{db: sqlDB}, nil
}

func (d *DB) Close() error { return d.db.Close() }

// placeholder returns the postgres "$N" positional parameter marker.
func placeholder(n int) string { return fmt.Sprintf("$%d", n) }

const schema = `
CREATE TABLE IF NOT EXISTS chat (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	title_by_summary TEXT NOT NULL DEFAULT '',
	archived_at TIMESTAMPTZ,
	assistant_id TEXT NOT NULL DEFAULT '',
	chat_provider_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS message (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL REFERENCES chat(id),
	role TEXT NOT NULL,
	content JSONB NOT NULL DEFAULT '[]',
	previous_message_id TEXT,
	sibling_message_id TEXT,
	is_in_active_thread BOOLEAN NOT NULL DEFAULT TRUE,
	input_file_ids JSONB NOT NULL DEFAULT '[]',
	generation_input_messages JSONB,
	generation_parameters JSONB,
	generation_metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_message_chat_id ON message(chat_id);
CREATE INDEX IF NOT EXISTS idx_message_previous_message_id ON message(previous_message_id);

CREATE TABLE IF NOT EXISTS file_upload (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	chat_id TEXT NOT NULL DEFAULT '',
	filename TEXT NOT NULL,
	storage_provider_id TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS assistant (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	prompt TEXT NOT NULL DEFAULT '',
	mcp_server_ids JSONB,
	default_provider_id TEXT NOT NULL DEFAULT '',
	file_ids JSONB NOT NULL DEFAULT '[]',
	archived BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS share_grant (
	id TEXT PRIMARY KEY,
	resource_id TEXT NOT NULL,
	resource_kind TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	subject_kind TEXT NOT NULL,
	role TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS message_feedback (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL REFERENCES message(id),
	subject_id TEXT NOT NULL,
	rating TEXT NOT NULL,
	comment TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate creates every table the driver needs if it doesn't already exist.
// Schema migration frameworks (versioned, reversible) are an external
// collaborator per spec §1; this is just idempotent bootstrap DDL.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, schema)
	return errors.Wrap(err, "failed to migrate postgres schema")
}
