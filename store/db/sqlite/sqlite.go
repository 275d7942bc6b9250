package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Pure-Go SQLite driver: no CGO, so the same binary that serves Postgres
	// in production can open a local .db file for development without a
	// C toolchain.
	_ "modernc.org/sqlite"

	"github.com/rivermint/chatforge/internal/profile"
	"github.com/rivermint/chatforge/store"
)

// ============================================================================
// SQLITE SUPPORT POLICY
// ============================================================================
// SQLite is supported for development and single-node deployment. It
// implements the full store.Driver surface against the same message-DAG
// schema as Postgres, with three differences forced by the engine:
//   - "?" positional placeholders instead of "$N"
//   - no ANY($1)/pq.Array array-parameter clauses; ancestor-chain updates
//     build a dynamic IN (?, ?, ...) clause instead
//   - no jsonb "||" merge operator; UpdateGenerationMetadata merges the
//     JSON in Go
// ============================================================================

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the database file named by profile.DSN and brings it to the
// same WAL/foreign-key posture as the teacher's original SQLite support.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	sqliteDB, err := sql.Open("sqlite", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
	}
	for _, pragma := range pragmas {
		if _, err := sqliteDB.Exec(pragma); err != nil {
			return nil, errors.Wrapf(err, "failed to set pragma: %s", pragma)
		}
	}

	// modernc.org/sqlite serializes writers internally; a single connection
	// avoids SQLITE_BUSY churn under concurrent access better than pooling.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)

	if err := sqliteDB.PingContext(context.Background()); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}

	return &DB{db: sqliteDB, profile: profile}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS chat (
	id                TEXT PRIMARY KEY,
	owner_id          TEXT NOT NULL,
	title_by_summary  TEXT NOT NULL DEFAULT '',
	archived_at       TIMESTAMP,
	assistant_id      TEXT NOT NULL DEFAULT '',
	chat_provider_id  TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS message (
	id                          TEXT PRIMARY KEY,
	chat_id                     TEXT NOT NULL,
	role                        TEXT NOT NULL,
	content                     TEXT NOT NULL,
	previous_message_id         TEXT,
	sibling_message_id          TEXT,
	is_in_active_thread         BOOLEAN NOT NULL DEFAULT 1,
	input_file_ids              TEXT,
	generation_input_messages   TEXT,
	generation_parameters       TEXT,
	generation_metadata         TEXT,
	created_at                  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at                  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_message_chat_id ON message (chat_id);
CREATE INDEX IF NOT EXISTS idx_message_previous_message_id ON message (previous_message_id);

CREATE TABLE IF NOT EXISTS file_upload (
	id                    TEXT PRIMARY KEY,
	owner_id              TEXT NOT NULL,
	chat_id               TEXT NOT NULL DEFAULT '',
	filename              TEXT NOT NULL,
	storage_provider_id   TEXT NOT NULL,
	storage_path          TEXT NOT NULL,
	created_at            TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS assistant (
	id                    TEXT PRIMARY KEY,
	owner_id              TEXT NOT NULL,
	name                  TEXT NOT NULL,
	prompt                TEXT NOT NULL DEFAULT '',
	mcp_server_ids        TEXT,
	default_provider_id   TEXT NOT NULL DEFAULT '',
	file_ids              TEXT NOT NULL DEFAULT '[]',
	archived              BOOLEAN NOT NULL DEFAULT 0,
	created_at            TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at            TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS share_grant (
	id              TEXT PRIMARY KEY,
	resource_id     TEXT NOT NULL,
	resource_kind   TEXT NOT NULL,
	subject_id      TEXT NOT NULL,
	subject_kind    TEXT NOT NULL,
	role            TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS message_feedback (
	id           TEXT PRIMARY KEY,
	message_id   TEXT NOT NULL,
	owner_id     TEXT NOT NULL,
	rating       TEXT NOT NULL,
	comment      TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Migrate applies the bootstrap DDL. Like the Postgres driver this is
// idempotent CREATE-IF-NOT-EXISTS, not a forward-only migration framework.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to migrate sqlite schema")
	}
	return nil
}
