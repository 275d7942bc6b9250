package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/rivermint/chatforge/internal/idgen"
	"github.com/rivermint/chatforge/store"
)

func (d *DB) CreateChat(ctx context.Context, create *store.CreateChat) (*store.Chat, error) {
	id := idgen.NewID()
	chat := &store.Chat{
		ID: id, OwnerID: create.OwnerID, AssistantID: create.AssistantID, ChatProviderID: create.ChatProviderID,
	}
	query := `
		INSERT INTO chat (id, owner_id, assistant_id, chat_provider_id)
		VALUES (?, ?, ?, ?)
	`
	if _, err := d.db.ExecContext(ctx, query, id, create.OwnerID, create.AssistantID, create.ChatProviderID); err != nil {
		return nil, errors.Wrap(err, "failed to create chat")
	}
	return d.GetChat(ctx, id)
}

func (d *DB) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	query := `
		SELECT id, owner_id, title_by_summary, archived_at, assistant_id, chat_provider_id, created_at, updated_at
		FROM chat WHERE id = ?
	`
	var c store.Chat
	var archivedAt sql.NullTime
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.OwnerID, &c.TitleBySummary, &archivedAt, &c.AssistantID, &c.ChatProviderID, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chat")
	}
	if archivedAt.Valid {
		c.ArchivedAt = &archivedAt.Time
	}
	return &c, nil
}

func (d *DB) UpdateChatTitle(ctx context.Context, id, title string) error {
	result, err := d.db.ExecContext(ctx,
		`UPDATE chat SET title_by_summary = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, title, id)
	if err != nil {
		return errors.Wrap(err, "failed to update chat title")
	}
	return checkRowsAffected(result, "chat", id)
}

func (d *DB) ArchiveChat(ctx context.Context, id string) error {
	result, err := d.db.ExecContext(ctx,
		`UPDATE chat SET archived_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to archive chat")
	}
	return checkRowsAffected(result, "chat", id)
}

func (d *DB) ListArchivedChatsOlderThan(ctx context.Context, cutoffSeconds int64) ([]*store.Chat, error) {
	query := `
		SELECT id, owner_id, title_by_summary, archived_at, assistant_id, chat_provider_id, created_at, updated_at
		FROM chat
		WHERE archived_at IS NOT NULL AND archived_at < datetime(CURRENT_TIMESTAMP, ? || ' seconds')
	`
	rows, err := d.db.QueryContext(ctx, query, -cutoffSeconds)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list archived chats")
	}
	defer rows.Close()

	var out []*store.Chat
	for rows.Next() {
		var c store.Chat
		var archivedAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.TitleBySummary, &archivedAt, &c.AssistantID, &c.ChatProviderID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan chat")
		}
		if archivedAt.Valid {
			c.ArchivedAt = &archivedAt.Time
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (d *DB) DeleteChat(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM message WHERE chat_id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete chat messages")
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM chat WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete chat")
	}
	if err := checkRowsAffected(result, "chat", id); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit delete_chat")
}

func checkRowsAffected(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if n == 0 {
		return errors.Errorf("%s not found: %s", kind, id)
	}
	return nil
}
