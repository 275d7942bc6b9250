package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/rivermint/chatforge/internal/idgen"
	"github.com/rivermint/chatforge/store"
)

func (d *DB) CreateChat(ctx context.Context, create *store.CreateChat) (*store.Chat, error) {
	id := idgen.NewID()
	query := `
		INSERT INTO chat (id, owner_id, assistant_id, chat_provider_id)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	chat := &store.Chat{ID: id, OwnerID: create.OwnerID, AssistantID: create.AssistantID, ChatProviderID: create.ChatProviderID}
	err := d.db.QueryRowContext(ctx, query, id, create.OwnerID, create.AssistantID, create.ChatProviderID).
		Scan(&chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create chat")
	}
	return chat, nil
}

func (d *DB) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	query := `
		SELECT id, owner_id, title_by_summary, archived_at, assistant_id, chat_provider_id, created_at, updated_at
		FROM chat WHERE id = $1
	`
	var chat store.Chat
	var archivedAt sql.NullTime
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&chat.ID, &chat.OwnerID, &chat.TitleBySummary, &archivedAt,
		&chat.AssistantID, &chat.ChatProviderID, &chat.CreatedAt, &chat.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chat")
	}
	if archivedAt.Valid {
		chat.ArchivedAt = &archivedAt.Time
	}
	return &chat, nil
}

func (d *DB) UpdateChatTitle(ctx context.Context, id, title string) error {
	result, err := d.db.ExecContext(ctx, `UPDATE chat SET title_by_summary = $1, updated_at = now() WHERE id = $2`, title, id)
	if err != nil {
		return errors.Wrap(err, "failed to update chat title")
	}
	return checkRowsAffected(result, "chat", id)
}

func (d *DB) ArchiveChat(ctx context.Context, id string) error {
	result, err := d.db.ExecContext(ctx, `UPDATE chat SET archived_at = now(), updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to archive chat")
	}
	return checkRowsAffected(result, "chat", id)
}

func (d *DB) ListArchivedChatsOlderThan(ctx context.Context, cutoffSeconds int64) ([]*store.Chat, error) {
	query := `
		SELECT id, owner_id, title_by_summary, archived_at, assistant_id, chat_provider_id, created_at, updated_at
		FROM chat
		WHERE archived_at IS NOT NULL AND archived_at < now() - make_interval(secs => $1)
	`
	rows, err := d.db.QueryContext(ctx, query, cutoffSeconds)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list archived chats")
	}
	defer rows.Close()

	var chats []*store.Chat
	for rows.Next() {
		var chat store.Chat
		var archivedAt sql.NullTime
		if err := rows.Scan(&chat.ID, &chat.OwnerID, &chat.TitleBySummary, &archivedAt,
			&chat.AssistantID, &chat.ChatProviderID, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan chat")
		}
		if archivedAt.Valid {
			chat.ArchivedAt = &archivedAt.Time
		}
		chats = append(chats, &chat)
	}
	return chats, rows.Err()
}

func (d *DB) DeleteChat(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM message WHERE chat_id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete chat messages")
	}
	result, err := d.db.ExecContext(ctx, `DELETE FROM chat WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete chat")
	}
	return checkRowsAffected(result, "chat", id)
}

func checkRowsAffected(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if n == 0 {
		return errors.Errorf("%s not found: %s", kind, id)
	}
	return nil
}
