package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/rivermint/chatforge/internal/idgen"
	"github.com/rivermint/chatforge/store"
)

func (d *DB) CreateFileUpload(ctx context.Context, create *store.CreateFileUpload) (*store.FileUpload, error) {
	id := idgen.NewID()
	file := &store.FileUpload{
		ID: id, OwnerID: create.OwnerID, ChatID: create.ChatID, Filename: create.Filename,
		StorageProviderID: create.StorageProviderID, StoragePath: create.StoragePath,
	}
	query := `
		INSERT INTO file_upload (id, owner_id, chat_id, filename, storage_provider_id, storage_path)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := d.db.ExecContext(ctx, query, id, create.OwnerID, create.ChatID, create.Filename,
		create.StorageProviderID, create.StoragePath); err != nil {
		return nil, errors.Wrap(err, "failed to create file_upload")
	}
	if err := d.db.QueryRowContext(ctx, `SELECT created_at FROM file_upload WHERE id = ?`, id).
		Scan(&file.CreatedAt); err != nil {
		return nil, errors.Wrap(err, "failed to read inserted file_upload timestamp")
	}
	return file, nil
}

func (d *DB) GetFileUpload(ctx context.Context, id string) (*store.FileUpload, error) {
	query := `
		SELECT id, owner_id, chat_id, filename, storage_provider_id, storage_path, created_at
		FROM file_upload WHERE id = ?
	`
	var f store.FileUpload
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&f.ID, &f.OwnerID, &f.ChatID, &f.Filename, &f.StorageProviderID, &f.StoragePath, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get file_upload")
	}
	return &f, nil
}

func (d *DB) ListFileUploadsByIDs(ctx context.Context, ids []string) ([]*store.FileUpload, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := `
		SELECT id, owner_id, chat_id, filename, storage_provider_id, storage_path, created_at
		FROM file_upload WHERE id IN (` + strings.Join(placeholders, ", ") + `)`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list file_uploads")
	}
	defer rows.Close()

	var out []*store.FileUpload
	for rows.Next() {
		var f store.FileUpload
		if err := rows.Scan(&f.ID, &f.OwnerID, &f.ChatID, &f.Filename, &f.StorageProviderID, &f.StoragePath, &f.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan file_upload")
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}
