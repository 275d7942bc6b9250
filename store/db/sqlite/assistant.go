package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/rivermint/chatforge/internal/idgen"
	"github.com/rivermint/chatforge/store"
)

const selectAssistantQuery = `
	SELECT id, owner_id, name, prompt, mcp_server_ids, default_provider_id, file_ids, archived, created_at, updated_at
	FROM assistant
`

func (d *DB) CreateAssistant(ctx context.Context, create *store.CreateAssistant) (*store.Assistant, error) {
	id := idgen.NewID()
	mcpJSON, err := marshalNullable(create.MCPServerIDs)
	if err != nil {
		return nil, err
	}
	fileIDs := create.FileIDs
	if fileIDs == nil {
		fileIDs = []string{}
	}
	fileIDsJSON, err := json.Marshal(fileIDs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal file_ids")
	}

	a := &store.Assistant{
		ID: id, OwnerID: create.OwnerID, Name: create.Name, Prompt: create.Prompt,
		MCPServerIDs: create.MCPServerIDs, DefaultProviderID: create.DefaultProviderID, FileIDs: fileIDs,
	}
	query := `
		INSERT INTO assistant (id, owner_id, name, prompt, mcp_server_ids, default_provider_id, file_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := d.db.ExecContext(ctx, query, id, create.OwnerID, create.Name, create.Prompt,
		mcpJSON, create.DefaultProviderID, fileIDsJSON); err != nil {
		return nil, errors.Wrap(err, "failed to create assistant")
	}
	if err := d.db.QueryRowContext(ctx, `SELECT created_at, updated_at FROM assistant WHERE id = ?`, id).
		Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, errors.Wrap(err, "failed to read inserted assistant timestamps")
	}
	return a, nil
}

func (d *DB) GetAssistant(ctx context.Context, id string) (*store.Assistant, error) {
	row := d.db.QueryRowContext(ctx, selectAssistantQuery+` WHERE id = ?`, id)
	a, err := scanAssistant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (d *DB) UpdateAssistant(ctx context.Context, update *store.UpdateAssistant) (*store.Assistant, error) {
	set, args := []string{}, []any{}
	add := func(col string, val any) {
		args = append(args, val)
		set = append(set, col+" = ?")
	}
	if update.Name != nil {
		add("name", *update.Name)
	}
	if update.Prompt != nil {
		add("prompt", *update.Prompt)
	}
	if update.MCPServerIDs != nil {
		data, err := json.Marshal(*update.MCPServerIDs)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal mcp_server_ids")
		}
		add("mcp_server_ids", data)
	}
	if update.DefaultProviderID != nil {
		add("default_provider_id", *update.DefaultProviderID)
	}
	if update.FileIDs != nil {
		data, err := json.Marshal(*update.FileIDs)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal file_ids")
		}
		add("file_ids", data)
	}
	if update.Archived != nil {
		add("archived", *update.Archived)
	}
	if len(set) == 0 {
		return d.GetAssistant(ctx, update.ID)
	}
	args = append(args, update.ID)
	set = append(set, "updated_at = CURRENT_TIMESTAMP")

	query := "UPDATE assistant SET " + joinComma(set) + " WHERE id = ?"
	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update assistant")
	}
	if err := checkRowsAffected(result, "assistant", update.ID); err != nil {
		return nil, err
	}
	return d.GetAssistant(ctx, update.ID)
}

func (d *DB) ListAssistantsByOwner(ctx context.Context, ownerID string) ([]*store.Assistant, error) {
	rows, err := d.db.QueryContext(ctx, selectAssistantQuery+` WHERE owner_id = ? ORDER BY created_at ASC`, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list assistants")
	}
	defer rows.Close()

	var out []*store.Assistant
	for rows.Next() {
		a, err := scanAssistant(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan assistant")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAssistant(row rowScanner) (*store.Assistant, error) {
	var a store.Assistant
	var mcpJSON, fileIDsJSON []byte
	err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Prompt, &mcpJSON, &a.DefaultProviderID,
		&fileIDsJSON, &a.Archived, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if mcpJSON != nil {
		if err := json.Unmarshal(mcpJSON, &a.MCPServerIDs); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal mcp_server_ids")
		}
	}
	if err := json.Unmarshal(fileIDsJSON, &a.FileIDs); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal file_ids")
	}
	return &a, nil
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
