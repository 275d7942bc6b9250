package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/rivermint/chatforge/internal/apperror"
	"github.com/rivermint/chatforge/internal/idgen"
	"github.com/rivermint/chatforge/store"
)

// SubmitMessage inserts a new message row and recomputes active-thread flags
// for its branch: walk up from the new message to the chat root marking
// active, then deactivate every sibling branch hanging off that chain.
func (d *DB) SubmitMessage(ctx context.Context, submit *store.SubmitMessage) (*store.Message, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	if submit.PreviousMessageID != "" {
		chatID, err := chatIDOfMessage(ctx, tx, submit.PreviousMessageID)
		if err != nil {
			return nil, err
		}
		if chatID != submit.ChatID {
			return nil, apperror.Invariant("previous_message_id references a message in a different chat")
		}
	}
	if submit.SiblingMessageID != "" {
		chatID, err := chatIDOfMessage(ctx, tx, submit.SiblingMessageID)
		if err != nil {
			return nil, err
		}
		if chatID != submit.ChatID {
			return nil, apperror.Invariant("sibling_message_id references a message in a different chat")
		}
	}

	id := idgen.NewID()
	contentJSON, err := json.Marshal(submit.Content)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal content")
	}
	inputFileIDsJSON, err := json.Marshal(submit.InputFileIDs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal input_file_ids")
	}
	genInputJSON, err := marshalNullable(submit.GenerationInputMessages)
	if err != nil {
		return nil, err
	}
	genParamsJSON, err := marshalNullable(submit.GenerationParameters)
	if err != nil {
		return nil, err
	}
	genMetaJSON, err := marshalNullable(submit.GenerationMetadata)
	if err != nil {
		return nil, err
	}

	msg := &store.Message{
		ID: id, ChatID: submit.ChatID, Role: submit.Role, Content: submit.Content,
		PreviousMessageID: submit.PreviousMessageID, SiblingMessageID: submit.SiblingMessageID,
		IsInActiveThread: true, InputFileIDs: submit.InputFileIDs,
		GenerationInputMessages: submit.GenerationInputMessages,
		GenerationParameters:    submit.GenerationParameters,
		GenerationMetadata:      submit.GenerationMetadata,
	}

	query := `
		INSERT INTO message (
			id, chat_id, role, content, previous_message_id, sibling_message_id,
			is_in_active_thread, input_file_ids, generation_input_messages,
			generation_parameters, generation_metadata
		) VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query,
		id, submit.ChatID, string(submit.Role), contentJSON,
		nullIfEmpty(submit.PreviousMessageID), nullIfEmpty(submit.SiblingMessageID),
		inputFileIDsJSON, genInputJSON, genParamsJSON, genMetaJSON,
	); err != nil {
		return nil, errors.Wrap(err, "failed to insert message")
	}
	if err := tx.QueryRowContext(ctx, `SELECT created_at, updated_at FROM message WHERE id = ?`, id).
		Scan(&msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return nil, errors.Wrap(err, "failed to read inserted message timestamps")
	}

	if err := recomputeActiveThread(ctx, tx, submit.ChatID, id, submit.PreviousMessageID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit submit_message")
	}
	return msg, nil
}

// recomputeActiveThread walks newID up to the chat root via previous_message_id,
// marking every ancestor active, then deactivates every other branch hanging
// off that ancestor chain.
func recomputeActiveThread(ctx context.Context, tx *sql.Tx, chatID, newID, prevID string) error {
	ancestors := []string{newID}
	parents := map[string]string{} // child id -> parent id (empty = root)

	cur := prevID
	for cur != "" {
		ancestors = append(ancestors, cur)
		var parent sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT previous_message_id FROM message WHERE id = ?`, cur).Scan(&parent)
		if err != nil {
			return errors.Wrap(err, "failed to walk ancestor chain")
		}
		parents[cur] = parent.String
		cur = parent.String
	}
	parents[newID] = prevID

	if err := execInClause(ctx, tx,
		`UPDATE message SET is_in_active_thread = 1 WHERE id IN (`, ancestors); err != nil {
		return errors.Wrap(err, "failed to mark active thread")
	}

	ancestorSet := make(map[string]bool, len(ancestors))
	for _, a := range ancestors {
		ancestorSet[a] = true
	}

	for _, ancestorID := range ancestors {
		parent := parents[ancestorID]
		var rows *sql.Rows
		var err error
		if parent == "" {
			rows, err = tx.QueryContext(ctx,
				`SELECT id FROM message WHERE chat_id = ? AND previous_message_id IS NULL AND id != ?`, chatID, ancestorID)
		} else {
			rows, err = tx.QueryContext(ctx,
				`SELECT id FROM message WHERE previous_message_id = ? AND id != ?`, parent, ancestorID)
		}
		if err != nil {
			return errors.Wrap(err, "failed to list sibling branches")
		}
		var siblings []string
		for rows.Next() {
			var sid string
			if err := rows.Scan(&sid); err != nil {
				rows.Close()
				return errors.Wrap(err, "failed to scan sibling id")
			}
			siblings = append(siblings, sid)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, "failed to iterate siblings")
		}

		for _, sid := range siblings {
			if ancestorSet[sid] {
				continue
			}
			if err := deactivateBranch(ctx, tx, sid); err != nil {
				return err
			}
		}
	}
	return nil
}

// execInClause runs prefix+"?, ?, ..., ?)" with ids as args. Used in place of
// Postgres's ANY($1)/pq.Array, which SQLite has no equivalent for.
func execInClause(ctx context.Context, tx *sql.Tx, prefix string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := prefix + strings.Join(placeholders, ", ") + ")"
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// deactivateBranch marks rootID and every descendant of rootID inactive via BFS.
func deactivateBranch(ctx context.Context, tx *sql.Tx, rootID string) error {
	queue := []string{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if _, err := tx.ExecContext(ctx, `UPDATE message SET is_in_active_thread = 0 WHERE id = ?`, id); err != nil {
			return errors.Wrap(err, "failed to deactivate message")
		}

		rows, err := tx.QueryContext(ctx, `SELECT id FROM message WHERE previous_message_id = ?`, id)
		if err != nil {
			return errors.Wrap(err, "failed to list children")
		}
		var children []string
		for rows.Next() {
			var cid string
			if err := rows.Scan(&cid); err != nil {
				rows.Close()
				return errors.Wrap(err, "failed to scan child id")
			}
			children = append(children, cid)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, "failed to iterate children")
		}
		queue = append(queue, children...)
	}
	return nil
}

func chatIDOfMessage(ctx context.Context, tx *sql.Tx, id string) (string, error) {
	var chatID string
	err := tx.QueryRowContext(ctx, `SELECT chat_id FROM message WHERE id = ?`, id).Scan(&chatID)
	if err == sql.ErrNoRows {
		return "", apperror.Invariant("referenced message not found: " + id)
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to look up message chat")
	}
	return chatID, nil
}

func (d *DB) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	row := d.db.QueryRowContext(ctx, selectMessageQuery+` WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return msg, err
}

func (d *DB) GetChatMessages(ctx context.Context, chatID string, limit, offset int) ([]*store.Message, int, error) {
	var total int
	if err := d.db.QueryRowContext(ctx, `SELECT count(*) FROM message WHERE chat_id = ?`, chatID).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count chat messages")
	}

	query := selectMessageQuery + ` WHERE chat_id = ? ORDER BY created_at ASC LIMIT ? OFFSET ?`
	rows, err := d.db.QueryContext(ctx, query, chatID, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list chat messages")
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

func (d *DB) GetHistoryByPrevious(ctx context.Context, prevID string, maxN int) ([]*store.Message, error) {
	var chain []*store.Message
	cur := prevID
	for cur != "" && len(chain) < maxN {
		row := d.db.QueryRowContext(ctx, selectMessageQuery+` WHERE id = ?`, cur)
		msg, err := scanMessage(row)
		if err == sql.ErrNoRows {
			break
		}
		if err != nil {
			return nil, err
		}
		chain = append(chain, msg)
		cur = msg.PreviousMessageID
	}
	// chain is newest-first; reverse to oldest-first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func (d *DB) UpdateMessageContent(ctx context.Context, id string, content store.ContentParts) (*store.Message, error) {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal content")
	}
	result, err := d.db.ExecContext(ctx,
		`UPDATE message SET content = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, contentJSON, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update message content")
	}
	if err := checkRowsAffected(result, "message", id); err != nil {
		return nil, err
	}
	return d.GetMessage(ctx, id)
}

// UpdateGenerationMetadata shallow-merges meta into the existing column.
// SQLite has no jsonb `||` merge operator, so the merge happens in Go inside
// a transaction instead of at the SQL level.
func (d *DB) UpdateGenerationMetadata(ctx context.Context, id string, meta *store.GenerationMetadata) (*store.Message, error) {
	metaJSON, err := meta.MarshalMetadata()
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal generation_metadata")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	var existingJSON []byte
	err = tx.QueryRowContext(ctx, `SELECT generation_metadata FROM message WHERE id = ?`, id).Scan(&existingJSON)
	if err == sql.ErrNoRows {
		return nil, errors.Errorf("message not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read existing generation_metadata")
	}

	merged := map[string]any{}
	if existingJSON != nil {
		if err := json.Unmarshal(existingJSON, &merged); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal existing generation_metadata")
		}
	}
	var patch map[string]any
	if err := json.Unmarshal(metaJSON, &patch); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal generation_metadata patch")
	}
	for k, v := range patch {
		merged[k] = v
	}
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal merged generation_metadata")
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE message SET generation_metadata = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, mergedJSON, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update generation_metadata")
	}
	if err := checkRowsAffected(result, "message", id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit generation_metadata update")
	}
	return d.GetMessage(ctx, id)
}

func (d *DB) ListIncompleteAssistantMessages(ctx context.Context) ([]*store.Message, error) {
	query := selectMessageQuery + ` WHERE role = 'assistant' AND generation_metadata IS NULL`
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list incomplete assistant messages")
	}
	defer rows.Close()
	return scanMessages(rows)
}

const selectMessageQuery = `
	SELECT id, chat_id, role, content, previous_message_id, sibling_message_id,
	       is_in_active_thread, input_file_ids, generation_input_messages,
	       generation_parameters, generation_metadata, created_at, updated_at
	FROM message
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	var contentJSON, inputFileIDsJSON []byte
	var prevID, siblingID sql.NullString
	var genInputJSON, genParamsJSON, genMetaJSON []byte
	var roleStr string

	err := row.Scan(
		&msg.ID, &msg.ChatID, &roleStr, &contentJSON, &prevID, &siblingID,
		&msg.IsInActiveThread, &inputFileIDsJSON, &genInputJSON, &genParamsJSON, &genMetaJSON,
		&msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.Role = store.Role(roleStr)
	msg.PreviousMessageID = prevID.String
	msg.SiblingMessageID = siblingID.String

	if err := json.Unmarshal(contentJSON, &msg.Content); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal content")
	}
	if err := json.Unmarshal(inputFileIDsJSON, &msg.InputFileIDs); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal input_file_ids")
	}
	if genInputJSON != nil {
		if err := json.Unmarshal(genInputJSON, &msg.GenerationInputMessages); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal generation_input_messages")
		}
	}
	if genParamsJSON != nil {
		var params store.GenerationParameters
		if err := json.Unmarshal(genParamsJSON, &params); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal generation_parameters")
		}
		msg.GenerationParameters = &params
	}
	if genMetaJSON != nil {
		var meta store.GenerationMetadata
		if err := json.Unmarshal(genMetaJSON, &meta); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal generation_metadata")
		}
		msg.GenerationMetadata = &meta
	}
	return &msg, nil
}

func scanMessages(rows *sql.Rows) ([]*store.Message, error) {
	var out []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func marshalNullable(v any) ([]byte, error) {
	if isNilValue(v) {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal value")
	}
	return data, nil
}

func isNilValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case []store.GenerationInputMessage:
		return x == nil
	case *store.GenerationParameters:
		return x == nil
	case *store.GenerationMetadata:
		return x == nil
	default:
		return false
	}
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
