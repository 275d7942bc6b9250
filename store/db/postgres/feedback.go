package postgres

import (
	"context"

	"github.com/pkg/errors"

	"github.com/rivermint/chatforge/internal/idgen"
	"github.com/rivermint/chatforge/store"
)

func (d *DB) CreateMessageFeedback(ctx context.Context, create *store.CreateMessageFeedback) (*store.MessageFeedback, error) {
	id := idgen.NewID()
	f := &store.MessageFeedback{
		ID: id, MessageID: create.MessageID, SubjectID: create.SubjectID,
		Rating: create.Rating, Comment: create.Comment,
	}
	query := `
		INSERT INTO message_feedback (id, message_id, subject_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := d.db.QueryRowContext(ctx, query, id, create.MessageID, create.SubjectID,
		string(create.Rating), create.Comment).Scan(&f.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create message_feedback")
	}
	return f, nil
}

func (d *DB) ListMessageFeedback(ctx context.Context, messageID string) ([]*store.MessageFeedback, error) {
	query := `
		SELECT id, message_id, subject_id, rating, comment, created_at
		FROM message_feedback WHERE message_id = $1 ORDER BY created_at ASC
	`
	rows, err := d.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list message_feedback")
	}
	defer rows.Close()

	var out []*store.MessageFeedback
	for rows.Next() {
		var f store.MessageFeedback
		var rating string
		if err := rows.Scan(&f.ID, &f.MessageID, &f.SubjectID, &rating, &f.Comment, &f.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan message_feedback")
		}
		f.Rating = store.FeedbackRating(rating)
		out = append(out, &f)
	}
	return out, rows.Err()
}
