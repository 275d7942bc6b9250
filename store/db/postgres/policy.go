package postgres

import (
	"context"

	"github.com/pkg/errors"

	"github.com/rivermint/chatforge/store"
)

// PolicyProjection gathers the attribute set the Policy Cache rebuilds its
// snapshot from: chat/assistant ownership plus the flat share-grant list.
// Three round trips, not one, to keep each query index-friendly; the Policy
// Cache only calls this on a full rebuild, never per-request.
func (d *DB) PolicyProjection(ctx context.Context) (*store.PolicyProjection, error) {
	chatOwners, err := d.chatOwners(ctx)
	if err != nil {
		return nil, err
	}
	assistantOwners, err := d.assistantOwners(ctx)
	if err != nil {
		return nil, err
	}
	grants, err := d.ListShareGrants(ctx)
	if err != nil {
		return nil, err
	}
	return &store.PolicyProjection{
		ChatOwners:      chatOwners,
		AssistantOwners: assistantOwners,
		ShareGrants:     grants,
	}, nil
}

func (d *DB) chatOwners(ctx context.Context) (map[string]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, owner_id FROM chat`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list chat owners")
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var id, owner string
		if err := rows.Scan(&id, &owner); err != nil {
			return nil, errors.Wrap(err, "failed to scan chat owner")
		}
		out[id] = owner
	}
	return out, rows.Err()
}

func (d *DB) assistantOwners(ctx context.Context) (map[string]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, owner_id FROM assistant`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list assistant owners")
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var id, owner string
		if err := rows.Scan(&id, &owner); err != nil {
			return nil, errors.Wrap(err, "failed to scan assistant owner")
		}
		out[id] = owner
	}
	return out, rows.Err()
}
