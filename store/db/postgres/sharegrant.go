package postgres

import (
	"context"

	"github.com/pkg/errors"

	"github.com/rivermint/chatforge/internal/idgen"
	"github.com/rivermint/chatforge/store"
)

func (d *DB) CreateShareGrant(ctx context.Context, create *store.CreateShareGrant) (*store.ShareGrant, error) {
	id := idgen.NewID()
	g := &store.ShareGrant{
		ID: id, ResourceID: create.ResourceID, ResourceKind: create.ResourceKind,
		SubjectID: create.SubjectID, SubjectKind: create.SubjectKind, Role: create.Role,
	}
	query := `
		INSERT INTO share_grant (id, resource_id, resource_kind, subject_id, subject_kind, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := d.db.QueryRowContext(ctx, query, id, create.ResourceID, string(create.ResourceKind),
		create.SubjectID, string(create.SubjectKind), string(create.Role)).Scan(&g.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create share_grant")
	}
	return g, nil
}

func (d *DB) ListShareGrants(ctx context.Context) ([]*store.ShareGrant, error) {
	query := `SELECT id, resource_id, resource_kind, subject_id, subject_kind, role, created_at FROM share_grant`
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list share_grants")
	}
	defer rows.Close()

	var out []*store.ShareGrant
	for rows.Next() {
		var g store.ShareGrant
		var resourceKind, subjectKind, role string
		if err := rows.Scan(&g.ID, &g.ResourceID, &resourceKind, &g.SubjectID, &subjectKind, &role, &g.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan share_grant")
		}
		g.ResourceKind = store.ShareGrantResourceKind(resourceKind)
		g.SubjectKind = store.ShareGrantSubjectKind(subjectKind)
		g.Role = store.ShareGrantRole(role)
		out = append(out, &g)
	}
	return out, rows.Err()
}

func (d *DB) DeleteShareGrant(ctx context.Context, id string) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM share_grant WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete share_grant")
	}
	return checkRowsAffected(result, "share_grant", id)
}
