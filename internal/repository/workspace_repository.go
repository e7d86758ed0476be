package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// WorkspaceRepository reads the tenant table itself, which is the one table
// not filtered by workspace.
type WorkspaceRepository struct {
	DB *sql.DB
}

func (r *WorkspaceRepository) Create(ctx context.Context, w *model.Workspace) error {
	return querier(ctx, r.DB).QueryRowContext(ctx,
		`INSERT INTO workspaces (name) VALUES ($1) RETURNING id`, w.Name).Scan(&w.ID)
}

func (r *WorkspaceRepository) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := querier(ctx, r.DB).QueryContext(ctx, `SELECT id FROM workspaces ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
