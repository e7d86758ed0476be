package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type WebhookEventRepositoryInterface interface {
	// Record stores ev once. It reports false for a duplicate.
	Record(ctx context.Context, workspaceID int64, ev model.DeliveryEvent) (bool, error)
}

type WebhookEventRepository struct {
	DB *sql.DB
}

func (r *WebhookEventRepository) Record(ctx context.Context, workspaceID int64, ev model.DeliveryEvent) (bool, error) {
	if err := scoped("webhook_events.record", workspaceID); err != nil {
		return false, err
	}
	res, err := querier(ctx, r.DB).ExecContext(ctx, `
        INSERT INTO webhook_events (workspace_id, provider, message_id, kind, occurred_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (workspace_id, message_id, kind, occurred_at) DO NOTHING
    `, workspaceID, ev.Provider, ev.MessageID, ev.Kind, ev.Timestamp)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

var _ WebhookEventRepositoryInterface = (*WebhookEventRepository)(nil)
