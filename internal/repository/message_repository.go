package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type MessageRepositoryInterface interface {
	// RecordSent stores the accepted send. It reports false when the
	// (campaign, subscriber) row already carried an external id.
	RecordSent(ctx context.Context, workspaceID int64, m *model.Message) (bool, error)
	FindByExternalID(ctx context.Context, workspaceID int64, externalID string) (*model.Message, error)
	ApplyEvent(ctx context.Context, workspaceID, id int64, kind model.EventKind, at time.Time) error
	Stats(ctx context.Context, workspaceID, campaignID int64) (model.CampaignStats, error)
}

type MessageRepository struct {
	DB *sql.DB
}

const messageColumns = `id, workspace_id, campaign_id, subscriber_id, recipient_email, subject, from_name, from_email,
        COALESCE(message_id, ''), is_open_tracking, is_click_tracking,
        sent_at, delivered_at, opened_at, clicked_at, bounced_at, complained_at, open_count, click_count`

// eventUpdates keeps the earliest timestamp per kind. LEAST ignores NULL.
var eventUpdates = map[model.EventKind]string{
	model.EventDelivered: `delivered_at = LEAST(delivered_at, $3)`,
	model.EventOpen:      `opened_at = LEAST(opened_at, $3), open_count = open_count + 1`,
	model.EventClick:     `clicked_at = LEAST(clicked_at, $3), click_count = click_count + 1`,
	model.EventBounce:    `bounced_at = LEAST(bounced_at, $3)`,
	model.EventComplaint: `complained_at = LEAST(complained_at, $3)`,
}

func (r *MessageRepository) RecordSent(ctx context.Context, workspaceID int64, m *model.Message) (bool, error) {
	if err := scoped("messages.record_sent", workspaceID); err != nil {
		return false, err
	}
	m.WorkspaceID = workspaceID
	if m.SentAt == nil {
		now := time.Now().UTC()
		m.SentAt = &now
	}
	query := `
        INSERT INTO messages (workspace_id, campaign_id, subscriber_id, recipient_email, subject, from_name, from_email,
            message_id, is_open_tracking, is_click_tracking, sent_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (campaign_id, subscriber_id) DO UPDATE
        SET message_id = EXCLUDED.message_id, sent_at = EXCLUDED.sent_at
        WHERE messages.message_id IS NULL
        RETURNING id
    `
	err := querier(ctx, r.DB).QueryRowContext(ctx, query,
		workspaceID, m.CampaignID, m.SubscriberID, m.RecipientEmail, m.Subject, m.FromName, m.FromEmail,
		m.MessageID, m.IsOpenTracking, m.IsClickTracking, m.SentAt,
	).Scan(&m.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FindByExternalID returns nil, nil when no message in the workspace carries externalID.
func (r *MessageRepository) FindByExternalID(ctx context.Context, workspaceID int64, externalID string) (*model.Message, error) {
	if err := scoped("messages.find_by_external_id", workspaceID); err != nil {
		return nil, err
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE workspace_id = $1 AND message_id = $2`
	var m model.Message
	err := querier(ctx, r.DB).QueryRowContext(ctx, query, workspaceID, externalID).Scan(
		&m.ID, &m.WorkspaceID, &m.CampaignID, &m.SubscriberID, &m.RecipientEmail, &m.Subject, &m.FromName, &m.FromEmail,
		&m.MessageID, &m.IsOpenTracking, &m.IsClickTracking,
		&m.SentAt, &m.DeliveredAt, &m.OpenedAt, &m.ClickedAt, &m.BouncedAt, &m.ComplainedAt, &m.OpenCount, &m.ClickCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *MessageRepository) ApplyEvent(ctx context.Context, workspaceID, id int64, kind model.EventKind, at time.Time) error {
	if err := scoped("messages.apply_event", workspaceID); err != nil {
		return err
	}
	set, ok := eventUpdates[kind]
	if !ok {
		return fmt.Errorf("unknown event kind %q", kind)
	}
	_, err := querier(ctx, r.DB).ExecContext(ctx,
		`UPDATE messages SET `+set+` WHERE id = $1 AND workspace_id = $2`, id, workspaceID, at)
	return err
}

func (r *MessageRepository) Stats(ctx context.Context, workspaceID, campaignID int64) (model.CampaignStats, error) {
	var s model.CampaignStats
	if err := scoped("messages.stats", workspaceID); err != nil {
		return s, err
	}
	query := `
        SELECT COUNT(sent_at), COUNT(delivered_at), COUNT(opened_at), COUNT(clicked_at),
               COUNT(bounced_at), COUNT(complained_at)
        FROM messages
        WHERE workspace_id = $1 AND campaign_id = $2
    `
	err := querier(ctx, r.DB).QueryRowContext(ctx, query, workspaceID, campaignID).Scan(
		&s.Sent, &s.Delivered, &s.Opened, &s.Clicked, &s.Bounced, &s.Complained,
	)
	return s, err
}

// SentLast24Hours counts messages sent through one email service in the last day.
func (r *MessageRepository) SentLast24Hours(ctx context.Context, workspaceID, serviceID int64) (int, error) {
	if err := scoped("messages.sent_last_24h", workspaceID); err != nil {
		return 0, err
	}
	var n int
	err := querier(ctx, r.DB).QueryRowContext(ctx, `
        SELECT COUNT(*)
        FROM messages m
        JOIN campaigns c ON c.id = m.campaign_id AND c.workspace_id = m.workspace_id
        WHERE m.workspace_id = $1 AND c.email_service_id = $2 AND m.sent_at > NOW() - INTERVAL '24 hours'
    `, workspaceID, serviceID).Scan(&n)
	return n, err
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
