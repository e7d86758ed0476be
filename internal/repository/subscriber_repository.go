package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type SubscriberRepositoryInterface interface {
	Create(ctx context.Context, workspaceID int64, s *model.Subscriber, tagIDs []int64) error
	GetByID(ctx context.Context, workspaceID, id int64) (*model.Subscriber, error)
	GetByEmail(ctx context.Context, workspaceID int64, email string) (*model.Subscriber, error)

	// ListPendingRecipients returns subscribed targets of c that have no
	// message yet, ordered by id and starting after afterID.
	ListPendingRecipients(ctx context.Context, workspaceID int64, c *model.Campaign, afterID int64, limit int) ([]*model.Subscriber, error)
	CountPendingRecipients(ctx context.Context, workspaceID int64, c *model.Campaign) (int, error)

	// Unsubscribe is a no-op returning false when the subscriber is already unsubscribed.
	Unsubscribe(ctx context.Context, workspaceID, id int64, reason model.UnsubscribeReason, at time.Time) (bool, error)
	Resubscribe(ctx context.Context, workspaceID, id int64) error
}

type SubscriberRepository struct {
	DB *sql.DB
}

const subscriberColumns = `s.id, s.workspace_id, s.email, s.first_name, s.last_name, s.unsubscribed_at, s.unsubscribe_event_id, s.created_at`

// pendingFilter is shared by the list and count queries.
// $1 workspace, $2 campaign, $3 send_to_all, $4 tag ids.
const pendingFilter = `
        s.workspace_id = $1
        AND s.unsubscribed_at IS NULL
        AND ($3 OR EXISTS (
            SELECT 1 FROM subscriber_tags st WHERE st.subscriber_id = s.id AND st.tag_id = ANY($4)
        ))
        AND NOT EXISTS (
            SELECT 1 FROM messages m WHERE m.campaign_id = $2 AND m.subscriber_id = s.id
        )`

func scanSubscriber(row rowScanner) (*model.Subscriber, error) {
	var (
		s      model.Subscriber
		reason sql.NullInt16
	)
	if err := row.Scan(&s.ID, &s.WorkspaceID, &s.Email, &s.FirstName, &s.LastName, &s.UnsubscribedAt, &reason, &s.CreatedAt); err != nil {
		return nil, err
	}
	if reason.Valid {
		r := model.UnsubscribeReason(reason.Int16)
		s.UnsubscribeEventID = &r
	}
	return &s, nil
}

func (r *SubscriberRepository) Create(ctx context.Context, workspaceID int64, s *model.Subscriber, tagIDs []int64) error {
	if err := scoped("subscribers.create", workspaceID); err != nil {
		return err
	}
	s.WorkspaceID = workspaceID
	s.Email = strings.ToLower(strings.TrimSpace(s.Email))

	q := querier(ctx, r.DB)
	err := q.QueryRowContext(ctx, `
        INSERT INTO subscribers (workspace_id, email, first_name, last_name)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at
    `, workspaceID, s.Email, s.FirstName, s.LastName).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return err
	}
	if len(tagIDs) == 0 {
		return nil
	}
	_, err = q.ExecContext(ctx, `
        INSERT INTO subscriber_tags (subscriber_id, tag_id)
        SELECT $1, unnest($2::bigint[])
        ON CONFLICT DO NOTHING
    `, s.ID, pq.Array(tagIDs))
	return err
}

func (r *SubscriberRepository) GetByID(ctx context.Context, workspaceID, id int64) (*model.Subscriber, error) {
	if err := scoped("subscribers.get", workspaceID); err != nil {
		return nil, err
	}
	query := `SELECT ` + subscriberColumns + ` FROM subscribers s WHERE s.id = $1 AND s.workspace_id = $2`
	s, err := scanSubscriber(querier(ctx, r.DB).QueryRowContext(ctx, query, id, workspaceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewNotFound("subscriber", id)
	}
	return s, err
}

func (r *SubscriberRepository) GetByEmail(ctx context.Context, workspaceID int64, email string) (*model.Subscriber, error) {
	if err := scoped("subscribers.get_by_email", workspaceID); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	query := `SELECT ` + subscriberColumns + ` FROM subscribers s WHERE s.email = $1 AND s.workspace_id = $2`
	s, err := scanSubscriber(querier(ctx, r.DB).QueryRowContext(ctx, query, email, workspaceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewNotFound("subscriber", email)
	}
	return s, err
}

func (r *SubscriberRepository) ListPendingRecipients(ctx context.Context, workspaceID int64, c *model.Campaign, afterID int64, limit int) ([]*model.Subscriber, error) {
	if err := scoped("subscribers.list_pending", workspaceID); err != nil {
		return nil, err
	}
	query := `SELECT ` + subscriberColumns + ` FROM subscribers s WHERE` + pendingFilter + `
        AND s.id > $5
        ORDER BY s.id
        LIMIT $6`
	rows, err := querier(ctx, r.DB).QueryContext(ctx, query,
		workspaceID, c.ID, c.SendToAll, pq.Array(c.TagIDs), afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subscribers := []*model.Subscriber{}
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subscribers = append(subscribers, s)
	}
	return subscribers, rows.Err()
}

func (r *SubscriberRepository) CountPendingRecipients(ctx context.Context, workspaceID int64, c *model.Campaign) (int, error) {
	if err := scoped("subscribers.count_pending", workspaceID); err != nil {
		return 0, err
	}
	var count int
	err := querier(ctx, r.DB).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscribers s WHERE`+pendingFilter,
		workspaceID, c.ID, c.SendToAll, pq.Array(c.TagIDs),
	).Scan(&count)
	return count, err
}

func (r *SubscriberRepository) Unsubscribe(ctx context.Context, workspaceID, id int64, reason model.UnsubscribeReason, at time.Time) (bool, error) {
	if err := scoped("subscribers.unsubscribe", workspaceID); err != nil {
		return false, err
	}
	res, err := querier(ctx, r.DB).ExecContext(ctx, `
        UPDATE subscribers
        SET unsubscribed_at = $3, unsubscribe_event_id = $4
        WHERE id = $1 AND workspace_id = $2 AND unsubscribed_at IS NULL
    `, id, workspaceID, at, int(reason))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SubscriberRepository) Resubscribe(ctx context.Context, workspaceID, id int64) error {
	if err := scoped("subscribers.resubscribe", workspaceID); err != nil {
		return err
	}
	_, err := querier(ctx, r.DB).ExecContext(ctx, `
        UPDATE subscribers SET unsubscribed_at = NULL, unsubscribe_event_id = NULL
        WHERE id = $1 AND workspace_id = $2
    `, id, workspaceID)
	return err
}

var _ SubscriberRepositoryInterface = (*SubscriberRepository)(nil)
