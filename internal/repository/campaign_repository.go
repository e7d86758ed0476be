package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, workspaceID int64, c *model.Campaign) error
	GetByID(ctx context.Context, workspaceID, id int64) (*model.Campaign, error)
	UpdateDraft(ctx context.Context, workspaceID int64, c *model.Campaign) error
	DeleteDraft(ctx context.Context, workspaceID, id int64) error
	ListByStatus(ctx context.Context, workspaceID int64, status model.CampaignStatus) ([]*model.Campaign, error)

	// TransitionStatus moves from -> to only if the row is still in from.
	// It reports whether this call made the change.
	TransitionStatus(ctx context.Context, workspaceID, id int64, from, to model.CampaignStatus) (bool, error)
	// MarkSent completes a sending campaign and stores its run counts.
	// failed replaces failed_count; it is only complete when the run walked
	// every recipient still without a message row.
	MarkSent(ctx context.Context, workspaceID, id int64, failed int) (bool, error)
	// RefreshCounts recomputes sent_count and stores failed_count for a sent
	// campaign, under the same assumption as MarkSent.
	RefreshCounts(ctx context.Context, workspaceID, id int64, failed int) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, workspace_id, email_service_id, name, subject, content, from_name, from_email,
        status, is_open_tracking, is_click_tracking, send_to_all, tag_ids,
        sent_count, failed_count, scheduled_at, created_at, updated_at`

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.WorkspaceID, &c.EmailServiceID, &c.Name, &c.Subject, &c.Content, &c.FromName, &c.FromEmail,
		&c.Status, &c.IsOpenTracking, &c.IsClickTracking, &c.SendToAll, pq.Array(&c.TagIDs),
		&c.SentCount, &c.FailedCount, &c.ScheduledAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) Create(ctx context.Context, workspaceID int64, c *model.Campaign) error {
	if err := scoped("campaigns.create", workspaceID); err != nil {
		return err
	}
	c.WorkspaceID = workspaceID
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	if c.TagIDs == nil {
		c.TagIDs = []int64{}
	}
	query := `
        INSERT INTO campaigns (workspace_id, email_service_id, name, subject, content, from_name, from_email,
            status, is_open_tracking, is_click_tracking, send_to_all, tag_ids, scheduled_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        RETURNING id, created_at
    `
	return querier(ctx, r.DB).QueryRowContext(ctx, query,
		workspaceID, c.EmailServiceID, c.Name, c.Subject, c.Content, c.FromName, c.FromEmail,
		c.Status, c.IsOpenTracking, c.IsClickTracking, c.SendToAll, pq.Array(c.TagIDs), c.ScheduledAt,
	).Scan(&c.ID, &c.CreatedAt)
}

func (r *CampaignRepository) GetByID(ctx context.Context, workspaceID, id int64) (*model.Campaign, error) {
	if err := scoped("campaigns.get", workspaceID); err != nil {
		return nil, err
	}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1 AND workspace_id = $2`
	c, err := scanCampaign(querier(ctx, r.DB).QueryRowContext(ctx, query, id, workspaceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(workspaceID, id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) UpdateDraft(ctx context.Context, workspaceID int64, c *model.Campaign) error {
	if err := scoped("campaigns.update", workspaceID); err != nil {
		return err
	}
	if c.TagIDs == nil {
		c.TagIDs = []int64{}
	}
	query := `
        UPDATE campaigns
        SET name=$3, subject=$4, content=$5, from_name=$6, from_email=$7, email_service_id=$8,
            is_open_tracking=$9, is_click_tracking=$10, send_to_all=$11, tag_ids=$12, scheduled_at=$13,
            updated_at=NOW()
        WHERE id=$1 AND workspace_id=$2 AND status='draft'
    `
	res, err := querier(ctx, r.DB).ExecContext(ctx, query, c.ID, workspaceID,
		c.Name, c.Subject, c.Content, c.FromName, c.FromEmail, c.EmailServiceID,
		c.IsOpenTracking, c.IsClickTracking, c.SendToAll, pq.Array(c.TagIDs), c.ScheduledAt,
	)
	if err != nil {
		return err
	}
	return r.draftOnly(ctx, res, workspaceID, c.ID)
}

func (r *CampaignRepository) DeleteDraft(ctx context.Context, workspaceID, id int64) error {
	if err := scoped("campaigns.delete", workspaceID); err != nil {
		return err
	}
	res, err := querier(ctx, r.DB).ExecContext(ctx,
		`DELETE FROM campaigns WHERE id=$1 AND workspace_id=$2 AND status='draft'`, id, workspaceID)
	if err != nil {
		return err
	}
	return r.draftOnly(ctx, res, workspaceID, id)
}

// draftOnly turns a zero-row draft-guarded write into not-found or an
// invalid transition, depending on whether the campaign exists.
func (r *CampaignRepository) draftOnly(ctx context.Context, res sql.Result, workspaceID, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	current, err := r.GetByID(ctx, workspaceID, id)
	if err != nil {
		return err
	}
	return appErrors.NewInvalidStateTransition(id, string(current.Status), "")
}

func (r *CampaignRepository) ListByStatus(ctx context.Context, workspaceID int64, status model.CampaignStatus) ([]*model.Campaign, error) {
	if err := scoped("campaigns.list_by_status", workspaceID); err != nil {
		return nil, err
	}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE workspace_id = $1 AND status = $2 ORDER BY id`
	rows, err := querier(ctx, r.DB).QueryContext(ctx, query, workspaceID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (r *CampaignRepository) TransitionStatus(ctx context.Context, workspaceID, id int64, from, to model.CampaignStatus) (bool, error) {
	if err := scoped("campaigns.transition", workspaceID); err != nil {
		return false, err
	}
	if !model.CanTransition(from, to) {
		return false, appErrors.NewInvalidStateTransition(id, string(from), string(to))
	}
	res, err := querier(ctx, r.DB).ExecContext(ctx,
		`UPDATE campaigns SET status=$3, updated_at=NOW() WHERE id=$1 AND workspace_id=$2 AND status=$4`,
		id, workspaceID, to, from)
	if err != nil {
		return false, fmt.Errorf("transition campaign %d to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *CampaignRepository) MarkSent(ctx context.Context, workspaceID, id int64, failed int) (bool, error) {
	if err := scoped("campaigns.mark_sent", workspaceID); err != nil {
		return false, err
	}
	// failed_count is overwritten, not added to: fan-out re-enumerates all unsent recipients.
	query := `
        UPDATE campaigns
        SET status='sent', failed_count=$3,
            sent_count=(SELECT COUNT(*) FROM messages m WHERE m.campaign_id = campaigns.id AND m.workspace_id = campaigns.workspace_id),
            updated_at=NOW()
        WHERE id=$1 AND workspace_id=$2 AND status='sending'
    `
	res, err := querier(ctx, r.DB).ExecContext(ctx, query, id, workspaceID, failed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *CampaignRepository) RefreshCounts(ctx context.Context, workspaceID, id int64, failed int) error {
	if err := scoped("campaigns.refresh_counts", workspaceID); err != nil {
		return err
	}
	// Overwritten for the same reason as in MarkSent.
	query := `
        UPDATE campaigns
        SET failed_count=$3,
            sent_count=(SELECT COUNT(*) FROM messages m WHERE m.campaign_id = campaigns.id AND m.workspace_id = campaigns.workspace_id),
            updated_at=NOW()
        WHERE id=$1 AND workspace_id=$2 AND status='sent'
    `
	_, err := querier(ctx, r.DB).ExecContext(ctx, query, id, workspaceID, failed)
	return err
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
