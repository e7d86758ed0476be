// internal/service/campaign_service.go
package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logx"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/quota"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

type CampaignService struct {
	CampaignRepo     repository.CampaignRepositoryInterface
	SubscriberRepo   repository.SubscriberRepositoryInterface
	MessageRepo      repository.MessageRepositoryInterface
	EmailServiceRepo repository.EmailServiceRepositoryInterface
	Quota            quota.Checker
	Queue            queue.Queue
}

// CampaignInput is the editable part of a draft.
type CampaignInput struct {
	Name            string     `json:"name"`
	Subject         string     `json:"subject"`
	Content         string     `json:"content"`
	FromName        string     `json:"from_name"`
	FromEmail       string     `json:"from_email"`
	EmailServiceID  int64      `json:"email_service_id"`
	IsOpenTracking  bool       `json:"is_open_tracking"`
	IsClickTracking bool       `json:"is_click_tracking"`
	SendToAll       bool       `json:"send_to_all"`
	TagIDs          []int64    `json:"tag_ids"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
}

func (in CampaignInput) validate() error {
	var problems []string
	if strings.TrimSpace(in.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(in.Subject) == "" {
		problems = append(problems, "subject is required")
	}
	if _, err := mail.ParseAddress(in.FromEmail); err != nil {
		problems = append(problems, "from_email must be a valid address")
	}
	if in.EmailServiceID <= 0 {
		problems = append(problems, "email_service_id is required")
	}
	if !in.SendToAll && len(in.TagIDs) == 0 {
		problems = append(problems, "tag_ids is required unless send_to_all is set")
	}
	if len(problems) > 0 {
		return appErrors.NewInvalidInput(problems...)
	}
	return nil
}

func (in CampaignInput) apply(c *model.Campaign) {
	c.Name = in.Name
	c.Subject = in.Subject
	c.Content = in.Content
	c.FromName = in.FromName
	c.FromEmail = in.FromEmail
	c.EmailServiceID = in.EmailServiceID
	c.IsOpenTracking = in.IsOpenTracking
	c.IsClickTracking = in.IsClickTracking
	c.SendToAll = in.SendToAll
	c.TagIDs = in.TagIDs
	c.ScheduledAt = in.ScheduledAt
}

func (s *CampaignService) CreateCampaign(ctx context.Context, workspaceID int64, in CampaignInput) (*model.Campaign, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if _, err := s.EmailServiceRepo.GetByID(ctx, workspaceID, in.EmailServiceID); err != nil {
		return nil, err
	}

	c := &model.Campaign{Status: model.CampaignStatusDraft}
	in.apply(c)
	if err := s.CampaignRepo.Create(ctx, workspaceID, c); err != nil {
		return nil, err
	}
	logx.L().Infow("campaign_created", "workspace_id", workspaceID, "campaign_id", c.ID)
	return c, nil
}

// UpdateCampaign edits a draft. Any other status is rejected.
func (s *CampaignService) UpdateCampaign(ctx context.Context, workspaceID, id int64, in CampaignInput) (*model.Campaign, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	c, err := s.CampaignRepo.GetByID(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}
	if !c.IsDraft() {
		return nil, appErrors.NewInvalidStateTransition(id, string(c.Status), "")
	}
	if _, err := s.EmailServiceRepo.GetByID(ctx, workspaceID, in.EmailServiceID); err != nil {
		return nil, err
	}

	in.apply(c)
	if err := s.CampaignRepo.UpdateDraft(ctx, workspaceID, c); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteCampaign removes a draft. Any other status is rejected.
func (s *CampaignService) DeleteCampaign(ctx context.Context, workspaceID, id int64) error {
	return s.CampaignRepo.DeleteDraft(ctx, workspaceID, id)
}

// QueueCampaign moves a draft to queued and requests dispatch. When the
// pending recipient count exceeds the provider quota nothing changes and
// *appErrors.ErrQuotaExceeded is returned.
func (s *CampaignService) QueueCampaign(ctx context.Context, workspaceID, id int64) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}
	if !c.IsDraft() {
		return nil, appErrors.NewInvalidStateTransition(id, string(c.Status), string(model.CampaignStatusQueued))
	}

	svc, err := s.EmailServiceRepo.GetByID(ctx, workspaceID, c.EmailServiceID)
	if err != nil {
		return nil, err
	}
	unsent, err := s.SubscriberRepo.CountPendingRecipients(ctx, workspaceID, c)
	if err != nil {
		return nil, err
	}
	if s.Quota.ExceedsQuota(ctx, svc, unsent) {
		metrics.QuotaRejections.WithLabelValues(string(svc.Type)).Inc()
		logx.L().Infow("campaign_queue_rejected_quota",
			"workspace_id", workspaceID, "campaign_id", id, "unsent", unsent, "email_service_id", svc.ID)
		return nil, appErrors.NewQuotaExceeded(svc.ID, unsent)
	}

	moved, err := s.CampaignRepo.TransitionStatus(ctx, workspaceID, id, model.CampaignStatusDraft, model.CampaignStatusQueued)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, appErrors.NewInvalidStateTransition(id, "unknown", string(model.CampaignStatusQueued))
	}
	c.Status = model.CampaignStatusQueued

	s.requestDispatch(workspaceID, id, queue.DispatchModeRun)
	logx.L().Infow("campaign_queued", "workspace_id", workspaceID, "campaign_id", id, "unsent", unsent)
	return c, nil
}

// RetryFailed re-sends a sent campaign to targets that still have no
// message. The campaign stays sent.
func (s *CampaignService) RetryFailed(ctx context.Context, workspaceID, id int64) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignStatusSent {
		return nil, appErrors.NewInvalidStateTransition(id, string(c.Status), "")
	}
	s.requestDispatch(workspaceID, id, queue.DispatchModeRetry)
	return c, nil
}

// requestDispatch is best effort: a queued or sending campaign whose
// request is lost is picked up again by the scheduler sweep.
func (s *CampaignService) requestDispatch(workspaceID, id int64, mode queue.DispatchMode) {
	err := s.Queue.Publish(queue.TopicCampaignDispatch, queue.DispatchRequested{
		WorkspaceID: workspaceID, CampaignID: id, Mode: mode,
	})
	if err != nil {
		logx.L().Warnw("dispatch_publish_failed", "workspace_id", workspaceID, "campaign_id", id, "error", err)
		return
	}
	metrics.DispatchRequestsPublished.Inc()
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, workspaceID, id int64) (*model.CampaignDetails, error) {
	c, err := s.CampaignRepo.GetByID(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.MessageRepo.Stats(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}
	unsent, err := s.SubscriberRepo.CountPendingRecipients(ctx, workspaceID, c)
	if err != nil {
		return nil, err
	}
	return &model.CampaignDetails{Campaign: c, Stats: stats, Unsent: unsent}, nil
}

// IsNotFound reports whether err means a workspace record does not exist.
func IsNotFound(err error) bool {
	var cnf *appErrors.ErrCampaignNotFound
	var nf *appErrors.ErrNotFound
	return errors.As(err, &cnf) || errors.As(err, &nf)
}
