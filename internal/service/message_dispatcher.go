package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logx"
	"github.com/unclebandit/campaign-dispatch/internal/mailer"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

const defaultSendTimeout = 15 * time.Second

// MessageDispatcher sends one campaign email to one subscriber and records
// the provider's message id. A failed send leaves no message row, so the
// subscriber stays eligible for a later run.
type MessageDispatcher struct {
	MessageRepo repository.MessageRepositoryInterface
	Timeout     time.Duration
	Now         func() time.Time
}

func NewMessageDispatcher(repo repository.MessageRepositoryInterface, timeout time.Duration) *MessageDispatcher {
	return &MessageDispatcher{MessageRepo: repo, Timeout: timeout, Now: time.Now}
}

// Dispatch makes a single provider attempt. The send is not cut short when
// ctx is cancelled, only by the dispatcher's own timeout.
func (d *MessageDispatcher) Dispatch(ctx context.Context, adapter mailer.Adapter, provider model.ServiceType, c *model.Campaign, sub *model.Subscriber) error {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	env := mailer.Envelope{
		FromEmail: c.FromEmail,
		FromName:  c.FromName,
		ToEmail:   sub.Email,
		Subject:   c.Subject,
		Content:   c.Content,
		Tracking:  c.Tracking(),
		Tags: map[string]string{
			"workspace_id": strconv.FormatInt(c.WorkspaceID, 10),
			"campaign_id":  strconv.FormatInt(c.ID, 10),
		},
	}

	start := time.Now()
	messageID, err := adapter.Send(sendCtx, env)
	metrics.SendDuration.WithLabelValues(string(provider)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.MessagesFailed.WithLabelValues(string(provider), failureReason(err)).Inc()
		logx.L().Warnw("message_send_failed",
			"workspace_id", c.WorkspaceID,
			"campaign_id", c.ID,
			"subscriber_id", sub.ID,
			"recipient", logx.RedactEmail(sub.Email),
			"provider", provider,
			"error", err,
		)
		return err
	}
	metrics.MessagesSent.WithLabelValues(string(provider)).Inc()

	now := d.now()
	msg := &model.Message{
		WorkspaceID:     c.WorkspaceID,
		CampaignID:      c.ID,
		SubscriberID:    sub.ID,
		RecipientEmail:  sub.Email,
		Subject:         c.Subject,
		FromName:        c.FromName,
		FromEmail:       c.FromEmail,
		MessageID:       messageID,
		IsOpenTracking:  c.IsOpenTracking,
		IsClickTracking: c.IsClickTracking,
		SentAt:          &now,
	}
	// A cancelled run still records what the provider already accepted.
	recorded, err := d.MessageRepo.RecordSent(context.WithoutCancel(ctx), c.WorkspaceID, msg)
	if err != nil {
		logx.L().Errorw("message_record_failed",
			"workspace_id", c.WorkspaceID,
			"campaign_id", c.ID,
			"subscriber_id", sub.ID,
			"message_id", messageID,
			"error", err,
		)
		return err
	}
	if !recorded {
		logx.L().Warnw("message_already_recorded",
			"workspace_id", c.WorkspaceID, "campaign_id", c.ID, "subscriber_id", sub.ID)
	}
	return nil
}

func (d *MessageDispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, appErrors.ErrProviderAuth):
		return "auth"
	case errors.Is(err, appErrors.ErrProviderRejected):
		return "rejected"
	case errors.Is(err, appErrors.ErrMessageIDResolution):
		return "message_id"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}
