package service

import (
	"context"
	"errors"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logx"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// Outcome is what applying one delivery event did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUnmatched Outcome = "unmatched"
)

// undatedEventKey stands in for occurred_at in the ledger when a payload
// carries no timestamp, so redeliveries of it collide.
var undatedEventKey = time.Unix(0, 0).UTC()

// WebhookService applies normalized delivery events to messages and
// subscribers. Applying the same event twice changes nothing the second time.
type WebhookService struct {
	Tx             repository.TxRunner
	MessageRepo    repository.MessageRepositoryInterface
	SubscriberRepo repository.SubscriberRepositoryInterface
	EventRepo      repository.WebhookEventRepositoryInterface
	Now            func() time.Time
}

func (s *WebhookService) Apply(ctx context.Context, workspaceID int64, ev model.DeliveryEvent) (Outcome, error) {
	outcome := OutcomeApplied
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		msg, err := s.MessageRepo.FindByExternalID(ctx, workspaceID, ev.MessageID)
		if err != nil {
			return err
		}
		if msg == nil {
			return appErrors.ErrUnmatchedWebhookEvent
		}

		key, at := ev, ev.Timestamp
		if at.IsZero() {
			key.Timestamp = undatedEventKey
			at = s.now()
		}
		fresh, err := s.EventRepo.Record(ctx, workspaceID, key)
		if err != nil {
			return err
		}
		if !fresh {
			outcome = OutcomeDuplicate
			return nil
		}

		if err := s.MessageRepo.ApplyEvent(ctx, workspaceID, msg.ID, ev.Kind, at); err != nil {
			return err
		}

		if reason, ok := ev.UnsubscribeReason(); ok {
			changed, err := s.SubscriberRepo.Unsubscribe(ctx, workspaceID, msg.SubscriberID, reason, at)
			if err != nil {
				return err
			}
			if changed {
				logx.L().Infow("subscriber_unsubscribed",
					"workspace_id", workspaceID, "subscriber_id", msg.SubscriberID, "reason", reason.String())
			}
		}
		return nil
	})

	if errors.Is(err, appErrors.ErrUnmatchedWebhookEvent) {
		outcome, err = OutcomeUnmatched, nil
		logx.L().Infow("webhook_event_unmatched",
			"workspace_id", workspaceID, "provider", ev.Provider, "kind", ev.Kind, "message_id", ev.MessageID)
	}
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(string(ev.Provider), string(ev.Kind), "error").Inc()
		return "", err
	}
	metrics.WebhookEvents.WithLabelValues(string(ev.Provider), string(ev.Kind), string(outcome)).Inc()
	return outcome, nil
}

func (s *WebhookService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// ApplyAll applies events in order and stops at the first storage error.
func (s *WebhookService) ApplyAll(ctx context.Context, workspaceID int64, events []model.DeliveryEvent) error {
	for _, ev := range events {
		if _, err := s.Apply(ctx, workspaceID, ev); err != nil {
			return err
		}
	}
	return nil
}
