package service

import (
	"context"
	"strings"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logx"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

type SubscriberService struct {
	SubscriberRepo repository.SubscriberRepositoryInterface
	Now            func() time.Time
}

// SetSubscription toggles a subscriber by email. Unsubscribing records
// the manual_by_admin reason; an already unsubscribed subscriber keeps its
// original reason.
func (s *SubscriberService) SetSubscription(ctx context.Context, workspaceID int64, email string, subscribed bool) (*model.Subscriber, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, appErrors.NewInvalidInput("email is required")
	}
	sub, err := s.SubscriberRepo.GetByEmail(ctx, workspaceID, email)
	if err != nil {
		return nil, err
	}

	if subscribed {
		if err := s.SubscriberRepo.Resubscribe(ctx, workspaceID, sub.ID); err != nil {
			return nil, err
		}
	} else {
		now := time.Now()
		if s.Now != nil {
			now = s.Now()
		}
		if _, err := s.SubscriberRepo.Unsubscribe(ctx, workspaceID, sub.ID, model.UnsubscribeManualByAdmin, now); err != nil {
			return nil, err
		}
	}
	logx.L().Infow("subscription_changed", "workspace_id", workspaceID, "subscriber_id", sub.ID, "subscribed", subscribed)
	return s.SubscriberRepo.GetByID(ctx, workspaceID, sub.ID)
}
