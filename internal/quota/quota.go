package quota

import (
	"context"
	"fmt"
	"math"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/unclebandit/campaign-dispatch/internal/logx"
	"github.com/unclebandit/campaign-dispatch/internal/mailer"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Checker answers whether a send of n messages would exceed a service's
// provider quota.
type Checker interface {
	ExceedsQuota(ctx context.Context, svc *model.EmailService, n int) bool
}

// UsageCounter reports how many messages a service sent in the last 24h.
// It backs the daily_quota setting of providers without a quota API.
type UsageCounter interface {
	SentLast24Hours(ctx context.Context, workspaceID, serviceID int64) (int, error)
}

type Service struct {
	// NewSES overrides SES client construction in tests.
	NewSES func(ctx context.Context, s mailer.SESSettings) (mailer.SESAPI, error)
	Usage  UsageCounter
}

var _ Checker = (*Service)(nil)

// ExceedsQuota fails closed: any lookup error counts as exceeded.
func (s *Service) ExceedsQuota(ctx context.Context, svc *model.EmailService, n int) bool {
	remaining, err := s.Remaining(ctx, svc)
	if err != nil {
		logx.L().Warnw("quota_lookup_failed",
			"workspace_id", svc.WorkspaceID, "email_service_id", svc.ID, "type", svc.Type, "error", err)
		return true
	}
	return n > remaining
}

// Remaining returns how many more messages svc may send now. math.MaxInt
// means no ceiling.
func (s *Service) Remaining(ctx context.Context, svc *model.EmailService) (int, error) {
	settings, err := mailer.ParseSettings(svc.Type, svc.Settings)
	if err != nil {
		return 0, err
	}

	switch st := settings.(type) {
	case *mailer.SESSettings:
		return s.sesRemaining(ctx, *st)
	case *mailer.MailgunSettings:
		return s.dailyRemaining(ctx, svc, st.DailyQuota)
	case *mailer.PostmarkSettings:
		return s.dailyRemaining(ctx, svc, st.DailyQuota)
	case *mailer.PostalSettings:
		return s.dailyRemaining(ctx, svc, st.DailyQuota)
	case *mailer.SendGridSettings:
		return s.dailyRemaining(ctx, svc, st.DailyQuota)
	case *mailer.ResendSettings:
		return s.dailyRemaining(ctx, svc, st.DailyQuota)
	}
	return 0, fmt.Errorf("no quota source for %s", svc.Type)
}

func (s *Service) sesRemaining(ctx context.Context, st mailer.SESSettings) (int, error) {
	newSES := s.NewSES
	if newSES == nil {
		newSES = mailer.NewSESClient
	}
	api, err := newSES(ctx, st)
	if err != nil {
		return 0, err
	}

	out, err := api.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return 0, fmt.Errorf("ses get account: %w", err)
	}
	if out.SendQuota == nil {
		return 0, fmt.Errorf("ses get account: no send quota in response")
	}

	ceiling := out.SendQuota.Max24HourSend
	if ceiling < 0 {
		return math.MaxInt, nil
	}
	remaining := ceiling - out.SendQuota.SentLast24Hours
	if remaining < 0 {
		return 0, nil
	}
	return int(remaining), nil
}

func (s *Service) dailyRemaining(ctx context.Context, svc *model.EmailService, limit int) (int, error) {
	if limit <= 0 {
		return math.MaxInt, nil
	}
	if s.Usage == nil {
		return limit, nil
	}
	used, err := s.Usage.SentLast24Hours(ctx, svc.WorkspaceID, svc.ID)
	if err != nil {
		return 0, fmt.Errorf("count recent sends: %w", err)
	}
	if used >= limit {
		return 0, nil
	}
	return limit - used, nil
}
