package quota

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/unclebandit/campaign-dispatch/internal/mailer"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type fakeAccount struct {
	quota *types.SendQuota
	err   error
}

func (f *fakeAccount) SendEmail(ctx context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	return nil, errors.New("not used")
}

func (f *fakeAccount) GetAccount(ctx context.Context, in *sesv2.GetAccountInput, _ ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.GetAccountOutput{SendQuota: f.quota}, nil
}

type fakeUsage struct {
	sent int
	err  error
}

func (f *fakeUsage) SentLast24Hours(ctx context.Context, workspaceID, serviceID int64) (int, error) {
	return f.sent, f.err
}

func sesService() *model.EmailService {
	return &model.EmailService{
		ID: 1, WorkspaceID: 1, Type: model.ServiceSES,
		Settings: json.RawMessage(`{"key":"k","secret":"s","region":"us-east-1","configuration_set_name":"cs"}`),
	}
}

func withAccount(acct *fakeAccount) *Service {
	return &Service{NewSES: func(ctx context.Context, s mailer.SESSettings) (mailer.SESAPI, error) { return acct, nil }}
}

func TestSESQuota(t *testing.T) {
	svc := withAccount(&fakeAccount{quota: &types.SendQuota{Max24HourSend: 200, SentLast24Hours: 100}})

	if !svc.ExceedsQuota(context.Background(), sesService(), 500) {
		t.Errorf("expected 500 recipients to exceed a remaining quota of 100")
	}
	if svc.ExceedsQuota(context.Background(), sesService(), 100) {
		t.Errorf("expected 100 recipients to fit a remaining quota of 100")
	}
}

func TestSESUnlimited(t *testing.T) {
	svc := withAccount(&fakeAccount{quota: &types.SendQuota{Max24HourSend: -1}})
	if svc.ExceedsQuota(context.Background(), sesService(), 1_000_000) {
		t.Errorf("expected -1 max send to mean unlimited")
	}
}

func TestFailsClosed(t *testing.T) {
	svc := withAccount(&fakeAccount{err: errors.New("throttled")})
	if !svc.ExceedsQuota(context.Background(), sesService(), 1) {
		t.Errorf("expected lookup error to count as exceeded")
	}

	bad := &model.EmailService{Type: model.ServiceMailgun, Settings: json.RawMessage(`{}`)}
	if !(&Service{}).ExceedsQuota(context.Background(), bad, 1) {
		t.Errorf("expected invalid settings to count as exceeded")
	}

	usageErr := &Service{Usage: &fakeUsage{err: errors.New("db down")}}
	pm := &model.EmailService{Type: model.ServicePostmark, Settings: json.RawMessage(`{"key":"k","daily_quota":10}`)}
	if !usageErr.ExceedsQuota(context.Background(), pm, 1) {
		t.Errorf("expected usage error to count as exceeded")
	}
}

func TestDailyQuotaSetting(t *testing.T) {
	svc := &Service{Usage: &fakeUsage{sent: 40}}
	pm := &model.EmailService{Type: model.ServicePostmark, Settings: json.RawMessage(`{"key":"k","daily_quota":100}`)}

	if svc.ExceedsQuota(context.Background(), pm, 60) {
		t.Errorf("expected 60 to fit 100-40")
	}
	if !svc.ExceedsQuota(context.Background(), pm, 61) {
		t.Errorf("expected 61 to exceed 100-40")
	}

	unlimited := &model.EmailService{Type: model.ServicePostmark, Settings: json.RawMessage(`{"key":"k"}`)}
	if svc.ExceedsQuota(context.Background(), unlimited, 1_000_000) {
		t.Errorf("expected no daily_quota to mean no ceiling")
	}
}
