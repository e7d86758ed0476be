package mailer

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Envelope is everything an adapter needs for one recipient.
type Envelope struct {
	FromEmail string
	FromName  string
	ToEmail   string
	Subject   string
	Content   string
	Tracking  model.MessageTrackingOptions
	// Tags are attached where the provider supports them.
	Tags map[string]string
}

func (e Envelope) From() string {
	return (&mail.Address{Name: e.FromName, Address: e.FromEmail}).String()
}

// Adapter sends one message and returns the provider's message id.
type Adapter interface {
	Send(ctx context.Context, env Envelope) (string, error)
}

// Factory builds an adapter per email service from its own settings.
type Factory struct {
	HTTPClient *http.Client
	// NewSES overrides SES client construction in tests.
	NewSES func(ctx context.Context, s SESSettings) (SESAPI, error)
}

func NewFactory() *Factory {
	return &Factory{HTTPClient: &http.Client{Timeout: 30 * time.Second}}
}

func (f *Factory) New(ctx context.Context, svc *model.EmailService) (Adapter, error) {
	s, err := ParseSettings(svc.Type, svc.Settings)
	if err != nil {
		return nil, err
	}
	return f.FromSettings(ctx, s)
}

func (f *Factory) FromSettings(ctx context.Context, s Settings) (Adapter, error) {
	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	switch s := s.(type) {
	case *SESSettings:
		newSES := f.NewSES
		if newSES == nil {
			newSES = NewSESClient
		}
		api, err := newSES(ctx, *s)
		if err != nil {
			return nil, err
		}
		return &SESAdapter{Client: api, ConfigurationSetName: s.ConfigurationSetName}, nil
	case *MailgunSettings:
		return &MailgunAdapter{Settings: *s, Client: client, BaseURL: s.Endpoint()}, nil
	case *PostmarkSettings:
		return &PostmarkAdapter{Settings: *s, Client: client, BaseURL: postmarkBaseURL}, nil
	case *PostalSettings:
		return &PostalAdapter{Settings: *s, Client: client, BaseURL: s.BaseURL()}, nil
	case *SendGridSettings:
		return &SendGridAdapter{Settings: *s, Client: client, BaseURL: sendGridBaseURL}, nil
	case *ResendSettings:
		return NewResendAdapter(*s, client), nil
	}
	return nil, fmt.Errorf("no adapter for %T", s)
}
