package mailer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Limits are the provider-neutral knobs any service may carry.
type Limits struct {
	// DailyQuota caps sends per 24h for providers without a quota API. Zero is unlimited.
	DailyQuota int `json:"daily_quota,omitempty"`
	// Parallelism bounds concurrent sends for one campaign. Zero uses the process default.
	Parallelism int `json:"parallelism,omitempty"`
}

func (l Limits) limits() Limits { return l }

func (l Limits) problems() []string {
	var p []string
	if l.DailyQuota < 0 {
		p = append(p, "daily_quota must not be negative")
	}
	if l.Parallelism < 0 {
		p = append(p, "parallelism must not be negative")
	}
	return p
}

// Settings is one provider's validated credentials.
type Settings interface {
	Provider() model.ServiceType
	limits() Limits
	problems() []string
}

type SESSettings struct {
	Limits
	Key                  string `json:"key"`
	Secret               string `json:"secret"`
	Region               string `json:"region"`
	ConfigurationSetName string `json:"configuration_set_name"`
}

func (SESSettings) Provider() model.ServiceType { return model.ServiceSES }

func (s SESSettings) problems() []string {
	return append(s.Limits.problems(), required(
		"key", s.Key, "secret", s.Secret, "region", s.Region, "configuration_set_name", s.ConfigurationSetName,
	)...)
}

type MailgunSettings struct {
	Limits
	Key               string `json:"key"`
	Domain            string `json:"domain"`
	Region            string `json:"region,omitempty"`
	WebhookSigningKey string `json:"webhook_signing_key,omitempty"`
}

func (MailgunSettings) Provider() model.ServiceType { return model.ServiceMailgun }

func (s MailgunSettings) problems() []string {
	p := append(s.Limits.problems(), required("key", s.Key, "domain", s.Domain)...)
	if strings.ContainsAny(s.Domain, "/?#") {
		p = append(p, "domain must be a bare host name")
	}
	switch strings.ToLower(s.Region) {
	case "", "us", "eu":
	default:
		p = append(p, "region must be us or eu")
	}
	return p
}

// Endpoint returns the API root for the account's region.
func (s MailgunSettings) Endpoint() string {
	if strings.EqualFold(s.Region, "eu") {
		return "https://api.eu.mailgun.net"
	}
	return "https://api.mailgun.net"
}

type PostmarkSettings struct {
	Limits
	Key           string `json:"key"`
	MessageStream string `json:"message_stream,omitempty"`
}

func (PostmarkSettings) Provider() model.ServiceType { return model.ServicePostmark }

func (s PostmarkSettings) problems() []string {
	return append(s.Limits.problems(), required("key", s.Key)...)
}

func (s PostmarkSettings) stream() string {
	if s.MessageStream == "" {
		return "outbound"
	}
	return s.MessageStream
}

type PostalSettings struct {
	Limits
	Key        string `json:"key"`
	PostalHost string `json:"postal_host"`
}

func (PostalSettings) Provider() model.ServiceType { return model.ServicePostal }

func (s PostalSettings) problems() []string {
	return append(s.Limits.problems(), required("key", s.Key, "postal_host", s.PostalHost)...)
}

// BaseURL accepts a bare host or a full URL.
func (s PostalSettings) BaseURL() string {
	host := strings.TrimRight(s.PostalHost, "/")
	if strings.Contains(host, "://") {
		return host
	}
	return "https://" + host
}

type SendGridSettings struct {
	Limits
	Key string `json:"key"`
}

func (SendGridSettings) Provider() model.ServiceType { return model.ServiceSendGrid }

func (s SendGridSettings) problems() []string {
	return append(s.Limits.problems(), required("key", s.Key)...)
}

type ResendSettings struct {
	Limits
	Key string `json:"key"`
}

func (ResendSettings) Provider() model.ServiceType { return model.ServiceResend }

func (s ResendSettings) problems() []string {
	return append(s.Limits.problems(), required("key", s.Key)...)
}

// required takes name, value pairs.
func required(pairs ...string) []string {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i]+" is required")
		}
	}
	return missing
}

// ParseSettings decodes raw into the variant for t and validates it.
// Unknown fields are rejected so a typo cannot silently drop a credential.
func ParseSettings(t model.ServiceType, raw json.RawMessage) (Settings, error) {
	var s Settings
	switch t {
	case model.ServiceSES:
		s = &SESSettings{}
	case model.ServiceMailgun:
		s = &MailgunSettings{}
	case model.ServicePostmark:
		s = &PostmarkSettings{}
	case model.ServicePostal:
		s = &PostalSettings{}
	case model.ServiceSendGrid:
		s = &SendGridSettings{}
	case model.ServiceResend:
		s = &ResendSettings{}
	default:
		return nil, appErrors.NewInvalidSettings(string(t), fmt.Sprintf("unknown email service type %q", t))
	}

	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(s); err != nil {
		return nil, appErrors.NewInvalidSettings(string(t), err.Error())
	}
	if p := s.problems(); len(p) > 0 {
		return nil, appErrors.NewInvalidSettings(string(t), p...)
	}
	return s, nil
}

// ServiceLimits parses svc's settings and returns its limits.
func ServiceLimits(svc *model.EmailService) (Limits, error) {
	s, err := ParseSettings(svc.Type, svc.Settings)
	if err != nil {
		return Limits{}, err
	}
	return s.limits(), nil
}
