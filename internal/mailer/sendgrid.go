package mailer

import (
	"context"
	"strings"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

const sendGridBaseURL = "https://api.sendgrid.com"

type SendGridAdapter struct {
	Settings SendGridSettings
	Client   httpDoer
	BaseURL  string
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridToggle struct {
	Enable bool `json:"enable"`
}

type sendGridTracking struct {
	ClickTracking sendGridToggle `json:"click_tracking"`
	OpenTracking  sendGridToggle `json:"open_tracking"`
}

type sendGridRequest struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	CustomArgs       map[string]string         `json:"custom_args,omitempty"`
	TrackingSettings sendGridTracking          `json:"tracking_settings"`
}

func (a *SendGridAdapter) Send(ctx context.Context, env Envelope) (string, error) {
	payload := sendGridRequest{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: env.ToEmail}}}},
		From:             sendGridAddress{Email: env.FromEmail, Name: env.FromName},
		Subject:          env.Subject,
		Content:          []sendGridContent{{Type: "text/html", Value: env.Content}},
		CustomArgs:       env.Tags,
		TrackingSettings: sendGridTracking{
			ClickTracking: sendGridToggle{Enable: env.Tracking.Click},
			OpenTracking:  sendGridToggle{Enable: env.Tracking.Open},
		},
	}
	req, err := jsonRequest("sendgrid", strings.TrimRight(a.BaseURL, "/")+"/v3/mail/send",
		map[string]string{"Authorization": "Bearer " + a.Settings.Key}, payload)
	if err != nil {
		return "", err
	}

	header, err := do(ctx, a.Client, req, nil)
	if err != nil {
		return "", err
	}
	id := header.Get("X-Message-Id")
	if id == "" {
		return "", appErrors.NewMessageIDResolution("sendgrid")
	}
	return id, nil
}
