package mailer

import (
	"context"
	"net/url"
	"strings"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

type MailgunAdapter struct {
	Settings MailgunSettings
	Client   httpDoer
	BaseURL  string
}

type mailgunResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (a *MailgunAdapter) Send(ctx context.Context, env Envelope) (string, error) {
	form := url.Values{}
	form.Set("from", env.From())
	form.Set("to", env.ToEmail)
	form.Set("subject", env.Subject)
	form.Set("html", env.Content)
	form.Set("o:tracking", yesNo(env.Tracking.Open || env.Tracking.Click))
	form.Set("o:tracking-opens", yesNo(env.Tracking.Open))
	form.Set("o:tracking-clicks", yesNo(env.Tracking.Click))
	for k, v := range env.Tags {
		form.Set("v:"+k, v)
	}

	req := formRequest("mailgun", strings.TrimRight(a.BaseURL, "/")+"/v3/"+url.PathEscape(a.Settings.Domain)+"/messages", form)
	req.basic = [2]string{"api", a.Settings.Key}

	var resp mailgunResponse
	if _, err := do(ctx, a.Client, req, &resp); err != nil {
		return "", err
	}

	id := strings.Trim(resp.ID, "<>")
	if id == "" {
		return "", appErrors.NewMessageIDResolution("mailgun")
	}
	return id, nil
}
