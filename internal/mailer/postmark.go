package mailer

import (
	"context"
	"fmt"
	"strings"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

const postmarkBaseURL = "https://api.postmarkapp.com"

type PostmarkAdapter struct {
	Settings PostmarkSettings
	Client   httpDoer
	BaseURL  string
}

type postmarkRequest struct {
	From          string            `json:"From"`
	To            string            `json:"To"`
	Subject       string            `json:"Subject"`
	HtmlBody      string            `json:"HtmlBody"`
	MessageStream string            `json:"MessageStream"`
	TrackOpens    bool              `json:"TrackOpens"`
	TrackLinks    string            `json:"TrackLinks"`
	Metadata      map[string]string `json:"Metadata,omitempty"`
}

type postmarkResponse struct {
	MessageID string `json:"MessageID"`
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

func postmarkTrackLinks(click bool) string {
	if click {
		return "HtmlAndText"
	}
	return "None"
}

func (a *PostmarkAdapter) Send(ctx context.Context, env Envelope) (string, error) {
	payload := postmarkRequest{
		From:          env.From(),
		To:            env.ToEmail,
		Subject:       env.Subject,
		HtmlBody:      env.Content,
		MessageStream: a.Settings.stream(),
		TrackOpens:    env.Tracking.Open,
		TrackLinks:    postmarkTrackLinks(env.Tracking.Click),
		Metadata:      env.Tags,
	}
	req, err := jsonRequest("postmark", strings.TrimRight(a.BaseURL, "/")+"/email",
		map[string]string{"X-Postmark-Server-Token": a.Settings.Key}, payload)
	if err != nil {
		return "", err
	}

	var resp postmarkResponse
	if _, err := do(ctx, a.Client, req, &resp); err != nil {
		return "", err
	}
	if resp.ErrorCode != 0 {
		return "", &appErrors.ProviderError{
			Provider: "postmark",
			Kind:     appErrors.ProviderRejected,
			Err:      fmt.Errorf("error code %d: %s", resp.ErrorCode, resp.Message),
		}
	}
	if resp.MessageID == "" {
		return "", appErrors.NewMessageIDResolution("postmark")
	}
	return resp.MessageID, nil
}
