package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

var errPostalFailed = errors.New("postal reported failure")

type PostalAdapter struct {
	Settings PostalSettings
	Client   httpDoer
	BaseURL  string
}

type postalRequest struct {
	To       []string          `json:"to"`
	From     string            `json:"from"`
	Subject  string            `json:"subject"`
	HTMLBody string            `json:"html_body"`
	Headers  map[string]string `json:"headers,omitempty"`
}

type postalRecipient struct {
	ID    json.Number `json:"id"`
	Token string      `json:"token"`
}

type postalResponse struct {
	Status string `json:"status"`
	Data   struct {
		MessageID string                     `json:"message_id"`
		Messages  map[string]postalRecipient `json:"messages"`
		Code      string                     `json:"code"`
		Message   string                     `json:"message"`
	} `json:"data"`
}

func (a *PostalAdapter) Send(ctx context.Context, env Envelope) (string, error) {
	payload := postalRequest{
		To:       []string{env.ToEmail},
		From:     env.From(),
		Subject:  env.Subject,
		HTMLBody: env.Content,
	}
	req, err := jsonRequest("postal", strings.TrimRight(a.BaseURL, "/")+"/api/v1/send/message",
		map[string]string{"X-Server-API-Key": a.Settings.Key}, payload)
	if err != nil {
		return "", err
	}

	var resp postalResponse
	if _, err := do(ctx, a.Client, req, &resp); err != nil {
		return "", err
	}
	if resp.Status != "success" {
		return "", &appErrors.ProviderError{
			Provider: "postal",
			Kind:     appErrors.ProviderRejected,
			Err:      fmt.Errorf("%w: %s %s", errPostalFailed, resp.Data.Code, resp.Data.Message),
		}
	}
	return postalMessageID(resp, env.ToEmail)
}

// postalMessageID picks the per-recipient id, which is what Postal's
// webhooks report. It prefers the envelope recipient, then the first entry.
func postalMessageID(resp postalResponse, recipient string) (string, error) {
	msgs := resp.Data.Messages
	if r, ok := msgs[strings.ToLower(recipient)]; ok && r.ID != "" {
		return r.ID.String(), nil
	}
	if r, ok := msgs[recipient]; ok && r.ID != "" {
		return r.ID.String(), nil
	}

	keys := make([]string, 0, len(msgs))
	for k := range msgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if id := msgs[k].ID.String(); id != "" {
			return id, nil
		}
	}
	return "", appErrors.NewMessageIDResolution("postal")
}
