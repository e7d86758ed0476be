package mailer

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"

	"github.com/resend/resend-go/v2"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

// ResendAdapter tracking is a per-domain setting in Resend, so
// Envelope.Tracking is not sent per message.
type ResendAdapter struct {
	Client *resend.Client
}

func NewResendAdapter(s ResendSettings, httpClient *http.Client) *ResendAdapter {
	return &ResendAdapter{Client: resend.NewCustomClient(httpClient, s.Key)}
}

func (a *ResendAdapter) Send(ctx context.Context, env Envelope) (string, error) {
	params := &resend.SendEmailRequest{
		From:    env.From(),
		To:      []string{env.ToEmail},
		Subject: env.Subject,
		Html:    env.Content,
		Tags:    resendTags(env.Tags),
	}

	sent, err := a.Client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return "", classifyResendError(err)
	}
	if sent == nil || sent.Id == "" {
		return "", appErrors.NewMessageIDResolution("resend")
	}
	return sent.Id, nil
}

func resendTags(tags map[string]string) []resend.Tag {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]resend.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, resend.Tag{Name: k, Value: tags[k]})
	}
	return out
}

// The SDK folds HTTP failures into plain errors, so only network-level
// failures can be told apart.
func classifyResendError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return appErrors.NewProviderTransportError("resend", err)
	}
	return &appErrors.ProviderError{Provider: "resend", Kind: appErrors.ProviderRejected, Err: err}
}
