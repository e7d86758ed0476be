package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type mailgunSignature struct {
	Timestamp string `json:"timestamp"`
	Token     string `json:"token"`
	Signature string `json:"signature"`
}

type mailgunPayload struct {
	Signature mailgunSignature `json:"signature"`
	EventData struct {
		Event     string  `json:"event"`
		Timestamp float64 `json:"timestamp"`
		Severity  string  `json:"severity"`
		Reason    string  `json:"reason"`
		URL       string  `json:"url"`
		Message   struct {
			Headers struct {
				MessageID string `json:"message-id"`
			} `json:"headers"`
		} `json:"message"`
	} `json:"event-data"`
}

var mailgunKinds = map[string]model.EventKind{
	"delivered":  model.EventDelivered,
	"opened":     model.EventOpen,
	"clicked":    model.EventClick,
	"complained": model.EventComplaint,
	"failed":     model.EventBounce,
}

func NormalizeMailgun(body []byte) (Result, error) {
	var p mailgunPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{}, malformed("mailgun", err)
	}

	kind, ok := mailgunKinds[p.EventData.Event]
	if !ok {
		return Result{}, nil
	}
	if kind == model.EventBounce && p.EventData.Severity != "permanent" {
		return Result{}, nil
	}

	id := strings.Trim(p.EventData.Message.Headers.MessageID, "<>")
	if id == "" {
		return Result{}, malformed("mailgun", errors.New("event without message-id"))
	}

	meta := map[string]string{}
	if p.EventData.URL != "" {
		meta["url"] = p.EventData.URL
	}
	if p.EventData.Reason != "" {
		meta["reason"] = p.EventData.Reason
	}
	return Result{Events: []model.DeliveryEvent{
		event(model.ServiceMailgun, kind, id, unixFloat(p.EventData.Timestamp), meta),
	}}, nil
}

// VerifyMailgunSignature checks the HMAC-SHA256 of timestamp+token with the
// account's webhook signing key.
func VerifyMailgunSignature(signingKey string, body []byte) error {
	var p struct {
		Signature mailgunSignature `json:"signature"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return malformed("mailgun", err)
	}
	s := p.Signature
	if s.Timestamp == "" || s.Token == "" || s.Signature == "" {
		return appErrors.ErrWebhookSignature
	}

	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(s.Timestamp + s.Token))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(s.Signature))) {
		return appErrors.ErrWebhookSignature
	}
	return nil
}
