// Package webhook turns provider callback payloads into model.DeliveryEvent.
// Normalizers are pure: they never touch storage.
package webhook

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Result is what one request body yielded. Events may be empty when the
// payload carried only kinds the engine ignores.
type Result struct {
	Events []model.DeliveryEvent
	// SubscribeURL is set when SNS asks to confirm a subscription.
	SubscribeURL string
}

type Normalizer func(body []byte) (Result, error)

var normalizers = map[model.ServiceType]Normalizer{
	model.ServiceSES:      NormalizeSES,
	model.ServiceMailgun:  NormalizeMailgun,
	model.ServicePostmark: NormalizePostmark,
	model.ServicePostal:   NormalizePostal,
	model.ServiceSendGrid: NormalizeSendGrid,
	model.ServiceResend:   NormalizeResend,
}

func For(t model.ServiceType) (Normalizer, bool) {
	n, ok := normalizers[t]
	return n, ok
}

func malformed(provider string, err error) error {
	return fmt.Errorf("%s: %w: %v", provider, appErrors.ErrMalformedWebhook, err)
}

// event leaves Timestamp zero when the payload carried none.
func event(provider model.ServiceType, kind model.EventKind, messageID string, at time.Time, meta map[string]string) model.DeliveryEvent {
	if !at.IsZero() {
		at = at.UTC().Truncate(time.Microsecond)
	}
	return model.DeliveryEvent{
		Provider:  provider,
		Kind:      kind,
		MessageID: messageID,
		Timestamp: at,
		Metadata:  meta,
	}
}

// parseTime accepts RFC 3339 strings and unix seconds with optional fraction.
func parseTime(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		sec := int64(f)
		return time.Unix(sec, int64((f-float64(sec))*1e9))
	}
	return time.Time{}
}

func firstTime(ts ...time.Time) time.Time {
	for _, t := range ts {
		if !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

func unixFloat(f float64) time.Time {
	if f <= 0 {
		return time.Time{}
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9))
}
