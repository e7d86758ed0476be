package webhook

import (
	"encoding/json"
	"errors"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type resendPayload struct {
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Data      struct {
		EmailID   string `json:"email_id"`
		CreatedAt string `json:"created_at"`
		Bounce    *struct {
			Type string `json:"type"`
		} `json:"bounce"`
		Click *struct {
			Link      string `json:"link"`
			Timestamp string `json:"timestamp"`
		} `json:"click"`
	} `json:"data"`
}

var resendKinds = map[string]model.EventKind{
	"email.delivered":  model.EventDelivered,
	"email.opened":     model.EventOpen,
	"email.clicked":    model.EventClick,
	"email.bounced":    model.EventBounce,
	"email.complained": model.EventComplaint,
}

func NormalizeResend(body []byte) (Result, error) {
	var p resendPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{}, malformed("resend", err)
	}

	kind, ok := resendKinds[p.Type]
	if !ok {
		return Result{}, nil
	}
	if kind == model.EventBounce && p.Data.Bounce != nil && p.Data.Bounce.Type != "" && p.Data.Bounce.Type != "Permanent" {
		return Result{}, nil
	}
	if p.Data.EmailID == "" {
		return Result{}, malformed("resend", errors.New("event without data.email_id"))
	}

	meta := map[string]string{}
	ts := p.CreatedAt
	if p.Data.Click != nil {
		meta["link"] = p.Data.Click.Link
		ts = firstString(p.Data.Click.Timestamp, ts)
	}
	return Result{Events: []model.DeliveryEvent{
		event(model.ServiceResend, kind, p.Data.EmailID, parseTime(ts), meta),
	}}, nil
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
