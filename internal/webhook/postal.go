package webhook

import (
	"encoding/json"
	"errors"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type postalMessage struct {
	ID json.Number `json:"id"`
}

type postalPayload struct {
	Event     string  `json:"event"`
	Timestamp float64 `json:"timestamp"`
	Payload   struct {
		Status          string         `json:"status"`
		Timestamp       float64        `json:"timestamp"`
		URL             string         `json:"url"`
		Message         *postalMessage `json:"message"`
		OriginalMessage *postalMessage `json:"original_message"`
	} `json:"payload"`
}

func NormalizePostal(body []byte) (Result, error) {
	var p postalPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{}, malformed("postal", err)
	}

	meta := map[string]string{}
	var kind model.EventKind
	switch p.Event {
	case "MessageSent", "MessageDelivered":
		kind = model.EventDelivered
	case "MessageLoaded":
		kind = model.EventOpen
	case "MessageLinkClicked":
		kind = model.EventClick
		meta["url"] = p.Payload.URL
	case "MessageBounced":
		kind = model.EventBounce
	case "MessageDeliveryFailed":
		if p.Payload.Status != "HardFail" {
			return Result{}, nil
		}
		kind = model.EventBounce
	default:
		return Result{}, nil
	}

	msg := p.Payload.Message
	if kind == model.EventBounce && p.Payload.OriginalMessage != nil {
		msg = p.Payload.OriginalMessage
	}
	if msg == nil || msg.ID.String() == "" {
		return Result{}, malformed("postal", errors.New("event without message id"))
	}

	at := firstTime(unixFloat(p.Payload.Timestamp), unixFloat(p.Timestamp))
	return Result{Events: []model.DeliveryEvent{
		event(model.ServicePostal, kind, msg.ID.String(), at, meta),
	}}, nil
}
