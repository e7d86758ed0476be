package webhook

import (
	"encoding/json"
	"errors"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type postmarkPayload struct {
	RecordType   string `json:"RecordType"`
	MessageID    string `json:"MessageID"`
	Type         string `json:"Type"`
	DeliveredAt  string `json:"DeliveredAt"`
	ReceivedAt   string `json:"ReceivedAt"`
	BouncedAt    string `json:"BouncedAt"`
	OriginalLink string `json:"OriginalLink"`
}

func NormalizePostmark(body []byte) (Result, error) {
	var p postmarkPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{}, malformed("postmark", err)
	}

	var (
		kind model.EventKind
		ts   string
		meta = map[string]string{}
	)
	switch p.RecordType {
	case "Delivery":
		kind, ts = model.EventDelivered, p.DeliveredAt
	case "Open":
		kind, ts = model.EventOpen, p.ReceivedAt
	case "Click":
		kind, ts = model.EventClick, p.ReceivedAt
		meta["link"] = p.OriginalLink
	case "Bounce":
		if p.Type != "HardBounce" {
			return Result{}, nil
		}
		kind, ts = model.EventBounce, p.BouncedAt
	case "SpamComplaint":
		kind, ts = model.EventComplaint, p.BouncedAt
	default:
		return Result{}, nil
	}

	if p.MessageID == "" {
		return Result{}, malformed("postmark", errors.New("record without MessageID"))
	}
	return Result{Events: []model.DeliveryEvent{
		event(model.ServicePostmark, kind, p.MessageID, parseTime(ts), meta),
	}}, nil
}
