package webhook

import (
	"encoding/json"
	"errors"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type snsEnvelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

type sesTimestamp struct {
	Timestamp string `json:"timestamp"`
}

// sesNotification covers both configuration-set event publishing
// (eventType) and identity notifications (notificationType).
type sesNotification struct {
	EventType        string `json:"eventType"`
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID string `json:"messageId"`
		Timestamp string `json:"timestamp"`
	} `json:"mail"`
	Bounce *struct {
		BounceType    string `json:"bounceType"`
		BounceSubType string `json:"bounceSubType"`
		Timestamp     string `json:"timestamp"`
	} `json:"bounce"`
	Complaint *sesTimestamp `json:"complaint"`
	Delivery  *sesTimestamp `json:"delivery"`
	Open      *sesTimestamp `json:"open"`
	Click     *struct {
		Timestamp string `json:"timestamp"`
		Link      string `json:"link"`
	} `json:"click"`
}

func NormalizeSES(body []byte) (Result, error) {
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Result{}, malformed("ses", err)
	}

	switch env.Type {
	case "SubscriptionConfirmation":
		if env.SubscribeURL == "" {
			return Result{}, malformed("ses", errors.New("subscription confirmation without SubscribeURL"))
		}
		return Result{SubscribeURL: env.SubscribeURL}, nil
	case "Notification":
	default:
		return Result{}, malformed("ses", errors.New("unknown SNS message type "+env.Type))
	}

	var n sesNotification
	if err := json.Unmarshal([]byte(env.Message), &n); err != nil {
		return Result{}, malformed("ses", err)
	}
	if n.Mail.MessageID == "" {
		return Result{}, malformed("ses", errors.New("notification without mail.messageId"))
	}

	discriminator := n.EventType
	if discriminator == "" {
		discriminator = n.NotificationType
	}

	var (
		kind model.EventKind
		ts   string
		meta = map[string]string{}
	)
	switch discriminator {
	case "Bounce":
		if n.Bounce == nil || n.Bounce.BounceType != "Permanent" {
			return Result{}, nil
		}
		kind, ts = model.EventBounce, n.Bounce.Timestamp
		meta["bounce_sub_type"] = n.Bounce.BounceSubType
	case "Complaint":
		kind, ts = model.EventComplaint, timestampOf(n.Complaint)
	case "Delivery":
		kind, ts = model.EventDelivered, timestampOf(n.Delivery)
	case "Open":
		kind, ts = model.EventOpen, timestampOf(n.Open)
	case "Click":
		kind = model.EventClick
		if n.Click != nil {
			ts = n.Click.Timestamp
			meta["link"] = n.Click.Link
		}
	default:
		return Result{}, nil
	}

	at := firstTime(parseTime(ts), parseTime(n.Mail.Timestamp))
	return Result{Events: []model.DeliveryEvent{
		event(model.ServiceSES, kind, n.Mail.MessageID, at, meta),
	}}, nil
}

func timestampOf(t *sesTimestamp) string {
	if t == nil {
		return ""
	}
	return t.Timestamp
}
