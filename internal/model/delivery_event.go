package model

import "time"

type EventKind string

const (
	EventBounce    EventKind = "bounce"
	EventComplaint EventKind = "complaint"
	EventOpen      EventKind = "open"
	EventClick     EventKind = "click"
	EventDelivered EventKind = "delivered"
)

// DeliveryEvent is the provider-neutral form of a webhook callback.
type DeliveryEvent struct {
	Provider  ServiceType       `json:"provider"`
	Kind      EventKind         `json:"kind"`
	MessageID string            `json:"message_id"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// UnsubscribeReason returns the reason a bounce or complaint implies.
func (e DeliveryEvent) UnsubscribeReason() (UnsubscribeReason, bool) {
	switch e.Kind {
	case EventBounce:
		return UnsubscribeBounce, true
	case EventComplaint:
		return UnsubscribeComplaint, true
	}
	return 0, false
}
