// internal/model/subscriber.go
package model

import "time"

// UnsubscribeReason mirrors the unsubscribe_event_id column.
type UnsubscribeReason int

const (
	UnsubscribeBounce             UnsubscribeReason = 1
	UnsubscribeComplaint          UnsubscribeReason = 2
	UnsubscribeManualByAdmin      UnsubscribeReason = 3
	UnsubscribeManualBySubscriber UnsubscribeReason = 4
)

func (r UnsubscribeReason) String() string {
	switch r {
	case UnsubscribeBounce:
		return "bounce"
	case UnsubscribeComplaint:
		return "complaint"
	case UnsubscribeManualByAdmin:
		return "manual_by_admin"
	case UnsubscribeManualBySubscriber:
		return "manual_by_subscriber"
	}
	return "unknown"
}

type Subscriber struct {
	ID                 int64              `db:"id" json:"id"`
	WorkspaceID        int64              `db:"workspace_id" json:"workspace_id"`
	Email              string             `db:"email" json:"email"`
	FirstName          string             `db:"first_name" json:"first_name"`
	LastName           string             `db:"last_name" json:"last_name"`
	UnsubscribedAt     *time.Time         `db:"unsubscribed_at" json:"unsubscribed_at,omitempty"`
	UnsubscribeEventID *UnsubscribeReason `db:"unsubscribe_event_id" json:"unsubscribe_event_id,omitempty"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
}

func (s *Subscriber) IsUnsubscribed() bool { return s.UnsubscribedAt != nil }

type Workspace struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}
