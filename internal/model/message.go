// internal/model/message.go
package model

import "time"

// Message is one subscriber's copy of a campaign. A row exists only once the
// provider accepted the send.
type Message struct {
	ID              int64      `db:"id" json:"id"`
	WorkspaceID     int64      `db:"workspace_id" json:"workspace_id"`
	CampaignID      int64      `db:"campaign_id" json:"campaign_id"`
	SubscriberID    int64      `db:"subscriber_id" json:"subscriber_id"`
	RecipientEmail  string     `db:"recipient_email" json:"recipient_email"`
	Subject         string     `db:"subject" json:"subject"`
	FromName        string     `db:"from_name" json:"from_name"`
	FromEmail       string     `db:"from_email" json:"from_email"`
	MessageID       string     `db:"message_id" json:"message_id"`
	IsOpenTracking  bool       `db:"is_open_tracking" json:"is_open_tracking"`
	IsClickTracking bool       `db:"is_click_tracking" json:"is_click_tracking"`
	SentAt          *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt     *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	OpenedAt        *time.Time `db:"opened_at" json:"opened_at,omitempty"`
	ClickedAt       *time.Time `db:"clicked_at" json:"clicked_at,omitempty"`
	BouncedAt       *time.Time `db:"bounced_at" json:"bounced_at,omitempty"`
	ComplainedAt    *time.Time `db:"complained_at" json:"complained_at,omitempty"`
	OpenCount       int        `db:"open_count" json:"open_count"`
	ClickCount      int        `db:"click_count" json:"click_count"`
}
