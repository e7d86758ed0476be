// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
	CampaignStatusDraft   CampaignStatus = "draft"
	CampaignStatusQueued  CampaignStatus = "queued"
	CampaignStatusSending CampaignStatus = "sending"
	CampaignStatusSent    CampaignStatus = "sent"
)

// nextStatus holds the only forward edge out of each state.
var nextStatus = map[CampaignStatus]CampaignStatus{
	CampaignStatusDraft:   CampaignStatusQueued,
	CampaignStatusQueued:  CampaignStatusSending,
	CampaignStatusSending: CampaignStatusSent,
}

// CanTransition reports whether from -> to is a legal single step.
func CanTransition(from, to CampaignStatus) bool {
	next, ok := nextStatus[from]
	return ok && next == to
}

func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusQueued, CampaignStatusSending, CampaignStatusSent:
		return true
	}
	return false
}

type Campaign struct {
	ID              int64          `db:"id" json:"id"`
	WorkspaceID     int64          `db:"workspace_id" json:"workspace_id"`
	Name            string         `db:"name" json:"name"`
	Subject         string         `db:"subject" json:"subject"`
	Content         string         `db:"content" json:"content"`
	FromName        string         `db:"from_name" json:"from_name"`
	FromEmail       string         `db:"from_email" json:"from_email"`
	EmailServiceID  int64          `db:"email_service_id" json:"email_service_id"`
	Status          CampaignStatus `db:"status" json:"status"`
	IsOpenTracking  bool           `db:"is_open_tracking" json:"is_open_tracking"`
	IsClickTracking bool           `db:"is_click_tracking" json:"is_click_tracking"`
	SendToAll       bool           `db:"send_to_all" json:"send_to_all"`
	TagIDs          []int64        `db:"tag_ids" json:"tag_ids"`
	SentCount       int            `db:"sent_count" json:"sent_count"`
	FailedCount     int            `db:"failed_count" json:"failed_count"`
	ScheduledAt     *time.Time     `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

func (c *Campaign) IsDraft() bool { return c.Status == CampaignStatusDraft }

// IsDue reports whether a scheduled campaign may start at now.
func (c *Campaign) IsDue(now time.Time) bool {
	return c.ScheduledAt == nil || !c.ScheduledAt.After(now)
}

func (c *Campaign) Tracking() MessageTrackingOptions {
	return MessageTrackingOptions{Open: c.IsOpenTracking, Click: c.IsClickTracking}
}

// CampaignStats is the per-campaign roll-up read from the messages table.
type CampaignStats struct {
	Sent       int `json:"sent"`
	Delivered  int `json:"delivered"`
	Opened     int `json:"opened"`
	Clicked    int `json:"clicked"`
	Bounced    int `json:"bounced"`
	Complained int `json:"complained"`
}

type CampaignDetails struct {
	Campaign *Campaign     `json:"campaign"`
	Stats    CampaignStats `json:"stats"`
	Unsent   int           `json:"unsent_count"`
}
