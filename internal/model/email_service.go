package model

import (
	"encoding/json"
	"time"
)

type ServiceType string

const (
	ServiceSES      ServiceType = "ses"
	ServiceMailgun  ServiceType = "mailgun"
	ServicePostmark ServiceType = "postmark"
	ServicePostal   ServiceType = "postal"
	ServiceSendGrid ServiceType = "sendgrid"
	ServiceResend   ServiceType = "resend"
)

var ServiceTypes = []ServiceType{
	ServiceSES, ServiceMailgun, ServicePostmark, ServicePostal, ServiceSendGrid, ServiceResend,
}

func (t ServiceType) Valid() bool {
	for _, s := range ServiceTypes {
		if s == t {
			return true
		}
	}
	return false
}

// EmailService is a workspace's configured provider account. Settings holds
// the raw JSON; mailer.ParseSettings turns it into a typed variant.
type EmailService struct {
	ID          int64           `db:"id" json:"id"`
	WorkspaceID int64           `db:"workspace_id" json:"workspace_id"`
	Name        string          `db:"name" json:"name"`
	Type        ServiceType     `db:"type" json:"type"`
	Settings    json.RawMessage `db:"settings" json:"-"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}
