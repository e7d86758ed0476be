// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched with errors.Is.
var (
	ErrProviderTransport     = errors.New("provider transport error")
	ErrProviderAuth          = errors.New("provider authentication error")
	ErrProviderRejected      = errors.New("provider rejected message")
	ErrMessageIDResolution   = errors.New("unable to resolve message ID")
	ErrUnmatchedWebhookEvent = errors.New("webhook event matches no message")
	ErrDispatchInProgress    = errors.New("campaign dispatch already in progress")
	ErrMalformedWebhook      = errors.New("malformed webhook payload")
	ErrWebhookSignature      = errors.New("webhook signature mismatch")
)

// ErrCampaignNotFound is returned when a campaign is missing from the workspace.
type ErrCampaignNotFound struct {
	WorkspaceID int64
	CampaignID  int64
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found in workspace %d", e.CampaignID, e.WorkspaceID)
}

func NewCampaignNotFound(workspaceID, id int64) error {
	return &ErrCampaignNotFound{WorkspaceID: workspaceID, CampaignID: id}
}

// ErrNotFound covers the other workspace-owned records.
type ErrNotFound struct {
	Resource string
	Key      string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.Key)
}

func NewNotFound(resource string, key any) error {
	return &ErrNotFound{Resource: resource, Key: fmt.Sprint(key)}
}

type ErrQuotaExceeded struct {
	EmailServiceID int64
	Requested      int
}

func (e *ErrQuotaExceeded) Error() string {
	return fmt.Sprintf("the number of subscribers for this campaign (%d) exceeds the quota of email service %d",
		e.Requested, e.EmailServiceID)
}

func NewQuotaExceeded(serviceID int64, requested int) error {
	return &ErrQuotaExceeded{EmailServiceID: serviceID, Requested: requested}
}

type ErrInvalidStateTransition struct {
	CampaignID int64
	From       string
	To         string
}

func (e *ErrInvalidStateTransition) Error() string {
	if e.To == "" {
		return fmt.Sprintf("campaign %d cannot be modified in status %s", e.CampaignID, e.From)
	}
	return fmt.Sprintf("campaign %d cannot move from %s to %s", e.CampaignID, e.From, e.To)
}

func NewInvalidStateTransition(campaignID int64, from, to string) error {
	return &ErrInvalidStateTransition{CampaignID: campaignID, From: from, To: to}
}

// ErrTenantScopeViolation means a data access was attempted without a
// workspace, or across workspaces. No query is issued.
type ErrTenantScopeViolation struct {
	Operation   string
	WorkspaceID int64
}

func (e *ErrTenantScopeViolation) Error() string {
	return fmt.Sprintf("tenant scope violation in %s: workspace %d", e.Operation, e.WorkspaceID)
}

func NewTenantScopeViolation(op string, workspaceID int64) error {
	return &ErrTenantScopeViolation{Operation: op, WorkspaceID: workspaceID}
}

// ErrInvalidSettings lists every problem found in an email service's settings.
type ErrInvalidSettings struct {
	Provider string
	Problems []string
}

func (e *ErrInvalidSettings) Error() string {
	return fmt.Sprintf("invalid %s settings: %s", e.Provider, strings.Join(e.Problems, "; "))
}

func NewInvalidSettings(provider string, problems ...string) error {
	return &ErrInvalidSettings{Provider: provider, Problems: problems}
}

// ErrInvalidInput is a request that failed field validation.
type ErrInvalidInput struct {
	Problems []string
}

func (e *ErrInvalidInput) Error() string {
	return "invalid input: " + strings.Join(e.Problems, "; ")
}

func NewInvalidInput(problems ...string) error {
	return &ErrInvalidInput{Problems: problems}
}

type ProviderErrorKind int

const (
	ProviderTransport ProviderErrorKind = iota
	ProviderAuth
	ProviderRejected
)

// ProviderError wraps a failed adapter call. errors.Is matches it against
// ErrProviderTransport, ErrProviderAuth or ErrProviderRejected by Kind.
type ProviderError struct {
	Provider   string
	StatusCode int
	Kind       ProviderErrorKind
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrProviderTransport:
		return e.Kind == ProviderTransport
	case ErrProviderAuth:
		return e.Kind == ProviderAuth
	case ErrProviderRejected:
		return e.Kind == ProviderRejected
	}
	return false
}

// KindForStatus classifies an HTTP status returned by a provider.
func KindForStatus(status int) ProviderErrorKind {
	switch {
	case status == 401 || status == 403:
		return ProviderAuth
	case status == 429 || status >= 500:
		return ProviderTransport
	}
	return ProviderRejected
}

func NewProviderStatusError(provider string, status int, body string) error {
	return &ProviderError{Provider: provider, StatusCode: status, Kind: KindForStatus(status), Err: errors.New(strings.TrimSpace(body))}
}

func NewProviderTransportError(provider string, err error) error {
	return &ProviderError{Provider: provider, Kind: ProviderTransport, Err: err}
}

func NewMessageIDResolution(provider string) error {
	return fmt.Errorf("%s: %w", provider, ErrMessageIDResolution)
}
