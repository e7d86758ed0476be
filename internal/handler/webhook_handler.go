// internal/handler/webhook_handler.go
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logx"
	"github.com/unclebandit/campaign-dispatch/internal/mailer"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/webhook"
)

const maxWebhookBytes = 5 << 20

// EventApplier stores normalized delivery events.
type EventApplier interface {
	ApplyAll(ctx context.Context, workspaceID int64, events []model.DeliveryEvent) error
}

// ServiceLookup finds a workspace's account for a provider.
type ServiceLookup interface {
	GetByType(ctx context.Context, workspaceID int64, t model.ServiceType) (*model.EmailService, error)
}

// WebhookHandler receives provider callbacks at
// /webhooks/{workspaceID}/{provider}. Providers retry on non-2xx, so only
// malformed or unauthenticated requests and storage failures are refused.
type WebhookHandler struct {
	Events     EventApplier
	Services   ServiceLookup
	HTTPClient *http.Client
	// TrustSubscribeURL decides which SNS SubscribeURLs are followed.
	// Defaults to https hosts under amazonaws.com.
	TrustSubscribeURL func(*url.URL) bool
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := strconv.ParseInt(chi.URLParam(r, "workspaceID"), 10, 64)
	if err != nil || ws <= 0 {
		http.Error(w, "invalid workspace", http.StatusNotFound)
		return
	}
	provider := model.ServiceType(strings.ToLower(chi.URLParam(r, "provider")))
	normalize, ok := webhook.For(provider)
	if !ok {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	if provider == model.ServiceMailgun {
		if err := h.verifyMailgun(r.Context(), ws, body); err != nil {
			logx.L().Warnw("webhook_rejected", "workspace_id", ws, "provider", provider, "error", err)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	res, err := normalize(body)
	if err != nil {
		logx.L().Warnw("webhook_malformed", "workspace_id", ws, "provider", provider, "error", err)
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	if res.SubscribeURL != "" {
		if err := h.confirmSubscription(r.Context(), res.SubscribeURL); err != nil {
			logx.L().Errorw("sns_subscription_confirm_failed", "workspace_id", ws, "error", err)
			http.Error(w, "subscription confirmation failed", http.StatusBadGateway)
			return
		}
		logx.L().Infow("sns_subscription_confirmed", "workspace_id", ws)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.Events.ApplyAll(r.Context(), ws, res.Events); err != nil {
		var scope *appErrors.ErrTenantScopeViolation
		if errors.As(err, &scope) {
			http.Error(w, "invalid workspace", http.StatusNotFound)
			return
		}
		logx.L().Errorw("webhook_apply_failed", "workspace_id", ws, "provider", provider, "error", err)
		http.Error(w, "temporarily unavailable", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// verifyMailgun checks the payload signature when the workspace's Mailgun
// account has a webhook signing key.
func (h *WebhookHandler) verifyMailgun(ctx context.Context, ws int64, body []byte) error {
	if h.Services == nil {
		return nil
	}
	svc, err := h.Services.GetByType(ctx, ws, model.ServiceMailgun)
	if err != nil {
		var nf *appErrors.ErrNotFound
		if errors.As(err, &nf) {
			return nil
		}
		return err
	}
	settings, err := mailer.ParseSettings(svc.Type, svc.Settings)
	if err != nil {
		return err
	}
	mg, ok := settings.(*mailer.MailgunSettings)
	if !ok || mg.WebhookSigningKey == "" {
		return nil
	}
	return webhook.VerifyMailgunSignature(mg.WebhookSigningKey, body)
}

func awsSubscribeURL(u *url.URL) bool {
	return u.Scheme == "https" && strings.HasSuffix(u.Hostname(), ".amazonaws.com")
}

func (h *WebhookHandler) confirmSubscription(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	trust := h.TrustSubscribeURL
	if trust == nil {
		trust = awsSubscribeURL
	}
	if !trust(u) {
		return fmt.Errorf("refusing subscribe url host %q", u.Host)
	}
	return h.get(ctx, u.String())
}

func (h *WebhookHandler) get(ctx context.Context, target string) error {
	client := h.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("subscribe url returned %d", resp.StatusCode)
	}
	return nil
}
