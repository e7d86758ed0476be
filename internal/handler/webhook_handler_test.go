package handler_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/handler"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type recordingApplier struct {
	err       error
	workspace int64
	events    []model.DeliveryEvent
}

func (a *recordingApplier) ApplyAll(_ context.Context, ws int64, events []model.DeliveryEvent) error {
	a.workspace = ws
	a.events = append(a.events, events...)
	return a.err
}

type services map[model.ServiceType]*model.EmailService

func (s services) GetByType(_ context.Context, ws int64, t model.ServiceType) (*model.EmailService, error) {
	if svc, ok := s[t]; ok {
		return svc, nil
	}
	return nil, appErrors.NewNotFound("email service", t)
}

func post(h *handler.WebhookHandler, path, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Method(http.MethodPost, "/webhooks/{workspaceID}/{provider}", h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return w
}

func TestPostmarkBounce(t *testing.T) {
	a := &recordingApplier{}
	h := &handler.WebhookHandler{Events: a, Services: services{}}

	w := post(h, "/webhooks/7/postmark", `{"RecordType":"Bounce","Type":"HardBounce","MessageID":"pm-1","BouncedAt":"2024-05-01T10:00:00Z"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 7, a.workspace)
	require.Len(t, a.events, 1)
	assert.Equal(t, model.EventBounce, a.events[0].Kind)
	assert.Equal(t, "pm-1", a.events[0].MessageID)
}

func TestRejectsUnknownProviderAndWorkspace(t *testing.T) {
	h := &handler.WebhookHandler{Events: &recordingApplier{}}
	assert.Equal(t, http.StatusNotFound, post(h, "/webhooks/7/sparkpost", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, post(h, "/webhooks/0/postmark", `{}`).Code)
}

func TestMalformedPayload(t *testing.T) {
	a := &recordingApplier{}
	h := &handler.WebhookHandler{Events: a}
	assert.Equal(t, http.StatusBadRequest, post(h, "/webhooks/7/sendgrid", `{not json`).Code)
	assert.Empty(t, a.events)
}

func TestStorageFailureAsksForRedelivery(t *testing.T) {
	h := &handler.WebhookHandler{Events: &recordingApplier{err: errors.New("db down")}}
	w := post(h, "/webhooks/7/postmark", `{"RecordType":"Open","MessageID":"pm-1","ReceivedAt":"2024-05-01T10:00:00Z"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func mailgunBody(key, token string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte("1714557600" + token))
	return fmt.Sprintf(`{"signature":{"timestamp":"1714557600","token":"%s","signature":"%s"},`+
		`"event-data":{"event":"opened","timestamp":1714557600,"message":{"headers":{"message-id":"<m1@mg>"}}}}`,
		token, hex.EncodeToString(mac.Sum(nil)))
}

func TestMailgunSignature(t *testing.T) {
	svcs := services{model.ServiceMailgun: {
		Type:     model.ServiceMailgun,
		Settings: []byte(`{"key":"k","domain":"mg.example.com","webhook_signing_key":"sign"}`),
	}}

	a := &recordingApplier{}
	h := &handler.WebhookHandler{Events: a, Services: svcs}
	assert.Equal(t, http.StatusUnauthorized, post(h, "/webhooks/7/mailgun", mailgunBody("wrong", "tok")).Code)
	assert.Empty(t, a.events)

	w := post(h, "/webhooks/7/mailgun", mailgunBody("sign", "tok"))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, a.events, 1)
	assert.Equal(t, "m1@mg", a.events[0].MessageID)
}

func TestMailgunWithoutSigningKey(t *testing.T) {
	a := &recordingApplier{}
	h := &handler.WebhookHandler{Events: a, Services: services{}}
	assert.Equal(t, http.StatusOK, post(h, "/webhooks/7/mailgun", mailgunBody("any", "tok")).Code)
}

func TestSNSSubscriptionConfirmation(t *testing.T) {
	confirmed := make(chan string, 1)
	aws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		confirmed <- r.URL.Query().Get("Token")
	}))
	defer aws.Close()

	a := &recordingApplier{}
	h := &handler.WebhookHandler{
		Events:            a,
		HTTPClient:        aws.Client(),
		TrustSubscribeURL: func(*url.URL) bool { return true },
	}
	body := fmt.Sprintf(`{"Type":"SubscriptionConfirmation","MessageId":"x","SubscribeURL":"%s/confirm?Token=abc"}`, aws.URL)

	w := post(h, "/webhooks/7/ses", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc", <-confirmed)
	assert.Empty(t, a.events)
}

func TestSNSSubscriptionConfirmation_UntrustedHost(t *testing.T) {
	h := &handler.WebhookHandler{Events: &recordingApplier{}}
	body := `{"Type":"SubscriptionConfirmation","MessageId":"x","SubscribeURL":"http://attacker.test/confirm"}`
	assert.Equal(t, http.StatusBadGateway, post(h, "/webhooks/7/ses", body).Code)
}
