package controller

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type SubscriptionSetter interface {
	SetSubscription(ctx context.Context, workspaceID int64, email string, subscribed bool) (*model.Subscriber, error)
}

type SubscriberController struct {
	SubscriberService SubscriptionSetter
}

func (c *SubscriberController) Routes(r chi.Router) {
	r.Put("/subscribers/subscription", c.SetSubscription)
}

func (c *SubscriberController) SetSubscription(w http.ResponseWriter, r *http.Request) {
	ws, _, ok := scope(w, r, "")
	if !ok {
		return
	}
	var body struct {
		Email      string `json:"email"`
		Subscribed bool   `json:"subscribed"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	sub, err := c.SubscriberService.SetSubscription(r.Context(), ws, body.Email, body.Subscribed)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
