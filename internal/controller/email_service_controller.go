package controller

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

type EmailServiceManager interface {
	Create(ctx context.Context, workspaceID int64, in service.EmailServiceInput) (*model.EmailService, error)
	Update(ctx context.Context, workspaceID, id int64, in service.EmailServiceInput) (*model.EmailService, error)
	Get(ctx context.Context, workspaceID, id int64) (*model.EmailService, error)
}

// EmailServiceController manages provider accounts. Settings are write-only
// and never returned.
type EmailServiceController struct {
	EmailServices EmailServiceManager
}

func (c *EmailServiceController) Routes(r chi.Router) {
	r.Post("/email-services", c.Create)
	r.Get("/email-services/{id}", c.Get)
	r.Put("/email-services/{id}", c.Update)
}

func (c *EmailServiceController) Create(w http.ResponseWriter, r *http.Request) {
	ws, _, ok := scope(w, r, "")
	if !ok {
		return
	}
	var body service.EmailServiceInput
	if !decodeJSON(w, r, &body) {
		return
	}
	svc, err := c.EmailServices.Create(r.Context(), ws, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, svc)
}

func (c *EmailServiceController) Get(w http.ResponseWriter, r *http.Request) {
	ws, id, ok := scope(w, r, "id")
	if !ok {
		return
	}
	svc, err := c.EmailServices.Get(r.Context(), ws, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (c *EmailServiceController) Update(w http.ResponseWriter, r *http.Request) {
	ws, id, ok := scope(w, r, "id")
	if !ok {
		return
	}
	var body service.EmailServiceInput
	if !decodeJSON(w, r, &body) {
		return
	}
	svc, err := c.EmailServices.Update(r.Context(), ws, id, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}
