// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

// CampaignManager is the campaign surface the controller serves.
type CampaignManager interface {
	CreateCampaign(ctx context.Context, workspaceID int64, in service.CampaignInput) (*model.Campaign, error)
	UpdateCampaign(ctx context.Context, workspaceID, id int64, in service.CampaignInput) (*model.Campaign, error)
	DeleteCampaign(ctx context.Context, workspaceID, id int64) error
	QueueCampaign(ctx context.Context, workspaceID, id int64) (*model.Campaign, error)
	RetryFailed(ctx context.Context, workspaceID, id int64) (*model.Campaign, error)
	GetCampaignDetailsWithStats(ctx context.Context, workspaceID, id int64) (*model.CampaignDetails, error)
}

type CampaignController struct {
	CampaignService CampaignManager
}

func (c *CampaignController) Routes(r chi.Router) {
	r.Post("/campaigns", c.CreateCampaign)
	r.Get("/campaigns/{id}", c.GetCampaignDetails)
	r.Put("/campaigns/{id}", c.UpdateCampaign)
	r.Delete("/campaigns/{id}", c.DeleteCampaign)
	r.Post("/campaigns/{id}/queue", c.QueueCampaign)
	r.Post("/campaigns/{id}/retry", c.RetryFailed)
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	ws, _, ok := scope(w, r, "")
	if !ok {
		return
	}
	var body service.CampaignInput
	if !decodeJSON(w, r, &body) {
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), ws, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	ws, id, ok := scope(w, r, "id")
	if !ok {
		return
	}
	details, err := c.CampaignService.GetCampaignDetailsWithStats(r.Context(), ws, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (c *CampaignController) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	ws, id, ok := scope(w, r, "id")
	if !ok {
		return
	}
	var body service.CampaignInput
	if !decodeJSON(w, r, &body) {
		return
	}

	campaign, err := c.CampaignService.UpdateCampaign(r.Context(), ws, id, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	ws, id, ok := scope(w, r, "id")
	if !ok {
		return
	}
	if err := c.CampaignService.DeleteCampaign(r.Context(), ws, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// QueueCampaign starts sending a draft. The response is 202: delivery
// happens on the dispatch worker.
func (c *CampaignController) QueueCampaign(w http.ResponseWriter, r *http.Request) {
	ws, id, ok := scope(w, r, "id")
	if !ok {
		return
	}
	campaign, err := c.CampaignService.QueueCampaign(r.Context(), ws, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"campaign_id": campaign.ID,
		"status":      campaign.Status,
	})
}

func (c *CampaignController) RetryFailed(w http.ResponseWriter, r *http.Request) {
	ws, id, ok := scope(w, r, "id")
	if !ok {
		return
	}
	campaign, err := c.CampaignService.RetryFailed(r.Context(), ws, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"campaign_id": campaign.ID,
		"status":      campaign.Status,
	})
}
