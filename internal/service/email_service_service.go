package service

import (
	"context"
	"encoding/json"
	"strings"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/mailer"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// EmailServiceService stores provider accounts after validating their settings.
type EmailServiceService struct {
	EmailServiceRepo repository.EmailServiceRepositoryInterface
}

type EmailServiceInput struct {
	Name     string            `json:"name"`
	Type     model.ServiceType `json:"type"`
	Settings json.RawMessage   `json:"settings"`
}

func (in EmailServiceInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return appErrors.NewInvalidInput("name is required")
	}
	_, err := mailer.ParseSettings(in.Type, in.Settings)
	return err
}

func (s *EmailServiceService) Create(ctx context.Context, workspaceID int64, in EmailServiceInput) (*model.EmailService, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	svc := &model.EmailService{Name: in.Name, Type: in.Type, Settings: in.Settings}
	if err := s.EmailServiceRepo.Create(ctx, workspaceID, svc); err != nil {
		return nil, err
	}
	return svc, nil
}

// Update replaces name and settings. The provider type is fixed at creation.
func (s *EmailServiceService) Update(ctx context.Context, workspaceID, id int64, in EmailServiceInput) (*model.EmailService, error) {
	svc, err := s.EmailServiceRepo.GetByID(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}
	if in.Type == "" {
		in.Type = svc.Type
	}
	if in.Type != svc.Type {
		return nil, appErrors.NewInvalidInput("type cannot be changed")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	svc.Name, svc.Settings = in.Name, in.Settings
	if err := s.EmailServiceRepo.Update(ctx, workspaceID, svc); err != nil {
		return nil, err
	}
	return svc, nil
}

func (s *EmailServiceService) Get(ctx context.Context, workspaceID, id int64) (*model.EmailService, error) {
	return s.EmailServiceRepo.GetByID(ctx, workspaceID, id)
}
