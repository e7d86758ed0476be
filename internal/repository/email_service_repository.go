package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type EmailServiceRepositoryInterface interface {
	Create(ctx context.Context, workspaceID int64, svc *model.EmailService) error
	GetByID(ctx context.Context, workspaceID, id int64) (*model.EmailService, error)
	// GetByType returns the workspace's first service of type t.
	GetByType(ctx context.Context, workspaceID int64, t model.ServiceType) (*model.EmailService, error)
	Update(ctx context.Context, workspaceID int64, svc *model.EmailService) error
}

type EmailServiceRepository struct {
	DB *sql.DB
}

func scanEmailService(row rowScanner) (*model.EmailService, error) {
	var (
		svc      model.EmailService
		settings []byte
	)
	if err := row.Scan(&svc.ID, &svc.WorkspaceID, &svc.Name, &svc.Type, &settings, &svc.CreatedAt); err != nil {
		return nil, err
	}
	svc.Settings = json.RawMessage(settings)
	return &svc, nil
}

func settingsJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

func (r *EmailServiceRepository) Create(ctx context.Context, workspaceID int64, svc *model.EmailService) error {
	if err := scoped("email_services.create", workspaceID); err != nil {
		return err
	}
	svc.WorkspaceID = workspaceID
	return querier(ctx, r.DB).QueryRowContext(ctx, `
        INSERT INTO email_services (workspace_id, name, type, settings)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at
    `, workspaceID, svc.Name, svc.Type, settingsJSON(svc.Settings)).Scan(&svc.ID, &svc.CreatedAt)
}

func (r *EmailServiceRepository) GetByID(ctx context.Context, workspaceID, id int64) (*model.EmailService, error) {
	if err := scoped("email_services.get", workspaceID); err != nil {
		return nil, err
	}
	svc, err := scanEmailService(querier(ctx, r.DB).QueryRowContext(ctx, `
        SELECT id, workspace_id, name, type, settings, created_at
        FROM email_services WHERE id = $1 AND workspace_id = $2
    `, id, workspaceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewNotFound("email service", id)
	}
	return svc, err
}

func (r *EmailServiceRepository) GetByType(ctx context.Context, workspaceID int64, t model.ServiceType) (*model.EmailService, error) {
	if err := scoped("email_services.get_by_type", workspaceID); err != nil {
		return nil, err
	}
	svc, err := scanEmailService(querier(ctx, r.DB).QueryRowContext(ctx, `
        SELECT id, workspace_id, name, type, settings, created_at
        FROM email_services WHERE workspace_id = $1 AND type = $2
        ORDER BY id LIMIT 1
    `, workspaceID, t))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewNotFound("email service", t)
	}
	return svc, err
}

func (r *EmailServiceRepository) Update(ctx context.Context, workspaceID int64, svc *model.EmailService) error {
	if err := scoped("email_services.update", workspaceID); err != nil {
		return err
	}
	res, err := querier(ctx, r.DB).ExecContext(ctx, `
        UPDATE email_services SET name = $3, settings = $4, updated_at = NOW()
        WHERE id = $1 AND workspace_id = $2
    `, svc.ID, workspaceID, svc.Name, settingsJSON(svc.Settings))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return appErrors.NewNotFound("email service", svc.ID)
	}
	return nil
}

var _ EmailServiceRepositoryInterface = (*EmailServiceRepository)(nil)
