// cmd/seeder/main.go
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/logx"
	"github.com/unclebandit/campaign-dispatch/internal/mailer"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

var demoSubscribers = []struct {
	email, first, last string
	tags               []int64
}{
	{"alice@example.com", "Alice", "Smith", []int64{1}},
	{"bob@example.com", "Bob", "Jones", []int64{1, 2}},
	{"carol@example.com", "Carol", "Njeri", []int64{2}},
	{"dan@example.com", "Dan", "Otieno", nil},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logx.L().Fatalw("config_load_failed", "error", err)
	}
	logx.Init(cfg.LogLevel)
	defer logx.Sync()

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		logx.L().Fatalw("db_open_failed", "error", err)
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		logx.L().Fatalw("migrate_failed", "error", err)
	}
	logx.L().Infow("schema_applied")

	if os.Getenv("SEED_SKIP_DEMO") != "" {
		return
	}
	if err := seed(ctx, conn); err != nil {
		logx.L().Fatalw("seed_failed", "error", err)
	}
	logx.L().Infow("seed_completed")
}

// seed creates one demo workspace with a provider account, tagged
// subscribers and a draft campaign, all in one transaction.
func seed(ctx context.Context, conn *sql.DB) error {
	store := &repository.Store{DB: conn}
	workspaces := &repository.WorkspaceRepository{DB: conn}
	services := &repository.EmailServiceRepository{DB: conn}
	subscribers := &repository.SubscriberRepository{DB: conn}
	campaigns := &repository.CampaignRepository{DB: conn}

	provider := model.ServiceType(envOr("SEED_PROVIDER", string(model.ServicePostmark)))
	settings := json.RawMessage(envOr("SEED_PROVIDER_SETTINGS", `{"key":"demo-server-token"}`))
	if _, err := mailer.ParseSettings(provider, settings); err != nil {
		return err
	}

	return store.WithTx(ctx, func(ctx context.Context) error {
		ws := &model.Workspace{Name: "Demo workspace"}
		if err := workspaces.Create(ctx, ws); err != nil {
			return fmt.Errorf("create workspace: %w", err)
		}

		svc := &model.EmailService{Name: "Demo " + string(provider), Type: provider, Settings: settings}
		if err := services.Create(ctx, ws.ID, svc); err != nil {
			return fmt.Errorf("create email service: %w", err)
		}

		for _, s := range demoSubscribers {
			sub := &model.Subscriber{Email: s.email, FirstName: s.first, LastName: s.last}
			if err := subscribers.Create(ctx, ws.ID, sub, s.tags); err != nil {
				return fmt.Errorf("create subscriber %s: %w", s.email, err)
			}
		}

		c := &model.Campaign{
			Name:            "Welcome",
			Subject:         "Welcome aboard",
			Content:         "<p>Thanks for subscribing.</p>",
			FromName:        "Demo",
			FromEmail:       "hello@example.com",
			EmailServiceID:  svc.ID,
			Status:          model.CampaignStatusDraft,
			IsOpenTracking:  true,
			IsClickTracking: true,
			TagIDs:          []int64{1},
		}
		if err := campaigns.Create(ctx, ws.ID, c); err != nil {
			return fmt.Errorf("create campaign: %w", err)
		}
		logx.L().Infow("seeded", "workspace_id", ws.ID, "email_service_id", svc.ID, "campaign_id", c.ID,
			"subscribers", len(demoSubscribers))
		return nil
	})
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
