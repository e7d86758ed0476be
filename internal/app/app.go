// Package app wires the repositories, services and queue shared by
// cmd/server and cmd/worker.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/controller"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/handler"
	"github.com/unclebandit/campaign-dispatch/internal/lock"
	"github.com/unclebandit/campaign-dispatch/internal/logx"
	"github.com/unclebandit/campaign-dispatch/internal/mailer"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/quota"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

type App struct {
	Config *config.Config
	DB     *sql.DB
	Redis  *redis.Client
	Queue  queue.Queue

	Campaigns     *service.CampaignService
	Subscribers   *service.SubscriberService
	EmailServices *service.EmailServiceService
	Webhooks      *service.WebhookService
	Engine        *service.DispatchEngine
	Scheduler     *service.Scheduler

	emailServiceRepo *repository.EmailServiceRepository
	closers          []func() error
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: conn}
	a.closers = append(a.closers, conn.Close)

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.Redis = redis.NewClient(opts)
		a.closers = append(a.closers, a.Redis.Close)
	}

	switch cfg.Queue.Driver {
	case config.QueueDriverRabbitMQ:
		mq, err := queue.DialRabbitMQ(cfg.Queue.RabbitMQURL, cfg.Queue.MaxRetries)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Queue = mq
		a.closers = append(a.closers, mq.Close)
	default:
		mem := queue.NewInMemoryQueue()
		mem.MaxRetries = cfg.Queue.MaxRetries
		a.Queue = mem
	}

	campaignRepo := &repository.CampaignRepository{DB: conn}
	subscriberRepo := &repository.SubscriberRepository{DB: conn}
	messageRepo := &repository.MessageRepository{DB: conn}
	a.emailServiceRepo = &repository.EmailServiceRepository{DB: conn}
	eventRepo := &repository.WebhookEventRepository{DB: conn}
	workspaceRepo := &repository.WorkspaceRepository{DB: conn}

	checker := &quota.Service{Usage: messageRepo}

	a.Campaigns = &service.CampaignService{
		CampaignRepo:     campaignRepo,
		SubscriberRepo:   subscriberRepo,
		MessageRepo:      messageRepo,
		EmailServiceRepo: a.emailServiceRepo,
		Quota:            checker,
		Queue:            a.Queue,
	}
	a.Subscribers = &service.SubscriberService{SubscriberRepo: subscriberRepo}
	a.EmailServices = &service.EmailServiceService{EmailServiceRepo: a.emailServiceRepo}
	a.Webhooks = &service.WebhookService{
		Tx:             &repository.Store{DB: conn},
		MessageRepo:    messageRepo,
		SubscriberRepo: subscriberRepo,
		EventRepo:      eventRepo,
	}
	a.Engine = &service.DispatchEngine{
		CampaignRepo:     campaignRepo,
		SubscriberRepo:   subscriberRepo,
		EmailServiceRepo: a.emailServiceRepo,
		Dispatcher:       service.NewMessageDispatcher(messageRepo, cfg.Dispatch.SendTimeout),
		Adapters:         mailer.NewFactory(),
		Quota:            checker,
		Locks:            &lock.Provider{Redis: a.Redis, DB: conn, TTL: cfg.Dispatch.LockTTL},
		Parallelism:      cfg.Dispatch.DefaultParallelism,
		BatchSize:        cfg.Dispatch.BatchSize,
		LockTTL:          cfg.Dispatch.LockTTL,
	}
	a.Scheduler = &service.Scheduler{
		Workspaces:   workspaceRepo,
		CampaignRepo: campaignRepo,
		Queue:        a.Queue,
	}
	return a, nil
}

// StartWorker subscribes the dispatch engine to the queue. ctx bounds every
// dispatch run.
func (a *App) StartWorker(ctx context.Context) error {
	return service.NewWorker(ctx, a.Engine).Start(a.Queue)
}

// Router builds the HTTP handler for cmd/server.
func (a *App) Router() *controller.Router {
	return &controller.Router{
		Campaigns:     &controller.CampaignController{CampaignService: a.Campaigns},
		Subscribers:   &controller.SubscriberController{SubscriberService: a.Subscribers},
		EmailServices: &controller.EmailServiceController{EmailServices: a.EmailServices},
		Webhooks: &handler.WebhookHandler{
			Events:   a.Webhooks,
			Services: a.emailServiceRepo,
		},
		AllowedOrigins: a.Config.HTTP.CORSAllowedOrigins,
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logx.L().Warnw("close_failed", "error", err)
		}
	}
}
