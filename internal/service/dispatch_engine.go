package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/lock"
	"github.com/unclebandit/campaign-dispatch/internal/logx"
	"github.com/unclebandit/campaign-dispatch/internal/mailer"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/quota"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

const (
	defaultParallelism = 10
	defaultBatchSize   = 500
	defaultLockTTL     = 2 * time.Minute
)

// AdapterFactory builds the mail adapter for a workspace's email service.
type AdapterFactory interface {
	New(ctx context.Context, svc *model.EmailService) (mailer.Adapter, error)
}

// LockProvider hands out the per-campaign dispatch lock.
type LockProvider interface {
	For(key string) lock.Lock
}

// StageResult tells the driver whether to run the next stage.
type StageResult int

const (
	Continue StageResult = iota
	Halt
)

// Stage is one step of the dispatch pipeline.
type Stage struct {
	Name string
	Run  func(ctx context.Context, run *DispatchRun) (StageResult, error)
}

// DispatchRun carries state between stages of one pipeline execution.
type DispatchRun struct {
	WorkspaceID int64
	CampaignID  int64
	Mode        queue.DispatchMode

	Campaign *model.Campaign
	Service  *model.EmailService
	Adapter  mailer.Adapter

	Sent   int64
	Failed int64
	// HaltedAt names the stage that stopped the run, empty when it completed.
	HaltedAt string
}

// DispatchEngine drives a campaign from queued to sent. Only one engine
// holds a campaign's lock at a time, and each subscriber is sent at most
// one message per campaign.
type DispatchEngine struct {
	CampaignRepo     repository.CampaignRepositoryInterface
	SubscriberRepo   repository.SubscriberRepositoryInterface
	EmailServiceRepo repository.EmailServiceRepositoryInterface
	Dispatcher       *MessageDispatcher
	Adapters         AdapterFactory
	Quota            quota.Checker
	Locks            LockProvider

	Parallelism int
	BatchSize   int
	LockTTL     time.Duration
	Now         func() time.Time
}

// Stages returns the pipeline for mode.
func (e *DispatchEngine) Stages(mode queue.DispatchMode) []Stage {
	if mode == queue.DispatchModeRetry {
		return []Stage{
			{Name: "require-sent", Run: e.requireSent},
			{Name: "fan-out", Run: e.fanOut},
			{Name: "refresh-counts", Run: e.refreshCounts},
		}
	}
	return []Stage{
		{Name: "schedule-gate", Run: e.scheduleGate},
		{Name: "mark-sending", Run: e.markSending},
		{Name: "fan-out", Run: e.fanOut},
		{Name: "mark-sent", Run: e.markSent},
	}
}

// Dispatch runs the pipeline for one campaign. It returns
// appErrors.ErrDispatchInProgress when another holder owns the lock, and an
// error wrapping lock.ErrNotOwner when the lock was lost mid-run.
func (e *DispatchEngine) Dispatch(ctx context.Context, workspaceID, campaignID int64, mode queue.DispatchMode) (*DispatchRun, error) {
	l := e.Locks.For(lock.CampaignKey(workspaceID, campaignID))
	ok, err := l.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire dispatch lock: %w", err)
	}
	if !ok {
		metrics.DispatchRuns.WithLabelValues("in_progress").Inc()
		return nil, appErrors.ErrDispatchInProgress
	}
	// A lost lock cancels the run.
	ctx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)
	stop := lock.KeepAlive(ctx, l, e.lockTTL(), cancelRun)
	defer func() {
		stop()
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			logx.L().Warnw("dispatch_lock_release_failed",
				"workspace_id", workspaceID, "campaign_id", campaignID, "error", err)
		}
	}()

	run := &DispatchRun{WorkspaceID: workspaceID, CampaignID: campaignID, Mode: mode}
	if err := e.load(ctx, run); err != nil {
		metrics.DispatchRuns.WithLabelValues("error").Inc()
		return run, err
	}

	for _, stage := range e.Stages(mode) {
		res, err := stage.Run(ctx, run)
		if lost := context.Cause(ctx); errors.Is(lost, lock.ErrNotOwner) {
			run.HaltedAt = stage.Name
			metrics.DispatchRuns.WithLabelValues("lock_lost").Inc()
			logx.L().Errorw("dispatch_lock_lost",
				"workspace_id", workspaceID, "campaign_id", campaignID, "stage", stage.Name,
				"sent", run.Sent, "failed", run.Failed)
			return run, fmt.Errorf("dispatch campaign %d: %w", campaignID, lost)
		}
		if err != nil {
			metrics.DispatchRuns.WithLabelValues("error").Inc()
			logx.L().Errorw("dispatch_stage_failed",
				"workspace_id", workspaceID, "campaign_id", campaignID, "stage", stage.Name, "error", err)
			return run, err
		}
		if res == Halt {
			run.HaltedAt = stage.Name
			metrics.DispatchRuns.WithLabelValues("halted").Inc()
			logx.L().Infow("dispatch_halted",
				"workspace_id", workspaceID, "campaign_id", campaignID, "stage", stage.Name,
				"sent", run.Sent, "failed", run.Failed)
			return run, nil
		}
	}

	metrics.DispatchRuns.WithLabelValues("completed").Inc()
	logx.L().Infow("dispatch_completed",
		"workspace_id", workspaceID, "campaign_id", campaignID, "mode", mode,
		"sent", run.Sent, "failed", run.Failed)
	return run, nil
}

func (e *DispatchEngine) load(ctx context.Context, run *DispatchRun) error {
	c, err := e.CampaignRepo.GetByID(ctx, run.WorkspaceID, run.CampaignID)
	if err != nil {
		return err
	}
	svc, err := e.EmailServiceRepo.GetByID(ctx, run.WorkspaceID, c.EmailServiceID)
	if err != nil {
		return err
	}
	adapter, err := e.Adapters.New(ctx, svc)
	if err != nil {
		return err
	}
	run.Campaign, run.Service, run.Adapter = c, svc, adapter
	return nil
}

// scheduleGate holds back queued campaigns whose scheduled time is ahead.
// A campaign already sending is resumed regardless.
func (e *DispatchEngine) scheduleGate(_ context.Context, run *DispatchRun) (StageResult, error) {
	c := run.Campaign
	if c.Status == model.CampaignStatusQueued && !c.IsDue(e.now()) {
		return Halt, nil
	}
	return Continue, nil
}

func (e *DispatchEngine) markSending(ctx context.Context, run *DispatchRun) (StageResult, error) {
	c := run.Campaign
	switch c.Status {
	case model.CampaignStatusSending:
		return Continue, nil
	case model.CampaignStatusSent:
		// Redelivered request for a finished campaign.
		return Halt, nil
	case model.CampaignStatusQueued:
	default:
		return Halt, appErrors.NewInvalidStateTransition(c.ID, string(c.Status), string(model.CampaignStatusSending))
	}

	moved, err := e.CampaignRepo.TransitionStatus(ctx, run.WorkspaceID, c.ID, model.CampaignStatusQueued, model.CampaignStatusSending)
	if err != nil {
		return Halt, err
	}
	if moved {
		c.Status = model.CampaignStatusSending
		return Continue, nil
	}

	current, err := e.CampaignRepo.GetByID(ctx, run.WorkspaceID, c.ID)
	if err != nil {
		return Halt, err
	}
	run.Campaign = current
	if current.Status == model.CampaignStatusSending {
		return Continue, nil
	}
	return Halt, nil
}

func (e *DispatchEngine) requireSent(_ context.Context, run *DispatchRun) (StageResult, error) {
	c := run.Campaign
	if c.Status != model.CampaignStatusSent {
		return Halt, appErrors.NewInvalidStateTransition(c.ID, string(c.Status), "")
	}
	return Continue, nil
}

// fanOut walks the campaign's pending recipients in id order and sends to
// each one through the dispatcher, at most parallelism at a time. It stops
// scheduling on cancellation or when the provider quota runs out, leaving
// the remaining recipients for a later run.
func (e *DispatchEngine) fanOut(ctx context.Context, run *DispatchRun) (StageResult, error) {
	parallelism := e.parallelism(run.Service)
	batchSize := e.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	provider := run.Service.Type

	var sent, failed atomic.Int64
	defer func() {
		run.Sent += sent.Load()
		run.Failed += failed.Load()
	}()

	var afterID int64
	for {
		if ctx.Err() != nil {
			return Halt, nil
		}
		batch, err := e.SubscriberRepo.ListPendingRecipients(ctx, run.WorkspaceID, run.Campaign, afterID, batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return Halt, nil
			}
			return Halt, err
		}
		if len(batch) == 0 {
			return Continue, nil
		}
		if e.Quota.ExceedsQuota(ctx, run.Service, len(batch)) {
			metrics.QuotaRejections.WithLabelValues(string(provider)).Inc()
			logx.L().Warnw("dispatch_quota_exhausted",
				"workspace_id", run.WorkspaceID, "campaign_id", run.CampaignID, "batch", len(batch))
			return Halt, nil
		}

		var g errgroup.Group
		g.SetLimit(parallelism)
		for _, sub := range batch {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if err := e.Dispatcher.Dispatch(ctx, run.Adapter, provider, run.Campaign, sub); err != nil {
					failed.Add(1)
					return nil
				}
				sent.Add(1)
				return nil
			})
		}
		_ = g.Wait()

		afterID = batch[len(batch)-1].ID
		if len(batch) < batchSize {
			if ctx.Err() != nil {
				return Halt, nil
			}
			return Continue, nil
		}
	}
}

func (e *DispatchEngine) markSent(ctx context.Context, run *DispatchRun) (StageResult, error) {
	moved, err := e.CampaignRepo.MarkSent(ctx, run.WorkspaceID, run.CampaignID, int(run.Failed))
	if err != nil {
		return Halt, err
	}
	if !moved {
		return Halt, nil
	}
	run.Campaign.Status = model.CampaignStatusSent
	return Continue, nil
}

func (e *DispatchEngine) refreshCounts(ctx context.Context, run *DispatchRun) (StageResult, error) {
	if err := e.CampaignRepo.RefreshCounts(ctx, run.WorkspaceID, run.CampaignID, int(run.Failed)); err != nil {
		return Halt, err
	}
	return Continue, nil
}

func (e *DispatchEngine) parallelism(svc *model.EmailService) int {
	limits, err := mailer.ServiceLimits(svc)
	if err == nil && limits.Parallelism > 0 {
		return limits.Parallelism
	}
	if e.Parallelism > 0 {
		return e.Parallelism
	}
	return defaultParallelism
}

func (e *DispatchEngine) lockTTL() time.Duration {
	if e.LockTTL > 0 {
		return e.LockTTL
	}
	return defaultLockTTL
}

func (e *DispatchEngine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// IsBenign reports errors a dispatch consumer acknowledges without retrying.
func IsBenign(err error) bool {
	var ist *appErrors.ErrInvalidStateTransition
	return errors.Is(err, appErrors.ErrDispatchInProgress) || errors.Is(err, lock.ErrNotOwner) ||
		IsNotFound(err) || errors.As(err, &ist)
}
