package service

import (
	"context"
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/logx"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// WorkspaceLister enumerates tenants for the sweep.
type WorkspaceLister interface {
	ListIDs(ctx context.Context) ([]int64, error)
}

// Scheduler republishes dispatch requests for queued campaigns that are due
// and for sending campaigns whose run stopped early. Engines that find the
// lock held skip the request.
type Scheduler struct {
	Workspaces   WorkspaceLister
	CampaignRepo repository.CampaignRepositoryInterface
	Queue        queue.Queue
	Now          func() time.Time
}

// Sweep publishes one request per eligible campaign and returns how many
// it published. A failing workspace is logged and skipped.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	ids, err := s.Workspaces.ListIDs(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	published := 0
	for _, ws := range ids {
		n, err := s.sweepWorkspace(ctx, ws, now)
		published += n
		if err != nil {
			if ctx.Err() != nil {
				return published, ctx.Err()
			}
			logx.L().Warnw("scheduler_workspace_failed", "workspace_id", ws, "error", err)
		}
	}
	return published, nil
}

func (s *Scheduler) sweepWorkspace(ctx context.Context, workspaceID int64, now time.Time) (int, error) {
	published := 0
	for _, status := range []model.CampaignStatus{model.CampaignStatusQueued, model.CampaignStatusSending} {
		campaigns, err := s.CampaignRepo.ListByStatus(ctx, workspaceID, status)
		if err != nil {
			return published, err
		}
		for _, c := range campaigns {
			if status == model.CampaignStatusQueued && !c.IsDue(now) {
				continue
			}
			err := s.Queue.Publish(queue.TopicCampaignDispatch, queue.DispatchRequested{
				WorkspaceID: workspaceID, CampaignID: c.ID, Mode: queue.DispatchModeRun,
			})
			if err != nil {
				return published, err
			}
			metrics.DispatchRequestsPublished.Inc()
			published++
		}
	}
	return published, nil
}

// Run sweeps every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := s.Sweep(ctx); err != nil {
			logx.L().Warnw("scheduler_sweep_failed", "error", err)
		} else if n > 0 {
			logx.L().Infow("scheduler_sweep", "published", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
