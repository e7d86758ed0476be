package service

import (
	"context"

	"github.com/unclebandit/campaign-dispatch/internal/logx"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
)

// Dispatcher is the part of DispatchEngine the worker drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, workspaceID, campaignID int64, mode queue.DispatchMode) (*DispatchRun, error)
}

// Worker consumes dispatch requests from the queue.
type Worker struct {
	Engine Dispatcher
	// Ctx bounds every run; cancelling it stops fan-out scheduling.
	Ctx context.Context
}

func NewWorker(ctx context.Context, engine Dispatcher) *Worker {
	return &Worker{Engine: engine, Ctx: ctx}
}

// Start subscribes the worker to the dispatch topic.
func (w *Worker) Start(q queue.Queue) error {
	return q.Subscribe(queue.TopicCampaignDispatch, w.Handle)
}

// Handle processes one delivery. A returned error asks the queue to retry.
func (w *Worker) Handle(body []byte) error {
	req, err := queue.DecodeDispatchRequested(body)
	if err != nil {
		// Undecodable requests are dropped; retrying cannot fix them.
		logx.L().Errorw("dispatch_request_invalid", "error", err)
		return nil
	}

	ctx := w.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	_, err = w.Engine.Dispatch(ctx, req.WorkspaceID, req.CampaignID, req.Mode)
	if err == nil {
		return nil
	}
	if IsBenign(err) {
		logx.L().Infow("dispatch_request_skipped",
			"workspace_id", req.WorkspaceID, "campaign_id", req.CampaignID, "reason", err)
		return nil
	}
	return err
}
