package queue

import (
	"encoding/json"
	"fmt"
)

const TopicCampaignDispatch = "campaign_dispatch"

type DispatchMode string

const (
	// DispatchModeRun drives a queued or sending campaign through the pipeline.
	DispatchModeRun DispatchMode = "run"
	// DispatchModeRetry re-sends to recipients of a sent campaign that have no message.
	DispatchModeRetry DispatchMode = "retry"
)

// DispatchRequested asks a worker to run a campaign's dispatch pipeline.
type DispatchRequested struct {
	WorkspaceID int64        `json:"workspace_id"`
	CampaignID  int64        `json:"campaign_id"`
	Mode        DispatchMode `json:"mode"`
}

func DecodeDispatchRequested(body []byte) (DispatchRequested, error) {
	var ev DispatchRequested
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("decode dispatch request: %w", err)
	}
	if ev.WorkspaceID <= 0 || ev.CampaignID <= 0 {
		return ev, fmt.Errorf("dispatch request missing workspace or campaign: %s", body)
	}
	if ev.Mode == "" {
		ev.Mode = DispatchModeRun
	}
	return ev, nil
}
