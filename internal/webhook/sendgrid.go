package webhook

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type sendGridEvent struct {
	Event       string `json:"event"`
	Type        string `json:"type"`
	Timestamp   int64  `json:"timestamp"`
	SGMessageID string `json:"sg_message_id"`
	URL         string `json:"url"`
}

var sendGridKinds = map[string]model.EventKind{
	"delivered":  model.EventDelivered,
	"open":       model.EventOpen,
	"click":      model.EventClick,
	"bounce":     model.EventBounce,
	"spamreport": model.EventComplaint,
}

// NormalizeSendGrid handles the batched event array. sg_message_id is the
// X-Message-Id returned on send plus a ".filter..." suffix.
func NormalizeSendGrid(body []byte) (Result, error) {
	var batch []sendGridEvent
	if err := json.Unmarshal(body, &batch); err != nil {
		return Result{}, malformed("sendgrid", err)
	}

	var res Result
	for _, e := range batch {
		kind, ok := sendGridKinds[e.Event]
		if !ok || e.SGMessageID == "" {
			continue
		}
		if kind == model.EventBounce && e.Type == "blocked" {
			continue
		}
		id, _, _ := strings.Cut(e.SGMessageID, ".")

		var meta map[string]string
		if e.URL != "" {
			meta = map[string]string{"url": e.URL}
		}
		var at time.Time
		if e.Timestamp > 0 {
			at = time.Unix(e.Timestamp, 0)
		}
		res.Events = append(res.Events, event(model.ServiceSendGrid, kind, id, at, meta))
	}
	return res, nil
}
