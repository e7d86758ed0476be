package queue

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streadway/amqp"
)

func TestInMemoryQueueDelivers(t *testing.T) {
	q := NewInMemoryQueue()

	got := make(chan DispatchRequested, 1)
	q.Subscribe(TopicCampaignDispatch, func(body []byte) error {
		ev, err := DecodeDispatchRequested(body)
		if err != nil {
			return err
		}
		got <- ev
		return nil
	})

	if err := q.Publish(TopicCampaignDispatch, DispatchRequested{WorkspaceID: 2, CampaignID: 9}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case ev := <-got:
		if ev.WorkspaceID != 2 || ev.CampaignID != 9 || ev.Mode != DispatchModeRun {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never called")
	}
}

func TestInMemoryQueueRetriesThenDrops(t *testing.T) {
	q := NewInMemoryQueue()
	q.Backoff = time.Millisecond

	var calls int32
	q.Subscribe("t", func(body []byte) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("fail")
	})
	q.Publish("t", map[string]int{"a": 1})
	q.Wait()

	if n := atomic.LoadInt32(&calls); n != int32(q.MaxRetries+1) {
		t.Errorf("expected %d attempts, got %d", q.MaxRetries+1, n)
	}
}

func TestInMemoryQueueRecoversOnRetry(t *testing.T) {
	q := NewInMemoryQueue()
	q.Backoff = time.Millisecond

	var calls int32
	q.Subscribe("t", func(body []byte) error {
		if atomic.AddInt32(&calls, 1) < 2 {
			return errors.New("transient")
		}
		return nil
	})
	q.Publish("t", 1)
	q.Wait()

	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	if err := NewInMemoryQueue().Publish("nobody", 1); err == nil {
		t.Errorf("expected error when topic has no subscribers")
	}
}

func TestDecodeDispatchRequestedRejectsUnscoped(t *testing.T) {
	if _, err := DecodeDispatchRequested([]byte(`{"campaign_id":3}`)); err == nil {
		t.Errorf("expected error for missing workspace")
	}
	if _, err := DecodeDispatchRequested([]byte(`not json`)); err == nil {
		t.Errorf("expected error for invalid json")
	}
}

func TestRetryCountHeader(t *testing.T) {
	cases := []struct {
		h    amqp.Table
		want int
	}{
		{nil, 0},
		{amqp.Table{"x-retry-count": int32(2)}, 2},
		{amqp.Table{"x-retry-count": int64(3)}, 3},
		{amqp.Table{"x-retry-count": "x"}, 0},
	}
	for _, tc := range cases {
		if got := RetryCount(tc.h); got != tc.want {
			t.Errorf("RetryCount(%v) = %d, want %d", tc.h, got, tc.want)
		}
	}
}
