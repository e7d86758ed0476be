package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/lock"
	"github.com/unclebandit/campaign-dispatch/internal/mailer"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

type engineFixture struct {
	db      *memDB
	adapter *fakeAdapter
	locks   *fakeLocks
	quota   *fakeQuota
	engine  *service.DispatchEngine
}

func newEngineFixture() *engineFixture {
	db := newMemDB()
	f := &engineFixture{db: db, adapter: newFakeAdapter(), locks: newFakeLocks(), quota: &fakeQuota{remaining: 1000}}
	f.engine = &service.DispatchEngine{
		CampaignRepo:     &fakeCampaignRepo{db},
		SubscriberRepo:   &fakeSubscriberRepo{db},
		EmailServiceRepo: &fakeEmailServiceRepo{db},
		Dispatcher:       service.NewMessageDispatcher(&fakeMessageRepo{db}, time.Second),
		Adapters:         fakeFactory{f.adapter},
		Quota:            f.quota,
		Locks:            f.locks,
		Parallelism:      2,
		BatchSize:        2,
	}
	return f
}

func TestDispatch_PartialFailureThenRetry(t *testing.T) {
	f := newEngineFixture()
	svc := f.db.addService(ws, model.ServiceMailgun, `{}`)
	f.db.addSubscribers(ws, "a@example.com", "b@example.com", "c@example.com")
	c := f.db.addCampaign(ws, svc, model.CampaignStatusQueued)
	f.adapter.fail["b@example.com"] = appErrors.NewProviderTransportError("mailgun", context.DeadlineExceeded)

	run, err := f.engine.Dispatch(context.Background(), ws, c.ID, queue.DispatchModeRun)
	require.NoError(t, err)
	assert.Empty(t, run.HaltedAt)
	assert.EqualValues(t, 2, run.Sent)
	assert.EqualValues(t, 1, run.Failed)

	got := f.db.campaign(c.ID)
	assert.Equal(t, model.CampaignStatusSent, got.Status)
	assert.Equal(t, 2, got.SentCount)
	assert.Equal(t, 1, got.FailedCount)
	assert.Len(t, f.db.messagesFor(c.ID), 2)

	f.adapter.succeed("b@example.com")
	_, err = f.engine.Dispatch(context.Background(), ws, c.ID, queue.DispatchModeRetry)
	require.NoError(t, err)

	got = f.db.campaign(c.ID)
	assert.Equal(t, model.CampaignStatusSent, got.Status)
	assert.Equal(t, 3, got.SentCount)
	assert.Equal(t, 0, got.FailedCount)
	assert.Len(t, f.db.messagesFor(c.ID), 3)
	assert.Equal(t, 1, f.adapter.callsTo("a@example.com"))
	assert.Equal(t, 2, f.adapter.callsTo("b@example.com"))
	assert.Equal(t, 1, f.adapter.callsTo("c@example.com"))
}

func TestDispatch_RedeliveryDoesNotResend(t *testing.T) {
	f := newEngineFixture()
	svc := f.db.addService(ws, model.ServiceSES, `{}`)
	f.db.addSubscribers(ws, "a@example.com", "b@example.com")
	c := f.db.addCampaign(ws, svc, model.CampaignStatusQueued)

	_, err := f.engine.Dispatch(context.Background(), ws, c.ID, queue.DispatchModeRun)
	require.NoError(t, err)
	run, err := f.engine.Dispatch(context.Background(), ws, c.ID, queue.DispatchModeRun)
	require.NoError(t, err)

	assert.Equal(t, "mark-sending", run.HaltedAt)
	assert.Equal(t, 1, f.adapter.callsTo("a@example.com"))
	assert.Equal(t, 1, f.adapter.callsTo("b@example.com"))
}

func TestDispatch_ResumesSendingCampaign(t *testing.T) {
	f := newEngineFixture()
	svc := f.db.addService(ws, model.ServiceSES, `{}`)
	subs := f.db.addSubscribers(ws, "a@example.com", "b@example.com")
	c := f.db.addCampaign(ws, svc, model.CampaignStatusSending)
	f.db.messages = append(f.db.messages, &model.Message{
		ID: 100, WorkspaceID: ws, CampaignID: c.ID, SubscriberID: subs[0].ID, MessageID: "earlier",
	})

	_, err := f.engine.Dispatch(context.Background(), ws, c.ID, queue.DispatchModeRun)
	require.NoError(t, err)

	assert.Equal(t, 0, f.adapter.callsTo("a@example.com"))
	assert.Equal(t, 1, f.adapter.callsTo("b@example.com"))
	assert.Equal(t, model.CampaignStatusSent, f.db.campaign(c.ID).Status)
}

func TestDispatch_LockHeldElsewhere(t *testing.T) {
	f := newEngineFixture()
	svc := f.db.addService(ws, model.ServiceSES, `{}`)
	f.db.addSubscribers(ws, "a@example.com")
	c := f.db.addCampaign(ws, svc, model.CampaignStatusQueued)
	f.locks.held[lock.CampaignKey(ws, c.ID)] = true

	_, err := f.engine.Dispatch(context.Background(), ws, c.ID, queue.DispatchModeRun)

	assert.ErrorIs(t, err, appErrors.ErrDispatchInProgress)
	assert.Equal(t, 0, f.adapter.callsTo("a@example.com"))
	assert.Equal(t, model.CampaignStatusQueued, f.db.campaign(c.ID).Status)
}

func TestDispatch_ReleasesLock(t *testing.T) {
	f := newEngineFixture()
	svc := f.db.addService(ws, model.ServiceSES, `{}`)
	c := f.db.addCampaign(ws, svc, model.CampaignStatusQueued)

	_, err := f.engine.Dispatch(context.Background(), ws, c.ID, queue.DispatchModeRun)
	require.NoError(t, err)
	assert.Empty(t, f.locks.held)
}

func TestDispatch_WaitsForSchedule(t *testing.T) {
	f := newEngineFixture()
	svc := f.db.addService(ws, model.ServiceSES, `{}`)
	f.db.addSubscribers(ws, "a@example.com")
	c := f.db.addCampaign(ws, svc, model.CampaignStatusQueued)
	later := time.Now().Add(time.Hour)
	f.db.campaigns[c.ID].ScheduledAt = &later

	run, err := f.engine.Dispatch(context.Background(), ws, c.ID, queue.DispatchModeRun)
	require.NoError(t, err)

	assert.Equal(t, "schedule-gate", run.HaltedAt)
	assert.Equal(t, model.CampaignStatusQueued, f.db.campaign(c.ID).Status)
	assert.Equal(t, 0, f.adapter.callsTo("a@example.com"))
}

func TestDispatch_QuotaExhaustedMidRun(t *testing.T) {
	f := newEngineFixture()
	f.quota.remaining = 0
	svc := f.db.addService(ws, model.ServiceSES, `{}`)
	f.db.addSubscribers(ws, "a@example.com")
	c := f.db.addCampaign(ws, svc, model.CampaignStatusQueued)

	run, err := f.engine.Dispatch(context.Background(), ws, c.ID, queue.DispatchModeRun)
	require.NoError(t, err)

	assert.Equal(t, "fan-out", run.HaltedAt)
	assert.Equal(t, model.CampaignStatusSending, f.db.campaign(c.ID).Status)
	assert.Empty(t, f.db.messagesFor(c.ID))
}

func TestDispatch_CancelledBeforeFanOut(t *testing.T) {
	f := newEngineFixture()
	svc := f.db.addService(ws, model.ServiceSES, `{}`)
	f.db.addSubscribers(ws, "a@example.com")
	c := f.db.addCampaign(ws, svc, model.CampaignStatusSending)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run, err := f.engine.Dispatch(ctx, ws, c.ID, queue.DispatchModeRun)
	require.NoError(t, err)

	assert.Equal(t, "fan-out", run.HaltedAt)
	assert.Equal(t, model.CampaignStatusSending, f.db.campaign(c.ID).Status)
}

func TestDispatch_SkipsUnsubscribedAndUntagged(t *testing.T) {
	f := newEngineFixture()
	svc := f.db.addService(ws, model.ServiceSES, `{}`)
	subs := f.db.addSubscribers(ws, "tagged@example.com", "other@example.com", "gone@example.com")
	f.db.tags[subs[0].ID] = []int64{5}
	f.db.tags[subs[2].ID] = []int64{5}
	at := time.Now()
	subs[2].UnsubscribedAt = &at
	c := f.db.addCampaign(ws, svc, model.CampaignStatusQueued)
	f.db.campaigns[c.ID].SendToAll = false
	f.db.campaigns[c.ID].TagIDs = []int64{5}

	_, err := f.engine.Dispatch(context.Background(), ws, c.ID, queue.DispatchModeRun)
	require.NoError(t, err)

	assert.Equal(t, 1, f.adapter.callsTo("tagged@example.com"))
	assert.Equal(t, 0, f.adapter.callsTo("other@example.com"))
	assert.Equal(t, 0, f.adapter.callsTo("gone@example.com"))
}

func TestDispatch_RetryRequiresSent(t *testing.T) {
	f := newEngineFixture()
	svc := f.db.addService(ws, model.ServiceSES, `{}`)
	c := f.db.addCampaign(ws, svc, model.CampaignStatusDraft)

	_, err := f.engine.Dispatch(context.Background(), ws, c.ID, queue.DispatchModeRetry)
	var ist *appErrors.ErrInvalidStateTransition
	assert.True(t, errors.As(err, &ist))
	assert.True(t, service.IsBenign(err))
}

func TestStages_ByMode(t *testing.T) {
	e := &service.DispatchEngine{}
	names := func(stages []service.Stage) []string {
		var out []string
		for _, s := range stages {
			out = append(out, s.Name)
		}
		return out
	}
	assert.Equal(t, []string{"schedule-gate", "mark-sending", "fan-out", "mark-sent"}, names(e.Stages(queue.DispatchModeRun)))
	assert.Equal(t, []string{"require-sent", "fan-out", "refresh-counts"}, names(e.Stages(queue.DispatchModeRetry)))
}

func TestDispatch_LockLostHaltsFanOut(t *testing.T) {
	f := newEngineFixture()
	f.engine.Parallelism = 1
	f.engine.BatchSize = 1
	f.engine.LockTTL = 30 * time.Millisecond
	f.locks.lostSeen = make(chan struct{})
	svc := f.db.addService(ws, model.ServiceSES, `{}`)
	f.db.addSubscribers(ws, "a@example.com", "b@example.com", "c@example.com")
	c := f.db.addCampaign(ws, svc, model.CampaignStatusQueued)

	// The lock expires while the first send is in flight.
	var once sync.Once
	f.adapter.onSend = func(mailer.Envelope) {
		once.Do(func() {
			f.locks.loseAll()
			<-f.locks.lostSeen
			time.Sleep(50 * time.Millisecond)
		})
	}

	run, err := f.engine.Dispatch(context.Background(), ws, c.ID, queue.DispatchModeRun)
	require.ErrorIs(t, err, lock.ErrNotOwner)
	assert.True(t, service.IsBenign(err))
	assert.Equal(t, "fan-out", run.HaltedAt)
	assert.EqualValues(t, 1, run.Sent)

	assert.Equal(t, 1, f.adapter.callsTo("a@example.com"))
	assert.Equal(t, 0, f.adapter.callsTo("b@example.com"))
	assert.Equal(t, 0, f.adapter.callsTo("c@example.com"))
	assert.Equal(t, model.CampaignStatusSending, f.db.campaign(c.ID).Status)
	assert.Len(t, f.db.messagesFor(c.ID), 1, "the accepted send is still recorded")
}
