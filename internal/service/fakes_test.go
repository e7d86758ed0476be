package service_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/lock"
	"github.com/unclebandit/campaign-dispatch/internal/mailer"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
)

// memDB backs every fake repository so they observe each other's writes.
type memDB struct {
	mu          sync.Mutex
	nextID      int64
	campaigns   map[int64]*model.Campaign
	services    map[int64]*model.EmailService
	subscribers []*model.Subscriber
	tags        map[int64][]int64
	messages    []*model.Message
	events      map[string]bool
}

func newMemDB() *memDB {
	return &memDB{
		campaigns: map[int64]*model.Campaign{},
		services:  map[int64]*model.EmailService{},
		tags:      map[int64][]int64{},
		events:    map[string]bool{},
	}
}

func (db *memDB) id() int64 {
	db.nextID++
	return db.nextID
}

func guard(op string, ws int64) error {
	if ws <= 0 {
		return appErrors.NewTenantScopeViolation(op, ws)
	}
	return nil
}

func (db *memDB) addService(ws int64, t model.ServiceType, settings string) *model.EmailService {
	db.mu.Lock()
	defer db.mu.Unlock()
	svc := &model.EmailService{ID: db.id(), WorkspaceID: ws, Name: string(t), Type: t, Settings: []byte(settings)}
	db.services[svc.ID] = svc
	return svc
}

func (db *memDB) addSubscribers(ws int64, emails ...string) []*model.Subscriber {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []*model.Subscriber
	for _, e := range emails {
		s := &model.Subscriber{ID: db.id(), WorkspaceID: ws, Email: e}
		db.subscribers = append(db.subscribers, s)
		out = append(out, s)
	}
	return out
}

func (db *memDB) addCampaign(ws int64, svc *model.EmailService, status model.CampaignStatus) *model.Campaign {
	db.mu.Lock()
	defer db.mu.Unlock()
	c := &model.Campaign{
		ID: db.id(), WorkspaceID: ws, Name: "launch", Subject: "Hello", Content: "<p>hi</p>",
		FromEmail: "news@example.com", EmailServiceID: svc.ID, Status: status, SendToAll: true,
	}
	db.campaigns[c.ID] = c
	return c
}

func (db *memDB) campaign(id int64) model.Campaign {
	db.mu.Lock()
	defer db.mu.Unlock()
	return *db.campaigns[id]
}

func (db *memDB) messagesFor(campaignID int64) []*model.Message {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []*model.Message
	for _, m := range db.messages {
		if m.CampaignID == campaignID {
			out = append(out, m)
		}
	}
	return out
}

type fakeCampaignRepo struct{ db *memDB }

func (r *fakeCampaignRepo) Create(_ context.Context, ws int64, c *model.Campaign) error {
	if err := guard("campaign.create", ws); err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c.ID, c.WorkspaceID = r.db.id(), ws
	cp := *c
	r.db.campaigns[c.ID] = &cp
	return nil
}

func (r *fakeCampaignRepo) get(ws, id int64) (*model.Campaign, error) {
	c, ok := r.db.campaigns[id]
	if !ok || c.WorkspaceID != ws {
		return nil, appErrors.NewCampaignNotFound(ws, id)
	}
	return c, nil
}

func (r *fakeCampaignRepo) GetByID(_ context.Context, ws, id int64) (*model.Campaign, error) {
	if err := guard("campaign.get", ws); err != nil {
		return nil, err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, err := r.get(ws, id)
	if err != nil {
		return nil, err
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCampaignRepo) UpdateDraft(_ context.Context, ws int64, c *model.Campaign) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, err := r.get(ws, c.ID)
	if err != nil {
		return err
	}
	if !cur.IsDraft() {
		return appErrors.NewInvalidStateTransition(c.ID, string(cur.Status), "")
	}
	cp := *c
	r.db.campaigns[c.ID] = &cp
	return nil
}

func (r *fakeCampaignRepo) DeleteDraft(_ context.Context, ws, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, err := r.get(ws, id)
	if err != nil {
		return err
	}
	if !cur.IsDraft() {
		return appErrors.NewInvalidStateTransition(id, string(cur.Status), "")
	}
	delete(r.db.campaigns, id)
	return nil
}

func (r *fakeCampaignRepo) ListByStatus(_ context.Context, ws int64, status model.CampaignStatus) ([]*model.Campaign, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*model.Campaign
	for _, c := range r.db.campaigns {
		if c.WorkspaceID == ws && c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeCampaignRepo) TransitionStatus(_ context.Context, ws, id int64, from, to model.CampaignStatus) (bool, error) {
	if !model.CanTransition(from, to) {
		return false, appErrors.NewInvalidStateTransition(id, string(from), string(to))
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, err := r.get(ws, id)
	if err != nil || c.Status != from {
		return false, nil
	}
	c.Status = to
	return true, nil
}

func (r *fakeCampaignRepo) MarkSent(_ context.Context, ws, id int64, failed int) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, err := r.get(ws, id)
	if err != nil || c.Status != model.CampaignStatusSending {
		return false, nil
	}
	c.Status = model.CampaignStatusSent
	r.count(c, failed)
	return true, nil
}

func (r *fakeCampaignRepo) RefreshCounts(_ context.Context, ws, id int64, failed int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, err := r.get(ws, id)
	if err != nil {
		return err
	}
	r.count(c, failed)
	return nil
}

func (r *fakeCampaignRepo) count(c *model.Campaign, failed int) {
	c.SentCount, c.FailedCount = 0, failed
	for _, m := range r.db.messages {
		if m.CampaignID == c.ID {
			c.SentCount++
		}
	}
}

type fakeSubscriberRepo struct{ db *memDB }

func (r *fakeSubscriberRepo) Create(_ context.Context, ws int64, s *model.Subscriber, tagIDs []int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s.ID, s.WorkspaceID = r.db.id(), ws
	r.db.subscribers = append(r.db.subscribers, s)
	r.db.tags[s.ID] = tagIDs
	return nil
}

func (r *fakeSubscriberRepo) find(ws int64, match func(*model.Subscriber) bool) (*model.Subscriber, error) {
	for _, s := range r.db.subscribers {
		if s.WorkspaceID == ws && match(s) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, appErrors.NewNotFound("subscriber", "?")
}

func (r *fakeSubscriberRepo) GetByID(_ context.Context, ws, id int64) (*model.Subscriber, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.find(ws, func(s *model.Subscriber) bool { return s.ID == id })
}

func (r *fakeSubscriberRepo) GetByEmail(_ context.Context, ws int64, email string) (*model.Subscriber, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.find(ws, func(s *model.Subscriber) bool { return strings.EqualFold(s.Email, email) })
}

func (r *fakeSubscriberRepo) pending(ws int64, c *model.Campaign, afterID int64) []*model.Subscriber {
	sent := map[int64]bool{}
	for _, m := range r.db.messages {
		if m.CampaignID == c.ID {
			sent[m.SubscriberID] = true
		}
	}
	var out []*model.Subscriber
	for _, s := range r.db.subscribers {
		if s.WorkspaceID != ws || s.IsUnsubscribed() || sent[s.ID] || s.ID <= afterID {
			continue
		}
		if !c.SendToAll && !overlaps(r.db.tags[s.ID], c.TagIDs) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func overlaps(a, b []int64) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func (r *fakeSubscriberRepo) ListPendingRecipients(_ context.Context, ws int64, c *model.Campaign, afterID int64, limit int) ([]*model.Subscriber, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := r.pending(ws, c, afterID)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeSubscriberRepo) CountPendingRecipients(_ context.Context, ws int64, c *model.Campaign) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return len(r.pending(ws, c, 0)), nil
}

func (r *fakeSubscriberRepo) Unsubscribe(_ context.Context, ws, id int64, reason model.UnsubscribeReason, at time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range r.db.subscribers {
		if s.WorkspaceID == ws && s.ID == id && s.UnsubscribedAt == nil {
			s.UnsubscribedAt, s.UnsubscribeEventID = &at, &reason
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeSubscriberRepo) Resubscribe(_ context.Context, ws, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range r.db.subscribers {
		if s.WorkspaceID == ws && s.ID == id {
			s.UnsubscribedAt, s.UnsubscribeEventID = nil, nil
		}
	}
	return nil
}

type fakeMessageRepo struct{ db *memDB }

func (r *fakeMessageRepo) RecordSent(_ context.Context, ws int64, m *model.Message) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.messages {
		if existing.CampaignID == m.CampaignID && existing.SubscriberID == m.SubscriberID {
			return false, nil
		}
	}
	m.ID, m.WorkspaceID = r.db.id(), ws
	r.db.messages = append(r.db.messages, m)
	return true, nil
}

func (r *fakeMessageRepo) FindByExternalID(_ context.Context, ws int64, externalID string) (*model.Message, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, m := range r.db.messages {
		if m.WorkspaceID == ws && m.MessageID == externalID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func earliest(cur *time.Time, at time.Time) *time.Time {
	if cur == nil || at.Before(*cur) {
		return &at
	}
	return cur
}

func (r *fakeMessageRepo) ApplyEvent(_ context.Context, ws, id int64, kind model.EventKind, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, m := range r.db.messages {
		if m.WorkspaceID != ws || m.ID != id {
			continue
		}
		switch kind {
		case model.EventDelivered:
			m.DeliveredAt = earliest(m.DeliveredAt, at)
		case model.EventOpen:
			m.OpenedAt = earliest(m.OpenedAt, at)
			m.OpenCount++
		case model.EventClick:
			m.ClickedAt = earliest(m.ClickedAt, at)
			m.ClickCount++
		case model.EventBounce:
			m.BouncedAt = earliest(m.BouncedAt, at)
		case model.EventComplaint:
			m.ComplainedAt = earliest(m.ComplainedAt, at)
		}
	}
	return nil
}

func (r *fakeMessageRepo) Stats(_ context.Context, ws, campaignID int64) (model.CampaignStats, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var st model.CampaignStats
	for _, m := range r.db.messages {
		if m.WorkspaceID != ws || m.CampaignID != campaignID {
			continue
		}
		st.Sent++
		if m.DeliveredAt != nil {
			st.Delivered++
		}
		if m.OpenedAt != nil {
			st.Opened++
		}
		if m.ClickedAt != nil {
			st.Clicked++
		}
		if m.BouncedAt != nil {
			st.Bounced++
		}
		if m.ComplainedAt != nil {
			st.Complained++
		}
	}
	return st, nil
}

type fakeEventRepo struct{ db *memDB }

func (r *fakeEventRepo) Record(_ context.Context, ws int64, ev model.DeliveryEvent) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	key := fmt.Sprintf("%d|%s|%s|%d", ws, ev.MessageID, ev.Kind, ev.Timestamp.UnixNano())
	if r.db.events[key] {
		return false, nil
	}
	r.db.events[key] = true
	return true, nil
}

type fakeEmailServiceRepo struct{ db *memDB }

func (r *fakeEmailServiceRepo) Create(_ context.Context, ws int64, svc *model.EmailService) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	svc.ID, svc.WorkspaceID = r.db.id(), ws
	r.db.services[svc.ID] = svc
	return nil
}

func (r *fakeEmailServiceRepo) GetByID(_ context.Context, ws, id int64) (*model.EmailService, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	svc, ok := r.db.services[id]
	if !ok || svc.WorkspaceID != ws {
		return nil, appErrors.NewNotFound("email service", id)
	}
	cp := *svc
	return &cp, nil
}

func (r *fakeEmailServiceRepo) GetByType(_ context.Context, ws int64, t model.ServiceType) (*model.EmailService, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, svc := range r.db.services {
		if svc.WorkspaceID == ws && svc.Type == t {
			cp := *svc
			return &cp, nil
		}
	}
	return nil, appErrors.NewNotFound("email service", t)
}

func (r *fakeEmailServiceRepo) Update(_ context.Context, ws int64, svc *model.EmailService) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *svc
	r.db.services[svc.ID] = &cp
	return nil
}

type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type fakeQuota struct{ remaining int }

func (q *fakeQuota) ExceedsQuota(_ context.Context, _ *model.EmailService, n int) bool {
	return n > q.remaining
}

// fakeLocks is an in-process lock table.
type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
	// lost makes every Extend report ErrNotOwner; lostSeen closes on the first.
	lost     bool
	lostSeen chan struct{}
	seenOnce sync.Once
}

func newFakeLocks() *fakeLocks { return &fakeLocks{held: map[string]bool{}} }

func (p *fakeLocks) For(key string) lock.Lock { return &fakeLock{p: p, key: key} }

type fakeLock struct {
	p   *fakeLocks
	key string
}

func (l *fakeLock) Acquire(context.Context) (bool, error) {
	l.p.mu.Lock()
	defer l.p.mu.Unlock()
	if l.p.held[l.key] {
		return false, nil
	}
	l.p.held[l.key] = true
	return true, nil
}

func (l *fakeLock) Release(context.Context) error {
	l.p.mu.Lock()
	defer l.p.mu.Unlock()
	delete(l.p.held, l.key)
	return nil
}

func (l *fakeLock) Extend(context.Context, time.Duration) error {
	l.p.mu.Lock()
	lost := l.p.lost
	l.p.mu.Unlock()
	if !lost {
		return nil
	}
	if l.p.lostSeen != nil {
		l.p.seenOnce.Do(func() { close(l.p.lostSeen) })
	}
	return lock.ErrNotOwner
}

func (p *fakeLocks) loseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lost = true
}

// fakeAdapter accepts every envelope unless fail names the recipient.
type fakeAdapter struct {
	mu    sync.Mutex
	fail  map[string]error
	calls map[string]int
	// onSend runs before each send, outside the mutex.
	onSend func(mailer.Envelope)
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{fail: map[string]error{}, calls: map[string]int{}}
}

func (a *fakeAdapter) Send(_ context.Context, env mailer.Envelope) (string, error) {
	if a.onSend != nil {
		a.onSend(env)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[env.ToEmail]++
	if err := a.fail[env.ToEmail]; err != nil {
		return "", err
	}
	return "ext-" + env.ToEmail, nil
}

func (a *fakeAdapter) callsTo(email string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[email]
}

func (a *fakeAdapter) succeed(email string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.fail, email)
}

type fakeFactory struct{ adapter mailer.Adapter }

func (f fakeFactory) New(context.Context, *model.EmailService) (mailer.Adapter, error) {
	return f.adapter, nil
}

// recordingQueue keeps published dispatch requests.
type recordingQueue struct {
	mu        sync.Mutex
	published []queue.DispatchRequested
}

func (q *recordingQueue) Publish(_ string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, payload.(queue.DispatchRequested))
	return nil
}

func (q *recordingQueue) Subscribe(string, queue.Handler) error { return nil }
