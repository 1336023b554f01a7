package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-dispatch/internal/config"
	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/breaker"
	"github.com/ignite/campaign-dispatch/internal/pkg/cache"
	"github.com/ignite/campaign-dispatch/internal/queue"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// memStore is an in-memory implementation of every persistence
// interface the pipeline touches.
type memStore struct {
	mu         sync.Mutex
	campaigns  map[string]*domain.Campaign
	contacts   map[string][]domain.ContactListItem
	byID       map[string]*domain.DeliveryRecord
	byPair     map[string]*domain.DeliveryRecord
	settings   domain.CampaignSettings
	nextRecSeq int
}

func newMemStore() *memStore {
	return &memStore{
		campaigns: make(map[string]*domain.Campaign),
		contacts:  make(map[string][]domain.ContactListItem),
		byID:      make(map[string]*domain.DeliveryRecord),
		byPair:    make(map[string]*domain.DeliveryRecord),
		settings:  domain.DefaultCampaignSettings(),
	}
}

func (m *memStore) GetByID(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	copied := *c
	copied.Contacts = nil
	return &copied, nil
}

func (m *memStore) GetWithContacts(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	copied := *c
	copied.Contacts = append([]domain.ContactListItem(nil), m.contacts[c.ContactListID]...)
	return &copied, nil
}

func (m *memStore) List(ctx context.Context, tenantID, status string, limit, offset int) ([]*domain.Campaign, error) {
	return nil, nil
}

func (m *memStore) ListDueScheduled(ctx context.Context, from, to time.Time, limit int) ([]*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Campaign
	for _, c := range m.campaigns {
		if c.Status == domain.CampaignScheduled && c.ScheduledAt != nil &&
			!c.ScheduledAt.Before(from) && !c.ScheduledAt.After(to) {
			copied := *c
			out = append(out, &copied)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) UpdateStatusIf(ctx context.Context, tenantID, id string, from, to domain.CampaignStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	return true, nil
}

func (m *memStore) MarkFinished(ctx context.Context, tenantID, id string, completedAt time.Time) (bool, error) {
	ok, err := m.UpdateStatusIf(ctx, tenantID, id, domain.CampaignRunning, domain.CampaignFinished)
	if ok {
		m.mu.Lock()
		m.campaigns[id].CompletedAt = &completedAt
		m.mu.Unlock()
	}
	return ok, err
}

func (m *memStore) SetScheduledAt(ctx context.Context, tenantID, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[id].ScheduledAt = &at
	return nil
}

func (m *memStore) ListValid(ctx context.Context, tenantID, listID string) ([]domain.ContactListItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ContactListItem(nil), m.contacts[listID]...), nil
}

func (m *memStore) CountValid(ctx context.Context, tenantID, listID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contacts[listID]), nil
}

func (m *memStore) FindOrCreate(ctx context.Context, rec *domain.DeliveryRecord) (*domain.DeliveryRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pair := rec.CampaignID + "|" + rec.ContactID
	if existing, ok := m.byPair[pair]; ok {
		copied := *existing
		return &copied, false, nil
	}
	m.nextRecSeq++
	created := *rec
	created.ID = fmt.Sprintf("rec-%d", m.nextRecSeq)
	m.byPair[pair] = &created
	m.byID[created.ID] = &created
	copied := created
	return &copied, true, nil
}

func (m *memStore) SetJobID(ctx context.Context, tenantID, id, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return campaign.ErrNotFound
	}
	rec.JobID = jobID
	return nil
}

func (m *memStore) MarkDelivered(ctx context.Context, tenantID, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return campaign.ErrNotFound
	}
	rec.DeliveredAt = &at
	rec.Delivered = 1
	rec.Pending = 0
	return nil
}

func (m *memStore) CountDelivered(ctx context.Context, tenantID, campaignID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.byID {
		if rec.CampaignID == campaignID && rec.DeliveredAt != nil {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListUndelivered(ctx context.Context, tenantID, campaignID string) ([]*domain.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.DeliveryRecord
	for _, rec := range m.byID {
		if rec.CampaignID == campaignID && rec.JobID != "" && rec.DeliveredAt == nil {
			copied := *rec
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memStore) GetSettings(ctx context.Context, tenantID string) (*domain.CampaignSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.settings
	return &s, nil
}

func (m *memStore) status(id string) domain.CampaignStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.campaigns[id].Status
}

// recordingSender captures outbound messages.
type recordingSender struct {
	mu   sync.Mutex
	sent []OutboundMessage
	fail error
}

func (s *recordingSender) Send(ctx context.Context, msg OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, msg)
	return nil
}

type pipeline struct {
	store        *memStore
	queue        *queue.Queue
	client       *redis.Client
	orchestrator *Orchestrator
	dispatcher   *Dispatcher
	sender       *recordingSender
}

func setupPipeline(t *testing.T) (*pipeline, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store := newMemStore()
	q := queue.New(client)
	ch := cache.New(client)
	sender := &recordingSender{}

	cfg := config.DispatchConfig{
		BatchSize:      50,
		ContactStagger: 0,
	}
	dbBr := breaker.New("database", breaker.Settings{FailureThreshold: 3, ResetTimeout: 30 * time.Second, SuccessThreshold: 2})
	chBr := breaker.New("channel", breaker.Settings{FailureThreshold: 5, ResetTimeout: 60 * time.Second, SuccessThreshold: 3})

	completion := NewCompletionChecker(store, store, store, ch, nil)
	p := &pipeline{
		store:        store,
		queue:        q,
		client:       client,
		sender:       sender,
		orchestrator: NewOrchestrator(store, store, ch, q, nil, dbBr, client, nil, cfg),
		dispatcher:   NewDispatcher(store, store, store, ch, q, sender, dbBr, chBr, completion, cfg),
	}
	return p, func() {
		client.Close()
		mr.Close()
	}
}

func seedCampaign(store *memStore, contacts int) *domain.Campaign {
	at := time.Now().Add(-time.Second)
	c := &domain.Campaign{
		ID:            "c1",
		TenantID:      "tenant-1",
		Name:          "promo",
		Status:        domain.CampaignScheduled,
		ScheduledAt:   &at,
		ContactListID: "list-1",
		ChannelID:     "channel-1",
		Messages:      [domain.MaxMessageVariants]string{"Hi {name}!"},
	}
	store.campaigns[c.ID] = c
	for i := 0; i < contacts; i++ {
		store.contacts["list-1"] = append(store.contacts["list-1"], domain.ContactListItem{
			ID:            fmt.Sprintf("ct-%d", i),
			TenantID:      "tenant-1",
			ContactListID: "list-1",
			Name:          fmt.Sprintf("Contact %d", i),
			Number:        fmt.Sprintf("55119999%04d", i),
			IsValid:       true,
		})
	}
	return c
}

func processJob(t *testing.T, p *pipeline) {
	t.Helper()
	_, err := p.queue.Enqueue(context.Background(), queue.TopicProcessCampaign,
		queue.ProcessCampaignPayload{TenantID: "tenant-1", CampaignID: "c1"}, queue.Options{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
}

// drain claims every due job on a topic and runs it through the
// handler, repeating until the topic is quiet.
func drain(t *testing.T, p *pipeline, topic string, handler queue.Handler) int {
	t.Helper()
	ctx := context.Background()
	ran := 0
	for {
		depth, err := p.queue.Depth(ctx, topic)
		if err != nil {
			t.Fatalf("Depth: %v", err)
		}
		if depth == 0 {
			return ran
		}
		// Jobs may be delayed; wait for them to come due.
		jobs, err := p.queue.ClaimDue(ctx, topic, 100)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if len(jobs) == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		for _, job := range jobs {
			if err := handler(ctx, job); err != nil {
				t.Fatalf("handler on %s: %v", topic, err)
			}
			p.queue.Ack(ctx, job)
			ran++
		}
	}
}

func TestProcessCampaignFansOut(t *testing.T) {
	p, cleanup := setupPipeline(t)
	defer cleanup()
	ctx := context.Background()

	seedCampaign(p.store, 120)
	processJob(t, p)

	n := drain(t, p, queue.TopicProcessCampaign, p.orchestrator.HandleProcessCampaign)
	if n != 1 {
		t.Fatalf("ran %d process jobs, want 1", n)
	}

	if got := p.store.status("c1"); got != domain.CampaignRunning {
		t.Fatalf("status = %s, want running", got)
	}
	depth, _ := p.queue.Depth(ctx, queue.TopicContactBatch)
	if depth != 3 {
		t.Fatalf("batch jobs = %d, want 3 (120 contacts / 50)", depth)
	}
}

func TestProcessCampaignIsIdempotent(t *testing.T) {
	p, cleanup := setupPipeline(t)
	defer cleanup()
	ctx := context.Background()

	seedCampaign(p.store, 60)

	// A double admission: two process jobs for the same campaign.
	processJob(t, p)
	processJob(t, p)
	drain(t, p, queue.TopicProcessCampaign, p.orchestrator.HandleProcessCampaign)

	depth, _ := p.queue.Depth(ctx, queue.TopicContactBatch)
	if depth != 2 {
		t.Fatalf("batch jobs = %d, want 2; the second process job must not fan out again", depth)
	}
}

// flakyQueue lets a fixed number of enqueues on one topic through and
// then injects failures, delegating everything else to the real queue.
type flakyQueue struct {
	*queue.Queue
	mu       sync.Mutex
	topic    string
	succeed  int
	failures int
}

func (f *flakyQueue) Enqueue(ctx context.Context, topic string, payload any, opts queue.Options) (string, error) {
	f.mu.Lock()
	inject := false
	if topic == f.topic {
		if f.succeed > 0 {
			f.succeed--
		} else if f.failures > 0 {
			f.failures--
			inject = true
		}
	}
	f.mu.Unlock()
	if inject {
		return "", errors.New("connection refused")
	}
	return f.Queue.Enqueue(ctx, topic, payload, opts)
}

func flakyOrchestrator(p *pipeline, fq *flakyQueue) *Orchestrator {
	dbBr := breaker.New("database", breaker.Settings{FailureThreshold: 3, ResetTimeout: 30 * time.Second, SuccessThreshold: 2})
	cfg := config.DispatchConfig{BatchSize: 50}
	return NewOrchestrator(p.store, p.store, cache.New(p.client), fq, nil, dbBr, p.client, nil, cfg)
}

func processCampaignJob(attempt, maxAttempts int) *queue.Job {
	payload, _ := json.Marshal(queue.ProcessCampaignPayload{TenantID: "tenant-1", CampaignID: "c1"})
	return &queue.Job{
		ID:          "pc-1",
		Topic:       queue.TopicProcessCampaign,
		Payload:     payload,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
	}
}

func TestFanOutResumesAfterEnqueueFailure(t *testing.T) {
	p, cleanup := setupPipeline(t)
	defer cleanup()
	ctx := context.Background()

	seedCampaign(p.store, 120)
	fq := &flakyQueue{Queue: p.queue, topic: queue.TopicContactBatch, succeed: 1, failures: 1}
	orch := flakyOrchestrator(p, fq)

	if err := orch.HandleProcessCampaign(ctx, processCampaignJob(0, 3)); err == nil {
		t.Fatal("first attempt should fail mid fan-out")
	}

	// A transient blip must not wedge the campaign.
	if got := p.store.status("c1"); got != domain.CampaignRunning {
		t.Fatalf("status = %s, want running after a retryable failure", got)
	}
	depth, _ := p.queue.Depth(ctx, queue.TopicContactBatch)
	if depth != 1 {
		t.Fatalf("batch jobs = %d, want 1 before the retry", depth)
	}

	// The retry picks up where the first attempt stopped.
	if err := orch.HandleProcessCampaign(ctx, processCampaignJob(1, 3)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	depth, _ = p.queue.Depth(ctx, queue.TopicContactBatch)
	if depth != 3 {
		t.Fatalf("batch jobs = %d, want 3 with no duplicates", depth)
	}
	if got := p.store.status("c1"); got != domain.CampaignRunning {
		t.Fatalf("status = %s, want running", got)
	}
}

func TestFanOutErroredWhenRetriesExhausted(t *testing.T) {
	p, cleanup := setupPipeline(t)
	defer cleanup()
	ctx := context.Background()

	seedCampaign(p.store, 60)
	fq := &flakyQueue{Queue: p.queue, topic: queue.TopicContactBatch, failures: 10}
	orch := flakyOrchestrator(p, fq)

	if err := orch.HandleProcessCampaign(ctx, processCampaignJob(0, 3)); err == nil {
		t.Fatal("attempt should fail")
	}
	if got := p.store.status("c1"); got != domain.CampaignRunning {
		t.Fatalf("status = %s, want running while attempts remain", got)
	}

	// Last attempt: the campaign is flagged for operator attention.
	if err := orch.HandleProcessCampaign(ctx, processCampaignJob(2, 3)); err == nil {
		t.Fatal("final attempt should fail")
	}
	if got := p.store.status("c1"); got != domain.CampaignErrored {
		t.Fatalf("status = %s, want errored once attempts are exhausted", got)
	}
}

func TestBatchDelaySpacing(t *testing.T) {
	s := &domain.CampaignSettings{MessageInterval: 20, LongerIntervalAfter: 200, GreaterInterval: 60}

	if got := batchDelay(0, s, 50); got != 0 {
		t.Fatalf("batchDelay(0) = %v, want 0", got)
	}
	// 1 × 20s × (50/10)
	if got := batchDelay(1, s, 50); got != 100*time.Second {
		t.Fatalf("batchDelay(1) = %v, want 1m40s", got)
	}
	// Past the longer-interval threshold the greater interval applies:
	// 4 × 60s × 5.
	if got := batchDelay(4, s, 50); got != 1200*time.Second {
		t.Fatalf("batchDelay(4) = %v, want 20m", got)
	}
	// Small batches still space by the raw interval.
	if got := batchDelay(1, s, 5); got != 20*time.Second {
		t.Fatalf("batchDelay(1, small batch) = %v, want 20s", got)
	}
}

func TestProcessEmptyCampaignFinishes(t *testing.T) {
	p, cleanup := setupPipeline(t)
	defer cleanup()
	ctx := context.Background()

	seedCampaign(p.store, 0)
	processJob(t, p)
	drain(t, p, queue.TopicProcessCampaign, p.orchestrator.HandleProcessCampaign)

	if got := p.store.status("c1"); got != domain.CampaignFinished {
		t.Fatalf("status = %s, want finished", got)
	}
	if p.store.campaigns["c1"].CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	depth, _ := p.queue.Depth(ctx, queue.TopicContactBatch)
	if depth != 0 {
		t.Fatalf("batch jobs = %d, want 0", depth)
	}
}

func TestFullPipelineDeliversAndFinishes(t *testing.T) {
	p, cleanup := setupPipeline(t)
	defer cleanup()
	ctx := context.Background()

	seedCampaign(p.store, 7)
	processJob(t, p)

	drain(t, p, queue.TopicProcessCampaign, p.orchestrator.HandleProcessCampaign)
	drain(t, p, queue.TopicContactBatch, p.dispatcher.HandleContactBatch)
	drain(t, p, queue.TopicSendMessage, p.dispatcher.HandleSendMessage)

	p.sender.mu.Lock()
	sent := len(p.sender.sent)
	p.sender.mu.Unlock()
	if sent != 7 {
		t.Fatalf("sent %d messages, want 7", sent)
	}

	if got := p.store.status("c1"); got != domain.CampaignFinished {
		t.Fatalf("status = %s, want finished", got)
	}

	delivered, _ := p.store.CountDelivered(ctx, "tenant-1", "c1")
	if delivered != 7 {
		t.Fatalf("delivered = %d, want 7", delivered)
	}

	// Rendered bodies are persisted on the delivery ledger.
	p.store.mu.Lock()
	for _, rec := range p.store.byID {
		if rec.Body == "" || rec.Body == "Hi {name}!" {
			p.store.mu.Unlock()
			t.Fatalf("delivery record %s body = %q, want rendered text", rec.ID, rec.Body)
		}
	}
	p.store.mu.Unlock()

	// Every body is rendered per contact.
	p.sender.mu.Lock()
	defer p.sender.mu.Unlock()
	for _, msg := range p.sender.sent {
		if msg.ChannelID != "channel-1" {
			t.Fatalf("message on wrong channel: %+v", msg)
		}
		if msg.Body == "Hi {name}!" {
			t.Fatalf("body not rendered: %q", msg.Body)
		}
	}
}

func TestBatchRetryDoesNotDuplicateSends(t *testing.T) {
	p, cleanup := setupPipeline(t)
	defer cleanup()
	ctx := context.Background()

	seedCampaign(p.store, 5)
	processJob(t, p)
	drain(t, p, queue.TopicProcessCampaign, p.orchestrator.HandleProcessCampaign)

	jobs, err := p.queue.ClaimDue(ctx, queue.TopicContactBatch, 10)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("claim batch: %v (%d jobs)", err, len(jobs))
	}

	// Run the same batch twice, as a queue retry would.
	if err := p.dispatcher.HandleContactBatch(ctx, jobs[0]); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := p.dispatcher.HandleContactBatch(ctx, jobs[0]); err != nil {
		t.Fatalf("second run: %v", err)
	}

	depth, _ := p.queue.Depth(ctx, queue.TopicSendMessage)
	if depth != 5 {
		t.Fatalf("send jobs = %d, want 5; retry must not duplicate", depth)
	}
}

func TestBatchDroppedWhenCancelled(t *testing.T) {
	p, cleanup := setupPipeline(t)
	defer cleanup()
	ctx := context.Background()

	seedCampaign(p.store, 5)
	processJob(t, p)
	drain(t, p, queue.TopicProcessCampaign, p.orchestrator.HandleProcessCampaign)

	// Cancelled between fan-out and batch execution.
	p.store.UpdateStatusIf(ctx, "tenant-1", "c1", domain.CampaignRunning, domain.CampaignCancelled)
	p.dispatcher.cache.Invalidate(ctx, "tenant-1", campaign.CacheKey("c1"))

	drain(t, p, queue.TopicContactBatch, p.dispatcher.HandleContactBatch)

	depth, _ := p.queue.Depth(ctx, queue.TopicSendMessage)
	if depth != 0 {
		t.Fatalf("send jobs = %d, want 0 after cancel", depth)
	}
}

func TestSendDroppedWhenCancelled(t *testing.T) {
	p, cleanup := setupPipeline(t)
	defer cleanup()
	ctx := context.Background()

	seedCampaign(p.store, 2)
	processJob(t, p)
	drain(t, p, queue.TopicProcessCampaign, p.orchestrator.HandleProcessCampaign)
	drain(t, p, queue.TopicContactBatch, p.dispatcher.HandleContactBatch)

	p.store.UpdateStatusIf(ctx, "tenant-1", "c1", domain.CampaignRunning, domain.CampaignCancelled)
	p.dispatcher.cache.Invalidate(ctx, "tenant-1", campaign.CacheKey("c1"))

	drain(t, p, queue.TopicSendMessage, p.dispatcher.HandleSendMessage)

	p.sender.mu.Lock()
	defer p.sender.mu.Unlock()
	if len(p.sender.sent) != 0 {
		t.Fatalf("sent %d messages after cancel, want 0", len(p.sender.sent))
	}
}

func TestSchedulerAdmitsOnce(t *testing.T) {
	p, cleanup := setupPipeline(t)
	defer cleanup()
	ctx := context.Background()

	at := time.Now().Add(30 * time.Minute)
	c := seedCampaign(p.store, 1)
	p.store.mu.Lock()
	p.store.campaigns[c.ID].ScheduledAt = &at
	p.store.mu.Unlock()

	cfg := config.DispatchConfig{
		TickInterval:    time.Minute,
		LookaheadWindow: time.Hour,
		ScanLimit:       50,
		LeadTime:        5 * time.Second,
	}
	s := NewScheduler(p.store, p.queue, p.client,
		breaker.New("redis", breaker.Settings{FailureThreshold: 3, ResetTimeout: 15 * time.Second, SuccessThreshold: 2}), cfg)

	s.Tick(ctx)
	s.Tick(ctx)
	s.Tick(ctx)

	depth, _ := p.queue.Depth(ctx, queue.TopicProcessCampaign)
	if depth != 1 {
		t.Fatalf("process jobs = %d, want 1 despite repeated ticks", depth)
	}
}

func TestSchedulerDelayHasLeadTime(t *testing.T) {
	p, cleanup := setupPipeline(t)
	defer cleanup()
	ctx := context.Background()

	at := time.Now().Add(30 * time.Minute)
	c := seedCampaign(p.store, 1)
	p.store.mu.Lock()
	p.store.campaigns[c.ID].ScheduledAt = &at
	p.store.mu.Unlock()

	cfg := config.DispatchConfig{
		TickInterval:    time.Minute,
		LookaheadWindow: time.Hour,
		ScanLimit:       50,
		LeadTime:        5 * time.Second,
	}
	s := NewScheduler(p.store, p.queue, p.client,
		breaker.New("redis", breaker.Settings{FailureThreshold: 3, ResetTimeout: 15 * time.Second, SuccessThreshold: 2}), cfg)
	s.Tick(ctx)

	scored, err := p.client.ZRangeWithScores(ctx, "queue:"+queue.TopicProcessCampaign+":scheduled", 0, -1).Result()
	if err != nil || len(scored) != 1 {
		t.Fatalf("scheduled jobs: %v (%d entries)", err, len(scored))
	}
	want := at.Add(-5 * time.Second).UnixMilli()
	got := int64(scored[0].Score)
	if got < want-2000 || got > want+2000 {
		t.Fatalf("process job fires at %d, want about %d (lead time before schedule)", got, want)
	}
}

func TestSchedulerSkipsOutOfWindow(t *testing.T) {
	p, cleanup := setupPipeline(t)
	defer cleanup()
	ctx := context.Background()

	// One campaign already past due, one beyond the lookahead window.
	past := time.Now().Add(-10 * time.Minute)
	far := time.Now().Add(2 * time.Hour)
	c := seedCampaign(p.store, 1)
	p.store.mu.Lock()
	p.store.campaigns[c.ID].ScheduledAt = &past
	p.store.campaigns["c2"] = &domain.Campaign{
		ID:            "c2",
		TenantID:      "tenant-1",
		Status:        domain.CampaignScheduled,
		ScheduledAt:   &far,
		ContactListID: "list-1",
		Messages:      [domain.MaxMessageVariants]string{"Hi!"},
	}
	p.store.mu.Unlock()

	cfg := config.DispatchConfig{
		TickInterval:    time.Minute,
		LookaheadWindow: time.Hour,
		ScanLimit:       50,
		LeadTime:        5 * time.Second,
	}
	s := NewScheduler(p.store, p.queue, p.client,
		breaker.New("redis", breaker.Settings{FailureThreshold: 3, ResetTimeout: 15 * time.Second, SuccessThreshold: 2}), cfg)
	s.Tick(ctx)

	depth, _ := p.queue.Depth(ctx, queue.TopicProcessCampaign)
	if depth != 0 {
		t.Fatalf("process jobs = %d, want 0; only campaigns inside the scan window are admitted", depth)
	}
}
