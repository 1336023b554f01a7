package dispatch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-dispatch/internal/config"
	"github.com/ignite/campaign-dispatch/internal/pkg/breaker"
	"github.com/ignite/campaign-dispatch/internal/queue"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// Enqueuer is the queue surface the pipeline stages need.
type Enqueuer interface {
	Enqueue(ctx context.Context, topic string, payload any, opts queue.Options) (string, error)
}

// Scheduler periodically scans for scheduled campaigns coming due and
// admits them into the pipeline with a delayed process job. Admissions
// are marked in Redis so overlapping ticks (or multiple scheduler
// instances) admit each campaign once per scheduled time.
type Scheduler struct {
	campaigns campaign.Repository
	jobs      Enqueuer
	rdb       *redis.Client
	redisBr   *breaker.Breaker
	cfg       config.DispatchConfig

	// now is swappable for tests.
	now func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewScheduler creates the admission scanner.
func NewScheduler(campaigns campaign.Repository, jobs Enqueuer, rdb *redis.Client, redisBr *breaker.Breaker, cfg config.DispatchConfig) *Scheduler {
	return &Scheduler{
		campaigns: campaigns,
		jobs:      jobs,
		rdb:       rdb,
		redisBr:   redisBr,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Start launches the tick loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	log.Printf("[Scheduler] Starting, tick every %s, lookahead %s", s.cfg.TickInterval, s.cfg.LookaheadWindow)

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop halts the tick loop and waits for an in-flight tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	log.Printf("[Scheduler] Stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	// One immediate tick so a restart does not wait a full interval.
	s.Tick(s.ctx)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Tick(s.ctx)
		}
	}
}

// Tick runs one admission scan. Exported for tests and for a manual
// kick from the admin API.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	horizon := now.Add(s.cfg.LookaheadWindow)

	due, err := s.campaigns.ListDueScheduled(ctx, now, horizon, s.cfg.ScanLimit)
	if err != nil {
		log.Printf("[Scheduler] scan failed: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}

	admitted := 0
	for _, c := range due {
		if c.ScheduledAt == nil {
			continue
		}
		ok, err := s.admit(ctx, c.TenantID, c.ID, *c.ScheduledAt, now)
		if err != nil {
			log.Printf("[Scheduler] admitting campaign %s: %v", c.ID, err)
			continue
		}
		if ok {
			admitted++
		}
	}
	log.Printf("[Scheduler] Tick: %d due, %d newly admitted", len(due), admitted)
}

// admit enqueues the process job for one campaign, delayed so it fires
// just ahead of the scheduled time. The SETNX marker keys on campaign
// and scheduled time, so a rescheduled campaign is admitted again while
// repeat ticks for the same schedule are not.
func (s *Scheduler) admit(ctx context.Context, tenantID, campaignID string, scheduledAt, now time.Time) (bool, error) {
	marker := fmt.Sprintf("dispatch:admitted:%s:%d", campaignID, scheduledAt.Unix())
	markerTTL := s.cfg.LookaheadWindow * 2

	var ok bool
	err := s.redisBr.Do(ctx, func(ctx context.Context) error {
		var err error
		ok, err = s.rdb.SetNX(ctx, marker, 1, markerTTL).Result()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("admission marker: %w", err)
	}
	if !ok {
		return false, nil
	}

	delay := scheduledAt.Sub(now) - s.cfg.LeadTime
	if delay < 0 {
		delay = 0
	}

	_, err = s.jobs.Enqueue(ctx, queue.TopicProcessCampaign, queue.ProcessCampaignPayload{
		TenantID:   tenantID,
		CampaignID: campaignID,
	}, queue.Options{Delay: delay, Attempts: 3, BackoffBase: 5 * time.Second})
	if err != nil {
		// Drop the marker so the next tick retries the admission.
		s.rdb.Del(ctx, marker)
		return false, err
	}

	log.Printf("[Scheduler] Campaign %s admitted, fires in %s", campaignID, delay.Round(time.Second))
	return true, nil
}
