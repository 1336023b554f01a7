// Package campaign exposes the tenant-facing campaign operations the
// admin API and the dispatch pipeline share: reads with a cache in
// front, and the start / cancel / restart lifecycle actions.
package campaign

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/cache"
	"github.com/ignite/campaign-dispatch/internal/queue"
)

const campaignCacheTTL = 5 * time.Minute

// JobQueue is the slice of the queue the service uses: handing work to
// the pipeline and pulling pending sends back out on cancel.
type JobQueue interface {
	Enqueue(ctx context.Context, topic string, payload any, opts queue.Options) (string, error)
	Remove(ctx context.Context, topic, jobID string) (bool, error)
}

// Notifier announces campaign state changes. Implementations must not
// block.
type Notifier interface {
	CampaignUpdated(tenantID, campaignID, status string)
}

// Service implements the campaign lifecycle.
type Service struct {
	campaigns  Repository
	deliveries DeliveryRepository
	cache      *cache.Cache
	jobs       JobQueue
	notifier   Notifier
}

// New wires a campaign service.
func New(campaigns Repository, deliveries DeliveryRepository, c *cache.Cache, jobs JobQueue, notifier Notifier) *Service {
	return &Service{
		campaigns:  campaigns,
		deliveries: deliveries,
		cache:      c,
		jobs:       jobs,
		notifier:   notifier,
	}
}

// CacheKey returns the cache key for one campaign.
func CacheKey(campaignID string) string {
	return "campaign:" + campaignID
}

// Get returns one campaign, served from cache when warm.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	var c domain.Campaign
	err := s.cache.GetOrSet(ctx, tenantID, CacheKey(id), campaignCacheTTL, &c,
		func(ctx context.Context) (any, error) {
			return s.campaigns.GetByID(ctx, tenantID, id)
		})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns a page of the tenant's campaigns.
func (s *Service) List(ctx context.Context, tenantID, status string, limit, offset int) ([]*domain.Campaign, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.campaigns.List(ctx, tenantID, status, limit, offset)
}

// Start pushes a scheduled campaign into the pipeline immediately,
// ahead of its scheduled time. The pipeline's own conditional status
// flip keeps a double Start from fanning out twice.
func (s *Service) Start(ctx context.Context, tenantID, id string) error {
	c, err := s.campaigns.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignScheduled {
		return fmt.Errorf("%w: cannot start campaign in status %s", ErrInvalidTransition, c.Status)
	}
	if len(c.ValidMessages()) == 0 {
		return ErrNoMessages
	}

	_, err = s.jobs.Enqueue(ctx, queue.TopicProcessCampaign, queue.ProcessCampaignPayload{
		TenantID:   tenantID,
		CampaignID: id,
	}, queue.Options{Attempts: 3, BackoffBase: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("enqueue campaign %s: %w", id, err)
	}

	log.Printf("[Campaign] Campaign %s queued for immediate start", id)
	return nil
}

// Cancel stops a campaign. The status flips first so new batch and
// send work refuses to run, then pending send jobs are pulled from the
// queue best-effort. Jobs already claimed by a worker are left to
// finish.
func (s *Service) Cancel(ctx context.Context, tenantID, id string) error {
	c, err := s.campaigns.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if !domain.CanTransition(c.Status, domain.CampaignCancelled) {
		return fmt.Errorf("%w: cannot cancel campaign in status %s", ErrInvalidTransition, c.Status)
	}

	ok, err := s.campaigns.UpdateStatusIf(ctx, tenantID, id, c.Status, domain.CampaignCancelled)
	if err != nil {
		return fmt.Errorf("cancel campaign %s: %w", id, err)
	}
	if !ok {
		// Raced another transition; re-read to report precisely.
		return fmt.Errorf("%w: campaign %s changed status concurrently", ErrInvalidTransition, id)
	}

	s.cache.Invalidate(ctx, tenantID, CacheKey(id))

	s.removePendingSends(ctx, tenantID, id)

	if s.notifier != nil {
		s.notifier.CampaignUpdated(tenantID, id, string(domain.CampaignCancelled))
	}
	log.Printf("[Campaign] Campaign %s cancelled", id)
	return nil
}

// removePendingSends pulls not-yet-claimed send jobs out of the queue.
// Failures are logged only; cancellation already succeeded.
func (s *Service) removePendingSends(ctx context.Context, tenantID, campaignID string) {
	records, err := s.deliveries.ListUndelivered(ctx, tenantID, campaignID)
	if err != nil {
		log.Printf("[Campaign] listing pending sends for %s: %v", campaignID, err)
		return
	}

	removed := 0
	for _, rec := range records {
		if rec.JobID == "" {
			continue
		}
		ok, err := s.jobs.Remove(ctx, queue.TopicSendMessage, rec.JobID)
		if err != nil {
			log.Printf("[Campaign] removing send job %s: %v", rec.JobID, err)
			continue
		}
		if ok {
			removed++
		}
	}
	log.Printf("[Campaign] Campaign %s: removed %d of %d pending send jobs", campaignID, removed, len(records))
}

// Restart returns a cancelled or errored campaign to the schedule at a
// new time.
func (s *Service) Restart(ctx context.Context, tenantID, id string, at time.Time) error {
	c, err := s.campaigns.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if !domain.CanTransition(c.Status, domain.CampaignScheduled) {
		return fmt.Errorf("%w: cannot restart campaign in status %s", ErrInvalidTransition, c.Status)
	}

	ok, err := s.campaigns.UpdateStatusIf(ctx, tenantID, id, c.Status, domain.CampaignScheduled)
	if err != nil {
		return fmt.Errorf("restart campaign %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("%w: campaign %s changed status concurrently", ErrInvalidTransition, id)
	}
	if err := s.campaigns.SetScheduledAt(ctx, tenantID, id, at); err != nil {
		return fmt.Errorf("reschedule campaign %s: %w", id, err)
	}

	s.cache.Invalidate(ctx, tenantID, CacheKey(id))
	if s.notifier != nil {
		s.notifier.CampaignUpdated(tenantID, id, string(domain.CampaignScheduled))
	}
	log.Printf("[Campaign] Campaign %s rescheduled for %s", id, at.Format(time.RFC3339))
	return nil
}
