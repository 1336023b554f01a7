package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-dispatch/internal/config"
	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/breaker"
	"github.com/ignite/campaign-dispatch/internal/pkg/cache"
	"github.com/ignite/campaign-dispatch/internal/pkg/distlock"
	"github.com/ignite/campaign-dispatch/internal/queue"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

const (
	campaignFullTTL = 5 * time.Minute
	settingsTTL     = 10 * time.Minute
	startLockTTL    = time.Minute
	// batchMarkerTTL outlives the longest batch spacing a fan-out can
	// produce, so retries within a run always see their markers.
	batchMarkerTTL = 24 * time.Hour
)

func fullCampaignKey(campaignID string) string {
	return campaign.CacheKey(campaignID) + ":full"
}

// Orchestrator handles campaign.process jobs: it claims the campaign,
// flips it to running, and fans the contact list out into delayed
// batch jobs.
type Orchestrator struct {
	loader
	jobs     Enqueuer
	notifier campaign.Notifier

	rdb *redis.Client
	db  *sql.DB

	cfg config.DispatchConfig
}

// NewOrchestrator wires the campaign fan-out stage.
func NewOrchestrator(
	campaigns campaign.Repository,
	settings campaign.SettingsRepository,
	c *cache.Cache,
	jobs Enqueuer,
	notifier campaign.Notifier,
	dbBreaker *breaker.Breaker,
	rdb *redis.Client,
	db *sql.DB,
	cfg config.DispatchConfig,
) *Orchestrator {
	return &Orchestrator{
		loader: loader{
			campaigns: campaigns,
			settings:  settings,
			cache:     c,
			dbBreaker: dbBreaker,
		},
		jobs:     jobs,
		notifier: notifier,
		rdb:      rdb,
		db:       db,
		cfg:      cfg,
	}
}

// HandleProcessCampaign is the campaign.process queue handler.
func (o *Orchestrator) HandleProcessCampaign(ctx context.Context, job *queue.Job) error {
	var payload queue.ProcessCampaignPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		log.Printf("[Orchestrator] dropping malformed job %s: %v", job.ID, err)
		return nil
	}

	lock := distlock.New(o.rdb, o.db, "campaign:start:"+payload.CampaignID, startLockTTL)
	ok, err := lock.TryAcquire(ctx)
	if err != nil {
		return fmt.Errorf("start lock for %s: %w", payload.CampaignID, err)
	}
	if !ok {
		log.Printf("[Orchestrator] Campaign %s already being started elsewhere", payload.CampaignID)
		return nil
	}
	defer lock.Release(context.WithoutCancel(ctx))

	c, err := o.campaignFull(ctx, payload.TenantID, payload.CampaignID)
	if err != nil {
		return err
	}

	switch c.Status {
	case domain.CampaignScheduled:
		var flipped bool
		err = o.dbBreaker.Do(ctx, func(ctx context.Context) error {
			var err error
			flipped, err = o.campaigns.UpdateStatusIf(ctx, c.TenantID, c.ID,
				domain.CampaignScheduled, domain.CampaignRunning)
			return err
		})
		if err != nil {
			return fmt.Errorf("start campaign %s: %w", c.ID, err)
		}
		if !flipped {
			log.Printf("[Orchestrator] Campaign %s lost the start race, skipping", c.ID)
			return nil
		}

		o.cache.InvalidatePattern(ctx, c.TenantID, campaign.CacheKey(c.ID)+"*")
		if o.notifier != nil {
			o.notifier.CampaignUpdated(c.TenantID, c.ID, string(domain.CampaignRunning))
		}
	case domain.CampaignRunning:
		// A previous attempt (or a duplicate admission) already started
		// the campaign. Fan-out resumes below; the per-batch markers keep
		// already-enqueued batches from doubling up.
		log.Printf("[Orchestrator] Campaign %s already running, resuming fan-out", c.ID)
	default:
		// Cancelled, finished, or errored since admission.
		log.Printf("[Orchestrator] Campaign %s is %s, skipping start", c.ID, c.Status)
		return nil
	}

	if len(c.Contacts) == 0 {
		// Nothing to send; the campaign is trivially complete.
		if _, err := o.campaigns.MarkFinished(ctx, c.TenantID, c.ID, time.Now()); err != nil {
			return fmt.Errorf("finish empty campaign %s: %w", c.ID, err)
		}
		o.cache.InvalidatePattern(ctx, c.TenantID, campaign.CacheKey(c.ID)+"*")
		if o.notifier != nil {
			o.notifier.CampaignUpdated(c.TenantID, c.ID, string(domain.CampaignFinished))
		}
		log.Printf("[Orchestrator] Campaign %s has no valid contacts, finished immediately", c.ID)
		return nil
	}

	settings, err := o.tenantSettings(ctx, c.TenantID)
	if err != nil {
		return err
	}

	batches := chunkContacts(c.Contacts, o.cfg.BatchSize)
	for i, batch := range batches {
		marked, err := o.rdb.SetNX(ctx, batchMarker(c.ID, c.ScheduledAt, i), 1, batchMarkerTTL).Result()
		if err != nil {
			return o.fanOutFailed(ctx, job, c, i, err)
		}
		if !marked {
			// Already enqueued by an earlier attempt.
			continue
		}

		delay := batchDelay(i, settings, o.cfg.BatchSize)
		_, err = o.jobs.Enqueue(ctx, queue.TopicContactBatch, queue.ContactBatchPayload{
			TenantID:   c.TenantID,
			CampaignID: c.ID,
			BatchIndex: i,
			Contacts:   batch,
		}, queue.Options{Delay: delay, Attempts: 3, BackoffBase: 5 * time.Second})
		if err != nil {
			// Drop the marker so the retry re-enqueues this batch.
			o.rdb.Del(ctx, batchMarker(c.ID, c.ScheduledAt, i))
			return o.fanOutFailed(ctx, job, c, i, err)
		}
	}

	log.Printf("[Orchestrator] Campaign %s: %d contacts across %d batches", c.ID, len(c.Contacts), len(batches))
	return nil
}

// fanOutFailed wraps a batch enqueue failure. The returned error sends
// the process job through the queue's backoff policy, and the handler
// resumes where it stopped on retry. Only once the job is out of
// attempts is the campaign flagged errored.
func (o *Orchestrator) fanOutFailed(ctx context.Context, job *queue.Job, c *domain.Campaign, batchIndex int, err error) error {
	if job.Attempt+1 >= job.MaxAttempts {
		if _, ferr := o.campaigns.UpdateStatusIf(ctx, c.TenantID, c.ID,
			domain.CampaignRunning, domain.CampaignErrored); ferr != nil {
			log.Printf("[Orchestrator] marking campaign %s errored: %v", c.ID, ferr)
		}
		o.cache.InvalidatePattern(ctx, c.TenantID, campaign.CacheKey(c.ID)+"*")
		if o.notifier != nil {
			o.notifier.CampaignUpdated(c.TenantID, c.ID, string(domain.CampaignErrored))
		}
	}
	return fmt.Errorf("enqueue batch %d for campaign %s: %w", batchIndex, c.ID, err)
}

// batchMarker keys a batch enqueue on campaign, scheduled time, and
// batch index, so retries and duplicate admissions skip batches that
// are already out while a restarted campaign fans out fresh.
func batchMarker(campaignID string, scheduledAt *time.Time, index int) string {
	var ts int64
	if scheduledAt != nil {
		ts = scheduledAt.Unix()
	}
	return fmt.Sprintf("dispatch:batch:%s:%d:%d", campaignID, ts, index)
}

// chunkContacts splits contacts into consecutive slices of size each
// (the last may be shorter).
func chunkContacts(contacts []domain.ContactListItem, size int) [][]domain.ContactListItem {
	if size <= 0 {
		size = 50
	}
	var out [][]domain.ContactListItem
	for start := 0; start < len(contacts); start += size {
		end := start + size
		if end > len(contacts) {
			end = len(contacts)
		}
		out = append(out, contacts[start:end])
	}
	return out
}

// batchDelay spaces batch i out by the tenant's message interval
// (seconds), scaled by batch size. Once the campaign has spaced out
// LongerIntervalAfter messages the greater interval takes over.
func batchDelay(i int, s *domain.CampaignSettings, batchSize int) time.Duration {
	factor := batchSize / 10
	if factor < 1 {
		factor = 1
	}
	interval := s.IntervalForMessage(i * batchSize)
	return time.Duration(i) * time.Duration(interval) * time.Second * time.Duration(factor)
}
