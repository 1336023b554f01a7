package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/ignite/campaign-dispatch/internal/config"
	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/breaker"
	"github.com/ignite/campaign-dispatch/internal/pkg/cache"
	"github.com/ignite/campaign-dispatch/internal/queue"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// Dispatcher runs the per-contact stages: campaign.batch jobs render
// and submit messages, message.send jobs hand them to the channel.
type Dispatcher struct {
	loader
	deliveries     campaign.DeliveryRepository
	jobs           Enqueuer
	sender         ChannelClient
	channelBreaker *breaker.Breaker
	completion     *CompletionChecker
	cfg            config.DispatchConfig
}

// NewDispatcher wires the message preparation and send stages.
func NewDispatcher(
	campaigns campaign.Repository,
	settings campaign.SettingsRepository,
	deliveries campaign.DeliveryRepository,
	c *cache.Cache,
	jobs Enqueuer,
	sender ChannelClient,
	dbBreaker *breaker.Breaker,
	channelBreaker *breaker.Breaker,
	completion *CompletionChecker,
	cfg config.DispatchConfig,
) *Dispatcher {
	return &Dispatcher{
		loader: loader{
			campaigns: campaigns,
			settings:  settings,
			cache:     c,
			dbBreaker: dbBreaker,
		},
		deliveries:     deliveries,
		jobs:           jobs,
		sender:         sender,
		channelBreaker: channelBreaker,
		completion:     completion,
		cfg:            cfg,
	}
}

// HandleContactBatch is the campaign.batch queue handler: for each
// contact it picks a variant, renders the body, records the delivery
// row, and submits a message.send job. Contacts already holding a send
// job are skipped, which makes batch retries safe.
func (d *Dispatcher) HandleContactBatch(ctx context.Context, job *queue.Job) error {
	var payload queue.ContactBatchPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		log.Printf("[Dispatcher] dropping malformed batch job %s: %v", job.ID, err)
		return nil
	}

	c, err := d.campaignByID(ctx, payload.TenantID, payload.CampaignID)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignRunning {
		log.Printf("[Dispatcher] Campaign %s is %s, dropping batch %d", c.ID, c.Status, payload.BatchIndex)
		return nil
	}

	variants := c.ValidMessages()
	if len(variants) == 0 {
		log.Printf("[Dispatcher] Campaign %s has no message variants, dropping batch %d", c.ID, payload.BatchIndex)
		return nil
	}

	settings, err := d.tenantSettings(ctx, payload.TenantID)
	if err != nil {
		return err
	}

	failures := 0
	for i, contact := range payload.Contacts {
		if i > 0 {
			if err := sleepCtx(ctx, d.cfg.ContactStagger); err != nil {
				return err
			}
		}
		if err := d.prepareContact(ctx, c, contact, variants, settings); err != nil {
			log.Printf("[Dispatcher] batch %d contact %s: %v", payload.BatchIndex, contact.ID, err)
			failures++
		}
	}

	if err := d.completion.Check(ctx, payload.TenantID, c.ID, c.ContactListID); err != nil {
		log.Printf("[Dispatcher] completion check after batch %d: %v", payload.BatchIndex, err)
	}

	if failures > 0 {
		return fmt.Errorf("batch %d for campaign %s: %d of %d contacts failed",
			payload.BatchIndex, c.ID, failures, len(payload.Contacts))
	}
	return nil
}

func (d *Dispatcher) prepareContact(ctx context.Context, c *domain.Campaign, contact domain.ContactListItem, variants []string, settings *domain.CampaignSettings) error {
	body := Render(PickVariant(variants), contact, settings.Variables)

	var rec *domain.DeliveryRecord
	err := d.dbBreaker.Do(ctx, func(ctx context.Context) error {
		var err error
		rec, _, err = d.deliveries.FindOrCreate(ctx, &domain.DeliveryRecord{
			TenantID:   c.TenantID,
			CampaignID: c.ID,
			ContactID:  contact.ID,
			Body:       body,
			Total:      1,
			Pending:    1,
		})
		return err
	})
	if err != nil {
		return err
	}

	// Re-run of the batch: this contact's message is already in flight
	// or delivered.
	if rec.JobID != "" || rec.DeliveredAt != nil {
		return nil
	}

	jobID, err := d.jobs.Enqueue(ctx, queue.TopicSendMessage, queue.SendMessagePayload{
		TenantID:   c.TenantID,
		CampaignID: c.ID,
		ContactID:  contact.ID,
		DeliveryID: rec.ID,
		Number:     contact.Number,
		Body:       body,
	}, queue.Options{Attempts: 3, BackoffBase: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("enqueue send: %w", err)
	}

	if err := d.deliveries.SetJobID(ctx, c.TenantID, rec.ID, jobID); err != nil {
		// The send proceeds regardless; the record just cannot be pulled
		// back on cancel.
		log.Printf("[Dispatcher] storing job id on delivery %s: %v", rec.ID, err)
	}
	return nil
}

// HandleSendMessage is the message.send queue handler: final status
// check, channel hand-off, delivery stamp.
func (d *Dispatcher) HandleSendMessage(ctx context.Context, job *queue.Job) error {
	var payload queue.SendMessagePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		log.Printf("[Dispatcher] dropping malformed send job %s: %v", job.ID, err)
		return nil
	}

	c, err := d.campaignByID(ctx, payload.TenantID, payload.CampaignID)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignRunning {
		log.Printf("[Dispatcher] Campaign %s is %s, dropping send to %s", c.ID, c.Status, payload.Number)
		return nil
	}

	err = d.channelBreaker.Do(ctx, func(ctx context.Context) error {
		return d.sender.Send(ctx, OutboundMessage{
			TenantID:  payload.TenantID,
			ChannelID: c.ChannelID,
			Number:    payload.Number,
			Body:      payload.Body,
		})
	})
	if err != nil {
		return fmt.Errorf("send to %s: %w", payload.Number, err)
	}

	err = d.dbBreaker.Do(ctx, func(ctx context.Context) error {
		return d.deliveries.MarkDelivered(ctx, payload.TenantID, payload.DeliveryID, time.Now())
	})
	if err != nil {
		return fmt.Errorf("stamp delivery %s: %w", payload.DeliveryID, err)
	}

	if err := d.completion.Check(ctx, payload.TenantID, c.ID, c.ContactListID); err != nil {
		log.Printf("[Dispatcher] completion check after send: %v", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
