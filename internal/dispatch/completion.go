package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/cache"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// CompletionChecker detects when a running campaign has handed off a
// message for every valid contact and finishes it. It runs after every
// batch and after every send, and the conditional finish makes repeat
// detections a no-op.
type CompletionChecker struct {
	campaigns  campaign.Repository
	contacts   campaign.ContactRepository
	deliveries campaign.DeliveryRepository
	cache      *cache.Cache
	notifier   campaign.Notifier
}

// NewCompletionChecker wires a completion checker.
func NewCompletionChecker(
	campaigns campaign.Repository,
	contacts campaign.ContactRepository,
	deliveries campaign.DeliveryRepository,
	c *cache.Cache,
	notifier campaign.Notifier,
) *CompletionChecker {
	return &CompletionChecker{
		campaigns:  campaigns,
		contacts:   contacts,
		deliveries: deliveries,
		cache:      c,
		notifier:   notifier,
	}
}

// Check finishes the campaign when delivered count has caught up with
// the valid contact count. Safe to call at any time; only a running
// campaign can flip to finished.
func (cc *CompletionChecker) Check(ctx context.Context, tenantID, campaignID, listID string) error {
	total, err := cc.contacts.CountValid(ctx, tenantID, listID)
	if err != nil {
		return fmt.Errorf("completion check %s: %w", campaignID, err)
	}
	delivered, err := cc.deliveries.CountDelivered(ctx, tenantID, campaignID)
	if err != nil {
		return fmt.Errorf("completion check %s: %w", campaignID, err)
	}
	if delivered < total {
		return nil
	}

	ok, err := cc.campaigns.MarkFinished(ctx, tenantID, campaignID, time.Now())
	if err != nil {
		return fmt.Errorf("finish campaign %s: %w", campaignID, err)
	}
	if !ok {
		// Already finished, or the campaign left running some other way.
		return nil
	}

	cc.cache.InvalidatePattern(ctx, tenantID, campaign.CacheKey(campaignID)+"*")
	if cc.notifier != nil {
		cc.notifier.CampaignUpdated(tenantID, campaignID, string(domain.CampaignFinished))
	}
	log.Printf("[Completion] Campaign %s finished: %d/%d delivered", campaignID, delivered, total)
	return nil
}
