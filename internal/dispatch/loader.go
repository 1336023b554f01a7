package dispatch

import (
	"context"
	"fmt"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/breaker"
	"github.com/ignite/campaign-dispatch/internal/pkg/cache"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// loader is the shared cache-aside read path of the pipeline stages.
// Database reads go through the database breaker so a sick database
// sheds load instead of stalling every worker.
type loader struct {
	campaigns campaign.Repository
	settings  campaign.SettingsRepository
	cache     *cache.Cache
	dbBreaker *breaker.Breaker
}

// campaignByID reads one campaign without contacts, cache-aside.
func (l *loader) campaignByID(ctx context.Context, tenantID, campaignID string) (*domain.Campaign, error) {
	var c domain.Campaign
	err := l.cache.GetOrSet(ctx, tenantID, campaign.CacheKey(campaignID), campaignFullTTL, &c,
		func(ctx context.Context) (any, error) {
			var loaded *domain.Campaign
			err := l.dbBreaker.Do(ctx, func(ctx context.Context) error {
				var err error
				loaded, err = l.campaigns.GetByID(ctx, tenantID, campaignID)
				return err
			})
			return loaded, err
		})
	if err != nil {
		return nil, fmt.Errorf("load campaign %s: %w", campaignID, err)
	}
	return &c, nil
}

// campaignFull reads a campaign with its valid contacts, cache-aside.
func (l *loader) campaignFull(ctx context.Context, tenantID, campaignID string) (*domain.Campaign, error) {
	var c domain.Campaign
	err := l.cache.GetOrSet(ctx, tenantID, fullCampaignKey(campaignID), campaignFullTTL, &c,
		func(ctx context.Context) (any, error) {
			var loaded *domain.Campaign
			err := l.dbBreaker.Do(ctx, func(ctx context.Context) error {
				var err error
				loaded, err = l.campaigns.GetWithContacts(ctx, tenantID, campaignID)
				return err
			})
			return loaded, err
		})
	if err != nil {
		return nil, fmt.Errorf("load campaign %s: %w", campaignID, err)
	}
	return &c, nil
}

// tenantSettings reads the tenant's dispatch settings, cache-aside.
func (l *loader) tenantSettings(ctx context.Context, tenantID string) (*domain.CampaignSettings, error) {
	var s domain.CampaignSettings
	err := l.cache.GetOrSet(ctx, tenantID, "settings", settingsTTL, &s,
		func(ctx context.Context) (any, error) {
			var loaded *domain.CampaignSettings
			err := l.dbBreaker.Do(ctx, func(ctx context.Context) error {
				var err error
				loaded, err = l.settings.GetSettings(ctx, tenantID)
				return err
			})
			return loaded, err
		})
	if err != nil {
		return nil, fmt.Errorf("load settings for tenant %s: %w", tenantID, err)
	}
	return &s, nil
}
