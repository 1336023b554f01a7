package campaign

import (
	"context"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// Repository is the campaign persistence surface. Implementations must
// return ErrNotFound (or an error wrapping it) for missing campaigns.
type Repository interface {
	// GetByID loads one campaign without its contacts.
	GetByID(ctx context.Context, tenantID, id string) (*domain.Campaign, error)

	// GetWithContacts loads a campaign together with the valid contacts
	// of its contact list.
	GetWithContacts(ctx context.Context, tenantID, id string) (*domain.Campaign, error)

	// List returns campaigns for a tenant, newest first. status filters
	// when non-empty.
	List(ctx context.Context, tenantID, status string, limit, offset int) ([]*domain.Campaign, error)

	// ListDueScheduled returns scheduled campaigns whose scheduled_at
	// falls inside [from, to], earliest first, across all tenants. Used
	// by the scheduler tick.
	ListDueScheduled(ctx context.Context, from, to time.Time, limit int) ([]*domain.Campaign, error)

	// UpdateStatusIf flips status from one value to another in a single
	// conditional statement. Returns false when the campaign was not in
	// the expected status, which makes the flip an idempotency guard.
	UpdateStatusIf(ctx context.Context, tenantID, id string, from, to domain.CampaignStatus) (bool, error)

	// MarkFinished sets status to finished and records completed_at,
	// conditional on the campaign still being in running status.
	MarkFinished(ctx context.Context, tenantID, id string, completedAt time.Time) (bool, error)

	// SetScheduledAt updates the scheduled time, used on restart.
	SetScheduledAt(ctx context.Context, tenantID, id string, at time.Time) error
}

// ContactRepository reads contact list membership.
type ContactRepository interface {
	// ListValid returns the sendable contacts of a list: is_valid and a
	// non-empty number.
	ListValid(ctx context.Context, tenantID, listID string) ([]domain.ContactListItem, error)

	// CountValid returns how many sendable contacts a list has.
	CountValid(ctx context.Context, tenantID, listID string) (int, error)
}

// DeliveryRepository tracks per-contact delivery state for a campaign.
type DeliveryRepository interface {
	// FindOrCreate returns the existing record for the
	// (campaign, contact) pair or inserts a fresh one. The bool reports
	// whether a new record was created.
	FindOrCreate(ctx context.Context, rec *domain.DeliveryRecord) (*domain.DeliveryRecord, bool, error)

	// SetJobID stores the send queue job handle on a record.
	SetJobID(ctx context.Context, tenantID, id, jobID string) error

	// MarkDelivered stamps the hand-off time on a record.
	MarkDelivered(ctx context.Context, tenantID, id string, at time.Time) error

	// CountDelivered counts records of the campaign with a delivery
	// timestamp.
	CountDelivered(ctx context.Context, tenantID, campaignID string) (int, error)

	// ListUndelivered returns records that hold a queued send job but no
	// delivery timestamp yet. Cancellation walks these to pull pending
	// jobs back out of the queue.
	ListUndelivered(ctx context.Context, tenantID, campaignID string) ([]*domain.DeliveryRecord, error)
}

// SettingsRepository reads tenant-level dispatch settings.
type SettingsRepository interface {
	// GetSettings returns the tenant's settings with defaults applied
	// for any key the tenant never configured.
	GetSettings(ctx context.Context, tenantID string) (*domain.CampaignSettings, error)
}
