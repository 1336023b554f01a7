// Package postgres implements the persistence interfaces on top of
// database/sql with the lib/pq driver. Queries are hand-written; every
// query is tenant-scoped and nullable text columns are read through
// COALESCE so scans never trip on NULL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// CampaignRepository is the campaigns table access layer.
type CampaignRepository struct {
	db *sql.DB
}

// NewCampaignRepository creates a campaign repository.
func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `
	id, tenant_id, COALESCE(name, ''), status, scheduled_at,
	COALESCE(contact_list_id, ''), COALESCE(channel_id, ''),
	COALESCE(message_1, ''), COALESCE(message_2, ''), COALESCE(message_3, ''),
	COALESCE(message_4, ''), COALESCE(message_5, ''),
	COALESCE(confirmation_1, ''), COALESCE(confirmation_2, ''), COALESCE(confirmation_3, ''),
	COALESCE(confirmation_4, ''), COALESCE(confirmation_5, ''),
	completed_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*domain.Campaign, error) {
	var c domain.Campaign
	var scheduledAt, completedAt sql.NullTime

	err := row.Scan(
		&c.ID, &c.TenantID, &c.Name, &c.Status, &scheduledAt,
		&c.ContactListID, &c.ChannelID,
		&c.Messages[0], &c.Messages[1], &c.Messages[2], &c.Messages[3], &c.Messages[4],
		&c.Confirmations[0], &c.Confirmations[1], &c.Confirmations[2], &c.Confirmations[3], &c.Confirmations[4],
		&completedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if scheduledAt.Valid {
		c.ScheduledAt = &scheduledAt.Time
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	return &c, nil
}

// GetByID loads one campaign scoped to a tenant.
func (r *CampaignRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	query := `SELECT` + campaignColumns + `
		FROM campaigns
		WHERE tenant_id = $1 AND id = $2`

	c, err := scanCampaign(r.db.QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign %s: %w", id, err)
	}
	return c, nil
}

// GetWithContacts loads a campaign plus the valid contacts of its list.
func (r *CampaignRepository) GetWithContacts(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	c, err := r.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	contacts := NewContactRepository(r.db)
	c.Contacts, err = contacts.ListValid(ctx, tenantID, c.ContactListID)
	if err != nil {
		return nil, fmt.Errorf("load contacts for campaign %s: %w", id, err)
	}
	return c, nil
}

// List returns a page of the tenant's campaigns, newest first.
func (r *CampaignRepository) List(ctx context.Context, tenantID, status string, limit, offset int) ([]*domain.Campaign, error) {
	query := `SELECT` + campaignColumns + `
		FROM campaigns
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.db.QueryContext(ctx, query, tenantID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []*domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListDueScheduled returns scheduled campaigns with scheduled_at inside
// the [from, to] window, across tenants, earliest first. The scheduler
// calls this every tick.
func (r *CampaignRepository) ListDueScheduled(ctx context.Context, from, to time.Time, limit int) ([]*domain.Campaign, error) {
	query := `SELECT` + campaignColumns + `
		FROM campaigns
		WHERE status = $1 AND scheduled_at BETWEEN $2 AND $3
		ORDER BY scheduled_at ASC
		LIMIT $4`

	rows, err := r.db.QueryContext(ctx, query, domain.CampaignScheduled, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("list due campaigns: %w", err)
	}
	defer rows.Close()

	var out []*domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateStatusIf flips status in one conditional statement. The WHERE
// on the old status makes concurrent flips race-free: exactly one
// caller sees true.
func (r *CampaignRepository) UpdateStatusIf(ctx context.Context, tenantID, id string, from, to domain.CampaignStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $1, updated_at = NOW()
		WHERE tenant_id = $2 AND id = $3 AND status = $4`,
		to, tenantID, id, from)
	if err != nil {
		return false, fmt.Errorf("update campaign %s status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkFinished completes a running campaign.
func (r *CampaignRepository) MarkFinished(ctx context.Context, tenantID, id string, completedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $1, completed_at = $2, updated_at = NOW()
		WHERE tenant_id = $3 AND id = $4 AND status = $5`,
		domain.CampaignFinished, completedAt, tenantID, id, domain.CampaignRunning)
	if err != nil {
		return false, fmt.Errorf("finish campaign %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetScheduledAt moves the scheduled time.
func (r *CampaignRepository) SetScheduledAt(ctx context.Context, tenantID, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET scheduled_at = $1, updated_at = NOW()
		WHERE tenant_id = $2 AND id = $3`,
		at, tenantID, id)
	if err != nil {
		return fmt.Errorf("reschedule campaign %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}
