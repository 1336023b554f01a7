package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// DeliveryRepository is the delivery_records table access layer. The
// table carries UNIQUE(campaign_id, contact_id).
type DeliveryRepository struct {
	db *sql.DB
}

// NewDeliveryRepository creates a delivery repository.
func NewDeliveryRepository(db *sql.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// FindOrCreate returns the row for (campaign, contact), inserting it if
// absent. One statement, so concurrent dispatchers for the same contact
// converge on the same row; xmax = 0 distinguishes a fresh insert from
// a conflict hit.
func (r *DeliveryRepository) FindOrCreate(ctx context.Context, rec *domain.DeliveryRecord) (*domain.DeliveryRecord, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO delivery_records
			(id, tenant_id, campaign_id, contact_id, total, delivered, pending, failed, job_id, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		ON CONFLICT (campaign_id, contact_id)
			DO UPDATE SET updated_at = NOW()
		RETURNING id, tenant_id, campaign_id, contact_id,
			total, delivered, pending, failed,
			COALESCE(job_id, ''), COALESCE(body, ''),
			delivered_at, created_at, updated_at,
			(xmax = 0) AS inserted`,
		uuid.New().String(), rec.TenantID, rec.CampaignID, rec.ContactID,
		rec.Total, rec.Delivered, rec.Pending, rec.Failed, rec.JobID, rec.Body)

	var out domain.DeliveryRecord
	var deliveredAt sql.NullTime
	var inserted bool
	err := row.Scan(
		&out.ID, &out.TenantID, &out.CampaignID, &out.ContactID,
		&out.Total, &out.Delivered, &out.Pending, &out.Failed,
		&out.JobID, &out.Body,
		&deliveredAt, &out.CreatedAt, &out.UpdatedAt, &inserted,
	)
	if err != nil {
		return nil, false, fmt.Errorf("find-or-create delivery %s/%s: %w", rec.CampaignID, rec.ContactID, err)
	}
	if deliveredAt.Valid {
		out.DeliveredAt = &deliveredAt.Time
	}
	return &out, inserted, nil
}

// SetJobID stores the outbound queue job handle on a record.
func (r *DeliveryRepository) SetJobID(ctx context.Context, tenantID, id, jobID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE delivery_records
		SET job_id = $1, updated_at = NOW()
		WHERE tenant_id = $2 AND id = $3`,
		jobID, tenantID, id)
	if err != nil {
		return fmt.Errorf("set job id on delivery %s: %w", id, err)
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

// MarkDelivered stamps the hand-off time.
func (r *DeliveryRepository) MarkDelivered(ctx context.Context, tenantID, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE delivery_records
		SET delivered_at = $1, delivered = 1, pending = 0, updated_at = NOW()
		WHERE tenant_id = $2 AND id = $3`,
		at, tenantID, id)
	if err != nil {
		return fmt.Errorf("mark delivery %s: %w", id, err)
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

// CountDelivered counts the campaign's records with a delivery
// timestamp. Compared against the valid contact count to detect
// completion.
func (r *DeliveryRepository) CountDelivered(ctx context.Context, tenantID, campaignID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM delivery_records
		WHERE tenant_id = $1 AND campaign_id = $2 AND delivered_at IS NOT NULL`,
		tenantID, campaignID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count delivered for %s: %w", campaignID, err)
	}
	return n, nil
}

// ListUndelivered returns records holding a queued job but no delivery
// timestamp yet.
func (r *DeliveryRepository) ListUndelivered(ctx context.Context, tenantID, campaignID string) ([]*domain.DeliveryRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, campaign_id, contact_id,
			total, delivered, pending, failed,
			COALESCE(job_id, ''), COALESCE(body, ''),
			delivered_at, created_at, updated_at
		FROM delivery_records
		WHERE tenant_id = $1 AND campaign_id = $2
			AND COALESCE(job_id, '') <> '' AND delivered_at IS NULL`,
		tenantID, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list undelivered for %s: %w", campaignID, err)
	}
	defer rows.Close()

	var out []*domain.DeliveryRecord
	for rows.Next() {
		var rec domain.DeliveryRecord
		var deliveredAt sql.NullTime
		err := rows.Scan(
			&rec.ID, &rec.TenantID, &rec.CampaignID, &rec.ContactID,
			&rec.Total, &rec.Delivered, &rec.Pending, &rec.Failed,
			&rec.JobID, &rec.Body,
			&deliveredAt, &rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		if deliveredAt.Valid {
			rec.DeliveredAt = &deliveredAt.Time
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
