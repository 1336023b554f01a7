package domain

import "time"

// DeliveryRecord is the per-contact-per-campaign bookkeeping row. The
// database enforces UNIQUE(campaign_id, contact_id); creation is always
// find-or-create, never a blind insert, which is what makes dispatch
// retries safe.
type DeliveryRecord struct {
	ID         string `json:"id" db:"id"`
	TenantID   string `json:"tenant_id" db:"tenant_id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	ContactID  string `json:"contact_id" db:"contact_id"`

	Total     int `json:"total" db:"total"`
	Delivered int `json:"delivered" db:"delivered"`
	Pending   int `json:"pending" db:"pending"`
	Failed    int `json:"failed" db:"failed"`

	// JobID references the outbound queue job created for this contact;
	// empty until the message has been submitted.
	JobID string `json:"job_id" db:"job_id"`

	// Body is the rendered message text for this contact.
	Body string `json:"body" db:"body"`

	// DeliveredAt marks hand-off to the outbound queue, not channel-level
	// receipt. NULL until the submission is accepted.
	DeliveredAt *time.Time `json:"delivered_at" db:"delivered_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
