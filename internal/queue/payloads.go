package queue

import "github.com/ignite/campaign-dispatch/internal/domain"

// ProcessCampaignPayload starts the batch fan-out for one campaign.
type ProcessCampaignPayload struct {
	TenantID   string `json:"tenant_id"`
	CampaignID string `json:"campaign_id"`
}

// ContactBatchPayload carries one chunk of contacts to message. The
// contacts travel in the payload so the batch handler does not re-read
// the list and race concurrent list edits.
type ContactBatchPayload struct {
	TenantID   string                   `json:"tenant_id"`
	CampaignID string                   `json:"campaign_id"`
	BatchIndex int                      `json:"batch_index"`
	Contacts   []domain.ContactListItem `json:"contacts"`
}

// SendMessagePayload is one rendered message ready for channel
// hand-off.
type SendMessagePayload struct {
	TenantID   string `json:"tenant_id"`
	CampaignID string `json:"campaign_id"`
	ContactID  string `json:"contact_id"`
	DeliveryID string `json:"delivery_id"`
	Number     string `json:"number"`
	Body       string `json:"body"`
}
