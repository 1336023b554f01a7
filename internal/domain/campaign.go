package domain

import (
	"strings"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignFinished  CampaignStatus = "finished"
	CampaignCancelled CampaignStatus = "cancelled"
	CampaignErrored   CampaignStatus = "errored"
)

// MaxMessageVariants is the number of message slots a campaign carries.
// Empty slots are ignored at dispatch time.
const MaxMessageVariants = 5

// Campaign represents one bulk send: a contact list, up to five message
// variants, and an outbound channel, scoped to a tenant.
type Campaign struct {
	ID            string         `json:"id" db:"id"`
	TenantID      string         `json:"tenant_id" db:"tenant_id"`
	Name          string         `json:"name" db:"name"`
	Status        CampaignStatus `json:"status" db:"status"`
	ScheduledAt   *time.Time     `json:"scheduled_at" db:"scheduled_at"`
	ContactListID string         `json:"contact_list_id" db:"contact_list_id"`
	ChannelID     string         `json:"channel_id" db:"channel_id"`

	// Message1..Message5 are the body variants; one non-empty variant is
	// picked uniformly at random per contact.
	Messages      [MaxMessageVariants]string `json:"messages" db:"-"`
	Confirmations [MaxMessageVariants]string `json:"confirmations" db:"-"`

	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`

	// Contacts is populated by reads that join the contact list; it only
	// ever contains items with IsValid = true.
	Contacts []ContactListItem `json:"contacts,omitempty" db:"-"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignFinished || c.Status == CampaignCancelled
}

// ValidMessages returns the non-empty message variants in slot order.
func (c *Campaign) ValidMessages() []string {
	out := make([]string, 0, MaxMessageVariants)
	for _, m := range c.Messages {
		if strings.TrimSpace(m) != "" {
			out = append(out, m)
		}
	}
	return out
}

// ValidConfirmations returns the non-empty confirmation variants in slot order.
func (c *Campaign) ValidConfirmations() []string {
	out := make([]string, 0, MaxMessageVariants)
	for _, m := range c.Confirmations {
		if strings.TrimSpace(m) != "" {
			out = append(out, m)
		}
	}
	return out
}

// CanTransition reports whether a status change is allowed. Transitions
// are monotonic except cancellation (from scheduled or running) and
// errored (from running). Finished and cancelled campaigns never
// re-enter running.
func CanTransition(from, to CampaignStatus) bool {
	switch to {
	case CampaignRunning:
		return from == CampaignScheduled
	case CampaignFinished:
		return from == CampaignRunning
	case CampaignCancelled:
		return from == CampaignScheduled || from == CampaignRunning
	case CampaignErrored:
		return from == CampaignRunning
	case CampaignScheduled:
		// Restart path: an operator may re-schedule a cancelled or
		// errored campaign. Finished campaigns stay finished.
		return from == CampaignCancelled || from == CampaignErrored
	default:
		return false
	}
}
