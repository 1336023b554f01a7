package domain

import "time"

// ContactListItem is a single addressable recipient inside a contact
// list. Only items with IsValid = true (the address was confirmed
// reachable on the channel) participate in dispatch.
type ContactListItem struct {
	ID            string `json:"id" db:"id"`
	TenantID      string `json:"tenant_id" db:"tenant_id"`
	ContactListID string `json:"contact_list_id" db:"contact_list_id"`
	Name          string `json:"name" db:"name"`
	Number        string `json:"number" db:"number"`
	Email         string `json:"email" db:"email"`

	// Attributes holds free-form profile fields (e.g. company, address,
	// role) available to template substitution.
	Attributes map[string]string `json:"attributes" db:"attributes"`

	IsValid   bool      `json:"is_valid" db:"is_valid"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
