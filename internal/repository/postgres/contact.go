package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// ContactRepository reads contact list membership.
type ContactRepository struct {
	db *sql.DB
}

// NewContactRepository creates a contact repository.
func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// ListValid returns the sendable contacts of a list: validated and
// holding a number. Attributes are stored as a JSONB object.
func (r *ContactRepository) ListValid(ctx context.Context, tenantID, listID string) ([]domain.ContactListItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, contact_list_id,
			COALESCE(name, ''), COALESCE(number, ''), COALESCE(email, ''),
			COALESCE(attributes, '{}'), is_valid, created_at, updated_at
		FROM contact_list_items
		WHERE tenant_id = $1 AND contact_list_id = $2
			AND is_valid = TRUE AND COALESCE(number, '') <> ''
		ORDER BY created_at ASC`,
		tenantID, listID)
	if err != nil {
		return nil, fmt.Errorf("list contacts for %s: %w", listID, err)
	}
	defer rows.Close()

	var out []domain.ContactListItem
	for rows.Next() {
		var item domain.ContactListItem
		var attrs []byte
		err := rows.Scan(
			&item.ID, &item.TenantID, &item.ContactListID,
			&item.Name, &item.Number, &item.Email,
			&attrs, &item.IsValid, &item.CreatedAt, &item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &item.Attributes); err != nil {
				return nil, fmt.Errorf("decode attributes for contact %s: %w", item.ID, err)
			}
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// CountValid returns how many sendable contacts the list has.
func (r *ContactRepository) CountValid(ctx context.Context, tenantID, listID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM contact_list_items
		WHERE tenant_id = $1 AND contact_list_id = $2
			AND is_valid = TRUE AND COALESCE(number, '') <> ''`,
		tenantID, listID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count contacts for %s: %w", listID, err)
	}
	return n, nil
}
