package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// SettingsRepository reads tenant dispatch settings stored as key/value
// rows in campaign_settings.
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository creates a settings repository.
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetSettings returns the tenant's settings with defaults filled in for
// anything not configured. Unparseable values keep the default and are
// logged rather than failing dispatch.
func (r *SettingsRepository) GetSettings(ctx context.Context, tenantID string) (*domain.CampaignSettings, error) {
	settings := domain.DefaultCampaignSettings()

	rows, err := r.db.QueryContext(ctx, `
		SELECT key, COALESCE(value, '')
		FROM campaign_settings
		WHERE tenant_id = $1`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("load settings for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		applySetting(&settings, tenantID, key, value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &settings, nil
}

func applySetting(s *domain.CampaignSettings, tenantID, key, value string) {
	switch key {
	case "messageInterval":
		setInt(&s.MessageInterval, tenantID, key, value)
	case "longerIntervalAfter":
		setInt(&s.LongerIntervalAfter, tenantID, key, value)
	case "greaterInterval":
		setInt(&s.GreaterInterval, tenantID, key, value)
	case "variables":
		var vars []domain.Variable
		if err := json.Unmarshal([]byte(value), &vars); err != nil {
			log.Printf("[Settings] tenant %s: bad variables value: %v", tenantID, err)
			return
		}
		s.Variables = vars
	}
}

func setInt(dst *int, tenantID, key, value string) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		log.Printf("[Settings] tenant %s: bad %s value %q, keeping default", tenantID, key, value)
		return
	}
	*dst = n
}
