package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSettings(t *testing.T) (*SettingsRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSettingsRepository(db), mock
}

func TestGetSettingsDefaults(t *testing.T) {
	repo, mock := setupSettings(t)

	mock.ExpectQuery("SELECT key(.|\n)+FROM campaign_settings").
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}))

	s, err := repo.GetSettings(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 20, s.MessageInterval)
	assert.Equal(t, 20, s.LongerIntervalAfter)
	assert.Equal(t, 60, s.GreaterInterval)
	assert.Empty(t, s.Variables)
}

func TestGetSettingsOverrides(t *testing.T) {
	repo, mock := setupSettings(t)

	rows := sqlmock.NewRows([]string{"key", "value"}).
		AddRow("messageInterval", "5").
		AddRow("greaterInterval", "120").
		AddRow("variables", `[{"key":"company","value":"Acme"}]`)

	mock.ExpectQuery("SELECT key(.|\n)+FROM campaign_settings").
		WithArgs("tenant-1").
		WillReturnRows(rows)

	s, err := repo.GetSettings(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 5, s.MessageInterval)
	assert.Equal(t, 120, s.GreaterInterval)
	// Unset keys keep their defaults.
	assert.Equal(t, 20, s.LongerIntervalAfter)
	require.Len(t, s.Variables, 1)
	assert.Equal(t, "company", s.Variables[0].Key)
	assert.Equal(t, "Acme", s.Variables[0].Value)
}

func TestGetSettingsIgnoresBadValues(t *testing.T) {
	repo, mock := setupSettings(t)

	rows := sqlmock.NewRows([]string{"key", "value"}).
		AddRow("messageInterval", "not-a-number").
		AddRow("variables", "{broken")

	mock.ExpectQuery("SELECT key(.|\n)+FROM campaign_settings").
		WithArgs("tenant-1").
		WillReturnRows(rows)

	s, err := repo.GetSettings(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 20, s.MessageInterval, "bad value keeps default")
	assert.Nil(t, s.Variables, "broken variables keep default")
}

func TestIntervalSelection(t *testing.T) {
	repo, mock := setupSettings(t)

	rows := sqlmock.NewRows([]string{"key", "value"}).
		AddRow("messageInterval", "10").
		AddRow("longerIntervalAfter", "100").
		AddRow("greaterInterval", "60")

	mock.ExpectQuery("SELECT key(.|\n)+FROM campaign_settings").
		WithArgs("tenant-1").
		WillReturnRows(rows)

	s, err := repo.GetSettings(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 10, s.IntervalForMessage(0))
	assert.Equal(t, 10, s.IntervalForMessage(99))
	assert.Equal(t, 60, s.IntervalForMessage(100))
	assert.Equal(t, 60, s.IntervalForMessage(5000))
}
