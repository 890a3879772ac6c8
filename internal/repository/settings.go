package repository

import (
	"context"
	"errors"

	"github.com/nemwellington/vendanozap/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SettingsRepository struct {
	pool *pgxpool.Pool
}

func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

// Get returns the tenant's settings, or the defaults when none are stored.
func (r *SettingsRepository) Get(ctx context.Context, tenantID int64) (*model.TenantSettings, error) {
	var s model.TenantSettings
	err := r.pool.QueryRow(ctx, `
		SELECT tenant_id, accept_call, missed_call_message, required_tag_on_close,
		       farewell_message, clear_assignee_on_close
		FROM tenant_settings
		WHERE tenant_id = $1
	`, tenantID).Scan(&s.TenantID, &s.AcceptCall, &s.MissedCallMessage,
		&s.RequiredTagOnClose, &s.FarewellMessage, &s.ClearAssigneeOnClose)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DefaultTenantSettings(tenantID), nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
