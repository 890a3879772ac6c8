package repository

import (
	"context"
	"errors"

	"github.com/nemwellington/vendanozap/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ContactRepository struct {
	pool *pgxpool.Pool
}

func NewContactRepository(pool *pgxpool.Pool) *ContactRepository {
	return &ContactRepository{pool: pool}
}

const contactColumns = `id, tenant_id, channel_id, name, is_group, created_at, updated_at`

func (r *ContactRepository) GetByID(ctx context.Context, tenantID int64, id string) (*model.Contact, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+contactColumns+` FROM contacts WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	return scanContact(row)
}

// GetByChannelID looks a contact up by its channel identifier, unique per
// tenant.
func (r *ContactRepository) GetByChannelID(ctx context.Context, tenantID int64, channelID string) (*model.Contact, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+contactColumns+` FROM contacts WHERE tenant_id = $1 AND channel_id = $2
	`, tenantID, channelID)
	return scanContact(row)
}

// Upsert inserts or refreshes one contact. An empty incoming name never
// overwrites a stored one.
func (r *ContactRepository) Upsert(ctx context.Context, tenantID int64, channelID, name string, isGroup bool) (*model.Contact, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO contacts (tenant_id, channel_id, name, is_group)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, channel_id) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE contacts.name END,
			updated_at = NOW()
		RETURNING `+contactColumns, tenantID, channelID, name, isGroup)
	return scanContact(row)
}

// TagCount reports how many tags the contact carries; the close policy
// checks it before any write.
func (r *ContactRepository) TagCount(ctx context.Context, contactID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM contact_tags WHERE contact_id = $1
	`, contactID).Scan(&count)
	return count, err
}

func scanContact(row pgx.Row) (*model.Contact, error) {
	var c model.Contact
	err := row.Scan(&c.ID, &c.TenantID, &c.ChannelID, &c.Name, &c.IsGroup, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
