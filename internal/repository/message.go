package repository

import (
	"context"
	"errors"

	"github.com/nemwellington/vendanozap/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Append stores one message record. The upstream delivers at-least-once, so
// a redelivered wire id is silently dropped.
func (r *MessageRepository) Append(ctx context.Context, msg *model.Message) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messages (wid, ticket_id, contact_id, tenant_id, body, from_me, media_type, read, ack)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, wid) DO NOTHING
		RETURNING id
	`, msg.WID, msg.TicketID, msg.ContactID, msg.TenantID, msg.Body, msg.FromMe,
		msg.MediaType, msg.Read, msg.Ack).Scan(&msg.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Duplicate delivery.
		return nil
	}
	return err
}

// History returns a ticket's messages in append order.
func (r *MessageRepository) History(ctx context.Context, tenantID int64, ticketID string, limit int) ([]*model.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, wid, ticket_id, contact_id, tenant_id, body, from_me, media_type, read, ack, created_at
		FROM messages
		WHERE tenant_id = $1 AND ticket_id = $2
		ORDER BY id DESC
		LIMIT $3
	`, tenantID, ticketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.WID, &m.TicketID, &m.ContactID, &m.TenantID,
			&m.Body, &m.FromMe, &m.MediaType, &m.Read, &m.Ack, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse for chronological order (oldest first).
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
