package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nemwellington/vendanozap/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound means no ticket matched the criteria.
	ErrNotFound = errors.New("ticket not found")
	// ErrStatusMismatch means a conditional update matched the id but not
	// the expected status — someone else changed the ticket first.
	ErrStatusMismatch = errors.New("ticket status mismatch")
)

const ticketColumns = `id, tenant_id, contact_id, connection_id, status, queue_id,
	assigned_user_id, last_message, unread_count, is_group, created_at, updated_at`

// nonTerminalStatusList renders the tracked statuses as a SQL IN list, so
// the queries and the partial unique index agree on one definition.
var nonTerminalStatusList = func() string {
	quoted := make([]string, len(model.NonTerminalStatuses))
	for i, s := range model.NonTerminalStatuses {
		quoted[i] = "'" + string(s) + "'"
	}
	return strings.Join(quoted, ", ")
}()

type TicketRepository struct {
	pool *pgxpool.Pool
}

func NewTicketRepository(pool *pgxpool.Pool) *TicketRepository {
	return &TicketRepository{pool: pool}
}

func (r *TicketRepository) GetByID(ctx context.Context, tenantID int64, id string) (*model.Ticket, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	return scanTicket(row)
}

// FindOpen returns the contact's tracked (non-terminal) ticket on the given
// connection, or ErrNotFound.
func (r *TicketRepository) FindOpen(ctx context.Context, tenantID int64, contactID, connectionID string) (*model.Ticket, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE tenant_id = $1 AND contact_id = $2 AND connection_id = $3
		  AND status IN (`+nonTerminalStatusList+`)
	`, tenantID, contactID, connectionID)
	return scanTicket(row)
}

// FindLatestClosed returns the contact's most recently updated closed
// ticket on the connection, for reopening when the conversation comes
// alive again.
func (r *TicketRepository) FindLatestClosed(ctx context.Context, tenantID int64, contactID, connectionID string) (*model.Ticket, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE tenant_id = $1 AND contact_id = $2 AND connection_id = $3
		  AND status = 'closed'
		ORDER BY updated_at DESC
		LIMIT 1
	`, tenantID, contactID, connectionID)
	return scanTicket(row)
}

// CreateIfAbsent inserts a new ticket unless the contact already has a
// tracked one on this connection. The partial unique index makes the
// insert-or-lose race atomic; on conflict the existing ticket is returned.
func (r *TicketRepository) CreateIfAbsent(ctx context.Context, tenantID int64, contactID, connectionID string, defaults model.TicketDefaults) (*model.Ticket, bool, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO tickets (tenant_id, contact_id, connection_id, status, is_group)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, contact_id, connection_id)
			WHERE status IN (`+nonTerminalStatusList+`)
			DO NOTHING
		RETURNING `+ticketColumns+`
	`, tenantID, contactID, connectionID, defaults.Status, defaults.IsGroup)

	ticket, err := scanTicket(row)
	if err == nil {
		return ticket, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	// Insert lost to a concurrent creator (or the ticket already existed).
	existing, err := r.FindOpen(ctx, tenantID, contactID, connectionID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// ConditionalUpdate applies the patch only if the ticket's persisted status
// still equals expectedStatus (compare-and-set). Returns ErrStatusMismatch
// when another writer got there first, ErrNotFound for an unknown id.
func (r *TicketRepository) ConditionalUpdate(ctx context.Context, ticketID string, expectedStatus model.TicketStatus, patch model.TicketPatch) (*model.Ticket, error) {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{ticketID, expectedStatus}
	argIdx := 3

	add := func(expr string, val interface{}) {
		sets = append(sets, fmt.Sprintf(expr, argIdx))
		args = append(args, val)
		argIdx++
	}

	if patch.Status != nil {
		add("status = $%d", *patch.Status)
	}
	if patch.QueueID != nil {
		add("queue_id = $%d", *patch.QueueID)
	}
	if patch.ClearAssignee {
		sets = append(sets, "assigned_user_id = NULL")
	} else if patch.AssignedUserID != nil {
		add("assigned_user_id = $%d", *patch.AssignedUserID)
	}
	if patch.LastMessage != nil {
		add("last_message = $%d", *patch.LastMessage)
	}
	if patch.ResetUnread {
		sets = append(sets, "unread_count = 0")
	} else if patch.IncrUnread {
		sets = append(sets, "unread_count = unread_count + 1")
	}

	query := fmt.Sprintf(`
		UPDATE tickets SET %s
		WHERE id = $1 AND status = $2
		RETURNING `+ticketColumns, strings.Join(sets, ", "))

	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// Distinguish a lost race from a bogus id.
	var exists bool
	if checkErr := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE id = $1)`, ticketID).Scan(&exists); checkErr != nil {
		return nil, checkErr
	}
	if exists {
		return nil, ErrStatusMismatch
	}
	return nil, ErrNotFound
}

// CurrentAssignment reports who currently holds the ticket, for conflict
// responses after a lost acceptance race.
func (r *TicketRepository) CurrentAssignment(ctx context.Context, ticketID string) (userID, queueName string, err error) {
	var assigned *string
	err = r.pool.QueryRow(ctx, `
		SELECT t.assigned_user_id, COALESCE(q.name, '')
		FROM tickets t
		LEFT JOIN queues q ON q.id = t.queue_id
		WHERE t.id = $1
	`, ticketID).Scan(&assigned, &queueName)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", err
	}
	if assigned != nil {
		userID = *assigned
	}
	return userID, queueName, nil
}

// AppendEvent records one lifecycle transition.
func (r *TicketRepository) AppendEvent(ctx context.Context, ev *model.TicketEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ticket_events (ticket_id, tenant_id, action, actor_id, detail)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.TicketID, ev.TenantID, ev.Action, ev.ActorID, ev.Detail)
	return err
}

// ListByStatus returns the tenant's most recently updated tickets in the
// given status.
func (r *TicketRepository) ListByStatus(ctx context.Context, tenantID int64, status model.TicketStatus, limit int) ([]*model.Ticket, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE tenant_id = $1 AND status = $2
		ORDER BY updated_at DESC
		LIMIT $3
	`, tenantID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []*model.Ticket
	for rows.Next() {
		t, err := scanTicketRow(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func scanTicket(row pgx.Row) (*model.Ticket, error) {
	t, err := scanTicketRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func scanTicketRow(row pgx.Row) (*model.Ticket, error) {
	var t model.Ticket
	err := row.Scan(&t.ID, &t.TenantID, &t.ContactID, &t.ConnectionID, &t.Status,
		&t.QueueID, &t.AssignedUserID, &t.LastMessage, &t.UnreadCount, &t.IsGroup,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
