package model

import "time"

// TicketStatus enumerates the lifecycle states of a ticket.
type TicketStatus string

const (
	StatusPending TicketStatus = "pending"
	StatusOpen    TicketStatus = "open"
	StatusGroup   TicketStatus = "group"
	StatusClosed  TicketStatus = "closed"
	StatusNPS     TicketStatus = "nps"
	StatusLGPD    TicketStatus = "lgpd"
)

// NonTerminalStatuses are the states in which a contact's conversation is
// still being tracked. At most one ticket per (contact, connection, tenant)
// may be in any of these at a time.
var NonTerminalStatuses = []TicketStatus{StatusPending, StatusOpen, StatusGroup, StatusNPS, StatusLGPD}

func (s TicketStatus) Terminal() bool {
	return s == StatusClosed
}

// Ticket is one tracked conversation between a contact and the workspace.
type Ticket struct {
	ID             string       `json:"id"`
	TenantID       int64        `json:"tenant_id"`
	ContactID      string       `json:"contact_id"`
	ConnectionID   string       `json:"connection_id"`
	Status         TicketStatus `json:"status"`
	QueueID        *string      `json:"queue_id"`
	AssignedUserID *string      `json:"assigned_user_id"`
	LastMessage    string       `json:"last_message"`
	UnreadCount    int          `json:"unread_count"`
	IsGroup        bool         `json:"is_group"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// TicketDefaults are the values used when create-if-absent has to insert.
type TicketDefaults struct {
	Status  TicketStatus
	IsGroup bool
}

// TicketPatch is the set of columns a conditional update may change.
// Nil fields are left untouched; ClearAssignee writes NULL.
type TicketPatch struct {
	Status         *TicketStatus
	QueueID        *string
	AssignedUserID *string
	ClearAssignee  bool
	LastMessage    *string
	ResetUnread    bool
	IncrUnread     bool
}

// TicketEvent is one appended lifecycle record.
type TicketEvent struct {
	ID        int64     `json:"id"`
	TicketID  string    `json:"ticket_id"`
	TenantID  int64     `json:"tenant_id"`
	Action    string    `json:"action"`
	ActorID   *string   `json:"actor_id"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// ClosePolicy makes the close-time side effects explicit instead of being
// inferred from which caller invoked close. A nil ClearAssignee defers to
// the tenant's ClearAssigneeOnClose setting.
type ClosePolicy struct {
	ClearAssignee  *bool `json:"clear_assignee"`
	IgnoreFarewell bool  `json:"ignore_farewell"`
}

// TransferTarget names the queue and/or user a ticket is handed to.
type TransferTarget struct {
	QueueID *string `json:"queue_id"`
	UserID  *string `json:"user_id"`
}
