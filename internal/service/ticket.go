package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nemwellington/vendanozap/internal/model"
	"github.com/nemwellington/vendanozap/internal/repository"
)

// storeRetries is how many times a transient store failure is retried
// before surfacing. Conflicts are never auto-retried.
const storeRetries = 3

// TicketStore is the persistence collaborator for tickets. It is assumed
// strongly consistent within a tenant; race safety comes from its
// conditional updates, not from in-process locks, so the engine stays
// correct across multiple process instances.
type TicketStore interface {
	GetByID(ctx context.Context, tenantID int64, id string) (*model.Ticket, error)
	FindOpen(ctx context.Context, tenantID int64, contactID, connectionID string) (*model.Ticket, error)
	FindLatestClosed(ctx context.Context, tenantID int64, contactID, connectionID string) (*model.Ticket, error)
	CreateIfAbsent(ctx context.Context, tenantID int64, contactID, connectionID string, defaults model.TicketDefaults) (*model.Ticket, bool, error)
	ConditionalUpdate(ctx context.Context, ticketID string, expectedStatus model.TicketStatus, patch model.TicketPatch) (*model.Ticket, error)
	CurrentAssignment(ctx context.Context, ticketID string) (userID, queueName string, err error)
	AppendEvent(ctx context.Context, ev *model.TicketEvent) error
	ListByStatus(ctx context.Context, tenantID int64, status model.TicketStatus, limit int) ([]*model.Ticket, error)
}

type ContactStore interface {
	GetByID(ctx context.Context, tenantID int64, id string) (*model.Contact, error)
	TagCount(ctx context.Context, contactID string) (int, error)
}

type SettingsStore interface {
	Get(ctx context.Context, tenantID int64) (*model.TenantSettings, error)
}

type MessageStore interface {
	Append(ctx context.Context, msg *model.Message) error
	History(ctx context.Context, tenantID int64, ticketID string, limit int) ([]*model.Message, error)
}

// TicketBroadcaster receives every lifecycle transition for realtime
// fan-out.
type TicketBroadcaster interface {
	PublishTicket(action string, ticket *model.Ticket)
}

// OutboundSender delivers text back through the upstream channel (farewell
// messages, missed-call replies). Sends go through the throttle.
type OutboundSender interface {
	SendText(ctx context.Context, tenantID int64, connectionID, channelID, body string) error
}

// InboundMessage is one conversation event arriving from the upstream
// channel.
type InboundMessage struct {
	WID       string
	Body      string
	MediaType string
	FromMe    bool
}

// TicketService owns the ticket state machine: create, accept, transfer,
// close, reopen. Every transition appends a lifecycle record and triggers a
// broadcast.
type TicketService struct {
	tickets  TicketStore
	contacts ContactStore
	settings SettingsStore
	messages MessageStore
	hub      TicketBroadcaster
	outbound OutboundSender
	throttle *Throttle
}

func NewTicketService(tickets TicketStore, contacts ContactStore, settings SettingsStore, messages MessageStore, hub TicketBroadcaster, outbound OutboundSender, throttle *Throttle) *TicketService {
	return &TicketService{
		tickets:  tickets,
		contacts: contacts,
		settings: settings,
		messages: messages,
		hub:      hub,
		outbound: outbound,
		throttle: throttle,
	}
}

// HandleInbound routes one inbound conversation event: it finds or creates
// the contact's tracked ticket (atomically — first event wins), appends the
// message record, bumps the unread counter and last message, and
// broadcasts.
func (s *TicketService) HandleInbound(ctx context.Context, tenantID int64, connectionID string, contact *model.Contact, msg InboundMessage) (*model.Ticket, error) {
	var ticket *model.Ticket
	var action string
	err := s.withRetry(func() error {
		var err error
		ticket, action, err = s.locateOrCreate(ctx, tenantID, connectionID, contact)
		return err
	})
	if err != nil {
		return nil, err
	}

	summary := msg.Body
	patch := model.TicketPatch{LastMessage: &summary}
	if !msg.FromMe {
		patch.IncrUnread = true
	}
	updated, err := s.tickets.ConditionalUpdate(ctx, ticket.ID, ticket.Status, patch)
	if err != nil {
		if !errors.Is(err, repository.ErrStatusMismatch) {
			return nil, s.classify(err)
		}
		// The ticket transitioned under us; reread and apply to the new
		// status. Message arrival is valid in every state.
		current, rerr := s.tickets.GetByID(ctx, tenantID, ticket.ID)
		if rerr != nil {
			return nil, s.classify(rerr)
		}
		updated, err = s.tickets.ConditionalUpdate(ctx, current.ID, current.Status, patch)
		if err != nil {
			return nil, s.classify(err)
		}
	}
	ticket = updated

	if msg.WID != "" {
		record := &model.Message{
			WID:       msg.WID,
			TicketID:  ticket.ID,
			ContactID: contact.ID,
			TenantID:  tenantID,
			Body:      msg.Body,
			FromMe:    msg.FromMe,
			MediaType: msg.MediaType,
		}
		if err := s.messages.Append(ctx, record); err != nil {
			log.Printf("[Ticket] append message %s failed: %v", msg.WID, err)
		}
	}

	s.recordAndBroadcast(ctx, ticket, action, nil, summary)
	return ticket, nil
}

// locateOrCreate resolves the ticket an inbound event belongs to: the
// contact's tracked ticket if one exists, else its latest closed ticket
// reopened to pending, else a freshly created pending ticket.
func (s *TicketService) locateOrCreate(ctx context.Context, tenantID int64, connectionID string, contact *model.Contact) (*model.Ticket, string, error) {
	ticket, err := s.tickets.FindOpen(ctx, tenantID, contact.ID, connectionID)
	if err == nil {
		return ticket, "update", nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, "", err
	}

	closed, err := s.tickets.FindLatestClosed(ctx, tenantID, contact.ID, connectionID)
	if err == nil {
		pending := model.StatusPending
		reopened, err := s.tickets.ConditionalUpdate(ctx, closed.ID, model.StatusClosed, model.TicketPatch{Status: &pending})
		if err == nil {
			return reopened, "reopen", nil
		}
		// Either another writer reopened it first or a fresh ticket
		// appeared concurrently; fall through to create-if-absent, which
		// resolves both.
		if !errors.Is(err, repository.ErrStatusMismatch) && !strings.Contains(err.Error(), "duplicate key") {
			return nil, "", err
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, "", err
	}

	ticket, created, err := s.tickets.CreateIfAbsent(ctx, tenantID, contact.ID, connectionID, model.TicketDefaults{
		Status:  model.StatusPending,
		IsGroup: contact.IsGroup,
	})
	if err != nil {
		return nil, "", err
	}
	if created {
		return ticket, "create", nil
	}
	return ticket, "update", nil
}

// Accept claims a pending ticket for an operator. The update is conditional
// on the persisted status still being pending; the loser of a concurrent
// claim gets a ConflictError naming the current holder and queue so the
// client can redirect instead of erroring generically.
func (s *TicketService) Accept(ctx context.Context, tenantID int64, ticketID, actingUserID string) (*model.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, tenantID, ticketID)
	if err != nil {
		return nil, s.classify(err)
	}
	if ticket.Status != model.StatusPending {
		return nil, s.conflict(ctx, ticketID)
	}

	target := model.StatusOpen
	if ticket.IsGroup {
		target = model.StatusGroup
	}
	updated, err := s.tickets.ConditionalUpdate(ctx, ticketID, model.StatusPending, model.TicketPatch{
		Status:         &target,
		AssignedUserID: &actingUserID,
		ResetUnread:    true,
	})
	if err != nil {
		if errors.Is(err, repository.ErrStatusMismatch) {
			return nil, s.conflict(ctx, ticketID)
		}
		return nil, s.classify(err)
	}

	s.recordAndBroadcast(ctx, updated, "accept", &actingUserID, fmt.Sprintf("accepted by %s", actingUserID))
	return updated, nil
}

// Transfer hands a ticket to another queue and/or operator. Allowed while
// the ticket is open, pending or group; the status itself never changes.
func (s *TicketService) Transfer(ctx context.Context, tenantID int64, ticketID, actorID string, target model.TransferTarget) (*model.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, tenantID, ticketID)
	if err != nil {
		return nil, s.classify(err)
	}
	switch ticket.Status {
	case model.StatusOpen, model.StatusPending, model.StatusGroup:
	default:
		return nil, &PolicyViolation{Reason: fmt.Sprintf("cannot transfer a %s ticket", ticket.Status)}
	}
	if target.QueueID == nil && target.UserID == nil {
		return nil, &ValidationError{Field: "transfer", Reason: "queue or user required"}
	}

	patch := model.TicketPatch{QueueID: target.QueueID}
	if target.UserID != nil {
		patch.AssignedUserID = target.UserID
	} else {
		patch.ClearAssignee = true
	}
	updated, err := s.tickets.ConditionalUpdate(ctx, ticketID, ticket.Status, patch)
	if err != nil {
		if errors.Is(err, repository.ErrStatusMismatch) {
			return nil, s.conflict(ctx, ticketID)
		}
		return nil, s.classify(err)
	}

	s.recordAndBroadcast(ctx, updated, "transfer", &actorID, "transferred")
	return updated, nil
}

// Close finishes a ticket. When the tenant's required-tag policy is on, the
// contact must already carry at least one tag — checked synchronously
// before any write. Assignee clearing and the farewell side effect are
// controlled by the explicit policy flags, not by who calls; a caller that
// leaves ClearAssignee unset gets the tenant's configured default.
func (s *TicketService) Close(ctx context.Context, tenantID int64, ticketID, actorID string, policy model.ClosePolicy) (*model.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, tenantID, ticketID)
	if err != nil {
		return nil, s.classify(err)
	}
	if ticket.Status.Terminal() {
		return nil, s.conflict(ctx, ticketID)
	}

	settings, err := s.settings.Get(ctx, tenantID)
	if err != nil {
		return nil, s.classify(err)
	}
	if settings.RequiredTagOnClose {
		count, err := s.contacts.TagCount(ctx, ticket.ContactID)
		if err != nil {
			return nil, s.classify(err)
		}
		if count == 0 {
			return nil, &PolicyViolation{Reason: "contact has no tag and the workspace requires one to close"}
		}
	}

	clearAssignee := settings.ClearAssigneeOnClose
	if policy.ClearAssignee != nil {
		clearAssignee = *policy.ClearAssignee
	}

	closed := model.StatusClosed
	patch := model.TicketPatch{
		Status:        &closed,
		ClearAssignee: clearAssignee,
		ResetUnread:   true,
	}
	updated, err := s.tickets.ConditionalUpdate(ctx, ticketID, ticket.Status, patch)
	if err != nil {
		if errors.Is(err, repository.ErrStatusMismatch) {
			return nil, s.conflict(ctx, ticketID)
		}
		return nil, s.classify(err)
	}

	if !policy.IgnoreFarewell && settings.FarewellMessage != "" {
		s.sendFarewell(tenantID, updated, settings.FarewellMessage)
	}

	s.recordAndBroadcast(ctx, updated, "close", &actorID, "closed")
	return updated, nil
}

// Reopen moves a closed ticket back to pending — never silently to open —
// when its conversation comes alive again.
func (s *TicketService) Reopen(ctx context.Context, tenantID int64, ticketID, summary string) (*model.Ticket, error) {
	pending := model.StatusPending
	patch := model.TicketPatch{Status: &pending}
	if summary != "" {
		patch.LastMessage = &summary
	}
	updated, err := s.tickets.ConditionalUpdate(ctx, ticketID, model.StatusClosed, patch)
	if err != nil {
		if errors.Is(err, repository.ErrStatusMismatch) {
			return nil, s.conflict(ctx, ticketID)
		}
		return nil, s.classify(err)
	}

	s.recordAndBroadcast(ctx, updated, "reopen", nil, "reopened")
	return updated, nil
}

func (s *TicketService) Get(ctx context.Context, tenantID int64, ticketID string) (*model.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, tenantID, ticketID)
	if err != nil {
		return nil, s.classify(err)
	}
	return ticket, nil
}

// Messages returns a ticket's conversation history, oldest first. The
// ticket lookup doubles as the tenant check.
func (s *TicketService) Messages(ctx context.Context, tenantID int64, ticketID string, limit int) ([]*model.Message, error) {
	if _, err := s.tickets.GetByID(ctx, tenantID, ticketID); err != nil {
		return nil, s.classify(err)
	}
	msgs, err := s.messages.History(ctx, tenantID, ticketID, limit)
	if err != nil {
		return nil, s.classify(err)
	}
	return msgs, nil
}

func (s *TicketService) ListByStatus(ctx context.Context, tenantID int64, status model.TicketStatus, limit int) ([]*model.Ticket, error) {
	switch status {
	case model.StatusPending, model.StatusOpen, model.StatusGroup, model.StatusClosed, model.StatusNPS, model.StatusLGPD:
	default:
		return nil, &ValidationError{Field: "status", Reason: "unknown status"}
	}
	tickets, err := s.tickets.ListByStatus(ctx, tenantID, status, limit)
	if err != nil {
		return nil, s.classify(err)
	}
	return tickets, nil
}

func (s *TicketService) sendFarewell(tenantID int64, ticket *model.Ticket, body string) {
	contactID := ticket.ContactID
	connectionID := ticket.ConnectionID
	err := s.throttle.Schedule(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		contact, err := s.contacts.GetByID(ctx, tenantID, contactID)
		if err != nil {
			log.Printf("[Ticket] farewell lookup for %s failed: %v", contactID, err)
			return
		}
		if err := s.outbound.SendText(ctx, tenantID, connectionID, contact.ChannelID, body); err != nil {
			log.Printf("[Ticket] farewell send to %s failed: %v", contact.ChannelID, err)
		}
	})
	if err != nil {
		log.Printf("[Ticket] farewell for ticket %s dropped: %v", ticket.ID, err)
	}
}

// recordAndBroadcast appends the lifecycle record and fans the transition
// out. Both are after the fact of the conditional update; the update itself
// already resolved to exactly one writer.
func (s *TicketService) recordAndBroadcast(ctx context.Context, ticket *model.Ticket, action string, actorID *string, detail string) {
	ev := &model.TicketEvent{
		TicketID: ticket.ID,
		TenantID: ticket.TenantID,
		Action:   action,
		ActorID:  actorID,
		Detail:   detail,
	}
	if err := s.tickets.AppendEvent(ctx, ev); err != nil {
		log.Printf("[Ticket] append %s event for %s failed: %v", action, ticket.ID, err)
	}
	s.hub.PublishTicket(action, ticket)
}

// conflict builds the structured lost-race answer: who holds the ticket now
// and in which queue.
func (s *TicketService) conflict(ctx context.Context, ticketID string) error {
	userID, queueName, err := s.tickets.CurrentAssignment(ctx, ticketID)
	if err != nil {
		return &ConflictError{}
	}
	return &ConflictError{AssignedUserID: userID, QueueName: queueName}
}

// classify maps raw store failures onto the error taxonomy.
func (s *TicketService) classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if isTransient(err) {
		return &TransientStoreError{Err: err}
	}
	return err
}

// withRetry retries transient store failures a small fixed number of times.
func (s *TicketService) withRetry(op func() error) error {
	var err error
	for attempt := 1; attempt <= storeRetries; attempt++ {
		err = op()
		if err == nil || !isTransient(err) {
			return s.classify(err)
		}
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	return &TransientStoreError{Err: err}
}
