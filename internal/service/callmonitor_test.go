package service

import (
	"context"
	"testing"
	"time"

	"github.com/nemwellington/vendanozap/internal/model"
	"github.com/nemwellington/vendanozap/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *memContactStore) GetByChannelID(ctx context.Context, tenantID int64, channelID string) (*model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.TenantID == tenantID && c.ChannelID == channelID {
			return c, nil
		}
	}
	return nil, repository.ErrNotFound
}

type callFixture struct {
	*ticketFixture
	monitor *CallMonitor
}

func newCallFixture(t *testing.T) *callFixture {
	t.Helper()
	f := newTicketFixture(t)
	return &callFixture{
		ticketFixture: f,
		monitor:       NewCallMonitor(f.contacts, f.svc, f.settings, f.sender, f.throttle),
	}
}

func (f *callFixture) terminate(t *testing.T, from string) error {
	t.Helper()
	return f.monitor.HandleCallTerminated(context.Background(), 1, connection, from, uuid.NewString())
}

func TestCallIgnoredWhenTenantDisabled(t *testing.T) {
	f := newCallFixture(t)
	// Default settings: AcceptCall off.

	require.NoError(t, f.terminate(t, "5511999990000@s.whatsapp.net"))

	tickets, err := f.svc.ListByStatus(context.Background(), 1, model.StatusPending, 10)
	require.NoError(t, err)
	assert.Empty(t, tickets)
	assert.Empty(t, f.sender.sends)
}

func TestMissedCallCreatesCallLogTicket(t *testing.T) {
	f := newCallFixture(t)
	f.settings.settings = &model.TenantSettings{
		TenantID:          1,
		AcceptCall:        true,
		MissedCallMessage: "Não posso atender agora",
	}

	// Device suffix and domain are stripped before the contact lookup.
	require.NoError(t, f.terminate(t, "5511999990000:3@s.whatsapp.net"))

	tickets, err := f.svc.ListByStatus(context.Background(), 1, model.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Contains(t, tickets[0].LastMessage, "Missed voice/video call at ")

	require.Len(t, f.messages.msgs, 1)
	assert.Equal(t, "call_log", f.messages.msgs[0].MediaType)

	assert.Eventually(t, func() bool {
		f.sender.mu.Lock()
		defer f.sender.mu.Unlock()
		return len(f.sender.sends) == 1 && f.sender.sends[0] == "Não posso atender agora"
	}, time.Second, 10*time.Millisecond)
}

func TestMissedCallWithoutReplyMessage(t *testing.T) {
	f := newCallFixture(t)
	f.settings.settings = &model.TenantSettings{TenantID: 1, AcceptCall: true}

	require.NoError(t, f.terminate(t, "5511999990000@s.whatsapp.net"))

	tickets, err := f.svc.ListByStatus(context.Background(), 1, model.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, tickets, 1)

	time.Sleep(50 * time.Millisecond)
	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	assert.Empty(t, f.sender.sends)
}

func TestCallFromUnknownNumberDropped(t *testing.T) {
	f := newCallFixture(t)
	f.settings.settings = &model.TenantSettings{TenantID: 1, AcceptCall: true, MissedCallMessage: "x"}

	require.NoError(t, f.terminate(t, "5599000000000@s.whatsapp.net"))

	tickets, err := f.svc.ListByStatus(context.Background(), 1, model.StatusPending, 10)
	require.NoError(t, err)
	assert.Empty(t, tickets)
	assert.Empty(t, f.sender.sends)
}

func TestCallReopensClosedTicket(t *testing.T) {
	f := newCallFixture(t)
	f.settings.settings = &model.TenantSettings{TenantID: 1, AcceptCall: true}

	ticket := f.inbound(t, "oi")
	_, err := f.svc.Close(context.Background(), 1, ticket.ID, operator42, model.ClosePolicy{ClearAssignee: boolp(true), IgnoreFarewell: true})
	require.NoError(t, err)

	require.NoError(t, f.terminate(t, "5511999990000@s.whatsapp.net"))

	current, err := f.svc.Get(context.Background(), 1, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, current.Status)
	assert.Contains(t, current.LastMessage, "Missed voice/video call at ")
}
