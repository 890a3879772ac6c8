package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nemwellington/vendanozap/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) *WSHub {
	t.Helper()
	hub := NewWSHub()
	go hub.Run()
	t.Cleanup(hub.Shutdown)
	return hub
}

// newTestClient registers a client and waits for the hub loop to apply the
// registration before the test publishes anything.
func newTestClient(t *testing.T, hub *WSHub, tenantID int64, userID string) *WSClient {
	t.Helper()
	before := hub.OnlineCount()
	client := NewWSClient(nil, userID, tenantID)
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.OnlineCount() > before }, time.Second, time.Millisecond)
	return client
}

func recv(t *testing.T, client *WSClient) *model.WSEvent {
	t.Helper()
	select {
	case frame := <-client.Send:
		var event model.WSEvent
		require.NoError(t, json.Unmarshal(frame, &event))
		return &event
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func assertSilent(t *testing.T, client *WSClient) {
	t.Helper()
	select {
	case frame := <-client.Send:
		t.Fatalf("unexpected event: %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubPublishesOnlyToJoinedRooms(t *testing.T) {
	hub := newTestHub(t)
	inRoom := newTestClient(t, hub, 1, "u1")
	outOfRoom := newTestClient(t, hub, 1, "u2")

	hub.Join(inRoom, "pending")

	hub.Publish(1, []string{"pending"}, "ticket", fiberMapStub{"x": "y"})
	event := recv(t, inRoom)
	assert.Equal(t, "ticket", event.Type)
	assertSilent(t, outOfRoom)
}

func TestHubTenantIsolation(t *testing.T) {
	hub := newTestHub(t)
	tenant1 := newTestClient(t, hub, 1, "u1")
	tenant2 := newTestClient(t, hub, 2, "u2")

	// Same room key in both tenants; only tenant 1 may see tenant 1's
	// events.
	hub.Join(tenant1, model.NotificationRoom)
	hub.Join(tenant2, model.NotificationRoom)

	hub.Publish(1, []string{model.NotificationRoom}, "announce", fiberMapStub{"msg": "hello"})
	recv(t, tenant1)
	assertSilent(t, tenant2)
}

func TestHubDeliversOncePerSubscriber(t *testing.T) {
	hub := newTestHub(t)
	client := newTestClient(t, hub, 1, "u1")

	ticketID := "3e0c4f6e-8a16-4f05-9dc9-1d9c3a1b2c4d"
	hub.Join(client, ticketID)
	hub.Join(client, "open")
	hub.Join(client, model.NotificationRoom)

	ticket := &model.Ticket{ID: ticketID, TenantID: 1, Status: model.StatusOpen}
	hub.PublishTicket("update", ticket)

	recv(t, client)
	// Member of all three target rooms, but delivered at most once.
	assertSilent(t, client)
}

func TestHubOrderingPerSubscriber(t *testing.T) {
	hub := newTestHub(t)
	client := newTestClient(t, hub, 1, "u1")
	hub.Join(client, "pending")

	for i := 0; i < 5; i++ {
		hub.Publish(1, []string{"pending"}, "ticket", fiberMapStub{"seq": string(rune('0' + i))})
	}

	var got []string
	for i := 0; i < 5; i++ {
		event := recv(t, client)
		var payload map[string]string
		require.NoError(t, json.Unmarshal(event.Data, &payload))
		got = append(got, payload["seq"])
	}
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, got)
}

func TestHubLeaveStopsDelivery(t *testing.T) {
	hub := newTestHub(t)
	client := newTestClient(t, hub, 1, "u1")
	hub.Join(client, "pending")
	hub.Leave(client, "pending")

	hub.Publish(1, []string{"pending"}, "ticket", fiberMapStub{})
	assertSilent(t, client)
}

// fiberMapStub keeps the payload type local to the tests.
type fiberMapStub map[string]string
