// Package upstream connects the engine to the messaging channel broker.
// Deliveries are at-least-once: consumers must tolerate duplicates and
// redelivery.
package upstream

import (
	"encoding/json"
	"time"

	"github.com/nemwellington/vendanozap/internal/model"
)

// Routing keys on the channel events exchange.
const (
	KeyCallTerminated = "channel.call.terminated"
	KeyContactsUpsert = "channel.contacts.upsert"
	KeyMessageInbound = "channel.message.inbound"
	KeyMessageSend    = "channel.message.send"
)

// Meta travels with every envelope.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	TenantID      int64     `json:"tenant_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Envelope is the wire frame for channel events.
type Envelope struct {
	Meta Meta            `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// CallTerminated notifies that an inbound call ended without being picked
// up in the channel app.
type CallTerminated struct {
	ConnectionID string `json:"connection_id"`
	From         string `json:"from"`
	CallID       string `json:"call_id"`
}

// ContactsUpsert carries a raw contact batch from the channel session.
type ContactsUpsert struct {
	ConnectionID string             `json:"connection_id"`
	Contacts     []model.RawContact `json:"contacts"`
}

// MessageInbound is one conversation message from a contact.
type MessageInbound struct {
	ConnectionID string `json:"connection_id"`
	From         string `json:"from"`
	WID          string `json:"wid"`
	Body         string `json:"body"`
	MediaType    string `json:"media_type"`
	FromMe       bool   `json:"from_me"`
	IsGroup      bool   `json:"is_group"`
	PushName     string `json:"push_name"`
}

// MessageSend asks the channel session to deliver text to a peer.
type MessageSend struct {
	ConnectionID string `json:"connection_id"`
	To           string `json:"to"`
	Body         string `json:"body"`
}
