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

// ContactFinder looks a contact up by its channel identifier.
type ContactFinder interface {
	GetByChannelID(ctx context.Context, tenantID int64, channelID string) (*model.Contact, error)
}

// CallMonitor handles call-termination notifications from the upstream
// channel: when the tenant accepts call handling, a missed call becomes an
// auto-reply (throttled — the upstream penalizes bursts) plus a call_log
// record on the contact's tracked ticket.
type CallMonitor struct {
	contacts ContactFinder
	tickets  *TicketService
	settings SettingsStore
	outbound OutboundSender
	throttle *Throttle
}

func NewCallMonitor(contacts ContactFinder, tickets *TicketService, settings SettingsStore, outbound OutboundSender, throttle *Throttle) *CallMonitor {
	return &CallMonitor{
		contacts: contacts,
		tickets:  tickets,
		settings: settings,
		outbound: outbound,
		throttle: throttle,
	}
}

// HandleCallTerminated processes one (possibly redelivered) termination
// notification.
func (m *CallMonitor) HandleCallTerminated(ctx context.Context, tenantID int64, connectionID, from, callID string) error {
	settings, err := m.settings.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if !settings.AcceptCall {
		return nil
	}

	number := channelFragment(from)
	number = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)
	if number == "" {
		return nil
	}

	contact, err := m.contacts.GetByChannelID(ctx, tenantID, number)
	if errors.Is(err, repository.ErrNotFound) {
		// Unknown callers are not routed.
		return nil
	}
	if err != nil {
		return err
	}

	if settings.MissedCallMessage != "" {
		channelID := contact.ChannelID
		if err := m.throttle.Schedule(func() {
			sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := m.outbound.SendText(sendCtx, tenantID, connectionID, channelID, settings.MissedCallMessage); err != nil {
				log.Printf("[Calls] reply to %s failed: %v", channelID, err)
			}
		}); err != nil {
			log.Printf("[Calls] reply to %s dropped: %v", contact.ChannelID, err)
		}
	}

	now := time.Now()
	body := fmt.Sprintf("Missed voice/video call at %02d:%02d", now.Hour(), now.Minute())
	_, err = m.tickets.HandleInbound(ctx, tenantID, connectionID, contact, InboundMessage{
		WID:       callID,
		Body:      body,
		MediaType: "call_log",
	})
	return err
}
