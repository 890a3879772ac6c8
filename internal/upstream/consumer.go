package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nemwellington/vendanozap/internal/repository"
	"github.com/nemwellington/vendanozap/internal/service"

	"github.com/rabbitmq/amqp091-go"
)

const (
	reconnectBase = time.Second
	reconnectCap  = 30 * time.Second
)

var errConsumerClosed = errors.New("consumer closed")

// Consumer drains the inbound queue and routes channel events into the
// engine. The broker redelivers unacked messages, so every handler must be
// idempotent. The connection is supervised: when the broker drops it, the
// consumer redials with exponential backoff instead of going quiet.
type Consumer struct {
	url      string
	exchange string
	queue    string

	mu   sync.Mutex
	conn *amqp091.Connection
	ch   *amqp091.Channel

	contacts   *repository.ContactRepository
	tickets    *service.TicketService
	reconciler *service.ContactReconciler
	calls      *service.CallMonitor

	done chan struct{}
}

func NewConsumer(url, exchange, queue string, contacts *repository.ContactRepository, tickets *service.TicketService, reconciler *service.ContactReconciler, calls *service.CallMonitor) (*Consumer, error) {
	c := &Consumer{
		url:        url,
		exchange:   exchange,
		queue:      queue,
		contacts:   contacts,
		tickets:    tickets,
		reconciler: reconciler,
		calls:      calls,
		done:       make(chan struct{}),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// connect dials the broker and declares the consume topology.
func (c *Consumer) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := ch.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return err
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return err
	}
	for _, key := range []string{KeyCallTerminated, KeyContactsUpsert, KeyMessageInbound} {
		if err := ch.QueueBind(c.queue, key, c.exchange, false, nil); err != nil {
			conn.Close()
			return err
		}
	}
	if err := ch.Qos(16, 0, false); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn, c.ch = conn, ch
	c.mu.Unlock()
	return nil
}

func (c *Consumer) channel() *amqp091.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch
}

// Run consumes until Close or context cancellation. Handler errors nack
// with requeue so transient failures are retried by the broker. A dropped
// broker connection closes the delivery channel; Run then redials instead
// of returning, so ingress never stops silently.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		deliveries, err := c.channel().Consume(c.queue, "", false, false, false, false, nil)
		if err != nil {
			log.Printf("[AMQP] consume failed: %v", err)
			if rerr := c.redial(ctx); rerr != nil {
				if errors.Is(rerr, errConsumerClosed) {
					return nil
				}
				return rerr
			}
			continue
		}

	drain:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.done:
				return nil
			case d, ok := <-deliveries:
				if !ok {
					break drain
				}
				if err := c.handle(ctx, d); err != nil {
					log.Printf("[AMQP] %s failed (redelivered=%v): %v", d.RoutingKey, d.Redelivered, err)
					_ = d.Nack(false, !d.Redelivered)
					continue
				}
				_ = d.Ack(false)
			}
		}

		log.Printf("[AMQP] delivery channel closed, reconnecting")
		if err := c.redial(ctx); err != nil {
			if errors.Is(err, errConsumerClosed) {
				return nil
			}
			return err
		}
	}
}

// redial reconnects with exponential backoff until it succeeds, the context
// is cancelled, or the consumer is shut down.
func (c *Consumer) redial(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	backoff := reconnectBase
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return errConsumerClosed
		default:
		}

		err := c.connect()
		if err == nil {
			log.Printf("[AMQP] reconnected (attempt %d)", attempt)
			return nil
		}
		log.Printf("[AMQP] reconnect attempt %d failed: %v (retrying in %s)", attempt, err, backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return errConsumerClosed
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d*2 > reconnectCap {
		return reconnectCap
	}
	return d * 2
}

func (c *Consumer) Close() error {
	close(c.done)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

func (c *Consumer) handle(ctx context.Context, d amqp091.Delivery) error {
	var env Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		// Malformed frames can never succeed; drop instead of requeueing
		// forever.
		log.Printf("[AMQP] dropping malformed %s frame: %v", d.RoutingKey, err)
		return nil
	}
	if env.Meta.TenantID <= 0 {
		log.Printf("[AMQP] dropping %s frame without tenant", d.RoutingKey)
		return nil
	}

	switch d.RoutingKey {
	case KeyCallTerminated:
		var ev CallTerminated
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			log.Printf("[AMQP] dropping malformed call event: %v", err)
			return nil
		}
		return c.calls.HandleCallTerminated(ctx, env.Meta.TenantID, ev.ConnectionID, ev.From, ev.CallID)

	case KeyContactsUpsert:
		var ev ContactsUpsert
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			log.Printf("[AMQP] dropping malformed contacts batch: %v", err)
			return nil
		}
		accepted, rejectedCount, err := c.reconciler.Reconcile(ctx, env.Meta.TenantID, ev.Contacts)
		if err != nil {
			return err
		}
		log.Printf("[AMQP] reconciled %d contacts for workspace %d (%d filtered)", len(accepted), env.Meta.TenantID, rejectedCount)
		return nil

	case KeyMessageInbound:
		var ev MessageInbound
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			log.Printf("[AMQP] dropping malformed inbound message: %v", err)
			return nil
		}
		return c.handleInbound(ctx, env.Meta.TenantID, ev)

	default:
		log.Printf("[AMQP] ignoring unknown routing key %s", d.RoutingKey)
		return nil
	}
}

func (c *Consumer) handleInbound(ctx context.Context, tenantID int64, ev MessageInbound) error {
	name := service.SanitizeName(ev.PushName)
	contact, err := c.contacts.Upsert(ctx, tenantID, ev.From, name, ev.IsGroup)
	if err != nil {
		return err
	}
	_, err = c.tickets.HandleInbound(ctx, tenantID, ev.ConnectionID, contact, service.InboundMessage{
		WID:       ev.WID,
		Body:      ev.Body,
		MediaType: ev.MediaType,
		FromMe:    ev.FromMe,
	})
	return err
}
