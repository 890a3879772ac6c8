package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Publisher pushes outbound sends onto the channel events exchange.
type Publisher struct {
	conn     *amqp091.Connection
	exchange string
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, exchange: exchange}, nil
}

func (p *Publisher) Close() error {
	return p.conn.Close()
}

// Connected reports whether the broker connection is still alive.
func (p *Publisher) Connected() bool {
	return !p.conn.IsClosed()
}

// SendText publishes a message.send command for the channel session.
func (p *Publisher) SendText(ctx context.Context, tenantID int64, connectionID, channelID, body string) error {
	data, err := json.Marshal(&MessageSend{
		ConnectionID: connectionID,
		To:           channelID,
		Body:         body,
	})
	if err != nil {
		return err
	}
	return p.publish(ctx, KeyMessageSend, tenantID, data)
}

func (p *Publisher) publish(ctx context.Context, key string, tenantID int64, data json.RawMessage) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	env := Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			CorrelationID: uuid.NewString(),
			TenantID:      tenantID,
			OccurredAt:    time.Now(),
		},
		Data: data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Timestamp:     env.Meta.OccurredAt,
		Body:          body,
	})
	if err == nil {
		log.Printf("[AMQP] published %s for workspace %d", key, tenantID)
	}
	return err
}
