// Package events publishes ledger state changes to the message broker.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cpvl/dues-server/internal/utils"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher delivers payment events
type Publisher interface {
	Publish(ctx context.Context, evt *PaymentEvent) error
	Close() error
}

// NoopPublisher drops every event. It is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *PaymentEvent) error { return nil }
func (NoopPublisher) Close() error                                 { return nil }

// RecordingPublisher keeps published events in memory
type RecordingPublisher struct {
	mu     sync.Mutex
	events []PaymentEvent
}

func (p *RecordingPublisher) Publish(_ context.Context, evt *PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *evt)
	return nil
}

func (p *RecordingPublisher) Close() error { return nil }

// Events returns a copy of everything published so far
func (p *RecordingPublisher) Events() []PaymentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PaymentEvent, len(p.events))
	copy(out, p.events)
	return out
}

// AMQPPublisher publishes events to a topic exchange, routed by event type
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	logger   *utils.Logger
}

// NewAMQPPublisher dials url and declares the exchange
func NewAMQPPublisher(url, exchange string, logger *utils.Logger) (*AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	p := &AMQPPublisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		logger:   logger.Named("events"),
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return p, nil
}

// Publish sends evt with persistent delivery
func (p *AMQPPublisher) Publish(ctx context.Context, evt *PaymentEvent) error {
	body, err := evt.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange, // exchange
		evt.Type,   // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    evt.ID,
			Timestamp:    evt.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	p.logger.Debug("published payment event",
		zap.String("id", evt.ID),
		zap.String("type", evt.Type),
		zap.Int64("pilot_id", evt.PilotID),
		zap.Int("keys", len(evt.Keys)))

	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
