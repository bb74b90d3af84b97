package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rabbitmq/amqp091-go"

	"github.com/hackgods/telehealth-slot-reservation/internal/reservation"
	"github.com/hackgods/telehealth-slot-reservation/internal/verification"
)

func Dial(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	return conn, nil
}

// channel is the part of *amqp091.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Publisher sends OTP delivery jobs to a work queue and booking events to a topic exchange.
type Publisher struct {
	mu       sync.Mutex
	channel  channel
	queue    string
	exchange string
}

func NewPublisher(conn *amqp091.Connection, queue, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{channel: ch, queue: queue, exchange: exchange}, nil
}

func (p *Publisher) publish(ctx context.Context, exchange, key, messageType string, body []byte) error {
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Headers: amqp091.Table{
			"message_type": messageType,
		},
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func (p *Publisher) SendOTP(ctx context.Context, d verification.Delivery) error {
	body, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return p.publish(ctx, "", p.queue, "otp", body)
}

// Record publishes ev under a routing key derived from its type, e.g. "slot.booked".
func (p *Publisher) Record(ctx context.Context, ev reservation.EventLog) error {
	return p.publish(ctx, p.exchange, RoutingKey(ev.EventType), ev.EventType, ev.Payload)
}

func RoutingKey(eventType string) string {
	return strings.ReplaceAll(strings.ToLower(eventType), "_", ".")
}

func (p *Publisher) Close() error {
	return p.channel.Close()
}
