package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher emits decision/update events to the outbound exchange. One
// instance is constructed per process and shared by the emitter.
type Publisher struct {
	url      string
	exchange string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewPublisher(url, exchange string) *Publisher {
	return &Publisher{
		url:      url,
		exchange: exchange,
	}
}

func (p *Publisher) Ping(ctx context.Context) error {
	_ = ctx
	return p.ensureConnection()
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

func (p *Publisher) ensureConnection() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil && !p.conn.IsClosed() && p.channel != nil && !p.channel.IsClosed() {
		return nil
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{Properties: amqp.Table{
		"connection_name": "response-orchestrator-publisher",
	}})
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("exchange declare: %w", err)
	}

	p.conn = conn
	p.channel = ch
	return nil
}

// Publish sends a serialized event under the topic routing key. The
// conversation id rides in headers as the partition key and the event
// id becomes the MessageId for downstream dedup.
func (p *Publisher) Publish(ctx context.Context, topic, conversationID, eventID string, body []byte) error {
	if err := p.ensureConnection(); err != nil {
		return err
	}

	p.mu.Lock()
	ch := p.channel
	p.mu.Unlock()

	return ch.PublishWithContext(
		ctx,
		p.exchange,
		topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			MessageId:    eventID,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Headers: amqp.Table{
				"x-conversation-id": conversationID,
			},
		},
	)
}
