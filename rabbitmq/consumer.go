package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/yhwhpe/response-orchestrator/orchestrator"
)

// BatchHandler processes one batch of raw record payloads and reports
// the per-record outcomes the consumer needs for ack/retry bookkeeping.
type BatchHandler func(context.Context, [][]byte) (*orchestrator.BatchResult, error)

// Consumer drains the assertions queue into bounded batches. Upstream
// publishes with the conversation id as routing suffix, so one queue
// consumer sees a conversation's records in order.
type Consumer struct {
	url      string
	exchange string
	queue    string
	bindings []string

	prefetch   int
	maxRetries int
	batchSize  int
	batchWait  time.Duration

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func New(url, exchange, queue string, bindings []string, prefetch, maxRetries, batchSize int, batchWait time.Duration) *Consumer {
	if prefetch <= 0 {
		prefetch = 1
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	if batchWait <= 0 {
		batchWait = 200 * time.Millisecond
	}
	return &Consumer{
		url:        url,
		exchange:   exchange,
		queue:      queue,
		bindings:   bindings,
		prefetch:   prefetch,
		maxRetries: maxRetries,
		batchSize:  batchSize,
		batchWait:  batchWait,
	}
}

func (c *Consumer) Ping(ctx context.Context) error {
	_ = ctx
	return c.ensureConnection()
}

func (c *Consumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Consumer) ensureConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed() {
		return nil
	}

	conn, err := amqp.DialConfig(c.url, amqp.Config{Properties: amqp.Table{
		"connection_name": "response-orchestrator",
	}})
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("exchange declare: %w", err)
	}

	q, err := ch.QueueDeclare(c.queue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("queue declare: %w", err)
	}

	for _, rk := range c.bindings {
		if rk == "" {
			continue
		}
		if err := ch.QueueBind(q.Name, rk, c.exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("queue bind %s: %w", rk, err)
		}
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("qos: %w", err)
	}

	c.conn = conn
	c.channel = ch
	return nil
}

func retryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	if v, ok := headers["x-retry-count"]; ok {
		switch t := v.(type) {
		case int32:
			return int(t)
		case int64:
			return int(t)
		case int:
			return t
		}
	}
	return 0
}

func setRetryCount(headers amqp.Table, n int) amqp.Table {
	if headers == nil {
		headers = amqp.Table{}
	}
	headers["x-retry-count"] = int32(n)
	return headers
}

func (c *Consumer) republish(ctx context.Context, d amqp.Delivery, retry int) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil || ch.IsClosed() {
		return errors.New("channel is closed")
	}

	h := setRetryCount(d.Headers, retry)
	return ch.PublishWithContext(
		ctx,
		d.Exchange,
		d.RoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  d.ContentType,
			Body:         d.Body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Headers:      h,
		},
	)
}

// Consume runs the delivery loop until ctx is cancelled, reconnecting
// with jittered backoff on broker failures.
func (c *Consumer) Consume(ctx context.Context, handler BatchHandler) error {
	log.Printf("[RABBITMQ] 🚀 Starting consumer: exchange=%s, queue=%s, bindings=%v, prefetch=%d, batch=%d/%v, maxRetries=%d",
		c.exchange, c.queue, c.bindings, c.prefetch, c.batchSize, c.batchWait, c.maxRetries)

	if c.url == "" {
		return errors.New("rabbitmq url is required")
	}
	if c.exchange == "" {
		return errors.New("rabbitmq exchange is required")
	}
	if c.queue == "" {
		return errors.New("rabbitmq queue is required")
	}
	if len(c.bindings) == 0 {
		return errors.New("rabbitmq bindings are required")
	}

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := c.ensureConnection(); err != nil {
			log.Printf("[RABBITMQ] ❌ Connection failed, retrying in %v: %v", backoff, err)
			j := time.Duration(rand.Int63n(int64(backoff / 2)))
			time.Sleep(backoff + j)
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		log.Printf("[RABBITMQ] 🔗 Connection established")
		backoff = time.Second

		c.mu.Lock()
		ch := c.channel
		queue := c.queue
		c.mu.Unlock()

		msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			log.Printf("[RABBITMQ] ❌ Consumer registration failed: %v", err)
			_ = ch.Close()
			continue
		}

		log.Printf("[RABBITMQ] 🎧 Waiting for messages: queue=%s", queue)

		if ok := c.drainLoop(ctx, msgs, handler); !ok {
			return nil
		}
		_ = ch.Close()
	}
}

// drainLoop collects deliveries into batches and dispatches them. It
// returns false when ctx is done and true when the delivery channel
// closed and a reconnect is needed.
func (c *Consumer) drainLoop(ctx context.Context, msgs <-chan amqp.Delivery, handler BatchHandler) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case d, open := <-msgs:
			if !open {
				log.Printf("[RABBITMQ] 🔌 Delivery channel closed, reconnecting...")
				return true
			}

			batch := []amqp.Delivery{d}
			timer := time.NewTimer(c.batchWait)
		collect:
			for len(batch) < c.batchSize {
				select {
				case <-ctx.Done():
					timer.Stop()
					c.requeueAll(batch)
					return false
				case next, open := <-msgs:
					if !open {
						break collect
					}
					batch = append(batch, next)
				case <-timer.C:
					break collect
				}
			}
			timer.Stop()

			c.dispatch(ctx, batch, handler)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, batch []amqp.Delivery, handler BatchHandler) {
	records := make([][]byte, len(batch))
	for i, d := range batch {
		records[i] = d.Body
	}

	log.Printf("[RABBITMQ] 📦 Dispatching batch of %d record(s)", len(batch))
	result, err := handler(ctx, records)
	if err != nil {
		// Fatal: nothing was processed, redeliver the whole batch.
		log.Printf("[RABBITMQ] ❌ Batch handler failed fatally, requeueing %d record(s): %v", len(batch), err)
		c.requeueAll(batch)
		return
	}

	for i, res := range result.Results {
		d := batch[i]
		switch {
		case res.Success():
			_ = d.Ack(false)
		case res.Skipped:
			log.Printf("[RABBITMQ] 🔄 Record skipped (time budget), NACK requeue: delivery_tag=%d", d.DeliveryTag)
			_ = d.Nack(false, true)
		case res.Terminal:
			// Data-quality failure: drop, never retried.
			log.Printf("[RABBITMQ] 🚫 Malformed record dropped: delivery_tag=%d, error=%v", d.DeliveryTag, res.Err)
			_ = d.Nack(false, false)
		default:
			c.retry(ctx, d, res.Err)
		}
	}
	for j := len(result.Results); j < len(batch); j++ {
		_ = batch[j].Nack(false, true)
	}
}

func (c *Consumer) retry(ctx context.Context, d amqp.Delivery, cause error) {
	rc := retryCount(d.Headers)
	if rc >= c.maxRetries {
		log.Printf("[RABBITMQ] 💀 Max retries exceeded (%d), dropping: delivery_tag=%d, error=%v", rc, d.DeliveryTag, cause)
		_ = d.Ack(false)
		return
	}

	repCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	repErr := c.republish(repCtx, d, rc+1)
	cancel()
	if repErr != nil {
		log.Printf("[RABBITMQ] ❌ Republish failed, NACK requeue: delivery_tag=%d, error=%v", d.DeliveryTag, repErr)
		_ = d.Nack(false, true)
		return
	}
	log.Printf("[RABBITMQ] 🔄 Record republished for retry %d: delivery_tag=%d, error=%v", rc+1, d.DeliveryTag, cause)
	_ = d.Ack(false)
}

func (c *Consumer) requeueAll(batch []amqp.Delivery) {
	for _, d := range batch {
		_ = d.Nack(false, true)
	}
}
