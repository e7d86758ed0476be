package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/unclebandit/campaign-dispatch/internal/logx"
)

const retryHeader = "x-retry-count"

// RabbitMQ publishes each topic to a durable queue of the same name.
// Failed deliveries are republished with an incremented x-retry-count
// header and dropped after MaxRetries.
type RabbitMQ struct {
	conn       *amqp.Connection
	mu         sync.Mutex
	ch         *amqp.Channel
	declared   map[string]bool
	MaxRetries int
}

func DialRabbitMQ(url string, maxRetries int) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	return &RabbitMQ{conn: conn, ch: ch, declared: map[string]bool{}, MaxRetries: maxRetries}, nil
}

// declare must be called with mu held.
func (q *RabbitMQ) declare(ch *amqp.Channel, topic string) error {
	if q.declared[topic] {
		return nil
	}
	_, err := ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", topic, err)
	}
	q.declared[topic] = true
	return nil
}

func (q *RabbitMQ) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return q.publish(topic, body, 0)
}

func (q *RabbitMQ) publish(topic string, body []byte, retries int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.declare(q.ch, topic); err != nil {
		return err
	}
	return q.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{retryHeader: int32(retries)},
		Body:         body,
	})
}

// Subscribe consumes topic on its own channel with manual acks.
func (q *RabbitMQ) Subscribe(topic string, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	q.mu.Lock()
	err = q.declare(ch, topic)
	q.mu.Unlock()
	if err != nil {
		return err
	}

	msgs, err := ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for d := range msgs {
			q.handle(topic, d, handler)
		}
		logx.L().Infow("consumer_stopped", "topic", topic)
	}()
	return nil
}

func (q *RabbitMQ) handle(topic string, d amqp.Delivery, handler Handler) {
	err := handler(d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	retries := RetryCount(d.Headers)
	if retries >= q.MaxRetries {
		logx.L().Warnw("job_dropped_after_retries", "topic", topic, "retries", retries, "error", err)
		_ = d.Ack(false)
		return
	}

	logx.L().Infow("job_retry", "topic", topic, "attempt", retries+1, "error", err)
	time.Sleep(time.Duration(retries+1) * 500 * time.Millisecond)
	if perr := q.publish(topic, d.Body, retries+1); perr != nil {
		logx.L().Errorw("retry_publish_error", "topic", topic, "error", perr)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// RetryCount reads the x-retry-count header, whatever integer type the
// broker decoded it as.
func RetryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case uint8:
		return int(v)
	}
	return 0
}

func (q *RabbitMQ) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch != nil {
		q.ch.Close()
	}
	return q.conn.Close()
}
