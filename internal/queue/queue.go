package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/logx"
)

// Handler processes one delivery. A non-nil error triggers a retry.
type Handler func(body []byte) error

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler Handler) error
}

// InMemoryQueue delivers in-process with retry. Used when QUEUE_DRIVER=memory.
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]Handler
	inflight   sync.WaitGroup
	MaxRetries int
	Backoff    time.Duration
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]Handler),
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
	}
}

// job wraps a message payload with retry info
type job struct {
	topic      string
	body       []byte
	retryCount int
}

// Publish encodes payload as JSON and hands it to every subscriber of topic.
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}

	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		q.inflight.Add(1)
		go q.process(handler, job{topic: topic, body: body})
	}
	return nil
}

func (q *InMemoryQueue) process(handler Handler, j job) {
	defer q.inflight.Done()

	for {
		err := handler(j.body)
		if err == nil {
			return
		}

		j.retryCount++
		if j.retryCount > q.MaxRetries {
			logx.L().Warnw("job_dropped_after_retries", "topic", j.topic, "retries", q.MaxRetries, "error", err)
			return
		}
		logx.L().Infow("job_retry", "topic", j.topic, "attempt", j.retryCount, "error", err)

		// Linear backoff before retry
		time.Sleep(time.Duration(j.retryCount) * q.Backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job finished or was dropped.
func (q *InMemoryQueue) Wait() { q.inflight.Wait() }
