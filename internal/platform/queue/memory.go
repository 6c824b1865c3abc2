package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const pollInterval = 20 * time.Millisecond

type memoryMessage struct {
	id            string
	body          []byte
	receiptHandle string
	receiveCount  int
	visibleAt     time.Time
}

// InMemoryQueue is a thread-safe Queue with visibility-timeout redelivery and
// dead-letter routing, suitable for development, tests, and single-process
// deployments.
type InMemoryQueue struct {
	mu              sync.Mutex
	messages        []*memoryMessage
	dead            []*Message
	maxReceiveCount int
	now             func() time.Time
}

// NewInMemoryQueue creates an empty queue. Messages received more than
// maxReceiveCount times are moved to the dead-letter list instead of being
// redelivered; zero or negative disables dead-lettering.
func NewInMemoryQueue(maxReceiveCount int) *InMemoryQueue {
	return &InMemoryQueue{
		maxReceiveCount: maxReceiveCount,
		now:             time.Now,
	}
}

// Send enqueues a message body.
func (q *InMemoryQueue) Send(_ context.Context, body []byte) error {
	cp := make([]byte, len(body))
	copy(cp, body)

	q.mu.Lock()
	q.messages = append(q.messages, &memoryMessage{
		id:   uuid.New().String(),
		body: cp,
	})
	q.mu.Unlock()
	return nil
}

// Receive long-polls for up to opts.WaitTime, returning as soon as at least
// one message is visible. Returned messages stay invisible for
// opts.VisibilityTimeout; unacknowledged messages are redelivered afterwards.
func (q *InMemoryQueue) Receive(ctx context.Context, opts ReceiveOptions) ([]*Message, error) {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 1
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 30 * time.Second
	}

	deadline := q.now().Add(opts.WaitTime)
	for {
		if msgs := q.receiveVisible(opts); len(msgs) > 0 {
			return msgs, nil
		}
		if q.now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (q *InMemoryQueue) receiveVisible(opts ReceiveOptions) []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []*Message
	kept := q.messages[:0]
	for _, m := range q.messages {
		if len(out) >= opts.MaxMessages || now.Before(m.visibleAt) {
			kept = append(kept, m)
			continue
		}

		m.receiveCount++
		if q.maxReceiveCount > 0 && m.receiveCount > q.maxReceiveCount {
			// Poison message: route to the dead-letter list.
			q.dead = append(q.dead, &Message{
				ID:           m.id,
				Body:         m.body,
				ReceiveCount: m.receiveCount,
			})
			continue
		}

		m.receiptHandle = uuid.New().String()
		m.visibleAt = now.Add(opts.VisibilityTimeout)
		kept = append(kept, m)
		out = append(out, &Message{
			ID:            m.id,
			Body:          m.body,
			ReceiptHandle: m.receiptHandle,
			ReceiveCount:  m.receiveCount,
		})
	}
	q.messages = kept
	return out
}

// Delete acknowledges a message by its receipt handle. A handle invalidated
// by an elapsed visibility timeout returns ErrUnknownReceipt.
func (q *InMemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, m := range q.messages {
		if m.receiptHandle == receiptHandle && receiptHandle != "" {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return nil
		}
	}
	return ErrUnknownReceipt
}

// DeadLetters returns a copy of the dead-letter list.
func (q *InMemoryQueue) DeadLetters() []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Message, len(q.dead))
	copy(out, q.dead)
	return out
}

// Len reports how many messages are pending or in flight.
func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}
