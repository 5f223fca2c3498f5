// Package mailer hands one-time code messages to an asynchronous sender.
// Delivery is fire-and-forget: the auth flows never wait on it and never
// observe delivery failures.
package mailer

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Message is the outbound payload consumed by the mail sender.
type Message struct {
	ToEmail          string `json:"to_email"`
	OTPCode          string `json:"otp_code"`
	ExpiresInMinutes int    `json:"expires_in_minutes"`
}

// Dispatcher accepts messages for eventual delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message)
}

// Sender performs the actual delivery. Implementations may block.
type Sender interface {
	Send(msg Message) error
}

// NoopDispatcher drops messages. Used in tests.
type NoopDispatcher struct{}

func (NoopDispatcher) Dispatch(context.Context, Message) {}

// Queue buffers messages and delivers them on a background worker.
// A full buffer drops the message rather than blocking the auth flow.
type Queue struct {
	sender    Sender
	logger    *zap.Logger
	ch        chan Message
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closeOnce sync.Once
}

// NewQueue starts the delivery worker.
func NewQueue(sender Sender, buffer int, logger *zap.Logger) *Queue {
	if buffer <= 0 {
		buffer = 64
	}

	q := &Queue{
		sender: sender,
		logger: logger,
		ch:     make(chan Message, buffer),
		done:   make(chan struct{}),
	}

	q.wg.Add(1)
	go q.run()

	return q
}

func (q *Queue) run() {
	defer q.wg.Done()

	for {
		select {
		case msg := <-q.ch:
			q.deliver(msg)
		case <-q.done:
			for {
				select {
				case msg := <-q.ch:
					q.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) deliver(msg Message) {
	if err := q.sender.Send(msg); err != nil {
		q.logger.Warn("otp mail delivery failed",
			zap.String("to", msg.ToEmail),
			zap.Error(err))
	}
}

// Dispatch enqueues a message without blocking.
func (q *Queue) Dispatch(ctx context.Context, msg Message) {
	select {
	case q.ch <- msg:
	case <-q.done:
	case <-ctx.Done():
	default:
		q.dropped.Add(1)
		q.logger.Warn("otp mail queue full, message dropped", zap.String("to", msg.ToEmail))
	}
}

// Dropped returns how many messages were discarded due to a full buffer.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close drains the queue and stops the worker.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		q.wg.Wait()
	})
}
