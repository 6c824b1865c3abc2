// Package queue defines the at-least-once work queue contract used by the
// processing pipeline, plus two implementations: an in-memory queue for
// development and tests, and a Redis-backed queue for distributed deployments.
//
// Delivery semantics mirror a visibility-timeout queue: a received message
// becomes invisible for a bounded period and is redelivered if not deleted
// in time. After a configured number of failed deliveries the message is
// routed to a dead-letter destination instead of being redelivered forever.
package queue

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors.
var (
	ErrUnknownReceipt = errors.New("unknown or expired receipt handle")
)

// Message is a single unit of work. ReceiptHandle is only valid while the
// message is invisible; Delete must be called with it to acknowledge.
type Message struct {
	ID            string
	Body          []byte
	ReceiptHandle string
	ReceiveCount  int
}

// ReceiveOptions bounds a single Receive call. WaitTime is the long-poll
// ceiling; Receive returns earlier as soon as at least one message is
// available or the context is cancelled.
type ReceiveOptions struct {
	MaxMessages       int
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
}

// Queue is the transport contract shared by the processing worker and the
// notification dispatcher. Implementations provide at-least-once delivery;
// consumers must tolerate redelivery.
type Queue interface {
	Send(ctx context.Context, body []byte) error
	Receive(ctx context.Context, opts ReceiveOptions) ([]*Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}
