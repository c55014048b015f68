// Package queue defines the at-least-once delivery transport between the
// send path and the fan-out engine. Implementations are in queue/redis
// (Redis Streams) and queue/memory (in-process, for tests).
//
// The contract is deliberately small: a producer hands over an opaque
// payload and gets back a transport-assigned ID; a consumer receives
// batches of records and acknowledges each record independently. Records
// are redelivered until acknowledged, so processing must tolerate
// duplicates. No ordering is guaranteed across records.
package queue

import (
	"context"
	"errors"
)

// Sentinel errors for the queue package.
var (
	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("queue: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("queue: already connected")

	// ErrUnknownRecord is returned when acknowledging a record the
	// transport is not tracking.
	ErrUnknownRecord = errors.New("queue: unknown record")
)

// Record is one queued payload as seen by a consumer.
type Record struct {
	// ID is the transport-assigned identifier, used to acknowledge.
	ID string

	// Body is the opaque payload handed to Send.
	Body []byte

	// Deliveries is the number of times this record has been delivered,
	// including this one. Zero when the transport doesn't track it.
	Deliveries int64
}

// Queue is an at-least-once record transport.
//
// All operations must be safe for concurrent use.
type Queue interface {
	// Connect prepares the transport (streams, consumer groups).
	Connect(ctx context.Context) error

	// Close releases transport resources.
	Close(ctx context.Context) error

	// Send enqueues a payload and returns the transport-assigned record ID.
	Send(ctx context.Context, body []byte) (string, error)

	// Receive returns up to max pending records, blocking up to the
	// transport's poll interval when none are available. An empty result
	// is not an error.
	Receive(ctx context.Context, max int) ([]Record, error)

	// Ack marks a record as processed so it is not redelivered.
	Ack(ctx context.Context, id string) error
}
