// Package outbox holds the bounded store-and-forward buffer for records
// that could not be handed to the transport.
//
// The buffer is a strict FIFO with oldest-drop eviction: when full, the
// earliest record is discarded to make room, never the newest. Records
// leave the front only after the transport confirms a send, so the
// collector always sees them in the order they were produced.
//
// A Buffer is not safe for concurrent use. It is owned by the
// connectivity controller and touched only from the cycle loop.
package outbox

import (
	"errors"
	"fmt"
)

// MaxPayload bounds a single record's payload.
const MaxPayload = 1024

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 100

// ErrPayloadTooLarge is returned by [NewRecord] for oversize payloads.
var ErrPayloadTooLarge = errors.New("payload too large")

// Kind is the logical category of a record.
type Kind string

const (
	KindTelemetry Kind = "telemetry"
	KindState     Kind = "state"
	KindLifecycle Kind = "lifecycle"
)

// Record is one serialized outbound message. Treat it as immutable:
// NewRecord copies the payload and nothing in this module writes to it
// afterwards.
type Record struct {
	Kind    Kind   `json:"kind"`
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

// NewRecord validates and builds a Record.
func NewRecord(kind Kind, topic string, payload []byte) (Record, error) {
	if len(payload) > MaxPayload {
		return Record{}, fmt.Errorf("%s record for %s: %d bytes: %w", kind, topic, len(payload), ErrPayloadTooLarge)
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	return Record{Kind: kind, Topic: topic, Payload: p}, nil
}

// Buffer is a bounded FIFO of records.
type Buffer struct {
	data    []Record
	cap     int
	dropped uint64
}

// New creates an empty buffer holding at most capacity records.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		data: make([]Record, 0, capacity),
		cap:  capacity,
	}
}

// Enqueue appends r. If the buffer is full the oldest record is evicted
// first and counted as dropped. Enqueue always succeeds.
func (b *Buffer) Enqueue(r Record) {
	if len(b.data) >= b.cap {
		b.shift()
		b.dropped++
	}
	b.data = append(b.data, r)
}

// PeekFront returns the oldest pending record without removing it.
func (b *Buffer) PeekFront() (Record, bool) {
	if len(b.data) == 0 {
		return Record{}, false
	}
	return b.data[0], true
}

// PopFront removes the oldest record. Call it only after the transport
// has accepted that record. It is a no-op on an empty buffer.
func (b *Buffer) PopFront() {
	if len(b.data) == 0 {
		return
	}
	b.shift()
}

// shift drops index 0 in place, keeping the backing array so a full
// buffer never reallocates.
func (b *Buffer) shift() {
	n := len(b.data)
	copy(b.data, b.data[1:])
	b.data[n-1] = Record{}
	b.data = b.data[:n-1]
}

// Len returns the number of pending records.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Cap returns the capacity.
func (b *Buffer) Cap() int {
	return b.cap
}

// Dropped returns how many records have been evicted since creation.
func (b *Buffer) Dropped() uint64 {
	return b.dropped
}

// Snapshot returns a copy of the pending records, oldest first.
func (b *Buffer) Snapshot() []Record {
	out := make([]Record, len(b.data))
	copy(out, b.data)
	return out
}
