// Package ringchan provides a bounded event channel that never blocks its
// producer: when the buffer is full the oldest pending value is dropped.
package ringchan

import (
	"sync"

	"go.uber.org/atomic"
)

// RingChannel is a bounded channel with overwrite-oldest semantics.
//
//	rc := ringchan.New[scanner.DeviceEvent](64)
//	rc.Send(ev)          // never blocks
//	for ev := range rc.C() {
//	    ...
//	}
//
// Consumers read from C() like a normal channel, or use Receive/TryReceive
// to have reads counted in Stats.
type RingChannel[T any] struct {
	mu     sync.Mutex // serializes producers and Close
	ch     chan T
	closed bool

	written     atomic.Int64
	overwritten atomic.Int64
	processed   atomic.Int64
	rejected    atomic.Int64
}

// Stats is a point-in-time copy of the channel counters.
type Stats struct {
	Written     int64 // values accepted
	Overwritten int64 // pending values dropped to make room
	Processed   int64 // values taken through Receive/TryReceive
	Rejected    int64 // sends after Close or refused by TrySend
}

// New creates a RingChannel holding at most capacity pending values.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed by Close.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, dropping the oldest pending value if the buffer is full.
// It reports whether a value was dropped. Sends after Close are discarded.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		rc.rejected.Inc()
		return false
	}

	for {
		select {
		case rc.ch <- v:
			rc.written.Inc()
			return dropped
		default:
		}

		// A consumer may drain the buffer between the two selects.
		select {
		case <-rc.ch:
			rc.overwritten.Inc()
			dropped = true
		default:
		}
	}
}

// TrySend inserts v only if there is room.
func (rc *RingChannel[T]) TrySend(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		rc.rejected.Inc()
		return false
	}
	select {
	case rc.ch <- v:
		rc.written.Inc()
		return true
	default:
		rc.rejected.Inc()
		return false
	}
}

// Receive blocks until a value is available. ok is false once the channel is
// closed and drained.
func (rc *RingChannel[T]) Receive() (v T, ok bool) {
	v, ok = <-rc.ch
	if ok {
		rc.processed.Inc()
	}
	return v, ok
}

// TryReceive returns a pending value without blocking.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			rc.processed.Inc()
		}
		return v, ok
	default:
		return v, false
	}
}

func (rc *RingChannel[T]) Len() int { return len(rc.ch) }
func (rc *RingChannel[T]) Cap() int { return cap(rc.ch) }

// Close closes the receive side. Pending values stay readable. It is safe to
// call more than once.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if !rc.closed {
		rc.closed = true
		close(rc.ch)
	}
}

func (rc *RingChannel[T]) Stats() Stats {
	return Stats{
		Written:     rc.written.Load(),
		Overwritten: rc.overwritten.Load(),
		Processed:   rc.processed.Load(),
		Rejected:    rc.rejected.Load(),
	}
}
