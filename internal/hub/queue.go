package hub

import (
	"context"
	"errors"
	"sync"

	"SignalHub/internal/domain/models"
)

var ErrQueueClosed = errors.New("hub: queue closed")

// OfferResult reports what happened to an offered envelope.
type OfferResult uint8

const (
	Enqueued OfferResult = iota
	// Replaced means the queue was full and an older market tick was evicted
	// to make room.
	Replaced
	// Dropped means the queue was full and the offered envelope was discarded.
	Dropped
	// Closed means the subscriber is gone and the envelope was discarded.
	Closed
)

// Queue is a bounded FIFO with one producer (the broadcast engine) and one
// consumer (the connection write loop). When full, an incoming market tick
// evicts the oldest queued tick, preferring one for the same symbol; any
// other incoming envelope is dropped.
type Queue struct {
	mu     sync.Mutex
	items  []models.Envelope
	bound  int
	closed bool

	ready chan struct{}
	done  chan struct{}
}

func NewQueue(bound int) *Queue {
	if bound <= 0 {
		bound = 1
	}
	return &Queue{
		items: make([]models.Envelope, 0, bound),
		bound: bound,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (q *Queue) Offer(env models.Envelope) OfferResult {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Closed
	}

	res := Enqueued
	if len(q.items) >= q.bound {
		if env.Kind() != models.KindMarketTick {
			q.mu.Unlock()
			return Dropped
		}
		idx := q.evictableTick(env)
		if idx < 0 {
			q.mu.Unlock()
			return Dropped
		}
		q.removeAt(idx)
		res = Replaced
	}
	q.items = append(q.items, env)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return res
}

// evictableTick returns the index of the oldest queued tick for the same
// symbol, else the oldest queued tick, else -1.
func (q *Queue) evictableTick(env models.Envelope) int {
	tick, _ := env.Tick()
	oldest := -1
	for i, it := range q.items {
		queued, ok := it.Tick()
		if !ok {
			continue
		}
		if queued.Symbol == tick.Symbol {
			return i
		}
		if oldest < 0 {
			oldest = i
		}
	}
	return oldest
}

func (q *Queue) removeAt(i int) {
	copy(q.items[i:], q.items[i+1:])
	q.items[len(q.items)-1] = models.Envelope{}
	q.items = q.items[:len(q.items)-1]
}

// TryPop removes the head of the queue without blocking.
func (q *Queue) TryPop() (models.Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.items) == 0 {
		return models.Envelope{}, false
	}
	env := q.items[0]
	q.removeAt(0)
	return env, true
}

// Next blocks until an envelope is available, the queue is closed or ctx ends.
func (q *Queue) Next(ctx context.Context) (models.Envelope, error) {
	for {
		if env, ok := q.TryPop(); ok {
			return env, nil
		}
		select {
		case <-q.ready:
		case <-q.done:
			return models.Envelope{}, ErrQueueClosed
		case <-ctx.Done():
			return models.Envelope{}, ctx.Err()
		}
	}
}

// Ready fires at least once after envelopes are offered. Consumers must drain
// with TryPop after every signal.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

// Done is closed when the queue is closed.
func (q *Queue) Done() <-chan struct{} { return q.done }

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Cap() int { return q.bound }

// Close discards queued envelopes. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.done)
}
