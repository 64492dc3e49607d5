package hub

import (
	"sync"
	"sync/atomic"
	"time"

	domrepo "SignalHub/internal/domain/repository"

	"github.com/google/uuid"
)

// Subscriber is one connected dashboard client.
type Subscriber struct {
	id        string
	remote    string
	createdAt time.Time
	queue     *Queue
	control   chan []byte

	dropped  atomic.Uint64
	replaced atomic.Uint64
	reported atomic.Uint64

	mu      sync.Mutex
	lastErr error
}

type SubscriberOption func(*Subscriber)

// WithRemote records the peer address for logs and diagnostics.
func WithRemote(addr string) SubscriberOption {
	return func(s *Subscriber) {
		s.remote = addr
	}
}

// WithControlBuffer sizes the side channel for replies addressed to this
// subscriber only (errors, echoes).
func WithControlBuffer(n int) SubscriberOption {
	return func(s *Subscriber) {
		if n > 0 {
			s.control = make(chan []byte, n)
		}
	}
}

func (s *Subscriber) ID() string           { return s.id }
func (s *Subscriber) Remote() string       { return s.remote }
func (s *Subscriber) CreatedAt() time.Time { return s.createdAt }
func (s *Subscriber) Queue() *Queue        { return s.queue }

// Control carries frames that bypass the broadcast queue.
func (s *Subscriber) Control() <-chan []byte { return s.control }

// SendControl enqueues a reply without blocking. It returns false when the
// control buffer is full or the subscriber is closed.
func (s *Subscriber) SendControl(frame []byte) bool {
	select {
	case <-s.queue.Done():
		return false
	default:
	}
	select {
	case s.control <- frame:
		return true
	default:
		return false
	}
}

func (s *Subscriber) Dropped() uint64  { return s.dropped.Load() }
func (s *Subscriber) Replaced() uint64 { return s.replaced.Load() }

// unreportedDrops returns drops since the previous call.
func (s *Subscriber) unreportedDrops() uint64 {
	total := s.dropped.Load()
	prev := s.reported.Swap(total)
	return total - prev
}

func (s *Subscriber) SetLastError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Subscriber) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Registry tracks connected subscribers. Lookups and iteration never hold the
// lock while touching a subscriber's queue.
type Registry struct {
	mu        sync.RWMutex
	subs      map[string]*Subscriber
	queueSize int
	metrics   domrepo.Metrics
}

func NewRegistry(queueSize int, metrics domrepo.Metrics) *Registry {
	return &Registry{
		subs:      make(map[string]*Subscriber),
		queueSize: queueSize,
		metrics:   metrics,
	}
}

// Register creates a subscriber with a fresh bounded queue.
func (r *Registry) Register(opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		queue:     NewQueue(r.queueSize),
		control:   make(chan []byte, 8),
	}
	for _, opt := range opts {
		opt(s)
	}

	r.mu.Lock()
	r.subs[s.id] = s
	n := len(r.subs)
	r.mu.Unlock()

	r.metrics.RecordSubscribers(n)
	return s
}

// Unregister removes s and discards its queue. It reports whether s was
// still registered; calling it again is a no-op.
func (r *Registry) Unregister(s *Subscriber) bool {
	if s == nil {
		return false
	}
	r.mu.Lock()
	_, ok := r.subs[s.id]
	if ok {
		delete(r.subs, s.id)
	}
	n := len(r.subs)
	r.mu.Unlock()

	s.queue.Close()
	if ok {
		r.metrics.RecordSubscribers(n)
	}
	return ok
}

// ForEach calls fn for every subscriber registered when ForEach was called.
// Subscribers may register or unregister concurrently.
func (r *Registry) ForEach(fn func(*Subscriber)) {
	for _, s := range r.snapshot() {
		fn(s)
	}
}

func (r *Registry) snapshot() []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *Registry) Get(id string) (*Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[id]
	return s, ok
}
