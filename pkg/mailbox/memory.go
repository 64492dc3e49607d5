package mailbox

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryMailbox keeps queues in process. A queue not pushed to for longer
// than Config.TTL is dropped on its next access.
type MemoryMailbox struct {
	cfg    Config
	mu     sync.Mutex
	queues map[string][][]byte
	pushed map[string]time.Time
	seen   map[string]time.Time
	now    func() time.Time
	closed bool
}

func NewMemory(opts ...Option) *MemoryMailbox {
	return &MemoryMailbox{
		cfg:    newConfig(opts),
		queues: make(map[string][][]byte),
		pushed: make(map[string]time.Time),
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// expire must be called with mu held.
func (m *MemoryMailbox) expire(address string, now time.Time) {
	if m.cfg.TTL <= 0 {
		return
	}
	if at, ok := m.pushed[address]; ok && now.Sub(at) > m.cfg.TTL {
		delete(m.queues, address)
		delete(m.pushed, address)
	}
}

func (m *MemoryMailbox) Push(ctx context.Context, address string, payload []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	now := m.now()
	m.expire(address, now)
	m.pushed[address] = now
	q := append(m.queues[address], append([]byte(nil), payload...))
	if over := int64(len(q)) - m.cfg.MaxDepth; over > 0 {
		q = append([][]byte(nil), q[over:]...)
	}
	m.queues[address] = q
	return int64(len(q)), nil
}

func (m *MemoryMailbox) Pop(ctx context.Context, address string, max int) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	now := m.now()
	m.seen[address] = now
	m.expire(address, now)
	q := m.queues[address]
	if max <= 0 || len(q) == 0 {
		return nil, nil
	}
	if max > len(q) {
		max = len(q)
	}
	out := q[:max:max]
	if rest := q[max:]; len(rest) > 0 {
		m.queues[address] = rest
	} else {
		delete(m.queues, address)
		delete(m.pushed, address)
	}
	return out, nil
}

func (m *MemoryMailbox) Depth(_ context.Context, address string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(address, m.now())
	return int64(len(m.queues[address])), nil
}

func (m *MemoryMailbox) Consumers(_ context.Context) ([]Consumer, error) {
	m.mu.Lock()
	now := m.now()
	out := make([]Consumer, 0, len(m.seen))
	for addr, at := range m.seen {
		m.expire(addr, now)
		out = append(out, Consumer{Address: addr, LastSeen: at, Pending: int64(len(m.queues[addr]))})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (m *MemoryMailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.queues = make(map[string][][]byte)
	m.pushed = make(map[string]time.Time)
	return nil
}

var _ Mailbox = (*MemoryMailbox)(nil)
