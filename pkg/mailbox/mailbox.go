package mailbox

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("mailbox: closed")

// Mailbox is a set of per-address FIFO queues drained by polling clients.
type Mailbox interface {
	// Push appends payload to the address queue and returns the new depth.
	// When the queue exceeds MaxDepth the oldest payloads are discarded.
	Push(ctx context.Context, address string, payload []byte) (int64, error)
	// Pop removes up to max payloads from the head of the queue and marks the
	// address as seen.
	Pop(ctx context.Context, address string, max int) ([][]byte, error)
	Depth(ctx context.Context, address string) (int64, error)
	Consumers(ctx context.Context) ([]Consumer, error)
	Close() error
}

// Consumer describes a polling client.
type Consumer struct {
	Address  string    `json:"address"`
	LastSeen time.Time `json:"lastSeen"`
	Pending  int64     `json:"pending"`
}

// Config contains mailbox limits.
type Config struct {
	Prefix   string        // key prefix
	MaxDepth int64         // maximum queued payloads per address
	TTL      time.Duration // idle queue expiry, zero keeps queues forever
}

type Option func(*Config)

func WithPrefix(prefix string) Option {
	return func(c *Config) {
		if prefix != "" {
			c.Prefix = prefix
		}
	}
}

func WithMaxDepth(n int64) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxDepth = n
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.TTL = ttl
	}
}

func newConfig(opts []Option) Config {
	cfg := Config{Prefix: "signalhub", MaxDepth: 500}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
