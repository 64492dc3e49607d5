package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu      sync.Mutex
	entries []AggregatedLogEntry
}

func (c *capture) PublishLogs(_ context.Context, entries []AggregatedLogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entries...)
	return nil
}

func (c *capture) all() []AggregatedLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]AggregatedLogEntry(nil), c.entries...)
}

func TestCollectorMirrorsAtOrAboveMinLevel(t *testing.T) {
	sink := &capture{}
	l := NewNop()
	l.AddCollector(&CollectionConfig{
		TimeInterval: time.Hour,
		MinLevel:     zerolog.WarnLevel,
		Publisher:    sink,
	})

	l.Info("ignored")
	for i := 0; i < 3; i++ {
		l.Warn("retrying", String("dest", "telegram"))
	}
	l.Error("failed", Error(errors.New("boom")))
	l.RemoveCollector()

	byMsg := map[string]AggregatedLogEntry{}
	for _, e := range sink.all() {
		byMsg[e.Message] = e
	}
	require.Len(t, byMsg, 2)
	assert.Equal(t, 3, byMsg["retrying"].Count)
	assert.Equal(t, "telegram", byMsg["retrying"].Fields["dest"])
	assert.Contains(t, byMsg["retrying"].Caller, "logger_test.go:")
	assert.Equal(t, "boom", byMsg["failed"].Fields["error"])
}

func TestWithSharesCollectorAndAddsFields(t *testing.T) {
	sink := &capture{}
	root := NewNop()
	child := root.With(String("component", "dispatcher"))
	root.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Publisher: sink})

	child.Warn("queue full", Int("depth", 7))
	root.RemoveCollector()

	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, "dispatcher", got[0].Fields["component"])
	assert.Equal(t, int64(7), got[0].Fields["depth"])
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud"})
	assert.Error(t, err)
}
