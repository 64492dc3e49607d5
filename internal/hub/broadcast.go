package hub

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"SignalHub/internal/domain/models"
	domrepo "SignalHub/internal/domain/repository"
	applogger "SignalHub/pkg/logger"
)

// Engine fans envelopes out to every registered subscriber without blocking
// and keeps the latest-value state used for initial snapshots.
type Engine struct {
	registry *Registry
	metrics  domrepo.Metrics
	logger   *applogger.Logger
	signals  domrepo.SignalStore

	initialSignals int

	mu    sync.RWMutex
	ticks map[string]models.MarketTick
	bots  map[string]models.BotStatus
	logs  *LogRing

	logSeq atomic.Int64
}

type EngineOption func(*Engine)

// WithLogCapacity bounds the log ring buffer.
func WithLogCapacity(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.logs = NewLogRing(n)
		}
	}
}

// WithSignalStore sets where initial snapshots read recent signals from.
func WithSignalStore(store domrepo.SignalStore, recent int) EngineOption {
	return func(e *Engine) {
		e.signals = store
		if recent > 0 {
			e.initialSignals = recent
		}
	}
}

func WithLogger(l *applogger.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewEngine(registry *Registry, metrics domrepo.Metrics, opts ...EngineOption) *Engine {
	e := &Engine{
		registry:       registry,
		metrics:        metrics,
		logger:         applogger.NewNop(),
		initialSignals: 50,
		ticks:          make(map[string]models.MarketTick),
		bots:           make(map[string]models.BotStatus),
		logs:           NewLogRing(200),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Registry() *Registry { return e.registry }

// Publish records env in the latest-value state and offers it to every
// subscriber. It never blocks on a slow subscriber.
func (e *Engine) Publish(env models.Envelope) {
	env = e.remember(env)
	kind := env.Kind().String()
	e.metrics.RecordPublished(kind)

	e.registry.ForEach(func(s *Subscriber) {
		switch s.queue.Offer(env) {
		case Replaced:
			s.replaced.Add(1)
			e.metrics.RecordReplaced(kind)
		case Dropped:
			s.dropped.Add(1)
			e.metrics.RecordDropped(kind)
		}
	})
}

// remember updates the caches. Log lines without an ID or timestamp get one
// here, which yields a new envelope.
func (e *Engine) remember(env models.Envelope) models.Envelope {
	switch env.Kind() {
	case models.KindMarketTick:
		t, _ := env.Tick()
		e.mu.Lock()
		if cur, ok := e.ticks[t.Symbol]; !ok || !t.Timestamp.Before(cur.Timestamp) {
			e.ticks[t.Symbol] = t
		}
		e.mu.Unlock()
	case models.KindBotHeartbeat:
		b, _ := env.Heartbeat()
		e.mu.Lock()
		e.bots[b.BotName] = b
		e.mu.Unlock()
	case models.KindLogLine:
		l, _ := env.Log()
		if l.ID == 0 || l.Timestamp.IsZero() {
			if l.ID == 0 {
				l.ID = e.logSeq.Add(1)
			}
			if l.Timestamp.IsZero() {
				l.Timestamp = time.Now()
			}
			env = models.NewLogEnvelope(l)
		}
		e.logs.Push(l)
	}
	return env
}

// LatestTicks returns the most recent tick per symbol ordered by symbol.
func (e *Engine) LatestTicks() []models.MarketTick {
	e.mu.RLock()
	out := make([]models.MarketTick, 0, len(e.ticks))
	for _, t := range e.ticks {
		out = append(out, t)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// BotStatuses returns the latest status per bot ordered by name.
func (e *Engine) BotStatuses() []models.BotStatus {
	e.mu.RLock()
	out := make([]models.BotStatus, 0, len(e.bots))
	for _, b := range e.bots {
		out = append(out, b.Clone())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].BotName < out[j].BotName })
	return out
}

// RecentLogs returns retained log lines newest first.
func (e *Engine) RecentLogs(level models.LogLevel, limit int) []models.LogLine {
	return e.logs.Recent(level, limit)
}

func (e *Engine) Logs() *LogRing { return e.logs }

// Snapshot builds the initial_data payload. A failing signal store degrades to
// an empty signal list.
func (e *Engine) Snapshot(ctx context.Context) models.InitialData {
	data := models.InitialData{
		MarketData: e.LatestTicks(),
		Signals:    []models.Signal{},
		Logs:       e.logs.Recent("", 0),
		BotStatus:  e.BotStatuses(),
	}
	if e.signals == nil {
		return data
	}

	start := time.Now()
	sigs, _, err := e.signals.ListSignals(ctx, models.SignalFilter{Page: 1, Limit: e.initialSignals})
	e.metrics.RecordLatency("snapshot_signals", time.Since(start).Seconds())
	if err != nil {
		e.metrics.RecordError("snapshot_signals")
		e.logger.Warn("snapshot: list signals failed", applogger.Error(err))
		return data
	}
	if sigs != nil {
		data.Signals = sigs
	}
	return data
}

// DropSummary describes drops one subscriber suffered since the last report.
type DropSummary struct {
	SubscriberID string
	Remote       string
	Dropped      uint64
	Total        uint64
}

// DropReport returns subscribers that dropped envelopes since the previous
// call.
func (e *Engine) DropReport() []DropSummary {
	var out []DropSummary
	e.registry.ForEach(func(s *Subscriber) {
		if n := s.unreportedDrops(); n > 0 {
			out = append(out, DropSummary{
				SubscriberID: s.id,
				Remote:       s.remote,
				Dropped:      n,
				Total:        s.Dropped(),
			})
		}
	})
	return out
}
