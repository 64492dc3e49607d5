package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"SignalHub/internal/domain/models"
	"SignalHub/internal/hub"
	applogger "SignalHub/pkg/logger"
)

// HealthSource reports delivery health per destination.
type HealthSource interface {
	Health() []models.DestinationHealth
}

// Broadcaster is the part of the broadcast engine the heartbeat needs.
type Broadcaster interface {
	Publish(env models.Envelope)
	DropReport() []hub.DropSummary
}

// Heartbeat periodically publishes a BotHeartbeat per destination and logs
// subscribers that overflowed since the previous run.
type Heartbeat struct {
	schedule    string
	name        string
	engine      Broadcaster
	health      HealthSource
	subscribers func() int
	logger      *applogger.Logger
	now         func() time.Time
	started     time.Time

	c *cron.Cron
}

type HeartbeatOption func(*Heartbeat)

// WithSchedule sets the cron schedule, e.g. "@every 30s".
func WithSchedule(schedule string) HeartbeatOption {
	return func(h *Heartbeat) {
		if schedule != "" {
			h.schedule = schedule
		}
	}
}

// WithHubName publishes an extra heartbeat for the hub itself.
func WithHubName(name string, subscribers func() int) HeartbeatOption {
	return func(h *Heartbeat) {
		h.name = name
		h.subscribers = subscribers
	}
}

func WithHeartbeatLogger(l *applogger.Logger) HeartbeatOption {
	return func(h *Heartbeat) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHeartbeat(engine Broadcaster, health HealthSource, opts ...HeartbeatOption) *Heartbeat {
	h := &Heartbeat{
		schedule: "@every 30s",
		engine:   engine,
		health:   health,
		logger:   applogger.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.started = h.now()
	return h
}

// Start schedules the job and emits one heartbeat immediately.
func (h *Heartbeat) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(h.schedule, h.Beat); err != nil {
		return fmt.Errorf("heartbeat schedule %q: %w", h.schedule, err)
	}
	h.c = c
	h.Beat()
	c.Start()
	h.logger.Info("heartbeat started", applogger.String("schedule", h.schedule))
	return nil
}

// Stop waits for a running beat to finish.
func (h *Heartbeat) Stop() {
	if h.c == nil {
		return
	}
	<-h.c.Stop().Done()
}

// Beat publishes the current statuses and reports overflow.
func (h *Heartbeat) Beat() {
	now := h.now().UTC()
	for _, st := range h.Statuses(now) {
		h.engine.Publish(models.NewHeartbeatEnvelope(st))
	}
	for _, d := range h.engine.DropReport() {
		h.logger.Warn("subscriber queue overflow",
			applogger.String("subscriber", d.SubscriberID),
			applogger.String("remote", d.Remote),
			applogger.Uint64("dropped", d.Dropped),
			applogger.Uint64("dropped_total", d.Total))
	}
}

// Statuses derives one BotStatus per destination from dispatcher health.
func (h *Heartbeat) Statuses(now time.Time) []models.BotStatus {
	var out []models.BotStatus
	if h.name != "" {
		md := map[string]any{"uptimeSeconds": int64(now.Sub(h.started).Seconds())}
		if h.subscribers != nil {
			md["subscribers"] = h.subscribers()
		}
		out = append(out, models.BotStatus{
			BotName:       h.name,
			Status:        models.BotActive,
			LastHeartbeat: now,
			Metadata:      md,
		})
	}
	if h.health == nil {
		return out
	}
	for _, dh := range h.health.Health() {
		md := map[string]any{
			"address": dh.Address,
			"sent":    dh.Sent,
			"failed":  dh.Failed,
		}
		if !dh.LastAt.IsZero() {
			md["lastAttemptAt"] = dh.LastAt
		}
		if dh.LastError != "" {
			md["lastError"] = dh.LastError
		}
		out = append(out, models.BotStatus{
			BotName:       string(dh.Destination),
			Status:        stateOf(dh),
			LastHeartbeat: now,
			Metadata:      md,
		})
	}
	return out
}

func stateOf(dh models.DestinationHealth) models.BotState {
	switch dh.LastStatus {
	case models.DeliveryFailed:
		if strings.Contains(dh.LastError, "rate_limited") || strings.Contains(dh.LastError, "429") {
			return models.BotLimited
		}
		return models.BotError
	default:
		return models.BotActive
	}
}
