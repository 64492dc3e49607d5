package usecase

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"SignalHub/internal/domain/models"
	domrepo "SignalHub/internal/domain/repository"
	"SignalHub/internal/middleware"
	"SignalHub/pkg/cache"
	pkgkafka "SignalHub/pkg/kafka"
	applogger "SignalHub/pkg/logger"
)

// Publisher fans envelopes out to dashboards.
type Publisher interface {
	Publish(env models.Envelope)
}

// Submitter starts background delivery of a signal.
type Submitter interface {
	Submit(sig models.Signal, dests []models.Destination) error
}

// EventRouter is the last stage of the intake: it persists signals, publishes
// every envelope and starts automatic delivery of actionable signals.
type EventRouter struct {
	publisher Publisher
	writer    domrepo.SignalWriter
	submitter Submitter
	dests     []models.Destination
	seen      cache.Service
	seenTTL   time.Duration
	metrics   domrepo.Metrics
	logger    *applogger.Logger
}

type RouterOption func(*EventRouter)

// WithSignalWriter saves incoming signals before they are published.
func WithSignalWriter(w domrepo.SignalWriter) RouterOption {
	return func(r *EventRouter) { r.writer = w }
}

// WithAutoDispatch submits BUY and SELL signals to dests.
func WithAutoDispatch(s Submitter, dests []models.Destination) RouterOption {
	return func(r *EventRouter) {
		r.submitter = s
		r.dests = dests
	}
}

// WithDedupe remembers dispatched signal ids in c for ttl so a redelivered
// message does not push the same signal twice.
func WithDedupe(c cache.Service, ttl time.Duration) RouterOption {
	return func(r *EventRouter) {
		r.seen = c
		r.seenTTL = ttl
	}
}

func WithRouterLogger(l *applogger.Logger) RouterOption {
	return func(r *EventRouter) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewEventRouter(publisher Publisher, metrics domrepo.Metrics, opts ...RouterOption) *EventRouter {
	r := &EventRouter{
		publisher: publisher,
		metrics:   metrics,
		logger:    applogger.NewNop(),
		seenTTL:   24 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *EventRouter) Accept(ctx context.Context, env models.Envelope) error {
	sig, ok := env.Signal()
	if !ok {
		r.publisher.Publish(env)
		return nil
	}

	if r.writer != nil {
		if err := r.writer.SaveSignal(ctx, sig); err != nil {
			return fmt.Errorf("save signal %d: %w", sig.ID, err)
		}
	}
	r.publisher.Publish(env)

	if r.submitter == nil || len(r.dests) == 0 || !sig.Direction.Actionable() {
		return nil
	}
	if sig.Status != models.SignalPending {
		return nil
	}
	if !r.claim(ctx, sig.ID) {
		r.logger.Debug("signal already dispatched", applogger.Int64("signal_id", sig.ID))
		return nil
	}
	if err := r.submitter.Submit(sig, r.dests); err != nil {
		r.release(ctx, sig.ID)
		r.metrics.RecordError("intake_dispatch")
		return fmt.Errorf("dispatch signal %d: %w", sig.ID, err)
	}
	return nil
}

func dedupeKey(id int64) string {
	return cache.GenerateKey("dispatched", strconv.FormatInt(id, 10))
}

// claim marks the signal as dispatched and reports whether this call won.
// Lookup failures let the signal through.
func (r *EventRouter) claim(ctx context.Context, id int64) bool {
	if r.seen == nil {
		return true
	}
	ok, err := r.seen.SetNX(ctx, dedupeKey(id), time.Now().UTC(), r.seenTTL)
	if err != nil {
		r.logger.Warn("dedupe claim failed", applogger.Int64("signal_id", id), applogger.Error(err))
		return true
	}
	return ok
}

// release drops a claim so a redelivery can retry the submit.
func (r *EventRouter) release(ctx context.Context, id int64) {
	if r.seen == nil {
		return
	}
	if err := r.seen.Delete(ctx, dedupeKey(id)); err != nil {
		r.logger.Warn("dedupe release failed", applogger.Int64("signal_id", id), applogger.Error(err))
	}
}

// EventsHandler consumes {type, data} envelopes from Kafka.
type EventsHandler struct {
	topic    string
	pipeline *middleware.IntakePipeline
	metrics  domrepo.Metrics
}

func NewEventsHandler(topic string, pipeline *middleware.IntakePipeline, metrics domrepo.Metrics) *EventsHandler {
	return &EventsHandler{topic: topic, pipeline: pipeline, metrics: metrics}
}

func (h *EventsHandler) Topic() string { return h.topic }

func (h *EventsHandler) Handle(ctx context.Context, b []byte) error {
	env, err := models.DecodeEnvelope(b)
	if err != nil {
		h.metrics.RecordError("consumer_decode")
		return err
	}
	if t, ok := env.Tick(); ok {
		h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(t.Timestamp).Seconds())
	}
	return h.pipeline.Process(ctx, env)
}

var (
	_ pkgkafka.MessageHandler = (*EventsHandler)(nil)
	_ middleware.Sink         = (*EventRouter)(nil)
)
