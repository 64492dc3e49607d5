package middleware

import (
	"context"
	"fmt"
	"time"

	"SignalHub/internal/domain/models"
	domrepo "SignalHub/internal/domain/repository"
	"SignalHub/internal/service/ratelimit"
)

// Sink receives envelopes that passed the pipeline.
type Sink interface {
	Accept(ctx context.Context, env models.Envelope) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, env models.Envelope) error

func (f SinkFunc) Accept(ctx context.Context, env models.Envelope) error { return f(ctx, env) }

// IntakePipeline sits between the Kafka consumer and the hub.
// It validates, throttles market ticks per symbol, optionally transforms, and forwards.
type IntakePipeline struct {
	sink    Sink
	metrics domrepo.Metrics
	maxTPS  int
	now     func() time.Time

	// one bucket per symbol; symbols that stop ticking are swept
	limiter *ratelimit.Limiter

	transform func(models.Envelope) models.Envelope
}

type PipelineOption func(*IntakePipeline)

// WithMaxTicksPerSecond caps accepted ticks per symbol. Zero disables throttling.
func WithMaxTicksPerSecond(n int) PipelineOption {
	return func(p *IntakePipeline) {
		if n >= 0 {
			p.maxTPS = n
		}
	}
}

// WithTransform sets a hook applied to every valid envelope before forwarding.
func WithTransform(fn func(models.Envelope) models.Envelope) PipelineOption {
	return func(p *IntakePipeline) { p.transform = fn }
}

func withClock(now func() time.Time) PipelineOption {
	return func(p *IntakePipeline) { p.now = now }
}

// NewIntakePipeline creates a new pipeline.
func NewIntakePipeline(sink Sink, metrics domrepo.Metrics, opts ...PipelineOption) *IntakePipeline {
	p := &IntakePipeline{
		sink:    sink,
		metrics: metrics,
		maxTPS:  20,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.limiter = ratelimit.New(float64(p.maxTPS), 1)
	return p
}

// Process validates, throttles and forwards env. Throttled ticks are dropped
// without error; validation and downstream failures are returned.
func (p *IntakePipeline) Process(ctx context.Context, env models.Envelope) error {
	start := p.now()
	if err := env.Validate(); err != nil {
		p.metrics.RecordError("intake_validate")
		return fmt.Errorf("intake: %w", err)
	}
	if p.transform != nil {
		env = p.transform(env)
		if err := env.Validate(); err != nil {
			p.metrics.RecordError("intake_transform_invalid")
			return fmt.Errorf("intake transform: %w", err)
		}
	}
	if t, ok := env.Tick(); ok && !p.limiter.AllowAt(t.Symbol, start) {
		p.metrics.RecordError("intake_throttle")
		return nil
	}

	if err := p.sink.Accept(ctx, env); err != nil {
		p.metrics.RecordError("intake_sink")
		return fmt.Errorf("intake downstream: %w", err)
	}
	p.metrics.RecordLatency("intake_process", time.Since(start).Seconds())
	return nil
}
