package middleware

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"SignalHub/internal/domain/models"
	"SignalHub/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	got []models.Envelope
	err error
}

func (r *recordingSink) Accept(_ context.Context, env models.Envelope) error {
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, env)
	return nil
}

func tick(symbol string, ts time.Time) models.Envelope {
	return models.NewTickEnvelope(models.MarketTick{Symbol: symbol, Price: 100, Volume: 1, Timestamp: ts})
}

func TestIntakeThrottlesTicksPerSymbol(t *testing.T) {
	sink := &recordingSink{}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewIntakePipeline(sink, metrics.Nop{},
		WithMaxTicksPerSecond(2),
		withClock(func() time.Time { return now }))

	ctx := context.Background()
	require.NoError(t, p.Process(ctx, tick("BTC/USD", now)))
	require.NoError(t, p.Process(ctx, tick("BTC/USD", now)))
	require.NoError(t, p.Process(ctx, tick("ETH/USD", now)))

	now = now.Add(600 * time.Millisecond)
	require.NoError(t, p.Process(ctx, tick("BTC/USD", now)))

	require.Len(t, sink.got, 3)
	var symbols []string
	for _, env := range sink.got {
		tk, ok := env.Tick()
		require.True(t, ok)
		symbols = append(symbols, tk.Symbol)
	}
	assert.Equal(t, []string{"BTC/USD", "ETH/USD", "BTC/USD"}, symbols)
}

func TestIntakeForgetsIdleSymbols(t *testing.T) {
	sink := &recordingSink{}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewIntakePipeline(sink, metrics.Nop{},
		WithMaxTicksPerSecond(5),
		withClock(func() time.Time { return now }))

	ctx := context.Background()
	for i := 0; i < 1024; i++ {
		require.NoError(t, p.Process(ctx, tick(fmt.Sprintf("SYM%04d/USD", i), now)))
	}
	assert.Equal(t, 1024, p.limiter.Len())

	now = now.Add(time.Hour)
	require.NoError(t, p.Process(ctx, tick("BTC/USD", now)))
	assert.Equal(t, 1, p.limiter.Len())
	assert.Len(t, sink.got, 1025)
}

func TestIntakeDoesNotThrottleSignals(t *testing.T) {
	sink := &recordingSink{}
	p := NewIntakePipeline(sink, metrics.Nop{}, WithMaxTicksPerSecond(1))
	for i := int64(1); i <= 5; i++ {
		env := models.NewSignalEnvelope(models.Signal{
			ID: i, Symbol: "BTC/USD", Direction: models.DirectionBuy,
			Confidence: 0.5, Status: models.SignalPending,
		})
		require.NoError(t, p.Process(context.Background(), env))
	}
	assert.Len(t, sink.got, 5)
}

func TestIntakeRejectsInvalidEnvelope(t *testing.T) {
	sink := &recordingSink{}
	p := NewIntakePipeline(sink, metrics.Nop{})
	err := p.Process(context.Background(), tick("", time.Now()))
	require.Error(t, err)
	assert.Empty(t, sink.got)
}

func TestIntakeTransformIsRevalidated(t *testing.T) {
	sink := &recordingSink{}
	p := NewIntakePipeline(sink, metrics.Nop{}, WithTransform(func(env models.Envelope) models.Envelope {
		tk, _ := env.Tick()
		tk.Price = -1
		return models.NewTickEnvelope(tk)
	}))
	require.Error(t, p.Process(context.Background(), tick("BTC/USD", time.Now())))
	assert.Empty(t, sink.got)
}

func TestIntakeReturnsSinkError(t *testing.T) {
	boom := errors.New("boom")
	p := NewIntakePipeline(&recordingSink{err: boom}, metrics.Nop{}, WithMaxTicksPerSecond(0))
	err := p.Process(context.Background(), tick("BTC/USD", time.Now()))
	assert.ErrorIs(t, err, boom)
}
