package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"SignalHub/internal/domain/models"
	"SignalHub/internal/middleware"
	"SignalHub/internal/repository"
	"SignalHub/pkg/cache"
	"SignalHub/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu   sync.Mutex
	envs []models.Envelope
}

func (p *recordingPublisher) Publish(env models.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
}

func (p *recordingPublisher) kinds() []models.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Kind, 0, len(p.envs))
	for _, e := range p.envs {
		out = append(out, e.Kind())
	}
	return out
}

type recordingSubmitter struct {
	mu    sync.Mutex
	calls []int64
	dests []models.Destination
	err   error
}

func (s *recordingSubmitter) Submit(sig models.Signal, dests []models.Destination) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, sig.ID)
	s.dests = dests
	return nil
}

const signalFrame = `{"type":"new_signal","data":{"id":42,"symbol":"BTC/USD","signal":"BUY","confidence":0.8,"entryPrice":65000,"status":"pending","createdAt":"2024-01-01T00:00:00Z"}}`

type handlerFixture struct {
	pub     *recordingPublisher
	sub     *recordingSubmitter
	store   *repository.MemorySignalStore
	handler *EventsHandler
}

func newFixture(t *testing.T, opts ...RouterOption) handlerFixture {
	t.Helper()
	f := handlerFixture{
		pub:   &recordingPublisher{},
		sub:   &recordingSubmitter{},
		store: repository.NewMemorySignalStore(100),
	}
	base := []RouterOption{
		WithSignalWriter(f.store),
		WithAutoDispatch(f.sub, []models.Destination{models.DestinationTelegram, models.DestinationMT45}),
	}
	router := NewEventRouter(f.pub, metrics.Nop{}, append(base, opts...)...)
	pipeline := middleware.NewIntakePipeline(router, metrics.Nop{})
	f.handler = NewEventsHandler("signalhub.events", pipeline, metrics.Nop{})
	return f
}

func TestEventsHandlerSignalIsStoredPublishedAndDispatched(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "signalhub.events", f.handler.Topic())

	require.NoError(t, f.handler.Handle(context.Background(), []byte(signalFrame)))

	stored, err := f.store.GetSignal(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "BTC/USD", stored.Symbol)
	assert.Equal(t, []models.Kind{models.KindSignal}, f.pub.kinds())
	assert.Equal(t, []int64{42}, f.sub.calls)
	assert.Equal(t, []models.Destination{models.DestinationTelegram, models.DestinationMT45}, f.sub.dests)
}

func TestEventsHandlerHoldIsNotDispatched(t *testing.T) {
	f := newFixture(t)
	frame := `{"type":"new_signal","data":{"id":7,"symbol":"ETH/USD","signal":"HOLD","confidence":0.4,"entryPrice":3000,"status":"pending"}}`

	require.NoError(t, f.handler.Handle(context.Background(), []byte(frame)))

	assert.Equal(t, []models.Kind{models.KindSignal}, f.pub.kinds())
	assert.Empty(t, f.sub.calls)
}

func TestEventsHandlerDedupeSkipsRedelivery(t *testing.T) {
	c := cache.NewMemoryCache()
	defer c.Close()
	f := newFixture(t, WithDedupe(c, time.Hour))

	require.NoError(t, f.handler.Handle(context.Background(), []byte(signalFrame)))
	require.NoError(t, f.handler.Handle(context.Background(), []byte(signalFrame)))

	assert.Equal(t, []int64{42}, f.sub.calls)
	assert.Len(t, f.pub.kinds(), 2)
}

func TestEventsHandlerFailedSubmitReleasesClaim(t *testing.T) {
	c := cache.NewMemoryCache()
	defer c.Close()
	f := newFixture(t, WithDedupe(c, time.Hour))

	f.sub.err = errors.New("queue full")
	require.Error(t, f.handler.Handle(context.Background(), []byte(signalFrame)))

	f.sub.err = nil
	require.NoError(t, f.handler.Handle(context.Background(), []byte(signalFrame)))
	assert.Equal(t, []int64{42}, f.sub.calls)
}

func TestEventsHandlerSubmitErrorIsReturned(t *testing.T) {
	f := newFixture(t)
	f.sub.err = errors.New("dispatcher stopped")

	err := f.handler.Handle(context.Background(), []byte(signalFrame))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatch signal 42")
}

func TestEventsHandlerPublishesTicks(t *testing.T) {
	f := newFixture(t)
	frame := `{"type":"market_data","data":{"symbol":"BTC/USD","price":65000,"volume":12,"timestamp":"2024-01-01T00:00:00Z"}}`

	require.NoError(t, f.handler.Handle(context.Background(), []byte(frame)))

	assert.Equal(t, []models.Kind{models.KindMarketTick}, f.pub.kinds())
	assert.Empty(t, f.sub.calls)
}

func TestEventsHandlerRejectsMalformedInput(t *testing.T) {
	f := newFixture(t)
	cases := map[string]string{
		"not json":     `{nope`,
		"unknown type": `{"type":"weather","data":{}}`,
		"missing data": `{"type":"new_signal"}`,
		"invalid":      `{"type":"new_signal","data":{"id":0,"symbol":"X","signal":"BUY","status":"pending"}}`,
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, f.handler.Handle(context.Background(), []byte(frame)))
		})
	}
	assert.Empty(t, f.pub.kinds())
	assert.Empty(t, f.sub.calls)
}
