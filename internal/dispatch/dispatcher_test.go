package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"SignalHub/internal/domain/models"
	domrepo "SignalHub/internal/domain/repository"
	"SignalHub/internal/ledger"
	"SignalHub/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeAdapter struct {
	dest   models.Destination
	script []error
	delay  time.Duration

	mu          sync.Mutex
	calls       int
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeAdapter) Destination() models.Destination { return f.dest }
func (f *fakeAdapter) Address() string                 { return "addr-" + string(f.dest) }

func (f *fakeAdapter) Send(ctx context.Context, _ models.Signal) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", domrepo.Retryable(f.dest, "timeout", ctx.Err())
		}
	}

	f.mu.Lock()
	i := f.calls
	f.calls++
	f.mu.Unlock()

	if i < len(f.script) && f.script[i] != nil {
		return "", f.script[i]
	}
	return fmt.Sprintf("ok-%d", i+1), nil
}

func (f *fakeAdapter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct{ known map[int64]bool }

func (s *fakeStore) ListSignals(context.Context, models.SignalFilter) ([]models.Signal, int64, error) {
	return nil, 0, nil
}

func (s *fakeStore) GetSignal(_ context.Context, id int64) (models.Signal, error) {
	if s.known[id] {
		return models.Signal{ID: id}, nil
	}
	return models.Signal{}, domrepo.ErrSignalNotFound
}

func retryable(dest models.Destination) error {
	return domrepo.Retryable(dest, "503", errors.New("service unavailable"))
}

func terminal(dest models.Destination) error {
	return domrepo.Terminal(dest, "400", errors.New("bad request"))
}

var fastRetry = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

type DispatcherSuite struct {
	suite.Suite
	ledger *ledger.Memory
}

func (s *DispatcherSuite) SetupTest() {
	s.ledger = ledger.NewMemory()
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) newDispatcher(adapters []domrepo.DestinationAdapter, opts ...Option) *Dispatcher {
	opts = append([]Option{WithRetryPolicy(fastRetry)}, opts...)
	d, err := New(adapters, s.ledger, metrics.Nop{}, opts...)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = d.Stop(context.Background()) })
	return d
}

func (s *DispatcherSuite) records(f models.DeliveryFilter) []models.DeliveryRecord {
	out, err := ledger.Collect(s.ledger.Query(context.Background(), f))
	s.Require().NoError(err)
	return out
}

func (s *DispatcherSuite) TestSignal42ChatBotAndPollingStore() {
	chat := &fakeAdapter{dest: "chat-bot"}
	poll := &fakeAdapter{dest: "polling-store", script: []error{retryable("polling-store"), retryable("polling-store")}}
	store := &fakeStore{known: map[int64]bool{42: true}}
	d := s.newDispatcher([]domrepo.DestinationAdapter{chat, poll}, WithSignalStore(store))

	outcomes, err := d.Dispatch(context.Background(), models.Signal{ID: 42, Symbol: "XAUUSD", Direction: models.DirectionBuy},
		[]models.Destination{"chat-bot", "polling-store"})
	s.Require().NoError(err)
	s.Require().Len(outcomes, 2)
	s.Equal(models.DeliverySent, outcomes[0].Status)
	s.Equal(1, outcomes[0].Attempts)
	s.Equal(models.DeliverySent, outcomes[1].Status)
	s.Equal(3, outcomes[1].Attempts)

	chatRecs := s.records(models.DeliveryFilter{SignalID: 42, Destination: "chat-bot"})
	s.Require().Len(chatRecs, 1)
	s.Equal(models.DeliverySent, chatRecs[0].Status)

	pollRecs := s.records(models.DeliveryFilter{SignalID: 42, Destination: "polling-store"})
	s.Require().Len(pollRecs, 3)
	s.Equal(models.DeliverySent, pollRecs[0].Status)
	s.Equal(models.DeliveryFailed, pollRecs[1].Status)
	s.Equal(models.DeliveryFailed, pollRecs[2].Status)
	s.Equal(3, pollRecs[0].Attempt)
	s.Equal(1, pollRecs[2].Attempt)
	s.Equal("addr-polling-store", pollRecs[0].DestinationAddress)

	s.Empty(s.records(models.DeliveryFilter{Status: models.DeliveryPending}))
}

func (s *DispatcherSuite) TestOneDestinationFailsOtherSucceeds() {
	a := &fakeAdapter{dest: "a"}
	b := &fakeAdapter{dest: "b", script: []error{terminal("b")}}
	d := s.newDispatcher([]domrepo.DestinationAdapter{a, b})

	outcomes, err := d.Dispatch(context.Background(), models.Signal{ID: 1}, []models.Destination{"a", "b"})
	s.Require().NoError(err)

	s.Equal(models.DeliverySent, outcomes[0].Status)
	s.Equal(models.DeliveryFailed, outcomes[1].Status)
	s.Contains(outcomes[1].Error, "bad request")

	aRecs := s.records(models.DeliveryFilter{Destination: "a"})
	s.Require().Len(aRecs, 1)
	s.Equal(models.DeliverySent, aRecs[0].Status)

	bRecs := s.records(models.DeliveryFilter{Destination: "b"})
	s.Require().Len(bRecs, 1, "terminal errors are not retried")
	s.Equal(models.DeliveryFailed, bRecs[0].Status)
	s.Require().NotNil(bRecs[0].Error)
	s.Equal(1, b.Calls())
}

func (s *DispatcherSuite) TestRetryBoundProducesExactlyMaxAttempts() {
	a := &fakeAdapter{dest: "a", script: []error{retryable("a"), retryable("a"), retryable("a"), retryable("a")}}
	d := s.newDispatcher([]domrepo.DestinationAdapter{a})

	outcomes, err := d.Dispatch(context.Background(), models.Signal{ID: 5}, []models.Destination{"a"})
	s.Require().NoError(err)
	s.Equal(models.DeliveryFailed, outcomes[0].Status)
	s.Equal(3, outcomes[0].Attempts)
	s.Len(outcomes[0].Records, 3)

	recs := s.records(models.DeliveryFilter{SignalID: 5})
	s.Require().Len(recs, 3)
	for _, r := range recs {
		s.Equal(models.DeliveryFailed, r.Status)
	}
	s.Equal(3, a.Calls())
}

func (s *DispatcherSuite) TestUnknownDestinationRejectedBeforeRecords() {
	a := &fakeAdapter{dest: "a"}
	d := s.newDispatcher([]domrepo.DestinationAdapter{a})

	_, err := d.Dispatch(context.Background(), models.Signal{ID: 1}, []models.Destination{"a", "pager"})
	s.ErrorIs(err, ErrUnknownDestination)
	s.ErrorContains(err, "pager")
	s.Equal(0, s.ledger.Len())
	s.Equal(0, a.Calls())

	_, err = d.Dispatch(context.Background(), models.Signal{ID: 1}, nil)
	s.ErrorIs(err, ErrNoDestinations)
}

func (s *DispatcherSuite) TestSignalMustExistInStore() {
	a := &fakeAdapter{dest: "a"}
	d := s.newDispatcher([]domrepo.DestinationAdapter{a}, WithSignalStore(&fakeStore{known: map[int64]bool{}}))

	_, err := d.Dispatch(context.Background(), models.Signal{ID: 9}, []models.Destination{"a"})
	s.ErrorIs(err, domrepo.ErrSignalNotFound)
	s.Equal(0, s.ledger.Len())
}

func (s *DispatcherSuite) TestSamePairIsSerialized() {
	a := &fakeAdapter{dest: "a", delay: 20 * time.Millisecond}
	d := s.newDispatcher([]domrepo.DestinationAdapter{a})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Dispatch(context.Background(), models.Signal{ID: 11}, []models.Destination{"a"})
			s.NoError(err)
		}()
	}
	wg.Wait()

	s.Equal(int32(1), a.maxInFlight.Load())
	s.Len(s.records(models.DeliveryFilter{SignalID: 11}), 3)
	s.Equal(0, d.locks.size())
}

func (s *DispatcherSuite) TestDifferentSignalsRunConcurrently() {
	a := &fakeAdapter{dest: "a", delay: 50 * time.Millisecond}
	d := s.newDispatcher([]domrepo.DestinationAdapter{a})

	var wg sync.WaitGroup
	for i := int64(1); i <= 2; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = d.Dispatch(context.Background(), models.Signal{ID: id}, []models.Destination{"a"})
		}(i)
	}
	wg.Wait()
	s.Equal(int32(2), a.maxInFlight.Load())
}

func (s *DispatcherSuite) TestObserversAndHealth() {
	a := &fakeAdapter{dest: "a", script: []error{retryable("a")}}
	var mu sync.Mutex
	var seen []models.DeliveryRecord
	d := s.newDispatcher([]domrepo.DestinationAdapter{a}, WithObserver(func(r models.DeliveryRecord) {
		mu.Lock()
		seen = append(seen, r)
		mu.Unlock()
	}))

	_, err := d.Dispatch(context.Background(), models.Signal{ID: 3}, []models.Destination{"a"})
	s.Require().NoError(err)

	mu.Lock()
	defer mu.Unlock()
	s.Require().Len(seen, 2)
	s.Equal(models.DeliveryFailed, seen[0].Status)
	s.Equal(models.DeliverySent, seen[1].Status)

	h := d.Health()
	s.Require().Len(h, 1)
	s.Equal(uint64(1), h[0].Sent)
	s.Equal(uint64(1), h[0].Failed)
	s.Equal(models.DeliverySent, h[0].LastStatus)
}

func (s *DispatcherSuite) TestStopPreventsFurtherAttempts() {
	a := &fakeAdapter{dest: "a", script: []error{retryable("a"), retryable("a"), retryable("a")}}
	d, err := New([]domrepo.DestinationAdapter{a}, s.ledger, metrics.Nop{},
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}))
	s.Require().NoError(err)

	res := make(chan []Outcome, 1)
	go func() {
		out, _ := d.Dispatch(context.Background(), models.Signal{ID: 8}, []models.Destination{"a"})
		res <- out
	}()

	s.Eventually(func() bool { return a.Calls() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Require().NoError(d.Stop(ctx))

	out := <-res
	s.Require().Len(out, 1)
	s.Equal(1, out[0].Attempts)
	s.Len(s.records(models.DeliveryFilter{SignalID: 8}), 1)

	_, err = d.Dispatch(context.Background(), models.Signal{ID: 9}, []models.Destination{"a"})
	s.ErrorIs(err, ErrDispatcherClosed)
	s.ErrorIs(d.Submit(models.Signal{ID: 9}, []models.Destination{"a"}), ErrDispatcherClosed)
}

func (s *DispatcherSuite) TestStopCancelsSlowAdapterAndRecordsIt() {
	a := &fakeAdapter{dest: "a", delay: time.Hour}
	d, err := New([]domrepo.DestinationAdapter{a}, s.ledger, metrics.Nop{},
		WithRetryPolicy(fastRetry), WithAttemptTimeout(time.Hour))
	s.Require().NoError(err)

	go func() { _, _ = d.Dispatch(context.Background(), models.Signal{ID: 4}, []models.Destination{"a"}) }()
	s.Eventually(func() bool { return a.inFlight.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.Error(d.Stop(ctx))

	recs := s.records(models.DeliveryFilter{SignalID: 4})
	s.Require().Len(recs, 1)
	s.Equal(models.DeliveryFailed, recs[0].Status)
}

func (s *DispatcherSuite) TestSubmitDeliversInBackground() {
	a := &fakeAdapter{dest: "a"}
	d := s.newDispatcher([]domrepo.DestinationAdapter{a})

	s.Require().NoError(d.Submit(models.Signal{ID: 21}, []models.Destination{"a"}))
	s.Eventually(func() bool {
		recs := s.records(models.DeliveryFilter{SignalID: 21, Status: models.DeliverySent})
		return len(recs) == 1
	}, time.Second, 5*time.Millisecond)

	s.ErrorIs(d.Submit(models.Signal{ID: 21}, []models.Destination{"zzz"}), ErrUnknownDestination)
}

func TestNewRejectsDuplicateAdapters(t *testing.T) {
	_, err := New([]domrepo.DestinationAdapter{&fakeAdapter{dest: "a"}, &fakeAdapter{dest: "a"}},
		ledger.NewMemory(), metrics.Nop{})
	require.Error(t, err)
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 30*time.Second, p.Backoff(10))

	capped := RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Second, MaxDelay: 15 * time.Second}
	assert.Equal(t, 10*time.Second, capped.Backoff(1))
	assert.Equal(t, 15*time.Second, capped.Backoff(2))
}

func TestDestinationsSorted(t *testing.T) {
	d, err := New([]domrepo.DestinationAdapter{&fakeAdapter{dest: "telegram"}, &fakeAdapter{dest: "discord"}},
		ledger.NewMemory(), metrics.Nop{})
	require.NoError(t, err)
	assert.Equal(t, []models.Destination{"discord", "telegram"}, d.Destinations())
}
