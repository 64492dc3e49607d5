package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"SignalHub/internal/domain/models"
	domrepo "SignalHub/internal/domain/repository"
	applogger "SignalHub/pkg/logger"

	"golang.org/x/sync/semaphore"
)

var (
	ErrUnknownDestination = errors.New("dispatch: unknown destination")
	ErrNoDestinations     = errors.New("dispatch: no destinations")
	ErrDispatcherClosed   = errors.New("dispatch: dispatcher stopped")
)

// Outcome summarises the attempts made for one destination.
type Outcome struct {
	Destination models.Destination      `json:"destination"`
	Status      models.DeliveryStatus   `json:"status"`
	Attempts    int                     `json:"attempts"`
	Response    string                  `json:"response,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Records     []models.DeliveryRecord `json:"records"`
}

// RecordObserver is called with every completed delivery record. It runs on
// the delivery goroutine and must not block.
type RecordObserver func(models.DeliveryRecord)

type Option func(*Dispatcher)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(d *Dispatcher) {
		if p.MaxAttempts > 0 {
			d.policy = p
		}
	}
}

// WithAttemptTimeout bounds a single adapter call.
func WithAttemptTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.attemptTimeout = t
		}
	}
}

// WithConcurrency bounds concurrent adapter calls across all destinations.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithSignalStore makes Dispatch refuse signals the store does not know.
func WithSignalStore(store domrepo.SignalStore) Option {
	return func(d *Dispatcher) {
		d.signals = store
	}
}

func WithObserver(o RecordObserver) Option {
	return func(d *Dispatcher) {
		if o != nil {
			d.observers = append(d.observers, o)
		}
	}
}

func WithLogger(l *applogger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// Dispatcher delivers signals to destination adapters. Destinations proceed
// concurrently; attempts for the same (signal, destination) never overlap.
type Dispatcher struct {
	adapters  map[models.Destination]domrepo.DestinationAdapter
	ledger    domrepo.Ledger
	signals   domrepo.SignalStore
	metrics   domrepo.Metrics
	logger    *applogger.Logger
	observers []RecordObserver

	policy         RetryPolicy
	attemptTimeout time.Duration
	workers        int
	sem            *semaphore.Weighted
	locks          *keyLock

	baseCtx context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup

	healthMu sync.Mutex
	health   map[models.Destination]*models.DestinationHealth
}

func New(adapters []domrepo.DestinationAdapter, ledger domrepo.Ledger, metrics domrepo.Metrics, opts ...Option) (*Dispatcher, error) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		adapters:       make(map[models.Destination]domrepo.DestinationAdapter, len(adapters)),
		ledger:         ledger,
		metrics:        metrics,
		logger:         applogger.NewNop(),
		policy:         DefaultRetryPolicy(),
		attemptTimeout: 10 * time.Second,
		workers:        8,
		locks:          newKeyLock(),
		baseCtx:        ctx,
		cancel:         cancel,
		stopCh:         make(chan struct{}),
		health:         make(map[models.Destination]*models.DestinationHealth),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.sem = semaphore.NewWeighted(int64(d.workers))

	for _, a := range adapters {
		dest := a.Destination()
		if _, dup := d.adapters[dest]; dup {
			cancel()
			return nil, fmt.Errorf("dispatch: duplicate adapter for %q", dest)
		}
		d.adapters[dest] = a
		d.health[dest] = &models.DestinationHealth{Destination: dest, Address: a.Address()}
	}
	return d, nil
}

// Destinations lists registered destination ids in order.
func (d *Dispatcher) Destinations() []models.Destination {
	out := make([]models.Destination, 0, len(d.adapters))
	for dest := range d.adapters {
		out = append(out, dest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolve checks that every destination is registered. Duplicates collapse.
func (d *Dispatcher) Resolve(dests []models.Destination) ([]domrepo.DestinationAdapter, error) {
	if len(dests) == 0 {
		return nil, ErrNoDestinations
	}
	seen := make(map[models.Destination]bool, len(dests))
	var unknown []string
	out := make([]domrepo.DestinationAdapter, 0, len(dests))
	for _, dest := range dests {
		if seen[dest] {
			continue
		}
		seen[dest] = true
		a, ok := d.adapters[dest]
		if !ok {
			unknown = append(unknown, string(dest))
			continue
		}
		out = append(out, a)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDestination, strings.Join(unknown, ", "))
	}
	return out, nil
}

// Dispatch delivers sig to every destination and waits for the outcomes, in
// the order of dests. Delivery continues in the background if ctx ends
// first; the outcomes gathered so far are returned with ctx's error.
func (d *Dispatcher) Dispatch(ctx context.Context, sig models.Signal, dests []models.Destination) ([]Outcome, error) {
	adapters, err := d.Resolve(dests)
	if err != nil {
		return nil, err
	}
	if err := d.verifySignal(ctx, sig); err != nil {
		return nil, err
	}

	results, err := d.start(sig, adapters)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, len(adapters))
	for range adapters {
		select {
		case r := <-results:
			outcomes[r.idx] = r.out
		case <-ctx.Done():
			return compact(outcomes), ctx.Err()
		}
	}
	return outcomes, nil
}

// Submit is the fire-and-forget form of Dispatch used by the event intake.
func (d *Dispatcher) Submit(sig models.Signal, dests []models.Destination) error {
	if _, err := d.Resolve(dests); err != nil {
		return err
	}
	if d.isClosed() {
		return ErrDispatcherClosed
	}
	go func() {
		outcomes, err := d.Dispatch(d.baseCtx, sig, dests)
		if err != nil {
			d.logger.Warn("dispatch failed",
				applogger.Int64("signal_id", sig.ID),
				applogger.Error(err))
			return
		}
		for _, o := range outcomes {
			if o.Status != models.DeliverySent {
				d.logger.Warn("delivery gave up",
					applogger.Int64("signal_id", sig.ID),
					applogger.String("destination", string(o.Destination)),
					applogger.Int("attempts", o.Attempts),
					applogger.String("error", o.Error))
			}
		}
	}()
	return nil
}

func (d *Dispatcher) verifySignal(ctx context.Context, sig models.Signal) error {
	if sig.ID <= 0 {
		return fmt.Errorf("dispatch: invalid signal id %d", sig.ID)
	}
	if d.signals == nil {
		return nil
	}
	if _, err := d.signals.GetSignal(ctx, sig.ID); err != nil {
		return fmt.Errorf("dispatch: signal %d: %w", sig.ID, err)
	}
	return nil
}

type indexedOutcome struct {
	idx int
	out Outcome
}

func (d *Dispatcher) start(sig models.Signal, adapters []domrepo.DestinationAdapter) (<-chan indexedOutcome, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrDispatcherClosed
	}

	results := make(chan indexedOutcome, len(adapters))
	d.wg.Add(len(adapters))
	for i, a := range adapters {
		go func(i int, a domrepo.DestinationAdapter) {
			defer d.wg.Done()
			results <- indexedOutcome{idx: i, out: d.deliver(sig.Clone(), a)}
		}(i, a)
	}
	return results, nil
}

// deliver runs the attempt loop for one (signal, destination) pair.
func (d *Dispatcher) deliver(sig models.Signal, a domrepo.DestinationAdapter) Outcome {
	dest := a.Destination()
	unlock := d.locks.Lock(pairKey(sig.ID, dest))
	defer unlock()

	out := Outcome{Destination: dest, Status: models.DeliveryFailed}
	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		if attempt > 1 && !d.wait(d.policy.Backoff(attempt-1)) {
			break
		}
		if d.stopping() {
			if out.Attempts == 0 {
				out.Error = ErrDispatcherClosed.Error()
			}
			break
		}

		rec, sendErr := d.attempt(sig, a, attempt)
		out.Attempts = attempt
		if rec.ID != 0 {
			out.Records = append(out.Records, rec)
		}
		if sendErr == nil {
			out.Status = models.DeliverySent
			out.Error = ""
			if rec.Response != nil {
				out.Response = *rec.Response
			}
			break
		}
		out.Error = sendErr.Error()
		if !domrepo.IsRetryable(sendErr) {
			break
		}
		d.logger.Debug("delivery attempt failed, will retry",
			applogger.Int64("signal_id", sig.ID),
			applogger.String("destination", string(dest)),
			applogger.Int("attempt", attempt),
			applogger.Error(sendErr))
	}
	return out
}

// attempt records a pending entry, calls the adapter and records the result.
func (d *Dispatcher) attempt(sig models.Signal, a domrepo.DestinationAdapter, n int) (models.DeliveryRecord, error) {
	dest := a.Destination()
	ledgerCtx, cancelLedger := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelLedger()

	pending, err := d.ledger.Append(ledgerCtx, models.DeliveryRecord{
		SignalID:           sig.ID,
		Destination:        dest,
		DestinationAddress: a.Address(),
		Attempt:            n,
		Status:             models.DeliveryPending,
		SentAt:             time.Now(),
	})
	if err != nil {
		d.metrics.RecordError("ledger_append")
		d.logger.Error("ledger append failed",
			applogger.Int64("signal_id", sig.ID),
			applogger.String("destination", string(dest)),
			applogger.Error(err))
		return models.DeliveryRecord{}, fmt.Errorf("record attempt: %w", err)
	}

	resp, sendErr := d.send(sig, a)

	update := models.DeliveryRecord{ID: pending.ID, Status: models.DeliverySent, SentAt: time.Now()}
	if sendErr != nil {
		msg := sendErr.Error()
		update.Status = models.DeliveryFailed
		update.Error = &msg
	} else {
		update.Response = &resp
	}

	final, err := d.ledger.Append(ledgerCtx, update)
	if err != nil {
		d.metrics.RecordError("ledger_complete")
		d.logger.Error("ledger completion failed",
			applogger.Int64("record_id", pending.ID),
			applogger.Error(err))
		final = pending
		final.Status = update.Status
		final.Response = update.Response
		final.Error = update.Error
		final.SentAt = update.SentAt
	}

	d.metrics.RecordDelivery(string(dest), string(final.Status))
	d.observe(final)
	for _, o := range d.observers {
		o(final)
	}
	return final, sendErr
}

func (d *Dispatcher) send(sig models.Signal, a domrepo.DestinationAdapter) (string, error) {
	if err := d.sem.Acquire(d.baseCtx, 1); err != nil {
		return "", domrepo.Terminal(a.Destination(), "shutdown", ErrDispatcherClosed)
	}
	defer d.sem.Release(1)

	ctx, cancel := context.WithTimeout(d.baseCtx, d.attemptTimeout)
	defer cancel()

	start := time.Now()
	resp, err := a.Send(ctx, sig)
	d.metrics.RecordLatency("deliver_"+string(a.Destination()), time.Since(start).Seconds())
	return resp, err
}

func (d *Dispatcher) observe(rec models.DeliveryRecord) {
	d.healthMu.Lock()
	defer d.healthMu.Unlock()
	h, ok := d.health[rec.Destination]
	if !ok {
		return
	}
	h.LastStatus = rec.Status
	h.LastAt = rec.SentAt
	h.LastError = ""
	if rec.Status == models.DeliverySent {
		h.Sent++
	} else {
		h.Failed++
		if rec.Error != nil {
			h.LastError = *rec.Error
		}
	}
}

// Health reports per-destination counters and the latest outcome.
func (d *Dispatcher) Health() []models.DestinationHealth {
	d.healthMu.Lock()
	out := make([]models.DestinationHealth, 0, len(d.health))
	for _, h := range d.health {
		out = append(out, *h)
	}
	d.healthMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Destination < out[j].Destination })
	return out
}

// wait sleeps for the backoff delay. It returns false if the dispatcher is
// stopping.
func (d *Dispatcher) wait(delay time.Duration) bool {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-d.stopCh:
		return false
	}
}

func (d *Dispatcher) stopping() bool {
	select {
	case <-d.stopCh:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

// Stop rejects new dispatches and prevents further attempts. It waits for
// in-flight adapter calls until ctx ends, then cancels them and waits briefly
// for their results to be recorded.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.stopCh)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
	}

	d.logger.Warn("dispatcher: cancelling in-flight deliveries")
	d.cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		return fmt.Errorf("dispatcher stop: deliveries still running: %w", ctx.Err())
	}
	return fmt.Errorf("dispatcher stop: %w", ctx.Err())
}

func compact(in []Outcome) []Outcome {
	out := make([]Outcome, 0, len(in))
	for _, o := range in {
		if o.Destination != "" {
			out = append(out, o)
		}
	}
	return out
}
