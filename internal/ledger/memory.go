package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"SignalHub/internal/domain/models"
	domrepo "SignalHub/internal/domain/repository"
)

var (
	ErrUnknownRecord    = errors.New("ledger: unknown record")
	ErrRecordNotPending = errors.New("ledger: record already completed")
	ErrInvalidStatus    = errors.New("ledger: invalid status")
)

// Complete applies the single pending -> sent|failed transition. Identity
// fields always come from the pending record.
func Complete(pending, update models.DeliveryRecord) (models.DeliveryRecord, error) {
	if pending.Status != models.DeliveryPending {
		return models.DeliveryRecord{}, fmt.Errorf("%w: id=%d status=%s", ErrRecordNotPending, pending.ID, pending.Status)
	}
	if !update.Status.Terminal() {
		return models.DeliveryRecord{}, fmt.Errorf("%w: %q is not terminal", ErrInvalidStatus, update.Status)
	}
	out := pending
	out.Status = update.Status
	out.Response = update.Response
	out.Error = update.Error
	out.SentAt = update.SentAt
	if out.SentAt.IsZero() {
		out.SentAt = time.Now()
	}
	return out.Clone(), nil
}

// Memory is an in-process ledger.
type Memory struct {
	mu      sync.RWMutex
	nextID  int64
	records []models.DeliveryRecord
	index   map[int64]int
}

func NewMemory() *Memory {
	return &Memory{index: make(map[int64]int)}
}

func (m *Memory) Append(ctx context.Context, rec models.DeliveryRecord) (models.DeliveryRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.DeliveryRecord{}, err
	}
	if !rec.Status.Valid() {
		return models.DeliveryRecord{}, fmt.Errorf("%w: %q", ErrInvalidStatus, rec.Status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == 0 {
		m.nextID++
		rec.ID = m.nextID
		if rec.SentAt.IsZero() {
			rec.SentAt = time.Now()
		}
		rec = rec.Clone()
		m.index[rec.ID] = len(m.records)
		m.records = append(m.records, rec)
		return rec.Clone(), nil
	}

	pos, ok := m.index[rec.ID]
	if !ok {
		return models.DeliveryRecord{}, fmt.Errorf("%w: id=%d", ErrUnknownRecord, rec.ID)
	}
	done, err := Complete(m.records[pos], rec)
	if err != nil {
		return models.DeliveryRecord{}, err
	}
	m.records[pos] = done
	return done.Clone(), nil
}

func (m *Memory) Query(ctx context.Context, f models.DeliveryFilter) iter.Seq2[models.DeliveryRecord, error] {
	return func(yield func(models.DeliveryRecord, error) bool) {
		for i, rec := range m.matching(f) {
			if f.Limit > 0 && i >= f.Limit {
				return
			}
			if err := ctx.Err(); err != nil {
				yield(models.DeliveryRecord{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (m *Memory) matching(f models.DeliveryFilter) []models.DeliveryRecord {
	m.mu.RLock()
	out := make([]models.DeliveryRecord, 0)
	for _, rec := range m.records {
		if f.Match(rec) {
			out = append(out, rec.Clone())
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return models.Newer(out[i], out[j]) })
	return out
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Collect drains a query into a slice.
func Collect(seq iter.Seq2[models.DeliveryRecord, error]) ([]models.DeliveryRecord, error) {
	var out []models.DeliveryRecord
	for rec, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ domrepo.Ledger = (*Memory)(nil)
