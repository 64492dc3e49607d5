package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"SignalHub/internal/domain/models"
	domrepo "SignalHub/internal/domain/repository"
)

// MemorySignalStore keeps the most recent signals in process. It is used when
// no external store is configured and is populated by the event intake.
type MemorySignalStore struct {
	mu      sync.RWMutex
	signals map[int64]models.Signal
	max     int
}

func NewMemorySignalStore(max int) *MemorySignalStore {
	if max <= 0 {
		max = 1000
	}
	return &MemorySignalStore{signals: make(map[int64]models.Signal), max: max}
}

func (s *MemorySignalStore) SaveSignal(ctx context.Context, sig models.Signal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sig.Validate(); err != nil {
		return fmt.Errorf("save signal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[sig.ID] = sig.Clone()
	if len(s.signals) > s.max {
		s.evictOldest()
	}
	return nil
}

// evictOldest drops the lowest id. Ids are monotonic, so it is the oldest.
func (s *MemorySignalStore) evictOldest() {
	var oldest int64
	first := true
	for id := range s.signals {
		if first || id < oldest {
			oldest, first = id, false
		}
	}
	delete(s.signals, oldest)
}

func (s *MemorySignalStore) GetSignal(ctx context.Context, id int64) (models.Signal, error) {
	if err := ctx.Err(); err != nil {
		return models.Signal{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[id]
	if !ok {
		return models.Signal{}, fmt.Errorf("%w: id=%d", domrepo.ErrSignalNotFound, id)
	}
	return sig.Clone(), nil
}

// ListSignals returns one page, newest first, and the number of matches.
func (s *MemorySignalStore) ListSignals(ctx context.Context, f models.SignalFilter) ([]models.Signal, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	s.mu.RLock()
	matched := make([]models.Signal, 0, len(s.signals))
	for _, sig := range s.signals {
		if f.Symbol != "" && !strings.EqualFold(sig.Symbol, f.Symbol) {
			continue
		}
		if f.Status != "" && sig.Status != f.Status {
			continue
		}
		matched = append(matched, sig.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	page, limit := f.Page, f.Limit
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	start := (page - 1) * limit
	if start >= len(matched) {
		return []models.Signal{}, total, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

var (
	_ domrepo.SignalStore  = (*MemorySignalStore)(nil)
	_ domrepo.SignalWriter = (*MemorySignalStore)(nil)
)
