package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"SignalHub/internal/domain/models"
	domrepo "SignalHub/internal/domain/repository"
	"SignalHub/pkg/cache"
	xhttp "SignalHub/pkg/http"
	applogger "SignalHub/pkg/logger"
)

// HTTPSignalStore reads signals from the external signal store. List results
// are cached for a short time; single lookups always go to the store.
type HTTPSignalStore struct {
	client  *xhttp.Client
	baseURL string
	cache   cache.Service
	ttl     time.Duration
	l       *applogger.Logger
}

func NewHTTPSignalStore(client *xhttp.Client, baseURL string, c cache.Service, ttl time.Duration, l *applogger.Logger) *HTTPSignalStore {
	if l == nil {
		l = applogger.NewNop()
	}
	return &HTTPSignalStore{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		cache:   c,
		ttl:     ttl,
		l:       l,
	}
}

type signalPage struct {
	Rows  []models.Signal `json:"rows"`
	Total int64           `json:"total"`
}

type storeEnvelope[T any] struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (s *HTTPSignalStore) ListSignals(ctx context.Context, f models.SignalFilter) ([]models.Signal, int64, error) {
	load := func(ctx context.Context) (signalPage, error) {
		q := map[string][]string{
			"page":  {strconv.Itoa(f.Page)},
			"limit": {strconv.Itoa(f.Limit)},
		}
		if f.Symbol != "" {
			q["symbol"] = []string{f.Symbol}
		}
		if f.Status != "" {
			q["status"] = []string{string(f.Status)}
		}

		var resp storeEnvelope[signalPage]
		err := s.client.SendAndParse(ctx, &xhttp.RequestOptions{
			Method:      xhttp.MethodGet,
			URL:         s.baseURL + "/api/signals",
			QueryParams: q,
		}, &resp)
		if err != nil {
			s.l.Warn("signal store list failed",
				applogger.String("symbol", f.Symbol),
				applogger.Error(err))
			return signalPage{}, fmt.Errorf("list signals: %w", err)
		}
		return resp.Data, nil
	}

	if s.cache == nil || s.ttl <= 0 {
		page, err := load(ctx)
		return page.Rows, page.Total, err
	}
	key := cache.GenerateKeyWithParams("signals", f.Symbol, f.Status, f.Page, f.Limit)
	page, err := cache.GetOrLoad(ctx, s.cache, key, s.ttl, load)
	if err != nil {
		return nil, 0, err
	}
	return page.Rows, page.Total, nil
}

func (s *HTTPSignalStore) GetSignal(ctx context.Context, id int64) (models.Signal, error) {
	var resp storeEnvelope[models.Signal]
	err := s.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    fmt.Sprintf("%s/api/signals/%d", s.baseURL, id),
	}, &resp)
	if err != nil {
		var se *xhttp.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return models.Signal{}, fmt.Errorf("%w: id=%d", domrepo.ErrSignalNotFound, id)
		}
		return models.Signal{}, fmt.Errorf("get signal %d: %w", id, err)
	}
	if resp.Data.ID != id {
		return models.Signal{}, fmt.Errorf("%w: id=%d", domrepo.ErrSignalNotFound, id)
	}
	return resp.Data, nil
}

var _ domrepo.SignalStore = (*HTTPSignalStore)(nil)
