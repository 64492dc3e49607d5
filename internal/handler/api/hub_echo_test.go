package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"SignalHub/internal/adapter"
	"SignalHub/internal/dispatch"
	"SignalHub/internal/domain/models"
	domrepo "SignalHub/internal/domain/repository"
	"SignalHub/internal/hub"
	"SignalHub/internal/ledger"
	"SignalHub/internal/middleware"
	"SignalHub/internal/repository"
	"SignalHub/internal/service/ratelimit"
	"SignalHub/pkg/mailbox"
	"SignalHub/pkg/metrics"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type HubAPISuite struct {
	suite.Suite
	e          *echo.Echo
	engine     *hub.Engine
	store      *repository.MemorySignalStore
	ledger     *ledger.Memory
	box        *mailbox.MemoryMailbox
	dispatcher *dispatch.Dispatcher
}

func TestHubAPISuite(t *testing.T) {
	suite.Run(t, new(HubAPISuite))
}

func (s *HubAPISuite) SetupTest() {
	ctx := context.Background()
	s.store = repository.NewMemorySignalStore(100)
	for _, sig := range []models.Signal{
		{ID: 41, Symbol: "ETH/USD", Direction: models.DirectionSell, Confidence: 0.6, EntryPrice: 3000, Status: models.SignalExecuted, CreatedAt: time.Unix(100, 0)},
		{ID: 42, Symbol: "BTC/USD", Direction: models.DirectionBuy, Confidence: 0.8, EntryPrice: 65000, Status: models.SignalPending, CreatedAt: time.Unix(200, 0)},
	} {
		s.Require().NoError(s.store.SaveSignal(ctx, sig))
	}

	s.engine = hub.NewEngine(hub.NewRegistry(16, metrics.Nop{}), metrics.Nop{})
	s.ledger = ledger.NewMemory()
	s.box = mailbox.NewMemory()

	polling, err := adapter.NewPolling(s.box, adapter.PollingConfig{Terminals: []string{"ea-1"}, MagicNumber: 777}, nil)
	s.Require().NoError(err)
	s.dispatcher, err = dispatch.New([]domrepo.DestinationAdapter{polling}, s.ledger, metrics.Nop{},
		dispatch.WithSignalStore(s.store))
	s.Require().NoError(err)

	sink := middleware.SinkFunc(func(_ context.Context, env models.Envelope) error {
		s.engine.Publish(env)
		return nil
	})
	h := NewHubEchoHandler(nil, s.engine, s.store, s.ledger, s.dispatcher,
		WithMailbox(s.box, ratelimit.New(100, 100)),
		WithIntake(middleware.NewIntakePipeline(sink, metrics.Nop{})))
	s.e = echo.New()
	h.RegisterRoutes(s.e)
}

func (s *HubAPISuite) TearDownTest() {
	s.Require().NoError(s.dispatcher.Stop(context.Background()))
}

func (s *HubAPISuite) do(method, target, body string) envelope {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var env envelope
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func (s *HubAPISuite) TestHealth() {
	env := s.do(http.MethodGet, "/api/health", "")
	s.Equal(http.StatusOK, env.Status)

	var res healthResponse
	s.Require().NoError(json.Unmarshal(env.Data, &res))
	s.Equal("ok", res.Status)
	s.Require().Len(res.Destinations, 1)
	s.Equal(models.DestinationMT45, res.Destinations[0].Destination)
	s.Equal("ea-1", res.Destinations[0].Address)
}

func (s *HubAPISuite) TestSignalsListAndFilter() {
	env := s.do(http.MethodGet, "/api/signals?status=pending", "")
	var page struct {
		Rows  []models.Signal `json:"rows"`
		Total int64           `json:"total"`
	}
	s.Require().NoError(json.Unmarshal(env.Data, &page))
	s.Equal(int64(1), page.Total)
	s.Require().Len(page.Rows, 1)
	s.Equal(int64(42), page.Rows[0].ID)

	bad := s.do(http.MethodGet, "/api/signals?status=bogus&limit=5000", "")
	s.Equal(http.StatusBadRequest, bad.Status)
}

func (s *HubAPISuite) TestSignalNotFound() {
	env := s.do(http.MethodGet, "/api/signals/999", "")
	s.Equal(http.StatusNotFound, env.Status)
}

func (s *HubAPISuite) TestMarketDataLogsBotStatus() {
	now := time.Now()
	s.engine.Publish(models.NewTickEnvelope(models.MarketTick{Symbol: "BTC/USD", Price: 1, Timestamp: now}))
	s.engine.Publish(models.NewLogEnvelope(models.LogLine{Level: models.LevelInfo, Service: "x", Message: "hello", Timestamp: now}))
	s.engine.Publish(models.NewLogEnvelope(models.LogLine{Level: models.LevelError, Service: "x", Message: "boom", Timestamp: now}))
	s.engine.Publish(models.NewHeartbeatEnvelope(models.BotStatus{BotName: "discord", Status: models.BotActive, LastHeartbeat: now}))

	var ticks []models.MarketTick
	s.Require().NoError(json.Unmarshal(s.do(http.MethodGet, "/api/market-data", "").Data, &ticks))
	s.Require().Len(ticks, 1)

	var logs []models.LogLine
	s.Require().NoError(json.Unmarshal(s.do(http.MethodGet, "/api/logs?level=ERROR", "").Data, &logs))
	s.Require().Len(logs, 1)
	s.Equal("boom", logs[0].Message)

	var bots []models.BotStatus
	s.Require().NoError(json.Unmarshal(s.do(http.MethodGet, "/api/bot-status", "").Data, &bots))
	s.Require().Len(bots, 1)
	s.Equal("discord", bots[0].BotName)
}

func (s *HubAPISuite) TestManualDispatchThenPoll() {
	env := s.do(http.MethodPost, "/api/signals/42/dispatch", `{"destinations":["mt45"]}`)
	s.Require().Equal(http.StatusOK, env.Status, string(env.Data))

	var outcomes []dispatch.Outcome
	s.Require().NoError(json.Unmarshal(env.Data, &outcomes))
	s.Require().Len(outcomes, 1)
	s.Equal(models.DeliverySent, outcomes[0].Status)

	var tx struct {
		Rows []models.DeliveryRecord `json:"rows"`
	}
	s.Require().NoError(json.Unmarshal(s.do(http.MethodGet, "/api/transmissions?signal_id=42", "").Data, &tx))
	s.Require().NotEmpty(tx.Rows)
	s.Equal(models.DeliverySent, tx.Rows[0].Status)

	var poll pollResponse
	s.Require().NoError(json.Unmarshal(s.do(http.MethodGet, "/api/mt45/signals?ea=ea-1", "").Data, &poll))
	s.Require().Len(poll.Orders, 1)
	s.Equal(int64(0), poll.Remaining)

	var order adapter.TerminalOrder
	s.Require().NoError(json.Unmarshal(poll.Orders[0], &order))
	s.Equal(int64(42), order.SignalID)
	s.Equal("BTCUSD", order.Instrument)
	s.Equal(int64(777), order.MagicNumber)

	var terminals []mailbox.Consumer
	s.Require().NoError(json.Unmarshal(s.do(http.MethodGet, "/api/mt45/connections", "").Data, &terminals))
	s.Require().Len(terminals, 1)
	s.Equal("ea-1", terminals[0].Address)
}

func (s *HubAPISuite) TestDispatchErrors() {
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/signals/42/dispatch", `{"destinations":["fax"]}`).Status)
	s.Equal(http.StatusNotFound, s.do(http.MethodPost, "/api/signals/7/dispatch", `{}`).Status)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/signals/0/dispatch", `{}`).Status)
}

func (s *HubAPISuite) TestTransmissionsSince() {
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/api/signals/42/dispatch", `{"destinations":["mt45"]}`).Status)

	var tx struct {
		Rows []models.DeliveryRecord `json:"rows"`
	}
	s.Require().NoError(json.Unmarshal(s.do(http.MethodGet, "/api/transmissions?since=2001-01-01T00:00:00Z", "").Data, &tx))
	s.NotEmpty(tx.Rows)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	s.Require().NoError(json.Unmarshal(s.do(http.MethodGet, "/api/transmissions?since="+future, "").Data, &tx))
	s.Empty(tx.Rows)

	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/api/transmissions?since=yesterday", "").Status)
}

func (s *HubAPISuite) TestIngest() {
	env := s.do(http.MethodPost, "/api/events",
		`{"type":"market_data","data":{"symbol":"SOL/USD","price":150.5,"volume":10,"timestamp":"2024-10-10T10:10:10Z"}}`)
	s.Require().Equal(http.StatusAccepted, env.Status, string(env.Data))

	var ticks []models.MarketTick
	s.Require().NoError(json.Unmarshal(s.do(http.MethodGet, "/api/market-data", "").Data, &ticks))
	s.Require().Len(ticks, 1)
	s.Equal("SOL/USD", ticks[0].Symbol)

	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/events", `{"type":"nope","data":{}}`).Status)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/events", `{"type":"market_data","data":{"price":1}}`).Status)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/events", `not json`).Status)
}

func (s *HubAPISuite) TestPollValidation() {
	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/api/mt45/signals", "").Status)
}

func TestPollRateLimited(t *testing.T) {
	box := mailbox.NewMemory()
	engine := hub.NewEngine(hub.NewRegistry(4, metrics.Nop{}), metrics.Nop{})
	h := NewHubEchoHandler(nil, engine, repository.NewMemorySignalStore(1), ledger.NewMemory(), nil,
		WithMailbox(box, ratelimit.New(0.001, 1)))
	e := echo.New()
	h.RegisterRoutes(e)

	statuses := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/mt45/signals?ea=ea-9", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var env envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		statuses = append(statuses, env.Status)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, statuses)
}
