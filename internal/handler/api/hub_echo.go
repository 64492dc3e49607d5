package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"SignalHub/internal/dispatch"
	"SignalHub/internal/domain/models"
	domrepo "SignalHub/internal/domain/repository"
	"SignalHub/internal/hub"
	"SignalHub/internal/ledger"
	"SignalHub/internal/middleware"
	pollmetrics "SignalHub/internal/service/metrics"
	"SignalHub/internal/service/ratelimit"
	xhttp "SignalHub/pkg/http"
	xlogger "SignalHub/pkg/logger"
	"SignalHub/pkg/mailbox"

	"github.com/labstack/echo/v4"
)

// HubEchoHandler serves the read API used by dashboards and trading terminals.
type HubEchoHandler struct {
	logger     *xlogger.Logger
	engine     *hub.Engine
	store      domrepo.SignalStore
	ledger     domrepo.Ledger
	dispatcher *dispatch.Dispatcher
	defaults   []models.Destination
	mailbox    mailbox.Mailbox
	rl         *ratelimit.Limiter
	intake     *middleware.IntakePipeline
	started    time.Time
}

const maxEventBytes = 1 << 20

type HubOption func(*HubEchoHandler)

// WithDefaultDestinations is used by manual dispatch when the request names none.
func WithDefaultDestinations(dests []models.Destination) HubOption {
	return func(h *HubEchoHandler) { h.defaults = dests }
}

// WithMailbox enables the terminal polling endpoints.
func WithMailbox(box mailbox.Mailbox, rl *ratelimit.Limiter) HubOption {
	return func(h *HubEchoHandler) {
		h.mailbox = box
		h.rl = rl
	}
}

// WithIntake accepts envelopes over HTTP, for producers without Kafka access.
func WithIntake(p *middleware.IntakePipeline) HubOption {
	return func(h *HubEchoHandler) { h.intake = p }
}

func NewHubEchoHandler(logger *xlogger.Logger, engine *hub.Engine, store domrepo.SignalStore, ledger domrepo.Ledger, dispatcher *dispatch.Dispatcher, opts ...HubOption) *HubEchoHandler {
	pollmetrics.Register()
	if logger == nil {
		logger = xlogger.NewNop()
	}
	h := &HubEchoHandler{
		logger:     logger,
		engine:     engine,
		store:      store,
		ledger:     ledger,
		dispatcher: dispatcher,
		started:    time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HubEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/health", h.Health)
	g.GET("/market-data", h.MarketData)
	g.GET("/signals", h.Signals)
	g.GET("/signals/:id", h.Signal)
	g.POST("/signals/:id/dispatch", h.Dispatch)
	g.GET("/logs", h.Logs)
	g.GET("/bot-status", h.BotStatus)
	g.GET("/transmissions", h.Transmissions)
	if h.intake != nil {
		g.POST("/events", h.Ingest)
	}
	if h.mailbox != nil {
		g.GET("/mt45/signals", h.PollOrders)
		g.GET("/mt45/connections", h.Terminals)
	}
}

type healthResponse struct {
	Status        string                     `json:"status"`
	UptimeSeconds int64                      `json:"uptimeSeconds"`
	Subscribers   int                        `json:"subscribers"`
	Destinations  []models.DestinationHealth `json:"destinations"`
}

func (h *HubEchoHandler) Health(c echo.Context) error {
	res := healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Subscribers:   h.engine.Registry().Count(),
		Destinations:  []models.DestinationHealth{},
	}
	if h.dispatcher != nil {
		res.Destinations = h.dispatcher.Health()
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *HubEchoHandler) MarketData(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.engine.LatestTicks())
}

func (h *HubEchoHandler) BotStatus(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.engine.BotStatuses())
}

func (h *HubEchoHandler) Signals(c echo.Context) error {
	req := &models.SignalListRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, total, err := h.store.ListSignals(c.Request().Context(), models.SignalFilter{
		Symbol: req.Symbol,
		Status: models.SignalStatus(req.Status),
		Page:   req.Page,
		Limit:  req.Limit,
	})
	if err != nil {
		h.logger.Error("list signals failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UpstreamError("ERR_STORE", "signal store unavailable").WithError(err))
	}
	if rows == nil {
		rows = []models.Signal{}
	}
	return xhttp.ListResponse(c, rows, total)
}

type signalIDRequest struct {
	ID int64 `param:"id" validate:"gt=0"`
}

func (h *HubEchoHandler) Signal(c echo.Context) error {
	req := &signalIDRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sig, err := h.store.GetSignal(c.Request().Context(), req.ID)
	if err != nil {
		return h.storeError(c, req.ID, err)
	}
	return xhttp.SuccessResponse(c, sig)
}

func (h *HubEchoHandler) storeError(c echo.Context, id int64, err error) error {
	if errors.Is(err, domrepo.ErrSignalNotFound) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("signal %d not found", id))
	}
	h.logger.Error("get signal failed", xlogger.Int64("signal_id", id), xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.UpstreamError("ERR_STORE", "signal store unavailable").WithError(err))
}

func (h *HubEchoHandler) Logs(c echo.Context) error {
	req := &models.LogListRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return xhttp.SuccessResponse(c, h.engine.RecentLogs(models.LogLevel(req.Level), req.Limit))
}

func (h *HubEchoHandler) Transmissions(c echo.Context) error {
	req := &models.TransmissionListRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	var since time.Time
	if req.Since != "" {
		t, ok := xhttp.ParseTime(req.Since)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError("since", "since must be RFC3339 or unix seconds"))
		}
		since = t
	}
	rows, err := ledger.Collect(h.ledger.Query(c.Request().Context(), models.DeliveryFilter{
		SignalID:    req.SignalID,
		Destination: models.Destination(req.Destination),
		Status:      models.DeliveryStatus(req.Status),
		Limit:       req.Limit,
	}))
	if err != nil {
		h.logger.Error("query ledger failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("ledger query failed").WithError(err))
	}
	if !since.IsZero() {
		kept := rows[:0]
		for _, r := range rows {
			if !r.SentAt.Before(since) {
				kept = append(kept, r)
			}
		}
		rows = kept
	}
	if rows == nil {
		rows = []models.DeliveryRecord{}
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *HubEchoHandler) Dispatch(c echo.Context) error {
	req := &models.DispatchRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	sig, err := h.store.GetSignal(ctx, req.SignalID)
	if err != nil {
		return h.storeError(c, req.SignalID, err)
	}

	dests := make([]models.Destination, 0, len(req.Destinations))
	for _, d := range req.Destinations {
		dests = append(dests, models.Destination(d))
	}
	if len(dests) == 0 {
		dests = h.defaults
	}
	if len(dests) == 0 {
		dests = h.dispatcher.Destinations()
	}

	outcomes, err := h.dispatcher.Dispatch(ctx, sig, dests)
	switch {
	case errors.Is(err, dispatch.ErrUnknownDestination), errors.Is(err, dispatch.ErrNoDestinations):
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_DESTINATION", "destinations", err.Error(), http.StatusBadRequest))
	case errors.Is(err, dispatch.ErrDispatcherClosed):
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("dispatcher stopped"))
	case err != nil:
		h.logger.Warn("manual dispatch incomplete", xlogger.Int64("signal_id", sig.ID), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("dispatch incomplete").WithError(err))
	}
	return xhttp.SuccessResponse(c, outcomes)
}

// Ingest runs one {type, data} envelope through the intake pipeline.
func (h *HubEchoHandler) Ingest(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxEventBytes))
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("", "unreadable body").WithError(err))
	}
	env, err := models.DecodeEnvelope(body)
	if err == nil {
		err = env.Validate()
	}
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_ENVELOPE", "data", err.Error(), http.StatusBadRequest))
	}
	if err := h.intake.Process(c.Request().Context(), env); err != nil {
		h.logger.Warn("http intake failed", xlogger.String("kind", env.Kind().String()), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UpstreamError("ERR_INTAKE", "event not accepted").WithError(err))
	}
	return xhttp.AcceptedResponse(c, map[string]string{"type": env.Kind().String()})
}

type pollResponse struct {
	EA        string            `json:"ea"`
	Orders    []json.RawMessage `json:"orders"`
	Remaining int64             `json:"remaining"`
}

// PollOrders hands queued orders to a trading terminal. Popped orders are
// gone from the mailbox whether or not the terminal acts on them.
func (h *HubEchoHandler) PollOrders(c echo.Context) error {
	req := &models.MT45PollRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		pollmetrics.PollRequests.WithLabelValues("invalid").Inc()
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.rl != nil && !h.rl.Allow(req.EA) {
		pollmetrics.PollRequests.WithLabelValues("rate_limited").Inc()
		h.logger.Warn("mt45 poll rate limited", xlogger.String("ea", req.EA), xlogger.String("remote", c.RealIP()))
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("poll interval too short").WithParam("ea", req.EA))
	}

	ctx := c.Request().Context()
	payloads, err := h.mailbox.Pop(ctx, req.EA, req.Max)
	if err != nil {
		pollmetrics.PollRequests.WithLabelValues("error").Inc()
		h.logger.Error("mt45 poll failed", xlogger.String("ea", req.EA), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UpstreamError("ERR_MAILBOX", "mailbox unavailable").WithError(err))
	}
	res := pollResponse{EA: req.EA, Orders: make([]json.RawMessage, 0, len(payloads))}
	for _, p := range payloads {
		res.Orders = append(res.Orders, json.RawMessage(p))
	}
	if depth, err := h.mailbox.Depth(ctx, req.EA); err == nil {
		res.Remaining = depth
	}
	pollmetrics.PollRequests.WithLabelValues("ok").Inc()
	pollmetrics.PolledOrders.Add(float64(len(payloads)))
	return xhttp.SuccessResponse(c, res)
}

func (h *HubEchoHandler) Terminals(c echo.Context) error {
	consumers, err := h.mailbox.Consumers(c.Request().Context())
	if err != nil {
		h.logger.Error("list terminals failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UpstreamError("ERR_MAILBOX", "mailbox unavailable").WithError(err))
	}
	if consumers == nil {
		consumers = []mailbox.Consumer{}
	}
	return xhttp.SuccessResponse(c, consumers)
}
