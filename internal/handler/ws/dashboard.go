// Package ws serves the dashboard WebSocket endpoint. Every connection owns
// one read loop (the request goroutine) and one write loop; only the write
// loop touches the connection's writer.
package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"SignalHub/internal/domain/models"
	domrepo "SignalHub/internal/domain/repository"
	"SignalHub/internal/hub"
	applogger "SignalHub/pkg/logger"
)

type Config struct {
	Path            string
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	ControlBuffer   int
	AllowedOrigins  []string
}

func (c *Config) setDefaults() {
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 << 10
	}
	if c.ControlBuffer <= 0 {
		c.ControlBuffer = 16
	}
}

// DashboardHandler upgrades /ws requests and bridges subscribers to sockets.
type DashboardHandler struct {
	engine   *hub.Engine
	cfg      Config
	upgrader websocket.Upgrader
	metrics  domrepo.Metrics
	logger   *applogger.Logger
	now      func() time.Time
}

func NewDashboardHandler(engine *hub.Engine, cfg Config, metrics domrepo.Metrics, l *applogger.Logger) *DashboardHandler {
	cfg.setDefaults()
	if l == nil {
		l = applogger.NewNop()
	}
	h := &DashboardHandler{
		engine:  engine,
		cfg:     cfg,
		metrics: metrics,
		logger:  l,
		now:     time.Now,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *DashboardHandler) RegisterRoutes(e *echo.Echo) {
	e.GET(h.cfg.Path, h.Serve)
}

func (h *DashboardHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	h.logger.Warn("ws: rejected origin", applogger.String("origin", origin))
	return false
}

// Serve handles one dashboard connection until the peer goes away.
func (h *DashboardHandler) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.metrics.RecordError("ws_upgrade")
		h.logger.Warn("ws: upgrade failed", applogger.Error(err))
		return nil
	}

	registry := h.engine.Registry()
	sub := registry.Register(
		hub.WithRemote(c.RealIP()),
		hub.WithControlBuffer(h.cfg.ControlBuffer),
	)
	h.logger.Info("ws: client connected",
		applogger.String("subscriber", sub.ID()),
		applogger.String("remote", sub.Remote()),
		applogger.Int("subscribers", registry.Count()))

	initial := h.engine.Snapshot(c.Request().Context())

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(conn, sub, initial)
	}()

	h.readLoop(conn, sub)

	registry.Unregister(sub)
	<-done
	_ = conn.Close()

	fields := []applogger.Field{
		applogger.String("subscriber", sub.ID()),
		applogger.Uint64("dropped", sub.Dropped()),
		applogger.Uint64("replaced", sub.Replaced()),
	}
	if err := sub.LastError(); err != nil {
		fields = append(fields, applogger.Error(err))
	}
	h.logger.Info("ws: client disconnected", fields...)
	return nil
}

func (h *DashboardHandler) readLoop(conn *websocket.Conn, sub *hub.Subscriber) {
	conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(h.now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(h.now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				sub.SetLastError(err)
			}
			return
		}
		_ = conn.SetReadDeadline(h.now().Add(h.cfg.PongWait))

		frame, err := h.reply(data)
		if err != nil {
			h.logger.Warn("ws: encode reply failed", applogger.Error(err))
			continue
		}
		if !sub.SendControl(frame) {
			h.metrics.RecordDropped("control")
		}
	}
}

// reply builds the frame sent back to the sender of an inbound message.
func (h *DashboardHandler) reply(data []byte) ([]byte, error) {
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		h.metrics.RecordError("ws_inbound_json")
		return json.Marshal(models.WireMessage{Type: models.WireError, Message: "Invalid JSON format"})
	}
	ts := h.now().UTC().Truncate(time.Second)
	return json.Marshal(models.WireMessage{Type: models.WireEcho, Data: parsed, Timestamp: &ts})
}

func (h *DashboardHandler) writeLoop(conn *websocket.Conn, sub *hub.Subscriber, initial models.InitialData) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	// Unblocks the read loop when the write side fails first.
	defer conn.Close()

	first, err := json.Marshal(models.WireMessage{Type: models.WireInitialData, Data: initial})
	if err != nil {
		sub.SetLastError(err)
		return
	}
	if err := h.write(conn, first); err != nil {
		sub.SetLastError(err)
		return
	}

	q := sub.Queue()
	for {
		select {
		case <-q.Ready():
			for {
				env, ok := q.TryPop()
				if !ok {
					break
				}
				frame, err := json.Marshal(env)
				if err != nil {
					h.metrics.RecordError("ws_encode")
					h.logger.Warn("ws: encode envelope failed",
						applogger.String("kind", env.Kind().String()),
						applogger.Error(err))
					continue
				}
				if err := h.write(conn, frame); err != nil {
					sub.SetLastError(err)
					return
				}
			}
		case frame := <-sub.Control():
			if err := h.write(conn, frame); err != nil {
				sub.SetLastError(err)
				return
			}
		case <-ticker.C:
			deadline := h.now().Add(h.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				sub.SetLastError(err)
				return
			}
		case <-q.Done():
			deadline := h.now().Add(h.cfg.WriteTimeout)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				h.logger.Debug("ws: close frame failed", applogger.Error(err))
			}
			return
		}
	}
}

func (h *DashboardHandler) write(conn *websocket.Conn, frame []byte) error {
	if err := conn.SetWriteDeadline(h.now().Add(h.cfg.WriteTimeout)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		h.metrics.RecordError("ws_write")
		return err
	}
	return nil
}
