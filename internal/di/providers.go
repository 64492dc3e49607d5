package di

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"SignalHub/internal/adapter"
	"SignalHub/internal/dispatch"
	"SignalHub/internal/domain/models"
	"SignalHub/internal/domain/repository"
	"SignalHub/internal/handler/api"
	"SignalHub/internal/handler/ws"
	"SignalHub/internal/hub"
	"SignalHub/internal/ledger"
	mid "SignalHub/internal/middleware"
	internalrepo "SignalHub/internal/repository"
	"SignalHub/internal/service/ratelimit"
	"SignalHub/internal/usecase"
	"SignalHub/pkg/cache"
	pkgch "SignalHub/pkg/clickhouse"
	"SignalHub/pkg/config"
	xhttp "SignalHub/pkg/http"
	pkgkafka "SignalHub/pkg/kafka"
	applogger "SignalHub/pkg/logger"
	"SignalHub/pkg/mailbox"
	"SignalHub/pkg/metrics"
	"SignalHub/pkg/server"
)

// ProvideLogger creates the process logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideRedisClient returns nil when no component is configured for Redis.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	if !cfg.UsesRedis() {
		return nil, nil
	}
	client, err := cache.NewRedisClient(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("redis client: %w", err)
	}
	return client, nil
}

// ProvideCache backs the store read cache and the dispatch dedupe set.
func ProvideCache(cfg *config.Config, client *redis.Client) cache.Service {
	if cfg.Store.Cache == "redis" && client != nil {
		return cache.NewRedisCache(client, cache.WithRedisPrefix(cfg.Redis.Prefix))
	}
	return cache.NewMemoryCache(cache.WithMaxSize(10000), cache.WithCleanupInterval(time.Minute))
}

// ProvideMailbox returns nil when the polling destination is disabled.
func ProvideMailbox(cfg *config.Config, l *applogger.Logger, client *redis.Client) mailbox.Mailbox {
	if !cfg.Polling.Enabled {
		return nil
	}
	opts := []mailbox.Option{
		mailbox.WithPrefix(cfg.Redis.Prefix + ":mt45"),
		mailbox.WithMaxDepth(cfg.Polling.MaxDepth),
		mailbox.WithTTL(cfg.Polling.TTL),
	}
	if cfg.Polling.Backend == "redis" && client != nil {
		return mailbox.NewRedis(l, client, opts...)
	}
	return mailbox.NewMemory(opts...)
}

// ProvideAdapters builds one adapter per enabled destination.
func ProvideAdapters(cfg *config.Config, l *applogger.Logger, box mailbox.Mailbox) ([]repository.DestinationAdapter, error) {
	var out []repository.DestinationAdapter
	if cfg.Telegram.Enabled {
		tg, err := adapter.NewTelegram(adapter.TelegramConfig{
			Token:   cfg.Telegram.Token,
			ChatID:  cfg.Telegram.ChatID,
			Rate:    cfg.Telegram.Rate,
			Burst:   cfg.Telegram.Burst,
			Timeout: cfg.Telegram.Timeout,
		}, l)
		if err != nil {
			return nil, fmt.Errorf("telegram adapter: %w", err)
		}
		out = append(out, tg)
	}
	if cfg.Discord.Enabled {
		dc, err := adapter.NewDiscord(adapter.DiscordConfig{
			Token:     cfg.Discord.Token,
			ChannelID: cfg.Discord.ChannelID,
			Rate:      cfg.Discord.Rate,
			Burst:     cfg.Discord.Burst,
		}, l)
		if err != nil {
			return nil, fmt.Errorf("discord adapter: %w", err)
		}
		out = append(out, dc)
	}
	if cfg.Polling.Enabled {
		p, err := adapter.NewPolling(box, adapter.PollingConfig{
			Terminals:   cfg.Polling.Terminals,
			MagicNumber: cfg.Polling.MagicNumber,
			Rate:        cfg.Polling.Rate,
			Burst:       cfg.Polling.Burst,
		}, l)
		if err != nil {
			return nil, fmt.Errorf("polling adapter: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// ProvideClickHouseClient returns nil unless the ledger lives in ClickHouse.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Ledger.Type != "clickhouse" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		pkgch.WithConnectRetries(cfg.ClickHouse.ConnectRetries, 2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideLedger creates the delivery ledger.
func ProvideLedger(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) (repository.Ledger, error) {
	if ch == nil {
		return ledger.NewMemory(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lg, err := internalrepo.NewCHLedger(ctx, ch, cfg.Ledger.Table, l)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("clickhouse ledger: %w", err)
	}
	return lg, nil
}

// ProvideSignalStore creates the read side of the signal store.
func ProvideSignalStore(cfg *config.Config, c cache.Service, l *applogger.Logger) repository.SignalStore {
	if cfg.Store.Type == "http" {
		opts := []xhttp.ClientOption{xhttp.WithTimeout(cfg.Store.Timeout)}
		if cfg.Store.Token != "" {
			opts = append(opts, xhttp.WithHeader("Authorization", "Bearer "+cfg.Store.Token))
		}
		client := xhttp.NewClient(opts...)
		return internalrepo.NewHTTPSignalStore(client, cfg.Store.BaseURL, c, cfg.Store.CacheTTL, l)
	}
	return internalrepo.NewMemorySignalStore(cfg.Store.MaxSignals)
}

// ProvideSignalWriter returns nil for read-only stores.
func ProvideSignalWriter(store repository.SignalStore) repository.SignalWriter {
	if w, ok := store.(repository.SignalWriter); ok {
		return w
	}
	return nil
}

// ProvideEngine creates the broadcast engine and mirrors process logs into it.
func ProvideEngine(cfg *config.Config, m repository.Metrics, store repository.SignalStore, l *applogger.Logger) (*hub.Engine, error) {
	engine := hub.NewEngine(
		hub.NewRegistry(cfg.Hub.QueueSize, m),
		m,
		hub.WithLogCapacity(cfg.Hub.LogCapacity),
		hub.WithSignalStore(store, cfg.Hub.InitialSignals),
		hub.WithLogger(l.With(applogger.String("component", "hub"))),
	)

	if cfg.Log.MirrorLevel != "" {
		level, err := zerolog.ParseLevel(cfg.Log.MirrorLevel)
		if err != nil {
			return nil, fmt.Errorf("log mirror level: %w", err)
		}
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Log.FlushInterval,
			CountThreshold: cfg.Log.BatchSize,
			MinLevel:       level,
			Publisher:      engine.LogSink(cfg.Heartbeat.Name),
		})
	}
	return engine, nil
}

// ProvideKafkaProducer returns nil unless transmissions are mirrored to Kafka.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.KafkaEnabled() || cfg.Kafka.TransmissionsTopic == "" {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideTransmissionPublisher returns nil without a producer.
func ProvideTransmissionPublisher(cfg *config.Config, producer *pkgkafka.Producer) *internalrepo.KafkaTransmissionPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaTransmissionPublisher(producer, cfg.Kafka.TransmissionsTopic)
}

// ProvideDispatcher creates the delivery dispatcher. Completed records are
// broadcast to dashboards and, when configured, mirrored to Kafka.
func ProvideDispatcher(
	cfg *config.Config,
	adapters []repository.DestinationAdapter,
	lg repository.Ledger,
	m repository.Metrics,
	store repository.SignalStore,
	engine *hub.Engine,
	pub *internalrepo.KafkaTransmissionPublisher,
	l *applogger.Logger,
) (*dispatch.Dispatcher, error) {
	opts := []dispatch.Option{
		dispatch.WithRetryPolicy(dispatch.RetryPolicy{
			MaxAttempts: cfg.Dispatch.MaxAttempts,
			BaseDelay:   cfg.Dispatch.BackoffBase,
			MaxDelay:    cfg.Dispatch.BackoffMax,
		}),
		dispatch.WithAttemptTimeout(cfg.Dispatch.AttemptTimeout),
		dispatch.WithConcurrency(cfg.Dispatch.Workers),
		dispatch.WithSignalStore(store),
		dispatch.WithLogger(l.With(applogger.String("component", "dispatcher"))),
		dispatch.WithObserver(func(rec models.DeliveryRecord) {
			engine.Publish(models.NewTransmissionEnvelope(rec))
		}),
	}
	if pub != nil {
		timeout := cfg.Kafka.Producer.WriteTimeout
		opts = append(opts, dispatch.WithObserver(func(rec models.DeliveryRecord) {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), timeout)
				defer cancel()
				if err := pub.PublishTransmission(ctx, rec); err != nil {
					m.RecordError("transmission_publish")
					l.Warn("publish transmission failed",
						applogger.Int64("signal_id", rec.SignalID),
						applogger.Error(err))
				}
			}()
		}))
	}

	d, err := dispatch.New(adapters, lg, m, opts...)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	return d, nil
}

// ProvideEventRouter wires persistence, broadcast and auto-dispatch for intake.
func ProvideEventRouter(
	cfg *config.Config,
	engine *hub.Engine,
	writer repository.SignalWriter,
	d *dispatch.Dispatcher,
	c cache.Service,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.EventRouter {
	opts := []usecase.RouterOption{usecase.WithRouterLogger(l)}
	if writer != nil {
		opts = append(opts, usecase.WithSignalWriter(writer))
	}
	if cfg.Dispatch.Auto {
		opts = append(opts,
			usecase.WithAutoDispatch(d, destinations(cfg.Dispatch.Destinations)),
			usecase.WithDedupe(c, cfg.Dispatch.DedupeTTL),
		)
	}
	return usecase.NewEventRouter(engine, m, opts...)
}

// ProvideIntakePipeline is shared by the Kafka handler and POST /api/events.
func ProvideIntakePipeline(cfg *config.Config, router *usecase.EventRouter, m repository.Metrics) *mid.IntakePipeline {
	return mid.NewIntakePipeline(router, m,
		mid.WithMaxTicksPerSecond(cfg.Intake.MaxTicksPerSecond),
	)
}

// ProvideEventsHandler registers the handler for the events topic.
func ProvideEventsHandler(cfg *config.Config, pipe *mid.IntakePipeline, m repository.Metrics) *usecase.EventsHandler {
	return usecase.NewEventsHandler(cfg.Kafka.EventsTopic, pipe, m)
}

// ProvideKafkaConsumer returns nil when no brokers are configured.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.KafkaEnabled() {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerAutoOffsetReset(cfg.Kafka.Consumer.OffsetReset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.LoggingHook{Logger: l, SlowThreshold: cfg.Server.SlowThreshold})
	return consumer, nil
}

// ProvideHeartbeat returns nil when heartbeats are disabled.
func ProvideHeartbeat(cfg *config.Config, engine *hub.Engine, d *dispatch.Dispatcher, l *applogger.Logger) *usecase.Heartbeat {
	if !cfg.Heartbeat.Enabled {
		return nil
	}
	return usecase.NewHeartbeat(engine, d,
		usecase.WithSchedule(cfg.Heartbeat.Schedule),
		usecase.WithHubName(cfg.Heartbeat.Name, engine.Registry().Count),
		usecase.WithHeartbeatLogger(l.With(applogger.String("component", "heartbeat"))),
	)
}

// ProvideDashboardHandler serves the dashboard WebSocket.
func ProvideDashboardHandler(cfg *config.Config, engine *hub.Engine, m repository.Metrics, l *applogger.Logger) *ws.DashboardHandler {
	return ws.NewDashboardHandler(engine, ws.Config{
		Path:            cfg.Hub.Path,
		PingInterval:    cfg.Hub.PingInterval,
		PongWait:        cfg.Hub.PongWait,
		WriteTimeout:    cfg.Hub.WriteTimeout,
		MaxMessageBytes: cfg.Hub.MaxMessageBytes,
		ControlBuffer:   cfg.Hub.ControlBuffer,
		AllowedOrigins:  cfg.Hub.AllowedOrigins,
	}, m, l)
}

// ProvideAPIHandler serves the REST endpoints.
func ProvideAPIHandler(
	cfg *config.Config,
	l *applogger.Logger,
	engine *hub.Engine,
	store repository.SignalStore,
	lg repository.Ledger,
	d *dispatch.Dispatcher,
	box mailbox.Mailbox,
	pipe *mid.IntakePipeline,
) *api.HubEchoHandler {
	opts := []api.HubOption{
		api.WithDefaultDestinations(destinations(cfg.Dispatch.Destinations)),
		api.WithIntake(pipe),
	}
	if box != nil {
		opts = append(opts, api.WithMailbox(box, ratelimit.New(cfg.Polling.PollRate, cfg.Polling.PollBurst)))
	}
	return api.NewHubEchoHandler(l, engine, store, lg, d, opts...)
}

// ProvideHTTPServer mounts the WebSocket and REST handlers.
func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, wsh *ws.DashboardHandler, apih *api.HubEchoHandler) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(l, []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithCORS(len(cfg.Server.CORSOrigins) > 0, cfg.Server.CORSOrigins...),
		xhttp.WithMetricsPath(metricsPath),
	}, wsh, apih)
}

// ProvideApp assembles the lifecycle. Resources are released after the
// dispatcher drains, in dependency order.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	srv *xhttp.Server,
	consumer *pkgkafka.Consumer,
	events *usecase.EventsHandler,
	heartbeat *usecase.Heartbeat,
	d *dispatch.Dispatcher,
	pub *internalrepo.KafkaTransmissionPublisher,
	box mailbox.Mailbox,
	c cache.Service,
	rc *redis.Client,
	ch *pkgch.Client,
) *server.App {
	opts := []server.Option{
		server.WithCloser("dispatcher", d.Stop),
	}
	if consumer != nil {
		opts = append(opts, server.WithConsumer(consumer, events))
	}
	if heartbeat != nil {
		opts = append(opts, server.WithJob(heartbeat))
	}
	if pub != nil {
		opts = append(opts, server.WithCloser("kafka producer", ignoreCtx(pub.Close)))
	}
	if box != nil {
		opts = append(opts, server.WithCloser("mailbox", ignoreCtx(box.Close)))
	}
	opts = append(opts, server.WithCloser("cache", ignoreCtx(c.Close)))
	if rc != nil {
		opts = append(opts, server.WithCloser("redis", ignoreCtx(rc.Close)))
	}
	if ch != nil {
		opts = append(opts, server.WithCloser("clickhouse", ignoreCtx(ch.Close)))
	}
	return server.New(cfg, l, srv, opts...)
}

func ignoreCtx(fn func() error) func(context.Context) error {
	return func(context.Context) error { return fn() }
}

func destinations(ids []string) []models.Destination {
	out := make([]models.Destination, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Destination(strings.ToLower(id)))
	}
	return out
}
