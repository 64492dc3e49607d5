package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable, e.g.
// SIGNALHUB_TELEGRAM_TOKEN.
const EnvPrefix = "SIGNALHUB_"

// Known destination ids.
const (
	DestTelegram = "telegram"
	DestDiscord  = "discord"
	DestMT45     = "mt45"
)

type Config struct {
	Environment string `yaml:"environment" env:"ENVIRONMENT" default:"development" validate:"required"`

	Log struct {
		Level      string `yaml:"level" env:"LEVEL" default:"info" validate:"oneof=debug info warn error fatal panic"`
		Format     string `yaml:"format" env:"FORMAT" default:"json" validate:"oneof=json console"`
		Output     string `yaml:"output" env:"OUTPUT" default:"stdout"`
		TimeFormat string `yaml:"time_format" env:"TIME_FORMAT"`
		// Lines at or above this level are mirrored to dashboards.
		MirrorLevel   string        `yaml:"mirror_level" env:"MIRROR_LEVEL" default:"warn" validate:"omitempty,oneof=debug info warn error"`
		FlushInterval time.Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL" default:"2s" validate:"gt=0"`
		BatchSize     int           `yaml:"batch_size" env:"BATCH_SIZE" default:"50" validate:"gt=0"`
	} `yaml:"log" envPrefix:"LOG_"`

	Server struct {
		Host            string        `yaml:"host" env:"HOST" default:"0.0.0.0"`
		Port            int           `yaml:"port" env:"PORT" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" default:"10s" validate:"gt=0"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" env:"SLOW_THRESHOLD" default:"1s"`
		CORSOrigins     []string      `yaml:"cors_origins" env:"CORS_ORIGINS" default:"[\"*\"]"`
	} `yaml:"server" envPrefix:"SERVER_"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" env:"ENABLED" default:"true"`
		Path    string `yaml:"path" env:"PATH" default:"/metrics"`
	} `yaml:"metrics" envPrefix:"METRICS_"`

	Hub struct {
		QueueSize       int           `yaml:"queue_size" env:"QUEUE_SIZE" default:"256" validate:"gt=0"`
		LogCapacity     int           `yaml:"log_capacity" env:"LOG_CAPACITY" default:"500" validate:"gt=0"`
		InitialSignals  int           `yaml:"initial_signals" env:"INITIAL_SIGNALS" default:"50" validate:"gte=0"`
		Path            string        `yaml:"path" env:"PATH" default:"/ws"`
		PingInterval    time.Duration `yaml:"ping_interval" env:"PING_INTERVAL" default:"25s" validate:"gt=0"`
		PongWait        time.Duration `yaml:"pong_wait" env:"PONG_WAIT" default:"60s" validate:"gtfield=PingInterval"`
		WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" default:"10s" validate:"gt=0"`
		MaxMessageBytes int64         `yaml:"max_message_bytes" env:"MAX_MESSAGE_BYTES" default:"65536" validate:"gt=0"`
		ControlBuffer   int           `yaml:"control_buffer" env:"CONTROL_BUFFER" default:"16" validate:"gt=0"`
		AllowedOrigins  []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	} `yaml:"hub" envPrefix:"HUB_"`

	Dispatch struct {
		Destinations   []string      `yaml:"destinations" env:"DESTINATIONS"`
		Auto           bool          `yaml:"auto" env:"AUTO"`
		MaxAttempts    int           `yaml:"max_attempts" env:"MAX_ATTEMPTS" default:"3" validate:"gt=0"`
		BackoffBase    time.Duration `yaml:"backoff_base" env:"BACKOFF_BASE" default:"1s" validate:"gt=0"`
		BackoffMax     time.Duration `yaml:"backoff_max" env:"BACKOFF_MAX" default:"30s" validate:"gtefield=BackoffBase"`
		AttemptTimeout time.Duration `yaml:"attempt_timeout" env:"ATTEMPT_TIMEOUT" default:"10s" validate:"gt=0"`
		Workers        int           `yaml:"workers" env:"WORKERS" default:"8" validate:"gt=0"`
		DedupeTTL      time.Duration `yaml:"dedupe_ttl" env:"DEDUPE_TTL" default:"24h"`
	} `yaml:"dispatch" envPrefix:"DISPATCH_"`

	Ledger struct {
		Type  string `yaml:"type" env:"TYPE" default:"memory" validate:"oneof=memory clickhouse"`
		Table string `yaml:"table" env:"TABLE" default:"delivery_records" validate:"required"`
	} `yaml:"ledger" envPrefix:"LEDGER_"`

	Telegram struct {
		Enabled bool          `yaml:"enabled" env:"ENABLED"`
		Token   string        `yaml:"token" env:"TOKEN" validate:"required_if=Enabled true"`
		ChatID  int64         `yaml:"chat_id" env:"CHAT_ID" validate:"required_if=Enabled true"`
		Rate    float64       `yaml:"rate" env:"RATE" default:"1" validate:"gte=0"`
		Burst   int           `yaml:"burst" env:"BURST" default:"3" validate:"gte=0"`
		Timeout time.Duration `yaml:"timeout" env:"TIMEOUT" default:"10s"`
	} `yaml:"telegram" envPrefix:"TELEGRAM_"`

	Discord struct {
		Enabled   bool    `yaml:"enabled" env:"ENABLED"`
		Token     string  `yaml:"token" env:"TOKEN" validate:"required_if=Enabled true"`
		ChannelID string  `yaml:"channel_id" env:"CHANNEL_ID" validate:"required_if=Enabled true"`
		Rate      float64 `yaml:"rate" env:"RATE" default:"1" validate:"gte=0"`
		Burst     int     `yaml:"burst" env:"BURST" default:"3" validate:"gte=0"`
	} `yaml:"discord" envPrefix:"DISCORD_"`

	Polling struct {
		Enabled     bool          `yaml:"enabled" env:"ENABLED"`
		Backend     string        `yaml:"backend" env:"BACKEND" default:"memory" validate:"oneof=memory redis"`
		Terminals   []string      `yaml:"terminals" env:"TERMINALS" default:"[\"default\"]" validate:"required_if=Enabled true,dive,required"`
		MaxDepth    int64         `yaml:"max_depth" env:"MAX_DEPTH" default:"500" validate:"gt=0"`
		TTL         time.Duration `yaml:"ttl" env:"TTL" default:"24h"`
		MagicNumber int64         `yaml:"magic_number" env:"MAGIC_NUMBER" default:"20240101"`
		Rate        float64       `yaml:"rate" env:"RATE" validate:"gte=0"`
		Burst       int           `yaml:"burst" env:"BURST" validate:"gte=0"`
		// Poll endpoint limit per terminal.
		PollRate  float64 `yaml:"poll_rate" env:"POLL_RATE" default:"2" validate:"gte=0"`
		PollBurst int     `yaml:"poll_burst" env:"POLL_BURST" default:"5" validate:"gte=0"`
	} `yaml:"polling" envPrefix:"POLLING_"`

	Redis struct {
		Addr         string        `yaml:"addr" env:"ADDR" default:"localhost:6379"`
		Password     string        `yaml:"password" env:"PASSWORD"`
		DB           int           `yaml:"db" env:"DB" validate:"gte=0"`
		PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE" default:"10" validate:"gt=0"`
		MinIdleConns int           `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS" default:"2" validate:"gte=0"`
		PoolTimeout  time.Duration `yaml:"pool_timeout" env:"POOL_TIMEOUT" default:"4s"`
		Prefix       string        `yaml:"prefix" env:"PREFIX" default:"signalhub"`
	} `yaml:"redis" envPrefix:"REDIS_"`

	Store struct {
		Type    string        `yaml:"type" env:"TYPE" default:"memory" validate:"oneof=memory http"`
		BaseURL string        `yaml:"base_url" env:"BASE_URL" validate:"required_if=Type http"`
		Token   string        `yaml:"token" env:"TOKEN"`
		Timeout time.Duration `yaml:"timeout" env:"TIMEOUT" default:"5s" validate:"gt=0"`
		// Backs the store read cache and the dispatch dedupe set.
		Cache      string        `yaml:"cache" env:"CACHE" default:"memory" validate:"oneof=memory redis"`
		CacheTTL   time.Duration `yaml:"cache_ttl" env:"CACHE_TTL" default:"5s"`
		MaxSignals int           `yaml:"max_signals" env:"MAX_SIGNALS" default:"1000" validate:"gt=0"`
	} `yaml:"store" envPrefix:"STORE_"`

	Kafka struct {
		Brokers            []string `yaml:"brokers" env:"BROKERS"`
		EventsTopic        string   `yaml:"events_topic" env:"EVENTS_TOPIC" default:"signalhub.events"`
		TransmissionsTopic string   `yaml:"transmissions_topic" env:"TRANSMISSIONS_TOPIC"`
		RequiredAcks       int      `yaml:"required_acks" env:"REQUIRED_ACKS" default:"-1" validate:"oneof=-1 0 1"`
		Compression        string   `yaml:"compression" env:"COMPRESSION" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
		Producer           struct {
			MaxAttempts  int           `yaml:"max_attempts" env:"MAX_ATTEMPTS" default:"5"`
			Linger       time.Duration `yaml:"linger" env:"LINGER" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" env:"BATCH_BYTES" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" env:"BATCH_SIZE" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" default:"10s"`
			Async        bool          `yaml:"async" env:"ASYNC"`
		} `yaml:"producer" envPrefix:"PRODUCER_"`
		Consumer struct {
			GroupID     string        `yaml:"group_id" env:"GROUP_ID" default:"signalhub"`
			OffsetReset string        `yaml:"offset_reset" env:"OFFSET_RESET" default:"latest" validate:"oneof=earliest latest"`
			Workers     int           `yaml:"workers" env:"WORKERS" default:"4" validate:"gt=0"`
			BufferSize  int           `yaml:"buffer_size" env:"BUFFER_SIZE" default:"256" validate:"gt=0"`
			RetryMax    int           `yaml:"retry_max" env:"RETRY_MAX" default:"3" validate:"gte=0"`
			BackoffMin  time.Duration `yaml:"backoff_min" env:"BACKOFF_MIN" default:"100ms"`
			BackoffMax  time.Duration `yaml:"backoff_max" env:"BACKOFF_MAX" default:"5s"`
			DLQTopic    string        `yaml:"dlq_topic" env:"DLQ_TOPIC"`
			MinBytes    int           `yaml:"min_bytes" env:"MIN_BYTES" default:"1"`
			MaxBytes    int           `yaml:"max_bytes" env:"MAX_BYTES" default:"10485760"`
		} `yaml:"consumer" envPrefix:"CONSUMER_"`
	} `yaml:"kafka" envPrefix:"KAFKA_"`

	ClickHouse struct {
		Host             string        `yaml:"host" env:"HOST" default:"localhost"`
		Port             int           `yaml:"port" env:"PORT" default:"9000"`
		Database         string        `yaml:"database" env:"DATABASE" default:"default"`
		User             string        `yaml:"user" env:"USER" default:"default"`
		Password         string        `yaml:"password" env:"PASSWORD"`
		UseHTTP          bool          `yaml:"use_http" env:"USE_HTTP"`
		AsyncInsert      bool          `yaml:"async_insert" env:"ASYNC_INSERT"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert" env:"WAIT_FOR_ASYNC_INSERT"`
		DialTimeout      time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" env:"MAX_EXECUTION_TIME" default:"60s"`
		ConnectRetries   int           `yaml:"connect_retries" env:"CONNECT_RETRIES" default:"3"`
	} `yaml:"clickhouse" envPrefix:"CLICKHOUSE_"`

	Heartbeat struct {
		Enabled  bool   `yaml:"enabled" env:"ENABLED" default:"true"`
		Schedule string `yaml:"schedule" env:"SCHEDULE" default:"@every 30s"`
		Name     string `yaml:"name" env:"NAME" default:"signalhub"`
	} `yaml:"heartbeat" envPrefix:"HEARTBEAT_"`

	Intake struct {
		MaxTicksPerSecond int `yaml:"max_ticks_per_second" env:"MAX_TICKS_PER_SECOND" default:"20" validate:"gte=0"`
	} `yaml:"intake" envPrefix:"INTAKE_"`
}

var validate = validator.New()

// Load reads defaults, then the YAML file, and validates the result. An
// empty path uses defaults only.
func Load(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}
	return finish(c)
}

// LoadWithEnv loads config from YAML and overrides with SIGNALHUB_* environment variables.
func LoadWithEnv(path string) (*Config, error) {
	return LoadFrom(path, nil)
}

// LoadFrom is LoadWithEnv with an explicit environment, used by tests.
// A nil environ reads the process environment.
func LoadFrom(path string, environ map[string]string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return finish(c)
}

func read(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if path == "" {
		return &c, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

func finish(c *Config) (*Config, error) {
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) normalize() {
	for i, d := range c.Dispatch.Destinations {
		c.Dispatch.Destinations[i] = strings.ToLower(strings.TrimSpace(d))
	}
	for i, t := range c.Polling.Terminals {
		c.Polling.Terminals[i] = strings.TrimSpace(t)
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
}

// Validate checks struct tags and cross-section rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	enabled := c.EnabledDestinations()
	var errs []error
	for _, d := range c.Dispatch.Destinations {
		switch d {
		case DestTelegram, DestDiscord, DestMT45:
		default:
			errs = append(errs, fmt.Errorf("dispatch.destinations: unknown destination %q", d))
			continue
		}
		if !contains(enabled, d) {
			errs = append(errs, fmt.Errorf("dispatch.destinations: destination %q is not enabled", d))
		}
	}
	if c.Dispatch.Auto && len(c.Dispatch.Destinations) == 0 {
		errs = append(errs, errors.New("dispatch.auto requires dispatch.destinations"))
	}
	if c.Ledger.Type == "clickhouse" && c.ClickHouse.Host == "" {
		errs = append(errs, errors.New("ledger.type clickhouse requires clickhouse.host"))
	}
	if c.Kafka.TransmissionsTopic != "" && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.transmissions_topic requires kafka.brokers"))
	}
	return errors.Join(errs...)
}

// EnabledDestinations lists destination ids whose adapters are switched on.
func (c *Config) EnabledDestinations() []string {
	var out []string
	if c.Telegram.Enabled {
		out = append(out, DestTelegram)
	}
	if c.Discord.Enabled {
		out = append(out, DestDiscord)
	}
	if c.Polling.Enabled {
		out = append(out, DestMT45)
	}
	return out
}

// UsesRedis reports whether any component needs the shared Redis client.
func (c *Config) UsesRedis() bool {
	return (c.Polling.Enabled && c.Polling.Backend == "redis") || c.Store.Cache == "redis"
}

func (c *Config) KafkaEnabled() bool { return len(c.Kafka.Brokers) > 0 }

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
