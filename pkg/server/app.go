package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SignalHub/pkg/config"
	xhttp "SignalHub/pkg/http"
	pkgkafka "SignalHub/pkg/kafka"
	applogger "SignalHub/pkg/logger"
)

// Job is a scheduled background component.
type Job interface {
	Start() error
	Stop()
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	httpServer *xhttp.Server

	consumer *pkgkafka.Consumer
	handlers []pkgkafka.MessageHandler
	jobs     []Job

	// released in registration order after the listeners stop
	closers []closer
}

type Option func(*App)

// WithConsumer consumes the handlers' topics while the app runs.
func WithConsumer(c *pkgkafka.Consumer, handlers ...pkgkafka.MessageHandler) Option {
	return func(a *App) {
		a.consumer = c
		a.handlers = append(a.handlers, handlers...)
	}
}

func WithJob(j Job) Option {
	return func(a *App) {
		if j != nil {
			a.jobs = append(a.jobs, j)
		}
	}
}

// WithCloser releases a resource during shutdown.
func WithCloser(name string, fn func(ctx context.Context) error) Option {
	return func(a *App) {
		if fn != nil {
			a.closers = append(a.closers, closer{name: name, fn: fn})
		}
	}
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, httpServer *xhttp.Server, opts ...Option) *App {
	if l == nil {
		l = applogger.NewNop()
	}
	a := &App{cfg: cfg, logger: l, httpServer: httpServer}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *App) Logger() *applogger.Logger { return a.logger }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return a.RunUntil(sigCh)
}

// RunUntil starts every component and shuts down when stop fires.
func (a *App) RunUntil(stop <-chan os.Signal) error {
	if err := a.start(); err != nil {
		a.shutdown()
		return err
	}

	sig := <-stop
	a.logger.Info("shutdown signal received", applogger.String("signal", sig.String()))
	return a.shutdown()
}

func (a *App) start() error {
	if a.consumer != nil && len(a.handlers) > 0 {
		topics := make([]string, 0, len(a.handlers))
		for _, h := range a.handlers {
			a.consumer.RegisterHandler(h)
			topics = append(topics, h.Topic())
		}
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		a.logger.Info("kafka consumer started", applogger.Strings("topics", topics))
	}

	for _, j := range a.jobs {
		if err := j.Start(); err != nil {
			return err
		}
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.logger.Error("http server start error", applogger.Error(err))
			return err
		}
	}
	return nil
}

// shutdown stops listeners first so nothing new arrives, then drains
// background work and releases clients.
func (a *App) shutdown() error {
	timeout := 10 * time.Second
	if a.cfg != nil && a.cfg.Server.ShutdownTimeout > 0 {
		timeout = a.cfg.Server.ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.logger.Info("shutting down...", applogger.Duration("timeout", timeout))

	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.logger.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.logger.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	for i := len(a.jobs) - 1; i >= 0; i-- {
		a.jobs[i].Stop()
	}

	for _, c := range a.closers {
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close error", applogger.String("component", c.name), applogger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}

	a.logger.Info("shutdown complete")
	a.logger.RemoveCollector()
	return errors.Join(errs...)
}
