//go:build wireinject
// +build wireinject

package di

import (
	"SignalHub/pkg/config"
	"SignalHub/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedisClient,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideCache,
		ProvideMailbox,
		ProvideLedger,
		ProvideSignalStore,
		ProvideSignalWriter,
		ProvideTransmissionPublisher,

		// Delivery
		ProvideAdapters,
		ProvideDispatcher,

		// Hub and use cases
		ProvideEngine,
		ProvideEventRouter,
		ProvideIntakePipeline,
		ProvideEventsHandler,
		ProvideHeartbeat,

		// Transport
		ProvideDashboardHandler,
		ProvideAPIHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
