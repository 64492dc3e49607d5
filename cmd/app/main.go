package main

import (
	"flag"
	"fmt"
	"os"

	"SignalHub/internal/di"
	"SignalHub/pkg/config"
	applogger "SignalHub/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	check := flag.Bool("check", false, "validate the configuration and exit")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(2)
	}
	if *check {
		fmt.Printf("config ok: env=%s destinations=%v kafka=%v ledger=%s store=%s\n",
			cfg.Environment, cfg.EnabledDestinations(), cfg.KafkaEnabled(), cfg.Ledger.Type, cfg.Store.Type)
		return
	}

	app, err := di.InitializeApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "app initialization failed: %v\n", err)
		os.Exit(1)
	}

	l := app.Logger()
	l.Info("signalhub starting",
		applogger.String("env", cfg.Environment),
		applogger.Strings("destinations", cfg.EnabledDestinations()),
		applogger.Strings("dispatch", cfg.Dispatch.Destinations),
		applogger.Bool("auto_dispatch", cfg.Dispatch.Auto),
		applogger.Bool("kafka", cfg.KafkaEnabled()))

	// Run application (blocks until signal)
	if err := app.Run(); err != nil {
		l.Error("app stopped with errors", applogger.Error(err))
		os.Exit(1)
	}
}
