// Responsible for storing the data collected from the smart meter
// Depends on p1_reader serve being online.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/NotCoffee418/meter_telegram/pkg/aggregator"
	"github.com/NotCoffee418/meter_telegram/pkg/config"
	"github.com/NotCoffee418/meter_telegram/pkg/interpreter"
	"github.com/NotCoffee418/meter_telegram/pkg/logging"
	"github.com/NotCoffee418/meter_telegram/pkg/meterdb"
	"github.com/NotCoffee418/meter_telegram/pkg/pathing"
	"github.com/NotCoffee418/meter_telegram/pkg/types"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := run(); err != nil {
		logrus.Fatal(err)
	}
}

func run() error {
	if err := pathing.EnsureDirs(); err != nil {
		return err
	}
	cfg, err := config.LoadMeterCollectorConfig(pathing.GetConfigDir())
	if err != nil {
		return err
	}

	log, logCloser, err := logging.New(logging.Config{Level: cfg.LogLevel})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	// Set the host:port from env var INTERPRETER_API_HOST
	host := os.Getenv("INTERPRETER_API_HOST")
	if host == "" {
		host = cfg.InterpreterAPIHost
	}

	// Initialize database
	store, err := meterdb.Open(pathing.GetMeterDbPath(), log)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go aggregator.Run(ctx, store.DB(), aggregator.DefaultOptions(), log)

	opts := interpreter.DefaultOptions()
	opts.TLS = cfg.TLSEnabled

	// Subscribe to websocket with revive
	return interpreter.StartListener(ctx, host, opts, log, func(reading *types.MeterReading) {
		if err := store.InsertReading(reading); err != nil {
			log.Errorf("Could not store reading: %v", err)
		}
	})
}
