package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/NotCoffee418/meter_telegram/pkg/broadcast"
	"github.com/NotCoffee418/meter_telegram/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	listenAddress string
	listenPort    int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the latest reading over HTTP and websocket",
	Long: `Serve reads telegrams continuously and exposes them on:
  /        status
  /latest  the last reading as JSON
  /ws      every new reading as a websocket text message`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddress, "listen", "", "Address to listen on")
	serveCmd.Flags().IntVar(&listenPort, "port", 0, "Port to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, session, log, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if cmd.Flags().Changed("listen") {
		cfg.ListenAddress = listenAddress
	}
	if cmd.Flags().Changed("port") {
		cfg.ListenPort = listenPort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := broadcast.NewHub(log)
	defer hub.Close()

	addr := net.JoinHostPort(cfg.ListenAddress, fmt.Sprint(cfg.ListenPort))
	server := &http.Server{Addr: addr, Handler: hub.Handler()}
	return serveReadings(ctx, server, session, hub, log)
}

// serveReadings runs server while feeding hub from src. Whichever of the
// two fails first stops the other.
func serveReadings(ctx context.Context, server *http.Server, src telegramSource, hub *broadcast.Hub, log logrus.FieldLogger) error {
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	serveErr := make(chan error, 1)
	go func() {
		defer close(serveErr)
		log.Infof("Starting smart meter API on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP server stopped: %v", err)
			serveErr <- err
			cancelRead()
		}
	}()

	readErr := readLoop(readCtx, src, log, func(reading *types.MeterReading) error {
		hub.Publish(reading)
		return nil
	})
	if readErr != nil {
		log.Errorf("Reading stopped: %v", readErr)
	} else if readCtx.Err() == nil {
		// Capture file done, keep serving the last reading
		log.Info("Input exhausted, serving last reading")
		<-readCtx.Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP shutdown: %v", err)
	}
	if err := <-serveErr; err != nil {
		return err
	}
	return readErr
}
