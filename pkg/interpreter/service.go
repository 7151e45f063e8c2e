package interpreter

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/NotCoffee418/meter_telegram/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var ErrGaveUp = errors.New("websocket listener gave up reconnecting")

type Options struct {
	MaxRetries     int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
	// A reading is expected at least this often
	ReadTimeout  time.Duration
	PingInterval time.Duration
	// Connect with wss
	TLS bool
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:     10,
		BaseRetryDelay: 2 * time.Second,
		MaxRetryDelay:  60 * time.Second,
		ReadTimeout:    30 * time.Second,
		PingInterval:   30 * time.Second,
	}
}

// StartListener subscribes to the /ws feed of a reader at host and calls
// handle for each reading until ctx is done. Broken connections are retried
// with exponential backoff.
func StartListener(ctx context.Context, host string, opts Options, log logrus.FieldLogger, handle func(reading *types.MeterReading)) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	u := url.URL{Scheme: "ws", Host: host, Path: "/ws"}
	if opts.TLS {
		u.Scheme = "wss"
	}
	retryCount := 0

	for {
		if retryCount > 0 {
			// Calculate retry delay with exponential backoff
			retryDelay := time.Duration(1<<(retryCount-1)) * opts.BaseRetryDelay
			if retryDelay > opts.MaxRetryDelay {
				retryDelay = opts.MaxRetryDelay
			}
			log.Infof("Retrying connection in %v... (attempt %d/%d)", retryDelay, retryCount+1, opts.MaxRetries)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return nil
			}
		}

		log.Infof("Connecting to %s", u.String())
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		c, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warnf("Connection failed: %v", err)
			retryCount++
			if retryCount >= opts.MaxRetries {
				log.Errorf("Max retries (%d) reached. Giving up.", opts.MaxRetries)
				return ErrGaveUp
			}
			continue
		}

		log.Info("Connected! Accepting meter readings.")
		retryCount = 0

		broken := handleConnection(ctx, c, opts, log, handle)
		c.Close()
		if !broken {
			return nil
		}
		log.Warn("Connection lost, will retry...")
		retryCount = 1
	}
}

// handleConnection returns true when the connection broke, false when ctx
// ended it.
func handleConnection(ctx context.Context, c *websocket.Conn, opts Options, log logrus.FieldLogger, handle func(*types.MeterReading)) bool {
	done := make(chan struct{})
	c.SetReadDeadline(time.Now().Add(opts.ReadTimeout))

	go func() {
		defer close(done)
		for {
			messageType, message, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warnf("WebSocket error: %v", err)
				} else {
					log.Debugf("Connection closed: %v", err)
				}
				return
			}
			c.SetReadDeadline(time.Now().Add(opts.ReadTimeout))

			if messageType != websocket.TextMessage {
				log.Debugf("Received unexpected message type: %d", messageType)
				continue
			}
			if reading := types.MeterReadingFromJsonBytes(message); reading != nil {
				handle(reading)
			} else {
				log.Warnf("Failed to parse meter reading: %s", string(message))
			}
		}
	}()

	ticker := time.NewTicker(opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return true
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Warnf("Failed to send ping: %v", err)
			}
		case <-ctx.Done():
			err := c.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			if err != nil {
				log.Debugf("Error sending close message: %v", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return false
		}
	}
}
