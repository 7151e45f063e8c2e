package packmsg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/NotCoffee418/meter_telegram/pkg/types"
	"github.com/sirupsen/logrus"
)

type Config struct {
	// host and port of the collector, empty to disable sending
	Server string
	Port   int
	// Records are also appended here when set
	Out        io.Writer
	RetryDelay time.Duration
}

type Publisher struct {
	cfg     Config
	addr    string
	conn    net.Conn
	lastGas float64
	started bool
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
	log     logrus.FieldLogger
}

func NewPublisher(cfg Config, log logrus.FieldLogger) *Publisher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	p := &Publisher{cfg: cfg, log: log}
	if cfg.Server != "" && cfg.Port > 0 {
		p.addr = net.JoinHostPort(cfg.Server, fmt.Sprint(cfg.Port))
	}
	var d net.Dialer
	p.dial = d.DialContext
	return p
}

// Publish sends r. The first call writes the header first and keeps trying
// to reach the server until it accepts it or ctx ends. Later calls try a
// failed send once more on a fresh connection.
func (p *Publisher) Publish(ctx context.Context, r *types.MeterReading) error {
	if !p.started {
		header, err := Header(r)
		if err != nil {
			return err
		}
		if err := p.writeOut(header); err != nil {
			return err
		}
		if err := p.sendHeader(ctx, header); err != nil {
			return err
		}
		p.started = true
	}

	vals, err := Values(r, &p.lastGas)
	if err != nil {
		return err
	}
	if err := p.writeOut(vals); err != nil {
		return err
	}
	return p.send(ctx, vals)
}

func (p *Publisher) writeOut(data []byte) error {
	if p.cfg.Out == nil {
		return nil
	}
	if _, err := p.cfg.Out.Write(data); err != nil {
		return fmt.Errorf("write pmsg output: %w", err)
	}
	return nil
}

func (p *Publisher) sendHeader(ctx context.Context, header []byte) error {
	if p.addr == "" {
		return nil
	}
	for {
		err := p.connect(ctx)
		if err == nil {
			if err = p.write(header); err == nil {
				p.log.Infof("Sent %d byte header to %s", len(header), p.addr)
				return nil
			}
			p.disconnect()
		}
		p.log.Warnf("Could not send header to %s: %v", p.addr, err)

		select {
		case <-time.After(p.cfg.RetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Publisher) send(ctx context.Context, data []byte) error {
	if p.addr == "" {
		return nil
	}
	if p.conn == nil {
		if err := p.connect(ctx); err != nil {
			return err
		}
	}
	if err := p.write(data); err == nil {
		return nil
	}

	// Try reconnecting, resend data
	p.disconnect()
	if err := p.connect(ctx); err != nil {
		return err
	}
	if err := p.write(data); err != nil {
		p.disconnect()
		return fmt.Errorf("send pmsg to %s: %w", p.addr, err)
	}
	return nil
}

func (p *Publisher) connect(ctx context.Context) error {
	conn, err := p.dial(ctx, "tcp", p.addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", p.addr, err)
	}
	p.conn = conn
	return nil
}

func (p *Publisher) write(data []byte) error {
	p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err := p.conn.Write(data)
	return err
}

func (p *Publisher) disconnect() {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
