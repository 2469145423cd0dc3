// Package nats carries per-user notification channels over a NATS
// connection so every API node sees every publish.
package nats

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Config holds NATS connection settings.
type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
	BufSize       int
}

// NATSMessage is the message type returned by NATSPubSub.Subscribe.
type NATSMessage struct {
	Channel string
	Payload string
}

// NATSPubSub maps cache channels one to one onto NATS subjects.
type NATSPubSub struct {
	conn    *nats.Conn
	bufSize int
	logger  *zap.Logger
}

// NewPubSub connects to the NATS server at cfg.URL.
func NewPubSub(cfg Config, logger *zap.Logger) (*NATSPubSub, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected from NATS", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
		nats.Timeout(10 * time.Second),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "connect nats %s", cfg.URL)
	}
	bufSize := cfg.BufSize
	if bufSize <= 0 {
		bufSize = 256
	}
	return &NATSPubSub{conn: conn, bufSize: bufSize, logger: logger}, nil
}

// Publish sends message on the subject named channel. NATS publishes are
// buffered client side, so ctx only guards against a closed connection.
func (p *NATSPubSub) Publish(ctx context.Context, channel, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.conn.Publish(channel, []byte(message))
}

// Subscribe listens on every channel and merges deliveries into one Go
// channel. The returned cancel drains the subscriptions and closes it.
func (p *NATSPubSub) Subscribe(_ context.Context, channels ...string) (<-chan *NATSMessage, func(), error) {
	out := make(chan *NATSMessage, p.bufSize)
	var (
		mu     sync.Mutex
		closed bool
	)
	handler := func(m *nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- &NATSMessage{Channel: m.Subject, Payload: string(m.Data)}:
		default:
			p.logger.Warn("nats subscriber buffer full, dropping message", zap.String("subject", m.Subject))
		}
	}

	subs := make([]*nats.Subscription, 0, len(channels))
	for _, c := range channels {
		sub, err := p.conn.Subscribe(c, handler)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, nil, errors.Wrapf(err, "subscribe %s", c)
		}
		subs = append(subs, sub)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			mu.Lock()
			closed = true
			close(out)
			mu.Unlock()
		})
	}
	return out, cancel, nil
}

// Close closes the NATS connection.
func (p *NATSPubSub) Close() {
	p.conn.Close()
}
