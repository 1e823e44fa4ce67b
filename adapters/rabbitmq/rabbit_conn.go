package rabbitmq

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

// Concrete AMQP connection-backed constructor and publisher wrapper with auto-reconnect.

const exchangeKind = "topic"

type Config struct {
	URL         string
	ConnTimeout time.Duration
	Exchange    string
	ContentType string
}

type reconnectingPublisher struct {
	cfg    Config
	mu     sync.RWMutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed chan struct{}
	ready  chan struct{} // closed once the first channel is ready
	once   sync.Once
}

func newReconnectingPublisher(cfg Config) (*reconnectingPublisher, func()) {
	rp := &reconnectingPublisher{
		cfg:    cfg,
		closed: make(chan struct{}),
		ready:  make(chan struct{}),
	}
	go rp.run()

	return rp, rp.close
}

func (rp *reconnectingPublisher) Publish(ctx context.Context, m PubMsg) error {
	rp.mu.RLock()
	ch := rp.ch
	rp.mu.RUnlock()

	if ch == nil {
		select {
		case <-rp.ready:
		case <-rp.closed:
			return fmt.Errorf("%w: rabbitmq publisher closed", berr.ErrSendFailed)
		case <-ctx.Done():
			return ctx.Err()
		}

		rp.mu.RLock()
		ch = rp.ch
		rp.mu.RUnlock()

		if ch == nil {
			return fmt.Errorf("%w: rabbitmq not connected", berr.ErrSendFailed)
		}
	}

	return ch.PublishWithContext(ctx, m.Exchange, m.RoutingKey, false, false, publishing(m, amqp.Persistent))
}

func (rp *reconnectingPublisher) dial() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(rp.cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "scg-call-bus"},
		Dial:       amqp.DefaultDial(rp.cfg.ConnTimeout),
	})
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	if err := ch.ExchangeDeclare(rp.cfg.Exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()

		return nil, nil, err
	}

	return conn, ch, nil
}

func (rp *reconnectingPublisher) run() {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	// #nosec G404 -- non-crypto RNG is acceptable for backoff jitter
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // non-crypto RNG is acceptable for backoff jitter

	for {
		select {
		case <-rp.closed:
			return
		default:
		}

		conn, ch, err := rp.dial()
		if err != nil {
			sleep := min(backoff+time.Duration(rng.Int63n(int64(backoff/2))), maxBackoff)

			t := time.NewTimer(sleep)
			select {
			case <-rp.closed:
				t.Stop()
				return
			case <-t.C:
			}

			backoff = min(backoff*2, maxBackoff)

			continue
		}

		backoff = time.Second

		rp.mu.Lock()
		rp.conn, rp.ch = conn, ch
		rp.mu.Unlock()
		rp.once.Do(func() { close(rp.ready) })

		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-rp.closed:
			return
		case <-notify:
			rp.mu.Lock()
			rp.conn, rp.ch = nil, nil
			rp.mu.Unlock()

			_ = ch.Close()
			_ = conn.Close()
		}
	}
}

func (rp *reconnectingPublisher) close() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	select {
	case <-rp.closed:
		return
	default:
		close(rp.closed)
	}

	if rp.ch != nil {
		_ = rp.ch.Close()
		rp.ch = nil
	}

	if rp.conn != nil {
		_ = rp.conn.Close()
		rp.conn = nil
	}
}

// NewWithAMQPConn dials RabbitMQ with auto-reconnect, declares the calls exchange and returns an
// Adapter and a cleanup.
func NewWithAMQPConn(cfg Config) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrInvalidConfig)
	}

	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}

	pub, cleanup := newReconnectingPublisher(cfg)

	ad := New(pub)
	ad.Exchange = cfg.Exchange

	if cfg.ContentType != "" {
		ad.ContentType = cfg.ContentType
	}

	return ad, cleanup, nil
}
