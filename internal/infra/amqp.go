// README: RabbitMQ connection with automatic reconnect and the topic exchange alerts are published to.
package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// ErrAMQPUnavailable is returned by publishes attempted while the broker
// connection is being re-established.
var ErrAMQPUnavailable = errors.New("rabbitmq connection unavailable")

// AMQPConnection owns one connection and channel to the broker. When the
// broker drops either, a monitor goroutine replaces them and redeclares the
// exchange, so publishers holding an *AMQPConnection recover on their own.
type AMQPConnection struct {
	url      string
	exchange string
	logger   *slog.Logger

	mu         sync.RWMutex
	conn       *amqp091.Connection
	ch         *amqp091.Channel
	reconnects int

	minBackoff time.Duration
	maxBackoff time.Duration
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// DialAMQP connects to the broker (retrying while it starts up), declares the
// durable topic exchange and starts watching the connection.
func DialAMQP(url, exchange string, logger *slog.Logger) (*AMQPConnection, error) {
	c := &AMQPConnection{
		url:        url,
		exchange:   exchange,
		logger:     logger,
		minBackoff: 2 * time.Second,
		maxBackoff: time.Minute,
		done:       make(chan struct{}),
	}
	var err error
	for i := 0; i < 5; i++ {
		if err = c.connect(); err == nil {
			break
		}
		logger.Warn("rabbitmq not ready, retrying", "attempt", i+1, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}
	c.wg.Add(1)
	go c.monitor()
	return c, nil
}

// PublishWithContext publishes on the current channel.
func (c *AMQPConnection) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	c.mu.RLock()
	ch := c.ch
	c.mu.RUnlock()
	if ch == nil {
		return ErrAMQPUnavailable
	}
	return ch.PublishWithContext(ctx, exchange, key, mandatory, immediate, msg)
}

// Reconnects reports how many times the channel has been replaced.
func (c *AMQPConnection) Reconnects() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnects
}

// Close stops the monitor and closes the channel and connection.
func (c *AMQPConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.ch != nil {
			err = errors.Join(err, c.ch.Close())
			c.ch = nil
		}
		if c.conn != nil && !c.conn.IsClosed() {
			err = errors.Join(err, c.conn.Close())
		}
		c.mu.Unlock()
		c.wg.Wait()
	})
	return err
}

func (c *AMQPConnection) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return err
	}
	ch, err := openExchangeChannel(conn, c.exchange)
	if err != nil {
		return errors.Join(err, conn.Close())
	}
	c.mu.Lock()
	if c.closing() {
		c.mu.Unlock()
		return errors.Join(ErrAMQPUnavailable, conn.Close())
	}
	old := c.conn
	c.conn, c.ch = conn, ch
	c.mu.Unlock()
	if old != nil && !old.IsClosed() {
		_ = old.Close()
	}
	return nil
}

func openExchangeChannel(conn *amqp091.Connection, exchange string) (*amqp091.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return nil, errors.Join(err, ch.Close())
	}
	return ch, nil
}

func (c *AMQPConnection) monitor() {
	defer c.wg.Done()
	for {
		c.mu.RLock()
		conn, ch := c.conn, c.ch
		c.mu.RUnlock()
		if conn == nil || ch == nil {
			return
		}
		connClosed := conn.NotifyClose(make(chan *amqp091.Error, 1))
		chClosed := ch.NotifyClose(make(chan *amqp091.Error, 1))

		var reason *amqp091.Error
		select {
		case <-c.done:
			return
		case reason = <-connClosed:
		case reason = <-chClosed:
		}
		if c.closing() {
			return
		}
		c.logger.Warn("rabbitmq connection lost, reconnecting", "error", reason)

		c.mu.Lock()
		c.ch = nil
		c.mu.Unlock()

		if !conn.IsClosed() {
			if err := c.reopenChannel(conn); err == nil {
				continue
			}
		}
		if !c.redial() {
			return
		}
	}
}

// reopenChannel replaces a channel the broker closed on a live connection.
func (c *AMQPConnection) reopenChannel(conn *amqp091.Connection) error {
	ch, err := openExchangeChannel(conn, c.exchange)
	if err != nil {
		c.logger.Warn("rabbitmq channel reopen failed", "error", err)
		return err
	}
	c.mu.Lock()
	c.ch = ch
	c.reconnects++
	c.mu.Unlock()
	c.logger.Info("rabbitmq channel reopened")
	return nil
}

// redial retries with exponential backoff until connected or closed.
func (c *AMQPConnection) redial() bool {
	backoff := c.minBackoff
	for {
		select {
		case <-c.done:
			return false
		case <-time.After(backoff):
		}
		if err := c.connect(); err != nil {
			c.logger.Warn("rabbitmq reconnect failed", "error", err, "retry_in", backoff)
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}
		c.mu.Lock()
		c.reconnects++
		c.mu.Unlock()
		c.logger.Info("rabbitmq reconnected")
		return true
	}
}

func (c *AMQPConnection) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
