/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package amqp

import (
	"context"
	"fmt"
	"sync"
	"time"

	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/v2/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v4"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	"github.com/kestrelsoc/kestrel/pkg/errors"
	"github.com/kestrelsoc/kestrel/pkg/lifecycle"
	"github.com/kestrelsoc/kestrel/pkg/pubsub/spi"
	"github.com/kestrelsoc/kestrel/pkg/pubsub/wmlogger"
)

var logger = log.New("pubsub")

const (
	defaultMaxConnectRetries     = 25
	defaultMaxConnectInterval    = 5 * time.Second
	defaultMaxConnectElapsedTime = 3 * time.Minute
)

// Config holds the configuration for the publisher/subscriber.
type Config struct {
	URI                   string
	MaxConnectRetries     uint64
	MaxConnectInterval    time.Duration
	MaxConnectElapsedTime time.Duration
}

// PubSub implements a publisher/subscriber that connects to an AMQP-compatible
// message broker.
type PubSub struct {
	*lifecycle.Lifecycle
	Config

	amqpConfig wmamqp.Config
	subscriber *wmamqp.Subscriber
	publisher  *wmamqp.Publisher
	pools      []*pooledSubscriber
	mutex      sync.Mutex
	connErr    error
}

// New returns a new AMQP publisher/subscriber. The connection to the broker is
// retried with exponential backoff, since the broker may not be immediately
// available on startup.
func New(cfg Config) *PubSub {
	if cfg.MaxConnectRetries == 0 {
		cfg.MaxConnectRetries = defaultMaxConnectRetries
	}

	if cfg.MaxConnectInterval == 0 {
		cfg.MaxConnectInterval = defaultMaxConnectInterval
	}

	if cfg.MaxConnectElapsedTime == 0 {
		cfg.MaxConnectElapsedTime = defaultMaxConnectElapsedTime
	}

	p := &PubSub{
		Config:     cfg,
		amqpConfig: wmamqp.NewDurableQueueConfig(cfg.URI),
	}

	p.Lifecycle = lifecycle.New("amqp",
		lifecycle.WithStart(p.start),
		lifecycle.WithStop(p.stop))

	// Start the service immediately.
	p.Start()

	return p
}

// Subscribe subscribes to a topic and returns the Go channel over which messages
// are sent. The returned channel will be closed when Close() is called on this struct.
func (p *PubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return p.SubscribeWithOpts(ctx, topic)
}

// SubscribeWithOpts subscribes to a topic using the given options, and returns the
// Go channel over which messages are sent.
func (p *PubSub) SubscribeWithOpts(ctx context.Context, topic string,
	opts ...spi.Option) (<-chan *message.Message, error) {
	if p.State() != lifecycle.StateStarted {
		return nil, lifecycle.ErrNotStarted
	}

	options := &spi.Options{}

	for _, opt := range opts {
		opt(options)
	}

	if options.PoolSize == 0 {
		logger.Debug("Subscribing to topic", log.WithTopic(topic))

		return p.subscriber.Subscribe(ctx, topic)
	}

	logger.Debug("Creating subscriber pool for topic", log.WithTopic(topic), log.WithSize(options.PoolSize))

	pool, err := newPooledSubscriber(ctx, options.PoolSize, p.subscriber, topic)
	if err != nil {
		return nil, fmt.Errorf("subscriber pool: %w", err)
	}

	p.mutex.Lock()
	p.pools = append(p.pools, pool)
	p.mutex.Unlock()

	pool.start()

	return pool.msgChan, nil
}

// Publish publishes the given messages to the given topic. A transient error is
// returned on failure so that the caller may retry.
func (p *PubSub) Publish(topic string, messages ...*message.Message) error {
	if p.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	if err := p.publisher.Publish(topic, messages...); err != nil {
		return errors.NewTransient(fmt.Errorf("publish to topic [%s]: %w", topic, err))
	}

	return nil
}

// IsConnected returns true if the broker connection has been established.
func (p *PubSub) IsConnected() bool {
	return p.State() == lifecycle.StateStarted && p.connErr == nil
}

// Close stops the publisher/subscriber.
func (p *PubSub) Close() error {
	p.Stop()

	return nil
}

func (p *PubSub) start() {
	if err := p.connect(); err != nil {
		p.connErr = err

		logger.Error("Unable to connect to message broker", log.WithAddress(p.URI), log.WithError(err))

		panic(fmt.Errorf("connect to message broker: %w", err))
	}
}

func (p *PubSub) connect() error {
	notify := func(err error, wait time.Duration) {
		logger.Info("Message broker is not available. Retrying.",
			log.WithBackoff(wait), log.WithError(err))
	}

	connectBackoff := backoff.NewExponentialBackOff()
	connectBackoff.MaxInterval = p.MaxConnectInterval
	connectBackoff.MaxElapsedTime = p.MaxConnectElapsedTime

	return backoff.RetryNotify(
		func() error {
			// Probe the broker before creating the watermill subscriber/publisher so
			// that startup waits until the broker is accepting connections.
			conn, err := amqp091.Dial(p.URI)
			if err != nil {
				return err
			}

			if err := conn.Close(); err != nil {
				logger.Warn("Error closing probe connection", log.WithError(err))
			}

			subscriber, err := wmamqp.NewSubscriber(p.amqpConfig, wmlogger.New())
			if err != nil {
				return err
			}

			publisher, err := wmamqp.NewPublisher(p.amqpConfig, wmlogger.New())
			if err != nil {
				return err
			}

			p.subscriber = subscriber
			p.publisher = publisher

			logger.Info("Connected to message broker", log.WithAddress(p.URI))

			return nil
		},
		backoff.WithMaxRetries(connectBackoff, p.MaxConnectRetries),
		notify,
	)
}

func (p *PubSub) stop() {
	logger.Info("Stopping AMQP publisher/subscriber...")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, pool := range p.pools {
		pool.stop()
	}

	if p.publisher != nil {
		if err := p.publisher.Close(); err != nil {
			logger.Warn("Error closing publisher", log.WithError(err))
		}
	}

	if p.subscriber != nil {
		if err := p.subscriber.Close(); err != nil {
			logger.Warn("Error closing subscriber", log.WithError(err))
		}
	}

	logger.Info("... AMQP publisher/subscriber stopped")
}
