// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package broker publishes JSON events to RabbitMQ.

Messages go to the default exchange with the queue name as routing key, are
marked persistent, and target durable queues so they survive broker restarts.
The connection is opened once and shared; the channel is reopened lazily if the
broker closed it.
*/
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// publishTimeout bounds a single publish so a slow broker cannot stall a request.
const publishTimeout = 3 * time.Second

// ErrClosed is returned by [Publisher.Publish] after [Publisher.Close].
var ErrClosed = errors.New("broker: publisher closed")

// channel is the subset of *amqp.Channel the publisher needs.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// Publisher sends events to durable queues.
type Publisher struct {
	mu          sync.Mutex
	conn        *amqp.Connection
	openChannel func() (channel, error)
	ch          channel
	declared    map[string]bool
	closed      bool
	logger      *slog.Logger
}

// Dial connects to url and returns a ready publisher.
func Dial(url string, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("broker: dial failed: %w", err)
	}

	publisher := newPublisher(func() (channel, error) { return conn.Channel() }, logger)
	publisher.conn = conn

	logger.Info("broker_connected", slog.String("vhost", conn.Config.Vhost))
	return publisher, nil
}

func newPublisher(open func() (channel, error), logger *slog.Logger) *Publisher {
	return &Publisher{
		openChannel: open,
		declared:    make(map[string]bool),
		logger:      logger,
	}
}

// Publish marshals event as JSON and sends it to queue.
func (publisher *Publisher) Publish(ctx context.Context, queue string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("broker: marshal event failed: %w", err)
	}

	publisher.mu.Lock()
	defer publisher.mu.Unlock()

	ch, err := publisher.channelFor(queue)
	if err != nil {
		return err
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	message := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(publishCtx, "", queue, false, false, message); err != nil {
		return fmt.Errorf("broker: publish to %s failed: %w", queue, err)
	}
	return nil
}

// channelFor returns an open channel with queue declared. Caller holds mu.
func (publisher *Publisher) channelFor(queue string) (channel, error) {
	if publisher.closed {
		return nil, ErrClosed
	}

	if publisher.ch == nil || publisher.ch.IsClosed() {
		ch, err := publisher.openChannel()
		if err != nil {
			return nil, fmt.Errorf("broker: channel open failed: %w", err)
		}
		publisher.ch = ch
		publisher.declared = make(map[string]bool)
	}

	if !publisher.declared[queue] {
		if _, err := publisher.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("broker: queue declare %s failed: %w", queue, err)
		}
		publisher.declared[queue] = true
	}
	return publisher.ch, nil
}

// Close releases the channel and connection.
func (publisher *Publisher) Close() error {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()

	if publisher.closed {
		return nil
	}
	publisher.closed = true

	var errs []error
	if publisher.ch != nil && !publisher.ch.IsClosed() {
		errs = append(errs, publisher.ch.Close())
	}
	if publisher.conn != nil {
		errs = append(errs, publisher.conn.Close())
	}
	return errors.Join(errs...)
}
