// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	declared  []string
	published []amqp.Publishing
	keys      []string
	closed    bool
	failNext  error
}

func (f *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.keys = append(f.keys, exchange+"/"+key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) IsClosed() bool { return f.closed }
func (f *fakeChannel) Close() error   { f.closed = true; return nil }

func newTestPublisher(channels ...*fakeChannel) (*Publisher, *int) {
	opened := 0
	publisher := newPublisher(func() (channel, error) {
		if opened >= len(channels) {
			return nil, errors.New("no more channels")
		}
		ch := channels[opened]
		opened++
		return ch, nil
	}, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	return publisher, &opened
}

func TestPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	publisher, _ := newTestPublisher(ch)

	event := map[string]string{"type": "fingerprint_mismatch", "userId": "u-1"}
	require.NoError(t, publisher.Publish(context.Background(), "auth.security", event))
	require.NoError(t, publisher.Publish(context.Background(), "auth.security", event))

	assert.Equal(t, []string{"auth.security"}, ch.declared, "queue declared once")
	assert.Equal(t, []string{"/auth.security", "/auth.security"}, ch.keys)

	message := ch.published[0]
	assert.Equal(t, "application/json", message.ContentType)
	assert.Equal(t, amqp.Persistent, message.DeliveryMode)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(message.Body, &decoded))
	assert.Equal(t, "u-1", decoded["userId"])
}

func TestPublisher_ReopensClosedChannel(t *testing.T) {
	first, second := &fakeChannel{}, &fakeChannel{}
	publisher, opened := newTestPublisher(first, second)

	require.NoError(t, publisher.Publish(context.Background(), "q", 1))
	first.closed = true
	require.NoError(t, publisher.Publish(context.Background(), "q", 2))

	assert.Equal(t, 2, *opened)
	assert.Equal(t, []string{"q"}, second.declared)
	assert.Len(t, second.published, 1)
}

func TestPublisher_Errors(t *testing.T) {
	ch := &fakeChannel{failNext: errors.New("nack")}
	publisher, _ := newTestPublisher(ch)

	assert.Error(t, publisher.Publish(context.Background(), "q", 1))
	assert.Error(t, publisher.Publish(context.Background(), "q", func() {}), "unmarshalable event")

	require.NoError(t, publisher.Close())
	assert.True(t, ch.closed)
	assert.ErrorIs(t, publisher.Publish(context.Background(), "q", 1), ErrClosed)
	assert.NoError(t, publisher.Close())
}
