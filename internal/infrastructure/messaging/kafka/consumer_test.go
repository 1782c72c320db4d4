package kafka

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers: []string{"localhost:9092"},
		GroupID: "test-group",
		Topics:  []string{"in"},
		RetryConfig: RetryConfig{
			MaxRetries:      2,
			RetryBackoff:    time.Millisecond,
			MaxRetryBackoff: 2 * time.Millisecond,
			DeadLetterTopic: "dlq",
		},
	}
}

func TestValidateConsumerConfig(t *testing.T) {
	assert.NoError(t, ValidateConsumerConfig(newTestConsumerConfig()))

	cfg := newTestConsumerConfig()
	cfg.Brokers = nil
	assert.Error(t, ValidateConsumerConfig(cfg))

	cfg = newTestConsumerConfig()
	cfg.GroupID = ""
	assert.Error(t, ValidateConsumerConfig(cfg))

	cfg = newTestConsumerConfig()
	cfg.Topics = nil
	assert.Error(t, ValidateConsumerConfig(cfg))

	cfg = newTestConsumerConfig()
	cfg.AutoOffsetReset = "middle"
	assert.Error(t, ValidateConsumerConfig(cfg))

	cfg = newTestConsumerConfig()
	cfg.RetryConfig.MaxRetries = -1
	assert.Error(t, ValidateConsumerConfig(cfg))
}

func TestConsumer_DispatchesAndCommits(t *testing.T) {
	reader := &mockKafkaReader{queue: []kafka.Message{
		{Topic: "in", Offset: 1, Value: []byte("a"), Headers: []kafka.Header{{Key: "event_type", Value: []byte("diagnosis.requested")}}},
		{Topic: "in", Offset: 2, Value: []byte("b")},
	}}
	c := newConsumer(reader, newTestConsumerConfig(), nil, nil)

	var handled atomic.Int32
	var header atomic.Value
	c.Subscribe("in", func(_ context.Context, msg *Message) error {
		if msg.Offset == 1 {
			header.Store(msg.Headers["event_type"])
		}
		handled.Add(1)
		return nil
	})

	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRunning)
	assert.Eventually(t, func() bool { return reader.commits() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())

	assert.Equal(t, int32(2), handled.Load())
	assert.Equal(t, "diagnosis.requested", header.Load())
	assert.True(t, reader.closed)
	consumed, processed, failed, _, _ := c.Stats()
	assert.Equal(t, int64(2), consumed)
	assert.Equal(t, int64(2), processed)
	assert.Zero(t, failed)
}

func TestConsumer_RetryThenSucceed(t *testing.T) {
	reader := &mockKafkaReader{queue: []kafka.Message{{Topic: "in", Value: []byte("a")}}}
	c := newConsumer(reader, newTestConsumerConfig(), nil, nil)

	var attempts atomic.Int32
	c.Subscribe("in", func(context.Context, *Message) error {
		if attempts.Add(1) < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return reader.commits() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())

	assert.Equal(t, int32(2), attempts.Load())
	_, processed, _, retried, dead := c.Stats()
	assert.Equal(t, int64(1), processed)
	assert.Equal(t, int64(1), retried)
	assert.Zero(t, dead)
}

func TestConsumer_DeadLettersAfterRetries(t *testing.T) {
	reader := &mockKafkaReader{queue: []kafka.Message{{Topic: "in", Key: []byte("k"), Value: []byte("poison")}}}
	dlq := &recordingPublisher{}
	c := newConsumer(reader, newTestConsumerConfig(), dlq, nil)

	var attempts atomic.Int32
	c.Subscribe("in", func(context.Context, *Message) error {
		attempts.Add(1)
		return errors.New("image not found")
	})
	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return reader.commits() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())

	assert.Equal(t, int32(3), attempts.Load())
	require.Equal(t, 1, dlq.count())
	dl := dlq.msgs[0]
	assert.Equal(t, "dlq", dl.Topic)
	assert.Equal(t, "poison", string(dl.Value))
	assert.Equal(t, "in", dl.Headers["original_topic"])
	assert.Equal(t, "image not found", dl.Headers["error_message"])
	_, _, failed, _, dead := c.Stats()
	assert.Equal(t, int64(1), failed)
	assert.Equal(t, int64(1), dead)
}

func TestConsumer_UnhandledTopicIsCommitted(t *testing.T) {
	reader := &mockKafkaReader{queue: []kafka.Message{{Topic: "other", Value: []byte("a")}}}
	c := newConsumer(reader, newTestConsumerConfig(), nil, nil)
	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return reader.commits() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
}

func TestConsumer_CloseWithoutStart(t *testing.T) {
	c := newConsumer(&mockKafkaReader{}, newTestConsumerConfig(), nil, nil)
	assert.NoError(t, c.Close())
}
