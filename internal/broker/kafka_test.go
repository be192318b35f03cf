package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connector/internal/config"
	"connector/internal/logger"
	apperrors "connector/pkg/errors"
	"connector/pkg/models"
	"connector/pkg/retry"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func testConsumer(w messageWriter) *KafkaConsumer {
	return &KafkaConsumer{
		queues: Queues{ToConnector: "to_connector", ToLink: "to_link", Cleanup: "cleanup", DLQPrefix: "DLQ."},
		policy: retry.Policy{
			MaxAttempts:     5,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			Multiplier:      2,
		},
		logger:      logger.NopLogger(),
		dlq:         w,
		serviceName: "test",
	}
}

func validRecord(t *testing.T, topic string) kafka.Message {
	t.Helper()
	msg := models.NewMessageBuilder().
		WithDirection(models.DirectionBackendToGateway).
		WithAction("Form_A").
		WithBusinessDomain("civil").
		Build()
	body, err := models.EncodeEnvelope(models.NewEnvelope(msg, models.LinkTypeGateway))
	require.NoError(t, err)
	return kafka.Message{Topic: topic, Key: []byte(msg.ID), Value: body}
}

func TestQueues(t *testing.T) {
	q := NewQueues(config.KafkaConfig{
		Queues:    config.QueueConfig{ToConnector: "to_connector", ToLink: "to_link", Cleanup: "cleanup"},
		DLQPrefix: "DLQ.",
	})

	assert.Equal(t, []string{"to_connector", "to_link", "cleanup"}, q.All())
	assert.Equal(t, "DLQ.to_link", q.DLQ("to_link"))
	assert.True(t, q.IsDLQ("DLQ.cleanup"))
	assert.False(t, q.IsDLQ("cleanup"))
	assert.Equal(t, "cleanup", q.Source("DLQ.cleanup"))
	assert.True(t, q.Known("to_connector"))
	assert.False(t, q.Known("DLQ.to_connector"))
}

func TestRedeliveryPolicyDefaults(t *testing.T) {
	p := RedeliveryPolicy(config.RetryConfig{})
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 60*time.Second, p.InitialInterval)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.Zero(t, p.RandomizationFactor, "redelivery waits are exact")

	p = RedeliveryPolicy(config.RetryConfig{MaxAttempts: 2})
	assert.Equal(t, 2, p.MaxAttempts)
}

func TestHandleMessage(t *testing.T) {
	tests := []struct {
		name        string
		record      func(t *testing.T) kafka.Message
		handlerErr  error
		wantCalls   int
		wantDLQ     bool
		failureType string
	}{
		{
			name:      "success",
			record:    func(t *testing.T) kafka.Message { return validRecord(t, "to_link") },
			wantCalls: 1,
		},
		{
			name:        "malformed goes straight to dlq",
			record:      func(*testing.T) kafka.Message { return kafka.Message{Topic: "to_link", Value: []byte(`{"id":`)} },
			wantCalls:   0,
			wantDLQ:     true,
			failureType: models.FailureTypeValidation,
		},
		{
			name:        "fatal error is not retried",
			record:      func(t *testing.T) kafka.Message { return validRecord(t, "to_link") },
			handlerErr:  apperrors.ErrInvalidAddressing,
			wantCalls:   1,
			wantDLQ:     true,
			failureType: models.FailureTypePermanent,
		},
		{
			name:        "transient error exhausts redeliveries",
			record:      func(t *testing.T) kafka.Message { return validRecord(t, "to_link") },
			handlerErr:  apperrors.ErrTransportDispatch,
			wantCalls:   5,
			wantDLQ:     true,
			failureType: models.FailureTypeTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWriter{}
			c := testConsumer(w)
			calls := 0
			handler := func(ctx context.Context, env models.MessageEnvelope) error {
				calls++
				return tt.handlerErr
			}

			commit := c.handleMessage(context.Background(), tt.record(t), handler)
			assert.True(t, commit)
			assert.Equal(t, tt.wantCalls, calls)

			if !tt.wantDLQ {
				assert.Empty(t, w.msgs)
				return
			}
			require.Len(t, w.msgs, 1)
			assert.Equal(t, "DLQ.to_link", w.msgs[0].Topic)
			entry := parseDLQMessage(w.msgs[0])
			assert.Equal(t, tt.failureType, entry.FailureType)
			assert.Equal(t, "to_link", entry.SourceQueue)
			assert.Equal(t, tt.wantCalls, entry.Attempts)
		})
	}
}

func TestHandleMessageRecoversPanics(t *testing.T) {
	w := &fakeWriter{}
	c := testConsumer(w)
	c.policy.MaxAttempts = 2

	commit := c.handleMessage(context.Background(), validRecord(t, "to_connector"), func(context.Context, models.MessageEnvelope) error {
		panic("boom")
	})
	assert.True(t, commit)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "DLQ.to_connector", w.msgs[0].Topic)
}

func TestHandleMessageShutdownLeavesUncommitted(t *testing.T) {
	w := &fakeWriter{}
	c := testConsumer(w)
	c.policy.InitialInterval = time.Hour
	c.policy.MaxInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	commit := c.handleMessage(ctx, validRecord(t, "to_link"), func(context.Context, models.MessageEnvelope) error {
		cancel()
		return errors.New("transient")
	})
	assert.False(t, commit)
	assert.Empty(t, w.msgs)
}

func TestDLQMessageRoundTrip(t *testing.T) {
	original := validRecord(t, "to_connector")
	original.Headers = []kafka.Header{{Key: "traceparent", Value: []byte("00-abc")}}
	envelope, err := models.DecodeEnvelope(original.Value)
	require.NoError(t, err)

	info := models.DLQInfo{Reason: "boom", SourceQueue: "to_connector", FailureType: models.FailureTypeTransient, Attempts: 5}
	msg, err := BuildDLQMessage("DLQ.to_connector", original, &envelope, info)
	require.NoError(t, err)

	assert.Equal(t, original.Key, msg.Key)
	assert.Equal(t, "traceparent", msg.Headers[0].Key)

	entry := parseDLQMessage(msg)
	require.NotNil(t, entry.Envelope)
	require.NotNil(t, entry.Envelope.Metadata.DeadLetter)
	assert.Equal(t, "boom", entry.Envelope.Metadata.DeadLetter.Reason)
	assert.Equal(t, envelope.EnvelopeMessageID(), entry.Envelope.EnvelopeMessageID())
	assert.Empty(t, entry.Raw)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Contains(t, decoded["metadata"], "dead_letter")
}

func TestDLQManagerRejectsUnknownQueue(t *testing.T) {
	m := NewDLQManager(config.KafkaConfig{
		Queues:    config.QueueConfig{ToConnector: "to_connector", ToLink: "to_link", Cleanup: "cleanup"},
		DLQPrefix: "DLQ.",
	}, nil, logger.NopLogger())

	_, err := m.List(context.Background(), "nope", 10)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = m.Replay(context.Background(), "DLQ.to_link", 10)
	assert.True(t, apperrors.IsNotFound(err))
}
