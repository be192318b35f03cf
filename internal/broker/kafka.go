package broker

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"connector/internal/config"
	"connector/internal/constants"
	"connector/internal/logger"
	"connector/pkg/errors"
	"connector/pkg/logging"
	"connector/pkg/metrics"
	"connector/pkg/models"
	"connector/pkg/retry"
	"connector/pkg/tracing"
)

type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		AllowAutoTopicCreation: true,
		Async:                  false,
	}
	return &KafkaProducer{writer: w, logger: log}
}

// Publish validates and writes envelope to topic. Envelopes about the same
// message share a key and therefore a partition.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, envelope *models.MessageEnvelope) error {
	if envelope != nil && envelope.Metadata.TraceID == "" {
		envelope.Metadata.TraceID = logging.GetTraceID(ctx)
	}

	body, err := models.EncodeEnvelope(envelope)
	if err != nil {
		return errors.ErrInvalidPayload.WithCause(err)
	}

	key := envelope.EnvelopeMessageID()
	if key == "" {
		key = envelope.ID
	}

	headers := tracing.InjectTraceContext(ctx, []kafka.Header{})

	start := time.Now()
	err = p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic:   topic,
			Key:     []byte(key),
			Value:   body,
			Headers: headers,
			Time:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncKafkaMessagesWritten(logging.GetServiceName(ctx), topic)
	metrics.ObserveKafkaMessageSize(logging.GetServiceName(ctx), topic, "out", len(body))
	metrics.ObserveKafkaWriteDuration(logging.GetServiceName(ctx), topic, time.Since(start))
	return nil
}

func (p *KafkaProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	cfg         config.KafkaConfig
	queues      Queues
	policy      retry.Policy
	wg          sync.WaitGroup
	mu          sync.Mutex
	readers     []*kafka.Reader
	logger      logger.Logger
	dlq         messageWriter
	dlqProducer *KafkaProducer
	serviceName string
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	dlqProducer := NewKafkaProducer(cfg, log)
	return &KafkaConsumer{
		cfg:         cfg,
		queues:      NewQueues(cfg),
		policy:      RedeliveryPolicy(cfg.Retry),
		logger:      log,
		dlq:         dlqProducer,
		dlqProducer: dlqProducer,
		serviceName: "connector",
	}
}

// RedeliveryPolicy applies configured overrides on top of retry.RedeliveryPolicy.
func RedeliveryPolicy(cfg config.RetryConfig) retry.Policy {
	policy := retry.RedeliveryPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval > 0 {
		policy.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		policy.MaxInterval = cfg.MaxInterval
	}
	if cfg.Multiplier > 0 {
		policy.Multiplier = cfg.Multiplier
	}
	if cfg.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = cfg.MaxElapsedTime
	}
	return policy
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

// Consume blocks until ctx is done, handing every message on topic to handler.
// Messages that exhaust their redeliveries go to the topic's dead-letter queue.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
		"service_name", c.serviceName,
	)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	c.mu.Lock()
	c.readers = append(c.readers, reader)
	c.mu.Unlock()

	c.wg.Add(1)
	defer c.wg.Done()

	consumeCtx := logging.WithServiceName(ctx, c.serviceName)
	c.logger.InfowCtx(consumeCtx, "Started consuming", "topic", topic)

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, io.EOF) {
				c.logger.InfowCtx(consumeCtx, "Stopped consuming",
					"topic", topic,
					"reason", "reader closed",
				)
				return nil
			}
			c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
				"error", err,
				"topic", topic,
			)
			time.Sleep(time.Second)
			continue
		}

		if !c.handleMessage(consumeCtx, m, handler) {
			continue
		}

		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.ErrorwCtx(consumeCtx, "Failed to commit message",
				"error", err,
				"topic", topic,
			)
		}
	}
}

// handleMessage processes one record and reports whether its offset may be
// committed. Shutdown during processing leaves the record uncommitted.
func (c *KafkaConsumer) handleMessage(ctx context.Context, m kafka.Message, handler HandlerFunc) bool {
	topic := m.Topic
	metrics.IncKafkaMessagesRead(c.serviceName, topic)
	metrics.ObserveKafkaMessageSize(c.serviceName, topic, "in", len(m.Value))

	msgCtx, span := tracing.StartSpanFromKafkaMessage(ctx, "kafka.consume "+topic, m.Headers)
	defer span.End()

	start := time.Now()

	envelope, err := models.DecodeEnvelope(m.Value)
	if err != nil {
		c.logger.ErrorwCtx(msgCtx, "Rejecting malformed message",
			"error", err,
			"topic", topic,
			"offset", m.Offset,
		)
		c.deadLetter(msgCtx, m, nil, errors.ErrInvalidPayload.WithCause(err), models.FailureTypeValidation, 0, start)
		metrics.ObserveProcessingDuration(topic, "invalid", time.Since(start))
		return true
	}

	if envelope.Metadata.TraceID != "" {
		msgCtx = logging.WithTraceID(msgCtx, envelope.Metadata.TraceID)
	}
	if envelope.Metadata.BusinessDomain != "" {
		msgCtx = logging.WithBusinessDomain(msgCtx, envelope.Metadata.BusinessDomain)
	}
	msgCtx = logging.WithMessageID(msgCtx, envelope.EnvelopeMessageID())

	attempts, err := c.processMessageWithRetry(msgCtx, envelope, handler, topic)
	if err == nil {
		metrics.ObserveProcessingDuration(topic, "success", time.Since(start))
		return true
	}

	if ctx.Err() != nil {
		c.logger.WarnwCtx(msgCtx, "Processing interrupted by shutdown, message will be redelivered",
			"topic", topic,
			"attempts", attempts,
		)
		return false
	}

	failureType := models.FailureTypeTransient
	if !errors.IsRetryable(err) {
		failureType = models.FailureTypePermanent
	}

	c.logger.ErrorwCtx(msgCtx, "Failed to process message",
		"error", err,
		"error_code", errors.CodeOf(err),
		"topic", topic,
		"attempts", attempts,
		"failure_type", failureType,
	)
	c.deadLetter(msgCtx, m, &envelope, err, failureType, attempts, start)
	metrics.ObserveProcessingDuration(topic, "dead_lettered", time.Since(start))
	return true
}

func (c *KafkaConsumer) processMessageWithRetry(ctx context.Context, envelope models.MessageEnvelope, handler HandlerFunc, topic string) (int, error) {
	attempts := 0
	err := retry.RetryWithCallback(ctx, c.policy, func() error {
		attempts++
		return errors.Guard(func() error {
			return handler(ctx, envelope)
		})
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, topic).Inc()
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", c.policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", topic,
		)
	})
	return attempts, err
}

func (c *KafkaConsumer) deadLetter(ctx context.Context, m kafka.Message, envelope *models.MessageEnvelope, cause error, failureType string, attempts int, firstFailedAt time.Time) {
	if c.dlq == nil {
		c.logger.WarnwCtx(ctx, "No DLQ writer configured, dropping message", "topic", m.Topic)
		return
	}

	info := models.DLQInfo{
		Reason:        cause.Error(),
		SourceQueue:   m.Topic,
		FailureType:   failureType,
		Attempts:      attempts,
		FirstFailedAt: firstFailedAt,
		LastAttemptAt: time.Now(),
	}

	msg, err := BuildDLQMessage(c.queues.DLQ(m.Topic), m, envelope, info)
	if err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to build DLQ message", "error", err, "topic", m.Topic)
		return
	}

	if err := c.dlq.WriteMessages(ctx, msg); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to send message to DLQ",
			"error", err,
			"topic", m.Topic,
		)
		return
	}

	metrics.DLQMessagesTotal.WithLabelValues(c.serviceName, m.Topic, failureType).Inc()
	c.logger.InfowCtx(ctx, "Message sent to DLQ",
		"source_topic", m.Topic,
		"dlq_topic", msg.Topic,
		"reason", info.Reason,
	)
}

func (c *KafkaConsumer) Close() error {
	var err error
	c.mu.Lock()
	for _, reader := range c.readers {
		if closeErr := reader.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	c.readers = nil
	c.mu.Unlock()

	c.wg.Wait()

	if c.dlqProducer != nil {
		if closeErr := c.dlqProducer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
