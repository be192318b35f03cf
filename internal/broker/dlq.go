package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"connector/internal/config"
	"connector/internal/logger"
	"connector/pkg/errors"
	"connector/pkg/models"
)

const (
	HeaderDLQReason      = "x-dlq-reason"
	HeaderDLQSourceQueue = "x-dlq-source-queue"
	HeaderDLQFailureType = "x-dlq-failure-type"
	HeaderDLQAttempts    = "x-dlq-attempts"
)

// DLQEntry is one record found on a dead-letter queue.
type DLQEntry struct {
	Partition   int                     `json:"partition"`
	Offset      int64                   `json:"offset"`
	Key         string                  `json:"key"`
	Time        time.Time               `json:"time"`
	Reason      string                  `json:"reason"`
	SourceQueue string                  `json:"source_queue"`
	FailureType string                  `json:"failure_type"`
	Attempts    int                     `json:"attempts"`
	Envelope    *models.MessageEnvelope `json:"envelope,omitempty"`
	Raw         string                  `json:"raw,omitempty"`
}

// BuildDLQMessage keeps the original key and headers. A decodable envelope is
// rewritten with its DLQInfo, anything else is forwarded byte for byte.
func BuildDLQMessage(dlqTopic string, original kafka.Message, envelope *models.MessageEnvelope, info models.DLQInfo) (kafka.Message, error) {
	value := original.Value
	if envelope != nil {
		dead := *envelope
		dead.Metadata.DeadLetter = &info
		body, err := json.Marshal(&dead)
		if err != nil {
			return kafka.Message{}, fmt.Errorf("failed to marshal dead letter: %w", err)
		}
		value = body
	}

	headers := make([]kafka.Header, 0, len(original.Headers)+4)
	for _, h := range original.Headers {
		switch h.Key {
		case HeaderDLQReason, HeaderDLQSourceQueue, HeaderDLQFailureType, HeaderDLQAttempts:
			continue
		}
		headers = append(headers, h)
	}
	headers = append(headers,
		kafka.Header{Key: HeaderDLQReason, Value: []byte(info.Reason)},
		kafka.Header{Key: HeaderDLQSourceQueue, Value: []byte(info.SourceQueue)},
		kafka.Header{Key: HeaderDLQFailureType, Value: []byte(info.FailureType)},
		kafka.Header{Key: HeaderDLQAttempts, Value: []byte(strconv.Itoa(info.Attempts))},
	)

	return kafka.Message{
		Topic:   dlqTopic,
		Key:     original.Key,
		Value:   value,
		Headers: headers,
		Time:    time.Now(),
	}, nil
}

func parseDLQMessage(m kafka.Message) DLQEntry {
	entry := DLQEntry{
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       string(m.Key),
		Time:      m.Time,
	}

	for _, h := range m.Headers {
		switch h.Key {
		case HeaderDLQReason:
			entry.Reason = string(h.Value)
		case HeaderDLQSourceQueue:
			entry.SourceQueue = string(h.Value)
		case HeaderDLQFailureType:
			entry.FailureType = string(h.Value)
		case HeaderDLQAttempts:
			entry.Attempts, _ = strconv.Atoi(string(h.Value))
		}
	}

	var envelope models.MessageEnvelope
	if err := json.Unmarshal(m.Value, &envelope); err == nil && models.ValidateMessageEnvelope(&envelope) == nil {
		entry.Envelope = &envelope
	} else {
		entry.Raw = string(m.Value)
	}
	return entry
}

// DLQManager lists and replays dead-lettered messages.
type DLQManager struct {
	cfg      config.KafkaConfig
	queues   Queues
	producer Producer
	logger   logger.Logger
	wait     time.Duration
}

func NewDLQManager(cfg config.KafkaConfig, producer Producer, log logger.Logger) *DLQManager {
	return &DLQManager{
		cfg:      cfg,
		queues:   NewQueues(cfg),
		producer: producer,
		logger:   log,
		wait:     2 * time.Second,
	}
}

func (m *DLQManager) checkQueue(queue string) error {
	if !m.queues.Known(queue) {
		return errors.ErrNotFound.WithMessage("unknown queue %q", queue)
	}
	return nil
}

// List returns up to limit entries of the dead-letter queue of queue without
// consuming them.
func (m *DLQManager) List(ctx context.Context, queue string, limit int) ([]DLQEntry, error) {
	if err := m.checkQueue(queue); err != nil {
		return nil, err
	}
	topic := m.queues.DLQ(queue)

	partitions, err := m.partitions(ctx, topic)
	if err != nil {
		return nil, err
	}

	entries := make([]DLQEntry, 0)
	for _, partition := range partitions {
		if len(entries) >= limit {
			break
		}
		found, err := m.readPartition(ctx, topic, partition, limit-len(entries))
		if err != nil {
			return nil, err
		}
		entries = append(entries, found...)
	}
	return entries, nil
}

func (m *DLQManager) partitions(ctx context.Context, topic string) ([]int, error) {
	if len(m.cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	conn, err := kafka.DialContext(ctx, "tcp", m.cfg.Brokers[0])
	if err != nil {
		return nil, fmt.Errorf("failed to dial kafka: %w", err)
	}
	defer conn.Close()

	parts, err := conn.ReadPartitions(topic)
	if err != nil {
		return nil, fmt.Errorf("failed to read partitions of %s: %w", topic, err)
	}

	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (m *DLQManager) readPartition(ctx context.Context, topic string, partition, limit int) ([]DLQEntry, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   m.cfg.Brokers,
		Topic:     topic,
		Partition: partition,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffset(kafka.FirstOffset); err != nil {
		return nil, fmt.Errorf("failed to seek %s/%d: %w", topic, partition, err)
	}

	entries := make([]DLQEntry, 0)
	for len(entries) < limit {
		readCtx, cancel := context.WithTimeout(ctx, m.wait)
		msg, err := reader.ReadMessage(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			break
		}
		entries = append(entries, parseDLQMessage(msg))
	}
	return entries, nil
}

// Replay moves up to limit messages from the dead-letter queue of queue back
// to queue. Raw entries that never decoded are skipped and stay consumed.
func (m *DLQManager) Replay(ctx context.Context, queue string, limit int) (int, error) {
	if err := m.checkQueue(queue); err != nil {
		return 0, err
	}
	topic := m.queues.DLQ(queue)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  m.cfg.Brokers,
		GroupID:  m.cfg.GroupID + "-dlq-replay",
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	replayed := 0
	for replayed < limit {
		readCtx, cancel := context.WithTimeout(ctx, m.wait)
		msg, err := reader.FetchMessage(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return replayed, ctx.Err()
			}
			break
		}

		entry := parseDLQMessage(msg)
		if entry.Envelope == nil {
			m.logger.WarnwCtx(ctx, "Skipping undecodable DLQ entry",
				"topic", topic,
				"offset", msg.Offset,
				"reason", entry.Reason,
			)
		} else {
			envelope := entry.Envelope
			envelope.Metadata.DeadLetter = nil
			if err := m.producer.Publish(ctx, queue, envelope); err != nil {
				return replayed, fmt.Errorf("failed to republish %s: %w", envelope.ID, err)
			}
			replayed++
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			return replayed, fmt.Errorf("failed to commit replayed offset: %w", err)
		}
	}

	m.logger.InfowCtx(ctx, "Replayed DLQ messages", "queue", queue, "count", replayed)
	return replayed, nil
}
