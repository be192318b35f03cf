package kafkalink

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connector/internal/broker"
	"connector/internal/config"
	"connector/internal/link"
	"connector/internal/logger"
	apperrors "connector/pkg/errors"
	"connector/pkg/models"
)

type fakeWriter struct {
	mu     sync.Mutex
	topic  string
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

// fakeTopic is an inbound topic with one consumer group. Readers start at
// the committed position and keep their own fetch position, like a kafka
// group reader.
type fakeTopic struct {
	records   []kafka.Message
	committed []int64
	position  int
	readers   []*fakeReader
}

type fakeReader struct {
	topic  *fakeTopic
	next   int
	closed bool
}

func (t *fakeTopic) newReader() *fakeReader {
	r := &fakeReader{topic: t, next: t.position}
	t.readers = append(t.readers, r)
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.closed {
		return kafka.Message{}, io.ErrClosedPipe
	}
	if r.next >= len(r.topic.records) {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.topic.records[r.next]
	r.next++
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.topic.committed = append(r.topic.committed, m.Offset)
		for i, rec := range r.topic.records {
			if rec.Offset == m.Offset && i+1 > r.topic.position {
				r.topic.position = i + 1
			}
		}
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type recordingReceiver struct {
	partners []string
	ids      []string
	err      error
}

func (r *recordingReceiver) Receive(_ context.Context, partner string, msg *models.Message) error {
	if r.err != nil {
		return r.err
	}
	r.partners = append(r.partners, partner)
	r.ids = append(r.ids, msg.ID)
	return nil
}

type harness struct {
	plugin  *Plugin
	writers map[string]*fakeWriter
	topic   *fakeTopic
}

func newHarness() *harness {
	h := &harness{writers: make(map[string]*fakeWriter), topic: &fakeTopic{}}
	h.plugin = New(config.KafkaLinkConfig{
		OutboundTopicPrefix: "link.out.",
		InboundTopicPrefix:  "link.in.",
		PullBatchSize:       10,
		PullWait:            20 * time.Millisecond,
	}, config.KafkaConfig{Brokers: []string{"localhost:9092"}, GroupID: "connector", DLQPrefix: "DLQ."}, logger.NopLogger())
	h.plugin.newWriter = func(_ []string, topic string) topicWriter {
		w := &fakeWriter{topic: topic}
		h.writers[topic] = w
		return w
	}
	h.plugin.newReader = func(_ []string, _, _ string) topicReader {
		return h.topic.newReader()
	}
	return h
}

func (h *harness) enable(t *testing.T, partner models.LinkPartner) *link.ActiveLinkPartner {
	t.Helper()
	cfg := models.LinkConfiguration{
		ConfigName: "backends",
		PluginName: "kafka",
		LinkType:   models.LinkTypeBackend,
		Partners:   []models.LinkPartner{partner},
	}
	active, err := h.plugin.StartConfiguration(context.Background(), cfg)
	require.NoError(t, err)
	p, err := h.plugin.EnableLinkPartner(context.Background(), partner, active)
	require.NoError(t, err)
	return p
}

func envelopeRecord(t *testing.T, offset int64, msg *models.Message) kafka.Message {
	t.Helper()
	body, err := models.EncodeEnvelope(models.NewEnvelope(msg, models.LinkTypeGateway))
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: body}
}

func TestPluginDescription(t *testing.T) {
	p := newHarness().plugin
	assert.True(t, p.CanHandle("kafka"))
	assert.True(t, p.CanHandle("KAFKA"))
	assert.False(t, p.CanHandle("webservice"))
	assert.True(t, link.HasFeature(p, link.FeatureReceivePull))
	assert.ElementsMatch(t, []models.LinkType{models.LinkTypeGateway, models.LinkTypeBackend}, p.SupportedLinkTypes())
}

func TestTopics(t *testing.T) {
	p := newHarness().plugin

	out, in := p.topics(models.LinkPartner{Name: "backend_a"})
	assert.Equal(t, "link.out.backend_a", out)
	assert.Equal(t, "link.in.backend_a", in)

	out, in = p.topics(models.LinkPartner{
		Name:       "backend_b",
		Properties: map[string]string{PropertyOutboundTopic: "b.requests", PropertyInboundTopic: "b.responses"},
	})
	assert.Equal(t, "b.requests", out)
	assert.Equal(t, "b.responses", in)
}

func TestStartConfigurationWithoutBrokers(t *testing.T) {
	p := New(config.KafkaLinkConfig{}, config.KafkaConfig{}, logger.NopLogger())
	_, err := p.StartConfiguration(context.Background(), models.LinkConfiguration{ConfigName: "x"})
	require.Error(t, err)

	active, err := p.StartConfiguration(context.Background(), models.LinkConfiguration{
		ConfigName: "x",
		Properties: map[string]string{PropertyBrokers: "kafka-1:9092,kafka-2:9092"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, p.brokersFor(active.Config))
}

func TestSubmit(t *testing.T) {
	h := newHarness()
	partner := h.enable(t, models.LinkPartner{Name: "backend_a"})

	submitter, err := h.plugin.Submitter(partner)
	require.NoError(t, err)

	msg := models.NewMessageBuilder().
		WithDirection(models.DirectionGatewayToBackend).
		WithBackendPartner("backend_a").
		Build()

	res, err := submitter.Submit(context.Background(), msg)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RemoteMessageID)

	w := h.writers["link.out.backend_a"]
	require.Len(t, w.msgs, 1)
	assert.Equal(t, msg.ID, string(w.msgs[0].Key))

	envelope, err := models.DecodeEnvelope(w.msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, res.RemoteMessageID, envelope.ID)
	assert.Equal(t, models.LinkTypeBackend, envelope.Target)
}

func TestSubmitWriteFailure(t *testing.T) {
	h := newHarness()
	partner := h.enable(t, models.LinkPartner{Name: "backend_a"})
	h.writers["link.out.backend_a"].err = errors.New("leader not available")

	submitter, err := h.plugin.Submitter(partner)
	require.NoError(t, err)

	msg := models.NewMessageBuilder().WithDirection(models.DirectionGatewayToBackend).Build()
	_, err = submitter.Submit(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "link.out.backend_a")
}

func TestPull(t *testing.T) {
	h := newHarness()
	partner := h.enable(t, models.LinkPartner{Name: "backend_pull", Mode: models.LinkModePull})

	first := models.NewMessageBuilder().WithDirection(models.DirectionBackendToGateway).Build()
	second := models.NewMessageBuilder().WithDirection(models.DirectionBackendToGateway).Build()
	h.topic.records = []kafka.Message{
		envelopeRecord(t, 1, first),
		envelopeRecord(t, 3, second),
	}

	puller, ok := h.plugin.Puller(partner)
	require.True(t, ok)

	receiver := &recordingReceiver{}
	n, err := puller.Pull(context.Background(), receiver)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{first.ID, second.ID}, receiver.ids)
	assert.Equal(t, []string{"backend_pull", "backend_pull"}, receiver.partners)
	assert.Equal(t, []int64{1, 3}, h.topic.committed)
	assert.Empty(t, h.writers["DLQ.link.in.backend_pull"].msgs)
}

func TestPushPartnerHasNoPuller(t *testing.T) {
	h := newHarness()
	partner := h.enable(t, models.LinkPartner{Name: "backend_push", Mode: models.LinkModePush})
	_, ok := h.plugin.Puller(partner)
	assert.False(t, ok)
}

func TestShutdownLinkPartnerClosesWriter(t *testing.T) {
	h := newHarness()
	partner := h.enable(t, models.LinkPartner{Name: "backend_a"})

	require.NoError(t, h.plugin.ShutdownLinkPartner(context.Background(), partner))
	assert.True(t, h.writers["link.out.backend_a"].closed)

	_, err := h.plugin.Submitter(partner)
	assert.Error(t, err)
}

func TestPullRetryableRefusalRedeliversRecord(t *testing.T) {
	h := newHarness()
	partner := h.enable(t, models.LinkPartner{Name: "backend_pull", Mode: models.LinkModePull})
	first := models.NewMessageBuilder().WithDirection(models.DirectionBackendToGateway).Build()
	second := models.NewMessageBuilder().WithDirection(models.DirectionBackendToGateway).Build()
	h.topic.records = []kafka.Message{envelopeRecord(t, 7, first), envelopeRecord(t, 8, second)}

	puller, ok := h.plugin.Puller(partner)
	require.True(t, ok)

	receiver := &recordingReceiver{err: errors.New("queue down")}
	n, err := puller.Pull(context.Background(), receiver)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Empty(t, h.topic.committed, "rejected record stays uncommitted")
	require.Len(t, h.topic.readers, 2, "reader is replaced")
	assert.True(t, h.topic.readers[0].closed)

	receiver.err = nil
	n, err = puller.Pull(context.Background(), receiver)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{first.ID, second.ID}, receiver.ids, "the rejected record comes again")
	assert.Equal(t, []int64{7, 8}, h.topic.committed)
}

func TestPullDeadLettersUnprocessableRecords(t *testing.T) {
	msg := models.NewMessageBuilder().WithDirection(models.DirectionBackendToGateway).Build()

	tests := []struct {
		name        string
		record      func(t *testing.T) kafka.Message
		receiverErr error
		failureType string
		envelope    bool
	}{
		{
			name: "undecodable record",
			record: func(*testing.T) kafka.Message {
				return kafka.Message{Offset: 2, Key: []byte("k"), Value: []byte("not json")}
			},
			failureType: models.FailureTypeValidation,
		},
		{
			name: "envelope without message",
			record: func(*testing.T) kafka.Message {
				return kafka.Message{Offset: 2, Value: []byte(`{"id":"e1"}`)}
			},
			failureType: models.FailureTypeValidation,
		},
		{
			name:        "permanently refused message",
			record:      func(t *testing.T) kafka.Message { return envelopeRecord(t, 2, msg) },
			receiverErr: apperrors.ErrInvalidPayload.WithMessage("unsupported action"),
			failureType: models.FailureTypePermanent,
			envelope:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			partner := h.enable(t, models.LinkPartner{Name: "backend_pull", Mode: models.LinkModePull})
			h.topic.records = []kafka.Message{tt.record(t)}

			puller, ok := h.plugin.Puller(partner)
			require.True(t, ok)

			n, err := puller.Pull(context.Background(), &recordingReceiver{err: tt.receiverErr})
			require.NoError(t, err)
			assert.Zero(t, n)
			assert.Equal(t, []int64{2}, h.topic.committed)

			dlq := h.writers["DLQ.link.in.backend_pull"]
			require.NotNil(t, dlq)
			require.Len(t, dlq.msgs, 1)
			dead := dlq.msgs[0]
			assert.Empty(t, dead.Topic)

			headers := make(map[string]string)
			for _, hd := range dead.Headers {
				headers[hd.Key] = string(hd.Value)
			}
			assert.Equal(t, tt.failureType, headers[broker.HeaderDLQFailureType])
			assert.Equal(t, "link.in.backend_pull", headers[broker.HeaderDLQSourceQueue])
			assert.NotEmpty(t, headers[broker.HeaderDLQReason])

			if tt.envelope {
				envelope, err := models.DecodeEnvelope(dead.Value)
				require.NoError(t, err)
				require.NotNil(t, envelope.Metadata.DeadLetter)
				assert.Equal(t, msg.ID, envelope.Message.ID)
			} else {
				assert.Equal(t, tt.record(t).Value, dead.Value, "raw record is kept")
			}
		})
	}
}

func TestPullKeepsRecordWhenDLQWriteFails(t *testing.T) {
	h := newHarness()
	partner := h.enable(t, models.LinkPartner{Name: "backend_pull", Mode: models.LinkModePull})
	h.topic.records = []kafka.Message{{Offset: 5, Value: []byte("not json")}}
	h.writers["DLQ.link.in.backend_pull"].err = errors.New("leader not available")

	puller, ok := h.plugin.Puller(partner)
	require.True(t, ok)

	_, err := puller.Pull(context.Background(), &recordingReceiver{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DLQ.link.in.backend_pull")
	assert.Empty(t, h.topic.committed)
	assert.Len(t, h.topic.readers, 2)
}
