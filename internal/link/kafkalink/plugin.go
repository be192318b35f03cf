// Package kafkalink is a link plugin that exchanges messages with link
// partners over kafka topics. Every partner has an outbound topic the
// connector writes to and an inbound topic it pulls from.
package kafkalink

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"connector/internal/broker"
	"connector/internal/config"
	"connector/internal/constants"
	"connector/internal/link"
	"connector/internal/logger"
	apperrors "connector/pkg/errors"
	"connector/pkg/models"
	"connector/pkg/tracing"
)

const (
	PropertyBrokers       = "brokers"
	PropertyOutboundTopic = "outbound_topic"
	PropertyInboundTopic  = "inbound_topic"
)

type topicWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type topicReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Plugin struct {
	cfg       config.KafkaLinkConfig
	brokers   []string
	groupID   string
	dlqPrefix string
	logger    logger.Logger

	newWriter func(brokers []string, topic string) topicWriter
	newReader func(brokers []string, groupID, topic string) topicReader

	mu       sync.Mutex
	partners map[string]*partnerState
}

type partnerState struct {
	outbound string
	inbound  string
	brokers  []string
	groupID  string
	writer   topicWriter
	dlq      topicWriter

	mu     sync.Mutex
	reader topicReader
}

func New(cfg config.KafkaLinkConfig, kafkaCfg config.KafkaConfig, log logger.Logger) *Plugin {
	dlqPrefix := kafkaCfg.DLQPrefix
	if dlqPrefix == "" {
		dlqPrefix = constants.DLQPrefix
	}
	return &Plugin{
		cfg:       cfg,
		brokers:   kafkaCfg.Brokers,
		groupID:   kafkaCfg.GroupID,
		dlqPrefix: dlqPrefix,
		logger:    log,
		newWriter: defaultWriter,
		newReader: defaultReader,
		partners:  make(map[string]*partnerState),
	}
}

func defaultWriter(brokers []string, topic string) topicWriter {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		AllowAutoTopicCreation: true,
	}
}

func defaultReader(brokers []string, groupID, topic string) topicReader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

func (p *Plugin) Name() string {
	return constants.LinkPluginKafka
}

func (p *Plugin) CanHandle(impl string) bool {
	return strings.EqualFold(impl, constants.LinkPluginKafka)
}

func (p *Plugin) SupportedLinkTypes() []models.LinkType {
	return []models.LinkType{models.LinkTypeGateway, models.LinkTypeBackend}
}

func (p *Plugin) Features() []link.Feature {
	return []link.Feature{
		link.FeatureSendPush,
		link.FeatureReceivePull,
		link.FeaturePartnerShutdown,
		link.FeatureLinkShutdown,
	}
}

func (p *Plugin) StartConfiguration(ctx context.Context, cfg models.LinkConfiguration) (*link.ActiveLink, error) {
	if len(p.brokersFor(cfg)) == 0 {
		return nil, fmt.Errorf("link configuration %s has no kafka brokers", cfg.ConfigName)
	}
	return link.NewActiveLink(ctx, cfg, p), nil
}

func (p *Plugin) ShutdownConfiguration(_ context.Context, active *link.ActiveLink) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, partner := range active.Config.Partners {
		state, ok := p.partners[partner.Name]
		if !ok {
			continue
		}
		errs = append(errs, state.close())
		delete(p.partners, partner.Name)
	}
	return stderrors.Join(errs...)
}

func (p *Plugin) brokersFor(cfg models.LinkConfiguration) []string {
	if raw := cfg.Properties[PropertyBrokers]; raw != "" {
		return strings.Split(raw, ",")
	}
	return p.brokers
}

// topics returns the outbound and inbound topic of partner. Partner
// properties override the configured prefixes.
func (p *Plugin) topics(partner models.LinkPartner) (string, string) {
	outbound := partner.Properties[PropertyOutboundTopic]
	if outbound == "" {
		outbound = p.cfg.OutboundTopicPrefix + partner.Name
	}
	inbound := partner.Properties[PropertyInboundTopic]
	if inbound == "" {
		inbound = p.cfg.InboundTopicPrefix + partner.Name
	}
	return outbound, inbound
}

func (p *Plugin) EnableLinkPartner(ctx context.Context, partner models.LinkPartner, active *link.ActiveLink) (*link.ActiveLinkPartner, error) {
	outbound, inbound := p.topics(partner)
	brokers := p.brokersFor(active.Config)

	state := &partnerState{
		outbound: outbound,
		inbound:  inbound,
		brokers:  brokers,
		groupID:  p.groupID + "-link-" + partner.Name,
		writer:   p.newWriter(brokers, outbound),
	}
	if partner.Mode == models.LinkModePull {
		state.reader = p.newReader(brokers, state.groupID, inbound)
		state.dlq = p.newWriter(brokers, p.dlqPrefix+inbound)
	}

	p.mu.Lock()
	if old, ok := p.partners[partner.Name]; ok {
		_ = old.close()
	}
	p.partners[partner.Name] = state
	p.mu.Unlock()

	p.logger.InfowCtx(ctx, "Kafka link partner enabled",
		"link_partner", partner.Name,
		"outbound_topic", outbound,
		"inbound_topic", inbound,
	)
	return link.NewActiveLinkPartner(partner, active), nil
}

func (p *Plugin) ShutdownLinkPartner(_ context.Context, active *link.ActiveLinkPartner) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.partners[active.Name()]
	if !ok {
		return nil
	}
	delete(p.partners, active.Name())
	return state.close()
}

func (s *partnerState) close() error {
	var errs []error
	if s.writer != nil {
		errs = append(errs, s.writer.Close())
	}
	if s.dlq != nil {
		errs = append(errs, s.dlq.Close())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader != nil {
		errs = append(errs, s.reader.Close())
		s.reader = nil
	}
	return stderrors.Join(errs...)
}

func (s *partnerState) currentReader() topicReader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader
}

// rewind drops the reader so the next pull starts again at the committed
// offset of the consumer group. A group reader keeps its fetch position
// in memory, so an uncommitted record is not fetched again otherwise.
func (p *Plugin) rewind(s *partnerState, stale topicReader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader != stale {
		return nil
	}
	err := stale.Close()
	s.reader = p.newReader(s.brokers, s.groupID, s.inbound)
	return err
}

func (p *Plugin) state(name string) (*partnerState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.partners[name]
	if !ok {
		return nil, fmt.Errorf("kafka link partner %s is not enabled", name)
	}
	return state, nil
}

func (p *Plugin) Submitter(active *link.ActiveLinkPartner) (link.Submitter, error) {
	if _, err := p.state(active.Name()); err != nil {
		return nil, err
	}
	return &submitter{plugin: p, partner: active}, nil
}

func (p *Plugin) Puller(active *link.ActiveLinkPartner) (link.Puller, bool) {
	state, err := p.state(active.Name())
	if err != nil || state.currentReader() == nil {
		return nil, false
	}
	return &puller{plugin: p, partner: active, state: state}, true
}

type submitter struct {
	plugin  *Plugin
	partner *link.ActiveLinkPartner
}

// Submit writes msg to the outbound topic and waits for all in-sync
// replicas. The envelope id is the remote message id.
func (s *submitter) Submit(ctx context.Context, msg *models.Message) (link.SubmitResult, error) {
	state, err := s.plugin.state(s.partner.Name())
	if err != nil {
		return link.SubmitResult{}, err
	}

	envelope := models.NewEnvelope(msg, s.partner.LinkType())
	body, err := models.EncodeEnvelope(envelope)
	if err != nil {
		return link.SubmitResult{}, err
	}

	record := kafka.Message{
		Key:     []byte(msg.ID),
		Value:   body,
		Headers: tracing.InjectTraceContext(ctx, []kafka.Header{}),
		Time:    time.Now(),
	}
	if err := state.writer.WriteMessages(ctx, record); err != nil {
		return link.SubmitResult{}, fmt.Errorf("failed to write to %s: %w", state.outbound, err)
	}

	return link.SubmitResult{
		RemoteMessageID:          envelope.ID,
		TransportSystemMessageID: state.outbound + "/" + envelope.ID,
		ResultText:               "written to " + state.outbound,
	}, nil
}

type puller struct {
	plugin  *Plugin
	partner *link.ActiveLinkPartner
	state   *partnerState
}

// Pull reads at most one batch from the inbound topic. A record is committed
// once the receiver accepted it, or once it is on the dead-letter topic
// because it does not decode or was permanently refused. On a retryable
// refusal the reader is rewound and the record comes again on the next pull.
func (p *puller) Pull(ctx context.Context, receiver link.Receiver) (int, error) {
	batch := p.plugin.cfg.PullBatchSize
	if batch <= 0 {
		batch = 50
	}
	wait := p.plugin.cfg.PullWait
	if wait <= 0 {
		wait = 2 * time.Second
	}

	reader := p.state.currentReader()
	if reader == nil {
		return 0, fmt.Errorf("kafka link partner %s has no inbound reader", p.partner.Name())
	}

	received := 0
	for received < batch {
		fetchCtx, cancel := context.WithTimeout(ctx, wait)
		record, err := reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return received, ctx.Err()
			}
			if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, io.EOF) {
				return received, nil
			}
			return received, fmt.Errorf("failed to fetch from inbound topic of %s: %w", p.partner.Name(), err)
		}

		accepted, err := p.handle(ctx, record, receiver)
		if err != nil {
			if rewindErr := p.plugin.rewind(p.state, reader); rewindErr != nil {
				p.plugin.logger.WarnwCtx(ctx, "Failed to close inbound reader",
					"link_partner", p.partner.Name(),
					"error", rewindErr,
				)
			}
			return received, err
		}
		if err := reader.CommitMessages(ctx, record); err != nil {
			return received, fmt.Errorf("failed to commit inbound offset: %w", err)
		}
		if accepted {
			received++
		}
	}
	return received, nil
}

// handle passes record to receiver and reports whether it was accepted.
// Only a failure that leaves record uncommitted is returned.
func (p *puller) handle(ctx context.Context, record kafka.Message, receiver link.Receiver) (bool, error) {
	envelope, err := models.DecodeEnvelope(record.Value)
	if err == nil && envelope.Message == nil {
		err = stderrors.New("envelope carries no message")
	}
	if err != nil {
		p.plugin.logger.WarnwCtx(ctx, "Undecodable record from link partner",
			"offset", record.Offset,
			"partition", record.Partition,
			"error", err,
		)
		return false, p.deadLetter(ctx, record, nil, err, models.FailureTypeValidation)
	}

	recordCtx := tracing.ExtractTraceContext(ctx, record.Headers)
	err = receiver.Receive(recordCtx, p.partner.Name(), envelope.Message)
	switch {
	case err == nil:
		return true, nil
	case apperrors.IsRetryable(err):
		return false, fmt.Errorf("receiver rejected message %s: %w", envelope.Message.ID, err)
	default:
		p.plugin.logger.WarnwCtx(ctx, "Message refused by receiver",
			"message_id", envelope.Message.ID,
			"offset", record.Offset,
			"error", err,
		)
		return false, p.deadLetter(ctx, record, &envelope, err, models.FailureTypePermanent)
	}
}

func (p *puller) deadLetter(ctx context.Context, record kafka.Message, envelope *models.MessageEnvelope, cause error, failureType string) error {
	now := time.Now()
	dlqTopic := p.plugin.dlqPrefix + p.state.inbound
	dead, err := broker.BuildDLQMessage(dlqTopic, record, envelope, models.DLQInfo{
		Reason:        cause.Error(),
		SourceQueue:   p.state.inbound,
		FailureType:   failureType,
		Attempts:      1,
		FirstFailedAt: now,
		LastAttemptAt: now,
	})
	if err != nil {
		return err
	}
	// the writer is bound to the dead-letter topic
	dead.Topic = ""
	if err := p.state.dlq.WriteMessages(ctx, dead); err != nil {
		return fmt.Errorf("failed to write to %s: %w", dlqTopic, err)
	}
	p.plugin.logger.InfowCtx(ctx, "Inbound record sent to DLQ",
		"link_partner", p.partner.Name(),
		"dlq_topic", dlqTopic,
		"offset", record.Offset,
		"failure_type", failureType,
	)
	return nil
}
