// Package pipeline implements C8: the two consumer-group stages that
// turn a freshly sent message into a moderated, then persisted,
// document — each stage its own loop over package broker, mirroring
// the teacher's multi-stage orchestration with one goroutine per
// stage wired by channels-of-responsibility rather than direct calls.
package pipeline

import (
	"context"
	"time"

	"github.com/epic1st/pulseroom/backend/analyzer"
	"github.com/epic1st/pulseroom/backend/broker"
	"github.com/epic1st/pulseroom/backend/logging"
	"github.com/epic1st/pulseroom/backend/storepg"
)

// analyzerClient is the slice of analyzer.Client the inbound stage
// depends on.
type analyzerClient interface {
	Moderate(ctx context.Context, messageID, body string) (broker.Moderation, error)
}

// moderationUpdater is the slice of storepg.MessageRepo the moderated
// stage depends on.
type moderationUpdater interface {
	UpdateModeration(ctx context.Context, id string, meta storepg.ModerationMeta) error
}

// inboundProducer is the slice of broker.Client the inbound stage
// depends on to publish its verdict downstream.
type inboundProducer interface {
	ProduceModerated(ctx context.Context, m broker.ModeratedMessage) error
}

// persistedProducer is the slice of broker.Client the moderated stage
// depends on to publish the final persisted record.
type persistedProducer interface {
	ProducePersisted(ctx context.Context, m broker.PersistedMessage) error
}

// FanoutSink is implemented by the gateway: the moderated stage signals
// it directly, rather than the gateway importing this package, to
// invert what would otherwise be a gateway<->pipeline import cycle.
type FanoutSink interface {
	EmitMessageUpdated(roomID string, message broker.PersistedMessage)
}

// InboundStage consumes messages.inbound, calls the analyzer, and
// produces messages.moderated.
type InboundStage struct {
	analyzer analyzerClient
	producer inboundProducer
}

// NewInboundStage wires the inbound stage's collaborators.
func NewInboundStage(analyzer analyzerClient, producer inboundProducer) *InboundStage {
	return &InboundStage{analyzer: analyzer, producer: producer}
}

// Handle implements the inbound handler: on any analyzer error, the
// default verdict is used so the pipeline always advances.
func (s *InboundStage) Handle(ctx context.Context, m broker.MessageMetadata) error {
	moderation, err := s.analyzer.Moderate(ctx, m.ID, m.Body)
	if err != nil {
		logging.Warn("analyzer call failed, using default verdict",
			logging.String("messageId", m.ID),
			logging.String("error", err.Error()),
		)
		moderation = analyzer.Default
	}

	moderated := broker.ModeratedMessage{
		MessageMetadata: m,
		Moderation:      moderation,
		ProcessedAt:     time.Now(),
	}
	return s.producer.ProduceModerated(ctx, moderated)
}

// ModeratedStage consumes messages.moderated, rewrites the persisted
// document's meta, produces messages.persisted, and signals the
// gateway to fan out message_updated.
type ModeratedStage struct {
	messages moderationUpdater
	producer persistedProducer
	sink     FanoutSink
	audit    *logging.AuditLogger
}

// NewModeratedStage wires the moderated stage's collaborators.
func NewModeratedStage(messages moderationUpdater, producer persistedProducer, sink FanoutSink) *ModeratedStage {
	return &ModeratedStage{messages: messages, producer: producer, sink: sink}
}

// SetAuditLogger attaches an audit trail for flagged-message events.
// Nil-safe.
func (s *ModeratedStage) SetAuditLogger(audit *logging.AuditLogger) {
	s.audit = audit
}

// Handle implements the moderated handler. Any step failing aborts
// the remaining steps for this message only; the broker's poll loop
// logs the returned error and skips the record without redelivery.
func (s *ModeratedStage) Handle(ctx context.Context, m broker.ModeratedMessage) error {
	meta := storepg.ModerationMeta{
		Sentiment: m.Moderation.Sentiment,
		Flagged:   m.Moderation.Flagged,
		Reasons:   m.Moderation.Reasons,
	}
	if err := s.messages.UpdateModeration(ctx, m.ID, meta); err != nil {
		return err
	}
	if meta.Flagged && s.audit != nil {
		s.audit.LogMessageFlagged(ctx, m.ID, m.RoomID, meta.Reasons)
	}

	now := time.Now()
	persisted := broker.PersistedMessage{
		ModeratedMessage: m,
		DocID:            m.ID,
		CreatedAt:        m.Timestamp,
		UpdatedAt:        now,
	}
	if err := s.producer.ProducePersisted(ctx, persisted); err != nil {
		return err
	}

	if s.sink != nil {
		s.sink.EmitMessageUpdated(m.RoomID, persisted)
	}
	return nil
}

// Run drives both stages against a broker.Client's two consumer
// loops, one goroutine per topic, until ctx is cancelled. Each
// consumer loop owns its own poll/handle cycle, per the concurrency
// model's "each broker consumer owns its own loop".
func Run(ctx context.Context, inboundConsumer, moderatedConsumer *broker.Client, inbound *InboundStage, moderated *ModeratedStage) error {
	errs := make(chan error, 2)

	go func() {
		errs <- inboundConsumer.ConsumeInbound(ctx, func(m broker.MessageMetadata) error {
			return inbound.Handle(ctx, m)
		})
	}()

	go func() {
		errs <- moderatedConsumer.ConsumeModerated(ctx, func(m broker.ModeratedMessage) error {
			return moderated.Handle(ctx, m)
		})
	}()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}
