package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/epic1st/pulseroom/backend/broker"
	"github.com/epic1st/pulseroom/backend/storepg"
)

type fakeAnalyzer struct {
	moderation broker.Moderation
	err        error
}

func (a *fakeAnalyzer) Moderate(ctx context.Context, messageID, body string) (broker.Moderation, error) {
	return a.moderation, a.err
}

type fakeModeratedProducer struct {
	produced []broker.ModeratedMessage
}

func (p *fakeModeratedProducer) ProduceModerated(ctx context.Context, m broker.ModeratedMessage) error {
	p.produced = append(p.produced, m)
	return nil
}

func TestInboundStageUsesDefaultVerdictOnAnalyzerError(t *testing.T) {
	analyzer := &fakeAnalyzer{err: errors.New("boom")}
	producer := &fakeModeratedProducer{}
	stage := NewInboundStage(analyzer, producer)

	err := stage.Handle(context.Background(), broker.MessageMetadata{
		ID: "msg-1", RoomID: "room-1", SenderID: "user-1", Body: "hi", Type: "message.sent", Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(producer.produced) != 1 {
		t.Fatalf("expected one produced message, got %d", len(producer.produced))
	}
	got := producer.produced[0].Moderation
	if got.Sentiment != "neutral" || got.Flagged {
		t.Fatalf("expected default verdict on analyzer error, got %+v", got)
	}
}

func TestInboundStagePropagatesAnalyzerVerdict(t *testing.T) {
	analyzer := &fakeAnalyzer{moderation: broker.Moderation{Sentiment: "negative", Flagged: true, Reasons: []string{"insult"}}}
	producer := &fakeModeratedProducer{}
	stage := NewInboundStage(analyzer, producer)

	err := stage.Handle(context.Background(), broker.MessageMetadata{
		ID: "msg-1", RoomID: "room-1", SenderID: "user-1", Body: "hi", Type: "message.sent", Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if producer.produced[0].Moderation.Sentiment != "negative" || !producer.produced[0].Moderation.Flagged {
		t.Fatal("expected analyzer verdict to propagate unchanged")
	}
}

type fakeModerationUpdater struct {
	updated map[string]storepg.ModerationMeta
	err     error
}

func (u *fakeModerationUpdater) UpdateModeration(ctx context.Context, id string, meta storepg.ModerationMeta) error {
	if u.err != nil {
		return u.err
	}
	if u.updated == nil {
		u.updated = make(map[string]storepg.ModerationMeta)
	}
	u.updated[id] = meta
	return nil
}

type fakePersistedProducer struct {
	produced []broker.PersistedMessage
}

func (p *fakePersistedProducer) ProducePersisted(ctx context.Context, m broker.PersistedMessage) error {
	p.produced = append(p.produced, m)
	return nil
}

type fakeSink struct {
	roomID  string
	message broker.PersistedMessage
	calls   int
}

func (s *fakeSink) EmitMessageUpdated(roomID string, message broker.PersistedMessage) {
	s.roomID = roomID
	s.message = message
	s.calls++
}

func validModerated() broker.ModeratedMessage {
	return broker.ModeratedMessage{
		MessageMetadata: broker.MessageMetadata{
			ID: "msg-1", RoomID: "room-1", SenderID: "user-1", Body: "hi", Type: "message.sent", Timestamp: time.Now(),
		},
		Moderation:  broker.Moderation{Sentiment: "neutral"},
		ProcessedAt: time.Now(),
	}
}

func TestModeratedStageUpdatesProducesAndSignals(t *testing.T) {
	updater := &fakeModerationUpdater{}
	producer := &fakePersistedProducer{}
	sink := &fakeSink{}
	stage := NewModeratedStage(updater, producer, sink)

	if err := stage.Handle(context.Background(), validModerated()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := updater.updated["msg-1"]; !ok {
		t.Fatal("expected moderation meta to be updated")
	}
	if len(producer.produced) != 1 {
		t.Fatal("expected one persisted produce")
	}
	if sink.calls != 1 || sink.roomID != "room-1" {
		t.Fatalf("expected gateway sink signalled once for room-1, got calls=%d room=%q", sink.calls, sink.roomID)
	}
}

func TestModeratedStageAbortsOnUpdateError(t *testing.T) {
	updater := &fakeModerationUpdater{err: errors.New("db down")}
	producer := &fakePersistedProducer{}
	sink := &fakeSink{}
	stage := NewModeratedStage(updater, producer, sink)

	if err := stage.Handle(context.Background(), validModerated()); err == nil {
		t.Fatal("expected error from update failure to abort the handler")
	}
	if len(producer.produced) != 0 || sink.calls != 0 {
		t.Fatal("expected no downstream effects after update failure")
	}
}
