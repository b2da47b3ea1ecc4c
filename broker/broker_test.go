package broker

import (
	"testing"
	"time"
)

func validMetadata() MessageMetadata {
	return MessageMetadata{
		ID:        "msg-1",
		RoomID:    "room-1",
		SenderID:  "user-1",
		Body:      "hello",
		Timestamp: time.Now(),
		Type:      "message.sent",
	}
}

func TestValidateMessageMetadata(t *testing.T) {
	if err := validateMessageMetadata(validMetadata()); err != nil {
		t.Fatalf("expected valid metadata to pass, got %v", err)
	}

	missing := validMetadata()
	missing.ID = ""
	if err := validateMessageMetadata(missing); err == nil {
		t.Fatal("expected missing id to fail validation")
	}

	wrongType := validMetadata()
	wrongType.Type = "wrong"
	if err := validateMessageMetadata(wrongType); err == nil {
		t.Fatal("expected wrong type to fail validation")
	}
}

func TestValidateModerated(t *testing.T) {
	m := ModeratedMessage{
		MessageMetadata: validMetadata(),
		Moderation: Moderation{
			Sentiment: "neutral",
			Flagged:   false,
		},
		ProcessedAt: time.Now(),
	}
	if err := validateModerated(m); err != nil {
		t.Fatalf("expected valid moderated payload to pass, got %v", err)
	}

	m.Moderation.Sentiment = "ecstatic"
	if err := validateModerated(m); err == nil {
		t.Fatal("expected invalid sentiment to fail validation")
	}
}

func TestValidatePersisted(t *testing.T) {
	p := PersistedMessage{
		ModeratedMessage: ModeratedMessage{
			MessageMetadata: validMetadata(),
			Moderation:      Moderation{Sentiment: "positive", Flagged: false},
			ProcessedAt:     time.Now(),
		},
		DocID:     "doc-1",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := validatePersisted(p); err != nil {
		t.Fatalf("expected valid persisted payload to pass, got %v", err)
	}

	p.DocID = ""
	if err := validatePersisted(p); err == nil {
		t.Fatal("expected missing _id to fail validation")
	}
}
