// Package broker is the typed producer/consumer adapter (C7) over the
// three message-pipeline topics. Schemas are represented as three
// composed payload records, matching each topic's contract exactly.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/epic1st/pulseroom/backend/logging"
)

// Canonical topic names.
const (
	TopicInbound   = "messages.inbound"
	TopicModerated = "messages.moderated"
	TopicPersisted = "messages.persisted"
)

// MessageMetadata is the messages.inbound payload.
type MessageMetadata struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	SenderID  string    `json:"senderId"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
}

// Confidence carries the analyzer's confidence per verdict dimension.
type Confidence struct {
	Sentiment float64 `json:"sentiment"`
	Flagged   float64 `json:"flagged"`
}

// Moderation is the analyzer's combined verdict.
type Moderation struct {
	Sentiment  string     `json:"sentiment"`
	Flagged    bool       `json:"flagged"`
	Reasons    []string   `json:"reasons,omitempty"`
	Confidence Confidence `json:"confidence"`
}

// ModeratedMessage is the messages.moderated payload: inbound fields
// plus the moderation verdict, by composition rather than inheritance.
type ModeratedMessage struct {
	MessageMetadata
	Moderation  Moderation `json:"moderation"`
	ProcessedAt time.Time  `json:"processedAt"`
}

// PersistedMessage is the messages.persisted payload: moderated fields
// plus document identity and timestamps.
type PersistedMessage struct {
	ModeratedMessage
	DocID     string    `json:"_id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ErrValidation is returned when a payload fails its topic's schema
// check; producing aborts rather than publishing a malformed record.
var ErrValidation = errors.New("broker: payload failed schema validation")

func validateMessageMetadata(m MessageMetadata) error {
	if m.ID == "" || m.RoomID == "" || m.SenderID == "" {
		return fmt.Errorf("%w: missing id/roomId/senderId", ErrValidation)
	}
	if m.Type != "message.sent" {
		return fmt.Errorf("%w: unexpected type %q", ErrValidation, m.Type)
	}
	return nil
}

func validateModerated(m ModeratedMessage) error {
	if err := validateMessageMetadata(m.MessageMetadata); err != nil {
		return err
	}
	switch m.Moderation.Sentiment {
	case "positive", "negative", "neutral":
	default:
		return fmt.Errorf("%w: invalid sentiment %q", ErrValidation, m.Moderation.Sentiment)
	}
	return nil
}

func validatePersisted(m PersistedMessage) error {
	if err := validateModerated(m.ModeratedMessage); err != nil {
		return err
	}
	if m.DocID == "" {
		return fmt.Errorf("%w: missing _id", ErrValidation)
	}
	return nil
}

// Config is the broker connection configuration.
type Config struct {
	Brokers       []string
	ConsumerGroup string
}

// Client wraps a kgo.Client with typed, validating produce/consume
// helpers for the three pipeline topics.
type Client struct {
	kc *kgo.Client
}

// New dials the broker. Topic subscriptions are added via Consume*.
func New(cfg Config, topics ...string) (*Client, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
	}
	if cfg.ConsumerGroup != "" && len(topics) > 0 {
		opts = append(opts,
			kgo.ConsumerGroup(cfg.ConsumerGroup),
			kgo.ConsumeTopics(topics...),
		)
	}

	kc, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("broker: dial: %w", err)
	}
	return &Client{kc: kc}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.kc.Close()
}

// Ping checks broker reachability for health reporting.
func (c *Client) Ping(ctx context.Context) error {
	return c.kc.Ping(ctx)
}

func produce(ctx context.Context, kc *kgo.Client, topic, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: data}
	return kc.ProduceSync(ctx, record).FirstErr()
}

// ProduceInbound validates and publishes a MessageMetadata to
// messages.inbound, keyed by message id.
func (c *Client) ProduceInbound(ctx context.Context, m MessageMetadata) error {
	if err := validateMessageMetadata(m); err != nil {
		return err
	}
	return produce(ctx, c.kc, TopicInbound, m.ID, m)
}

// ProduceModerated validates and publishes a ModeratedMessage to
// messages.moderated, keyed by message id.
func (c *Client) ProduceModerated(ctx context.Context, m ModeratedMessage) error {
	if err := validateModerated(m); err != nil {
		return err
	}
	return produce(ctx, c.kc, TopicModerated, m.ID, m)
}

// ProducePersisted validates and publishes a PersistedMessage to
// messages.persisted, keyed by message id.
func (c *Client) ProducePersisted(ctx context.Context, m PersistedMessage) error {
	if err := validatePersisted(m); err != nil {
		return err
	}
	return produce(ctx, c.kc, TopicPersisted, m.ID, m)
}

// ConsumeInbound polls messages.inbound until ctx is cancelled,
// invoking handle for each well-formed record. Malformed records are
// logged by the caller via the error return and skipped — the offset
// still advances since the fetch loop continues regardless.
func (c *Client) ConsumeInbound(ctx context.Context, handle func(MessageMetadata) error) error {
	return c.pollLoop(ctx, func(raw []byte) error {
		var m MessageMetadata
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if err := validateMessageMetadata(m); err != nil {
			return err
		}
		return handle(m)
	})
}

// ConsumeModerated polls messages.moderated until ctx is cancelled.
func (c *Client) ConsumeModerated(ctx context.Context, handle func(ModeratedMessage) error) error {
	return c.pollLoop(ctx, func(raw []byte) error {
		var m ModeratedMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if err := validateModerated(m); err != nil {
			return err
		}
		return handle(m)
	})
}

// pollLoop fetches records in a tight loop until ctx is done. Per
// record, decode errors and handler errors are logged as a warning and
// the record is skipped: it is neither retried nor allowed to abort
// the loop.
func (c *Client) pollLoop(ctx context.Context, onRecord func(raw []byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fetches := c.kc.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			logging.Error("broker fetch error", err,
				logging.Component("broker"),
				logging.String("topic", topic),
			)
		})

		fetches.EachRecord(func(record *kgo.Record) {
			if err := onRecord(record.Value); err != nil {
				logging.Warn("broker record skipped",
					logging.Component("broker"),
					logging.String("topic", record.Topic),
					logging.String("error", err.Error()),
				)
			}
		})
	}
}
