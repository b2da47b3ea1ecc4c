// Package chat implements C9 (message service) and C10 (membership and
// role service): the authorization rules and projection logic in front
// of the document store, the hot-message cache, the rate limiter, the
// sanitizer, and the inbound broker producer.
package chat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/epic1st/pulseroom/backend/broker"
	"github.com/epic1st/pulseroom/backend/internal/apperr"
	"github.com/epic1st/pulseroom/backend/logging"
	"github.com/epic1st/pulseroom/backend/ratelimit"
	"github.com/epic1st/pulseroom/backend/sanitize"
	"github.com/epic1st/pulseroom/backend/storepg"
)

// messageRepo is the slice of storepg.MessageRepo the message service
// depends on.
type messageRepo interface {
	Insert(ctx context.Context, m *storepg.Message) error
	Get(ctx context.Context, id string) (*storepg.Message, error)
	List(ctx context.Context, roomID string, limit, offset int, cursorCreatedAt *time.Time) ([]*storepg.Message, error)
	CountLive(ctx context.Context, roomID string) (int, error)
	UpdateBody(ctx context.Context, id, body string, editedAt time.Time) error
	SoftDelete(ctx context.Context, id string, deletedAt time.Time) error
}

// membershipChecker is the slice of storepg.RoomRepo the message
// service depends on for membership guards.
type membershipChecker interface {
	GetRoom(ctx context.Context, roomID string) (*storepg.Room, error)
	GetMembership(ctx context.Context, roomID, userID string) (*storepg.Membership, error)
}

// hotCache is the slice of chatcache.Cache the message service
// depends on.
type hotCache interface {
	Prepend(ctx context.Context, roomID string, message interface{}) error
	Recent(ctx context.Context, roomID string, dest interface{}) error
	Refresh(ctx context.Context, roomID string, messages []interface{}) error
}

// inboundProducer is the slice of broker.Client the message service
// depends on to publish newly-sent messages for moderation.
type inboundProducer interface {
	ProduceInbound(ctx context.Context, m broker.MessageMetadata) error
}

// deleteSink is implemented by the gateway: the message service signals
// it directly, rather than the gateway importing this package, to
// invert what would otherwise be a gateway<->chat import cycle — the
// same inversion pipeline.FanoutSink uses for message_updated.
type deleteSink interface {
	EmitMessageDeleted(roomID, messageID string)
}

// MessageService is C9.
type MessageService struct {
	messages  messageRepo
	rooms     membershipChecker
	cache     hotCache
	limiter   *ratelimit.Limiter
	producer  inboundProducer
	audit     *logging.AuditLogger
	sink      deleteSink
}

// NewMessageService wires C9's collaborators.
func NewMessageService(messages messageRepo, rooms membershipChecker, cache hotCache, limiter *ratelimit.Limiter, producer inboundProducer) *MessageService {
	return &MessageService{messages: messages, rooms: rooms, cache: cache, limiter: limiter, producer: producer}
}

// SetAuditLogger attaches an audit trail for message lifecycle events.
// Nil-safe: skipped entirely when no logger is attached.
func (s *MessageService) SetAuditLogger(audit *logging.AuditLogger) {
	s.audit = audit
}

// SetDeleteSink attaches the realtime gateway so Delete can fan out
// message_deleted to co-resident clients. Nil-safe.
func (s *MessageService) SetDeleteSink(sink deleteSink) {
	s.sink = sink
}

func (s *MessageService) requireMember(ctx context.Context, roomID, userID string) (*storepg.Room, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if _, err := s.rooms.GetMembership(ctx, roomID, userID); err != nil {
		return nil, apperr.New(apperr.Forbidden, "not a member of this room")
	}
	return room, nil
}

// Send implements C9.send.
func (s *MessageService) Send(ctx context.Context, roomID, body, userID, clientIP string) (*storepg.Message, error) {
	decision, err := s.limiter.Allow(ctx, "messageUser", userID)
	if err != nil {
		logging.Warn("rate limiter class error", logging.String("error", err.Error()))
	}
	if !decision.Allowed {
		return nil, apperr.RateLimit(int(decision.RetryAfter.Seconds()))
	}
	if clientIP != "" {
		decision, err = s.limiter.Allow(ctx, "messageIP", clientIP)
		if err != nil {
			logging.Warn("rate limiter class error", logging.String("error", err.Error()))
		}
		if !decision.Allowed {
			return nil, apperr.RateLimit(int(decision.RetryAfter.Seconds()))
		}
	}

	if _, err := s.requireMember(ctx, roomID, userID); err != nil {
		return nil, err
	}

	sanitizedBody := sanitize.MessageBody(body)

	now := time.Now()
	msg := &storepg.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		SenderID:  userID,
		Body:      sanitizedBody,
		Meta:      storepg.ModerationMeta{Sentiment: "neutral", Flagged: false},
		CreatedAt: now,
	}
	if err := s.messages.Insert(ctx, msg); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "insert message", err)
	}

	if err := s.cache.Prepend(ctx, roomID, msg); err != nil {
		logging.Warn("hot cache prepend failed", logging.String("roomId", roomID), logging.String("error", err.Error()))
	}

	// The analyzer sees the original body, not the sanitized one.
	err = s.producer.ProduceInbound(ctx, broker.MessageMetadata{
		ID:        msg.ID,
		RoomID:    roomID,
		SenderID:  userID,
		Body:      body,
		Timestamp: now,
		Type:      "message.sent",
	})
	if err != nil {
		logging.Warn("inbound produce failed", logging.String("messageId", msg.ID), logging.String("error", err.Error()))
	}

	if s.audit != nil {
		s.audit.LogMessageSent(ctx, msg.ID, roomID, userID)
	}

	return msg, nil
}

// ListPage is the paginated projection returned by List.
type ListPage struct {
	Messages   []*storepg.Message `json:"messages"`
	Total      int                `json:"total"`
	TotalPages int                `json:"totalPages"`
	HasNext    bool               `json:"hasNext"`
	HasPrev    bool               `json:"hasPrev"`
}

// List implements C9.list.
func (s *MessageService) List(ctx context.Context, roomID string, page, limit int, cursor *time.Time, userID string) (*ListPage, error) {
	if _, err := s.requireMember(ctx, roomID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	if page == 1 && cursor == nil {
		var cached []*storepg.Message
		if err := s.cache.Recent(ctx, roomID, &cached); err == nil && len(cached) > 0 {
			total, err := s.messages.CountLive(ctx, roomID)
			if err != nil {
				total = len(cached)
			}
			if limit < len(cached) {
				cached = cached[:limit]
			}
			return buildPage(cached, total, page, limit), nil
		}
	}

	// cursor-based paging (spec.md §4.9) positions the window itself;
	// page-based paging (§8's page-concatenation property) needs an
	// explicit offset, since the cache only ever serves page 1.
	offset := 0
	if cursor == nil && page > 1 {
		offset = (page - 1) * limit
	}
	messages, err := s.messages.List(ctx, roomID, limit, offset, cursor)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list messages", err)
	}
	total, err := s.messages.CountLive(ctx, roomID)
	if err != nil {
		total = len(messages)
	}

	if page == 1 && cursor == nil {
		boxed := make([]interface{}, len(messages))
		for i, m := range messages {
			boxed[i] = m
		}
		if err := s.cache.Refresh(ctx, roomID, boxed); err != nil {
			logging.Warn("hot cache refresh failed", logging.String("roomId", roomID), logging.String("error", err.Error()))
		}
	}

	return buildPage(messages, total, page, limit), nil
}

func buildPage(messages []*storepg.Message, total, page, limit int) *ListPage {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return &ListPage{
		Messages:   messages,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

func (s *MessageService) loadLive(ctx context.Context, id string) (*storepg.Message, error) {
	msg, err := s.messages.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.DeletedAt != nil {
		return nil, apperr.New(apperr.NotFound, "message not found")
	}
	return msg, nil
}

// Update implements C9.update.
func (s *MessageService) Update(ctx context.Context, id, body, userID string) (*storepg.Message, error) {
	msg, err := s.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, apperr.New(apperr.Forbidden, "only the sender may edit this message")
	}

	sanitizedBody := sanitize.MessageBody(body)
	now := time.Now()
	if err := s.messages.UpdateBody(ctx, id, sanitizedBody, now); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "update message", err)
	}
	msg.Body = sanitizedBody
	msg.EditedAt = &now

	if err := s.cache.Refresh(ctx, msg.RoomID, nil); err != nil {
		logging.Warn("hot cache invalidation failed", logging.String("roomId", msg.RoomID), logging.String("error", err.Error()))
	}
	return msg, nil
}

// Delete implements C9.delete.
func (s *MessageService) Delete(ctx context.Context, id, userID string) error {
	msg, err := s.loadLive(ctx, id)
	if err != nil {
		return err
	}
	if msg.SenderID != userID {
		return apperr.New(apperr.Forbidden, "only the sender may delete this message")
	}

	now := time.Now()
	if err := s.messages.SoftDelete(ctx, id, now); err != nil {
		return apperr.Wrap(apperr.Internal, "soft delete message", err)
	}
	if err := s.cache.Refresh(ctx, msg.RoomID, nil); err != nil {
		logging.Warn("hot cache invalidation failed", logging.String("roomId", msg.RoomID), logging.String("error", err.Error()))
	}
	if s.sink != nil {
		s.sink.EmitMessageDeleted(msg.RoomID, msg.ID)
	}
	if s.audit != nil {
		s.audit.LogMessageDeleted(ctx, msg.ID, msg.RoomID, userID)
	}
	return nil
}

// Get implements C9.get.
func (s *MessageService) Get(ctx context.Context, id, userID string) (*storepg.Message, error) {
	msg, err := s.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.rooms.GetMembership(ctx, msg.RoomID, userID); err != nil {
		return nil, apperr.New(apperr.Forbidden, "not a member of this room")
	}
	return msg, nil
}
