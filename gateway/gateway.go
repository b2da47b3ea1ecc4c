// Package gateway implements C11: the authenticated realtime socket
// surface. One Hub per process, one Client per connected socket,
// one channel per room — adapted from the teacher's hub/broadcast
// pattern (register/unregister/broadcast channels, a buffered
// per-client send channel, a read pump and a write pump goroutine
// per connection) to chat's per-room fan-out, presence, typing, and
// heartbeat semantics instead of market-tick throttling.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/epic1st/pulseroom/backend/auth"
	"github.com/epic1st/pulseroom/backend/broker"
	"github.com/epic1st/pulseroom/backend/chat"
	"github.com/epic1st/pulseroom/backend/logging"
	"github.com/epic1st/pulseroom/backend/presence"
	"github.com/epic1st/pulseroom/backend/ratelimit"
)

const (
	heartbeatInterval = 20 * time.Second
	typingAutoClear   = 3 * time.Second
	sendBufferSize    = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// roomMembership is the slice of storepg.RoomRepo the gateway depends
// on to auto-join a newly connected socket.
type roomMembership interface {
	UserRoomIDs(ctx context.Context, userID string) ([]string, error)
}

// tokenValidator is the slice of auth.Service the gateway depends on.
type tokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*auth.Claims, error)
}

// Event is the envelope for every client<->server socket frame.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client is one connected socket.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	userID string
	id     string

	mu    sync.Mutex
	rooms map[string]bool
}

func roomChannel(roomID string) string { return "room:" + roomID }

// Hub is C11's connection registry and per-room fan-out.
type Hub struct {
	auth     tokenValidator
	limiter  *ratelimit.Limiter
	denylist *auth.Denylist
	presence *presence.Registry
	rooms    roomMembership
	messages *chat.MessageService

	mu          sync.RWMutex
	clients     map[*Client]bool
	roomClients map[string]map[*Client]bool

	typingMu sync.Mutex
	typing   map[string]*time.Timer // "roomId:userId" -> auto-clear timer
}

// NewHub wires C11's collaborators.
func NewHub(authSvc tokenValidator, limiter *ratelimit.Limiter, denylist *auth.Denylist, reg *presence.Registry, rooms roomMembership, messages *chat.MessageService) *Hub {
	return &Hub{
		auth:        authSvc,
		limiter:     limiter,
		denylist:    denylist,
		presence:    reg,
		rooms:       rooms,
		messages:    messages,
		clients:     make(map[*Client]bool),
		roomClients: make(map[string]map[*Client]bool),
		typing:      make(map[string]*time.Timer),
	}
}

func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

// ServeHTTP implements the `/chat` handshake: rate-limit admit by IP,
// denylist check, token verification, then upgrade.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := r.RemoteAddr

	decision, err := h.limiter.Allow(ctx, "websocketIP", ip)
	if err == nil && !decision.Allowed {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	token := extractToken(r)
	if token == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if blacklisted, err := h.denylist.IsBlacklisted(ctx, token); err == nil && blacklisted {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	claims, err := h.auth.ValidateAccessToken(ctx, token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", logging.String("error", err.Error()))
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		userID: claims.ID,
		id:     claims.ID + ":" + ip,
		rooms:  make(map[string]bool),
	}
	h.onConnect(ctx, client)

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) onConnect(ctx context.Context, c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	if err := h.presence.SetOnline(ctx, c.userID, c.id); err != nil {
		logging.Warn("presence setOnline failed", logging.UserID(c.userID), logging.String("error", err.Error()))
	}

	roomIDs, err := h.rooms.UserRoomIDs(ctx, c.userID)
	if err != nil {
		logging.Warn("auto-join lookup failed", logging.UserID(c.userID), logging.String("error", err.Error()))
		roomIDs = nil
	}
	for _, roomID := range roomIDs {
		h.joinRoom(ctx, c, roomID)
	}

	go h.heartbeatLoop(ctx, c)
}

func (h *Hub) joinRoom(ctx context.Context, c *Client, roomID string) {
	h.mu.Lock()
	c.mu.Lock()
	c.rooms[roomID] = true
	c.mu.Unlock()
	if h.roomClients[roomID] == nil {
		h.roomClients[roomID] = make(map[*Client]bool)
	}
	h.roomClients[roomID][c] = true
	h.mu.Unlock()

	if err := h.presence.AddToRoom(ctx, c.userID, roomID); err != nil {
		logging.Warn("presence addToRoom failed", logging.RoomID(roomID), logging.String("error", err.Error()))
	}
	h.emitPresence(ctx, roomID, c.userID, true)
}

func (h *Hub) leaveRoom(ctx context.Context, c *Client, roomID string) {
	h.mu.Lock()
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
	if clients, ok := h.roomClients[roomID]; ok {
		delete(clients, c)
	}
	h.mu.Unlock()

	if err := h.presence.RemoveFromRoom(ctx, c.userID, roomID); err != nil {
		logging.Warn("presence removeFromRoom failed", logging.RoomID(roomID), logging.String("error", err.Error()))
	}
	h.emitPresence(ctx, roomID, c.userID, false)
}

// onDisconnect removes the client from h.clients (its heartbeat loop
// exits at the next tick), cleans up every presence index entry, and
// notifies each room the socket had joined.
func (h *Hub) onDisconnect(ctx context.Context, c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	c.mu.Lock()
	joined := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		joined = append(joined, roomID)
	}
	c.mu.Unlock()
	for _, roomID := range joined {
		if clients, ok := h.roomClients[roomID]; ok {
			delete(clients, c)
		}
	}
	h.mu.Unlock()

	if err := h.presence.CleanupUser(ctx, c.userID); err != nil {
		logging.Warn("presence cleanup failed", logging.UserID(c.userID), logging.String("error", err.Error()))
	}
	for _, roomID := range joined {
		h.emitPresence(ctx, roomID, c.userID, false)
	}
}

// heartbeatLoop runs until c is removed from h.clients. ctx is the
// handshake request's context, so only its values are kept.
func (h *Hub) heartbeatLoop(ctx context.Context, c *Client) {
	ctx = context.WithoutCancel(ctx)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		h.mu.RLock()
		_, live := h.clients[c]
		h.mu.RUnlock()
		if !live {
			return
		}
		if err := h.presence.SetOnline(ctx, c.userID, c.id); err != nil {
			return
		}
		h.sendEvent(c, "ping", nil)
	}
}

func (h *Hub) writePump(c *Client) {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
}

func (h *Hub) readPump(c *Client) {
	ctx := context.Background()
	defer func() {
		h.onDisconnect(ctx, c)
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			close(c.send)
		}
		h.mu.Unlock()
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		h.handleClientEvent(ctx, c, evt)
	}
}

type joinLeavePayload struct {
	RoomID string `json:"roomId"`
}

type typingPayload struct {
	RoomID    string `json:"roomId"`
	IsTyping  bool   `json:"isTyping"`
}

type sendMessagePayload struct {
	RoomID string `json:"roomId"`
	Body   string `json:"body"`
}

type readReceiptPayload struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
}

func (h *Hub) handleClientEvent(ctx context.Context, c *Client, evt Event) {
	switch evt.Type {
	case "join_room":
		var p joinLeavePayload
		if json.Unmarshal(evt.Data, &p) != nil || p.RoomID == "" {
			return
		}
		if !c.isMember(p.RoomID) && !h.isRoomMember(ctx, c.userID, p.RoomID) {
			return
		}
		h.joinRoom(ctx, c, p.RoomID)

	case "leave_room":
		var p joinLeavePayload
		if json.Unmarshal(evt.Data, &p) != nil || p.RoomID == "" {
			return
		}
		h.leaveRoom(ctx, c, p.RoomID)

	case "typing":
		var p typingPayload
		if json.Unmarshal(evt.Data, &p) != nil || p.RoomID == "" || !c.isMember(p.RoomID) {
			return
		}
		h.handleTyping(ctx, c.userID, p.RoomID, p.IsTyping)

	case "send_message":
		var p sendMessagePayload
		if json.Unmarshal(evt.Data, &p) != nil || p.RoomID == "" || !c.isMember(p.RoomID) {
			return
		}
		msg, err := h.messages.Send(ctx, p.RoomID, p.Body, c.userID, "")
		if err != nil {
			logging.Warn("send_message failed", logging.RoomID(p.RoomID), logging.String("error", err.Error()))
			return
		}
		h.broadcastToRoom(p.RoomID, "message_created", msg)

	case "read_receipt":
		var p readReceiptPayload
		if json.Unmarshal(evt.Data, &p) != nil || p.RoomID == "" || !c.isMember(p.RoomID) {
			return
		}
		messageID := p.MessageID
		if messageID == "" {
			messageID = "latest"
		}
		h.broadcastToRoom(p.RoomID, "read_receipt", map[string]interface{}{
			"userId":    c.userID,
			"roomId":    p.RoomID,
			"messageId": messageID,
			"readAt":    time.Now(),
		})

	case "pong":
		// Heartbeat acknowledgement; presence lastSeen is refreshed on
		// the next heartbeat tick regardless, so there is nothing more
		// to do here.
	}
}

func (c *Client) isMember(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[roomID]
}

func (h *Hub) isRoomMember(ctx context.Context, userID, roomID string) bool {
	rooms, err := h.rooms.UserRoomIDs(ctx, userID)
	if err != nil {
		return false
	}
	for _, r := range rooms {
		if r == roomID {
			return true
		}
	}
	return false
}

func (h *Hub) handleTyping(ctx context.Context, userID, roomID string, isTyping bool) {
	h.broadcastToRoom(roomID, "typing", map[string]interface{}{
		"userId":   userID,
		"roomId":   roomID,
		"isTyping": isTyping,
	})

	key := roomID + ":" + userID
	h.typingMu.Lock()
	if existing, ok := h.typing[key]; ok {
		existing.Stop()
		delete(h.typing, key)
	}
	if isTyping {
		h.typing[key] = time.AfterFunc(typingAutoClear, func() {
			h.typingMu.Lock()
			delete(h.typing, key)
			h.typingMu.Unlock()
			h.broadcastToRoom(roomID, "typing", map[string]interface{}{
				"userId":   userID,
				"roomId":   roomID,
				"isTyping": false,
			})
		})
	}
	h.typingMu.Unlock()
}

func (h *Hub) emitPresence(ctx context.Context, roomID, userID string, online bool) {
	h.broadcastToRoom(roomID, "presence", map[string]interface{}{
		"userId": userID,
		"online": online,
	})
}

// EmitMessageUpdated implements pipeline.FanoutSink: the moderated
// stage calls this directly once a message's moderation verdict is
// persisted, avoiding a gateway<->pipeline import cycle.
func (h *Hub) EmitMessageUpdated(roomID string, message broker.PersistedMessage) {
	h.broadcastToRoom(roomID, "message_updated", message)
}

// EmitMessageDeleted notifies roomID's co-resident clients that a
// message was soft-deleted, so they can remove it from view without
// waiting on their next history fetch.
func (h *Hub) EmitMessageDeleted(roomID, messageID string) {
	h.broadcastToRoom(roomID, "message_deleted", map[string]interface{}{
		"roomId":    roomID,
		"messageId": messageID,
	})
}

func (h *Hub) sendEvent(c *Client, eventType string, data interface{}) {
	payload, err := json.Marshal(Event{Type: eventType, Data: marshalOrNil(data)})
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
		// Buffer full; drop rather than block the hub on a slow reader.
	}
}

func marshalOrNil(data interface{}) json.RawMessage {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return raw
}

// broadcastToRoom sends eventType/data to every socket currently
// joined to roomID's channel. Broadcasts go through the channel's
// client set, never through a full iteration of every connected
// socket.
func (h *Hub) broadcastToRoom(roomID, eventType string, data interface{}) {
	payload, err := json.Marshal(Event{Type: eventType, Data: marshalOrNil(data)})
	if err != nil {
		return
	}

	h.mu.RLock()
	clients := h.roomClients[roomID]
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- payload:
		default:
			// Slow consumer; drop this broadcast rather than block the room.
		}
	}
}
