// Package api is the HTTP/REST surface (prefix /api): thin handlers
// translating JSON requests into calls against auth.Service,
// chat.MessageService, and chat.MembershipService, and apperr.Error
// values into their canonical status codes — adapted from the
// teacher's plain net/http handler methods (JSON decode/encode,
// http.Error on failure, manual CORS headers) onto the chat domain.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/epic1st/pulseroom/backend/auth"
	"github.com/epic1st/pulseroom/backend/chat"
	"github.com/epic1st/pulseroom/backend/internal/apperr"
	"github.com/epic1st/pulseroom/backend/logging"
)

// Server holds the service layer every handler delegates to.
type Server struct {
	auth       *auth.Service
	messages   *chat.MessageService
	membership *chat.MembershipService
	corsOrigins []string
}

// NewServer wires the HTTP layer's collaborators.
func NewServer(authSvc *auth.Service, messages *chat.MessageService, membership *chat.MembershipService, corsOrigins []string) *Server {
	return &Server{auth: authSvc, messages: messages, membership: membership, corsOrigins: corsOrigins}
}

// Routes builds the /api mux per §6's endpoint table. Room/user admin
// CRUD (GET/PATCH /users/:id, activate/deactivate) is out of scope per
// the Non-goals around admin tooling and is not registered here.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", s.withCORS(s.handleRegister))
	mux.HandleFunc("POST /api/auth/login", s.withCORS(s.handleLogin))
	mux.HandleFunc("POST /api/auth/refresh", s.withCORS(s.handleRefresh))
	mux.HandleFunc("POST /api/auth/logout", s.withCORS(s.requireAuth(s.handleLogout)))
	mux.HandleFunc("GET /api/auth/profile", s.withCORS(s.requireAuth(s.handleProfile)))

	mux.HandleFunc("POST /api/rooms", s.withCORS(s.requireAuth(s.handleCreateRoom)))
	mux.HandleFunc("POST /api/rooms/{roomId}/members", s.withCORS(s.requireAuth(s.handleAddMember)))
	mux.HandleFunc("DELETE /api/rooms/{roomId}/members/{userId}", s.withCORS(s.requireAuth(s.handleRemoveMember)))
	mux.HandleFunc("PATCH /api/rooms/{roomId}/members/{userId}/role", s.withCORS(s.requireAuth(s.handleUpdateMemberRole)))

	mux.HandleFunc("POST /api/rooms/{roomId}/messages", s.withCORS(s.requireAuth(s.handleSendMessage)))
	mux.HandleFunc("GET /api/rooms/{roomId}/messages", s.withCORS(s.requireAuth(s.handleListMessages)))
	mux.HandleFunc("GET /api/messages/{id}", s.withCORS(s.requireAuth(s.handleGetMessage)))
	mux.HandleFunc("PATCH /api/messages/{id}", s.withCORS(s.requireAuth(s.handleUpdateMessage)))
	mux.HandleFunc("DELETE /api/messages/{id}", s.withCORS(s.requireAuth(s.handleDeleteMessage)))

	recovered := logging.PanicRecoveryMiddleware(logging.Default())(mux)
	return logging.HTTPLoggingMiddleware(logging.Default())(recovered)
}

func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowed := range s.corsOrigins {
			if allowed == "*" || allowed == origin {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				break
			}
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

type userKey struct{}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, apperr.New(apperr.AuthMissing, "missing bearer token"))
			return
		}
		claims, err := s.auth.ValidateAccessToken(r.Context(), token)
		if err != nil {
			writeError(w, apperr.Wrap(apperr.AuthInvalid, "invalid access token", err))
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, claims)
		next(w, r.WithContext(ctx))
	}
}

func userFromContext(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(userKey{}).(*auth.Claims)
	return claims
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	parts := strings.SplitN(h, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := kind.HTTPStatus()
	if status == http.StatusTooManyRequests {
		if e, ok := err.(*apperr.Error); ok && e.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeError(w, apperr.Wrap(apperr.ValidationFailure, "invalid request body", err))
		return false
	}
	return true
}

// --- auth ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	tokens, user, err := s.auth.Register(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"accessToken": tokens.AccessToken, "refreshToken": tokens.RefreshToken, "user": user,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	tokens, user, err := s.auth.Login(r.Context(), req.Email, req.Password, r.RemoteAddr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accessToken": tokens.AccessToken, "refreshToken": tokens.RefreshToken, "user": user,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	tokens, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"accessToken": tokens.AccessToken, "refreshToken": tokens.RefreshToken,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	claims := userFromContext(r)
	writeJSON(w, http.StatusOK, map[string]string{"id": claims.ID, "email": claims.Email, "role": claims.Role})
}

// --- rooms / membership ---

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	claims := userFromContext(r)
	var req chat.CreateRoomInput
	if !decodeJSON(w, r, &req) {
		return
	}
	room, err := s.membership.Create(r.Context(), req, claims.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	claims := userFromContext(r)
	var req struct {
		UserID string `json:"userId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.membership.AddMember(r.Context(), r.PathValue("roomId"), claims.ID, req.UserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	claims := userFromContext(r)
	if err := s.membership.RemoveMember(r.Context(), r.PathValue("roomId"), claims.ID, r.PathValue("userId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	claims := userFromContext(r)
	var req struct {
		Role string `json:"role"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.membership.UpdateMemberRole(r.Context(), r.PathValue("roomId"), claims.ID, r.PathValue("userId"), req.Role); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- messages ---

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims := userFromContext(r)
	var req struct {
		Body string `json:"body"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := s.messages.Send(r.Context(), r.PathValue("roomId"), req.Body, claims.ID, r.RemoteAddr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	claims := userFromContext(r)
	page := atoiDefault(r.URL.Query().Get("page"), 1)
	limit := atoiDefault(r.URL.Query().Get("limit"), 20)

	var cursor *time.Time
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			cursor = &t
		}
	}

	page2, err := s.messages.List(r.Context(), r.PathValue("roomId"), page, limit, cursor, claims.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page2)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	claims := userFromContext(r)
	msg, err := s.messages.Get(r.Context(), r.PathValue("id"), claims.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	claims := userFromContext(r)
	var req struct {
		Body string `json:"body"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := s.messages.Update(r.Context(), r.PathValue("id"), req.Body, claims.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	claims := userFromContext(r)
	if err := s.messages.Delete(r.Context(), r.PathValue("id"), claims.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
