// ABOUTME: REST facade for chat: conversations, history, read markers and sends
// ABOUTME: Delegates to the same conversation service the live gateway uses

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/conversation"
)

// CreateConversationRequest is the JSON body for POST /api/chat/conversations
type CreateConversationRequest struct {
	ParticipantID string `json:"participantId"`
}

// SendMessageRequest is the JSON body for POST /api/chat/messages
type SendMessageRequest struct {
	ConversationID  string `json:"conversationId"`
	Content         string `json:"content"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

type conversationsResponse struct {
	Conversations []summaryView `json:"conversations"`
}

type unreadResponse struct {
	ConversationID string `json:"conversationId"`
	UnreadCount    int    `json:"unreadCount"`
}

type messagesResponse struct {
	ConversationID string        `json:"conversationId"`
	Messages       []messageView `json:"messages"`
}

// registerAPIRoutes mounts the REST facade behind the auth middleware
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	authed := auth.HTTPAuthMiddleware(g.verifier, g.logger)
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authed(h))
	}

	route("GET /api/chat/conversations", g.handleListConversations)
	route("POST /api/chat/conversations", g.handleCreateConversation)
	route("GET /api/chat/conversations/{id}", g.handleGetConversation)
	route("GET /api/chat/conversations/{id}/messages", g.handleListMessages)
	route("POST /api/chat/conversations/{id}/read", g.handleMarkRead)
	route("GET /api/chat/conversations/{id}/unread", g.handleUnreadCount)
	route("POST /api/chat/messages", g.handleSendMessage)
}

// decodeBody reads a bounded JSON body into v
func (g *Gateway) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, g.config.Gateway.MaxFrameBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body", errBadRequest)
	}
	return nil
}

func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustFromContext(r.Context()).UserID

	summaries, err := g.chat.ListConversations(r.Context(), userID)
	if err != nil {
		writeError(w, g.logger, r, err)
		return
	}

	resp := conversationsResponse{Conversations: make([]summaryView, 0, len(summaries))}
	for _, s := range summaries {
		resp.Conversations = append(resp.Conversations, toSummaryView(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustFromContext(r.Context()).UserID

	var req CreateConversationRequest
	if err := g.decodeBody(w, r, &req); err != nil {
		writeError(w, g.logger, r, err)
		return
	}

	conv, created, err := g.chat.CreateOrGetConversation(r.Context(), userID, req.ParticipantID)
	if err != nil {
		writeError(w, g.logger, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toConversationView(conv))
}

func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustFromContext(r.Context()).UserID

	conv, err := g.chat.GetConversation(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeError(w, g.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationView(conv))
}

// handleListMessages handles GET /api/chat/conversations/{id}/messages.
// A missing or non-numeric limit uses the default page size; values below 1
// become 1 and values above the maximum are clamped. before is an RFC 3339
// timestamp and must parse.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustFromContext(r.Context()).UserID
	conversationID := r.PathValue("id")
	query := r.URL.Query()

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = max(n, 1)
		}
	}

	var before *time.Time
	if raw := query.Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, g.logger, r, fmt.Errorf("%w: before must be an RFC 3339 timestamp", conversation.ErrInvalidInput))
			return
		}
		before = &t
	}

	msgs, err := g.chat.ListMessages(r.Context(), conversation.ListMessagesRequest{
		ConversationID: conversationID,
		RequesterID:    userID,
		Limit:          limit,
		Before:         before,
	})
	if err != nil {
		writeError(w, g.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messagesResponse{
		ConversationID: conversationID,
		Messages:       toMessageViews(msgs),
	})
}

func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustFromContext(r.Context()).UserID

	receipt, err := g.chat.MarkRead(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeError(w, g.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReadView(receipt))
}

func (g *Gateway) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustFromContext(r.Context()).UserID
	conversationID := r.PathValue("id")

	n, err := g.chat.UnreadCount(r.Context(), conversationID, userID)
	if err != nil {
		writeError(w, g.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unreadResponse{ConversationID: conversationID, UnreadCount: n})
}

func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustFromContext(r.Context()).UserID

	var req SendMessageRequest
	if err := g.decodeBody(w, r, &req); err != nil {
		writeError(w, g.logger, r, err)
		return
	}
	if req.ConversationID == "" {
		writeError(w, g.logger, r, fmt.Errorf("%w: conversationId is required", conversation.ErrInvalidInput))
		return
	}

	msg, err := g.chat.SendMessage(r.Context(), conversation.SendRequest{
		ConversationID:  req.ConversationID,
		SenderID:        userID,
		Content:         req.Content,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		writeError(w, g.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageView(msg))
}
