// ABOUTME: Fans committed chat changes out to live connections
// ABOUTME: Implements conversation.Notifier on top of the room registry

package gateway

import (
	"context"
	"log/slog"

	"github.com/2389/coven-chat/internal/conversation"
)

type originKey struct{}

// withOrigin tags ctx with the live connection that issued a command
func withOrigin(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, originKey{}, connID)
}

func originFrom(ctx context.Context) string {
	id, _ := ctx.Value(originKey{}).(string)
	return id
}

// Hub delivers chat events to the rooms of a Registry
type Hub struct {
	rooms  *Registry
	logger *slog.Logger
}

var _ conversation.Notifier = (*Hub)(nil)

// NewHub creates a hub over rooms
func NewHub(rooms *Registry, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{rooms: rooms, logger: logger.With("component", "hub")}
}

// ConversationCreated joins every live connection of both participants to
// the new room and tells them about it.
func (h *Hub) ConversationCreated(_ context.Context, conv *conversation.ConversationDetail) {
	frame := eventFrame(EventConversationNew, toConversationView(conv))
	for _, userID := range conv.ParticipantIDs() {
		for _, c := range h.rooms.JoinUser(userID, conv.ID) {
			_ = c.Send(frame)
		}
	}
}

// MessageCreated sends message:new to every connection in the room,
// including the sender's own.
func (h *Hub) MessageCreated(_ context.Context, msg *conversation.Message) {
	n := h.rooms.Broadcast(msg.ConversationID, eventFrame(EventMessageNew, toMessageView(msg)), "")
	h.logger.Debug("message broadcast", "conversation_id", msg.ConversationID, "message_id", msg.ID, "delivered", n)
}

// ConversationRead sends conversation:read to the room, skipping the
// connection that marked it read.
func (h *Hub) ConversationRead(ctx context.Context, receipt *conversation.ReadReceipt) {
	h.rooms.Broadcast(receipt.ConversationID, eventFrame(EventRead, toReadView(receipt)), originFrom(ctx))
}

// Typing relays a typing indicator to the room, skipping the origin connection
func (h *Hub) Typing(conversationID, userID string, isTyping bool, originConnID string) int {
	return h.rooms.Broadcast(conversationID, eventFrame(EventTyping, typingView{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
	}), originConnID)
}
