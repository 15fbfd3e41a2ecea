// ABOUTME: Message log operations: append with membership and content checks, paged history
// ABOUTME: A message is durable before it is announced; activity and fan-out never fail the send

package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/store"
)

// SendMessage appends a message to a conversation the sender belongs to.
// When ClientMessageID repeats within the dedupe window, the originally
// created message is returned and nothing is appended or announced.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (*Message, error) {
	if err := s.AssertParticipant(ctx, req.ConversationID, req.SenderID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: content must not be empty", ErrInvalidInput)
	}

	dedupeKey := ""
	if s.sent != nil && req.ClientMessageID != "" {
		dedupeKey = req.SenderID + "|" + req.ClientMessageID
		if prev, ok := s.sent.Get(dedupeKey); ok && prev.ConversationID == req.ConversationID {
			s.logger.Debug("duplicate send suppressed",
				"conversation_id", req.ConversationID,
				"client_message_id", req.ClientMessageID,
				"message_id", prev.ID)
			return prev, nil
		}
	}

	stored := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Content:        req.Content,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, stored); err != nil {
		return nil, fmt.Errorf("appending message: %w", err)
	}

	users, err := s.store.GetUsers(ctx, []string{req.SenderID})
	if err != nil {
		// the message is committed; fall back to a bare profile
		s.logger.Warn("failed to resolve sender profile", "error", err, "sender", req.SenderID)
		users = nil
	}
	msg := buildMessage(stored, users)

	if dedupeKey != "" {
		s.sent.Put(dedupeKey, msg)
	}

	s.logger.Debug("message appended",
		"conversation_id", msg.ConversationID,
		"message_id", msg.ID,
		"sender", req.SenderID)

	s.recordActivity(req.SenderID, store.EntityMessage, msg.ID, "sent a message",
		map[string]any{"conversationId": msg.ConversationID})
	if s.notifier != nil {
		s.notifier.MessageCreated(ctx, msg)
	}
	return msg, nil
}

// ListMessages returns up to Limit messages in ascending order. With Before
// set, only messages strictly older than it are considered, so repeated
// calls with the oldest returned timestamp walk back through the history.
func (s *Service) ListMessages(ctx context.Context, req ListMessagesRequest) ([]*Message, error) {
	if err := s.AssertParticipant(ctx, req.ConversationID, req.RequesterID); err != nil {
		return nil, err
	}

	stored, err := s.store.ListMessages(ctx, req.ConversationID, store.ListMessagesOptions{
		Limit:  s.clampLimit(req.Limit),
		Before: req.Before,
	})
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	senders := map[string]struct{}{}
	for _, m := range stored {
		senders[m.SenderID] = struct{}{}
	}
	users, err := s.store.GetUsers(ctx, keys(senders))
	if err != nil {
		return nil, fmt.Errorf("loading profiles: %w", err)
	}

	out := make([]*Message, 0, len(stored))
	for _, m := range stored {
		out = append(out, buildMessage(m, users))
	}
	return out, nil
}

func (s *Service) clampLimit(limit int) int {
	switch {
	case limit == 0:
		return s.defaultPageSize
	case limit < 1:
		return 1
	case limit > s.maxPageSize:
		return s.maxPageSize
	}
	return limit
}
