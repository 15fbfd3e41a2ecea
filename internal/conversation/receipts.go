// ABOUTME: Read-receipt tracking: monotonic per-participant read markers and unread counts
// ABOUTME: Unread excludes the reader's own messages and anything at or before the marker

package conversation

import (
	"context"
	"fmt"
	"time"
)

// MarkRead advances the user's read marker to now and returns the stored
// marker. The marker never moves backward.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string) (*ReadReceipt, error) {
	if err := s.AssertParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	at, err := s.store.MarkRead(ctx, conversationID, userID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("marking read: %w", err)
	}

	receipt := &ReadReceipt{
		ConversationID: conversationID,
		UserID:         userID,
		LastReadAt:     at,
	}
	if s.notifier != nil {
		s.notifier.ConversationRead(ctx, receipt)
	}
	return receipt, nil
}

// UnreadCount returns how many messages from other participants are newer
// than the user's read marker
func (s *Service) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	p, err := s.participant(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}
	return s.countUnread(ctx, conversationID, userID, p.LastReadAt)
}

// countUnread counts other participants' messages after lastReadAt, or after
// the epoch when the marker was never set
func (s *Service) countUnread(ctx context.Context, conversationID, userID string, lastReadAt *time.Time) (int, error) {
	since := time.Unix(0, 0).UTC()
	if lastReadAt != nil {
		since = *lastReadAt
	}
	n, err := s.store.CountUnread(ctx, conversationID, userID, since)
	if err != nil {
		return 0, fmt.Errorf("counting unread for %s: %w", conversationID, err)
	}
	return n, nil
}
