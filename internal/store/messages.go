// ABOUTME: SQLite persistence for the append-only message log
// ABOUTME: Keeps per-conversation timestamps strictly increasing and supports cursor pagination

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AppendMessage stores a message. If CreatedAt is not after the previous
// message in the conversation it is moved to one nanosecond past it, so a
// timestamp identifies a single position in the log.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	var last sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT MAX(created_at) FROM messages WHERE conversation_id = ?
	`, msg.ConversationID).Scan(&last)
	if err != nil {
		return fmt.Errorf("querying latest message: %w", err)
	}

	msg.CreatedAt = msg.CreatedAt.UTC().Truncate(time.Nanosecond)
	if last.Valid {
		prev, err := parseTime(last.String)
		if err != nil {
			return err
		}
		if !msg.CreatedAt.After(prev) {
			msg.CreatedAt = prev.Add(time.Nanosecond)
		}
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Content, formatTime(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	if msg.Seq, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("reading message seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ? AND updated_at < ?
	`, formatTime(msg.CreatedAt), msg.ConversationID, formatTime(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}
	return nil
}

// ListMessages fetches the newest Limit messages (older than Before when set)
// and returns them oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, opts ListMessagesOptions) ([]*Message, error) {
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", opts.Limit)
	}

	query := `
		SELECT seq, id, conversation_id, sender_id, content, created_at
		FROM messages
		WHERE conversation_id = ?`
	args := []any{conversationID}
	if opts.Before != nil {
		query += ` AND created_at < ?`
		args = append(args, formatTime(*opts.Before))
	}
	query += ` ORDER BY created_at DESC, seq DESC LIMIT ?`
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// LatestMessage returns the most recent message in a conversation.
// Returns ErrNotFound if the conversation has no messages.
func (s *SQLiteStore) LatestMessage(ctx context.Context, conversationID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, id, conversation_id, sender_id, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`, conversationID)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest message: %w", err)
	}
	return msg, nil
}

// CountUnread counts messages newer than since that userID did not send
func (s *SQLiteStore) CountUnread(ctx context.Context, conversationID, userID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = ? AND created_at > ? AND sender_id != ?
	`, conversationID, formatTime(since), userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return count, nil
}

func scanMessage(row scanner) (*Message, error) {
	var msg Message
	var createdAt string
	if err := row.Scan(&msg.Seq, &msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if msg.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &msg, nil
}
