// ABOUTME: SQLite persistence for conversations and their participants
// ABOUTME: Pair uniqueness, atomic creation and monotonic read markers live here

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateConversation inserts the conversation and its participants in one
// transaction. A concurrent creator for the same pair loses with
// ErrDuplicateConversation and nothing it wrote is visible.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, pair_key, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, conv.ID, conv.PairKey, formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	for _, p := range conv.Participants {
		p.ConversationID = conv.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO participants (conversation_id, user_id, last_read_at, joined_at)
			VALUES (?, ?, ?, ?)
		`, p.ConversationID, p.UserID, nullableTime(p.LastReadAt), formatTime(p.JoinedAt))
		if err != nil {
			return fmt.Errorf("inserting participant %s: %w", p.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "participants", len(conv.Participants))
	return nil
}

// GetConversation retrieves a conversation with its participants.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pair_key, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`, id)
	return s.loadConversation(ctx, row)
}

// GetConversationByPair retrieves the conversation for a canonical pair key.
// Returns ErrNotFound if the pair has never conversed.
func (s *SQLiteStore) GetConversationByPair(ctx context.Context, pairKey string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pair_key, created_at, updated_at
		FROM conversations
		WHERE pair_key = ?
	`, pairKey)
	return s.loadConversation(ctx, row)
}

func (s *SQLiteStore) loadConversation(ctx context.Context, row *sql.Row) (*Conversation, error) {
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.Participants, err = s.listParticipants(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversationsForUser returns every conversation userID participates in,
// each with its participants, newest update first.
func (s *SQLiteStore) ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.pair_key, c.created_at, c.updated_at
		FROM conversations c
		INNER JOIN participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.updated_at DESC, c.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	rows.Close()

	// Participants are loaded after the cursor is released; an in-memory
	// database has a single connection.
	for _, conv := range convs {
		conv.Participants, err = s.listParticipants(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
	}
	return convs, nil
}

// ListConversationIDsForUser returns only the conversation IDs for userID
func (s *SQLiteStore) ListConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id FROM participants WHERE user_id = ? ORDER BY conversation_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversation ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetParticipant returns the membership record for (conversationID, userID).
// Returns ErrNotFound if userID is not a participant.
func (s *SQLiteStore) GetParticipant(ctx context.Context, conversationID, userID string) (*Participant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, user_id, last_read_at, joined_at
		FROM participants
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID)

	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying participant: %w", err)
	}
	return p, nil
}

// MarkRead moves the read marker to max(stored, at, latest message time)
// and returns the stored value.
func (s *SQLiteStore) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) (time.Time, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	var latest sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT MAX(created_at) FROM messages WHERE conversation_id = ?
	`, conversationID).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("querying latest message: %w", err)
	}

	target := formatTime(at)
	if latest.Valid && latest.String > target {
		target = latest.String
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE participants
		SET last_read_at = CASE
			WHEN last_read_at IS NULL OR last_read_at < ? THEN ?
			ELSE last_read_at
		END
		WHERE conversation_id = ? AND user_id = ?
	`, target, target, conversationID, userID)
	if err != nil {
		return time.Time{}, fmt.Errorf("updating read marker: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return time.Time{}, fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return time.Time{}, ErrNotFound
	}

	var stored string
	err = tx.QueryRowContext(ctx, `
		SELECT last_read_at FROM participants WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID).Scan(&stored)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading read marker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, fmt.Errorf("committing read marker: %w", err)
	}
	return parseTime(stored)
}

func (s *SQLiteStore) listParticipants(ctx context.Context, conversationID string) ([]*Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, user_id, last_read_at, joined_at
		FROM participants
		WHERE conversation_id = ?
		ORDER BY joined_at, user_id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	var participants []*Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*Conversation, error) {
	var conv Conversation
	var createdAt, updatedAt string
	if err := row.Scan(&conv.ID, &conv.PairKey, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if conv.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &conv, nil
}

func scanParticipant(row scanner) (*Participant, error) {
	var p Participant
	var lastRead sql.NullString
	var joinedAt string
	if err := row.Scan(&p.ConversationID, &p.UserID, &lastRead, &joinedAt); err != nil {
		return nil, err
	}

	var err error
	if p.JoinedAt, err = parseTime(joinedAt); err != nil {
		return nil, err
	}
	if lastRead.Valid {
		t, err := parseTime(lastRead.String)
		if err != nil {
			return nil, err
		}
		p.LastReadAt = &t
	}
	return &p, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
