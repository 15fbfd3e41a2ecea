// ABOUTME: Activity log entity and store methods for recording user actions
// ABOUTME: Records who did what to which chat entity, with free-form JSON metadata

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntityType names the kind of entity an activity refers to
type EntityType string

const (
	EntityMessage      EntityType = "message"
	EntityConversation EntityType = "conversation"
)

// ActivityAction names what was done to the entity
type ActivityAction string

const (
	ActionCreate ActivityAction = "create"
	ActionView   ActivityAction = "view"
	ActionUpdate ActivityAction = "update"
	ActionDelete ActivityAction = "delete"
)

// ActivityEntry is a single activity log record
type ActivityEntry struct {
	ID          string
	UserID      string
	EntityType  EntityType
	EntityID    string
	Action      ActivityAction
	Description string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// ActivityFilter narrows ListActivity results
type ActivityFilter struct {
	UserID     string
	EntityType EntityType
	EntityID   string
	Limit      int // default 100, max 1000
}

// RecordActivity appends an entry to the activity log.
// Generates ID and CreatedAt if not set.
func (s *SQLiteStore) RecordActivity(ctx context.Context, e *ActivityEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	metadata := []byte("{}")
	if len(e.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling activity metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_logs (id, user_id, entity_type, entity_id, action, description, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.UserID, string(e.EntityType), e.EntityID, string(e.Action), e.Description, string(metadata), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting activity: %w", err)
	}
	return nil
}

// ListActivity returns matching entries, newest first
func (s *SQLiteStore) ListActivity(ctx context.Context, filter ActivityFilter) ([]*ActivityEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, user_id, entity_type, entity_id, action, description, metadata, created_at
		FROM activity_logs
		WHERE 1=1`
	var args []any
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.EntityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, string(filter.EntityType))
	}
	if filter.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, filter.EntityID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying activity: %w", err)
	}
	defer rows.Close()

	var entries []*ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		var entityType, action, metadata, createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &entityType, &e.EntityID, &action, &e.Description, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		e.EntityType = EntityType(entityType)
		e.Action = ActivityAction(action)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling activity metadata: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
