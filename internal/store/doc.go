// Package store provides persistent storage for coven-chat using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with a few
// specialized interfaces:
//
//   - ConversationStore: conversations, participants, messages, read markers
//   - UserStore: the local user directory replica (existence and profiles)
//   - ActivityStore: the activity log written by the async dispatcher
//
// Store composes all three. SQLiteStore implements it in a single struct;
// MockStore is an in-memory implementation for service tests.
//
// # Data Models
//
//   - Conversation: two-party thread, deduplicated by PairKey
//   - Participant: (conversation, user) membership with a last-read marker
//   - Message: immutable text message with a store-assigned Seq
//   - User: profile used to resolve sender identity
//   - ActivityEntry: user action record with JSON metadata
//
// # Ordering
//
// Timestamps are stored as fixed-width UTC TEXT with nanosecond precision so
// that string comparison is chronological. AppendMessage keeps created_at
// strictly increasing within a conversation, and Seq breaks any remaining
// ties. ListMessages fetches newest-first with an optional "before" cursor
// and reverses the page before returning it.
//
// # Concurrency
//
// Pair uniqueness is enforced by a UNIQUE index on conversations.pair_key;
// CreateConversation inserts the conversation and both participants in one
// transaction and reports ErrDuplicateConversation when it loses a race.
// Write transactions begin IMMEDIATE and wait on busy_timeout.
//
// Read markers are monotonic: MarkRead only ever moves last_read_at forward.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/path/to/chat.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	conv := &store.Conversation{ID: id, PairKey: store.PairKey(a, b), ...}
//	err = s.CreateConversation(ctx, conv)
package store
