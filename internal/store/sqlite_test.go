// ABOUTME: Tests for SQLite store setup and shared helpers
// ABOUTME: Covers schema creation, in-memory mode and timestamp encoding

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a new SQLite store in a temporary directory for testing
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedConversation creates a conversation between a and b
func seedConversation(t *testing.T, s Store, a, b string) *Conversation {
	t.Helper()

	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.New().String(),
		PairKey:   PairKey(a, b),
		CreatedAt: now,
		UpdatedAt: now,
		Participants: []*Participant{
			{UserID: a, JoinedAt: now},
			{UserID: b, JoinedAt: now},
		},
	}
	require.NoError(t, s.CreateConversation(context.Background(), conv))
	return conv
}

func TestNewSQLiteStore_CreatesSchema(t *testing.T) {
	s := newTestStore(t)

	for _, table := range []string{"users", "conversations", "participants", "messages", "activity_logs"} {
		var name string
		err := s.DB().QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}

	for _, index := range []string{"idx_conversations_pair", "idx_participants_user", "idx_messages_conversation_created"} {
		var name string
		err := s.DB().QueryRow(`SELECT name FROM sqlite_master WHERE type = 'index' AND name = ?`, index).Scan(&name)
		require.NoError(t, err, "index %s should exist", index)
	}
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "chat.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	conv := seedConversation(t, s, "u1", "u2")
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.PairKey, got.PairKey)
}

func TestNewSQLiteStore_RekeysLegacyPairs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chat.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	conv := seedConversation(t, s, "u2", "u1")
	_, err = s.DB().Exec(`UPDATE conversations SET pair_key = ? WHERE id = ?`, "u1|u2", conv.ID)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetConversationByPair(context.Background(), PairKey("u1", "u2"))
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	conv := seedConversation(t, s, "u1", "u2")
	convs, err := s.ListConversationsForUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, conv.ID, convs[0].ID)
	assert.Len(t, convs[0].Participants, 2)
}

func TestTimeEncodingIsOrdered(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	earlier := formatTime(base)
	later := formatTime(base.Add(time.Nanosecond))
	assert.Less(t, earlier, later)
	assert.Len(t, earlier, len(later))

	parsed, err := parseTime(later)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(base.Add(time.Nanosecond)))
}

func TestPairKey_OrderIndependent(t *testing.T) {
	assert.Equal(t, PairKey("a", "b"), PairKey("b", "a"))
	assert.NotEqual(t, PairKey("a", "b"), PairKey("a", "c"))
}

func TestPairKey_SeparatorInIDs(t *testing.T) {
	pairs := [][2]string{
		{"a|b", "c"},
		{"a", "b|c"},
		{"1:a", "b"},
		{"1:a|b", ""},
		{"a:", "|b"},
	}
	seen := make(map[string][2]string)
	for _, p := range pairs {
		key := PairKey(p[0], p[1])
		if prev, ok := seen[key]; ok {
			t.Fatalf("pairs %v and %v share key %q", prev, p, key)
		}
		seen[key] = p
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
