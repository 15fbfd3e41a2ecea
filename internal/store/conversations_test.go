// ABOUTME: Tests for conversation and participant persistence
// ABOUTME: Covers pair uniqueness, atomic creation, listing and read markers

package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateConversation_Get(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := seedConversation(t, s, "u1", "u2")

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	require.Len(t, got.Participants, 2)
	users := []string{got.Participants[0].UserID, got.Participants[1].UserID}
	assert.ElementsMatch(t, []string{"u1", "u2"}, users)
	for _, p := range got.Participants {
		assert.Nil(t, p.LastReadAt)
		assert.Equal(t, conv.ID, p.ConversationID)
	}

	byPair, err := s.GetConversationByPair(ctx, PairKey("u2", "u1"))
	require.NoError(t, err)
	assert.Equal(t, conv.ID, byPair.ID)
}

func TestGetConversation_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetConversationByPair(ctx, PairKey("x", "y"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateConversation_DuplicatePair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedConversation(t, s, "u1", "u2")

	now := time.Now().UTC()
	dup := &Conversation{
		ID:        uuid.New().String(),
		PairKey:   PairKey("u2", "u1"),
		CreatedAt: now,
		UpdatedAt: now,
		Participants: []*Participant{
			{UserID: "u2", JoinedAt: now},
			{UserID: "u1", JoinedAt: now},
		},
	}
	err := s.CreateConversation(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateConversation)

	// the losing conversation left nothing behind
	_, err = s.GetConversation(ctx, dup.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetParticipant(ctx, dup.ID, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateConversation_RollsBackOnParticipantFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.New().String(),
		PairKey:   PairKey("u1", "u2"),
		CreatedAt: now,
		UpdatedAt: now,
		Participants: []*Participant{
			{UserID: "u1", JoinedAt: now},
			{UserID: "u1", JoinedAt: now}, // violates the participant primary key
		},
	}
	require.Error(t, s.CreateConversation(ctx, conv))

	_, err := s.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetConversationByPair(ctx, conv.PairKey)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateConversation_ConcurrentSamePair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			now := time.Now().UTC()
			a, b := "u1", "u2"
			if i%2 == 1 {
				a, b = b, a
			}
			results[i] = s.CreateConversation(ctx, &Conversation{
				ID:        uuid.New().String(),
				PairKey:   PairKey(a, b),
				CreatedAt: now,
				UpdatedAt: now,
				Participants: []*Participant{
					{UserID: a, JoinedAt: now},
					{UserID: b, JoinedAt: now},
				},
			})
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range results {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrDuplicateConversation):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, created)

	convs, err := s.ListConversationsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestListConversationsForUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c12 := seedConversation(t, s, "u1", "u2")
	c13 := seedConversation(t, s, "u1", "u3")
	seedConversation(t, s, "u2", "u3")

	convs, err := s.ListConversationsForUser(ctx, "u1")
	require.NoError(t, err)
	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
		assert.Len(t, c.Participants, 2)
	}
	assert.ElementsMatch(t, []string{c12.ID, c13.ID}, ids)

	idsOnly, err := s.ListConversationIDsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{c12.ID, c13.ID}, idsOnly)

	none, err := s.ListConversationsForUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetParticipant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := seedConversation(t, s, "u1", "u2")

	p, err := s.GetParticipant(ctx, conv.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)

	_, err = s.GetParticipant(ctx, conv.ID, "u3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkRead_Monotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := seedConversation(t, s, "u1", "u2")
	later := time.Now().UTC().Add(time.Hour)
	earlier := later.Add(-30 * time.Minute)

	got, err := s.MarkRead(ctx, conv.ID, "u2", later)
	require.NoError(t, err)
	assert.True(t, got.Equal(later))

	got, err = s.MarkRead(ctx, conv.ID, "u2", earlier)
	require.NoError(t, err)
	assert.True(t, got.Equal(later), "read marker must not move backward")

	p, err := s.GetParticipant(ctx, conv.ID, "u2")
	require.NoError(t, err)
	require.NotNil(t, p.LastReadAt)
	assert.True(t, p.LastReadAt.Equal(later))

	// the other participant is untouched
	other, err := s.GetParticipant(ctx, conv.ID, "u1")
	require.NoError(t, err)
	assert.Nil(t, other.LastReadAt)
}

func TestMarkRead_CoversLatestMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := seedConversation(t, s, "u1", "u2")
	future := time.Now().UTC().Add(time.Minute)
	msg := &Message{ID: uuid.New().String(), ConversationID: conv.ID, SenderID: "u1", Content: "hi", CreatedAt: future}
	require.NoError(t, s.AppendMessage(ctx, msg))

	got, err := s.MarkRead(ctx, conv.ID, "u2", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, got.Before(msg.CreatedAt))

	unread, err := s.CountUnread(ctx, conv.ID, "u2", got)
	require.NoError(t, err)
	assert.Equal(t, 0, unread)
}

func TestMarkRead_NotParticipant(t *testing.T) {
	s := newTestStore(t)
	conv := seedConversation(t, s, "u1", "u2")

	_, err := s.MarkRead(context.Background(), conv.ID, "u3", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}
