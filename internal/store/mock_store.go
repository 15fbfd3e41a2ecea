// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while keeping the same ordering rules

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
// Set the *Err fields to force failures from the matching methods.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	pairIndex     map[string]string        // pair key -> conversation ID
	participants  map[string]*Participant  // keyed by "conversationID:userID"
	messages      map[string][]*Message    // keyed by conversation ID, ascending
	users         map[string]*User
	activity      []*ActivityEntry
	seq           int64

	ActivityErr error
	ListErr     error
	AppendErr   error
	CreateHook  func() // runs before a conversation is inserted
}

// Compile-time interface check
var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		pairIndex:     make(map[string]string),
		participants:  make(map[string]*Participant),
		messages:      make(map[string][]*Message),
		users:         make(map[string]*User),
	}
}

func participantKey(conversationID, userID string) string {
	return conversationID + ":" + userID
}

// CreateConversation stores a conversation and its participants.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if m.CreateHook != nil {
		m.CreateHook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pairIndex[conv.PairKey]; exists {
		return ErrDuplicateConversation
	}

	c := *conv
	c.Participants = nil
	m.conversations[c.ID] = &c
	m.pairIndex[c.PairKey] = c.ID

	for _, p := range conv.Participants {
		p.ConversationID = conv.ID
		cp := *p
		m.participants[participantKey(cp.ConversationID, cp.UserID)] = &cp
	}
	return nil
}

// GetConversation retrieves a conversation with participants.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyConversationLocked(id)
}

// GetConversationByPair retrieves a conversation by pair key.
func (m *MockStore) GetConversationByPair(ctx context.Context, pairKey string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.pairIndex[pairKey]
	if !ok {
		return nil, ErrNotFound
	}
	return m.copyConversationLocked(id)
}

// ListConversationsForUser lists a user's conversations, newest update first.
func (m *MockStore) ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Conversation
	for id := range m.conversations {
		if _, ok := m.participants[participantKey(id, userID)]; !ok {
			continue
		}
		conv, err := m.copyConversationLocked(id)
		if err != nil {
			return nil, err
		}
		result = append(result, conv)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// ListConversationIDsForUser lists a user's conversation IDs.
func (m *MockStore) ListConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id := range m.conversations {
		if _, ok := m.participants[participantKey(id, userID)]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// GetParticipant retrieves a membership record.
func (m *MockStore) GetParticipant(ctx context.Context, conversationID, userID string) (*Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.participants[participantKey(conversationID, userID)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyParticipant(p), nil
}

// MarkRead advances the read marker without moving it backward.
func (m *MockStore) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[participantKey(conversationID, userID)]
	if !ok {
		return time.Time{}, ErrNotFound
	}

	target := at.UTC()
	if msgs := m.messages[conversationID]; len(msgs) > 0 {
		if latest := msgs[len(msgs)-1].CreatedAt; latest.After(target) {
			target = latest
		}
	}
	if p.LastReadAt == nil || p.LastReadAt.Before(target) {
		p.LastReadAt = &target
	}
	return *p.LastReadAt, nil
}

// AppendMessage stores a message with a strictly increasing timestamp.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	if m.AppendErr != nil {
		return m.AppendErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}

	msg.CreatedAt = msg.CreatedAt.UTC()
	msgs := m.messages[msg.ConversationID]
	if len(msgs) > 0 {
		if prev := msgs[len(msgs)-1].CreatedAt; !msg.CreatedAt.After(prev) {
			msg.CreatedAt = prev.Add(time.Nanosecond)
		}
	}
	m.seq++
	msg.Seq = m.seq

	cp := *msg
	m.messages[msg.ConversationID] = append(msgs, &cp)
	if conv.UpdatedAt.Before(msg.CreatedAt) {
		conv.UpdatedAt = msg.CreatedAt
	}
	return nil
}

// ListMessages returns up to Limit messages older than Before, oldest first.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, opts ListMessagesOptions) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	end := len(msgs)
	if opts.Before != nil {
		end = sort.Search(len(msgs), func(i int) bool {
			return !msgs[i].CreatedAt.Before(*opts.Before)
		})
	}
	start := end - opts.Limit
	if start < 0 {
		start = 0
	}

	result := make([]*Message, 0, end-start)
	for _, msg := range msgs[start:end] {
		cp := *msg
		result = append(result, &cp)
	}
	return result, nil
}

// LatestMessage returns the newest message in a conversation.
func (m *MockStore) LatestMessage(ctx context.Context, conversationID string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	cp := *msgs[len(msgs)-1]
	return &cp, nil
}

// CountUnread counts messages after since not sent by userID.
func (m *MockStore) CountUnread(ctx context.Context, conversationID, userID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, msg := range m.messages[conversationID] {
		if msg.CreatedAt.After(since) && msg.SenderID != userID {
			count++
		}
	}
	return count, nil
}

// UpsertUser stores a user.
func (m *MockStore) UpsertUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := *user
	m.users[u.ID] = &u
	return nil
}

// GetUser retrieves a user.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// UsersExist returns the subset of ids that exist.
func (m *MockStore) UsersExist(ctx context.Context, ids []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var existing []string
	for _, id := range ids {
		if _, ok := m.users[id]; ok && !seen[id] {
			existing = append(existing, id)
			seen[id] = true
		}
	}
	return existing, nil
}

// GetUsers returns known users keyed by ID.
func (m *MockStore) GetUsers(ctx context.Context, ids []string) (map[string]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*User, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			cp := *u
			result[id] = &cp
		}
	}
	return result, nil
}

// RecordActivity appends an activity entry.
func (m *MockStore) RecordActivity(ctx context.Context, entry *ActivityEntry) error {
	if m.ActivityErr != nil {
		return m.ActivityErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := *entry
	m.activity = append(m.activity, &e)
	return nil
}

// ListActivity returns recorded entries newest first.
func (m *MockStore) ListActivity(ctx context.Context, filter ActivityFilter) ([]*ActivityEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*ActivityEntry
	for i := len(m.activity) - 1; i >= 0; i-- {
		e := m.activity[i]
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		cp := *e
		result = append(result, &cp)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// Ping always succeeds.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) copyConversationLocked(id string) (*Conversation, error) {
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}

	conv := *c
	conv.Participants = nil
	for _, p := range m.participants {
		if p.ConversationID == id {
			conv.Participants = append(conv.Participants, copyParticipant(p))
		}
	}
	sort.Slice(conv.Participants, func(i, j int) bool {
		return conv.Participants[i].UserID < conv.Participants[j].UserID
	})
	return &conv, nil
}

func copyParticipant(p *Participant) *Participant {
	cp := *p
	if p.LastReadAt != nil {
		t := *p.LastReadAt
		cp.LastReadAt = &t
	}
	return &cp
}
