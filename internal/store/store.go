// ABOUTME: Store interfaces and data types for coven-chat persistence
// ABOUTME: Defines Conversation, Participant, Message, User and ActivityEntry plus the store contracts

package store

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a conversation for the same
// participant pair already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// Conversation is a two-party messaging thread.
// PairKey is the canonical unordered pair of participant user IDs and is
// unique across all conversations.
type Conversation struct {
	ID           string
	PairKey      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Participants []*Participant
}

// Participant is a user's membership record within one conversation
type Participant struct {
	ConversationID string
	UserID         string
	LastReadAt     *time.Time // nil means nothing has been read yet
	JoinedAt       time.Time
}

// Message is a single immutable chat message.
// Seq is assigned by the store on insert and breaks ties in ordering.
type Message struct {
	Seq            int64
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	CreatedAt      time.Time
}

// User is the locally replicated profile of a chat user
type User struct {
	ID             string
	FullName       string
	Email          string
	ProfilePicture string
	CreatedAt      time.Time
}

// ListMessagesOptions controls message log pagination
type ListMessagesOptions struct {
	Limit  int        // required, > 0
	Before *time.Time // only messages strictly older than this
}

// ConversationStore persists conversations, participants and messages
type ConversationStore interface {
	// CreateConversation inserts the conversation and all of its participants
	// atomically. Returns ErrDuplicateConversation if the pair already exists.
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByPair(ctx context.Context, pairKey string) (*Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error)
	ListConversationIDsForUser(ctx context.Context, userID string) ([]string, error)

	GetParticipant(ctx context.Context, conversationID, userID string) (*Participant, error)
	// MarkRead advances the participant's read marker to at least the given
	// time and returns the stored value. The marker never moves backward.
	MarkRead(ctx context.Context, conversationID, userID string, at time.Time) (time.Time, error)

	// AppendMessage stores the message, adjusting CreatedAt so that it is
	// strictly after the conversation's previous message.
	AppendMessage(ctx context.Context, msg *Message) error
	// ListMessages returns messages in ascending chronological order
	ListMessages(ctx context.Context, conversationID string, opts ListMessagesOptions) ([]*Message, error)
	LatestMessage(ctx context.Context, conversationID string) (*Message, error)
	// CountUnread counts messages after since that were not sent by userID
	CountUnread(ctx context.Context, conversationID, userID string, since time.Time) (int, error)
}

// UserStore resolves user existence and profiles
type UserStore interface {
	UpsertUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	// UsersExist returns the subset of ids that exist
	UsersExist(ctx context.Context, ids []string) ([]string, error)
	GetUsers(ctx context.Context, ids []string) (map[string]*User, error)
}

// ActivityStore persists activity log entries
type ActivityStore interface {
	RecordActivity(ctx context.Context, entry *ActivityEntry) error
	ListActivity(ctx context.Context, filter ActivityFilter) ([]*ActivityEntry, error)
}

// Store combines every persistence contract the chat service needs
type Store interface {
	ConversationStore
	UserStore
	ActivityStore

	Ping(ctx context.Context) error
	Close() error
}

// PairKey returns the canonical key for an unordered pair of user IDs.
// The lower ID is length-prefixed so distinct pairs never share a key,
// whatever characters the IDs contain.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return strconv.Itoa(len(a)) + ":" + a + "|" + b
}
