// ABOUTME: Output types returned by the conversation service
// ABOUTME: Store records enriched with resolved user profiles and read state

package conversation

import (
	"time"

	"github.com/2389/coven-chat/internal/store"
)

// Profile is the public identity of a user
type Profile struct {
	ID             string
	FullName       string
	ProfilePicture string
}

// Participant is a conversation member with resolved profile
type Participant struct {
	User       Profile
	LastReadAt *time.Time
	JoinedAt   time.Time
}

// ConversationDetail is a conversation with its participant list
type ConversationDetail struct {
	ID           string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Participants []Participant
}

// HasParticipant reports whether userID is a member
func (c *ConversationDetail) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.User.ID == userID {
			return true
		}
	}
	return false
}

// ParticipantIDs returns member user IDs in participant order
func (c *ConversationDetail) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.User.ID)
	}
	return ids
}

// Message is a chat message with its sender resolved
type Message struct {
	ID             string
	ConversationID string
	Sender         Profile
	Content        string
	CreatedAt      time.Time
}

// Summary is one entry of a user's conversation list
type Summary struct {
	ConversationDetail
	LastMessage    *Message // nil when the conversation has no messages
	UnreadCount    int
	LastActivityAt time.Time // max(last message time, creation time)
}

// ReadReceipt reports a participant's advanced read marker
type ReadReceipt struct {
	ConversationID string
	UserID         string
	LastReadAt     time.Time
}

// SendRequest carries a message to append
type SendRequest struct {
	ConversationID string
	SenderID       string
	Content        string
	// ClientMessageID is an optional idempotency key scoped to the sender
	ClientMessageID string
}

// ListMessagesRequest selects a page of history
type ListMessagesRequest struct {
	ConversationID string
	RequesterID    string
	Limit          int        // clamped to [1, max]; 0 means the default page size
	Before         *time.Time // only messages strictly older than this
}

func profileFor(id string, users map[string]*store.User) Profile {
	p := Profile{ID: id}
	if u, ok := users[id]; ok {
		p.FullName = u.FullName
		p.ProfilePicture = u.ProfilePicture
	}
	return p
}
