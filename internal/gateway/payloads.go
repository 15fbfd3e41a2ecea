// ABOUTME: JSON views of chat entities shared by the REST facade and live frames
// ABOUTME: Field names are camelCase to match existing chat clients

package gateway

import (
	"time"

	"github.com/2389/coven-chat/internal/conversation"
)

type profileView struct {
	ID             string `json:"id"`
	FullName       string `json:"fullName,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

type messageView struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Sender         profileView `json:"sender"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"createdAt"`
}

type participantView struct {
	UserID     string      `json:"userId"`
	User       profileView `json:"user"`
	LastReadAt *time.Time  `json:"lastReadAt"`
	JoinedAt   time.Time   `json:"joinedAt"`
}

type conversationView struct {
	ID           string            `json:"id"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	Participants []participantView `json:"participants"`
}

type summaryView struct {
	conversationView
	LastMessage   *messageView `json:"lastMessage"`
	UnreadCount   int          `json:"unreadCount"`
	LastMessageAt time.Time    `json:"lastMessageAt"`
}

type readView struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	LastReadAt     time.Time `json:"lastReadAt"`
}

type typingView struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

type connectedView struct {
	UserID          string   `json:"userId"`
	ConversationIDs []string `json:"conversationIds"`
}

func toProfileView(p conversation.Profile) profileView {
	return profileView{ID: p.ID, FullName: p.FullName, ProfilePicture: p.ProfilePicture}
}

func toMessageView(m *conversation.Message) messageView {
	return messageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.Sender.ID,
		Sender:         toProfileView(m.Sender),
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

func toMessageViews(msgs []*conversation.Message) []messageView {
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageView(m))
	}
	return out
}

func toConversationView(c *conversation.ConversationDetail) conversationView {
	v := conversationView{
		ID:           c.ID,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		Participants: make([]participantView, 0, len(c.Participants)),
	}
	for _, p := range c.Participants {
		v.Participants = append(v.Participants, participantView{
			UserID:     p.User.ID,
			User:       toProfileView(p.User),
			LastReadAt: p.LastReadAt,
			JoinedAt:   p.JoinedAt,
		})
	}
	return v
}

func toSummaryView(s *conversation.Summary) summaryView {
	v := summaryView{
		conversationView: toConversationView(&s.ConversationDetail),
		UnreadCount:      s.UnreadCount,
		LastMessageAt:    s.LastActivityAt,
	}
	if s.LastMessage != nil {
		m := toMessageView(s.LastMessage)
		v.LastMessage = &m
	}
	return v
}

func toReadView(r *conversation.ReadReceipt) readView {
	return readView{ConversationID: r.ConversationID, UserID: r.UserID, LastReadAt: r.LastReadAt}
}
