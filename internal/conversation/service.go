// ABOUTME: Conversation service: directory, message log and read receipts for two-party chat
// ABOUTME: Every operation checks membership before touching state; side effects run after commit

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/dedupe"
	"github.com/2389/coven-chat/internal/store"
)

// Store defines what the service needs from persistence
type Store interface {
	store.ConversationStore
	store.UserStore
}

// ActivityRecorder accepts activity entries without blocking
type ActivityRecorder interface {
	Record(entry *store.ActivityEntry) bool
}

// Notifier is told about committed changes so live connections can be updated.
// Implementations must not block.
type Notifier interface {
	ConversationCreated(ctx context.Context, conv *ConversationDetail)
	MessageCreated(ctx context.Context, msg *Message)
	ConversationRead(ctx context.Context, receipt *ReadReceipt)
}

// Page size bounds used when no option overrides them
const (
	DefaultPageSize = 30
	MaxPageSize     = 100
)

// Service implements the conversation directory, message log and
// read-receipt tracker over a Store.
type Service struct {
	store    Store
	notifier Notifier
	activity ActivityRecorder
	sent     *dedupe.Cache[*Message]
	logger   *slog.Logger
	now      func() time.Time

	defaultPageSize int
	maxPageSize     int
}

// Option configures a Service
type Option func(*Service)

// WithPageSizes sets the default and maximum message page sizes.
// The maximum never exceeds MaxPageSize.
func WithPageSizes(defaultSize, maxSize int) Option {
	return func(s *Service) {
		if maxSize > 0 && maxSize <= MaxPageSize {
			s.maxPageSize = maxSize
		}
		if defaultSize > 0 {
			s.defaultPageSize = defaultSize
		}
	}
}

// WithActivity sets the activity-log recorder
func WithActivity(r ActivityRecorder) Option {
	return func(s *Service) { s.activity = r }
}

// WithDedupe enables idempotent sends keyed by client message ID
func WithDedupe(c *dedupe.Cache[*Message]) Option {
	return func(s *Service) { s.sent = c }
}

// New creates a conversation service
func New(st Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:           st,
		logger:          logger.With("component", "conversation"),
		now:             time.Now,
		defaultPageSize: DefaultPageSize,
		maxPageSize:     MaxPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.defaultPageSize > s.maxPageSize {
		s.defaultPageSize = s.maxPageSize
	}
	return s
}

// SetNotifier sets the change notifier. Call before serving requests.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// CreateOrGetConversation returns the conversation between requester and
// partner, creating it if none exists. The bool reports whether it was
// created by this call.
func (s *Service) CreateOrGetConversation(ctx context.Context, requesterID, partnerID string) (*ConversationDetail, bool, error) {
	if partnerID == "" {
		return nil, false, fmt.Errorf("%w: participantId is required", ErrInvalidInput)
	}
	if requesterID == partnerID {
		return nil, false, fmt.Errorf("%w: cannot start a conversation with yourself", ErrInvalidOperation)
	}

	existing, err := s.store.UsersExist(ctx, []string{requesterID, partnerID})
	if err != nil {
		return nil, false, fmt.Errorf("checking users: %w", err)
	}
	if len(existing) != 2 {
		return nil, false, fmt.Errorf("%w: user does not exist", ErrNotFound)
	}

	pairKey := store.PairKey(requesterID, partnerID)
	conv, err := s.store.GetConversationByPair(ctx, pairKey)
	if err == nil {
		if err := checkPair(conv, requesterID, partnerID); err != nil {
			return nil, false, err
		}
		detail, err := s.detail(ctx, conv)
		return detail, false, err
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("looking up conversation: %w", err)
	}

	now := s.now().UTC()
	conv = &store.Conversation{
		ID:        uuid.New().String(),
		PairKey:   pairKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, uid := range []string{requesterID, partnerID} {
		conv.Participants = append(conv.Participants, &store.Participant{
			ConversationID: conv.ID,
			UserID:         uid,
			JoinedAt:       now,
		})
	}

	created := true
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		if !errors.Is(err, store.ErrDuplicateConversation) {
			return nil, false, fmt.Errorf("creating conversation: %w", err)
		}
		// lost the race to a concurrent creator; use theirs
		created = false
		conv, err = s.store.GetConversationByPair(ctx, pairKey)
		if err != nil {
			return nil, false, fmt.Errorf("looking up conversation after conflict: %w", err)
		}
		if err := checkPair(conv, requesterID, partnerID); err != nil {
			return nil, false, err
		}
	}

	detail, err := s.detail(ctx, conv)
	if err != nil {
		return nil, false, err
	}

	if created {
		s.logger.Info("conversation created",
			"conversation_id", detail.ID,
			"requester", requesterID,
			"partner", partnerID)
		s.recordActivity(requesterID, store.EntityConversation, detail.ID, "started a conversation",
			map[string]any{"participantId": partnerID})
		if s.notifier != nil {
			s.notifier.ConversationCreated(ctx, detail)
		}
	}
	return detail, created, nil
}

// checkPair fails unless conv's participants are exactly a and b
func checkPair(conv *store.Conversation, a, b string) error {
	if len(conv.Participants) == 2 {
		x, y := conv.Participants[0].UserID, conv.Participants[1].UserID
		if (x == a && y == b) || (x == b && y == a) {
			return nil
		}
	}
	return fmt.Errorf("conversation %s stored under pair key does not match its participants", conv.ID)
}

// GetConversation returns a conversation the requester participates in
func (s *Service) GetConversation(ctx context.Context, conversationID, requesterID string) (*ConversationDetail, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
		}
		return nil, fmt.Errorf("getting conversation: %w", err)
	}

	member := false
	for _, p := range conv.Participants {
		if p.UserID == requesterID {
			member = true
			break
		}
	}
	if !member {
		return nil, fmt.Errorf("%w: not a participant of this conversation", ErrForbidden)
	}

	return s.detail(ctx, conv)
}

// AssertParticipant fails with ErrForbidden unless userID is a member of
// the conversation. A missing conversation is also ErrForbidden.
func (s *Service) AssertParticipant(ctx context.Context, conversationID, userID string) error {
	_, err := s.participant(ctx, conversationID, userID)
	return err
}

func (s *Service) participant(ctx context.Context, conversationID, userID string) (*store.Participant, error) {
	p, err := s.store.GetParticipant(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: not a participant of this conversation", ErrForbidden)
		}
		return nil, fmt.Errorf("checking participant: %w", err)
	}
	return p, nil
}

// ListConversationIDs returns the IDs of every conversation userID belongs to
func (s *Service) ListConversationIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.store.ListConversationIDsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversation ids: %w", err)
	}
	return ids, nil
}

// ListConversations returns the user's conversations, each with its latest
// message and unread count, most recently active first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]*Summary, error) {
	convs, err := s.store.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	if len(convs) == 0 {
		return []*Summary{}, nil
	}

	type enriched struct {
		conv   *store.Conversation
		last   *store.Message
		unread int
	}
	rows := make([]enriched, 0, len(convs))
	userIDs := map[string]struct{}{}

	for _, c := range convs {
		row := enriched{conv: c}

		last, err := s.store.LatestMessage(ctx, c.ID)
		switch {
		case err == nil:
			row.last = last
			userIDs[last.SenderID] = struct{}{}
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("loading last message for %s: %w", c.ID, err)
		}

		var lastReadAt *time.Time
		for _, p := range c.Participants {
			userIDs[p.UserID] = struct{}{}
			if p.UserID == userID {
				lastReadAt = p.LastReadAt
			}
		}
		if row.last != nil {
			row.unread, err = s.countUnread(ctx, c.ID, userID, lastReadAt)
			if err != nil {
				return nil, err
			}
		}
		rows = append(rows, row)
	}

	users, err := s.store.GetUsers(ctx, keys(userIDs))
	if err != nil {
		return nil, fmt.Errorf("loading profiles: %w", err)
	}

	summaries := make([]*Summary, 0, len(rows))
	for _, row := range rows {
		sum := &Summary{
			ConversationDetail: *buildDetail(row.conv, users),
			UnreadCount:        row.unread,
			LastActivityAt:     row.conv.CreatedAt,
		}
		if row.last != nil {
			sum.LastMessage = buildMessage(row.last, users)
			if row.last.CreatedAt.After(sum.LastActivityAt) {
				sum.LastActivityAt = row.last.CreatedAt
			}
		}
		summaries = append(summaries, sum)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		if !summaries[i].LastActivityAt.Equal(summaries[j].LastActivityAt) {
			return summaries[i].LastActivityAt.After(summaries[j].LastActivityAt)
		}
		return summaries[i].ID < summaries[j].ID
	})
	return summaries, nil
}

// detail resolves participant profiles for a stored conversation
func (s *Service) detail(ctx context.Context, conv *store.Conversation) (*ConversationDetail, error) {
	ids := make([]string, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		ids = append(ids, p.UserID)
	}
	users, err := s.store.GetUsers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading profiles: %w", err)
	}
	return buildDetail(conv, users), nil
}

func buildDetail(conv *store.Conversation, users map[string]*store.User) *ConversationDetail {
	d := &ConversationDetail{
		ID:           conv.ID,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
		Participants: make([]Participant, 0, len(conv.Participants)),
	}
	for _, p := range conv.Participants {
		d.Participants = append(d.Participants, Participant{
			User:       profileFor(p.UserID, users),
			LastReadAt: p.LastReadAt,
			JoinedAt:   p.JoinedAt,
		})
	}
	return d
}

func buildMessage(m *store.Message, users map[string]*store.User) *Message {
	return &Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         profileFor(m.SenderID, users),
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

func (s *Service) recordActivity(userID string, entityType store.EntityType, entityID, description string, metadata map[string]any) {
	if s.activity == nil {
		return
	}
	s.activity.Record(&store.ActivityEntry{
		UserID:      userID,
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      store.ActionCreate,
		Description: description,
		Metadata:    metadata,
	})
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
