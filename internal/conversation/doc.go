// Package conversation implements two-party chat: the conversation
// directory, the message log and read receipts.
//
// # Service
//
//	svc := conversation.New(store, logger,
//	    conversation.WithPageSizes(30, 100),
//	    conversation.WithActivity(dispatcher),
//	    conversation.WithDedupe(cache))
//	svc.SetNotifier(gateway)
//
// # Directory
//
//   - CreateOrGetConversation: one conversation per unordered user pair.
//     Concurrent creators converge on the same conversation through the
//     store's pair uniqueness constraint.
//   - ListConversations: summaries with last message and unread count,
//     most recently active first.
//   - GetConversation, AssertParticipant, ListConversationIDs.
//
// # Message Log
//
// SendMessage requires membership and non-blank content. ListMessages pages
// backward with a Before cursor and always returns ascending order.
//
// # Read Receipts
//
// MarkRead advances a monotonic marker; UnreadCount counts other
// participants' messages newer than it.
//
// # Errors
//
// Operations return ErrInvalidOperation, ErrNotFound, ErrForbidden or
// ErrInvalidInput (wrapped; match with errors.Is). Anything else is an
// internal failure.
package conversation
