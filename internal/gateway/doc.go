// Package gateway serves coven-chat over HTTP and websockets.
//
// # Overview
//
// The Gateway owns every long-lived component: the store, the conversation
// service, the room registry for live connections, the activity dispatcher,
// the idempotency cache, the HTTP server and the optional gRPC health server.
//
// # HTTP API
//
// Every /api route requires an "Authorization: Bearer <jwt>" header:
//
//   - GET /api/chat/conversations - Conversations with last message and unread count
//   - POST /api/chat/conversations - Create or return the conversation with participantId
//   - GET /api/chat/conversations/{id} - One conversation
//   - GET /api/chat/conversations/{id}/messages?limit=&before= - Most recent page, oldest first
//   - POST /api/chat/conversations/{id}/read - Mark read
//   - GET /api/chat/conversations/{id}/unread - Unread count for the caller
//   - POST /api/chat/messages - Send a message
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (store ping)
//
// Errors are JSON bodies of the form {"error": "...", "code": "forbidden"}.
//
// # Live Connections
//
// GET /ws upgrades to a websocket after the token (query parameter "token",
// or the Authorization header) verifies. Every frame is a JSON envelope:
//
//	{"event": "message:send", "id": "c1", "data": {"conversationId": "...", "content": "hi"}}
//
// Client events: message:send, conversation:typing, conversation:read.
// Server events: connected, message:new, conversation:new,
// conversation:typing, conversation:read, ack, error. Replies (ack and
// error) echo the id of the frame they answer.
//
// On connect, the connection joins one room per conversation of its user.
// message:new reaches every connection in the room, the sender's included;
// typing and live read receipts skip the connection that produced them.
// A connection whose send buffer fills is closed with going-away.
//
// # gRPC
//
// When server.grpc_addr is set (or Tailscale is enabled) the gateway serves
// grpc.health.v1, reporting SERVING while the store answers pings.
package gateway
