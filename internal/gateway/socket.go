// ABOUTME: Live connection endpoint: authenticate, upgrade, join rooms, then serve commands
// ABOUTME: Each connection runs one read loop; every command gets its own timeout

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/conversation"
)

// newUpgrader builds the websocket upgrader. An empty allow list accepts
// any origin; requests without an Origin header are always accepted.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// handleWebSocket handles GET /ws.
// Authentication happens before the upgrade: a bad credential gets a plain
// 401 and no websocket is ever opened.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token, err := auth.CredentialFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error(), Code: codeUnauthorized})
		return
	}
	userID, err := g.verifier.Verify(token)
	if err != nil {
		g.logger.Debug("live connection rejected", "error", err, "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid token", Code: codeUnauthorized})
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	gw := g.config.Gateway
	conn := newConnection(userID, ws, connOptions{
		sendBuffer:   gw.SendBuffer,
		writeTimeout: gw.WriteTimeout,
		pingInterval: gw.PingInterval,
	}, g.logger)

	if err := g.rooms.Attach(conn); err != nil {
		conn.Close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	conn.start()
	defer func() {
		g.rooms.Detach(conn)
		conn.Close(websocket.CloseNormalClosure, "session closed")
	}()

	// attached before listing, so a conversation created meanwhile is
	// joined by the hub and not missed
	loadCtx, cancel := context.WithTimeout(r.Context(), gw.ConnectTimeout)
	ids, err := g.chat.ListConversationIDs(loadCtx, userID)
	cancel()
	if err != nil {
		conn.logger.Error("failed to load conversations", "error", err)
		conn.Close(websocket.CloseInternalServerErr, "failed to load conversations")
		return
	}
	for _, id := range ids {
		g.rooms.Join(id, conn)
	}

	conn.logger.Info("live connection established", "rooms", len(ids))
	_ = conn.Send(eventFrame(EventConnected, connectedView{
		UserID:          userID,
		ConversationIDs: g.rooms.Rooms(conn.ID),
	}))

	ws.SetReadLimit(gw.MaxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(gw.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(gw.PongTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				conn.logger.Debug("read loop ended", "error", err)
			}
			return
		}
		// any inbound traffic proves liveness
		_ = ws.SetReadDeadline(time.Now().Add(gw.PongTimeout))
		g.serveCommand(r.Context(), conn, data)
	}
}

// serveCommand runs one inbound frame and writes the direct reply
func (g *Gateway) serveCommand(parent context.Context, conn *Connection, data []byte) {
	id, cmd, err := decodeCommand(data)
	if err != nil {
		g.replyError(conn, id, err)
		return
	}

	ctx, cancel := context.WithTimeout(parent, g.config.Gateway.CommandTimeout)
	defer cancel()
	ctx = withOrigin(ctx, conn.ID)

	switch c := cmd.(type) {
	case sendCommand:
		msg, err := g.chat.SendMessage(ctx, conversation.SendRequest{
			ConversationID:  c.ConversationID,
			SenderID:        conn.UserID,
			Content:         c.Content,
			ClientMessageID: c.ClientMessageID,
		})
		if err != nil {
			g.replyError(conn, id, err)
			return
		}
		_ = conn.Send(ackFrame(id, toMessageView(msg)))

	case typingCommand:
		if !g.rooms.InRoom(c.ConversationID, conn.ID) {
			g.replyError(conn, id, fmt.Errorf("%w: not subscribed to this conversation", conversation.ErrForbidden))
			return
		}
		g.hub.Typing(c.ConversationID, conn.UserID, *c.IsTyping, conn.ID)
		_ = conn.Send(ackFrame(id, nil))

	case readCommand:
		receipt, err := g.chat.MarkRead(ctx, c.ConversationID, conn.UserID)
		if err != nil {
			g.replyError(conn, id, err)
			return
		}
		_ = conn.Send(ackFrame(id, toReadView(receipt)))
	}
}

func (g *Gateway) replyError(conn *Connection, id string, err error) {
	_, code := classify(err)
	if code == codeInternal {
		conn.logger.Error("command failed", "frame_id", id, "error", err)
	}
	_ = conn.Send(errorFrame(id, code, publicMessage(err, code)))
}
