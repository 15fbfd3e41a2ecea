// ABOUTME: End-to-end tests for the live endpoint over real websockets
// ABOUTME: Covers handshake auth, room fan-out, typing, read receipts and error frames

package gateway

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/config"
)

func TestSocket_RejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	for _, query := range []string{"", "?token=", "?token=garbage"} {
		conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL(query), nil)
		if conn != nil {
			conn.Close()
		}
		require.ErrorIs(t, err, websocket.ErrBadHandshake, "query %q", query)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "query %q", query)
		resp.Body.Close()
	}
	assert.Zero(t, env.gw.rooms.Count())
}

func TestSocket_AuthorizationHeaderFallback(t *testing.T) {
	env := newTestEnv(t)

	header := http.Header{"Authorization": []string{"Bearer " + env.token(t, "u1")}}
	conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL(""), header)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	c := &wsClient{t: t, conn: conn}
	var hello connectedView
	c.next(EventConnected).decode(t, &hello)
	assert.Equal(t, "u1", hello.UserID)
}

func TestSocket_OriginAllowList(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Gateway.AllowedOrigins = []string{"https://app.example.com"}
	})
	url := env.wsURL("?token=" + env.token(t, "u1"))

	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example.com"}})
	if conn != nil {
		conn.Close()
	}
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	conn, resp, err = websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://app.example.com"}})
	require.NoError(t, err)
	resp.Body.Close()
	conn.Close()
}

func TestSocket_ConnectedListsRooms(t *testing.T) {
	env := newTestEnv(t)
	c12 := env.startConversation(t, "u1", "u2")
	c13 := env.startConversation(t, "u3", "u1")

	_, hello := env.dial(t, "u1")
	assert.Equal(t, "u1", hello.UserID)
	assert.ElementsMatch(t, []string{c12.ID, c13.ID}, hello.ConversationIDs)

	_, hello = env.dial(t, "u2")
	assert.Equal(t, []string{c12.ID}, hello.ConversationIDs)
}

func TestSocket_LoadFailureClosesWithInternalError(t *testing.T) {
	env := newTestEnv(t)
	env.store.ListErr = assert.AnError

	conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL("?token="+env.token(t, "u1")), nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseInternalServerErr), "got %v", err)
}

func TestSocket_SendFansOutToEveryConnection(t *testing.T) {
	env := newTestEnv(t)
	conv := env.startConversation(t, "u1", "u2")

	phone, _ := env.dial(t, "u1")
	laptop, _ := env.dial(t, "u1")
	peer, _ := env.dial(t, "u2")
	outsider, _ := env.dial(t, "u3")

	phone.send(EventMessageSend, "m1", map[string]string{"conversationId": conv.ID, "content": "hello"})

	// the sender's own connection sees the broadcast before its ack
	var echoed messageView
	phone.next(EventMessageNew).decode(t, &echoed)
	ack := phone.next(EventAck)
	assert.Equal(t, "m1", ack.ID)
	var acked messageView
	ack.decode(t, &acked)
	assert.Equal(t, echoed.ID, acked.ID)
	assert.Equal(t, "hello", acked.Content)
	assert.Equal(t, "u1", acked.SenderID)
	assert.Equal(t, "User u1", acked.Sender.FullName)

	for _, c := range []*wsClient{laptop, peer} {
		var got messageView
		c.next(EventMessageNew).decode(t, &got)
		assert.Equal(t, acked.ID, got.ID)
		assert.Equal(t, conv.ID, got.ConversationID)
	}

	// the outsider's next frame is the reply to its own probe, not the message
	outsider.send(EventRead, "probe", map[string]string{"conversationId": conv.ID})
	f := outsider.next(EventError)
	assert.Equal(t, "probe", f.ID)
	assert.Equal(t, codeForbidden, f.Error.Code)
}

func TestSocket_TypingSkipsOrigin(t *testing.T) {
	env := newTestEnv(t)
	conv := env.startConversation(t, "u1", "u2")

	sender, _ := env.dial(t, "u1")
	otherDevice, _ := env.dial(t, "u1")
	peer, _ := env.dial(t, "u2")

	sender.send(EventTyping, "t1", map[string]any{"conversationId": conv.ID, "isTyping": true})
	ack := sender.next(EventAck)
	assert.Equal(t, "t1", ack.ID)

	for _, c := range []*wsClient{peer, otherDevice} {
		var got typingView
		c.next(EventTyping).decode(t, &got)
		assert.Equal(t, typingView{ConversationID: conv.ID, UserID: "u1", IsTyping: true}, got)
	}

	sender.send(EventTyping, "t2", map[string]any{"conversationId": conv.ID, "isTyping": false})
	assert.Equal(t, "t2", sender.next(EventAck).ID, "typing is never echoed to the origin")

	var stopped typingView
	peer.next(EventTyping).decode(t, &stopped)
	assert.False(t, stopped.IsTyping)
}

func TestSocket_ReadReceipts(t *testing.T) {
	env := newTestEnv(t)
	conv := env.startConversation(t, "u1", "u2")

	writer, _ := env.dial(t, "u1")
	reader, _ := env.dial(t, "u2")

	writer.send(EventMessageSend, "m", map[string]string{"conversationId": conv.ID, "content": "ping"})
	writer.next(EventMessageNew)
	writer.next(EventAck)
	reader.next(EventMessageNew)

	reader.send(EventRead, "r1", map[string]string{"conversationId": conv.ID})
	ack := reader.next(EventAck)
	assert.Equal(t, "r1", ack.ID)
	var acked readView
	ack.decode(t, &acked)
	assert.Equal(t, "u2", acked.UserID)

	var seen readView
	writer.next(EventRead).decode(t, &seen)
	assert.Equal(t, acked, seen)

	var list conversationsResponse
	env.do(t, http.MethodGet, "/api/chat/conversations", "u2", nil, &list)
	require.Len(t, list.Conversations, 1)
	assert.Zero(t, list.Conversations[0].UnreadCount)
}

func TestSocket_RESTReadReachesAllConnections(t *testing.T) {
	env := newTestEnv(t)
	conv := env.startConversation(t, "u1", "u2")

	own, _ := env.dial(t, "u1")
	peer, _ := env.dial(t, "u2")

	env.do(t, http.MethodPost, "/api/chat/conversations/"+conv.ID+"/read", "u1", nil, nil)

	for _, c := range []*wsClient{own, peer} {
		var got readView
		c.next(EventRead).decode(t, &got)
		assert.Equal(t, "u1", got.UserID)
	}
}

func TestSocket_NewConversationJoinsLiveConnections(t *testing.T) {
	env := newTestEnv(t)

	creator, hello := env.dial(t, "u1")
	assert.Empty(t, hello.ConversationIDs)
	partner, _ := env.dial(t, "u2")
	bystander, _ := env.dial(t, "u3")

	conv := env.startConversation(t, "u1", "u2")

	for _, c := range []*wsClient{creator, partner} {
		var got conversationView
		c.next(EventConversationNew).decode(t, &got)
		assert.Equal(t, conv.ID, got.ID)
		assert.Len(t, got.Participants, 2)
	}

	// an existing conversation is not announced again
	env.startConversation(t, "u2", "u1")

	env.do(t, http.MethodPost, "/api/chat/messages", "u2", SendMessageRequest{ConversationID: conv.ID, Content: "over rest"}, nil)
	for _, c := range []*wsClient{creator, partner} {
		var got messageView
		c.next(EventMessageNew).decode(t, &got)
		assert.Equal(t, "over rest", got.Content)
	}

	// the new room is usable for typing right away
	partner.send(EventTyping, "t", map[string]any{"conversationId": conv.ID, "isTyping": true})
	partner.next(EventAck)
	creator.next(EventTyping)

	bystander.send(EventTyping, "t", map[string]any{"conversationId": conv.ID, "isTyping": true})
	f := bystander.next(EventError)
	assert.Equal(t, codeForbidden, f.Error.Code)
}

func TestSocket_ErrorFrames(t *testing.T) {
	env := newTestEnv(t)
	conv := env.startConversation(t, "u1", "u2")
	other := env.startConversation(t, "u2", "u3")

	c, _ := env.dial(t, "u1")

	tests := []struct {
		name     string
		raw      string
		wantID   string
		wantCode string
	}{
		{"not json", `{{{`, "", codeBadRequest},
		{"unknown event", `{"event":"message:edit","id":"e1","data":{}}`, "e1", codeBadRequest},
		{"missing data", `{"event":"message:send","id":"e2"}`, "e2", codeInvalidInput},
		{"blank content", `{"event":"message:send","id":"e3","data":{"conversationId":"` + conv.ID + `","content":"  "}}`, "e3", codeInvalidInput},
		{"not a member", `{"event":"message:send","id":"e4","data":{"conversationId":"` + other.ID + `","content":"hi"}}`, "e4", codeForbidden},
		{"typing flag missing", `{"event":"conversation:typing","id":"e5","data":{"conversationId":"` + conv.ID + `"}}`, "e5", codeInvalidInput},
		{"read unknown room", `{"event":"conversation:read","id":"e6","data":{"conversationId":"nope"}}`, "e6", codeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.t = t
			c.sendRaw(tt.raw)
			f := c.next(EventError)
			assert.Equal(t, tt.wantID, f.ID)
			require.NotNil(t, f.Error)
			assert.Equal(t, tt.wantCode, f.Error.Code)
			assert.NotEmpty(t, f.Error.Message)
		})
	}

	// errors do not end the session
	c.t = t
	c.send(EventRead, "ok", map[string]string{"conversationId": conv.ID})
	assert.Equal(t, "ok", c.next(EventAck).ID)
}

func TestSocket_InternalErrorHidesDetails(t *testing.T) {
	env := newTestEnv(t)
	conv := env.startConversation(t, "u1", "u2")
	c, _ := env.dial(t, "u1")

	env.store.AppendErr = assert.AnError
	c.send(EventMessageSend, "x", map[string]string{"conversationId": conv.ID, "content": "hi"})
	f := c.next(EventError)
	assert.Equal(t, codeInternal, f.Error.Code)
	assert.Equal(t, internalMessage, f.Error.Message)
}

func TestSocket_DisconnectDetaches(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.dial(t, "u1")
	require.Equal(t, 1, env.gw.rooms.Count())

	require.NoError(t, c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	c.conn.Close()

	require.Eventually(t, func() bool { return env.gw.rooms.Count() == 0 }, 3*time.Second, 10*time.Millisecond)
}
