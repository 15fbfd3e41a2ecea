// ABOUTME: Tests for live frame decoding and error classification
// ABOUTME: Table-driven coverage of every inbound event and wire error code

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/conversation"
)

func TestDecodeCommand(t *testing.T) {
	yes := true

	tests := []struct {
		name    string
		raw     string
		wantID  string
		want    command
		wantErr error
	}{
		{
			name:   "send",
			raw:    `{"event":"message:send","id":"1","data":{"conversationId":"c1","content":"hi","clientMessageId":"k"}}`,
			wantID: "1",
			want:   sendCommand{ConversationID: "c1", Content: "hi", ClientMessageID: "k"},
		},
		{
			name:   "typing",
			raw:    `{"event":"conversation:typing","data":{"conversationId":"c1","isTyping":true}}`,
			want:   typingCommand{ConversationID: "c1", IsTyping: &yes},
		},
		{
			name:   "read",
			raw:    `{"event":"conversation:read","id":"r","data":{"conversationId":"c1"}}`,
			wantID: "r",
			want:   readCommand{ConversationID: "c1"},
		},
		{
			name:    "not json",
			raw:     `nope`,
			wantErr: errBadRequest,
		},
		{
			name:    "unknown event",
			raw:     `{"event":"message:delete","id":"9","data":{}}`,
			wantID:  "9",
			wantErr: errBadRequest,
		},
		{
			name:    "data wrong shape",
			raw:     `{"event":"message:send","id":"2","data":"text"}`,
			wantID:  "2",
			wantErr: errBadRequest,
		},
		{
			name:    "missing data",
			raw:     `{"event":"conversation:read","id":"3"}`,
			wantID:  "3",
			wantErr: errInvalidFrameData,
		},
		{
			name:    "missing conversation",
			raw:     `{"event":"message:send","data":{"content":"hi"}}`,
			wantErr: errInvalidFrameData,
		},
		{
			name:    "typing without flag",
			raw:     `{"event":"conversation:typing","data":{"conversationId":"c1"}}`,
			wantErr: errInvalidFrameData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, cmd, err := decodeCommand([]byte(tt.raw))
			assert.Equal(t, tt.wantID, id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, cmd)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd)
		})
	}
}

func TestEncodeFrames(t *testing.T) {
	var ack map[string]any
	require.NoError(t, json.Unmarshal(ackFrame("7", map[string]string{"k": "v"}), &ack))
	assert.Equal(t, "ack", ack["event"])
	assert.Equal(t, "7", ack["id"])
	assert.NotContains(t, ack, "error")

	var errFrame map[string]any
	require.NoError(t, json.Unmarshal(errorFrame("8", codeForbidden, "nope"), &errFrame))
	assert.Equal(t, "error", errFrame["event"])
	assert.Equal(t, map[string]any{"code": "forbidden", "message": "nope"}, errFrame["error"])
	assert.NotContains(t, errFrame, "data")

	var bad map[string]any
	require.NoError(t, json.Unmarshal(eventFrame("x", make(chan int)), &bad))
	assert.Equal(t, "error", bad["event"])
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{auth.ErrInvalidToken, http.StatusUnauthorized, codeUnauthorized},
		{fmt.Errorf("%w: x", conversation.ErrForbidden), http.StatusForbidden, codeForbidden},
		{fmt.Errorf("%w: x", conversation.ErrNotFound), http.StatusNotFound, codeNotFound},
		{conversation.ErrInvalidOperation, http.StatusBadRequest, codeInvalidOperation},
		{conversation.ErrInvalidInput, http.StatusBadRequest, codeInvalidInput},
		{errInvalidFrameData, http.StatusBadRequest, codeInvalidInput},
		{errBadRequest, http.StatusBadRequest, codeBadRequest},
		{errors.New("db exploded"), http.StatusInternalServerError, codeInternal},
	}

	for _, tt := range tests {
		status, code := classify(tt.err)
		assert.Equal(t, tt.wantStatus, status, "status for %v", tt.err)
		assert.Equal(t, tt.wantCode, code, "code for %v", tt.err)
	}

	assert.Equal(t, internalMessage, publicMessage(errors.New("secret detail"), codeInternal))
	assert.Equal(t, "forbidden", publicMessage(conversation.ErrForbidden, codeForbidden))
}
