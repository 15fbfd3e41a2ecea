// ABOUTME: Live protocol frames: tagged inbound commands and outbound events
// ABOUTME: Inbound frames are decoded and validated here before reaching the chat service

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event names carried in the "event" field of a frame
const (
	EventMessageSend     = "message:send"
	EventTyping          = "conversation:typing"
	EventRead            = "conversation:read"
	EventMessageNew      = "message:new"
	EventConversationNew = "conversation:new"
	EventConnected       = "connected"
	EventAck             = "ack"
	EventError           = "error"
)

// errBadRequest marks frames that cannot be decoded or name an unknown event
var errBadRequest = errors.New("bad request")

// inboundFrame is the envelope every client frame arrives in
type inboundFrame struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// outboundFrame is the envelope for broadcasts and direct replies
type outboundFrame struct {
	Event string      `json:"event"`
	ID    string      `json:"id,omitempty"`
	Data  any         `json:"data,omitempty"`
	Error *frameError `json:"error,omitempty"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// command is one validated inbound request
type command interface {
	conversation() string
}

type sendCommand struct {
	ConversationID  string `json:"conversationId"`
	Content         string `json:"content"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

type typingCommand struct {
	ConversationID string `json:"conversationId"`
	IsTyping       *bool  `json:"isTyping"`
}

type readCommand struct {
	ConversationID string `json:"conversationId"`
}

func (c sendCommand) conversation() string   { return c.ConversationID }
func (c typingCommand) conversation() string { return c.ConversationID }
func (c readCommand) conversation() string   { return c.ConversationID }

// decodeCommand parses a client frame. The returned ID is set whenever the
// envelope itself decoded, so errors can still be correlated.
func decodeCommand(raw []byte) (string, command, error) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return "", nil, fmt.Errorf("%w: invalid frame", errBadRequest)
	}

	var cmd command
	var err error
	switch frame.Event {
	case EventMessageSend:
		var c sendCommand
		err = decodeData(frame.Data, &c)
		cmd = c
	case EventTyping:
		var c typingCommand
		if err = decodeData(frame.Data, &c); err == nil && c.IsTyping == nil {
			err = fmt.Errorf("%w: isTyping is required", errInvalidFrameData)
		}
		cmd = c
	case EventRead:
		var c readCommand
		err = decodeData(frame.Data, &c)
		cmd = c
	default:
		return frame.ID, nil, fmt.Errorf("%w: unknown event %q", errBadRequest, frame.Event)
	}
	if err != nil {
		return frame.ID, nil, err
	}

	if strings.TrimSpace(cmd.conversation()) == "" {
		return frame.ID, nil, fmt.Errorf("%w: conversationId is required", errInvalidFrameData)
	}
	return frame.ID, cmd, nil
}

// errInvalidFrameData marks a well-formed frame with missing or invalid fields
var errInvalidFrameData = errors.New("invalid input")

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("%w: data is required", errInvalidFrameData)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed data", errBadRequest)
	}
	return nil
}

func encodeFrame(f outboundFrame) []byte {
	payload, err := json.Marshal(f)
	if err != nil {
		// only reachable with an unencodable Data value
		payload, _ = json.Marshal(outboundFrame{
			Event: EventError,
			ID:    f.ID,
			Error: &frameError{Code: codeInternal, Message: "failed to encode frame"},
		})
	}
	return payload
}

func eventFrame(event string, data any) []byte {
	return encodeFrame(outboundFrame{Event: event, Data: data})
}

func ackFrame(id string, data any) []byte {
	return encodeFrame(outboundFrame{Event: EventAck, ID: id, Data: data})
}

func errorFrame(id, code, message string) []byte {
	return encodeFrame(outboundFrame{Event: EventError, ID: id, Error: &frameError{Code: code, Message: message}})
}
