package server

import (
	"net/http"
	"time"

	"github.com/parley-chat/parley/internal/types"
)

// Client command actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionSendMessage = "send_message"
	ActionMarkRead    = "mark_read"
)

// Server event types.
const (
	EventMessageNew   = "message.new"
	EventMessageAck   = "message.ack"
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventError        = "error"
)

// ClientFrame is a single command received over the websocket.
type ClientFrame struct {
	Action      string `json:"action"`
	Room        string `json:"room,omitempty"`
	Body        string `json:"body,omitempty"`
	Type        string `json:"type,omitempty"`
	ClientMsgId string `json:"client_msg_id,omitempty"`
	MessageId   int64  `json:"message_id,omitempty"`
}

// ServerFrame is a single event pushed to the client.
type ServerFrame struct {
	Type      string         `json:"type"`
	Room      string         `json:"room,omitempty"`
	Message   *types.Message `json:"message,omitempty"`
	Code      int            `json:"code,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func NewMessageFrame(msg *types.Message) *ServerFrame {
	return &ServerFrame{
		Type:      EventMessageNew,
		Room:      msg.RoomId,
		Message:   msg,
		Timestamp: Now(),
	}
}

func MessageAckFrame(msg *types.Message) *ServerFrame {
	return &ServerFrame{
		Type:      EventMessageAck,
		Room:      msg.RoomId,
		Message:   msg,
		Timestamp: Now(),
	}
}

func SubscribedFrame(room string) *ServerFrame {
	return &ServerFrame{
		Type:      EventSubscribed,
		Room:      room,
		Timestamp: Now(),
	}
}

func UnsubscribedFrame(room string) *ServerFrame {
	return &ServerFrame{
		Type:      EventUnsubscribed,
		Room:      room,
		Timestamp: Now(),
	}
}

func ErrRoomNotFound() *ServerFrame {
	return &ServerFrame{
		Type:      EventError,
		Code:      http.StatusNotFound,
		Error:     "room not found",
		Timestamp: Now(),
	}
}

func ErrInvalidFrame() *ServerFrame {
	return &ServerFrame{
		Type:      EventError,
		Code:      http.StatusBadRequest,
		Error:     "invalid message format",
		Timestamp: Now(),
	}
}

func ErrInternalError() *ServerFrame {
	return &ServerFrame{
		Type:      EventError,
		Code:      http.StatusInternalServerError,
		Error:     "internal server error",
		Timestamp: Now(),
	}
}

func ErrServiceUnavailable() *ServerFrame {
	return &ServerFrame{
		Type:      EventError,
		Code:      http.StatusServiceUnavailable,
		Error:     "service unavailable",
		Timestamp: Now(),
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
