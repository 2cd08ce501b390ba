package server

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/parley-chat/parley/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestNewMessageFrame(t *testing.T) {
	msg := &types.Message{
		Id:       42,
		RoomId:   "room1",
		SenderId: 7,
		Body:     "hello",
		Type:     types.MessageTypeText,
	}

	frame := NewMessageFrame(msg)

	assert.Equal(t, EventMessageNew, frame.Type, "expected frame type to be message.new")
	assert.Equal(t, "room1", frame.Room, "expected frame room to match message room")
	assert.Equal(t, msg, frame.Message, "expected frame to carry the message")
	assert.WithinDuration(t, Now(), frame.Timestamp, time.Second, "expected timestamp to be set")
}

func TestMessageAckFrame(t *testing.T) {
	msg := &types.Message{Id: 42, RoomId: "room1"}

	frame := MessageAckFrame(msg)

	assert.Equal(t, EventMessageAck, frame.Type, "expected frame type to be message.ack")
	assert.Equal(t, msg, frame.Message, "expected frame to carry the message")
}

func TestSubscribedFrames(t *testing.T) {
	frame := SubscribedFrame("room1")
	assert.Equal(t, EventSubscribed, frame.Type, "expected subscribed frame type")
	assert.Equal(t, "room1", frame.Room, "expected room to be set")

	frame = UnsubscribedFrame("room1")
	assert.Equal(t, EventUnsubscribed, frame.Type, "expected unsubscribed frame type")
	assert.Equal(t, "room1", frame.Room, "expected room to be set")
}

func TestErrorFrames(t *testing.T) {
	tcases := []struct {
		name  string
		frame *ServerFrame
		code  int
		msg   string
	}{
		{name: "room not found", frame: ErrRoomNotFound(), code: http.StatusNotFound, msg: "room not found"},
		{name: "invalid frame", frame: ErrInvalidFrame(), code: http.StatusBadRequest, msg: "invalid message format"},
		{name: "internal error", frame: ErrInternalError(), code: http.StatusInternalServerError, msg: "internal server error"},
		{name: "service unavailable", frame: ErrServiceUnavailable(), code: http.StatusServiceUnavailable, msg: "service unavailable"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, EventError, tc.frame.Type, "expected frame type to be error")
			assert.Equal(t, tc.code, tc.frame.Code, "expected error code to match")
			assert.Equal(t, tc.msg, tc.frame.Error, "expected error message to match")
		})
	}
}

func TestClientFrameRoundTrip(t *testing.T) {
	raw := `{"action":"send_message","room":"room1","body":"hi","client_msg_id":"t1"}`

	var frame ClientFrame
	err := json.Unmarshal([]byte(raw), &frame)
	assert.NoError(t, err, "expected frame to parse")
	assert.Equal(t, ActionSendMessage, frame.Action, "expected action to match")
	assert.Equal(t, "room1", frame.Room, "expected room to match")
	assert.Equal(t, "hi", frame.Body, "expected body to match")
	assert.Equal(t, "t1", frame.ClientMsgId, "expected client_msg_id to match")
}
