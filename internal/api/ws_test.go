package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/parley-chat/parley/internal/database"
	"github.com/parley-chat/parley/internal/server"
	"github.com/parley-chat/parley/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func dialWs(t *testing.T, ts *httptest.Server, s *ParleyApp, user types.User) *websocket.Conn {
	t.Helper()

	token, err := s.createJwtForSession(user, time.Hour)
	require.NoError(t, err, "expected no error creating session token")

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("Cookie", tokenCookieKey+"="+token)

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err, "expected websocket dial to succeed")
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) server.ServerFrame {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var frame server.ServerFrame
	require.NoError(t, conn.ReadJSON(&frame), "expected a server frame before the deadline")
	return frame
}

// TestWebsocketFanOut drives the full path: two members subscribe over
// real websocket connections, one sends a message, and only subscribers
// of that room receive the push.
func TestWebsocketFanOut(t *testing.T) {
	alice := types.User{Id: 1, Username: "alice"}
	bob := types.User{Id: 2, Username: "bob"}
	carol := types.User{Id: 3, Username: "carol"}
	room := database.Room{Id: 1, ExternalId: "room1", Type: types.RoomTypeGroup, CreatedBy: 1}
	stored := database.Message{
		Id:          7,
		RoomId:      1,
		SenderId:    1,
		Body:        "hello",
		Type:        types.MessageTypeText,
		ClientMsgId: "c1",
		CreatedAt:   time.Now(),
	}

	db := &database.MockRepository{}
	db.On("GetAccountById", int64(1)).Return(database.User{Id: 1, Username: "alice"}, nil)
	db.On("GetAccountById", int64(2)).Return(database.User{Id: 2, Username: "bob"}, nil)
	db.On("GetAccountById", int64(3)).Return(database.User{Id: 3, Username: "carol"}, nil)
	db.On("GetRoomByExternalId", "room1").Return(room, nil)
	db.On("IsMember", int64(1), int64(1)).Return(true)
	db.On("IsMember", int64(1), int64(2)).Return(true)
	db.On("CreateMessage", mock.MatchedBy(func(p database.CreateMessageParams) bool {
		return p.RoomId == int64(1) && p.SenderId == int64(1) && p.ClientMsgId == "c1"
	})).Return(stored, true, nil).Once()

	s := newTestApp(t, db)
	ts := httptest.NewServer(s.mux.Handler)
	defer ts.Close()

	aliceConn := dialWs(t, ts, s, alice)
	bobConn := dialWs(t, ts, s, bob)
	carolConn := dialWs(t, ts, s, carol)

	// alice and bob subscribe, carol only connects
	require.NoError(t, aliceConn.WriteJSON(server.ClientFrame{Action: server.ActionSubscribe, Room: "room1"}))
	frame := readFrame(t, aliceConn)
	assert.Equal(t, server.EventSubscribed, frame.Type, "expected alice's subscribe to be acknowledged")

	require.NoError(t, bobConn.WriteJSON(server.ClientFrame{Action: server.ActionSubscribe, Room: "room1"}))
	frame = readFrame(t, bobConn)
	assert.Equal(t, server.EventSubscribed, frame.Type, "expected bob's subscribe to be acknowledged")

	require.NoError(t, aliceConn.WriteJSON(server.ClientFrame{
		Action:      server.ActionSendMessage,
		Room:        "room1",
		Body:        "hello",
		ClientMsgId: "c1",
	}))

	// sender gets the ack first, then the broadcast copy
	frame = readFrame(t, aliceConn)
	assert.Equal(t, server.EventMessageAck, frame.Type, "expected the sender to receive an ack")
	require.NotNil(t, frame.Message, "expected the ack to carry the message")
	assert.Equal(t, int64(7), frame.Message.Id, "expected the stored message id in the ack")

	frame = readFrame(t, aliceConn)
	assert.Equal(t, server.EventMessageNew, frame.Type, "expected the sender's own subscription to receive the message")

	frame = readFrame(t, bobConn)
	assert.Equal(t, server.EventMessageNew, frame.Type, "expected the other subscriber to receive the message")
	require.NotNil(t, frame.Message, "expected the push to carry the message")
	assert.Equal(t, "hello", frame.Message.Body, "expected the message body")
	assert.Equal(t, "room1", frame.Message.RoomId, "expected the room external id on the message")

	// carol never subscribed and must receive nothing
	carolConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var unexpected server.ServerFrame
	err := carolConn.ReadJSON(&unexpected)
	assert.Error(t, err, "expected no frames for a connection that never subscribed")

	db.AssertExpectations(t)
}

// TestWebsocketSubscribeNonMember covers the gate at the socket layer: a
// non-member's subscribe is answered with the same not-found an unknown
// room would produce.
func TestWebsocketSubscribeNonMember(t *testing.T) {
	carol := types.User{Id: 3, Username: "carol"}
	room := database.Room{Id: 1, ExternalId: "room1", Type: types.RoomTypeGroup, CreatedBy: 1}

	db := &database.MockRepository{}
	db.On("GetAccountById", int64(3)).Return(database.User{Id: 3, Username: "carol"}, nil)
	db.On("GetRoomByExternalId", "room1").Return(room, nil)
	db.On("IsMember", int64(1), int64(3)).Return(false)

	s := newTestApp(t, db)
	ts := httptest.NewServer(s.mux.Handler)
	defer ts.Close()

	conn := dialWs(t, ts, s, carol)

	require.NoError(t, conn.WriteJSON(server.ClientFrame{Action: server.ActionSubscribe, Room: "room1"}))

	frame := readFrame(t, conn)
	assert.Equal(t, server.EventError, frame.Type, "expected an error frame")
	assert.Equal(t, http.StatusNotFound, frame.Code, "expected not-found for a non-member")

	db.AssertExpectations(t)
}

func TestWebsocketRejectsUnauthenticated(t *testing.T) {
	db := &database.MockRepository{}
	s := newTestApp(t, db)
	ts := httptest.NewServer(s.mux.Handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err, "expected the dial to fail without a session cookie")
	require.NotNil(t, resp, "expected an HTTP response")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "expected 401 without a session cookie")
}
