package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/parley-chat/parley/internal/database"
	"github.com/parley-chat/parley/internal/server"
	"github.com/parley-chat/parley/internal/types"
	"github.com/teris-io/shortid"
)

type CreateRoomRequest struct {
	Type string `json:"type"`
	Name string `json:"name"`
	// PeerId names the other member of a direct room.
	PeerId int64 `json:"peer_id,omitempty"`
}

type SendMessageRequest struct {
	Body        string `json:"body"`
	Type        string `json:"type"`
	ClientMsgId string `json:"client_msg_id,omitempty"`
}

type AddMemberRequest struct {
	UserId int64  `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

func (s *ParleyApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func toApiRoom(dbRoom database.Room) types.Room {
	room := types.Room{
		ExternalId: dbRoom.ExternalId,
		Type:       dbRoom.Type,
		Name:       dbRoom.Name,
		CreatedBy:  dbRoom.CreatedBy,
		CreatedAt:  dbRoom.CreatedAt,
	}

	if dbRoom.LastMessageAt.Valid {
		t := dbRoom.LastMessageAt.Time
		room.LastMessageAt = &t
	}

	for _, m := range dbRoom.Members {
		member := types.Member{
			UserId:   m.UserId,
			Username: m.Username,
			Role:     m.Role,
			JoinedAt: m.JoinedAt,
		}
		if m.LastReadMessageId.Valid {
			id := m.LastReadMessageId.Int64
			member.LastReadMessageId = &id
		}
		room.Members = append(room.Members, member)
	}

	return room
}

func toApiMessage(dbMsg database.Message, roomExternalId string) types.Message {
	return types.Message{
		Id:        dbMsg.Id,
		RoomId:    roomExternalId,
		SenderId:  dbMsg.SenderId,
		Body:      dbMsg.Body,
		Type:      dbMsg.Type,
		CreatedAt: dbMsg.CreatedAt,
	}
}

// roomForMember resolves a room external id for a caller that must be a
// member. A missing room and a non-member caller both come back as
// not-found so room existence is never revealed.
func (s *ParleyApp) roomForMember(externalId string, userId int64) (database.Room, *ApiError) {
	room, err := s.db.GetRoomByExternalId(externalId)
	if err != nil {
		return database.Room{}, storeError(err)
	}

	if !s.db.IsMember(room.Id, userId) {
		return database.Room{}, NewNotFoundError()
	}

	return room, nil
}

func parsePage(r *http.Request) (limit, offset int, ok bool) {
	limit, offset = 20, 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		v, err := strconv.Atoi(limitStr)
		if err != nil || v < 0 {
			return 0, 0, false
		}
		limit = v
	}
	if limit > 100 {
		limit = 100
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		v, err := strconv.Atoi(offsetStr)
		if err != nil || v < 0 {
			return 0, 0, false
		}
		offset = v
	}

	return limit, offset, true
}

func (s *ParleyApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Type == "" {
		req.Type = types.RoomTypeGroup
	}
	if !types.ValidRoomType(req.Type) {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Type == types.RoomTypeGroup && req.Name == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Type == types.RoomTypeDirect && (req.PeerId == 0 || req.PeerId == userId) {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := shortid.Generate()
	if err != nil {
		s.log.Print("generate short id:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newRoom, err := s.db.CreateRoom(database.CreateRoomParams{
		ExternalId: sid,
		Type:       req.Type,
		Name:       req.Name,
		CreatedBy:  userId,
		PeerId:     req.PeerId,
	})
	if err != nil {
		s.log.Println("create room:", err)
		errResp := storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, toApiRoom(newRoom))
}

func (s *ParleyApp) listRooms(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	limit, offset, ok := parsePage(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbRooms, err := s.db.ListRooms(userId, limit, offset)
	if err != nil {
		s.log.Println("list rooms:", err)
		errResp := storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	rooms := make([]types.Room, 0, len(dbRooms))
	for _, dbRoom := range dbRooms {
		rooms = append(rooms, toApiRoom(dbRoom))
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *ParleyApp) getRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, apiErr := s.roomForMember(r.PathValue("id"), userId)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	members, err := s.db.RoomMembers(room.Id)
	if err != nil {
		s.log.Println("room members:", err)
		errResp := storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	room.Members = members

	s.writeJson(w, http.StatusOK, toApiRoom(room))
}

func (s *ParleyApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, apiErr := s.roomForMember(r.PathValue("id"), userId)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	limit, offset, ok := parsePage(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbMessages, total, err := s.db.ListMessages(room.Id, limit, offset)
	if err != nil {
		s.log.Println("list messages:", err)
		errResp := storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	page := types.MessagePage{
		Messages: make([]types.Message, 0, len(dbMessages)),
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	}
	for _, dbMsg := range dbMessages {
		page.Messages = append(page.Messages, toApiMessage(dbMsg, room.ExternalId))
	}

	s.writeJson(w, http.StatusOK, page)
}

func (s *ParleyApp) postMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, apiErr := s.roomForMember(r.PathValue("id"), userId)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Type == "" {
		req.Type = types.MessageTypeText
	}
	if !types.ValidMessageType(req.Type) {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbMsg, created, err := s.db.CreateMessage(database.CreateMessageParams{
		RoomId:      room.Id,
		SenderId:    userId,
		Body:        req.Body,
		Type:        req.Type,
		ClientMsgId: req.ClientMsgId,
	})
	if err != nil {
		s.log.Println("create message:", err)
		errResp := storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg := toApiMessage(dbMsg, room.ExternalId)

	// an idempotent replay returns the original message and was already
	// broadcast on its first send
	if created {
		s.cs.Publish(room.ExternalId, &msg)
		s.writeJson(w, http.StatusCreated, msg)
		return
	}

	s.writeJson(w, http.StatusOK, msg)
}

func (s *ParleyApp) addMember(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, apiErr := s.roomForMember(r.PathValue("id"), userId)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	// only the room owner may add members
	if room.CreatedBy != userId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserId == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Role == "" {
		req.Role = types.RoleMember
	}

	m, err := s.db.AddMember(room.Id, req.UserId, req.Role)
	if err != nil {
		s.log.Println("add member:", err)
		errResp := storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.Member{
		UserId:   m.UserId,
		Role:     m.Role,
		JoinedAt: m.JoinedAt,
	})
}

func (s *ParleyApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(id)
	if err != nil {
		errResp := storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		CreatedAt:    user.CreatedAt,
	}, conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
