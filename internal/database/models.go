package database

import (
	"database/sql"
	"time"
)

type User struct {
	Id           int64
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
}

type Room struct {
	Id            int64
	ExternalId    string
	Type          string
	Name          string
	CreatedBy     int64
	LastMessageAt sql.NullTime
	CreatedAt     time.Time
	Members       []Membership
}

type Membership struct {
	Id                int64
	RoomId            int64
	UserId            int64
	Username          string
	Role              string
	LastReadMessageId sql.NullInt64
	JoinedAt          time.Time
}

type Message struct {
	Id          int64
	RoomId      int64
	SenderId    int64
	Body        string
	Type        string
	ClientMsgId string
	CreatedAt   time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateRoomParams struct {
	ExternalId string
	Type       string
	Name       string
	CreatedBy  int64
	// PeerId is the second member of a direct room, added in the same
	// transaction as the room and the owner membership.
	PeerId int64
}

type CreateMessageParams struct {
	RoomId      int64
	SenderId    int64
	Body        string
	Type        string
	ClientMsgId string
}
