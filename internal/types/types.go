package types

import (
	"time"
)

const (
	RoomTypeDirect = "direct"
	RoomTypeGroup  = "group"

	RoleOwner  = "owner"
	RoleMember = "member"

	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

type User struct {
	Id           int64     `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

type Room struct {
	ExternalId    string     `json:"id"`
	Type          string     `json:"type"`
	Name          string     `json:"name,omitempty"`
	CreatedBy     int64      `json:"created_by"`
	Members       []Member   `json:"members,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type Member struct {
	UserId            int64     `json:"user_id"`
	Username          string    `json:"username,omitempty"`
	Role              string    `json:"role"`
	LastReadMessageId *int64    `json:"last_read_message_id,omitempty"`
	JoinedAt          time.Time `json:"joined_at"`
}

type Message struct {
	Id        int64     `json:"id"`
	RoomId    string    `json:"room_id"`
	SenderId  int64     `json:"sender_id"`
	Body      string    `json:"body"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// MessagePage is one page of a room's history, newest first.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

func ValidRoomType(t string) bool {
	return t == RoomTypeDirect || t == RoomTypeGroup
}

func ValidMessageType(t string) bool {
	return t == MessageTypeText || t == MessageTypeImage || t == MessageTypeFile
}
