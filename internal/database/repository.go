package database

// Repository is the storage contract for the room directory and the
// message store. Callers are expected to have authenticated the user;
// membership checks are explicit operations so the write path and the
// authorization gate stay independently testable.
type Repository interface {
	Ping() error

	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int64) (User, error)
	GetAccountByEmail(email string) (User, error)

	CreateRoom(params CreateRoomParams) (Room, error)
	GetRoomByExternalId(externalId string) (Room, error)
	RoomMembers(roomId int64) ([]Membership, error)
	IsMember(roomId, accountId int64) bool
	AddMember(roomId, accountId int64, role string) (Membership, error)
	ListRooms(accountId int64, limit, offset int) ([]Room, error)
	UpdateLastRead(roomId, accountId, messageId int64) error

	// CreateMessage appends a message to the room's log. When the params
	// carry a non-empty ClientMsgId and a message with the same
	// (room, sender, client_msg_id) already exists, the existing message
	// is returned and created is false.
	CreateMessage(params CreateMessageParams) (msg Message, created bool, err error)
	// ListMessages returns one history page, newest first by
	// (created_at, id), and the room's total message count.
	ListMessages(roomId int64, limit, offset int) ([]Message, int, error)
}
